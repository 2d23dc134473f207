package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

type errorHelp struct {
	err         error
	message     string
	suggestions []string
}

// errorHelps maps gateway sentinels to friendly text, checked in order
var errorHelps = []errorHelp{
	{
		err:     types.ErrUnauthorized,
		message: "Authentication failed - invalid or missing GitHub token",
		suggestions: []string{
			"Pass a token: " + CodeStyle.Render("--token <token>"),
			"Or store one with " + CodeStyle.Render("conceptctl login --token <token>"),
		},
	},
	{
		err:     types.ErrForbidden,
		message: "Access denied - the token cannot write to this repository",
		suggestions: []string{
			"Check the token has the " + CodeStyle.Render("repo") + " scope",
		},
	},
	{err: types.ErrNotFound, message: "Not found"},
	{
		err:     types.ErrConflict,
		message: "Revision conflict - the file changed since it was read",
		suggestions: []string{
			"Fetch the current sha with " + CodeStyle.Render("conceptctl get <path>") + " and retry",
		},
	},
	{
		err:         types.ErrRateLimited,
		message:     "Rate limit exceeded",
		suggestions: []string{"Wait a few minutes before retrying"},
	},
	{err: types.ErrMalformedPayload, message: "Invalid request"},
	{
		err:     context.DeadlineExceeded,
		message: "Request timed out",
		suggestions: []string{
			"Rebuilds of large directories can take a while; try a smaller " + CodeStyle.Render("--dir"),
		},
	},
}

func lookupHelp(err error) *errorHelp {
	for i := range errorHelps {
		if errors.Is(err, errorHelps[i].err) {
			return &errorHelps[i]
		}
	}
	return nil
}

// FormatError converts an error into a human-readable line
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	detail := cleanErrorMessage(err.Error())
	if h := lookupHelp(err); h != nil {
		// The sentinel text leads the wrapped message; drop it
		detail = strings.TrimPrefix(detail, h.err.Error())
		detail = strings.TrimLeft(detail, ": ")
		if detail != "" && !strings.EqualFold(detail, h.message) {
			return fmt.Sprintf("%s (%s)", h.message, detail)
		}
		return h.message
	}

	var remote *types.RemoteError
	if errors.As(err, &remote) {
		return fmt.Sprintf("Gateway error %d: %s", remote.Status, remote.Message)
	}
	return detail
}

func GetErrorSuggestions(err error) []string {
	if h := lookupHelp(err); h != nil {
		return h.suggestions
	}
	var remote *types.RemoteError
	if errors.As(err, &remote) {
		return []string{
			"Check that the gateway is running",
			"Verify the gateway address: " + CodeStyle.Render("--gateway <addr>"),
		}
	}
	return nil
}

func cleanErrorMessage(msg string) string {
	msg = strings.TrimPrefix(msg, "error: ")
	msg = strings.TrimPrefix(msg, "Error: ")

	// Deeply wrapped errors keep only the outermost and innermost parts
	if parts := strings.Split(msg, ": "); len(parts) > 3 {
		msg = parts[0] + ": " + parts[len(parts)-1]
	}
	return msg
}

// PrintFormattedError prints an error with styling and any suggestions
func PrintFormattedError(title string, err error) {
	fmt.Fprintln(stdout)
	PrintErrorMsg(title)

	if err != nil {
		fmt.Fprintf(stdout, "  %s\n", DimStyle.Render(FormatError(err)))
		if suggestions := GetErrorSuggestions(err); len(suggestions) > 0 {
			PrintSuggestions("Suggestions:", suggestions)
		}
	}
	fmt.Fprintln(stdout)
}
