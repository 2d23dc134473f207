package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

var (
	// outputJSON switches commands from styled text to raw JSON
	outputJSON bool

	stdout io.Writer = os.Stdout
)

func SetJSONOutput(enabled bool) {
	outputJSON = enabled
}

func IsJSONOutput() bool {
	return outputJSON
}

// SetOutput redirects everything the CLI prints
func SetOutput(w io.Writer) {
	stdout = w
}

// PrintJSON writes data as indented JSON when JSON mode is on and reports
// whether it did
func PrintJSON(data any) bool {
	if !outputJSON {
		return false
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
	return true
}

func PrintSuccess(msg string) {
	fmt.Fprintf(stdout, "  %s %s\n", SuccessStyle.Render(SymbolSuccess), msg)
}

func PrintSuccessWithValue(msg, value string) {
	fmt.Fprintf(stdout, "  %s %-32s %s\n", SuccessStyle.Render(SymbolSuccess), msg, DimStyle.Render(value))
}

func PrintError(err error) {
	PrintErrorMsg(FormatError(err))
}

func PrintErrorMsg(msg string) {
	fmt.Fprintf(stdout, "  %s %s\n", ErrorStyle.Render(SymbolError), ErrorStyle.Render(msg))
}

func PrintWarning(msg string) {
	fmt.Fprintf(stdout, "  %s %s\n", WarningStyle.Render(SymbolWarning), WarningStyle.Render(msg))
}

func PrintInfo(msg string) {
	fmt.Fprintf(stdout, "  %s %s\n", InfoStyle.Render(SymbolInfo), msg)
}

func PrintSuggestions(title string, suggestions []string) {
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  %s\n", DimStyle.Render(title))
	for _, s := range suggestions {
		fmt.Fprintf(stdout, "    %s %s\n", DimStyle.Render(SymbolBullet), s)
	}
}

func PrintHeader(title string) {
	fmt.Fprintf(stdout, "\n  %s\n\n", BoldStyle.Render(title))
}

// PrintKeyValue prints a key-value pair with aligned keys
func PrintKeyValue(key, value string) {
	fmt.Fprintf(stdout, "  %s %s\n", KeyStyle.Render(key), value)
}

// PrintCounts prints a type histogram, largest first
func PrintCounts(counts map[string]int) {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})

	for _, t := range types {
		label := t
		if label == "" {
			label = "(untyped)"
		}
		fmt.Fprintf(stdout, "    %s %s\n", TypeStyle.Render(fmt.Sprintf("%-24s", label)), DimStyle.Render(fmt.Sprint(counts[t])))
	}
}

// Table is a column-aligned listing
type Table struct {
	Headers []string
	Rows    [][]string
	Widths  []int
}

func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{Headers: headers, Widths: widths}
}

// AddRow pads or truncates cells to the header count
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.Headers))
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
			if len(cells[i]) > t.Widths[i] {
				t.Widths[i] = len(cells[i])
			}
		}
	}
	t.Rows = append(t.Rows, row)
}

func (t *Table) Print() {
	if len(t.Rows) == 0 {
		return
	}

	fmt.Fprint(stdout, "  ")
	for i, h := range t.Headers {
		fmt.Fprint(stdout, TableHeaderStyle.Width(t.Widths[i]+2).Render(h))
	}
	fmt.Fprintln(stdout)

	fmt.Fprint(stdout, "  ")
	for i := range t.Headers {
		fmt.Fprint(stdout, DimStyle.Render(strings.Repeat("─", t.Widths[i])), "  ")
	}
	fmt.Fprintln(stdout)

	for _, row := range t.Rows {
		fmt.Fprint(stdout, "  ")
		for i, cell := range row {
			fmt.Fprint(stdout, TableCellStyle.Width(t.Widths[i]+2).Render(cell))
		}
		fmt.Fprintln(stdout)
	}
}

// FormatRelativeTime renders t as "2 hours ago" style text
func FormatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	d := time.Since(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}

	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	case d < 30*24*time.Hour:
		return plural(int(d.Hours()/24/7), "week")
	default:
		return t.Format("Jan 2, 2006")
	}
}

// Truncate shortens s to maxLen, ending in "..." when cut
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// ShortSha trims a revision for display
func ShortSha(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
