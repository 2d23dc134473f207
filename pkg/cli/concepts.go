package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/beam-cloud/conceptstore/pkg/gateway/services"
)

var (
	writeSha       string
	writeUpdate    bool
	writeIndexName string
	writeMessage   string
)

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Print a concept object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := repoRef()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		obj, err := getClient().GetConcept(ctx, ref, args[0])
		if err != nil {
			return err
		}
		if PrintJSON(obj) {
			return nil
		}

		PrintKeyValue("Path", CodeStyle.Render(obj.Path))
		PrintKeyValue("Sha", obj.Revision)
		fmt.Fprintln(stdout)
		if len(obj.Content) > 0 {
			fmt.Fprintln(stdout, indentJSON(obj.Content))
		} else {
			fmt.Fprintln(stdout, obj.Raw)
		}
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <path> [file]",
	Short: "Add or update a concept object and its directory index",
	Long: `Add or update a concept object and its directory index.

Content is read from the file argument, or stdin when omitted. Without
--sha or --update the object must not exist yet.`,
	Example: `  conceptctl put people/ada.json ada.json
  conceptctl put people/ada.json --sha 3f2a9c1 < ada.json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := repoRef()
		if err != nil {
			return err
		}
		body, err := readInput(args[1:])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		client := getClient()
		opts := writeOptions()

		var res *services.ObjectResult
		if writeSha != "" || writeUpdate {
			res, err = client.UpdateConcept(ctx, ref, args[0], body, writeSha, opts)
		} else {
			res, err = client.AddConcept(ctx, ref, args[0], body, opts)
		}
		if err != nil {
			return err
		}
		printObjectResult("Stored", res)
		return nil
	},
}

var newCmd = &cobra.Command{
	Use:   "new <dir> [file]",
	Short: "Create a concept object under a freshly allocated key",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := repoRef()
		if err != nil {
			return err
		}
		body, err := readInput(args[1:])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := getClient().CreateConcept(ctx, ref, args[0], body, writeOptions())
		if err != nil {
			return err
		}
		printObjectResult("Created", res)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a concept object and drop it from its directory index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := repoRef()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := getClient().DeleteConcept(ctx, ref, args[0], writeSha, writeOptions())
		if err != nil {
			return err
		}
		printObjectResult("Deleted", res)
		return nil
	},
}

func writeOptions() services.WriteOptions {
	return services.WriteOptions{IndexName: writeIndexName, Message: writeMessage}
}

func readInput(args []string) ([]byte, error) {
	if len(args) > 0 && args[0] != "-" {
		return os.ReadFile(args[0])
	}
	return io.ReadAll(os.Stdin)
}

func printObjectResult(verb string, res *services.ObjectResult) {
	if PrintJSON(res) {
		return
	}

	PrintSuccessWithValue(verb+" "+res.Path, ShortSha(res.Revision))
	if res.Key != "" {
		PrintKeyValue("Key", ConceptKeyStyle.Render(res.Key))
	}
	if res.ObjectType != "" {
		PrintKeyValue("Type", TypeStyle.Render(res.ObjectType))
	}
	if res.Index != nil {
		state := "unchanged"
		if res.Index.Changed {
			state = ShortSha(res.Index.Revision)
		}
		PrintKeyValue("Index", res.Index.IndexPath+" "+DimStyle.Render(state))
	}
}

func init() {
	for _, cmd := range []*cobra.Command{putCmd, newCmd, rmCmd} {
		cmd.Flags().StringVar(&writeIndexName, "index-name", "", "Index file to maintain (default index)")
		cmd.Flags().StringVarP(&writeMessage, "message", "m", "", "Commit message")
	}
	putCmd.Flags().StringVar(&writeSha, "sha", "", "Revision the update is based on")
	putCmd.Flags().BoolVar(&writeUpdate, "update", false, "Update the current revision without --sha")
	rmCmd.Flags().StringVar(&writeSha, "sha", "", "Revision being deleted")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(rmCmd)
}
