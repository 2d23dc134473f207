package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beam-cloud/conceptstore/pkg/index"
)

var (
	indexName    string
	lookupKey    string
	lookupType   string
	rebuildLimit int
	searchScope  string
	bootstrapCfg bool
)

var indexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Show a directory index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := repoRef()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := getClient().GetIndex(ctx, ref, firstArg(args), indexName)
		if err != nil {
			return err
		}
		if PrintJSON(res) {
			return nil
		}

		PrintKeyValue("Index", CodeStyle.Render(res.Path))
		PrintKeyValue("Sha", res.Revision)
		PrintKeyValue("Format", res.Format)
		if res.Index == nil {
			return nil
		}
		PrintKeyValue("Files", fmt.Sprint(len(res.Index.Files)))
		PrintKeyValue("Updated", FormatRelativeTime(res.Index.Metadata.LastUpdated))

		names := make([]string, 0, len(res.Index.Files))
		for name := range res.Index.Files {
			names = append(names, name)
		}
		sort.Strings(names)

		table := NewTable("FILE", "KEY", "TYPE")
		for _, name := range names {
			entry := res.Index.Files[name]
			table.AddRow(name, entry.Key, entry.ObjectType)
		}
		fmt.Fprintln(stdout)
		table.Print()
		return nil
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup [dir]",
	Short: "Find files in a directory by key and/or object type",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := repoRef()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := getClient().Lookup(ctx, ref, firstArg(args), indexName, lookupKey, lookupType)
		if err != nil {
			return err
		}
		if PrintJSON(res) {
			return nil
		}

		if len(res.Files) == 0 {
			PrintInfo("No matching files in " + res.IndexPath)
			return nil
		}
		for _, f := range res.Files {
			fmt.Fprintf(stdout, "  %s\n", f)
		}
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [dir]",
	Short: "Rebuild a directory index from the files in the tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := repoRef()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		report, err := getClient().Rebuild(ctx, ref, index.RebuildRequest{
			Ref:       ref.Branch,
			Dir:       firstArg(args),
			IndexName: indexName,
		})
		if err != nil {
			return err
		}
		if PrintJSON(report) {
			return nil
		}

		PrintSuccessWithValue("Rebuilt "+report.IndexPath, ShortSha(report.Revision))
		PrintKeyValue("Files", fmt.Sprint(report.FilesProcessed))
		if len(report.ByTypeCounts) > 0 {
			PrintKeyValue("Types", "")
			PrintCounts(report.ByTypeCounts)
		}
		if len(report.Errors) > 0 {
			fmt.Fprintln(stdout)
			PrintWarning(fmt.Sprintf("%d files could not be indexed", len(report.Errors)))
			for _, fe := range report.Errors {
				fmt.Fprintf(stdout, "    %s %s %s\n", DimStyle.Render(SymbolBullet), fe.File, DimStyle.Render(fe.Error))
			}
		}
		return nil
	},
}

var rebuildsCmd = &cobra.Command{
	Use:   "rebuilds",
	Short: "List recent index rebuilds for the repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := repoRef()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		runs, err := getClient().ListRebuilds(ctx, ref, rebuildLimit)
		if err != nil {
			return err
		}
		if PrintJSON(runs) {
			return nil
		}
		if len(runs) == 0 {
			PrintInfo("No rebuilds recorded")
			return nil
		}

		table := NewTable("INDEX", "FILES", "ERRORS", "BY", "STARTED")
		for _, run := range runs {
			table.AddRow(run.IndexPath, fmt.Sprint(run.FilesProcessed), fmt.Sprint(run.ErrorCount),
				run.RequestedBy, FormatRelativeTime(run.StartedAt))
		}
		table.Print()
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search file contents in the repository",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := repoRef()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := getClient().Search(ctx, ref, strings.Join(args, " "), searchScope)
		if err != nil {
			return err
		}
		if PrintJSON(res) {
			return nil
		}

		PrintInfo(fmt.Sprintf("%d matches", res.TotalCount))
		for _, item := range res.Items {
			fmt.Fprintf(stdout, "    %s %s\n", DimStyle.Render(SymbolBullet), item.Path)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the repository's concept configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := repoRef()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		res, err := getClient().GetConfig(ctx, ref, bootstrapCfg)
		if err != nil {
			return err
		}
		if PrintJSON(res) {
			return nil
		}

		PrintKeyValue("Path", CodeStyle.Render(res.Path))
		if res.Bootstrapped {
			PrintKeyValue("Source", HintStyle.Render("built-in default"))
		} else {
			PrintKeyValue("Sha", res.Revision)
		}
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, indentJSON(res.Config))
		return nil
	},
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func indentJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func init() {
	for _, cmd := range []*cobra.Command{indexCmd, lookupCmd, rebuildCmd} {
		cmd.Flags().StringVar(&indexName, "name", "", "Index file name (default index)")
	}
	lookupCmd.Flags().StringVar(&lookupKey, "key", "", "Concept key")
	lookupCmd.Flags().StringVar(&lookupType, "type", "", "Object type")
	rebuildsCmd.Flags().IntVar(&rebuildLimit, "limit", 20, "Maximum runs to list")
	searchCmd.Flags().StringVar(&searchScope, "scope", "", "Path prefix to search under")
	configCmd.Flags().BoolVar(&bootstrapCfg, "bootstrap", false, "Write the default config when none exists")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(rebuildsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(configCmd)
}
