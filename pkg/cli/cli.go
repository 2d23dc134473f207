package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/beam-cloud/conceptstore/pkg/gateway"
)

// Build information (injected at compile time via ldflags)
var (
	Version = "dev"
)

const (
	defaultGatewayAddr = "http://localhost:1994"
	defaultTimeout     = 2 * time.Minute
)

var (
	gatewayAddr string
	authToken   string
	owner       string
	repo        string
	branch      string
	jsonOutput  bool
	timeout     time.Duration
)

var helpTemplate = `{{with .Long}}{{. | trim}}

{{end}}{{if .HasAvailableSubCommands}}` + `{{.CommandPath}}` + ` ` + `<command>` + `

{{end}}{{if .HasAvailableSubCommands}}Commands:
{{range .Commands}}{{if .IsAvailableCommand}}  {{rpad .Name .NamePadding }}  {{.Short}}
{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}
Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}
`

var rootCmd = &cobra.Command{
	Use:   "conceptctl",
	Short: "Concept objects and directory indexes in a GitHub repository",
	Long: lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true).Render("conceptctl") + ` - Concept objects and directory indexes in a GitHub repository

Read and write JSON concept objects through the conceptstore gateway,
which keeps every directory's index.json consistent with its files.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		SetJSONOutput(jsonOutput)

		if authToken == "" {
			authToken = LoadCredentials()
		}
	},
}

func init() {
	rootCmd.SetHelpTemplate(helpTemplate)
	rootCmd.SetVersionTemplate(fmt.Sprintf("  %s version %s\n", BrandStyle.Render("conceptctl"), Version))

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&gatewayAddr, "gateway", getEnv("CONCEPTSTORE_GATEWAY", defaultGatewayAddr), "Gateway HTTP address")
	flags.StringVar(&authToken, "token", getEnv("CONCEPTSTORE_TOKEN", ""), "GitHub token")
	flags.StringVar(&owner, "owner", getEnv("CONCEPTSTORE_OWNER", ""), "Repository owner")
	flags.StringVar(&repo, "repo", getEnv("CONCEPTSTORE_REPO", ""), "Repository name")
	flags.StringVar(&branch, "branch", "", "Branch (defaults to the repository default)")
	flags.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flags.DurationVar(&timeout, "timeout", defaultTimeout, "Request timeout")
}

// Execute runs the CLI
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !IsJSONOutput() {
		PrintFormattedError("Command failed", err)
	}
	return err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getClient() *gateway.GatewayClient {
	return gateway.NewGatewayClient(gatewayAddr, authToken)
}

func repoRef() (gateway.RepoRef, error) {
	if owner == "" || repo == "" {
		return gateway.RepoRef{}, fmt.Errorf("--owner and --repo are required (or CONCEPTSTORE_OWNER and CONCEPTSTORE_REPO)")
	}
	return gateway.RepoRef{Owner: owner, Repo: repo, Branch: branch}, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func credPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".conceptstore", "credentials")
}

// LoadCredentials returns the stored token, or empty string if not found
func LoadCredentials() string {
	data, err := os.ReadFile(credPath())
	if err != nil {
		return ""
	}
	var creds map[string]string
	if json.Unmarshal(data, &creds) != nil {
		return ""
	}
	return creds["token"]
}

func saveCredentials(token, login string) error {
	path := credPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(map[string]string{"token": token, "login": login}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
