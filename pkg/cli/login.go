package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beam-cloud/conceptstore/pkg/gateway"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a GitHub token for later commands",
	Long: `Verify a GitHub token against the gateway and store it.

Your credentials are stored in ~/.conceptstore/credentials.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if authToken == "" {
			return fmt.Errorf("pass the token with --token or CONCEPTSTORE_TOKEN")
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		user, err := gateway.NewGatewayClient(gatewayAddr, authToken).User(ctx)
		if err != nil {
			return err
		}
		if err := saveCredentials(authToken, user.Login); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}

		if PrintJSON(user) {
			return nil
		}
		PrintSuccessWithValue("Logged in as", user.Login)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the GitHub account behind the current token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		user, err := getClient().User(ctx)
		if err != nil {
			return err
		}
		if PrintJSON(user) {
			return nil
		}
		PrintKeyValue("Login", user.Login)
		if user.Name != "" {
			PrintKeyValue("Name", user.Name)
		}
		if user.Email != "" {
			PrintKeyValue("Email", user.Email)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(whoamiCmd)
}
