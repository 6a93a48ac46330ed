package cmd

import (
	"strings"

	"github.com/habedi/dealgate/config"
	"github.com/spf13/cobra"
)

// initCmd initializes dealgate for first-time use by writing the
// configuration file with the OAuth client credentials.
func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize dealgate for first-time use",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("Please enter the OAuth client details for the dealer API.")

			creds := &config.Credentials{
				ProviderKey:  config.DefaultProviderKey,
				ClientID:     promptForInput("Client ID: "),
				ClientSecret: promptForSecret("Client secret: "),
				AuthURL:      promptForInput("Authorization endpoint URL: "),
				TokenURL:     promptForInput("Token endpoint URL: "),
			}

			if redirect := promptForInput("Redirect URI [" + config.DefaultRedirectURI + "]: "); redirect != "" {
				creds.RedirectURI = redirect
			} else {
				creds.RedirectURI = config.DefaultRedirectURI
			}
			if scopes := promptForInput("Scopes (space-separated, e.g. \"offline_access ag1 eq1\"): "); scopes != "" {
				creds.Scopes = splitScopes(scopes)
			}
			if dealerID := promptForInput("Dealer ID (optional): "); dealerID != "" {
				creds.DealerID = dealerID
			}
			if account := promptForInput("Dealer account number (optional): "); account != "" {
				creds.DealerAccountNumber = account
			}

			if err := creds.Validate(); err != nil {
				cmd.PrintErrln("Error:", err)
				return
			}

			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.DefaultPath()
			}
			if err := config.Save(path, creds); err != nil {
				cmd.PrintErrln("Error: Failed to save the configuration.")
				return
			}
			cmd.Println("Configuration saved to", path)
			cmd.Println("Run 'dealgate login' to authorize access to the dealer API.")
		},
	}

	return cmd
}

// splitScopes splits a scope list on spaces or commas.
func splitScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
}
