package cmd

import (
	"context"

	"github.com/habedi/dealgate/auth"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// loginCmd runs the authorization code flow: it prints the authorization URL
// (or opens a browser with --browser), accepts the redirect URL the provider
// sends back, and exchanges the authorization code for a token.
func loginCmd() *cobra.Command {
	var useBrowser bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize access to the dealer API",
		Long: "Authorize access to the dealer API using the OAuth2 authorization code flow.\n" +
			"Visit the printed URL, sign in, and paste the full redirect URL back here.",
		Run: func(cmd *cobra.Command, args []string) {
			creds, err := loadConfig(cmd)
			if err != nil {
				cmd.PrintErrln("Error:", err)
				cmd.PrintErrln("Run 'dealgate init' first to configure the OAuth client.")
				return
			}

			ctx := context.Background()
			flow := buildFlow(creds)

			authURL, err := flow.BeginAuthorization(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to begin authorization")
				cmd.PrintErrln("Error: Failed to begin the authorization flow.")
				return
			}

			var callbackURL string
			if useBrowser {
				cmd.Println("Opening a browser window; sign in to the dealer portal there.")
				callbackURL, err = auth.CaptureRedirect(ctx, authURL, creds.RedirectURI)
				if err != nil {
					log.Error().Err(err).Msg("Browser capture failed")
					cmd.PrintErrln("Error: Could not capture the redirect from the browser.")
					cmd.PrintErrln("Re-run without --browser and paste the redirect URL manually.")
					return
				}
			} else {
				cmd.Println("Open the following URL in your browser and sign in:")
				cmd.Println()
				cmd.Println("  " + authURL)
				cmd.Println()
				callbackURL = promptForInput("Paste the full redirect URL here: ")
			}

			token, err := flow.HandleCallback(ctx, callbackURL)
			if err != nil {
				printCallbackError(cmd, err)
				return
			}

			cmd.Println("Authorization was successful.")
			cmd.Println("Access token valid until:", token.ExpiresAt)
		},
	}

	cmd.Flags().BoolVarP(&useBrowser, "browser", "b", false, "Open a browser window and capture the redirect automatically")

	return cmd
}

// printCallbackError maps the auth error taxonomy to user-facing messages.
func printCallbackError(cmd *cobra.Command, err error) {
	cmd.PrintErrln("Error:", classifyAuthError(err).Message)
}
