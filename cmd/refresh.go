package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// refreshCmd forces a token refresh regardless of the local expiry judgment.
func refreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force a refresh of the stored access token",
		Run: func(cmd *cobra.Command, args []string) {
			creds, err := loadConfig(cmd)
			if err != nil {
				cmd.PrintErrln("Error:", err)
				return
			}

			ctx := context.Background()
			manager := buildManager(creds, buildFlow(creds))

			if _, err := manager.ForceRefresh(ctx); err != nil {
				cmd.PrintErrln("Error:", classifyAuthError(err).Message)
				return
			}

			record := manager.CurrentRecord(ctx)
			cmd.Println("Token refreshed successfully.")
			if record != nil {
				cmd.Println("Access token valid until:", record.ExpiresAt)
			}
		},
	}

	return cmd
}
