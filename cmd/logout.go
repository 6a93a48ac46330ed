package cmd

import (
	"context"

	"github.com/habedi/dealgate/auth"
	"github.com/habedi/dealgate/db"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// logoutCmd clears the stored token and any pending authorization state.
// It is safe to run repeatedly.
func logoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored credentials",
		Run: func(cmd *cobra.Command, args []string) {
			creds, err := loadConfig(cmd)
			if err != nil {
				cmd.PrintErrln("Error:", err)
				return
			}

			ctx := context.Background()
			manager := buildManager(creds, buildFlow(creds))
			manager.Clear(ctx)

			states := auth.NewRepositoryStateStorer(db.NewStateRepository(db.Db), creds.ProviderKey)
			if err := states.DeleteAuthState(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to delete pending authorization state")
			}

			cmd.Println("Stored credentials cleared.")
		},
	}

	return cmd
}
