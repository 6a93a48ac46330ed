package cmd

import (
	"context"
	"os"
	"time"

	"github.com/habedi/dealgate/db"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// statusCmd lists the stored credentials per provider with their expiry.
func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored credentials and their expiry",
		Run: func(cmd *cobra.Command, args []string) {
			repo := db.NewTokenRepository(db.Db)
			tokens, err := repo.List(context.Background())
			if err != nil {
				log.Error().Err(err).Msg("Failed to list stored tokens")
				cmd.PrintErrln("Error: Failed to read stored credentials.")
				return
			}

			if len(tokens) == 0 {
				cmd.Println("No stored credentials. Run 'dealgate login' to authorize.")
				return
			}

			printTokenTable(tokens)
		},
	}

	return cmd
}

// printTokenTable renders the stored tokens as a table in the terminal.
func printTokenTable(tokens []db.Token) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Provider", "Token Type", "Scope", "Refresh Token", "Expires At", "State"})

	// Table appearance settings
	table.SetAlignment(tablewriter.ALIGN_LEFT)       // Align all columns to the left
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT) // Align headers to the left
	table.SetAutoWrapText(false)                     // Disable text wrapping in all columns
	table.SetRowLine(false)                          // Disable row line breaks

	for _, token := range tokens {
		table.Append([]string{
			token.ProviderKey,
			token.TokenType,
			token.Scope,
			yesNo(token.RefreshToken != ""),
			token.ExpiresAt,
			expiryState(&token),
		})
	}

	table.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// expiryState summarizes whether a stored token is still usable.
func expiryState(token *db.Token) string {
	if token.AccessToken == "" || token.ExpiresAt == "" {
		return "invalid"
	}
	expiresAt, err := token.ExpiresAtTime()
	if err != nil {
		return "invalid"
	}
	if time.Now().After(expiresAt) {
		return "expired"
	}
	return "valid"
}
