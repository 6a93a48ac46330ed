package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/habedi/dealgate/auth"
	"github.com/habedi/dealgate/client"
	"github.com/habedi/dealgate/config"
	"github.com/habedi/dealgate/db"
	"github.com/habedi/dealgate/pkg/clierr"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// loadConfig reads the configuration honoring the global --config flag.
func loadConfig(cmd *cobra.Command) (*config.Credentials, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// buildFlow wires a flow coordinator from the configuration and the database.
func buildFlow(creds *config.Credentials) *auth.Flow {
	tokens := auth.NewRepositoryTokenStorer(db.NewTokenRepository(db.Db), creds.ProviderKey)
	states := auth.NewRepositoryStateStorer(db.NewStateRepository(db.Db), creds.ProviderKey)
	return auth.NewFlow(creds, tokens, states, nil)
}

// buildManager wires a lifecycle manager on top of a flow coordinator.
func buildManager(creds *config.Credentials, flow *auth.Flow) *auth.Manager {
	tokens := auth.NewRepositoryTokenStorer(db.NewTokenRepository(db.Db), creds.ProviderKey)
	return auth.NewManager(tokens, flow, creds.ExpirySkew())
}

// buildExecutor wires the resilient request executor for the given base URL.
func buildExecutor(baseURL string, manager *auth.Manager) *client.Executor {
	return client.NewExecutor(baseURL, manager, nil)
}

// classifyAuthError folds the auth error taxonomy into a user-facing CLI error.
func classifyAuthError(err error) *clierr.Error {
	var cfgErr *config.ConfigurationError
	var csrfErr *auth.CsrfError
	var cbErr *auth.CallbackError
	var transportErr *auth.TransportError
	var providerErr *auth.ProviderError

	switch {
	case errors.As(err, &cfgErr):
		return clierr.New(clierr.Validation, cfgErr.Error(), err)
	case errors.As(err, &csrfErr):
		return clierr.New(clierr.Validation,
			csrfErr.Error()+". Please run 'dealgate login' again.", err)
	case errors.As(err, &cbErr):
		return clierr.New(clierr.Auth, cbErr.Error(), err)
	case errors.Is(err, auth.ErrReauthenticationRequired):
		return clierr.New(clierr.Auth,
			"The stored token cannot be used. Please run 'dealgate login' again.", err)
	case errors.As(err, &transportErr):
		return clierr.New(clierr.Network,
			"Network problem while contacting the token endpoint. Please try again.", err)
	case errors.As(err, &providerErr):
		return clierr.New(clierr.Auth, providerErr.Error(), err)
	default:
		return clierr.New(clierr.Internal, err.Error(), err)
	}
}

// promptForInput prompts the user for input and returns the trimmed string.
func promptForInput(prompt string) string {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print(prompt)
	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println("Error: Failed to read input.")
		os.Exit(1)
	}
	return strings.TrimSpace(input)
}

// promptForSecret prompts the user for a secret without echoing it and
// returns the trimmed string.
func promptForSecret(prompt string) string {
	fmt.Print(prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Println("Error: Failed to read secret.")
		os.Exit(1)
	}
	fmt.Println() // Print a newline for better formatting
	return strings.TrimSpace(string(secret))
}
