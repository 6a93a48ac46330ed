// Package config loads and validates the OAuth client configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults used when the configuration file or environment leave a field unset.
const (
	DefaultProviderKey = "deere"
	DefaultRedirectURI = "http://localhost:9090/callback"

	// DefaultExpiresIn is used when the token endpoint omits expires_in.
	// Kept configurable because the provider's behavior cannot be relied on.
	DefaultExpiresIn = 3600 * time.Second

	// DefaultExpirySkew is the safety margin subtracted from a token's expiry
	// so it is refreshed before the provider actually rejects it.
	DefaultExpirySkew = 60 * time.Second
)

// ConfigurationError reports a missing or invalid configuration value.
// It is fatal at startup and never retried.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// Credentials holds the immutable OAuth client configuration for one provider.
// It is loaded once at startup and never mutated afterwards.
type Credentials struct {
	ProviderKey  string   `json:"provider_key,omitempty"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURI  string   `json:"redirect_uri,omitempty"`
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes,omitempty"`

	// Dealer identity forwarded to the token endpoint when present.
	DealerID            string `json:"dealer_id,omitempty"`
	DealerAccountNumber string `json:"dealer_account_number,omitempty"`

	// DefaultExpiresInSeconds overrides the fallback expiry applied when the
	// token endpoint omits expires_in.
	DefaultExpiresInSeconds int64 `json:"default_expires_in,omitempty"`

	// ExpirySkewSeconds overrides the proactive-refresh safety margin.
	ExpirySkewSeconds int64 `json:"expiry_skew,omitempty"`
}

// DefaultExpiry returns the fallback token lifetime.
func (c *Credentials) DefaultExpiry() time.Duration {
	if c.DefaultExpiresInSeconds > 0 {
		return time.Duration(c.DefaultExpiresInSeconds) * time.Second
	}
	return DefaultExpiresIn
}

// ExpirySkew returns the proactive-refresh safety margin.
func (c *Credentials) ExpirySkew() time.Duration {
	if c.ExpirySkewSeconds > 0 {
		return time.Duration(c.ExpirySkewSeconds) * time.Second
	}
	return DefaultExpirySkew
}

// Validate checks that the fields required to run the OAuth flow are present.
func (c *Credentials) Validate() error {
	if c.ClientID == "" {
		return &ConfigurationError{Field: "client_id", Message: "must not be empty"}
	}
	if c.ClientSecret == "" {
		return &ConfigurationError{Field: "client_secret", Message: "must not be empty"}
	}
	if c.RedirectURI == "" {
		return &ConfigurationError{Field: "redirect_uri", Message: "must not be empty"}
	}
	if c.AuthURL == "" {
		return &ConfigurationError{Field: "auth_url", Message: "must not be empty"}
	}
	if c.TokenURL == "" {
		return &ConfigurationError{Field: "token_url", Message: "must not be empty"}
	}
	return nil
}

// Dir returns the application data directory (~/.dealgate).
func Dir() string {
	return filepath.Join(os.Getenv("HOME"), ".dealgate")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "dealgate.json")
}

// searchPaths lists the locations probed by Load when no explicit path is given.
func searchPaths() []string {
	return []string{
		"dealgate.json",
		filepath.Join("config", "dealgate.json"),
		DefaultPath(),
	}
}

// Load reads the configuration from the given path, or from the first file
// found in the standard locations when path is empty. Environment variables
// override file values. The returned credentials are validated.
func Load(path string) (*Credentials, error) {
	creds := &Credentials{}

	if path != "" {
		if err := readFile(path, creds); err != nil {
			return nil, err
		}
	} else {
		for _, p := range searchPaths() {
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if err := readFile(p, creds); err != nil {
				return nil, err
			}
			log.Info().Str("path", p).Msg("Loaded configuration file")
			break
		}
	}

	applyEnv(creds)

	if creds.ProviderKey == "" {
		creds.ProviderKey = DefaultProviderKey
	}
	if creds.RedirectURI == "" {
		creds.RedirectURI = DefaultRedirectURI
	}

	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

// readFile parses a JSON configuration file into creds.
func readFile(path string, creds *Credentials) error {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to read configuration file")
		return fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, creds); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to parse configuration file")
		return fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides file values with DEALGATE_* environment variables.
func applyEnv(creds *Credentials) {
	if v := os.Getenv("DEALGATE_PROVIDER_KEY"); v != "" {
		creds.ProviderKey = v
	}
	if v := os.Getenv("DEALGATE_CLIENT_ID"); v != "" {
		creds.ClientID = v
	}
	if v := os.Getenv("DEALGATE_CLIENT_SECRET"); v != "" {
		creds.ClientSecret = v
	}
	if v := os.Getenv("DEALGATE_REDIRECT_URI"); v != "" {
		creds.RedirectURI = v
	}
	if v := os.Getenv("DEALGATE_AUTH_URL"); v != "" {
		creds.AuthURL = v
	}
	if v := os.Getenv("DEALGATE_TOKEN_URL"); v != "" {
		creds.TokenURL = v
	}
	if v := os.Getenv("DEALGATE_SCOPES"); v != "" {
		parts := strings.Split(v, ",")
		scopes := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				scopes = append(scopes, s)
			}
		}
		creds.Scopes = scopes
	}
	if v := os.Getenv("DEALGATE_DEALER_ID"); v != "" {
		creds.DealerID = v
	}
	if v := os.Getenv("DEALGATE_DEALER_ACCOUNT_NUMBER"); v != "" {
		creds.DealerAccountNumber = v
	}
	if v := os.Getenv("DEALGATE_DEFAULT_EXPIRES_IN"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			creds.DefaultExpiresInSeconds = n
		}
	}
	if v := os.Getenv("DEALGATE_EXPIRY_SKEW"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			creds.ExpirySkewSeconds = n
		}
	}
}

// Save writes the configuration to the given path, creating the parent
// directory if needed. Used by the init command.
func Save(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create configuration directory: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("Configuration saved")
	return nil
}
