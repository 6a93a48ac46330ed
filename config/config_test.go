package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/habedi/dealgate/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dealgate.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `{
		"client_id": "abc",
		"client_secret": "shh",
		"auth_url": "https://signin.example.com/authorize",
		"token_url": "https://signin.example.com/token",
		"scopes": ["offline_access", "ag1"],
		"dealer_id": "D-42"
	}`)

	creds, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "abc", creds.ClientID)
	assert.Equal(t, "shh", creds.ClientSecret)
	assert.Equal(t, []string{"offline_access", "ag1"}, creds.Scopes)
	assert.Equal(t, "D-42", creds.DealerID)

	// Defaults fill in what the file left out.
	assert.Equal(t, config.DefaultProviderKey, creds.ProviderKey)
	assert.Equal(t, config.DefaultRedirectURI, creds.RedirectURI)
	assert.Equal(t, config.DefaultExpiresIn, creds.DefaultExpiry())
	assert.Equal(t, config.DefaultExpirySkew, creds.ExpirySkew())
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `{
		"client_id": "from-file",
		"client_secret": "shh",
		"auth_url": "https://signin.example.com/authorize",
		"token_url": "https://signin.example.com/token"
	}`)

	t.Setenv("DEALGATE_CLIENT_ID", "from-env")
	t.Setenv("DEALGATE_SCOPES", "offline_access, ag1 ,")
	t.Setenv("DEALGATE_DEFAULT_EXPIRES_IN", "1800")
	t.Setenv("DEALGATE_EXPIRY_SKEW", "30")

	creds, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", creds.ClientID)
	assert.Equal(t, []string{"offline_access", "ag1"}, creds.Scopes)
	assert.Equal(t, 1800*time.Second, creds.DefaultExpiry())
	assert.Equal(t, 30*time.Second, creds.ExpirySkew())
}

func TestLoadMissingRequiredField(t *testing.T) {
	path := writeConfig(t, `{
		"client_id": "abc",
		"auth_url": "https://signin.example.com/authorize",
		"token_url": "https://signin.example.com/token"
	}`)

	_, err := config.Load(path)
	var cfgErr *config.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "client_secret", cfgErr.Field)
}

func TestLoadUnreadableFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, `{not json`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	creds := &config.Credentials{
		ClientID:     "abc",
		ClientSecret: "shh",
		RedirectURI:  "http://localhost:9090/callback",
		AuthURL:      "https://signin.example.com/authorize",
		TokenURL:     "https://signin.example.com/token",
	}
	require.NoError(t, creds.Validate())

	for _, field := range []struct {
		name  string
		unset func(*config.Credentials)
	}{
		{"client_id", func(c *config.Credentials) { c.ClientID = "" }},
		{"client_secret", func(c *config.Credentials) { c.ClientSecret = "" }},
		{"redirect_uri", func(c *config.Credentials) { c.RedirectURI = "" }},
		{"auth_url", func(c *config.Credentials) { c.AuthURL = "" }},
		{"token_url", func(c *config.Credentials) { c.TokenURL = "" }},
	} {
		broken := *creds
		field.unset(&broken)
		err := broken.Validate()
		var cfgErr *config.ConfigurationError
		require.True(t, errors.As(err, &cfgErr), "expected a configuration error for %s", field.name)
		assert.Equal(t, field.name, cfgErr.Field)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dealgate.json")
	in := &config.Credentials{
		ClientID:     "abc",
		ClientSecret: "shh",
		RedirectURI:  "http://localhost:9090/callback",
		AuthURL:      "https://signin.example.com/authorize",
		TokenURL:     "https://signin.example.com/token",
		Scopes:       []string{"offline_access"},
	}

	require.NoError(t, config.Save(path, in))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "the secret must not be world readable")

	out, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, in.ClientID, out.ClientID)
	assert.Equal(t, in.ClientSecret, out.ClientSecret)
	assert.Equal(t, in.Scopes, out.Scopes)
}
