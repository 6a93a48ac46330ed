package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/habedi/dealgate/auth"
	"github.com/habedi/dealgate/config"
	"github.com/habedi/dealgate/pkg/clierr"
)

func TestClassifyAuthError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want clierr.Type
	}{
		{"configuration", &config.ConfigurationError{Field: "client_id", Message: "must not be empty"}, clierr.Validation},
		{"csrf", &auth.CsrfError{Reason: "state parameter mismatch"}, clierr.Validation},
		{"callback", &auth.CallbackError{Code: "access_denied"}, clierr.Auth},
		{"reauthentication", fmt.Errorf("%w: invalid_grant", auth.ErrReauthenticationRequired), clierr.Auth},
		{"transport", &auth.TransportError{Op: "refresh", Err: errors.New("timeout")}, clierr.Network},
		{"provider", &auth.ProviderError{Status: 500, Body: "oops"}, clierr.Auth},
		{"unknown", errors.New("something else"), clierr.Internal},
	}
	for _, c := range cases {
		got := classifyAuthError(c.err)
		if got.Type != c.want {
			t.Errorf("%s: classified as %q, want %q", c.name, got.Type, c.want)
		}
		if got.Message == "" {
			t.Errorf("%s: empty message", c.name)
		}
		if !errors.Is(got, c.err) && got.Unwrap() == nil {
			t.Errorf("%s: cause not preserved", c.name)
		}
	}
}
