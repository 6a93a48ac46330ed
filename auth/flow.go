// Package auth implements the OAuth2 Authorization Code Grant flow and the
// token lifecycle for the dealer API.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/habedi/dealgate/config"
	"github.com/habedi/dealgate/db"
	"github.com/rs/zerolog/log"
)

// StateTTL is how long a generated CSRF state stays valid while waiting for
// the provider's callback.
const StateTTL = 10 * time.Minute

// providerBodyLimit bounds how much of a token endpoint error body is kept.
const providerBodyLimit = 2048

// FlowState describes where the coordinator is in the authorization flow.
type FlowState string

const (
	StateIdle             FlowState = "idle"
	StateAwaitingCallback FlowState = "awaiting_callback"
	StateExchanging       FlowState = "exchanging"
	StateAuthenticated    FlowState = "authenticated"
)

// Flow coordinates the OAuth2 Authorization Code Grant with CSRF protection.
// It builds the authorization URL, validates the provider's redirect callback,
// and exchanges codes and refresh tokens at the token endpoint.
type Flow struct {
	creds  *config.Credentials
	tokens TokenStorer
	states StateStorer
	client *http.Client
	now    func() time.Time

	mu    sync.Mutex
	state FlowState
}

// NewFlow creates a flow coordinator. A nil httpClient falls back to a client
// with a 30-second timeout.
func NewFlow(creds *config.Credentials, tokens TokenStorer, states StateStorer, httpClient *http.Client) *Flow {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Flow{
		creds:  creds,
		tokens: tokens,
		states: states,
		client: httpClient,
		now:    time.Now,
		state:  StateIdle,
	}
}

// State returns the coordinator's current flow state.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) setState(s FlowState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// BeginAuthorization generates a fresh CSRF state, persists it, and returns
// the authorization URL the user must visit.
func (f *Flow) BeginAuthorization(ctx context.Context) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state parameter: %w", err)
	}

	record := &db.AuthState{
		State:    state,
		IssuedAt: f.now().UTC().Format(time.RFC3339),
	}
	if err := f.states.PutAuthState(ctx, record); err != nil {
		// Without a stored state the callback cannot be validated, so this
		// one storage failure is not absorbed.
		log.Error().Err(err).Msg("Failed to persist state parameter")
		return "", fmt.Errorf("failed to persist state parameter: %w", err)
	}

	// The query is assembled by hand to keep a stable parameter order.
	var query strings.Builder
	query.WriteString("response_type=code")
	query.WriteString("&client_id=" + url.QueryEscape(f.creds.ClientID))
	query.WriteString("&redirect_uri=" + url.QueryEscape(f.creds.RedirectURI))
	if len(f.creds.Scopes) > 0 {
		query.WriteString("&scope=" + url.QueryEscape(strings.Join(f.creds.Scopes, " ")))
	}
	query.WriteString("&state=" + url.QueryEscape(state))

	f.setState(StateAwaitingCallback)
	log.Info().Str("provider", f.creds.ProviderKey).Msg("Generated authorization URL")
	return f.creds.AuthURL + "?" + query.String(), nil
}

// generateState returns a cryptographically random URL-safe state parameter
// carrying 256 bits of entropy.
func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HandleCallback validates the provider's redirect callback and exchanges the
// authorization code it carries for a token record. The stored CSRF state is
// consumed exactly once; mismatched, missing, or expired states fail with
// CsrfError and the stored state is removed so it cannot be reused.
func (f *Flow) HandleCallback(ctx context.Context, callbackURL string) (*db.Token, error) {
	parsed, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse callback URL: %w", err)
	}
	params := parsed.Query()

	if errCode := params.Get("error"); errCode != "" {
		cbErr := &CallbackError{Code: errCode, Description: params.Get("error_description")}
		log.Error().Str("error", errCode).Msg("Provider reported an authorization error")
		return nil, cbErr
	}

	stored, err := f.states.GetAuthState(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load stored state parameter")
		stored = nil
	}
	if stored == nil {
		return nil, &CsrfError{Reason: "no stored state for this authorization attempt"}
	}

	issuedAt, err := stored.IssuedAtTime()
	if err != nil || f.now().Sub(issuedAt) > StateTTL {
		f.discardState(ctx)
		return nil, &CsrfError{Reason: "stored state has expired; restart the authorization flow"}
	}

	callbackState := params.Get("state")
	if callbackState == "" || callbackState != stored.State {
		f.discardState(ctx)
		return nil, &CsrfError{Reason: "state parameter mismatch; the callback may have been tampered with"}
	}

	// State checks passed; consume it so it cannot be replayed.
	f.discardState(ctx)

	code := params.Get("code")
	if code == "" {
		return nil, &CallbackError{Code: "missing_code", Description: "no authorization code in callback"}
	}

	f.setState(StateExchanging)
	return f.ExchangeCode(ctx, code)
}

// discardState removes the stored state parameter, logging storage failures.
func (f *Flow) discardState(ctx context.Context) {
	if err := f.states.DeleteAuthState(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to delete stored state parameter")
	}
}

// ExchangeCode exchanges an authorization code for a token record at the
// token endpoint and persists the result.
func (f *Flow) ExchangeCode(ctx context.Context, code string) (*db.Token, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {f.creds.RedirectURI},
	}
	f.addDealerFields(form)

	record, err := f.postToken(ctx, "code exchange", form, "")
	if err != nil {
		return nil, err
	}

	f.persistToken(ctx, record)
	f.setState(StateAuthenticated)
	log.Info().Str("provider", f.creds.ProviderKey).Msg("Authorization code exchanged successfully")
	return record, nil
}

// Refresh obtains a new token record using the refresh token of the current
// one. When the response omits a new refresh token, the previous one is
// retained, since providers do not always rotate them.
func (f *Flow) Refresh(ctx context.Context, current *db.Token) (*db.Token, error) {
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {current.RefreshToken},
	}
	f.addDealerFields(form)

	record, err := f.postToken(ctx, "refresh", form, current.RefreshToken)
	if err != nil {
		return nil, err
	}

	f.persistToken(ctx, record)
	f.setState(StateAuthenticated)
	log.Info().Str("provider", f.creds.ProviderKey).Msg("Access token refreshed successfully")
	return record, nil
}

// addDealerFields forwards the dealer identity to the token endpoint when configured.
func (f *Flow) addDealerFields(form url.Values) {
	if f.creds.DealerID != "" {
		form.Set("dealer_id", f.creds.DealerID)
	}
	if f.creds.DealerAccountNumber != "" {
		form.Set("dealer_account_number", f.creds.DealerAccountNumber)
	}
}

// persistToken stores the token record. Storage failures are logged and
// absorbed: the in-memory record is still usable and a later refresh or
// re-authentication repairs the cache.
func (f *Flow) persistToken(ctx context.Context, record *db.Token) {
	if err := f.tokens.UpsertTokenRecord(ctx, record); err != nil {
		log.Error().Err(err).Msg("Failed to persist token record")
	}
}

// tokenResponse is the JSON body returned by the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

// postToken sends a form-encoded request to the token endpoint with HTTP
// Basic authentication and converts the response into a token record.
// Transport failures become TransportError; non-2xx statuses and unusable
// 2xx bodies become ProviderError. Nothing is retried here.
func (f *Flow) postToken(ctx context.Context, op string, form url.Values, prevRefreshToken string) (*db.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.creds.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(f.creds.ClientID, f.creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("op", op).Str("url", f.creds.TokenURL).Msg("Calling token endpoint")
	resp, err := f.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("op", op).Msg("Token endpoint request failed")
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Str("op", op).Int("status", resp.StatusCode).Msg("Token endpoint returned non-OK status")
		return nil, &ProviderError{Status: resp.StatusCode, Body: truncate(string(body), providerBodyLimit)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &ProviderError{Status: resp.StatusCode, Body: truncate(string(body), providerBodyLimit)}
	}
	if tr.AccessToken == "" {
		return nil, &ProviderError{Status: resp.StatusCode, Body: "response contains no access token"}
	}

	expiresIn := f.creds.DefaultExpiry()
	if tr.ExpiresIn > 0 {
		expiresIn = time.Duration(tr.ExpiresIn) * time.Second
	}

	refreshToken := tr.RefreshToken
	if refreshToken == "" {
		refreshToken = prevRefreshToken
	}

	return &db.Token{
		ProviderKey:  f.creds.ProviderKey,
		AccessToken:  tr.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
		ExpiresAt:    f.now().Add(expiresIn).UTC().Format(time.RFC3339),
		TTLSeconds:   int64(expiresIn / time.Second),
	}, nil
}

// truncate shortens s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
