package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/habedi/dealgate/config"
	"github.com/habedi/dealgate/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTokenStorer struct {
	token     *db.Token
	getErr    error
	upsertErr error
	upserts   int
	deletes   int
}

func (m *memTokenStorer) GetTokenRecord(ctx context.Context) (*db.Token, error) {
	return m.token, m.getErr
}

func (m *memTokenStorer) UpsertTokenRecord(ctx context.Context, token *db.Token) error {
	m.upserts++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.token = token
	return nil
}

func (m *memTokenStorer) DeleteTokenRecord(ctx context.Context) error {
	m.deletes++
	m.token = nil
	return nil
}

type memStateStorer struct {
	state   *db.AuthState
	getErr  error
	putErr  error
	deletes int
}

func (m *memStateStorer) GetAuthState(ctx context.Context) (*db.AuthState, error) {
	return m.state, m.getErr
}

func (m *memStateStorer) PutAuthState(ctx context.Context, state *db.AuthState) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.state = state
	return nil
}

func (m *memStateStorer) DeleteAuthState(ctx context.Context) error {
	m.deletes++
	m.state = nil
	return nil
}

func testCreds(tokenURL string) *config.Credentials {
	return &config.Credentials{
		ProviderKey:  "deere",
		ClientID:     "abc",
		ClientSecret: "shh",
		RedirectURI:  "http://localhost:9090/callback",
		AuthURL:      "https://signin.example.com/authorize",
		TokenURL:     tokenURL,
		Scopes:       []string{"offline_access", "ag1"},
	}
}

func newTestFlow(creds *config.Credentials) (*Flow, *memTokenStorer, *memStateStorer) {
	tokens := &memTokenStorer{}
	states := &memStateStorer{}
	return NewFlow(creds, tokens, states, nil), tokens, states
}

func TestBeginAuthorizationBuildsURLAndStoresState(t *testing.T) {
	flow, _, states := newTestFlow(testCreds("https://signin.example.com/token"))

	authURL, err := flow.BeginAuthorization(context.Background())
	require.NoError(t, err)

	assert.Contains(t, authURL,
		"response_type=code&client_id=abc&redirect_uri=http%3A%2F%2Flocalhost%3A9090%2Fcallback&scope=offline_access+ag1")
	assert.Contains(t, authURL, "&state=")
	assert.True(t, strings.HasPrefix(authURL, "https://signin.example.com/authorize?"))

	require.NotNil(t, states.state)
	assert.GreaterOrEqual(t, len(states.state.State), 32, "state must carry enough entropy")
	_, err = states.state.IssuedAtTime()
	assert.NoError(t, err)

	assert.Equal(t, StateAwaitingCallback, flow.State())
}

func TestBeginAuthorizationOmitsEmptyScope(t *testing.T) {
	creds := testCreds("https://signin.example.com/token")
	creds.Scopes = nil
	flow, _, _ := newTestFlow(creds)

	authURL, err := flow.BeginAuthorization(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, authURL, "scope=")
}

func TestBeginAuthorizationStatesAreNeverReused(t *testing.T) {
	flow, _, states := newTestFlow(testCreds("https://signin.example.com/token"))

	_, err := flow.BeginAuthorization(context.Background())
	require.NoError(t, err)
	first := states.state.State

	_, err = flow.BeginAuthorization(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, states.state.State)
}

func TestBeginAuthorizationFailsWhenStateCannotBeStored(t *testing.T) {
	flow, _, states := newTestFlow(testCreds("https://signin.example.com/token"))
	states.putErr = errors.New("disk full")

	_, err := flow.BeginAuthorization(context.Background())
	require.Error(t, err)
}

// tokenEndpoint spins up a stub token endpoint capturing the last request.
func tokenEndpoint(t *testing.T, status int, body string) (*httptest.Server, *url.Values, *http.Header) {
	t.Helper()
	var lastForm url.Values
	var lastHeader http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		lastForm = r.PostForm
		lastHeader = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &lastForm, &lastHeader
}

func TestHandleCallbackExchangesCode(t *testing.T) {
	server, form, header := tokenEndpoint(t, http.StatusOK,
		`{"access_token":"A","refresh_token":"R","token_type":"Bearer","scope":"offline_access ag1","expires_in":3600}`)

	flow, tokens, states := newTestFlow(testCreds(server.URL))
	ctx := context.Background()

	_, err := flow.BeginAuthorization(ctx)
	require.NoError(t, err)
	state := states.state.State

	record, err := flow.HandleCallback(ctx, "http://localhost:9090/callback?code=xyz&state="+url.QueryEscape(state))
	require.NoError(t, err)

	assert.Equal(t, "A", record.AccessToken)
	assert.Equal(t, "R", record.RefreshToken)
	assert.Equal(t, "Bearer", record.TokenType)
	assert.Equal(t, "offline_access ag1", record.Scope)
	assert.Equal(t, StateAuthenticated, flow.State())

	// State is consumed exactly once.
	assert.Nil(t, states.state)

	// The record was persisted.
	assert.Equal(t, 1, tokens.upserts)
	require.NotNil(t, tokens.token)
	assert.Equal(t, "A", tokens.token.AccessToken)

	// The exchange used the authorization code grant with Basic auth.
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "xyz", form.Get("code"))
	assert.Equal(t, "http://localhost:9090/callback", form.Get("redirect_uri"))
	assert.True(t, strings.HasPrefix(header.Get("Authorization"), "Basic "))
}

func TestHandleCallbackIsSingleUse(t *testing.T) {
	server, _, _ := tokenEndpoint(t, http.StatusOK, `{"access_token":"A","expires_in":60}`)
	flow, _, states := newTestFlow(testCreds(server.URL))
	ctx := context.Background()

	_, err := flow.BeginAuthorization(ctx)
	require.NoError(t, err)
	callbackURL := "http://localhost:9090/callback?code=xyz&state=" + url.QueryEscape(states.state.State)

	_, err = flow.HandleCallback(ctx, callbackURL)
	require.NoError(t, err)

	// The same callback replayed must fail: the state was consumed.
	_, err = flow.HandleCallback(ctx, callbackURL)
	var csrfErr *CsrfError
	require.ErrorAs(t, err, &csrfErr)
}

func TestHandleCallbackProviderError(t *testing.T) {
	flow, _, _ := newTestFlow(testCreds("https://signin.example.com/token"))

	_, err := flow.HandleCallback(context.Background(),
		"http://localhost:9090/callback?error=access_denied&error_description=User+rejected")

	var cbErr *CallbackError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, "access_denied", cbErr.Code)
	assert.Equal(t, "User rejected", cbErr.Description)
}

func TestHandleCallbackStateMismatch(t *testing.T) {
	flow, _, states := newTestFlow(testCreds("https://signin.example.com/token"))
	ctx := context.Background()

	_, err := flow.BeginAuthorization(ctx)
	require.NoError(t, err)

	_, err = flow.HandleCallback(ctx, "http://localhost:9090/callback?code=xyz&state=wrong")
	var csrfErr *CsrfError
	require.ErrorAs(t, err, &csrfErr)

	// The stored state was discarded so it cannot be retried against.
	assert.Nil(t, states.state)
}

func TestHandleCallbackNoStoredState(t *testing.T) {
	flow, _, _ := newTestFlow(testCreds("https://signin.example.com/token"))

	_, err := flow.HandleCallback(context.Background(), "http://localhost:9090/callback?code=xyz&state=abc")
	var csrfErr *CsrfError
	require.ErrorAs(t, err, &csrfErr)
}

func TestHandleCallbackExpiredState(t *testing.T) {
	flow, _, states := newTestFlow(testCreds("https://signin.example.com/token"))
	ctx := context.Background()

	_, err := flow.BeginAuthorization(ctx)
	require.NoError(t, err)
	state := states.state.State

	// Age the stored state past the TTL.
	states.state.IssuedAt = time.Now().Add(-StateTTL - time.Minute).UTC().Format(time.RFC3339)

	_, err = flow.HandleCallback(ctx, "http://localhost:9090/callback?code=xyz&state="+url.QueryEscape(state))
	var csrfErr *CsrfError
	require.ErrorAs(t, err, &csrfErr)
	assert.Nil(t, states.state)
}

func TestHandleCallbackMissingCode(t *testing.T) {
	flow, _, states := newTestFlow(testCreds("https://signin.example.com/token"))
	ctx := context.Background()

	_, err := flow.BeginAuthorization(ctx)
	require.NoError(t, err)

	_, err = flow.HandleCallback(ctx, "http://localhost:9090/callback?state="+url.QueryEscape(states.state.State))
	var cbErr *CallbackError
	require.ErrorAs(t, err, &cbErr)
}

func TestExchangeCodeComputesAbsoluteExpiry(t *testing.T) {
	server, _, _ := tokenEndpoint(t, http.StatusOK, `{"access_token":"A","refresh_token":"R","expires_in":3600}`)

	flow, tokens, _ := newTestFlow(testCreds(server.URL))
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	flow.now = func() time.Time { return now }

	record, err := flow.ExchangeCode(context.Background(), "xyz")
	require.NoError(t, err)

	assert.Equal(t, now.Add(3600*time.Second).Format(time.RFC3339), record.ExpiresAt)
	assert.Equal(t, int64(3600), record.TTLSeconds)
	require.NotNil(t, tokens.token)
	assert.Equal(t, record.ExpiresAt, tokens.token.ExpiresAt)
}

func TestExchangeCodeDefaultExpiryWhenOmitted(t *testing.T) {
	server, _, _ := tokenEndpoint(t, http.StatusOK, `{"access_token":"A"}`)

	creds := testCreds(server.URL)
	creds.DefaultExpiresInSeconds = 1800
	flow, _, _ := newTestFlow(creds)
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	flow.now = func() time.Time { return now }

	record, err := flow.ExchangeCode(context.Background(), "xyz")
	require.NoError(t, err)
	assert.Equal(t, now.Add(1800*time.Second).Format(time.RFC3339), record.ExpiresAt)
}

func TestRefreshRetainsPreviousRefreshToken(t *testing.T) {
	// The provider does not rotate the refresh token here.
	server, form, _ := tokenEndpoint(t, http.StatusOK, `{"access_token":"A2","expires_in":3600}`)

	flow, tokens, _ := newTestFlow(testCreds(server.URL))
	current := &db.Token{AccessToken: "A1", RefreshToken: "R1"}

	record, err := flow.Refresh(context.Background(), current)
	require.NoError(t, err)

	assert.Equal(t, "A2", record.AccessToken)
	assert.Equal(t, "R1", record.RefreshToken, "previous refresh token must be retained")
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "R1", form.Get("refresh_token"))
	require.NotNil(t, tokens.token)
	assert.Equal(t, "R1", tokens.token.RefreshToken)
}

func TestRefreshRotatesWhenProviderReturnsNewToken(t *testing.T) {
	server, _, _ := tokenEndpoint(t, http.StatusOK, `{"access_token":"A2","refresh_token":"R2","expires_in":3600}`)

	flow, _, _ := newTestFlow(testCreds(server.URL))
	record, err := flow.Refresh(context.Background(), &db.Token{AccessToken: "A1", RefreshToken: "R1"})
	require.NoError(t, err)
	assert.Equal(t, "R2", record.RefreshToken)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	flow, _, _ := newTestFlow(testCreds("https://signin.example.com/token"))

	_, err := flow.Refresh(context.Background(), &db.Token{AccessToken: "A1"})
	require.ErrorIs(t, err, ErrNoRefreshToken)

	_, err = flow.Refresh(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestRefreshForwardsDealerIdentity(t *testing.T) {
	server, form, _ := tokenEndpoint(t, http.StatusOK, `{"access_token":"A2","expires_in":60}`)

	creds := testCreds(server.URL)
	creds.DealerID = "D-42"
	creds.DealerAccountNumber = "ACCT-7"
	flow, _, _ := newTestFlow(creds)

	_, err := flow.Refresh(context.Background(), &db.Token{AccessToken: "A1", RefreshToken: "R1"})
	require.NoError(t, err)
	assert.Equal(t, "D-42", form.Get("dealer_id"))
	assert.Equal(t, "ACCT-7", form.Get("dealer_account_number"))
}

func TestTokenEndpointErrorsAreTyped(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		server, _, _ := tokenEndpoint(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
		flow, _, _ := newTestFlow(testCreds(server.URL))

		_, err := flow.Refresh(context.Background(), &db.Token{AccessToken: "A", RefreshToken: "R"})
		var providerErr *ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.Equal(t, http.StatusBadRequest, providerErr.Status)
		assert.Contains(t, providerErr.Body, "invalid_grant")
	})

	t.Run("transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close() // Connection refused from here on.
		flow, _, _ := newTestFlow(testCreds(server.URL))

		_, err := flow.Refresh(context.Background(), &db.Token{AccessToken: "A", RefreshToken: "R"})
		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.NotNil(t, transportErr.Unwrap())
	})

	t.Run("unusable success body", func(t *testing.T) {
		server, _, _ := tokenEndpoint(t, http.StatusOK, `not json at all`)
		flow, _, _ := newTestFlow(testCreds(server.URL))

		_, err := flow.Refresh(context.Background(), &db.Token{AccessToken: "A", RefreshToken: "R"})
		var providerErr *ProviderError
		require.ErrorAs(t, err, &providerErr)
	})

	t.Run("missing access token", func(t *testing.T) {
		server, _, _ := tokenEndpoint(t, http.StatusOK, `{"expires_in":3600}`)
		flow, _, _ := newTestFlow(testCreds(server.URL))

		_, err := flow.Refresh(context.Background(), &db.Token{AccessToken: "A", RefreshToken: "R"})
		var providerErr *ProviderError
		require.ErrorAs(t, err, &providerErr)
	})
}

func TestTokenEndpointTimeoutLeavesNothingPersisted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"access_token":"late"}`)
	}))
	t.Cleanup(server.Close)

	creds := testCreds(server.URL)
	tokens := &memTokenStorer{}
	states := &memStateStorer{}
	flow := NewFlow(creds, tokens, states, &http.Client{Timeout: 20 * time.Millisecond})

	_, err := flow.Refresh(context.Background(), &db.Token{AccessToken: "A", RefreshToken: "R"})
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)

	// All-or-nothing: no partial token update was committed.
	assert.Zero(t, tokens.upserts)
	assert.Nil(t, tokens.token)
}

func TestPersistFailureIsAbsorbed(t *testing.T) {
	server, _, _ := tokenEndpoint(t, http.StatusOK, `{"access_token":"A2","expires_in":60}`)

	creds := testCreds(server.URL)
	tokens := &memTokenStorer{upsertErr: errors.New("disk full")}
	flow := NewFlow(creds, tokens, &memStateStorer{}, nil)

	// Losing the persisted copy is recoverable; the refreshed record is
	// still returned to the caller.
	record, err := flow.Refresh(context.Background(), &db.Token{AccessToken: "A1", RefreshToken: "R1"})
	require.NoError(t, err)
	assert.Equal(t, "A2", record.AccessToken)
}
