package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/habedi/dealgate/config"
	"github.com/habedi/dealgate/db"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Manager owns the single authoritative in-memory view of the current token.
// It judges expiry with a safety skew, drives refreshes through a
// TokenRefresher, and guarantees that concurrent callers trigger at most one
// in-flight refresh.
type Manager struct {
	tokens    TokenStorer
	refresher TokenRefresher
	skew      time.Duration
	now       func() time.Time

	mu      sync.Mutex
	current *db.Token
	loaded  bool

	group singleflight.Group
}

// NewManager creates a lifecycle manager. A non-positive skew falls back to
// the default safety margin.
func NewManager(tokens TokenStorer, refresher TokenRefresher, skew time.Duration) *Manager {
	if skew <= 0 {
		skew = config.DefaultExpirySkew
	}
	return &Manager{
		tokens:    tokens,
		refresher: refresher,
		skew:      skew,
		now:       time.Now,
	}
}

// IsExpired reports whether the record is expired or close enough to expiry
// that it should be refreshed proactively. A record with an unknown expiry
// counts as expired, and the boundary instant itself counts as expired.
func (m *Manager) IsExpired(record *db.Token) bool {
	if record == nil || record.AccessToken == "" || record.ExpiresAt == "" {
		return true
	}
	expiresAt, err := record.ExpiresAtTime()
	if err != nil {
		log.Error().Err(err).Str("expires_at", record.ExpiresAt).Msg("Failed to parse expiration time")
		return true
	}
	return !m.now().Before(expiresAt.Add(-m.skew))
}

// GetValidToken returns the cached access token if it is still fresh,
// refreshing it first when needed. It fails with ErrReauthenticationRequired
// when no refresh token is available.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.loadLocked(ctx)
	if !m.IsExpired(m.current) {
		token := m.current.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	return m.refreshShared(ctx, false)
}

// ForceRefresh refreshes the token regardless of the local expiry judgment.
// It exists for the request executor: a 401 from the server is authoritative
// over any locally computed expiry.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	return m.refreshShared(ctx, true)
}

// CurrentRecord returns a copy of the current in-memory token record, loading
// it from storage if needed. It returns nil when no token is cached.
func (m *Manager) CurrentRecord(ctx context.Context) *db.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadLocked(ctx)
	if m.current == nil {
		return nil
	}
	record := *m.current
	return &record
}

// Clear drops the in-memory record and deletes the persisted copy. It is
// idempotent; storage failures are logged and absorbed.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	m.current = nil
	m.loaded = true
	m.mu.Unlock()

	if err := m.tokens.DeleteTokenRecord(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to delete token record from storage")
	}
	log.Info().Msg("Token information cleared")
}

// loadLocked populates the in-memory record from storage once. The caller
// must hold m.mu. Storage failures degrade to a cache miss.
func (m *Manager) loadLocked(ctx context.Context) {
	if m.loaded {
		return
	}
	record, err := m.tokens.GetTokenRecord(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load token record from storage")
		record = nil
	}
	m.current = record
	m.loaded = true
}

// refreshShared funnels concurrent refresh attempts through a single flight
// so N simultaneous callers cause exactly one network refresh. The mutex is
// never held across the network call; waiters of the shared flight receive
// the same refreshed token.
func (m *Manager) refreshShared(ctx context.Context, force bool) (string, error) {
	token, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.doRefresh(ctx, force)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// doRefresh performs one refresh cycle. Unless forced, it re-checks expiry
// under the lock first: a concurrent caller may already have refreshed while
// this one was waiting, in which case no network call is made.
func (m *Manager) doRefresh(ctx context.Context, force bool) (string, error) {
	m.mu.Lock()
	m.loadLocked(ctx)
	snapshot := m.current
	if !force && !m.IsExpired(snapshot) {
		token := snapshot.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	if snapshot == nil || snapshot.RefreshToken == "" {
		return "", ErrReauthenticationRequired
	}

	refreshed, err := m.refresher.Refresh(ctx, snapshot)
	if err != nil {
		var providerErr *ProviderError
		if errors.Is(err, ErrNoRefreshToken) || errors.As(err, &providerErr) {
			// The provider rejected the refresh token (or it vanished);
			// only a full re-authentication can recover.
			return "", fmt.Errorf("%w: %v", ErrReauthenticationRequired, err)
		}
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	m.mu.Lock()
	m.current = refreshed
	m.mu.Unlock()

	return refreshed.AccessToken, nil
}
