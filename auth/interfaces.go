package auth

import (
	"context"

	"github.com/habedi/dealgate/db"
)

// TokenStorer defines the contract for any component that can store and retrieve a token.
type TokenStorer interface {
	GetTokenRecord(ctx context.Context) (*db.Token, error)
	UpsertTokenRecord(ctx context.Context, token *db.Token) error
	DeleteTokenRecord(ctx context.Context) error
}

// StateStorer defines the contract for storing the short-lived CSRF state of
// a pending authorization attempt.
type StateStorer interface {
	GetAuthState(ctx context.Context) (*db.AuthState, error)
	PutAuthState(ctx context.Context, state *db.AuthState) error
	DeleteAuthState(ctx context.Context) error
}

// TokenRefresher defines the contract for any component that can perform a token refresh action.
type TokenRefresher interface {
	Refresh(ctx context.Context, current *db.Token) (*db.Token, error)
}

// repoTokenStorer adapts a db.TokenRepository to TokenStorer, binding a provider key.
type repoTokenStorer struct {
	repo        db.TokenRepository
	providerKey string
}

// NewRepositoryTokenStorer wraps a TokenRepository as a TokenStorer for one provider.
func NewRepositoryTokenStorer(repo db.TokenRepository, providerKey string) TokenStorer {
	return &repoTokenStorer{repo: repo, providerKey: providerKey}
}

func (s *repoTokenStorer) GetTokenRecord(ctx context.Context) (*db.Token, error) {
	return s.repo.Get(ctx, s.providerKey)
}

func (s *repoTokenStorer) UpsertTokenRecord(ctx context.Context, token *db.Token) error {
	token.ProviderKey = s.providerKey
	return s.repo.Upsert(ctx, token)
}

func (s *repoTokenStorer) DeleteTokenRecord(ctx context.Context) error {
	return s.repo.Delete(ctx, s.providerKey)
}

// repoStateStorer adapts a db.StateRepository to StateStorer, binding a provider key.
type repoStateStorer struct {
	repo        db.StateRepository
	providerKey string
}

// NewRepositoryStateStorer wraps a StateRepository as a StateStorer for one provider.
func NewRepositoryStateStorer(repo db.StateRepository, providerKey string) StateStorer {
	return &repoStateStorer{repo: repo, providerKey: providerKey}
}

func (s *repoStateStorer) GetAuthState(ctx context.Context) (*db.AuthState, error) {
	return s.repo.Get(ctx, s.providerKey)
}

func (s *repoStateStorer) PutAuthState(ctx context.Context, state *db.AuthState) error {
	state.ProviderKey = s.providerKey
	return s.repo.Put(ctx, state)
}

func (s *repoStateStorer) DeleteAuthState(ctx context.Context) error {
	return s.repo.Delete(ctx, s.providerKey)
}
