package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenRepository defines decoupled operations for token persistence.
type TokenRepository interface {
	Get(ctx context.Context, providerKey string) (*Token, error)
	List(ctx context.Context) ([]Token, error)
	Upsert(ctx context.Context, token *Token) error
	Delete(ctx context.Context, providerKey string) error
}

// StateRepository defines decoupled operations for CSRF state persistence.
type StateRepository interface {
	Get(ctx context.Context, providerKey string) (*AuthState, error)
	Put(ctx context.Context, state *AuthState) error
	Delete(ctx context.Context, providerKey string) error
}

// gormTokenRepo is a GORM-backed implementation of TokenRepository.
// Use constructor NewTokenRepository to obtain an instance.
type gormTokenRepo struct{ db *gorm.DB }

// gormStateRepo is a GORM-backed implementation of StateRepository.
// Use constructor NewStateRepository to obtain an instance.
type gormStateRepo struct{ db *gorm.DB }

// NewTokenRepository creates a TokenRepository. Accepts *gorm.DB to avoid global access.
func NewTokenRepository(db *gorm.DB) TokenRepository { return &gormTokenRepo{db: db} }

// NewStateRepository creates a StateRepository. Accepts *gorm.DB to avoid global access.
func NewStateRepository(db *gorm.DB) StateRepository { return &gormStateRepo{db: db} }

func (r *gormTokenRepo) Get(ctx context.Context, providerKey string) (*Token, error) {
	if r.db == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	var token Token
	err := r.db.WithContext(ctx).First(&token, "provider_key = ?", providerKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// A record without an access token or with an unparsable expiry is
	// unusable. Treat it as absent and remove it so it cannot poison later
	// reads; re-authentication or refresh will repair the cache.
	if corrupt := tokenCorrupt(&token); corrupt != "" {
		log.Warn().Str("provider", providerKey).Str("reason", corrupt).
			Msg("Removing unreadable token record from storage")
		if delErr := r.Delete(ctx, providerKey); delErr != nil {
			log.Error().Err(delErr).Str("provider", providerKey).Msg("Failed to remove unreadable token record")
		}
		return nil, nil
	}

	return &token, nil
}

// tokenCorrupt reports why a stored token record is unusable, or "" if it is fine.
func tokenCorrupt(t *Token) string {
	if t.AccessToken == "" {
		return "empty access token"
	}
	if t.ExpiresAt != "" {
		if _, err := t.ExpiresAtTime(); err != nil {
			return "unparsable expiry timestamp"
		}
	}
	return ""
}

func (r *gormTokenRepo) List(ctx context.Context) ([]Token, error) {
	if r.db == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	var tokens []Token
	if err := r.db.WithContext(ctx).Find(&tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *gormTokenRepo) Upsert(ctx context.Context, token *Token) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "refresh_token", "token_type", "scope", "expires_at", "ttl_seconds",
		}),
	}).Create(token).Error
}

func (r *gormTokenRepo) Delete(ctx context.Context, providerKey string) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	// Deleting an absent record is a no-op, not an error.
	return r.db.WithContext(ctx).Where("provider_key = ?", providerKey).Delete(&Token{}).Error
}

func (r *gormStateRepo) Get(ctx context.Context, providerKey string) (*AuthState, error) {
	if r.db == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	var state AuthState
	err := r.db.WithContext(ctx).First(&state, "provider_key = ?", providerKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if state.State == "" {
		log.Warn().Str("provider", providerKey).Msg("Removing empty state record from storage")
		if delErr := r.Delete(ctx, providerKey); delErr != nil {
			log.Error().Err(delErr).Str("provider", providerKey).Msg("Failed to remove empty state record")
		}
		return nil, nil
	}

	return &state, nil
}

func (r *gormStateRepo) Put(ctx context.Context, state *AuthState) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "issued_at"}),
	}).Create(state).Error
}

func (r *gormStateRepo) Delete(ctx context.Context, providerKey string) error {
	if r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	return r.db.WithContext(ctx).Where("provider_key = ?", providerKey).Delete(&AuthState{}).Error
}
