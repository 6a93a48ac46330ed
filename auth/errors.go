package auth

import (
	"errors"
	"fmt"
)

// ErrNoRefreshToken indicates a refresh was requested but the current token
// record carries no refresh token.
var ErrNoRefreshToken = errors.New("no refresh token available")

// ErrReauthenticationRequired indicates the cached token is unusable and
// cannot be refreshed; the user must run the authorization flow again.
var ErrReauthenticationRequired = errors.New("reauthentication required; please log in again")

// CsrfError indicates the callback state did not match the stored state, the
// stored state was missing, or it had expired. The authorization flow must be
// restarted from the beginning.
type CsrfError struct {
	Reason string
}

func (e *CsrfError) Error() string {
	return fmt.Sprintf("state validation failed: %s", e.Reason)
}

// CallbackError carries an OAuth error reported by the provider in the
// redirect callback, surfaced verbatim.
type CallbackError struct {
	Code        string
	Description string
}

func (e *CallbackError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization failed: %s", e.Code)
}

// TransportError wraps a network-level failure talking to the token endpoint.
// It is safe to retry later but is never retried automatically.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("token endpoint %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderError carries a non-2xx response from the token endpoint, or a
// 2xx response whose body could not be interpreted.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d: %s", e.Status, e.Body)
}
