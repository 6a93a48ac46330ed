package client

import (
	"encoding/json"
	"fmt"
)

// Kind tags the result of an authenticated API call.
type Kind int

const (
	// KindSuccess means the call completed with a 2xx status.
	KindSuccess Kind = iota
	// KindAuthFailure means no valid token could be obtained, or the server
	// kept rejecting the token after the one-shot refresh retry.
	KindAuthFailure
	// KindTransportFailure means a network-level error (connection refused,
	// timeout, DNS failure). Safe to retry later; never retried here.
	KindTransportFailure
	// KindServerError means the server answered with an error status, or a
	// 2xx body that could not be interpreted.
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindAuthFailure:
		return "auth_failure"
	case KindTransportFailure:
		return "transport_failure"
	case KindServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of one authenticated API call. It is produced
// fresh per call and never persisted.
type Outcome struct {
	Kind        Kind
	Status      int    // HTTP status, set for Success and ServerError
	Body        []byte // response body; truncated for ServerError, nil when empty
	ContentType string // response Content-Type, set for Success
	Cause       error  // underlying error for AuthFailure and TransportFailure
}

// Success builds a successful outcome carrying the response body.
func Success(status int, contentType string, body []byte) Outcome {
	return Outcome{Kind: KindSuccess, Status: status, ContentType: contentType, Body: body}
}

// AuthFailure builds an outcome for a failed authentication.
func AuthFailure(cause error) Outcome {
	return Outcome{Kind: KindAuthFailure, Cause: cause}
}

// TransportFailure builds an outcome for a network-level failure.
func TransportFailure(cause error) Outcome {
	return Outcome{Kind: KindTransportFailure, Cause: cause}
}

// ServerError builds an outcome for an error response, keeping a bounded
// portion of the body for diagnostics.
func ServerError(status int, body []byte, cause error) Outcome {
	return Outcome{Kind: KindServerError, Status: status, Body: body, Cause: cause}
}

// IsSuccess reports whether the call completed successfully.
func (o Outcome) IsSuccess() bool { return o.Kind == KindSuccess }

// Err returns a descriptive error for any non-success outcome, or nil.
func (o Outcome) Err() error {
	switch o.Kind {
	case KindSuccess:
		return nil
	case KindAuthFailure:
		return fmt.Errorf("authentication failed: %w", o.Cause)
	case KindTransportFailure:
		return fmt.Errorf("transport failure: %w", o.Cause)
	case KindServerError:
		if o.Cause != nil {
			return fmt.Errorf("server error (status %d): %w", o.Status, o.Cause)
		}
		return fmt.Errorf("server error (status %d): %s", o.Status, string(o.Body))
	default:
		return fmt.Errorf("unknown outcome")
	}
}

// Decode unmarshals a successful JSON body into v. It fails on non-success
// outcomes and on empty bodies.
func (o Outcome) Decode(v any) error {
	if !o.IsSuccess() {
		return fmt.Errorf("cannot decode non-success outcome: %w", o.Err())
	}
	if len(o.Body) == 0 {
		return fmt.Errorf("response body is empty")
	}
	if err := json.Unmarshal(o.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
