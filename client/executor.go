// Package client provides the single authenticated HTTP request path shared
// by every higher-level API client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// maxErrorBody bounds how much of an error response body is kept for
// diagnostics, so a large error page cannot balloon memory.
const maxErrorBody = 4096

// maxResponseBody bounds how much of any response body is read.
const maxResponseBody = 32 << 20

// TokenSource supplies bearer tokens for outgoing requests. It is satisfied
// by auth.Manager.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Executor performs authenticated HTTP calls against one API base URL. It
// attaches the current bearer token and, on the first 401 of a call, forces
// exactly one token refresh and retry. It is safe for concurrent use.
type Executor struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

// NewExecutor creates an executor for the given API base URL. A nil
// httpClient falls back to a pooled client with a 30-second timeout.
func NewExecutor(baseURL string, tokens TokenSource, httpClient *http.Client) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Executor{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  httpClient,
	}
}

// Execute performs one authenticated call and classifies the result. The
// body may be nil, a []byte / json.RawMessage used verbatim, or any value
// marshaled to JSON. Each call gets its own fresh one-shot retry budget: a
// 401 on the retry itself is a final auth failure, never a third attempt.
func (e *Executor) Execute(ctx context.Context, method, path string, body any, query url.Values) Outcome {
	token, err := e.tokens.GetValidToken(ctx)
	if err != nil {
		log.Error().Err(err).Str("method", method).Str("path", path).Msg("No valid token for request")
		return AuthFailure(err)
	}

	payload, err := encodeBody(body)
	if err != nil {
		return TransportFailure(err)
	}

	fullURL := e.buildURL(path, query)

	for attempt := 0; ; attempt++ {
		resp, err := e.send(ctx, method, fullURL, token, payload)
		if err != nil {
			log.Error().Err(err).Str("method", method).Str("url", fullURL).Msg("HTTP request failed")
			return TransportFailure(err)
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		resp.Body.Close()
		if err != nil {
			return TransportFailure(fmt.Errorf("failed to read response body: %w", err))
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			// The server's judgment of token validity is authoritative;
			// force one refresh and retry with the new token.
			log.Debug().Str("method", method).Str("url", fullURL).Msg("Received 401, forcing token refresh")
			token, err = e.tokens.ForceRefresh(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Forced token refresh failed")
				return AuthFailure(err)
			}
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return AuthFailure(fmt.Errorf("server rejected the token again after refresh (status %d)", resp.StatusCode))
		}

		if resp.StatusCode >= 400 {
			log.Error().Str("method", method).Str("url", fullURL).Int("status", resp.StatusCode).Msg("HTTP request returned error status")
			return ServerError(resp.StatusCode, truncateBody(respBody), nil)
		}

		return e.classifySuccess(resp, respBody)
	}
}

// send builds and issues one HTTP request with authentication headers.
func (e *Executor) send(ctx context.Context, method, fullURL, token string, payload []byte) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil && bodyMethod(method) {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debug().Str("method", method).Str("url", fullURL).Msg("Sending HTTP request")
	return e.client.Do(req)
}

// classifySuccess turns a 2xx response into an outcome: nil body for empty
// responses, raw bytes for binary content, and validated JSON otherwise. A
// JSON body that does not parse signals an unexpected response shape and is
// reported as a server-error outcome, not swallowed.
func (e *Executor) classifySuccess(resp *http.Response, body []byte) Outcome {
	if len(body) == 0 {
		return Success(resp.StatusCode, "", nil)
	}

	contentType := resp.Header.Get("Content-Type")
	if !jsonContent(contentType) {
		// Binary payloads such as PDFs pass through untouched.
		return Success(resp.StatusCode, contentType, body)
	}

	if !json.Valid(body) {
		log.Error().Str("url", resp.Request.URL.String()).
			Str("body_preview", string(truncateBody(body))).Msg("Failed to parse response JSON")
		return ServerError(resp.StatusCode, truncateBody(body), fmt.Errorf("response body is not valid JSON"))
	}

	return Success(resp.StatusCode, contentType, body)
}

// buildURL joins the base URL, path, and query string. Absolute URLs are
// used as-is so callers can follow server-provided links.
func (e *Executor) buildURL(path string, query url.Values) string {
	fullURL := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		fullURL = e.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	return fullURL
}

// encodeBody converts the caller's body value into request bytes.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, nil
	}
}

// truncateBody bounds an error body to maxErrorBody bytes.
func truncateBody(body []byte) []byte {
	if len(body) <= maxErrorBody {
		return body
	}
	return body[:maxErrorBody]
}

// bodyMethod reports whether the method carries a request body that needs a
// Content-Type header.
func bodyMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// jsonContent reports whether the Content-Type should be treated as JSON.
// An absent Content-Type defaults to JSON, matching what the API returns.
func jsonContent(contentType string) bool {
	if contentType == "" {
		return true
	}
	return strings.Contains(strings.ToLower(contentType), "json")
}
