// Package rpc is the single retrying HTTP client workers use to talk to the
// account manager and peer services. Backoff policy, jitter, and the retry
// budget live here and nowhere else.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sendpool/account-manager-go/internal/config"
)

// APIError is a non-retryable HTTP-level failure from a peer service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// ExhaustedError is returned after the retry budget runs out. It is never
// swallowed: callers always learn that retries were attempted and failed.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

type Config struct {
	BaseURL     string
	ServiceName string
	TokenSecret string
	TokenTTL    time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
}

type Client struct {
	baseURL     string
	http        *http.Client
	tokens      *TokenSource
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = config.RPCMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = config.RPCBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = config.RPCMaxDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.RPCRequestTimeout
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		http:        &http.Client{Timeout: cfg.Timeout},
		tokens:      NewTokenSource(cfg.ServiceName, cfg.TokenSecret, cfg.TokenTTL),
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
	}
}

// Do performs one logical request with bounded exponential backoff. Timeouts
// and 5xx responses are retried; 4xx responses are not, except that a single
// 401/403 triggers one credential-refresh-then-retry cycle.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	var lastErr error
	refreshed := false

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt); err != nil {
				return err
			}
		}

		done, err := c.attempt(ctx, method, path, payload, out, &refreshed)
		if done {
			return err
		}
		lastErr = err
		log.Debug().
			Err(err).
			Str("method", method).
			Str("path", path).
			Int("attempt", attempt+1).
			Msg("rpc attempt failed, will retry")
	}

	return &ExhaustedError{Attempts: c.maxAttempts, LastErr: lastErr}
}

// attempt returns done=true when the result (success or terminal failure)
// should be surfaced without further retries.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any, refreshed *bool) (bool, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return true, err
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token()
	if err != nil {
		return true, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		return false, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return true, fmt.Errorf("decode response: %w", err)
			}
		}
		return true, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if !*refreshed {
			*refreshed = true
			c.tokens.Invalidate()
			return false, apiError(resp.StatusCode, respBody)
		}
		return true, apiError(resp.StatusCode, respBody)

	case resp.StatusCode >= 500:
		return false, apiError(resp.StatusCode, respBody)

	default:
		return true, apiError(resp.StatusCode, respBody)
	}
}

func apiError(status int, body []byte) *APIError {
	var parsed struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	json.Unmarshal(body, &parsed)
	if parsed.Error == "" {
		parsed.Error = http.StatusText(status)
	}
	return &APIError{Status: status, Code: parsed.Code, Message: parsed.Error}
}

// sleep waits out the backoff for the given attempt: exponential growth from
// the base delay, capped, with +-25% jitter to avoid thundering-herd retries.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.baseDelay << (attempt - 1)
	if delay > c.maxDelay {
		delay = c.maxDelay
	}

	jitter := 1 + (rand.Float64()*2-1)*config.RPCJitterFraction
	delay = time.Duration(float64(delay) * jitter)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
