// Package api is the authenticated HTTP client for the remote board API. It
// maps domain operations onto REST endpoints, attaches the stored bearer token,
// and transparently recovers from an expired access token exactly once per
// call via the shared refresh-and-retry path.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/boardsync/internal/observability"
	"github.com/ent0n29/boardsync/internal/tokenstore"
)

var (
	ErrNoRefreshToken = errors.New("api: no refresh token available")

	// ErrNoTeamAvailable means default-project resolution found no project and
	// no team to create one under. Terminal; never retried.
	ErrNoTeamAvailable = errors.New("api: no team available to resolve a default project")
)

// Config carries the client's dependencies.
type Config struct {
	BaseURL     string
	Store       tokenstore.Store
	Logger      zerolog.Logger
	Metrics     *observability.Metrics
	HTTPTimeout time.Duration
}

// Client is safe for concurrent use. At most one token refresh is in flight at
// a time; calls that hit a 401 during a refresh wait for its outcome instead
// of issuing their own.
type Client struct {
	baseURL string
	http    *http.Client
	store   tokenstore.Store
	log     zerolog.Logger
	metrics *observability.Metrics

	refreshMu  sync.Mutex
	refreshing bool
	waiters    []chan refreshOutcome

	observerMu sync.Mutex
	onEnded    []func()
}

type refreshOutcome struct {
	accessToken string
	err         error
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("api: base URL is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("api: token store is required")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		store:   cfg.Store,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// OnSessionEnded registers an observer for the failed-refresh path. Observers
// run at most once per failed refresh, after the token store has been cleared.
func (c *Client) OnSessionEnded(fn func()) {
	if fn == nil {
		return
	}
	c.observerMu.Lock()
	c.onEnded = append(c.onEnded, fn)
	c.observerMu.Unlock()
}

type reqOpts struct {
	skipAuth bool
	isRetry  bool
}

// do issues one API call, re-marshalling the body per attempt so the
// authorization retry can replay it.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, opts reqOpts) error {
	for {
		var payload io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("api: marshal request: %w", err)
			}
			payload = bytes.NewReader(raw)
		}

		target := c.baseURL + path
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, target, payload)
		if err != nil {
			return fmt.Errorf("api: create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if !opts.skipAuth {
			if token, ok := c.store.Get(tokenstore.KeyAccessToken); ok && token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.countRequest(method, "transport_error")
			return fmt.Errorf("api: send request: %w", err)
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if readErr != nil {
			c.countRequest(method, "transport_error")
			return fmt.Errorf("api: read response: %w", readErr)
		}

		if resp.StatusCode == http.StatusUnauthorized && !opts.skipAuth && !opts.isRetry {
			c.countRequest(method, "unauthorized")
			apiErr := newAPIError(resp.StatusCode, resp.Header.Get("Content-Type"), raw)
			if _, rerr := c.refreshTokens(ctx); rerr != nil {
				// The refresh failure already tore the session down; the caller
				// gets its original authorization failure.
				return apiErr
			}
			opts.isRetry = true
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.countRequest(method, "error")
			return newAPIError(resp.StatusCode, resp.Header.Get("Content-Type"), raw)
		}

		c.countRequest(method, "ok")
		if out == nil || len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("api: decode response: %w", err)
		}
		return nil
	}
}

// refreshTokens exchanges the stored refresh token for a new pair. Concurrent
// callers during the refresh window subscribe to the in-flight attempt and all
// observe its single outcome.
func (c *Client) refreshTokens(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	if c.refreshing {
		ch := make(chan refreshOutcome, 1)
		c.waiters = append(c.waiters, ch)
		c.refreshMu.Unlock()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case out := <-ch:
			return out.accessToken, out.err
		}
	}
	c.refreshing = true
	c.refreshMu.Unlock()

	token, err := c.performRefresh(ctx)

	c.refreshMu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.refreshMu.Unlock()

	out := refreshOutcome{accessToken: token, err: err}
	for _, ch := range waiters {
		ch <- out
	}

	if err != nil {
		// Invalidated session: local logout plus the session-ended signal,
		// fired exactly once per failed refresh.
		c.countRefresh("failure")
		if cerr := c.store.Clear(tokenstore.SessionKeys...); cerr != nil {
			c.log.Warn().Err(cerr).Msg("token store clear after failed refresh")
		}
		c.notifySessionEnded()
	} else {
		c.countRefresh("success")
	}
	return token, err
}

func (c *Client) performRefresh(ctx context.Context) (string, error) {
	refresh, ok := c.store.Get(tokenstore.KeyRefreshToken)
	if !ok || strings.TrimSpace(refresh) == "" {
		return "", ErrNoRefreshToken
	}

	var result struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/refresh", nil,
		map[string]string{"refreshToken": refresh}, &result, reqOpts{skipAuth: true})
	if err != nil {
		return "", fmt.Errorf("api: refresh tokens: %w", err)
	}
	if strings.TrimSpace(result.AccessToken) == "" || strings.TrimSpace(result.RefreshToken) == "" {
		return "", errors.New("api: refresh response missing tokens")
	}

	if err := tokenstore.SetTokens(c.store, tokenstore.TokenPair{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}); err != nil {
		return "", fmt.Errorf("api: persist refreshed tokens: %w", err)
	}
	return result.AccessToken, nil
}

func (c *Client) notifySessionEnded() {
	c.observerMu.Lock()
	observers := make([]func(), len(c.onEnded))
	copy(observers, c.onEnded)
	c.observerMu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

func (c *Client) countRequest(method, outcome string) {
	if c.metrics != nil {
		c.metrics.APIRequests.WithLabelValues(method, outcome).Inc()
	}
}

func (c *Client) countRefresh(outcome string) {
	if c.metrics != nil {
		c.metrics.TokenRefreshes.WithLabelValues(outcome).Inc()
	}
}
