// Package session orchestrates the single authenticated session per process:
// login and registration, durable persistence through the token store, the
// realtime channel lifecycle, and the session-ended signal from the HTTP
// client's failed-refresh path.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/ent0n29/boardsync/internal/api"
	"github.com/ent0n29/boardsync/internal/observability"
	"github.com/ent0n29/boardsync/internal/tokenstore"
)

type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
)

var ErrNotAuthenticated = errors.New("session: not authenticated")

// APIClient is the slice of the HTTP client the manager drives.
type APIClient interface {
	Login(ctx context.Context, creds api.Credentials) (api.AuthResult, error)
	Signup(ctx context.Context, req api.SignupRequest) (api.AuthResult, error)
	Me(ctx context.Context) (api.User, error)
	DefaultProjectID(ctx context.Context) (string, error)
	OnSessionEnded(fn func())
}

// Realtime is the push channel lifecycle the manager owns.
type Realtime interface {
	Connect(ctx context.Context, projectID string)
	Close()
}

// Board is the task cache collaborator cleared on logout.
type Board interface {
	SetOwner(userID string)
	Load(ctx context.Context)
	Clear()
}

type Manager struct {
	runCtx  context.Context
	store   tokenstore.Store
	client  APIClient
	channel Realtime
	cache   Board
	log     zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	state   State
	user    api.User
	hasUser bool

	endedMu   sync.Mutex
	endedSubs []func()
}

// NewManager wires the manager into the HTTP client's session-ended observer
// list. runCtx bounds the realtime connection, not individual calls.
func NewManager(runCtx context.Context, store tokenstore.Store, client APIClient, channel Realtime, cache Board, log zerolog.Logger, metrics *observability.Metrics) *Manager {
	m := &Manager{
		runCtx:  runCtx,
		store:   store,
		client:  client,
		channel: channel,
		cache:   cache,
		log:     log,
		metrics: metrics,
		state:   StateUnauthenticated,
	}
	client.OnSessionEnded(m.remoteSessionEnded)
	return m
}

// OnEnded registers for the session-ended broadcast (failed refresh, not a
// direct user logout).
func (m *Manager) OnEnded(fn func()) {
	if fn == nil {
		return
	}
	m.endedMu.Lock()
	m.endedSubs = append(m.endedSubs, fn)
	m.endedMu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) CurrentUser() (api.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user, m.hasUser
}

// Resume derives the initial state from the token store. All three of access
// token, refresh token and cached user must be present; a partial set is
// purged and the process starts unauthenticated. Each key is checked for raw
// presence on its own so a lone stale token never survives to ride as a
// Bearer header.
func (m *Manager) Resume(ctx context.Context) bool {
	hasAccess := storedKeyPresent(m.store, tokenstore.KeyAccessToken)
	hasRefresh := storedKeyPresent(m.store, tokenstore.KeyRefreshToken)
	blob, hasUser := tokenstore.UserBlob(m.store)

	var user api.User
	valid := hasAccess && hasRefresh && hasUser
	if valid {
		if err := json.Unmarshal([]byte(blob), &user); err != nil {
			m.log.Warn().Err(err).Msg("cached user record unreadable")
			valid = false
		}
	}
	if !valid {
		if hasAccess || hasRefresh || hasUser {
			if err := m.store.Clear(tokenstore.SessionKeys...); err != nil {
				m.log.Warn().Err(err).Msg("purge partial session state")
			}
		}
		return false
	}

	m.mu.Lock()
	m.state = StateAuthenticated
	m.user = user
	m.hasUser = true
	m.mu.Unlock()

	m.countSession("resumed")
	m.log.Info().Str("user_id", user.ID).Msg("session resumed")
	m.openBoard(ctx, user)
	return true
}

func (m *Manager) Login(ctx context.Context, creds api.Credentials) (api.User, error) {
	m.setState(StateAuthenticating)
	result, err := m.client.Login(ctx, creds)
	if err != nil {
		m.setState(StateUnauthenticated)
		return api.User{}, err
	}
	if err := m.establish(ctx, result); err != nil {
		return api.User{}, err
	}
	m.countSession("login")
	return result.User, nil
}

func (m *Manager) Register(ctx context.Context, req api.SignupRequest) (api.User, error) {
	m.setState(StateAuthenticating)
	result, err := m.client.Signup(ctx, req)
	if err != nil {
		m.setState(StateUnauthenticated)
		return api.User{}, err
	}
	if err := m.establish(ctx, result); err != nil {
		return api.User{}, err
	}
	m.countSession("signup")
	return result.User, nil
}

func (m *Manager) establish(ctx context.Context, result api.AuthResult) error {
	if err := tokenstore.SetTokens(m.store, tokenstore.TokenPair{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}); err != nil {
		m.setState(StateUnauthenticated)
		return fmt.Errorf("session: persist tokens: %w", err)
	}
	if err := m.persistUser(result.User); err != nil {
		m.setState(StateUnauthenticated)
		return err
	}

	m.mu.Lock()
	m.state = StateAuthenticated
	m.user = result.User
	m.hasUser = true
	m.mu.Unlock()

	m.openBoard(ctx, result.User)
	return nil
}

func (m *Manager) openBoard(ctx context.Context, user api.User) {
	m.cache.SetOwner(user.ID)
	m.cache.Load(ctx)

	projectID, err := m.client.DefaultProjectID(ctx)
	if err != nil {
		// Realtime stays down; the REST path still works and a later login
		// or refresh retriggers the connect.
		m.log.Warn().Err(err).Msg("realtime not connected, default project unresolved")
		return
	}
	m.channel.Connect(m.runCtx, projectID)
}

// Logout ends the session locally: no remote call, tokens gone, channel
// closed, cache cleared.
func (m *Manager) Logout() {
	if err := m.store.Clear(tokenstore.SessionKeys...); err != nil {
		m.log.Warn().Err(err).Msg("clear token store on logout")
	}
	m.teardown()
	m.countSession("logout")
}

// remoteSessionEnded runs on the HTTP client's failed-refresh path; the token
// store is already cleared by then.
func (m *Manager) remoteSessionEnded() {
	m.teardown()
	m.countSession("remote_logout")
	m.log.Info().Msg("session ended by failed token refresh")

	m.endedMu.Lock()
	subs := make([]func(), len(m.endedSubs))
	copy(subs, m.endedSubs)
	m.endedMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (m *Manager) teardown() {
	m.channel.Close()
	m.cache.Clear()
	m.mu.Lock()
	m.state = StateUnauthenticated
	m.user = api.User{}
	m.hasUser = false
	m.mu.Unlock()
}

// RefreshUser re-fetches the current user while staying authenticated. A
// failure is treated as an invalidated session, not a transient error.
func (m *Manager) RefreshUser(ctx context.Context) (api.User, error) {
	if m.State() != StateAuthenticated {
		return api.User{}, ErrNotAuthenticated
	}
	user, err := m.client.Me(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("user refetch failed, forcing logout")
		m.Logout()
		return api.User{}, err
	}
	if err := m.persistUser(user); err != nil {
		m.log.Warn().Err(err).Msg("persist refreshed user")
	}

	m.mu.Lock()
	m.user = user
	m.hasUser = true
	m.mu.Unlock()
	return user, nil
}

func (m *Manager) persistUser(user api.User) error {
	blob, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("session: encode user record: %w", err)
	}
	return tokenstore.SetUserBlob(m.store, string(blob))
}

// TokenExpiry reports the access token's exp claim, decoded without
// verification: display-only, expiry is still enforced solely by the remote
// API rejecting the token.
func (m *Manager) TokenExpiry() (time.Time, bool) {
	token, ok := m.store.Get(tokenstore.KeyAccessToken)
	if !ok || token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func storedKeyPresent(s tokenstore.Store, key string) bool {
	v, ok := s.Get(key)
	return ok && strings.TrimSpace(v) != ""
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) countSession(event string) {
	if m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}
