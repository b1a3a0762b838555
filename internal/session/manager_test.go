package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/ent0n29/boardsync/internal/api"
	"github.com/ent0n29/boardsync/internal/tokenstore"
)

type fakeClient struct {
	mu        sync.Mutex
	loginRes  api.AuthResult
	loginErr  error
	meRes     api.User
	meErr     error
	projectID string
	projErr   error
	ended     func()
}

func (f *fakeClient) Login(ctx context.Context, creds api.Credentials) (api.AuthResult, error) {
	return f.loginRes, f.loginErr
}

func (f *fakeClient) Signup(ctx context.Context, req api.SignupRequest) (api.AuthResult, error) {
	return f.loginRes, f.loginErr
}

func (f *fakeClient) Me(ctx context.Context) (api.User, error) {
	return f.meRes, f.meErr
}

func (f *fakeClient) DefaultProjectID(ctx context.Context) (string, error) {
	return f.projectID, f.projErr
}

func (f *fakeClient) OnSessionEnded(fn func()) {
	f.mu.Lock()
	f.ended = fn
	f.mu.Unlock()
}

func (f *fakeClient) fireSessionEnded() {
	f.mu.Lock()
	fn := f.ended
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeChannel struct {
	mu       sync.Mutex
	connects []string
	closes   int
}

func (f *fakeChannel) Connect(ctx context.Context, projectID string) {
	f.mu.Lock()
	f.connects = append(f.connects, projectID)
	f.mu.Unlock()
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

type fakeBoard struct {
	mu     sync.Mutex
	owner  string
	loads  int
	clears int
}

func (f *fakeBoard) SetOwner(userID string) {
	f.mu.Lock()
	f.owner = userID
	f.mu.Unlock()
}

func (f *fakeBoard) Load(ctx context.Context) {
	f.mu.Lock()
	f.loads++
	f.mu.Unlock()
}

func (f *fakeBoard) Clear() {
	f.mu.Lock()
	f.clears++
	f.mu.Unlock()
}

func newTestManager(t *testing.T, client *fakeClient) (*Manager, *fakeChannel, *fakeBoard, *tokenstore.FileStore) {
	t.Helper()
	store, err := tokenstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	channel := &fakeChannel{}
	board := &fakeBoard{}
	m := NewManager(context.Background(), store, client, channel, board, zerolog.Nop(), nil)
	return m, channel, board, store
}

func seedSession(t *testing.T, store *tokenstore.FileStore, user api.User) {
	t.Helper()
	if err := tokenstore.SetTokens(store, tokenstore.TokenPair{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	blob, err := json.Marshal(user)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	if err := tokenstore.SetUserBlob(store, string(blob)); err != nil {
		t.Fatalf("SetUserBlob() error = %v", err)
	}
}

func TestResumeRestoresSession(t *testing.T) {
	client := &fakeClient{projectID: "5"}
	m, channel, board, store := newTestManager(t, client)
	seedSession(t, store, api.User{ID: "7", Username: "sam"})

	if !m.Resume(context.Background()) {
		t.Fatalf("Resume() = false, want true")
	}
	if m.State() != StateAuthenticated {
		t.Fatalf("state = %q, want authenticated", m.State())
	}
	user, ok := m.CurrentUser()
	if !ok || user.ID != "7" {
		t.Fatalf("CurrentUser() = %+v, %v", user, ok)
	}
	board.mu.Lock()
	if board.owner != "7" || board.loads != 1 {
		t.Fatalf("board owner=%q loads=%d", board.owner, board.loads)
	}
	board.mu.Unlock()
	channel.mu.Lock()
	defer channel.mu.Unlock()
	if len(channel.connects) != 1 || channel.connects[0] != "5" {
		t.Fatalf("channel connects = %v, want [5]", channel.connects)
	}
}

func TestResumePurgesPartialState(t *testing.T) {
	cases := map[string]map[string]string{
		"tokens without user": {
			tokenstore.KeyAccessToken:  "a",
			tokenstore.KeyRefreshToken: "r",
		},
		"lone access token": {
			tokenstore.KeyAccessToken: "stale-access-only",
		},
		"lone refresh token": {
			tokenstore.KeyRefreshToken: "stale-refresh-only",
		},
		"user without tokens": {
			tokenstore.KeyUser: `{"id":"7"}`,
		},
	}
	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			m, _, board, store := newTestManager(t, &fakeClient{})
			for key, value := range seed {
				if err := store.Set(key, value); err != nil {
					t.Fatalf("Set(%s) error = %v", key, err)
				}
			}

			if m.Resume(context.Background()) {
				t.Fatalf("Resume() = true with partial state")
			}
			if m.State() != StateUnauthenticated {
				t.Fatalf("state = %q, want unauthenticated", m.State())
			}
			for _, key := range tokenstore.SessionKeys {
				if v, ok := store.Get(key); ok {
					t.Fatalf("partial state survived resume: %s = %q", key, v)
				}
			}
			board.mu.Lock()
			defer board.mu.Unlock()
			if board.loads != 0 {
				t.Fatalf("board loaded despite failed resume")
			}
		})
	}
}

func TestLoginEstablishesSession(t *testing.T) {
	client := &fakeClient{
		loginRes: api.AuthResult{
			AccessToken:  "acc",
			RefreshToken: "ref",
			User:         api.User{ID: "7", Username: "sam"},
		},
		projectID: "5",
	}
	m, channel, board, store := newTestManager(t, client)

	user, err := m.Login(context.Background(), api.Credentials{EmailOrUsername: "sam", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.ID != "7" || m.State() != StateAuthenticated {
		t.Fatalf("user=%+v state=%q", user, m.State())
	}
	pair, ok := tokenstore.Tokens(store)
	if !ok || pair.AccessToken != "acc" || pair.RefreshToken != "ref" {
		t.Fatalf("persisted pair = %+v, %v", pair, ok)
	}
	blob, ok := tokenstore.UserBlob(store)
	if !ok || blob == "" {
		t.Fatalf("user blob not persisted")
	}
	board.mu.Lock()
	if board.owner != "7" {
		t.Fatalf("board owner = %q, want 7", board.owner)
	}
	board.mu.Unlock()
	channel.mu.Lock()
	defer channel.mu.Unlock()
	if len(channel.connects) != 1 {
		t.Fatalf("channel connects = %v", channel.connects)
	}
}

func TestLoginFailureStaysUnauthenticated(t *testing.T) {
	client := &fakeClient{loginErr: &api.Error{Status: 401, Message: "Invalid credentials"}}
	m, channel, _, store := newTestManager(t, client)

	if _, err := m.Login(context.Background(), api.Credentials{EmailOrUsername: "x", Password: "y"}); err == nil {
		t.Fatalf("Login() error = nil, want failure")
	}
	if m.State() != StateUnauthenticated {
		t.Fatalf("state = %q, want unauthenticated", m.State())
	}
	if _, ok := tokenstore.Tokens(store); ok {
		t.Fatalf("tokens persisted after failed login")
	}
	channel.mu.Lock()
	defer channel.mu.Unlock()
	if len(channel.connects) != 0 {
		t.Fatalf("channel connected after failed login")
	}
}

func TestLoginSkipsRealtimeWithoutDefaultProject(t *testing.T) {
	client := &fakeClient{
		loginRes: api.AuthResult{AccessToken: "a", RefreshToken: "r", User: api.User{ID: "7"}},
		projErr:  api.ErrNoTeamAvailable,
	}
	m, channel, board, _ := newTestManager(t, client)

	if _, err := m.Login(context.Background(), api.Credentials{EmailOrUsername: "s", Password: "p"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if m.State() != StateAuthenticated {
		t.Fatalf("state = %q, want authenticated", m.State())
	}
	board.mu.Lock()
	if board.loads != 1 {
		t.Fatalf("board not loaded")
	}
	board.mu.Unlock()
	channel.mu.Lock()
	defer channel.mu.Unlock()
	if len(channel.connects) != 0 {
		t.Fatalf("channel connected with no resolvable project")
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	client := &fakeClient{
		loginRes:  api.AuthResult{AccessToken: "a", RefreshToken: "r", User: api.User{ID: "7"}},
		projectID: "5",
	}
	m, channel, board, store := newTestManager(t, client)
	if _, err := m.Login(context.Background(), api.Credentials{EmailOrUsername: "s", Password: "p"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	m.Logout()

	if m.State() != StateUnauthenticated {
		t.Fatalf("state = %q, want unauthenticated", m.State())
	}
	if _, ok := m.CurrentUser(); ok {
		t.Fatalf("user survived logout")
	}
	if _, ok := tokenstore.Tokens(store); ok {
		t.Fatalf("tokens survived logout")
	}
	channel.mu.Lock()
	if channel.closes != 1 {
		t.Fatalf("channel closes = %d, want 1", channel.closes)
	}
	channel.mu.Unlock()
	board.mu.Lock()
	defer board.mu.Unlock()
	if board.clears != 1 {
		t.Fatalf("board clears = %d, want 1", board.clears)
	}
}

func TestRemoteSessionEndedBroadcasts(t *testing.T) {
	client := &fakeClient{
		loginRes:  api.AuthResult{AccessToken: "a", RefreshToken: "r", User: api.User{ID: "7"}},
		projectID: "5",
	}
	m, channel, board, _ := newTestManager(t, client)
	if _, err := m.Login(context.Background(), api.Credentials{EmailOrUsername: "s", Password: "p"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	endedCount := 0
	m.OnEnded(func() { endedCount++ })
	client.fireSessionEnded()

	if m.State() != StateUnauthenticated {
		t.Fatalf("state = %q, want unauthenticated", m.State())
	}
	if endedCount != 1 {
		t.Fatalf("ended broadcasts = %d, want 1", endedCount)
	}
	channel.mu.Lock()
	if channel.closes != 1 {
		t.Fatalf("channel closes = %d, want 1", channel.closes)
	}
	channel.mu.Unlock()
	board.mu.Lock()
	defer board.mu.Unlock()
	if board.clears != 1 {
		t.Fatalf("board clears = %d, want 1", board.clears)
	}
}

func TestRefreshUserFailureForcesLogout(t *testing.T) {
	client := &fakeClient{
		loginRes:  api.AuthResult{AccessToken: "a", RefreshToken: "r", User: api.User{ID: "7"}},
		projectID: "5",
		meErr:     errors.New("boom"),
	}
	m, _, _, store := newTestManager(t, client)
	if _, err := m.Login(context.Background(), api.Credentials{EmailOrUsername: "s", Password: "p"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if _, err := m.RefreshUser(context.Background()); err == nil {
		t.Fatalf("RefreshUser() error = nil, want failure")
	}
	if m.State() != StateUnauthenticated {
		t.Fatalf("state = %q, want unauthenticated after failed refetch", m.State())
	}
	if _, ok := tokenstore.Tokens(store); ok {
		t.Fatalf("tokens survived forced logout")
	}
}

func TestRefreshUserWhileSignedOut(t *testing.T) {
	m, _, _, _ := newTestManager(t, &fakeClient{})
	if _, err := m.RefreshUser(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("RefreshUser() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	m, _, _, store := newTestManager(t, &fakeClient{})

	if _, ok := m.TokenExpiry(); ok {
		t.Fatalf("TokenExpiry() ok with no token")
	}

	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7",
		"exp": exp.Unix(),
	}).SignedString([]byte("local-test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if err := tokenstore.SetTokens(store, tokenstore.TokenPair{AccessToken: token, RefreshToken: "r"}); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}

	got, ok := m.TokenExpiry()
	if !ok || !got.Equal(exp) {
		t.Fatalf("TokenExpiry() = %v, %v, want %v", got, ok, exp)
	}
}
