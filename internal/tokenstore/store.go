// Package tokenstore is the durable mirror of the active session: access and
// refresh tokens, the cached user record, and a couple of namespaced client-side
// keys (default project id, created-task attribution). It is the Go analog of
// the browser's origin-scoped localStorage: plain key-value, no encryption, no
// expiry enforcement — token expiry is only ever discovered by the remote API.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Well-known keys. Everything else stored through Set is caller-namespaced.
const (
	KeyAccessToken      = "access_token"
	KeyRefreshToken     = "refresh_token"
	KeyUser             = "user"
	KeyDefaultProjectID = "default_project_id"

	createdTasksPrefix = "created_tasks."
)

// SessionKeys are the keys cleared on logout. The default project id and the
// attribution lists survive a logout on purpose: they are not credentials.
var SessionKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// Store is durable key-value storage that survives process restarts but not
// explicit clears.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Clear(keys ...string) error
}

// FileStore keeps the whole key space in a single JSON file, rewritten
// atomically on every mutation. The file is small (a handful of keys) so the
// full rewrite is cheap.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("tokenstore: state dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("tokenstore: create state dir: %w", err)
	}
	s := &FileStore{
		path:   filepath.Join(dir, "state.json"),
		values: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tokenstore: read %s: %w", s.path, err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &s.values); err != nil {
		return fmt.Errorf("tokenstore: parse %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("tokenstore: key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flushLocked()
}

func (s *FileStore) Clear(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return s.flushLocked()
}

// flushLocked writes the key space through a temp file and rename so a crash
// mid-write never leaves a truncated state file behind.
func (s *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("tokenstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("tokenstore: rename %s: %w", tmp, err)
	}
	return nil
}

// Typed helpers --------------------------------------------------------------

// TokenPair is the stored credential pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

func Tokens(s Store) (TokenPair, bool) {
	access, okA := s.Get(KeyAccessToken)
	refresh, okR := s.Get(KeyRefreshToken)
	if !okA || !okR || strings.TrimSpace(access) == "" || strings.TrimSpace(refresh) == "" {
		return TokenPair{}, false
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, true
}

func SetTokens(s Store, pair TokenPair) error {
	if err := s.Set(KeyAccessToken, pair.AccessToken); err != nil {
		return err
	}
	return s.Set(KeyRefreshToken, pair.RefreshToken)
}

// UserBlob stores an opaque JSON user record; the store does not interpret it.
func UserBlob(s Store) (string, bool) {
	v, ok := s.Get(KeyUser)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func SetUserBlob(s Store, blob string) error {
	return s.Set(KeyUser, blob)
}

// CreatedTaskIDs returns the per-user list of task ids this client created.
// Used only for attribution display when the remote API omits the creator.
func CreatedTaskIDs(s Store, userID string) []string {
	raw, ok := s.Get(createdTasksPrefix + userID)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

func AddCreatedTaskID(s Store, userID, taskID string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil
	}
	ids := CreatedTaskIDs(s, userID)
	for _, id := range ids {
		if id == taskID {
			return nil
		}
	}
	ids = append(ids, taskID)
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("tokenstore: encode created task ids: %w", err)
	}
	return s.Set(createdTasksPrefix+userID, string(raw))
}
