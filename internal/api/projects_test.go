package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ent0n29/boardsync/internal/tokenstore"
)

func TestDefaultProjectReusesMemoizedID(t *testing.T) {
	var listCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		listCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, store := newTestClient(t, srv.URL)
	if err := store.Set(tokenstore.KeyDefaultProjectID, "5"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	id, err := client.DefaultProjectID(context.Background())
	if err != nil {
		t.Fatalf("DefaultProjectID() error = %v", err)
	}
	if id != "5" {
		t.Fatalf("id = %q, want 5", id)
	}
	if got := listCalls.Load(); got != 0 {
		t.Fatalf("server hit %d times for a memoized id, want 0", got)
	}
}

func TestDefaultProjectTakesFirstListed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/" || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":9,"name":"Alpha","teamId":1},{"id":10,"name":"Beta","teamId":1}]`))
	}))
	defer srv.Close()

	client, store := newTestClient(t, srv.URL)
	seedTokens(t, store, "a", "r")

	id, err := client.DefaultProjectID(context.Background())
	if err != nil {
		t.Fatalf("DefaultProjectID() error = %v", err)
	}
	if id != "9" {
		t.Fatalf("id = %q, want 9", id)
	}
	if memoized, _ := store.Get(tokenstore.KeyDefaultProjectID); memoized != "9" {
		t.Fatalf("memoized id = %q, want 9", memoized)
	}
}

func TestDefaultProjectCreatesUnderFirstTeam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/projects/" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`[]`))
		case r.URL.Path == "/teams" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`[{"id":3,"name":"Core"}]`))
		case r.URL.Path == "/projects/" && r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"id":77,"name":"Main Board","teamId":3}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, store := newTestClient(t, srv.URL)
	seedTokens(t, store, "a", "r")

	id, err := client.DefaultProjectID(context.Background())
	if err != nil {
		t.Fatalf("DefaultProjectID() error = %v", err)
	}
	if id != "77" {
		t.Fatalf("id = %q, want 77", id)
	}
}

func TestDefaultProjectNoTeamIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client, store := newTestClient(t, srv.URL)
	seedTokens(t, store, "a", "r")

	_, err := client.DefaultProjectID(context.Background())
	if !errors.Is(err, ErrNoTeamAvailable) {
		t.Fatalf("DefaultProjectID() error = %v, want ErrNoTeamAvailable", err)
	}
}
