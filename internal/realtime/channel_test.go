package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func staticTokens(token string) TokenSource {
	return func() (string, bool) { return token, token != "" }
}

func newTestChannel(t *testing.T, serverURL string, tokens TokenSource) *Channel {
	t.Helper()
	ch, err := NewChannel(Config{
		URL:          serverURL,
		Tokens:       tokens,
		Logger:       zerolog.Nop(),
		BackoffBase:  5 * time.Millisecond,
		MaxAttempts:  3,
		RefreshGrace: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewChannel() error = %v", err)
	}
	return ch
}

func TestConnectSendsJoinFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joins := make(chan frame, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var f frame
		if err := conn.ReadJSON(&f); err == nil {
			joins <- f
		}
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch := newTestChannel(t, srv.URL, staticTokens("tok"))
	defer ch.Close()
	ch.Connect(context.Background(), "9")

	select {
	case f := <-joins:
		if f.Event != eventJoin || f.Room != "project:9" {
			t.Fatalf("join frame = %+v, want join project:9", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no join frame received")
	}
}

func TestInboundEventsAreDecoded(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil { // join
			return
		}
		payload, _ := json.Marshal(map[string]any{
			"id": 42, "title": "Pushed", "status": "done", "createdAt": "2026-01-02T03:04:05Z",
		})
		_ = conn.WriteJSON(frame{Event: EventTaskCreated, Data: payload})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch := newTestChannel(t, srv.URL, staticTokens("tok"))
	defer ch.Close()
	ch.Connect(context.Background(), "9")

	select {
	case ev := <-ch.Events():
		if ev.Type != EventTaskCreated {
			t.Fatalf("event type = %q, want %q", ev.Type, EventTaskCreated)
		}
		if ev.Task == nil || ev.Task.ID != "42" || ev.Task.Status != "Done" {
			t.Fatalf("unexpected task: %+v", ev.Task)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}
}

func TestInvalidTokenTriggersRedialWithFreshToken(t *testing.T) {
	var current atomic.Value
	current.Store("stale")

	upgrader := websocket.Upgrader{}
	tokens := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		tokens <- token
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil { // join
			return
		}
		if token == "stale" {
			_ = conn.WriteJSON(frame{Event: eventInvalidToken})
			// Mimic the HTTP client's refresh landing while the channel waits.
			current.Store("fresh")
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	source := func() (string, bool) { return current.Load().(string), true }
	ch := newTestChannel(t, srv.URL, source)
	defer ch.Close()
	ch.Connect(context.Background(), "9")

	first := <-tokens
	if first != "stale" {
		t.Fatalf("first dial token = %q, want stale", first)
	}
	select {
	case second := <-tokens:
		if second != "fresh" {
			t.Fatalf("redial token = %q, want fresh", second)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no redial after invalid token")
	}
}

func TestReconnectAbandonsAfterCap(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := newTestChannel(t, srv.URL, staticTokens("tok"))
	defer ch.Close()
	ch.Connect(context.Background(), "9")

	// 1 initial dial + MaxAttempts retries, then the loop gives up.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hits.Load() >= 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	settled := hits.Load()
	time.Sleep(100 * time.Millisecond)
	if got := hits.Load(); got != settled || got > 4 {
		t.Fatalf("dial attempts = %d (settled %d), want to stop at 4", got, settled)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"http://x.test":  "ws://x.test",
		"https://x.test": "wss://x.test",
		"ws://x.test/":   "ws://x.test",
	}
	for in, want := range cases {
		got, err := normalizeURL(in)
		if err != nil {
			t.Fatalf("normalizeURL(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("normalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := normalizeURL("ftp://x.test"); err == nil {
		t.Fatalf("normalizeURL should reject ftp scheme")
	}
}

func TestDecodeEventDeleted(t *testing.T) {
	ev, ok := decodeEvent(frame{Event: EventTaskDeleted, Data: json.RawMessage(`{"id":7}`)})
	if !ok || ev.ID != "7" {
		t.Fatalf("decodeEvent() = %+v, %v", ev, ok)
	}
	if _, ok := decodeEvent(frame{Event: "mystery", Data: json.RawMessage(`{}`)}); ok {
		t.Fatalf("unknown event should not decode")
	}
	if !strings.HasPrefix(EventTaskDeleted, "task_") {
		t.Fatalf("unexpected event name %q", EventTaskDeleted)
	}
}
