// Package realtime maintains the best-effort push channel that mirrors task
// mutations between concurrently connected sessions. It is a convenience
// notification path, never a source of truth: REST responses stay
// authoritative and nothing here is acknowledged or ordered.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/boardsync/internal/api"
	"github.com/ent0n29/boardsync/internal/observability"
)

const publishWriteTimeout = 2 * time.Second

var (
	errNoToken      = errors.New("realtime: no access token available")
	errInvalidToken = errors.New("realtime: server rejected token")
)

// TokenSource yields the current access token. Reading it fresh on every dial
// means a reconnect after refresh automatically carries the new token.
type TokenSource func() (string, bool)

type Config struct {
	URL              string
	Tokens           TokenSource
	Logger           zerolog.Logger
	Metrics          *observability.Metrics
	HandshakeTimeout time.Duration
	BackoffBase      time.Duration
	MaxAttempts      int
	RefreshGrace     time.Duration
}

// Channel is a websocket client with reconnect-on-failure. Connect only while
// a session is authenticated; the access token rides the dial URL and the
// connection joins a single project room so pushes stay scoped.
type Channel struct {
	url          string
	tokens       TokenSource
	dialer       websocket.Dialer
	log          zerolog.Logger
	metrics      *observability.Metrics
	backoffBase  time.Duration
	maxAttempts  int
	refreshGrace time.Duration

	events chan Event

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	room   string
}

func NewChannel(cfg Config) (*Channel, error) {
	base, err := normalizeURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Tokens == nil {
		return nil, errors.New("realtime: token source is required")
	}
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 4 * time.Second
	}
	backoff := cfg.BackoffBase
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	grace := cfg.RefreshGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &Channel{
		url:          base,
		tokens:       cfg.Tokens,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		backoffBase:  backoff,
		maxAttempts:  maxAttempts,
		refreshGrace: grace,
		events:       make(chan Event, 256),
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshake,
		},
	}, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("realtime: URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.New("realtime: invalid URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.New("realtime: unsupported URL scheme")
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// Events is the inbound push stream. Events are dropped, not queued
// unboundedly, if the consumer falls behind.
func (ch *Channel) Events() <-chan Event {
	return ch.events
}

// Connect starts (or restarts) the connection loop scoped to the given
// project. A fresh Connect is also the manual reconnect trigger once the
// backoff cap has abandoned the loop.
func (ch *Channel) Connect(ctx context.Context, projectID string) {
	ch.mu.Lock()
	if ch.cancel != nil {
		ch.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	ch.cancel = cancel
	ch.room = "project:" + strings.TrimSpace(projectID)
	ch.mu.Unlock()

	go ch.run(runCtx)
}

// Close tears the connection down and stops reconnecting.
func (ch *Channel) Close() {
	ch.mu.Lock()
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	conn := ch.conn
	ch.conn = nil
	ch.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (ch *Channel) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			if attempt > ch.maxAttempts {
				ch.log.Warn().Int("attempts", ch.maxAttempts).Msg("realtime reconnect abandoned")
				return
			}
			delay := ch.backoffBase << (attempt - 1)
			if ch.metrics != nil {
				ch.metrics.RealtimeReconnects.Inc()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		conn, err := ch.dialAndJoin(ctx)
		if err != nil {
			ch.log.Warn().Err(err).Msg("realtime connect failed")
			attempt++
			continue
		}
		ch.setConn(conn)
		attempt = 0

		err = ch.readLoop(ctx, conn)
		ch.setConn(nil)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errInvalidToken) {
			// The HTTP client is refreshing on its own 401 path; give it a
			// moment, then redial with the freshly stored token.
			ch.log.Info().Msg("realtime token rejected, waiting for refresh")
			select {
			case <-ctx.Done():
				return
			case <-time.After(ch.refreshGrace):
			}
			continue
		}
		ch.log.Warn().Err(err).Msg("realtime disconnected")
		attempt = 1
	}
}

func (ch *Channel) dialAndJoin(ctx context.Context) (*websocket.Conn, error) {
	token, ok := ch.tokens()
	if !ok || strings.TrimSpace(token) == "" {
		return nil, errNoToken
	}

	target := ch.url + "/ws?token=" + url.QueryEscape(token)
	conn, resp, err := ch.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errInvalidToken
		}
		return nil, err
	}

	join := frame{Event: eventJoin, Room: ch.currentRoom()}
	_ = conn.SetWriteDeadline(time.Now().Add(publishWriteTimeout))
	if err := conn.WriteJSON(join); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

func (ch *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Event {
		case eventJoined:
			ch.log.Debug().Str("room", f.Room).Msg("realtime room joined")
		case eventInvalidToken:
			return errInvalidToken
		default:
			ev, ok := decodeEvent(f)
			if !ok {
				continue
			}
			if ch.metrics != nil {
				ch.metrics.RealtimeEvents.WithLabelValues("inbound", ev.Type).Inc()
			}
			select {
			case ch.events <- ev:
			default:
				ch.log.Warn().Str("type", ev.Type).Msg("realtime event dropped, consumer behind")
			}
		}
	}
}

func (ch *Channel) setConn(conn *websocket.Conn) {
	ch.mu.Lock()
	ch.conn = conn
	ch.mu.Unlock()
}

func (ch *Channel) currentConn() *websocket.Conn {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.conn
}

func (ch *Channel) currentRoom() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.room
}

// Outbound mirror ------------------------------------------------------------

func (ch *Channel) PublishTaskCreated(t api.Task) {
	ch.publish(EventTaskCreated, api.WireFromTask(t))
}

func (ch *Channel) PublishTaskUpdated(t api.Task) {
	ch.publish(EventTaskUpdated, api.WireFromTask(t))
}

func (ch *Channel) PublishTaskDeleted(id string) {
	ch.publish(EventTaskDeleted, wireRef{ID: api.WireFromTask(api.Task{ID: id}).ID})
}

// publish is fire-and-forget: with no live connection, or on a write error,
// the event is dropped and peers catch up from REST.
func (ch *Channel) publish(event string, data any) {
	conn := ch.currentConn()
	if conn == nil {
		ch.log.Debug().Str("type", event).Msg("realtime publish skipped, not connected")
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		ch.log.Warn().Err(err).Str("type", event).Msg("realtime publish encode")
		return
	}
	f := frame{Event: event, ID: uuid.NewString(), Data: raw}
	_ = conn.SetWriteDeadline(time.Now().Add(publishWriteTimeout))
	if err := conn.WriteJSON(f); err != nil {
		ch.log.Warn().Err(err).Str("type", event).Msg("realtime publish write")
		return
	}
	_ = conn.SetWriteDeadline(time.Time{})
	if ch.metrics != nil {
		ch.metrics.RealtimeEvents.WithLabelValues("outbound", event).Inc()
	}
}
