package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/boardsync/internal/api"
	"github.com/ent0n29/boardsync/internal/board"
	"github.com/ent0n29/boardsync/internal/config"
	"github.com/ent0n29/boardsync/internal/httpapi"
	"github.com/ent0n29/boardsync/internal/observability"
	"github.com/ent0n29/boardsync/internal/realtime"
	"github.com/ent0n29/boardsync/internal/session"
	"github.com/ent0n29/boardsync/internal/tokenstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config error")
	}
	logger := newLogger(cfg.Env)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := tokenstore.NewFileStore(cfg.StateDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("token store init failed")
	}

	client, err := api.New(api.Config{
		BaseURL:     cfg.APIBaseURL,
		Store:       store,
		Logger:      logger,
		Metrics:     metrics,
		HTTPTimeout: cfg.HTTPTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api client init failed")
	}

	channel, err := realtime.NewChannel(realtime.Config{
		URL: cfg.RealtimeURL,
		Tokens: func() (string, bool) {
			return store.Get(tokenstore.KeyAccessToken)
		},
		Logger:           logger,
		Metrics:          metrics,
		HandshakeTimeout: cfg.RealtimeHandshakeTimeout,
		BackoffBase:      cfg.RealtimeBackoffBase,
		MaxAttempts:      cfg.RealtimeMaxAttempts,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("realtime channel init failed")
	}

	cache := board.NewCache(client, channel, store, logger, metrics)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	sessions := session.NewManager(runCtx, store, client, channel, cache, logger, metrics)

	// Pump inbound push events into the cache for the process lifetime.
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case ev := <-channel.Events():
				cache.Apply(ev)
			}
		}
	}()

	if sessions.Resume(runCtx) {
		logger.Info().Msg("previous session resumed")
	} else {
		logger.Info().Msg("starting signed out")
	}

	bridge := httpapi.New(cfg, sessions, cache, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: bridge.Router(),
	}

	go func() {
		logger.Info().Str("addr", cfg.BindAddr).Msg("bridge listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	runCancel()
	channel.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	logger.Info().Msg("shutdown complete")
}

func newLogger(env string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if strings.EqualFold(env, "production") {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}
