package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/zeynepyuksell/fleeky-chat/internal/api"
	"github.com/zeynepyuksell/fleeky-chat/internal/chat"
	"github.com/zeynepyuksell/fleeky-chat/internal/config"
	"github.com/zeynepyuksell/fleeky-chat/internal/handlers"
	"github.com/zeynepyuksell/fleeky-chat/internal/identity"
	"github.com/zeynepyuksell/fleeky-chat/internal/store"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Room directory: PostgreSQL, SQLite, or in-memory.
	var (
		dirStore store.DirectoryStore
		err      error
	)
	switch {
	case cfg.DatabaseURL != "":
		dirStore, err = store.NewPostgresDirectory(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("room directory on PostgreSQL")
	case cfg.SQLitePath != "":
		dirStore, err = store.NewSQLiteDirectory(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("room directory on SQLite")
	default:
		dirStore = store.NewMemoryDirectory()
		logger.Warn().Msg("room directory in memory, data will not survive restarts")
	}
	defer dirStore.Close()

	// Message logs: Redis or in-memory.
	var streamStore store.StreamStore
	if cfg.RedisURL != "" {
		streamStore, err = store.NewRedisStream(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		logger.Info().Msg("message streams on Redis")
	} else {
		streamStore = store.NewMemoryStream()
		logger.Warn().Msg("message streams in memory, data will not survive restarts")
	}
	defer streamStore.Close()

	dirCfg := chat.DefaultDirectoryConfig()
	dirCfg.CodeAttempts = cfg.CodeAttempts
	dirCfg.CASRetries = cfg.CASRetries
	dirCfg.DeletePolicy = chat.DeletePolicy(cfg.RoomDeletePolicy)

	directory := chat.NewDirectory(dirStore, streamStore, dirCfg, logger)
	stream := chat.NewStream(dirStore, streamStore, logger)
	subs := chat.NewSubscriptionManager(directory, stream, logger)

	var provider identity.Provider
	if cfg.JWTSecret != "" {
		provider = identity.NewJWTProvider(cfg.JWTSecret)
	} else {
		logger.Warn().Msg("JWT_SECRET not set, using development identities")
		provider = identity.StaticProvider{
			"dev-alice": {ID: "alice", Email: "alice@example.com", EmailVerified: true},
			"dev-bob":   {ID: "bob", Email: "bob@example.com", EmailVerified: true},
		}
	}

	h := handlers.NewHandler(directory, stream, subs, dirStore, streamStore, cfg.RequestTimeout, logger)
	router := api.NewRouter(logger, h, provider)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket sessions are long-lived
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	logger.Info().Msg("server stopped")
}
