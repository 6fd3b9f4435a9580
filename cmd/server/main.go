package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentrelay/relay/internal/api"
	"github.com/agentrelay/relay/internal/config"
	"github.com/agentrelay/relay/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
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

	// Open the relay database. A persistence failure here aborts startup
	// rather than serving degraded traffic.
	st, err := store.NewSQLiteStore(ctx, cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open relay database")
	}
	logger.Info().Str("path", cfg.DBPath).Msg("relay database ready")

	if cfg.AdminSecret == "" {
		logger.Warn().Msg("ADMIN_SECRET not set; approve/revoke endpoints are disabled")
	}

	// Create router
	router := api.NewRouter(logger, st, cfg)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting agent relay")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down relay...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Close the store only after in-flight requests have drained. With the
	// rollback journal this avoids leaving a hot journal on shared storage.
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close relay database")
	}

	logger.Info().Msg("relay stopped")
}
