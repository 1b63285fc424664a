package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lmoretti/voxbridge/internal/config"
	"github.com/lmoretti/voxbridge/internal/functions"
	"github.com/lmoretti/voxbridge/internal/httpapi"
	"github.com/lmoretti/voxbridge/internal/observability"
	"github.com/lmoretti/voxbridge/internal/relay"
	"github.com/lmoretti/voxbridge/internal/session"
)

func main() {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallback := observability.NewLogger("info", false)
		fallback.Fatal().Err(err).Msg("config error")
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogPretty)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	registry := functions.NewRegistry()
	functions.RegisterBuiltins(registry)

	if cfg.DatabaseURL != "" {
		ctx := context.Background()
		directory, err := functions.NewDirectory(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("contact directory init failed")
		}
		defer directory.Close()
		directory.Register(registry)
		logger.Info().Msg("contact directory enabled")
	}

	sessions := session.NewStore(cfg.SessionIdleTimeout)
	engine := relay.NewEngine(cfg, sessions, registry, metrics, logger)
	server := httpapi.New(cfg, engine, metrics, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sessions.StartJanitor(runCtx, 15*time.Second)

	logger.Info().Str("addr", cfg.BindAddr).Strs("functions", registry.Names()).Msg("server listening")
	if err := server.Run(runCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("shutdown complete")
}
