package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/platehaus/storefront/internal/httpserver"
	"github.com/platehaus/storefront/pkg/storefront"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config yaml; empty uses defaults plus environment")
	flag.Parse()

	// .env is optional; real deployments inject the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("server.dotenv_load_failed")
	}

	cfg, err := storefront.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("server.config_load_failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := storefront.NewApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("server.init_failed")
	}
	logger := app.Logger

	server := httpserver.New(cfg, app.Handler())
	app.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", server.Addr()).Msg("server.listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server.listen_failed")
		}
	case <-ctx.Done():
		logger.Info().Msg("server.shutdown_requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server.shutdown_failed")
	}
	// Stops the worker after the in-flight drain, then closes stores.
	if err := app.Close(); err != nil {
		logger.Error().Err(err).Msg("server.close_failed")
		os.Exit(1)
	}
	logger.Info().Msg("server.stopped")
}
