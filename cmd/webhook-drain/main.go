// Command webhook-drain runs one bounded drain of the webhook queue and exits.
// It is meant for cron or a platform scheduler when webhooks.worker_enabled is false.
// Exit status is 1 when the drain could not run or any entry hit a store error.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/platehaus/storefront/pkg/storefront"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml; empty uses defaults plus environment")
	timeout := flag.Duration("timeout", 5*time.Minute, "upper bound on the whole drain")
	requeueStale := flag.Bool("requeue-stale", true, "release entries stuck in processing before draining")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("drain.dotenv_load_failed")
	}

	cfg, err := storefront.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("drain.config_load_failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	app, err := storefront.NewApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("drain.init_failed")
	}
	os.Exit(run(ctx, app, *requeueStale))
}

func run(ctx context.Context, app *storefront.App, requeueStale bool) int {
	defer func() {
		if err := app.Close(); err != nil {
			app.Logger.Error().Err(err).Msg("drain.close_failed")
		}
	}()

	if requeueStale {
		if n := app.Worker.RequeueStale(ctx); n > 0 {
			app.Logger.Info().Int("count", n).Msg("drain.stale_requeued")
		}
	}

	result, err := app.Worker.Drain(ctx)
	if err != nil {
		app.Logger.Error().Err(err).Msg("drain.failed")
		return 1
	}

	app.Logger.Info().
		Int("due", result.Due).
		Int("delivered", result.Delivered).
		Int("retried", result.Retried).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Int("released", result.Released).
		Int("errors", result.Errors).
		Msg("drain.completed")

	if result.Errors > 0 {
		return 1
	}
	return 0
}
