// Command webhook-test sends one signed test ping to the configured destination
// without touching the queue, and prints the receiver's answer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/platehaus/storefront/internal/callbacks"
	"github.com/platehaus/storefront/pkg/storefront"
)

// SourceCLI marks pings sent from this command.
const SourceCLI = "cli_test"

func main() {
	configPath := flag.String("config", "", "path to config yaml; empty uses defaults plus environment")
	destination := flag.String("url", "", "override the stored destination URL")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("webhook_test.dotenv_load_failed")
	}

	cfg, err := storefront.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("webhook_test.config_load_failed")
	}
	cfg.Webhooks.WorkerEnabled = false

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app, err := storefront.NewApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("webhook_test.init_failed")
	}
	code := run(ctx, app, *destination)
	if err := app.Close(); err != nil {
		app.Logger.Error().Err(err).Msg("webhook_test.close_failed")
	}
	os.Exit(code)
}

func run(ctx context.Context, app *storefront.App, destination string) int {
	settings := app.Settings.Get(ctx)
	if destination != "" {
		if settings == nil {
			fmt.Fprintln(os.Stderr, "no settings row to override; run the server once to seed it")
			return 1
		}
		copied := *settings
		copied.DestinationURL = destination
		copied.Enabled = true
		settings = &copied
	}

	id, out, err := callbacks.Ping(ctx, app.Sender, settings, SourceCLI, time.Now())
	if errors.Is(err, callbacks.ErrNotConfigured) {
		fmt.Fprintln(os.Stderr, "webhooks are not configured: set enabled and destination_url, or pass -url")
		return 1
	}
	if err != nil {
		app.Logger.Error().Err(err).Msg("webhook_test.ping_failed")
		return 1
	}

	fmt.Printf("ping %s -> status %d in %s\n", id, out.StatusCode, out.Duration.Round(time.Millisecond))
	if out.ResponseBody != "" {
		fmt.Printf("response: %s\n", out.ResponseBody)
	}
	if settings.SigningSecret == "" {
		fmt.Println("warning: no signing secret configured, request was unsigned")
	}
	if !out.Success {
		fmt.Fprintf(os.Stderr, "delivery failed (%s): %s\n", out.Kind, out.Error)
		return 1
	}
	return 0
}
