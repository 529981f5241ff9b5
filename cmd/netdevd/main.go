package main

import (
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/netdevd/internal/app"
	"github.com/dokzlo13/netdevd/internal/config"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	resetState := flag.Bool("reset-state", false, "Clear persisted resource bindings on startup")
	once := flag.Bool("once", false, "Run a single reconcile cycle and exit")
	dryRun := flag.Bool("dry-run", false, "Plan changes without writing to the device")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *dryRun {
		cfg.Reconciler.DryRun = true
	}

	// Setup logging
	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Msg("Starting netdevd")

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	// Handle reset state flag
	if *resetState {
		log.Info().Msg("Clearing persisted bindings (--reset-state)")
		if err := application.ResetState(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to clear bindings")
		}
	}

	if *once {
		cycle, err := application.RunOnce(ctx)
		application.Close()
		if err != nil {
			log.Fatal().Err(err).Msg("Reconcile cycle failed")
		}
		if cycle.Failed() > 0 {
			os.Exit(1)
		}
		return
	}

	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Application error")
	}

	// Graceful shutdown
	application.Close()
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
