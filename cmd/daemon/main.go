// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/taskstream/internal/config"
	"github.com/ManuGH/taskstream/internal/daemon"
	"github.com/ManuGH/taskstream/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded.
	log.Configure(log.Config{
		Level:   "info",
		Service: "taskstream",
		Version: version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Determine config path:
	// - Explicit via --config
	// - Otherwise auto-load ${TASKSTREAM_DATA}/config.yaml if it exists
	explicitConfigPath := strings.TrimSpace(*configPath)
	effectiveConfigPath := explicitConfigPath
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("TASKSTREAM_DATA", ""))
		if dataDir != "" {
			autoPath := filepath.Join(dataDir, "config.yaml")
			if _, err := os.Stat(autoPath); err == nil {
				effectiveConfigPath = autoPath
			}
		}
	}

	// Load configuration with precedence: ENV > File > Defaults
	cfg, err := config.NewLoader(effectiveConfigPath, version).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	// Re-configure logger with loaded configuration.
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})

	if effectiveConfigPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str(log.FieldPath, effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env").
			Msg("loaded configuration from environment and defaults")
	}

	logger.Info().
		Str("event", "daemon.starting").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Server.ListenAddr).
		Str("store_backend", cfg.Store.Backend).
		Msg("starting taskstream")

	app, err := daemon.New(cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.open_failed").
			Msg("failed to open daemon")
	}

	runErr := app.Run(ctx)
	if closeErr := app.Close(); closeErr != nil {
		logger.Error().
			Err(closeErr).
			Str("event", "daemon.close_failed").
			Msg("failed to close stores cleanly")
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Fatal().
			Err(runErr).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}
	logger.Info().
		Str("event", "daemon.stopped").
		Msg("taskstream stopped")
}
