// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// papercastd is the bookmark-archiving daemon: it polls bookmark feeds,
// renders saved URLs to quality-checked PDFs with a headless browser,
// downloads attached media, transcribes podcast episodes, and files every
// artifact into ISO-week bins under the data directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/papercast/internal/config"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("papercastd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	cfg := config.FromEnv()
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "papercast",
	})
	logger := log.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("configuration invalid")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("event", "daemon.starting").
		Str("version", version.Version).
		Str("data_dir", cfg.DataDir).
		Str("redis", cfg.RedisAddr()).
		Msg("papercastd starting")

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("papercastd stopped")
}
