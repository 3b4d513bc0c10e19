// Command worker runs the video-stats background worker: it discovers new
// videos for tracked accounts, schedules and dispatches metric refreshes on
// a decaying cadence, and serves a small admin HTTP API over the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tummerk/video-stats/internal/config"
	"github.com/tummerk/video-stats/internal/daemon"
	xslog "github.com/tummerk/video-stats/internal/log"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	checkConfig := flag.Bool("check-config", false, "validate environment configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("video-stats-worker %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if *checkConfig {
		if _, err := config.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("configuration OK")
		os.Exit(0)
	}

	xslog.Configure(xslog.Config{Level: "info", Output: os.Stdout, Service: "video-stats-worker"})
	logger := xslog.WithComponent("main")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	xslog.Configure(xslog.Config{Level: cfg.LogLevel, Output: os.Stdout, Service: "video-stats-worker"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := daemon.Bootstrap(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap worker")
	}

	logger.Info().
		Str("version", version).
		Str("admin_listen", cfg.AdminListenAddr).
		Str("worker_name", cfg.WorkerName).
		Msg("starting video-stats worker")

	if err := app.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker exited with error")
	}

	logger.Info().Msg("worker exited cleanly")
}
