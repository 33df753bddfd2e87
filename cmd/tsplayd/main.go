// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command tsplayd runs the tsplay playback daemon with its control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/tsplay/internal/config"
	"github.com/ManuGH/tsplay/internal/daemon"
	"github.com/ManuGH/tsplay/internal/log"
	"github.com/ManuGH/tsplay/internal/playlist"
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

	// Safe defaults until the config is loaded.
	log.Configure(log.Config{Level: "info", Service: "tsplay", Version: version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Without -config, ${TSPLAY_DATA_DIR}/config.yaml is used when present.
	path := strings.TrimSpace(*configPath)
	if path == "" {
		auto := filepath.Join(config.ParseString("TSPLAY_DATA_DIR", config.Defaults().DataDir), "config.yaml")
		if _, err := os.Stat(auto); err == nil {
			path = auto
		}
	}

	cfg, err := config.NewLoader(path, version).Load()
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "config.load_failed").Str("config_path", path).Msg("failed to load configuration")
	}

	var initial []playlist.Item
	for _, arg := range flag.Args() {
		initial = append(initial, playlist.NewItem(arg))
	}

	d, err := daemon.New(ctx, cfg, daemon.Options{ConfigPath: path, Initial: initial})
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "daemon.build_failed").Msg("failed to start tsplay")
	}
	if err := d.Run(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("tsplay stopped with error")
		os.Exit(1)
	}
}
