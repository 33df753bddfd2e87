// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
)

const maxResumeCapacity = 10000

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks a resolved configuration and reports every problem at once.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(err error) { errs = append(errs, err) }

	if cfg.DataDir == "" {
		add(invalid("dataDir must be set"))
	}
	if !slices.Contains([]string{"pcr", "wall"}, cfg.Engine.Clock) {
		add(invalid("engine.clock must be pcr or wall, got %q", cfg.Engine.Clock))
	}
	if cfg.Engine.ChunkPackets <= 0 {
		add(invalid("engine.chunkPackets must be > 0"))
	}
	if cfg.Engine.Jitter <= 0 {
		add(invalid("engine.jitter must be > 0"))
	}
	if cfg.Engine.NominalBitrate <= 0 {
		add(invalid("engine.nominalBitrate must be > 0"))
	}
	if cfg.Engine.DisplayDelay < 0 {
		add(invalid("engine.displayDelay must be >= 0"))
	}
	if cfg.Engine.ExtendPoll <= 0 || cfg.Engine.ExtendWait <= 0 || cfg.Engine.ExtendIdle <= 0 {
		add(invalid("engine extend timings must be > 0"))
	}

	if !slices.Contains([]string{"none", "skip", "throttle", "mute"}, cfg.Drop.Policy) {
		add(invalid("drop.policy must be none, skip, throttle or mute, got %q", cfg.Drop.Policy))
	}
	if cfg.Drop.Threshold < 0 {
		add(invalid("drop.threshold must be >= 0"))
	}
	if cfg.Drop.ThrottleRatio <= 0 || cfg.Drop.ThrottleRatio > 1 {
		add(invalid("drop.throttleRatio must be in (0, 1]"))
	}

	if !slices.Contains(cfg.Speed.Rates, 1.0) {
		add(invalid("speed.rates must contain 1.0"))
	}
	for _, r := range cfg.Speed.Rates {
		if r <= 0 {
			add(invalid("speed.rates must be positive, got %v", r))
		}
	}
	if cfg.Speed.MuteBelow < 0 || (cfg.Speed.MuteAbove > 0 && cfg.Speed.MuteBelow > cfg.Speed.MuteAbove) {
		add(invalid("speed mute thresholds are inconsistent"))
	}

	if !slices.Contains([]string{"sqlite", "file", "memory"}, cfg.Resume.Backend) {
		add(invalid("resume.backend must be sqlite, file or memory, got %q", cfg.Resume.Backend))
	}
	if cfg.Resume.Capacity < 1 || cfg.Resume.Capacity > maxResumeCapacity {
		add(invalid("resume.capacity must be in [1, %d], got %d", maxResumeCapacity, cfg.Resume.Capacity))
	}

	if !slices.Contains([]string{"none", "all", "single"}, cfg.Playback.Repeat) {
		add(invalid("playback.repeat must be none, all or single, got %q", cfg.Playback.Repeat))
	}
	if cfg.Playback.WatchInterval <= 0 {
		add(invalid("playback.watchInterval must be > 0"))
	}
	if cfg.Playback.ResumeTail < 0 || cfg.Playback.PrevChapterMargin < 0 {
		add(invalid("playback margins must be >= 0"))
	}

	if cfg.Output.Target == "" {
		add(invalid("output.target must be set (use - for stdout)"))
	}
	if cfg.API.ListenAddr != "" && cfg.API.RateLimit <= 0 {
		add(invalid("api.rateLimit must be > 0"))
	}
	if cfg.Telemetry.Enabled && !slices.Contains([]string{"grpc", "http"}, cfg.Telemetry.Exporter) {
		add(invalid("telemetry.exporter must be grpc or http, got %q", cfg.Telemetry.Exporter))
	}
	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		add(invalid("log.level: %v", err))
	}
	return errors.Join(errs...)
}
