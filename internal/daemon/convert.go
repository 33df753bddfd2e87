// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"fmt"

	"github.com/ManuGH/tsplay/internal/api"
	"github.com/ManuGH/tsplay/internal/config"
	"github.com/ManuGH/tsplay/internal/engine"
	"github.com/ManuGH/tsplay/internal/player"
	"github.com/ManuGH/tsplay/internal/playlist"
	"github.com/ManuGH/tsplay/internal/sink"
	"github.com/ManuGH/tsplay/internal/speed"
	"github.com/ManuGH/tsplay/internal/telemetry"
)

// EngineConfig maps the loaded configuration onto the engine.
func EngineConfig(cfg config.AppConfig) engine.Config {
	ec := engine.DefaultConfig()
	e := cfg.Engine
	ec.Clock = engine.ClockMode(e.Clock)
	ec.ChunkPackets = e.ChunkPackets
	ec.Jitter = e.Jitter
	ec.NominalBitrate = e.NominalBitrate
	ec.MaxLag = e.MaxLag
	ec.DisplayDelay = e.DisplayDelay
	ec.ProbeWindow = e.ProbeWindow
	ec.ExtendPoll = e.ExtendPoll
	ec.ExtendWait = e.ExtendWait
	ec.ExtendIdle = e.ExtendIdle

	d := cfg.Drop
	ec.Drop = engine.DropConfig{
		Threshold:     d.Threshold,
		Interval:      d.Interval,
		Policy:        engine.DropPolicy(d.Policy),
		RecoveryFor:   d.RecoveryFor,
		SkipAhead:     d.SkipAhead,
		ThrottleRatio: d.ThrottleRatio,
	}
	return ec
}

// SpeedTable builds the stretch table.
func SpeedTable(cfg config.AppConfig) (*speed.Table, error) {
	rates := cfg.Speed.Rates
	if len(rates) == 0 {
		rates = speed.DefaultRates
	}
	t, err := speed.NewTable(rates, cfg.Speed.MuteBelow, cfg.Speed.MuteAbove)
	if err != nil {
		return nil, fmt.Errorf("speed table: %w", err)
	}
	return t, nil
}

// PlayerConfig maps playback settings onto the controller.
func PlayerConfig(cfg config.AppConfig) (player.Config, error) {
	repeat, err := playlist.ParseRepeat(cfg.Playback.Repeat)
	if err != nil {
		return player.Config{}, err
	}
	return player.Config{
		ResumeTail:        cfg.Playback.ResumeTail,
		PrevChapterMargin: cfg.Playback.PrevChapterMargin,
		WatchInterval:     cfg.Playback.WatchInterval,
		Repeat:            repeat,
	}, nil
}

// SinkOptions maps the output queue settings.
func SinkOptions(cfg config.AppConfig) sink.Options {
	return sink.Options{
		Depth:        cfg.Output.QueueDepth,
		OfferTimeout: cfg.Output.OfferTimeout,
		DialTimeout:  cfg.Output.DialTimeout,
	}
}

// APIConfig maps the control server settings.
func APIConfig(cfg config.AppConfig) api.Config {
	ac := api.Config{
		ListenAddr: cfg.API.ListenAddr,
		RateLimit:  cfg.API.RateLimit,
		StatusPush: cfg.API.StatusPush,
		BaseDir:    cfg.DataDir,
	}
	if cfg.Telemetry.Enabled {
		ac.TracingService = serviceName
	}
	return ac
}

// TelemetryConfig maps tracing settings.
func TelemetryConfig(cfg config.AppConfig) telemetry.Config {
	return telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		Environment:    "production",
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	}
}
