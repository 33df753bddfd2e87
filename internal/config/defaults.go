// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir: "/var/lib/tsplay",
		Engine: EngineConfig{
			Clock:          "pcr",
			ChunkPackets:   56,
			Jitter:         500 * time.Millisecond,
			NominalBitrate: 8_000_000,
			MaxLag:         time.Second,
			ProbeWindow:    4 << 20,
			ExtendPoll:     time.Second,
			ExtendWait:     3 * time.Second,
			ExtendIdle:     10 * time.Second,
		},
		Drop: DropConfig{
			Threshold:     200,
			Interval:      time.Second,
			Policy:        "skip",
			RecoveryFor:   2 * time.Second,
			SkipAhead:     500 * time.Millisecond,
			ThrottleRatio: 0.8,
		},
		Speed: SpeedConfig{
			Rates:     []float64{1.0, 0.25, 0.5, 0.75, 1.5, 2.0, 4.0, 8.0},
			MuteBelow: 0.5,
			MuteAbove: 2.0,
		},
		Resume: ResumeConfig{
			Backend:  "sqlite",
			Capacity: 1000,
		},
		Playback: PlaybackConfig{
			ResumeTail:        10 * time.Second,
			PrevChapterMargin: 3 * time.Second,
			WatchInterval:     200 * time.Millisecond,
			Repeat:            "none",
		},
		Output: OutputConfig{
			Target:       "-",
			QueueDepth:   64,
			OfferTimeout: 50 * time.Millisecond,
			DialTimeout:  5 * time.Second,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8090",
			RateLimit:  600,
			StatusPush: time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Log: LogConfig{Level: "info"},
	}
}
