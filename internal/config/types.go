// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the fully resolved configuration.
type AppConfig struct {
	Version string `yaml:"-"`
	DataDir string `yaml:"dataDir"`

	Engine    EngineConfig    `yaml:"engine"`
	Drop      DropConfig      `yaml:"drop"`
	Speed     SpeedConfig     `yaml:"speed"`
	Resume    ResumeConfig    `yaml:"resume"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Output    OutputConfig    `yaml:"output"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// EngineConfig tunes delivery and pacing.
type EngineConfig struct {
	Clock          string        `yaml:"clock"` // pcr | wall
	ChunkPackets   int           `yaml:"chunkPackets"`
	Jitter         time.Duration `yaml:"jitter"`
	NominalBitrate int64         `yaml:"nominalBitrate"`
	MaxLag         time.Duration `yaml:"maxLag"`
	DisplayDelay   time.Duration `yaml:"displayDelay"`
	ProbeWindow    int           `yaml:"probeWindow"`
	ExtendPoll     time.Duration `yaml:"extendPoll"`
	ExtendWait     time.Duration `yaml:"extendWait"`
	ExtendIdle     time.Duration `yaml:"extendIdle"`
}

// DropConfig tunes backpressure recovery.
type DropConfig struct {
	Threshold     int           `yaml:"threshold"`
	Interval      time.Duration `yaml:"interval"`
	Policy        string        `yaml:"policy"` // none | skip | throttle | mute
	RecoveryFor   time.Duration `yaml:"recoveryFor"`
	SkipAhead     time.Duration `yaml:"skipAhead"`
	ThrottleRatio float64       `yaml:"throttleRatio"`
}

// SpeedConfig is the stretch table.
type SpeedConfig struct {
	Rates     []float64 `yaml:"rates"`
	MuteBelow float64   `yaml:"muteBelow"`
	MuteAbove float64   `yaml:"muteAbove"`
}

// ResumeConfig controls the resume cache.
type ResumeConfig struct {
	Backend  string `yaml:"backend"` // sqlite | file | memory
	Capacity int    `yaml:"capacity"`
	// Salt seeds fingerprints on first start only; a stored salt wins.
	Salt uint32 `yaml:"salt"`
}

// PlaybackConfig holds controller behavior.
type PlaybackConfig struct {
	ResumeTail        time.Duration `yaml:"resumeTail"`
	PrevChapterMargin time.Duration `yaml:"prevChapterMargin"`
	WatchInterval     time.Duration `yaml:"watchInterval"`
	Repeat            string        `yaml:"repeat"` // none | all | single
}

// OutputConfig selects the packet sink.
type OutputConfig struct {
	Target       string        `yaml:"target"`
	QueueDepth   int           `yaml:"queueDepth"`
	OfferTimeout time.Duration `yaml:"offerTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
}

// APIConfig controls the HTTP command surface. Empty ListenAddr disables it.
type APIConfig struct {
	ListenAddr string        `yaml:"listenAddr"`
	RateLimit  int           `yaml:"rateLimit"` // requests per minute per client
	StatusPush time.Duration `yaml:"statusPush"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc | http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
}
