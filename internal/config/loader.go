// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads tsplay configuration with precedence ENV > file > defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty path skips the file layer.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Load resolves defaults, then the strict YAML file, then TSPLAY_* variables,
// and validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes path over cfg. Unknown fields are fatal.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) key(name string) string {
	k := EnvPrefix + name
	l.ConsumedEnvKeys[k] = struct{}{}
	return k
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = ParseString(l.key("DATA_DIR"), cfg.DataDir)

	e := &cfg.Engine
	e.Clock = ParseString(l.key("CLOCK"), e.Clock)
	e.ChunkPackets = ParseInt(l.key("CHUNK_PACKETS"), e.ChunkPackets)
	e.Jitter = ParseDuration(l.key("PCR_JITTER"), e.Jitter)
	e.NominalBitrate = int64(ParseInt(l.key("NOMINAL_BITRATE"), int(e.NominalBitrate)))
	e.MaxLag = ParseDuration(l.key("MAX_LAG"), e.MaxLag)
	e.DisplayDelay = ParseDuration(l.key("DISPLAY_DELAY"), e.DisplayDelay)
	e.ProbeWindow = ParseInt(l.key("PROBE_WINDOW"), e.ProbeWindow)
	e.ExtendPoll = ParseDuration(l.key("EXTEND_POLL"), e.ExtendPoll)
	e.ExtendWait = ParseDuration(l.key("EXTEND_WAIT"), e.ExtendWait)
	e.ExtendIdle = ParseDuration(l.key("EXTEND_IDLE"), e.ExtendIdle)

	d := &cfg.Drop
	d.Threshold = ParseInt(l.key("DROP_THRESHOLD"), d.Threshold)
	d.Interval = ParseDuration(l.key("DROP_INTERVAL"), d.Interval)
	d.Policy = ParseString(l.key("DROP_POLICY"), d.Policy)
	d.RecoveryFor = ParseDuration(l.key("DROP_RECOVERY"), d.RecoveryFor)
	d.SkipAhead = ParseDuration(l.key("DROP_SKIP_AHEAD"), d.SkipAhead)
	d.ThrottleRatio = ParseFloat(l.key("DROP_THROTTLE_RATIO"), d.ThrottleRatio)

	s := &cfg.Speed
	s.Rates = ParseFloatList(l.key("SPEED_RATES"), s.Rates)
	s.MuteBelow = ParseFloat(l.key("MUTE_BELOW"), s.MuteBelow)
	s.MuteAbove = ParseFloat(l.key("MUTE_ABOVE"), s.MuteAbove)

	r := &cfg.Resume
	r.Backend = ParseString(l.key("RESUME_BACKEND"), r.Backend)
	r.Capacity = ParseInt(l.key("RESUME_CAPACITY"), r.Capacity)
	r.Salt = ParseUint32(l.key("RESUME_SALT"), r.Salt)

	p := &cfg.Playback
	p.ResumeTail = ParseDuration(l.key("RESUME_TAIL"), p.ResumeTail)
	p.PrevChapterMargin = ParseDuration(l.key("PREV_CHAPTER_MARGIN"), p.PrevChapterMargin)
	p.WatchInterval = ParseDuration(l.key("WATCH_INTERVAL"), p.WatchInterval)
	p.Repeat = ParseString(l.key("REPEAT"), p.Repeat)

	o := &cfg.Output
	o.Target = ParseString(l.key("OUTPUT"), o.Target)
	o.QueueDepth = ParseInt(l.key("OUTPUT_QUEUE"), o.QueueDepth)
	o.OfferTimeout = ParseDuration(l.key("OUTPUT_OFFER_TIMEOUT"), o.OfferTimeout)
	o.DialTimeout = ParseDuration(l.key("OUTPUT_DIAL_TIMEOUT"), o.DialTimeout)

	a := &cfg.API
	a.ListenAddr = ParseString(l.key("LISTEN"), a.ListenAddr)
	a.RateLimit = ParseInt(l.key("RATE_LIMIT"), a.RateLimit)
	a.StatusPush = ParseDuration(l.key("STATUS_PUSH"), a.StatusPush)

	t := &cfg.Telemetry
	t.Enabled = ParseBool(l.key("TRACING"), t.Enabled)
	t.Exporter = ParseString(l.key("TRACING_EXPORTER"), t.Exporter)
	t.Endpoint = ParseString(l.key("TRACING_ENDPOINT"), t.Endpoint)
	t.SamplingRate = ParseFloat(l.key("TRACING_SAMPLING"), t.SamplingRate)

	cfg.Log.Level = ParseString(l.key("LOG_LEVEL"), cfg.Log.Level)
}
