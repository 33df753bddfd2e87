// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"fmt"
	"time"
)

// ClockMode selects the pacing reference.
type ClockMode string

const (
	// ClockPCR paces on stream clock deltas, falling back to the nominal rate.
	ClockPCR ClockMode = "pcr"
	// ClockWall ignores PCR and paces at the file's average byte rate.
	ClockWall ClockMode = "wall"
)

// DropPolicy is the recovery applied when the sink keeps refusing packets.
type DropPolicy string

const (
	DropNone     DropPolicy = "none"
	DropSkip     DropPolicy = "skip"
	DropThrottle DropPolicy = "throttle"
	DropMute     DropPolicy = "mute"
)

// DropConfig tunes backpressure handling.
type DropConfig struct {
	// Threshold dropped packets within Interval trigger Policy. 0 disables.
	Threshold     int
	Interval      time.Duration
	Policy        DropPolicy
	RecoveryFor   time.Duration
	SkipAhead     time.Duration
	ThrottleRatio float64
}

// Config tunes the delivery engine.
type Config struct {
	Clock ClockMode
	// ChunkPackets is the number of units read per batch.
	ChunkPackets int
	// Jitter is the largest forward PCR step still treated as continuous.
	Jitter time.Duration
	// NominalBitrate (bits/s) paces PCR gaps and files without a usable clock.
	NominalBitrate int64
	// MaxLag re-anchors the pacer instead of bursting to catch up.
	MaxLag time.Duration
	// DisplayDelay is subtracted from the published position.
	DisplayDelay time.Duration
	ProbeWindow  int

	ExtendPoll time.Duration
	ExtendWait time.Duration
	ExtendIdle time.Duration

	Drop DropConfig

	CommandBuffer int
	EventBuffer   int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Clock:          ClockPCR,
		ChunkPackets:   56,
		Jitter:         500 * time.Millisecond,
		NominalBitrate: 8_000_000,
		MaxLag:         time.Second,
		ExtendPoll:     time.Second,
		ExtendWait:     3 * time.Second,
		ExtendIdle:     10 * time.Second,
		Drop: DropConfig{
			Threshold:     200,
			Interval:      time.Second,
			Policy:        DropSkip,
			RecoveryFor:   2 * time.Second,
			SkipAhead:     500 * time.Millisecond,
			ThrottleRatio: 0.8,
		},
		CommandBuffer: 32,
		EventBuffer:   8,
	}
}

func (c *Config) fill() {
	d := DefaultConfig()
	if c.Clock == "" {
		c.Clock = d.Clock
	}
	if c.ChunkPackets <= 0 {
		c.ChunkPackets = d.ChunkPackets
	}
	if c.Jitter <= 0 {
		c.Jitter = d.Jitter
	}
	if c.NominalBitrate <= 0 {
		c.NominalBitrate = d.NominalBitrate
	}
	if c.MaxLag <= 0 {
		c.MaxLag = d.MaxLag
	}
	if c.ExtendPoll <= 0 {
		c.ExtendPoll = d.ExtendPoll
	}
	if c.ExtendWait <= 0 {
		c.ExtendWait = d.ExtendWait
	}
	if c.ExtendIdle <= 0 {
		c.ExtendIdle = d.ExtendIdle
	}
	if c.Drop.Policy == "" {
		c.Drop.Policy = DropNone
	}
	if c.Drop.Interval <= 0 {
		c.Drop.Interval = d.Drop.Interval
	}
	if c.Drop.RecoveryFor <= 0 {
		c.Drop.RecoveryFor = d.Drop.RecoveryFor
	}
	if c.Drop.SkipAhead <= 0 {
		c.Drop.SkipAhead = d.Drop.SkipAhead
	}
	if c.Drop.ThrottleRatio <= 0 || c.Drop.ThrottleRatio > 1 {
		c.Drop.ThrottleRatio = d.Drop.ThrottleRatio
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = d.CommandBuffer
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
}

// Validate rejects values fill cannot repair.
func (c Config) Validate() error {
	switch c.Clock {
	case "", ClockPCR, ClockWall:
	default:
		return fmt.Errorf("unknown clock mode %q", c.Clock)
	}
	switch c.Drop.Policy {
	case "", DropNone, DropSkip, DropThrottle, DropMute:
	default:
		return fmt.Errorf("unknown drop policy %q", c.Drop.Policy)
	}
	if c.Drop.Threshold < 0 {
		return fmt.Errorf("drop threshold must be >= 0, got %d", c.Drop.Threshold)
	}
	if c.DisplayDelay < 0 {
		return fmt.Errorf("display delay must be >= 0, got %s", c.DisplayDelay)
	}
	return nil
}
