// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"time"

	"github.com/ManuGH/tsplay/internal/ts"
)

// pacer converts delivered bytes and PCR samples into a wall-clock deadline.
//
// Stream time accumulates from consecutive PCR deltas while they stay within
// (0, jitter]. Missing, backward or oversized steps are paced by byte count at
// the nominal rate and the next PCR becomes the new reference. Wall mode paces
// everything at the file's average rate.
type pacer struct {
	mode     ClockMode
	jitter   int64   // ticks
	avgRate  float64 // file bytes per second at 1x
	fallback float64 // nominal bytes per second at 1x
	rate     float64
	maxLag   time.Duration

	anchor  time.Time
	elapsed time.Duration // stream time delivered since anchor
	pending int           // bytes since the last PCR
	last    int64
	synced  bool

	discontinuities int64
}

func newPacer(mode ClockMode, jitter time.Duration, avgRate, fallback float64, maxLag time.Duration) *pacer {
	if fallback <= 0 {
		fallback = avgRate
	}
	return &pacer{
		mode:     mode,
		jitter:   ts.DurationToTicks(jitter),
		avgRate:  avgRate,
		fallback: fallback,
		rate:     1,
		maxLag:   maxLag,
	}
}

func bytesAt(n int, byteRate float64) time.Duration {
	if byteRate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / byteRate * float64(time.Second))
}

// nominal is how long n bytes take at the fallback rate.
func (p *pacer) nominal(n int) time.Duration { return bytesAt(n, p.fallback) }

// anchorAt restarts the deadline schedule from now, keeping PCR continuity.
func (p *pacer) anchorAt(now time.Time) {
	p.anchor = now
	p.elapsed = 0
}

// reset drops the PCR reference; used after seeks.
func (p *pacer) reset(now time.Time) {
	p.anchorAt(now)
	p.pending = 0
	p.synced = false
}

func (p *pacer) setRate(rate float64, now time.Time) {
	if rate <= 0 {
		rate = 1
	}
	p.rate = rate
	p.anchorAt(now)
}

// addBytes accounts n delivered bytes.
func (p *pacer) addBytes(n int) {
	if p.mode == ClockWall {
		p.elapsed += bytesAt(n, p.avgRate)
		return
	}
	p.pending += n
	// No PCR for longer than the jitter window: pace what we have by size.
	if p.nominal(p.pending) > ts.TicksToDuration(p.jitter) {
		p.elapsed += p.nominal(p.pending)
		p.pending = 0
		p.synced = false
	}
}

// pcr accounts a PCR sample. Call before addBytes for the packet carrying it.
// It reports whether the sample was a discontinuity.
func (p *pacer) pcr(v int64) bool {
	if p.mode == ClockWall {
		return false
	}
	if !p.synced {
		p.elapsed += p.nominal(p.pending)
		p.pending = 0
		p.last = v
		p.synced = true
		return false
	}
	d := ts.PCRDelta(p.last, v)
	p.last = v
	disc := d <= 0 || d > p.jitter
	if disc {
		p.elapsed += p.nominal(p.pending)
		p.discontinuities++
	} else {
		p.elapsed += ts.TicksToDuration(d)
	}
	p.pending = 0
	return disc
}

// deadline is when the bytes accounted so far are due at the current rate.
func (p *pacer) deadline() time.Time {
	return p.anchor.Add(time.Duration(float64(p.elapsed) / p.rate))
}

// wait returns how long to sleep before the next batch. When the schedule has
// fallen behind by more than maxLag, it re-anchors and returns zero.
func (p *pacer) wait(now time.Time) time.Duration {
	d := p.deadline().Sub(now)
	if d < -p.maxLag {
		p.anchorAt(now)
		return 0
	}
	return max(d, 0)
}
