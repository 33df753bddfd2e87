// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package speed maps discrete stretch selectors to playback rates.
package speed

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownStretch is returned for stretch ids outside the table.
var ErrUnknownStretch = errors.New("unknown stretch id")

// DefaultRates is the stretch table used when none is configured.
var DefaultRates = []float64{1.0, 0.25, 0.5, 0.75, 1.5, 2.0, 4.0, 8.0}

// Stretch is one resolved table entry.
type Stretch struct {
	ID        int
	Rate      float64
	MuteBelow float64
	MuteAbove float64
}

// Muted reports whether audio packets are suppressed at this rate.
func (s Stretch) Muted() bool {
	return s.Rate < s.MuteBelow || s.Rate > s.MuteAbove
}

// Scale converts a nominal stream interval into wall time at this rate.
func (s Stretch) Scale(d time.Duration) time.Duration {
	if s.Rate <= 0 {
		return d
	}
	return time.Duration(float64(d) / s.Rate)
}

// Table is immutable after construction.
type Table struct {
	rates     []float64
	muteBelow float64
	muteAbove float64
	normal    int
}

// NewTable validates the rates. One entry must be exactly 1.0; it becomes Normal.
// A zero mute threshold disables that side.
func NewTable(rates []float64, muteBelow, muteAbove float64) (*Table, error) {
	if len(rates) == 0 {
		return nil, errors.New("stretch table is empty")
	}
	if muteAbove <= 0 {
		muteAbove = 1e9
	}
	if muteBelow < 0 || muteBelow > muteAbove {
		return nil, fmt.Errorf("invalid mute thresholds: below=%v above=%v", muteBelow, muteAbove)
	}
	normal := -1
	for i, r := range rates {
		if r <= 0 {
			return nil, fmt.Errorf("stretch %d: rate must be positive, got %v", i, r)
		}
		if r == 1.0 && normal < 0 {
			normal = i
		}
	}
	if normal < 0 {
		return nil, errors.New("stretch table needs a 1.0 entry")
	}
	cp := make([]float64, len(rates))
	copy(cp, rates)
	return &Table{rates: cp, muteBelow: muteBelow, muteAbove: muteAbove, normal: normal}, nil
}

// Default returns the built-in table, muting below 0.5x and above 2x.
func Default() *Table {
	t, err := NewTable(DefaultRates, 0.5, 2.0)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup resolves id.
func (t *Table) Lookup(id int) (Stretch, error) {
	if id < 0 || id >= len(t.rates) {
		return Stretch{}, fmt.Errorf("%w: %d (table has %d entries)", ErrUnknownStretch, id, len(t.rates))
	}
	return Stretch{ID: id, Rate: t.rates[id], MuteBelow: t.muteBelow, MuteAbove: t.muteAbove}, nil
}

// Normal returns the id of the 1.0 entry.
func (t *Table) Normal() int { return t.normal }

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.rates) }

// Rates returns a copy of the configured rates.
func (t *Table) Rates() []float64 {
	cp := make([]float64, len(t.rates))
	copy(cp, t.rates)
	return cp
}
