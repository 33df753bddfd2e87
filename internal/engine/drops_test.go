// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDropWindowTriggers(t *testing.T) {
	w := newDropWindow(10, time.Second)
	assert.False(t, w.add(t0, 5))
	assert.True(t, w.add(t0.Add(500*time.Millisecond), 5))
	assert.Zero(t, w.count(t0.Add(500*time.Millisecond)), "trigger clears the window")
}

func TestDropWindowExpires(t *testing.T) {
	w := newDropWindow(10, time.Second)
	for i := 0; i < 6; i++ {
		assert.False(t, w.add(t0.Add(time.Duration(i)*400*time.Millisecond), 3))
	}
	assert.Equal(t, 9, w.count(t0.Add(2*time.Second)))
	assert.Zero(t, w.count(t0.Add(10*time.Second)))
}

func TestDropWindowDisabled(t *testing.T) {
	w := newDropWindow(0, time.Second)
	assert.False(t, w.add(t0, 1_000_000))
}
