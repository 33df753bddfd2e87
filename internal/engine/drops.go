// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import "time"

type dropSample struct {
	at time.Time
	n  int
}

// dropWindow counts refused packets over a sliding interval.
type dropWindow struct {
	threshold int
	interval  time.Duration
	samples   []dropSample
	sum       int
}

func newDropWindow(threshold int, interval time.Duration) *dropWindow {
	return &dropWindow{threshold: threshold, interval: interval}
}

func (w *dropWindow) expire(now time.Time) {
	i := 0
	for ; i < len(w.samples) && now.Sub(w.samples[i].at) > w.interval; i++ {
		w.sum -= w.samples[i].n
	}
	w.samples = w.samples[i:]
}

// add records n drops at now and reports whether the threshold was reached.
// Triggering clears the window.
func (w *dropWindow) add(now time.Time, n int) bool {
	if w.threshold <= 0 || n <= 0 {
		return false
	}
	w.expire(now)
	w.samples = append(w.samples, dropSample{at: now, n: n})
	w.sum += n
	if w.sum < w.threshold {
		return false
	}
	w.samples = w.samples[:0]
	w.sum = 0
	return true
}

// count returns drops within the interval ending at now.
func (w *dropWindow) count(now time.Time) int {
	w.expire(now)
	return w.sum
}
