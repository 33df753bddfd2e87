// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sinktest provides an in-memory sink for tests.
package sinktest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/tsplay/internal/ts"
)

// Recorder keeps every accepted batch. Refuse makes Offer report backpressure,
// Fail makes it return an error.
type Recorder struct {
	mu   sync.Mutex
	data []byte

	Refuse atomic.Bool
	fail   atomic.Pointer[error]
	closed atomic.Bool
	offers atomic.Int64
}

// Fail makes every following Offer return err.
func (r *Recorder) Fail(err error) { r.fail.Store(&err) }

func (r *Recorder) Offer(_ context.Context, pkts []byte) (bool, error) {
	r.offers.Add(1)
	if e := r.fail.Load(); e != nil {
		return false, *e
	}
	if r.Refuse.Load() {
		return false, nil
	}
	r.mu.Lock()
	r.data = append(r.data, pkts...)
	r.mu.Unlock()
	return true, nil
}

func (r *Recorder) Close() error {
	r.closed.Store(true)
	return nil
}

// Bytes returns a copy of everything accepted so far.
func (r *Recorder) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...)
}

// Len returns the number of accepted bytes.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// CountPID returns how many accepted packets carry pid.
func (r *Recorder) CountPID(pid uint16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := 0; i+ts.PacketSize <= len(r.data); i += ts.PacketSize {
		if ts.PID(r.data[i:i+ts.PacketSize]) == pid {
			n++
		}
	}
	return n
}

// Offers returns how many times Offer was called.
func (r *Recorder) Offers() int64 { return r.offers.Load() }

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool { return r.closed.Load() }
