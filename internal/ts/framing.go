// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ts

import (
	"errors"
)

// ErrFormat is returned when data cannot be framed as a transport stream.
var ErrFormat = errors.New("not a transport stream")

// syncRun is how many consecutive sync bytes confirm a framing.
const syncRun = 8

// Framing describes the on-disk unit layout.
type Framing struct {
	Unit int // bytes per unit
	Sync int // offset of the sync byte inside a unit
}

var candidates = []Framing{
	{Unit: 188, Sync: 0}, // plain
	{Unit: 192, Sync: 4}, // 4-byte timestamp prefix
	{Unit: 204, Sync: 0}, // 16 byte FEC suffix
	{Unit: 208, Sync: 0},
}

func (f Framing) String() string {
	switch f.Unit {
	case 188:
		return "ts188"
	case 192:
		return "m2ts192"
	case 204:
		return "ts204"
	default:
		return "ts208"
	}
}

func syncedAt(buf []byte, pos, unit, run int) bool {
	for k := 0; k < run; k++ {
		i := pos + k*unit
		if i >= len(buf) || buf[i] != SyncByte {
			return false
		}
	}
	return true
}

// DetectFraming finds the unit size and the offset of the first confirmed sync byte.
func DetectFraming(buf []byte) (Framing, int, error) {
	limit := min(len(buf), 4096)
	for pos := 0; pos < limit; pos++ {
		if buf[pos] != SyncByte {
			continue
		}
		for _, c := range candidates {
			if syncedAt(buf, pos, c.Unit, syncRun) {
				return c, pos, nil
			}
		}
	}
	return Framing{}, 0, ErrFormat
}

// Reframer converts arbitrary chunks of framed data into canonical 188-byte
// packets. Units are taken from their sync byte, so the 4-byte prefix of
// 192-byte framing is carried by the previous unit and dropped.
type Reframer struct {
	unit    int
	pending []byte
	resyncs int
}

// NewReframer creates a reframer for f.
func NewReframer(f Framing) *Reframer {
	return &Reframer{unit: f.Unit, pending: make([]byte, 0, 64*f.Unit)}
}

// Resyncs returns how often sync was lost and found again.
func (r *Reframer) Resyncs() int { return r.resyncs }

// Reset drops buffered bytes. Call after repositioning the source.
func (r *Reframer) Reset() { r.pending = r.pending[:0] }

// Buffered returns the number of bytes held back for the next Feed.
func (r *Reframer) Buffered() int { return len(r.pending) }

// Feed appends data and returns dst extended by every complete packet.
func (r *Reframer) Feed(dst, data []byte) []byte {
	r.pending = append(r.pending, data...)
	buf := r.pending
	i := 0
	for len(buf)-i >= r.unit {
		if buf[i] == SyncByte {
			dst = append(dst, buf[i:i+PacketSize]...)
			i += r.unit
			continue
		}
		next, ok := r.resync(buf, i+1)
		if !ok {
			i = next
			break
		}
		r.resyncs++
		i = next
	}
	r.keep(buf[i:])
	return dst
}

// Flush emits a final short unit (e.g. the last 192-byte unit, whose sync-aligned
// tail is only 188 bytes) and clears the buffer.
func (r *Reframer) Flush(dst []byte) []byte {
	if len(r.pending) >= PacketSize && r.pending[0] == SyncByte {
		dst = append(dst, r.pending[:PacketSize]...)
	}
	r.pending = r.pending[:0]
	return dst
}

// resync looks for a sync byte confirmed by the two following units. When the
// buffer is too short to confirm, it returns the candidate with ok=false so the
// caller keeps the bytes for the next Feed.
func (r *Reframer) resync(buf []byte, from int) (int, bool) {
	for j := from; j < len(buf); j++ {
		if buf[j] != SyncByte {
			continue
		}
		if j+2*r.unit >= len(buf) {
			return j, false
		}
		if syncedAt(buf, j, r.unit, 3) {
			return j, true
		}
	}
	// No candidate: keep only what could still be the start of a unit.
	return max(from, len(buf)-r.unit+1), false
}

func (r *Reframer) keep(rest []byte) {
	n := copy(r.pending, rest)
	r.pending = r.pending[:n]
}
