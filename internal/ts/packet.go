// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ts handles MPEG transport stream framing and the few header fields the
// delivery engine needs for pacing: PCR, PSI audio classification and TDT/TOT.
// Payloads are never decoded.
package ts

import "time"

const (
	// PacketSize is the canonical packet length.
	PacketSize = 188
	// SyncByte starts every packet.
	SyncByte = 0x47

	// PCRHz is the PCR clock rate.
	PCRHz = 27_000_000
	// PCRWrap is the number of ticks after which a PCR wraps (33-bit base * 300).
	PCRWrap int64 = (1 << 33) * 300

	PIDPAT  = 0x0000
	PIDTDT  = 0x0014
	PIDNull = 0x1FFF
)

// PID returns the packet identifier.
func PID(p []byte) uint16 {
	return uint16(p[1]&0x1F)<<8 | uint16(p[2])
}

// PayloadUnitStart reports the PUSI bit.
func PayloadUnitStart(p []byte) bool {
	return p[1]&0x40 != 0
}

func hasAdaptation(p []byte) bool { return p[3]&0x20 != 0 }
func hasPayload(p []byte) bool    { return p[3]&0x10 != 0 }

// Payload returns the packet payload, or nil when there is none or the
// adaptation field is malformed.
func Payload(p []byte) []byte {
	if len(p) < PacketSize || !hasPayload(p) {
		return nil
	}
	off := 4
	if hasAdaptation(p) {
		off += 1 + int(p[4])
	}
	if off >= PacketSize {
		return nil
	}
	return p[off:PacketSize]
}

// PCR extracts the program clock reference in 27 MHz ticks.
func PCR(p []byte) (int64, bool) {
	if len(p) < PacketSize || !hasAdaptation(p) {
		return 0, false
	}
	afl := int(p[4])
	if afl < 7 || afl > 183 || p[5]&0x10 == 0 {
		return 0, false
	}
	base := int64(p[6])<<25 | int64(p[7])<<17 | int64(p[8])<<9 | int64(p[9])<<1 | int64(p[10])>>7
	ext := int64(p[10]&0x01)<<8 | int64(p[11])
	return base*300 + ext, true
}

// PutPCR writes an adaptation-field-only packet header carrying pcr into p.
func PutPCR(p []byte, pid uint16, pcr int64) {
	base := pcr / 300
	ext := pcr % 300
	p[0] = SyncByte
	p[1] = byte(pid>>8) & 0x1F
	p[2] = byte(pid)
	p[3] = 0x20
	p[4] = 183
	p[5] = 0x10
	p[6] = byte(base >> 25)
	p[7] = byte(base >> 17)
	p[8] = byte(base >> 9)
	p[9] = byte(base >> 1)
	p[10] = byte(base<<7) | 0x7E | byte(ext>>8)&0x01
	p[11] = byte(ext)
	for i := 12; i < PacketSize; i++ {
		p[i] = 0xFF
	}
}

// PCRDelta returns b-a accounting for wrap, in (-PCRWrap/2, PCRWrap/2].
func PCRDelta(a, b int64) int64 {
	d := (b - a) % PCRWrap
	if d < 0 {
		d += PCRWrap
	}
	if d > PCRWrap/2 {
		d -= PCRWrap
	}
	return d
}

// TicksToDuration converts 27 MHz ticks.
func TicksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks * 1000 / 27)
}

// DurationToTicks converts a duration into 27 MHz ticks.
func DurationToTicks(d time.Duration) int64 {
	return int64(d) * 27 / 1000
}
