// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ts

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultProbeWindow is how many bytes are scanned at each end of a file.
const DefaultProbeWindow = 4 << 20

// DefaultMaxPCRStep is the largest forward PCR step still treated as
// continuous when ProbeOptions leaves it unset.
const DefaultMaxPCRStep = 500 * time.Millisecond

// A long step between the head and tail windows is accepted when its implied
// byte rate stays within this factor of the rate measured around it.
const plausibleRateFactor = 2

// ProbeOptions tunes Probe.
type ProbeOptions struct {
	// Window is how many bytes are scanned at each end of the file.
	Window int
	// MaxStep is the largest forward PCR step counted as stream time.
	MaxStep time.Duration
}

// Info is what Probe learns about a file.
type Info struct {
	Framing  Framing
	Start    int64 // offset of the first sync byte
	Size     int64
	PCRPID   int   // -1 if no PCR was found
	FirstPCR int64 // ticks
	LastPCR  int64 // ticks
	Duration time.Duration
	// Discontinuities counts PCR steps whose time was estimated from their
	// byte distance instead.
	Discontinuities int
}

// HasPCR reports whether a usable PCR span was found.
func (i Info) HasPCR() bool { return i.PCRPID >= 0 && i.Duration > 0 }

// Align rounds off down to a unit boundary relative to Start.
func (i Info) Align(off int64) int64 {
	if off <= i.Start {
		return i.Start
	}
	return i.Start + (off-i.Start)/int64(i.Framing.Unit)*int64(i.Framing.Unit)
}

type pcrSample struct {
	off int64
	pcr int64
}

// Probe detects the framing and measures the stream time covered by the file.
//
// PCRs are collected from a head and a tail window. Steps in (0, MaxStep] are
// stream time and give the local byte rate. Any other step is a discontinuity
// and is timed by its byte distance at that rate, except the long step across
// the unscanned middle, which is kept when its own rate is plausible. Without
// a single continuous step there is no usable clock and Duration stays zero.
func Probe(r io.ReaderAt, size int64, opts ProbeOptions) (Info, error) {
	if opts.Window <= 0 {
		opts.Window = DefaultProbeWindow
	}
	if opts.MaxStep <= 0 {
		opts.MaxStep = DefaultMaxPCRStep
	}
	info := Info{Size: size, PCRPID: -1}

	head, err := readWindow(r, 0, opts.Window, size)
	if err != nil {
		return info, err
	}
	f, start, err := DetectFraming(head)
	if err != nil {
		return info, err
	}
	info.Framing = f
	info.Start = int64(start)

	pid := -1
	scanPackets(head[start:], f, func(_ int, p []byte) bool {
		if _, ok := PCR(p); ok {
			pid = int(PID(p))
			return false
		}
		return true
	})
	if pid < 0 {
		return info, nil
	}

	samples := collectPCR(head[start:], f, info.Start, pid, nil)
	headEnd := int64(len(head))
	if headEnd < size {
		tailOff := max(headEnd, size-int64(opts.Window))
		tail, err := readWindow(r, tailOff, opts.Window, size)
		if err != nil {
			return info, err
		}
		if f2, start2, err := DetectFraming(tail); err == nil {
			samples = collectPCR(tail[start2:], f2, tailOff+int64(start2), pid, samples)
		}
	}
	if len(samples) < 2 {
		return info, nil
	}

	info.PCRPID = pid
	info.FirstPCR = samples[0].pcr
	info.LastPCR = samples[len(samples)-1].pcr
	info.Duration, info.Discontinuities = measure(samples, DurationToTicks(opts.MaxStep))
	return info, nil
}

func collectPCR(buf []byte, f Framing, base int64, pid int, out []pcrSample) []pcrSample {
	scanPackets(buf, f, func(i int, p []byte) bool {
		if int(PID(p)) != pid {
			return true
		}
		if v, ok := PCR(p); ok {
			out = append(out, pcrSample{off: base + int64(i), pcr: v})
		}
		return true
	})
	return out
}

func measure(samples []pcrSample, maxStep int64) (time.Duration, int) {
	var ticks, span int64
	for i := 1; i < len(samples); i++ {
		if d := PCRDelta(samples[i-1].pcr, samples[i].pcr); d > 0 && d <= maxStep {
			ticks += d
			span += samples[i].off - samples[i-1].off
		}
	}
	if ticks == 0 || span == 0 {
		return 0, 0
	}
	rate := float64(span) / TicksToDuration(ticks).Seconds()

	total := TicksToDuration(ticks)
	disc := 0
	for i := 1; i < len(samples); i++ {
		d := PCRDelta(samples[i-1].pcr, samples[i].pcr)
		if d > 0 && d <= maxStep {
			continue
		}
		b := float64(samples[i].off - samples[i-1].off)
		if d > 0 {
			implied := b / TicksToDuration(d).Seconds()
			if implied >= rate/plausibleRateFactor && implied <= rate*plausibleRateFactor {
				total += TicksToDuration(d)
				continue
			}
		}
		total += time.Duration(b / rate * float64(time.Second))
		disc++
	}
	return total, disc
}

func readWindow(r io.ReaderAt, off int64, window int, size int64) ([]byte, error) {
	n := min(int64(window), size-off)
	if n <= 0 {
		return nil, ErrFormat
	}
	buf := make([]byte, n)
	got, err := r.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("probe read at %d: %w", off, err)
	}
	return buf[:got], nil
}

func scanPackets(buf []byte, f Framing, fn func(i int, p []byte) bool) {
	for i := 0; i+PacketSize <= len(buf); i += f.Unit {
		if buf[i] != SyncByte {
			continue
		}
		if !fn(i, buf[i:i+PacketSize]) {
			return
		}
	}
}
