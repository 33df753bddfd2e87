// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tstest builds synthetic transport streams for tests.
package tstest

import (
	"os"
	"time"

	"github.com/ManuGH/tsplay/internal/ts"
)

const (
	PMTPID   = 0x1000
	VideoPID = 0x0100
	AudioPID = 0x0101
)

// Options shapes the generated stream. The stream is a sequence of blocks, each
// starting with PAT, PMT and a PCR packet, followed by alternating video and
// audio payload packets. A final block carries only the PCR at Duration, so the
// probed duration equals Duration exactly.
type Options struct {
	Duration      time.Duration
	BlockInterval time.Duration // PCR spacing, default 100ms
	BlockPackets  int           // packets per block including PSI and PCR, default 20
	Unit          int           // 188, 192 or 204
	StartPCR      time.Duration
	// JumpAtBlock > 0 adds JumpBy to every PCR from that block on.
	JumpAtBlock int
	JumpBy      time.Duration
	// NoPCR leaves the adaptation field out entirely.
	NoPCR bool
	// Tot, when set, adds a TDT packet to the first block.
	Tot time.Time
}

func (o *Options) defaults() {
	if o.BlockInterval <= 0 {
		o.BlockInterval = 100 * time.Millisecond
	}
	if o.BlockPackets < 4 {
		o.BlockPackets = 20
	}
	if o.Unit == 0 {
		o.Unit = ts.PacketSize
	}
}

// Blocks returns the number of full blocks (the trailing PCR block excluded).
func (o Options) Blocks() int {
	o.defaults()
	return int(o.Duration / o.BlockInterval)
}

// BlockBytes returns the on-disk size of one full block.
func (o Options) BlockBytes() int {
	o.defaults()
	return o.BlockPackets * o.Unit
}

// Build renders the stream.
func Build(o Options) []byte {
	o.defaults()
	blocks := o.Blocks()
	out := make([]byte, 0, (blocks+1)*o.BlockPackets*o.Unit)

	pkt := make([]byte, ts.PacketSize)
	cc := map[uint16]byte{}
	emit := func() {
		switch o.Unit {
		case 192:
			out = append(out, 0, 0, 0, 0)
			out = append(out, pkt...)
		case 204:
			out = append(out, pkt...)
			out = append(out, make([]byte, 16)...)
		default:
			out = append(out, pkt...)
		}
	}

	for b := 0; b <= blocks; b++ {
		pcr := o.StartPCR + time.Duration(b)*o.BlockInterval
		if o.JumpAtBlock > 0 && b >= o.JumpAtBlock {
			pcr += o.JumpBy
		}
		PAT(pkt)
		emit()
		PMT(pkt)
		emit()
		n := 2
		if b == 0 && !o.Tot.IsZero() {
			TDT(pkt, o.Tot)
			emit()
			n++
		}
		if o.NoPCR {
			Payload(pkt, VideoPID, cc)
		} else {
			ts.PutPCR(pkt, VideoPID, ts.DurationToTicks(pcr)%ts.PCRWrap)
		}
		emit()
		n++
		if b == blocks {
			break
		}
		for ; n < o.BlockPackets; n++ {
			pid := uint16(VideoPID)
			if n%2 == 0 {
				pid = AudioPID
			}
			Payload(pkt, pid, cc)
			emit()
		}
	}
	return out
}

// Write renders the stream into path.
func Write(path string, o Options) ([]byte, error) {
	data := Build(o)
	return data, os.WriteFile(path, data, 0600)
}

// PAT fills p with a single-program PAT pointing at PMTPID.
func PAT(p []byte) {
	sec := []byte{
		0x00, 0xB0, 0x0D, // table id, section length 13
		0x00, 0x01, 0xC1, 0x00, 0x00, // tsid, version, section numbers
		0x00, 0x01, 0xE0 | byte(PMTPID>>8), byte(PMTPID & 0xFF),
	}
	psiPacket(p, ts.PIDPAT, sec)
}

// PMT fills p with a program carrying MPEG-2 video (PCR) and MPEG-2 audio.
func PMT(p []byte) {
	sec := []byte{
		0x02, 0xB0, 0x17, // section length 23
		0x00, 0x01, 0xC1, 0x00, 0x00,
		0xE0 | byte(VideoPID>>8), byte(VideoPID & 0xFF), // PCR PID
		0xF0, 0x00, // program info length
		0x02, 0xE0 | byte(VideoPID>>8), byte(VideoPID & 0xFF), 0xF0, 0x00,
		0x04, 0xE0 | byte(AudioPID>>8), byte(AudioPID & 0xFF), 0xF0, 0x00,
	}
	psiPacket(p, uint16(PMTPID), sec)
}

// TDT fills p with a time and date table for t.
func TDT(p []byte, t time.Time) {
	sec := make([]byte, 8)
	sec[0] = 0x70
	sec[1] = 0x70
	sec[2] = 0x05
	ts.PutUTC(sec[3:], t)
	p[0] = ts.SyncByte
	p[1] = 0x40
	p[2] = ts.PIDTDT
	p[3] = 0x10
	p[4] = 0
	n := copy(p[5:], sec)
	for i := 5 + n; i < ts.PacketSize; i++ {
		p[i] = 0xFF
	}
}

func psiPacket(p []byte, pid uint16, sec []byte) {
	crc := ts.CRC32(sec)
	sec = append(sec, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	p[0] = ts.SyncByte
	p[1] = 0x40 | byte(pid>>8)&0x1F
	p[2] = byte(pid)
	p[3] = 0x10
	p[4] = 0 // pointer field
	n := copy(p[5:], sec)
	for i := 5 + n; i < ts.PacketSize; i++ {
		p[i] = 0xFF
	}
}

// Payload fills p with a payload-only packet on pid; the body encodes the
// continuity counter so tests can check ordering.
func Payload(p []byte, pid uint16, cc map[uint16]byte) {
	c := cc[pid]
	cc[pid] = (c + 1) & 0x0F
	p[0] = ts.SyncByte
	p[1] = byte(pid>>8) & 0x1F
	p[2] = byte(pid)
	p[3] = 0x10 | c
	for i := 4; i < ts.PacketSize; i++ {
		p[i] = byte(i) ^ c
	}
}
