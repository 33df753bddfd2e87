// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ts

import (
	"time"
)

const (
	tablePAT = 0x00
	tablePMT = 0x02
	tableTDT = 0x70
	tableTOT = 0x73
)

var audioStreamTypes = map[byte]bool{
	0x03: true, // MPEG-1 audio
	0x04: true, // MPEG-2 audio
	0x0F: true, // AAC ADTS
	0x11: true, // AAC LATM
	0x81: true, // AC-3 (ATSC)
	0x87: true, // E-AC-3 (ATSC)
}

// descriptors marking a private (0x06) stream as audio
var audioDescriptors = map[byte]bool{
	0x6A: true, // AC-3
	0x7A: true, // E-AC-3
	0x7B: true, // DTS
	0x7C: true, // AAC
}

// PSI tracks PAT/PMT to classify audio PIDs and TDT/TOT for the broadcast clock.
// Only sections that fit in a single packet are parsed. Not safe for concurrent use.
type PSI struct {
	pmt   map[uint16]bool
	audio map[uint16]bool
	pcr   int
	tot   time.Time
}

// NewPSI returns an empty tracker.
func NewPSI() *PSI {
	return &PSI{pmt: map[uint16]bool{}, audio: map[uint16]bool{}, pcr: -1}
}

// IsAudio reports whether pid carries audio per the last PMT seen.
func (s *PSI) IsAudio(pid uint16) bool { return s.audio[pid] }

// AudioPIDs returns the number of known audio PIDs.
func (s *PSI) AudioPIDs() int { return len(s.audio) }

// PCRPID returns the PCR PID announced by the PMT, or -1.
func (s *PSI) PCRPID() int { return s.pcr }

// Tot returns the last TDT/TOT time seen, zero if none.
func (s *PSI) Tot() time.Time { return s.tot }

// Feed inspects one 188-byte packet.
func (s *PSI) Feed(p []byte) {
	pid := PID(p)
	if !PayloadUnitStart(p) {
		return
	}
	switch {
	case pid == PIDPAT:
		if sec := section(p); sec != nil && sec[0] == tablePAT && crcOK(sec) {
			s.parsePAT(sec)
		}
	case pid == PIDTDT:
		if sec := section(p); sec != nil && (sec[0] == tableTDT || sec[0] == tableTOT) {
			if t, ok := parseUTC(sec); ok {
				s.tot = t
			}
		}
	case s.pmt[pid]:
		if sec := section(p); sec != nil && sec[0] == tablePMT && crcOK(sec) {
			s.parsePMT(sec)
		}
	}
}

// section returns the complete section starting in p, or nil.
func section(p []byte) []byte {
	pl := Payload(p)
	if len(pl) < 1 {
		return nil
	}
	start := 1 + int(pl[0])
	if start+3 > len(pl) {
		return nil
	}
	sec := pl[start:]
	n := 3 + (int(sec[1]&0x0F)<<8 | int(sec[2]))
	if n > len(sec) {
		return nil
	}
	return sec[:n]
}

func crcOK(sec []byte) bool {
	return len(sec) >= 12 && CRC32(sec) == 0
}

func (s *PSI) parsePAT(sec []byte) {
	for i := 8; i+4 <= len(sec)-4; i += 4 {
		program := uint16(sec[i])<<8 | uint16(sec[i+1])
		pid := uint16(sec[i+2]&0x1F)<<8 | uint16(sec[i+3])
		if program != 0 {
			s.pmt[pid] = true
		}
	}
}

func (s *PSI) parsePMT(sec []byte) {
	end := len(sec) - 4
	if end < 12 {
		return
	}
	s.pcr = int(sec[8]&0x1F)<<8 | int(sec[9])
	infoLen := int(sec[10]&0x0F)<<8 | int(sec[11])
	audio := map[uint16]bool{}
	for i := 12 + infoLen; i+5 <= end; {
		st := sec[i]
		pid := uint16(sec[i+1]&0x1F)<<8 | uint16(sec[i+2])
		esLen := int(sec[i+3]&0x0F)<<8 | int(sec[i+4])
		desc := sec[i+5 : min(i+5+esLen, end)]
		if audioStreamTypes[st] || (st == 0x06 && hasAudioDescriptor(desc)) {
			audio[pid] = true
		}
		i += 5 + esLen
	}
	// Merge so multi-program streams keep every program's audio.
	for pid := range audio {
		s.audio[pid] = true
	}
}

func hasAudioDescriptor(desc []byte) bool {
	for i := 0; i+2 <= len(desc); i += 2 + int(desc[i+1]) {
		if audioDescriptors[desc[i]] {
			return true
		}
	}
	return false
}

// parseUTC decodes the 40-bit MJD + BCD time following the section header.
func parseUTC(sec []byte) (time.Time, bool) {
	if len(sec) < 8 {
		return time.Time{}, false
	}
	mjd := int(sec[3])<<8 | int(sec[4])
	h, ok1 := bcd(sec[5])
	m, ok2 := bcd(sec[6])
	sc, ok3 := bcd(sec[7])
	if !ok1 || !ok2 || !ok3 || h > 23 || m > 59 || sc > 59 {
		return time.Time{}, false
	}
	day := time.Date(1858, time.November, 17, 0, 0, 0, 0, time.UTC).AddDate(0, 0, mjd)
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sc)*time.Second), true
}

func bcd(b byte) (int, bool) {
	hi, lo := int(b>>4), int(b&0x0F)
	if hi > 9 || lo > 9 {
		return 0, false
	}
	return hi*10 + lo, true
}

// PutUTC encodes t as MJD + BCD into five bytes.
func PutUTC(dst []byte, t time.Time) {
	t = t.UTC()
	epoch := time.Date(1858, time.November, 17, 0, 0, 0, 0, time.UTC)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	mjd := int(day.Sub(epoch).Hours() / 24)
	dst[0] = byte(mjd >> 8)
	dst[1] = byte(mjd)
	toBCD := func(v int) byte { return byte(v/10)<<4 | byte(v%10) }
	dst[2] = toBCD(t.Hour())
	dst[3] = toBCD(t.Minute())
	dst[4] = toBCD(t.Second())
}

var crcTable = func() [256]uint32 {
	var tbl [256]uint32
	for i := range tbl {
		c := uint32(i) << 24
		for k := 0; k < 8; k++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		tbl[i] = c
	}
	return tbl
}()

// CRC32 is the MPEG-2 section CRC. Over a section including its CRC it yields 0.
func CRC32(b []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, v := range b {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^v]
	}
	return crc
}
