// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ts_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tsplay/internal/ts"
)

func TestPCRRoundTrip(t *testing.T) {
	p := make([]byte, ts.PacketSize)
	for _, v := range []int64{0, 1, 299, 300, 27_000_000, ts.PCRWrap - 1} {
		ts.PutPCR(p, 0x100, v)
		got, ok := ts.PCR(p)
		require.True(t, ok)
		assert.Equal(t, v, got)
		assert.Equal(t, uint16(0x100), ts.PID(p))
		assert.Nil(t, ts.Payload(p), "adaptation-only packet has no payload")
	}
}

func TestPCRMissing(t *testing.T) {
	p := make([]byte, ts.PacketSize)
	p[0] = ts.SyncByte
	p[3] = 0x10
	_, ok := ts.PCR(p)
	assert.False(t, ok)

	// adaptation field without the PCR flag
	p[3] = 0x30
	p[4] = 1
	p[5] = 0x00
	_, ok = ts.PCR(p)
	assert.False(t, ok)
}

func TestPCRDeltaWrap(t *testing.T) {
	assert.Equal(t, int64(100), ts.PCRDelta(1000, 1100))
	assert.Equal(t, int64(-100), ts.PCRDelta(1100, 1000))
	assert.Equal(t, int64(20), ts.PCRDelta(ts.PCRWrap-10, 10))
}

func TestTickConversion(t *testing.T) {
	assert.Equal(t, time.Second, ts.TicksToDuration(ts.PCRHz))
	assert.Equal(t, int64(ts.PCRHz), ts.DurationToTicks(time.Second))
	assert.Equal(t, 40*time.Millisecond, ts.TicksToDuration(ts.DurationToTicks(40*time.Millisecond)))
}

func TestPayloadWithPointer(t *testing.T) {
	p := make([]byte, ts.PacketSize)
	p[0] = ts.SyncByte
	p[1] = 0x40
	p[3] = 0x30
	p[4] = 10
	pl := ts.Payload(p)
	assert.Len(t, pl, ts.PacketSize-4-11)
	assert.True(t, ts.PayloadUnitStart(p))

	p[4] = 200
	assert.Nil(t, ts.Payload(p), "adaptation field longer than the packet")
}
