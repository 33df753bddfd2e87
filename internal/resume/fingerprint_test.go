// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resume

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func content(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31) ^ seed
	}
	return b
}

func TestFingerprint_Deterministic(t *testing.T) {
	data := content(1<<20, 1)
	a, err := Fingerprint(bytes.NewReader(data), int64(len(data)), 7)
	require.NoError(t, err)
	b, err := Fingerprint(bytes.NewReader(data), int64(len(data)), 7)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Zero(t, a>>56, "fingerprint must fit in 56 bits")
}

func TestFingerprint_SaltSizeAndContentMatter(t *testing.T) {
	data := content(1<<20, 1)
	base, _ := Fingerprint(bytes.NewReader(data), int64(len(data)), 7)

	salted, _ := Fingerprint(bytes.NewReader(data), int64(len(data)), 8)
	assert.NotEqual(t, base, salted)

	shorter, _ := Fingerprint(bytes.NewReader(data[:len(data)-188]), int64(len(data)-188), 7)
	assert.NotEqual(t, base, shorter)

	changed := append([]byte(nil), data...)
	changed[0] ^= 0xFF
	other, _ := Fingerprint(bytes.NewReader(changed), int64(len(changed)), 7)
	assert.NotEqual(t, base, other)
}

func TestFingerprint_SmallFile(t *testing.T) {
	fp, err := Fingerprint(bytes.NewReader([]byte("tiny")), 4, 1)
	require.NoError(t, err)
	assert.NotZero(t, fp)

	_, err = Fingerprint(bytes.NewReader(nil), 0, 1)
	require.NoError(t, err)
}

func TestFingerprintFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.ts")
	data := content(64*1024, 3)
	require.NoError(t, os.WriteFile(path, data, 0600))

	fromFile, err := FingerprintFile(path, 5)
	require.NoError(t, err)
	fromMem, err := Fingerprint(bytes.NewReader(data), int64(len(data)), 5)
	require.NoError(t, err)
	assert.Equal(t, fromMem, fromFile)

	_, err = FingerprintFile(filepath.Join(t.TempDir(), "missing.ts"), 5)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewSalt(t *testing.T) {
	s, err := NewSalt()
	require.NoError(t, err)
	assert.NotZero(t, s)
}
