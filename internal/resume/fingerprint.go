// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resume

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

const (
	fingerprintMask = 1<<56 - 1
	sampleCount     = 8
	sampleSize      = 4096
)

// Fingerprint derives a 56-bit identifier from the size, sampled content and the
// installation salt. Files shorter than the sample window are hashed whole.
func Fingerprint(r io.ReaderAt, size int64, salt uint32) (uint64, error) {
	if size < 0 {
		return 0, fmt.Errorf("fingerprint: negative size %d", size)
	}
	h := blake3.New()

	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], salt)
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(size))
	_, _ = h.Write(hdr[:])

	buf := make([]byte, sampleSize)
	for i := int64(0); i < sampleCount; i++ {
		off := size * i / sampleCount
		n, err := r.ReadAt(buf, off)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("fingerprint: read at %d: %w", off, err)
		}
		_, _ = h.Write(buf[:n])
		if size <= sampleSize {
			break
		}
	}

	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8]) & fingerprintMask, nil
}

// FingerprintFile opens path and fingerprints it.
func FingerprintFile(path string, salt uint32) (uint64, error) {
	f, err := os.Open(path) // #nosec G304 -- playback paths come from the host
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return Fingerprint(f, st.Size(), salt)
}

// NewSalt returns a random non-zero installation salt.
func NewSalt() (uint32, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("generate salt: %w", err)
		}
		if s := binary.LittleEndian.Uint32(b[:]); s != 0 {
			return s, nil
		}
	}
}
