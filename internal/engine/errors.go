// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"errors"

	"github.com/ManuGH/tsplay/internal/ts"
)

var (
	// ErrNotFound means the path could not be opened for reading.
	ErrNotFound = errors.New("file not found or unreadable")
	// ErrFormat means the file cannot be framed as a transport stream.
	ErrFormat = ts.ErrFormat
	// ErrIO is a read or sink failure in a running session.
	ErrIO = errors.New("i/o error")
	// ErrNotOpen is returned by commands when no session exists.
	ErrNotOpen = errors.New("no open session")
	// ErrAlreadyOpen is returned by Open while a session exists.
	ErrAlreadyOpen = errors.New("session already open")
)
