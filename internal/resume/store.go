// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

const (
	fileName     = "resume.json"
	sqliteName   = "resume.sqlite"
	snapshotVers = 1
)

// Snapshot is the persisted state: the installation salt plus entries, oldest first.
type Snapshot struct {
	Salt    uint32  `json:"salt"`
	Entries []Entry `json:"entries"`
}

// Store persists snapshots across sessions.
type Store interface {
	// Load returns the last saved snapshot, or a zero snapshot when nothing was saved.
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// NewStore creates a resume store for backend ("sqlite", "file" or "memory").
// An empty dir always yields a memory store.
func NewStore(backend, dir string) (Store, error) {
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "sqlite":
		if dir == "" {
			return NewMemoryStore(), nil
		}
		return NewSqliteStore(filepath.Join(dir, sqliteName))
	case "file":
		if dir == "" {
			return NewMemoryStore(), nil
		}
		return NewFileStore(filepath.Join(dir, fileName))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown resume store backend: %s (supported: sqlite, file, memory)", backend)
	}
}

// MemoryStore keeps the snapshot in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewMemoryStore creates an in-memory resume store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snap), nil
}

func (s *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = cloneSnapshot(snap)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneSnapshot(s Snapshot) Snapshot {
	out := Snapshot{Salt: s.Salt}
	if len(s.Entries) > 0 {
		out.Entries = append([]Entry(nil), s.Entries...)
	}
	return out
}

// FileStore writes the snapshot as JSON, replacing the file atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileSnapshot struct {
	Version int `json:"version"`
	Snapshot
}

// NewFileStore returns a store persisting to path, creating its directory.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create resume store dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read resume file: %w", err)
	}
	var fs fileSnapshot
	if err := json.Unmarshal(data, &fs); err != nil {
		return Snapshot{}, fmt.Errorf("decode resume file: %w", err)
	}
	if fs.Version > snapshotVers {
		return Snapshot{}, fmt.Errorf("resume file version %d is newer than supported %d", fs.Version, snapshotVers)
	}
	return fs.Snapshot, nil
}

func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(fileSnapshot{Version: snapshotVers, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("encode resume file: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0600))
	if err != nil {
		return fmt.Errorf("create pending resume file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write resume file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace resume file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
