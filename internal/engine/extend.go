// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// growthWatcher waits for a capture file to grow. It watches the parent
// directory with fsnotify and polls as a fallback, since some filesystems
// (network mounts) deliver no events.
type growthWatcher struct {
	path   string
	name   string
	w      *fsnotify.Watcher
	logger zerolog.Logger
}

func newGrowthWatcher(path string, logger zerolog.Logger) *growthWatcher {
	g := &growthWatcher{path: path, name: filepath.Base(path), logger: logger}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn().Err(err).Msg("fsnotify unavailable, polling for growth")
		return g
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		logger.Warn().Err(err).Msg("watch directory failed, polling for growth")
		_ = w.Close()
		return g
	}
	g.w = w
	return g
}

func (g *growthWatcher) close() {
	if g.w != nil {
		_ = g.w.Close()
	}
}

func (g *growthWatcher) size() (int64, error) {
	fi, err := os.Stat(g.path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", g.path, err)
	}
	return fi.Size(), nil
}

// wait blocks until the file is larger than known, timeout elapses or ctx ends.
// It returns the latest size.
func (g *growthWatcher) wait(ctx context.Context, known int64, timeout, poll time.Duration) (int64, error) {
	if n, err := g.size(); err != nil || n > known {
		return n, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if g.w != nil {
		events, errs = g.w.Events, g.w.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return known, ctx.Err()
		case <-timer.C:
			return g.size()
		case <-ticker.C:
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != g.name || !ev.Has(fsnotify.Write) {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			g.logger.Warn().Err(err).Msg("fsnotify watcher error")
			continue
		}
		n, err := g.size()
		if err != nil || n > known {
			return n, err
		}
	}
}
