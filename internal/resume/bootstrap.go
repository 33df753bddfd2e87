// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resume

import (
	"context"
	"fmt"

	xglog "github.com/ManuGH/tsplay/internal/log"
)

// Open loads the persisted snapshot and builds the process-wide cache. The salt
// is resolved once: a stored salt wins, then configuredSalt, then a fresh random
// one which is saved immediately.
func Open(ctx context.Context, store Store, capacity int, configuredSalt uint32) (*Cache, error) {
	logger := xglog.WithComponentFromContext(ctx, "resume")

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load resume snapshot: %w", err)
	}

	salt := snap.Salt
	fresh := false
	switch {
	case salt != 0:
		if configuredSalt != 0 && configuredSalt != salt {
			logger.Warn().
				Str(xglog.FieldEvent, "resume.salt_ignored").
				Msg("configured salt differs from the stored one; keeping stored salt")
		}
	case configuredSalt != 0:
		salt = configuredSalt
		fresh = true
	default:
		if salt, err = NewSalt(); err != nil {
			return nil, err
		}
		fresh = true
	}

	c := NewCache(capacity, salt)
	c.Restore(snap.Entries)

	if fresh {
		if err := store.Save(ctx, c.Snapshot()); err != nil {
			return nil, fmt.Errorf("save resume salt: %w", err)
		}
	}

	logger.Info().
		Str(xglog.FieldEvent, "resume.loaded").
		Int("entries", c.Len()).
		Int("capacity", c.Capacity()).
		Msg("resume cache loaded")
	return c, nil
}
