// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"
	"time"

	"github.com/ManuGH/tsplay/internal/engine"
	"github.com/ManuGH/tsplay/internal/log"
	"github.com/ManuGH/tsplay/internal/playlist"
)

// Run consumes engine events and drives the chapter watcher until ctx is done.
// It closes the current session on exit.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.WatchInterval)
	defer ticker.Stop()
	defer func() {
		c.mu.Lock()
		c.closeLocked(context.WithoutCancel(ctx))
		c.publishLocked()
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.eng.Events():
			c.handle(ctx, ev)
		case <-ticker.C:
			c.watch()
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.publishLocked()
	if ev.SessionID == "" || ev.SessionID != c.cur.sessionID {
		c.logger.Debug().Str(log.FieldEvent, "player.stale_event").Str(log.FieldSessionID, ev.SessionID).Msg("ignoring event for old session")
		return
	}

	switch ev.Kind {
	case engine.EventEndOfStream:
		path := c.cur.path
		c.closeLocked(ctx)
		for range c.list.Len() {
			it, ok := c.list.Advance(playlist.Forward, c.repeat)
			if !ok {
				break
			}
			if err := c.openLocked(ctx, it.Path, it.StartMsec, false); err == nil {
				return
			}
			// Unplayable items are skipped; single repeat would retry forever.
			if c.repeat == playlist.RepeatSingle {
				break
			}
		}
		c.logger.Info().Str(log.FieldEvent, "player.ended").Str(log.FieldPath, path).Msg("playlist finished")
		c.notify(Notice{Kind: NoticeEnded, Path: path, PositionMsec: ev.Status.PositionMsec})

	case engine.EventHalted:
		path := c.cur.path
		c.closeLocked(ctx)
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		c.logger.Error().Err(ev.Err).Str(log.FieldEvent, "player.halted").Str(log.FieldPath, path).Msg("playback halted")
		c.notify(Notice{Kind: NoticeHalted, Path: path, PositionMsec: ev.Status.PositionMsec, Err: msg})
	}
}

// watch applies repeat-chapter and skip-X against the live position.
func (c *Controller) watch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.sessionID == "" {
		return
	}
	st := c.eng.Status()
	if st.State != engine.StatePlaying {
		return
	}
	if st.Extending && st.DurationMsec > c.chapters.Duration() {
		c.chapters.SetDuration(st.DurationMsec)
		c.publishLocked()
	}
	pos := st.PositionMsec

	if c.skipX {
		if end, ok := c.chapters.SkipEnd(pos); ok && end > pos {
			c.logger.Debug().Str(log.FieldEvent, "player.skip_region").Int(log.FieldPositionMs, pos).Int("target_ms", end).Msg("skipping region")
			err := c.seekRawLocked(end)
			if err == nil {
				return
			}
			c.logger.Warn().Err(err).Str(log.FieldEvent, "player.skip_region_failed").Int("target_ms", end).Msg("skip region seek failed")
		}
	}

	if !c.repeatChapter {
		return
	}
	r := c.watchRegion
	// Two ticks of content at the current rate.
	margin := int(2 * float64(c.cfg.WatchInterval/time.Millisecond) * max(st.Rate, 1))
	if pos >= r.Start && pos >= r.End-margin && pos < r.End+margin {
		c.logger.Debug().Str(log.FieldEvent, "player.repeat_chapter").Int("start_ms", r.Start).Int("end_ms", r.End).Msg("repeating chapter")
		if err := c.eng.SeekAbsolute(r.Start); err != nil {
			c.logger.Warn().Err(err).Str(log.FieldEvent, "player.repeat_chapter_failed").Int("start_ms", r.Start).Msg("repeat chapter seek failed")
		}
		return
	}
	c.watchRegion = c.chapters.RegionAt(pos)
}
