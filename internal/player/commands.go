// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/tsplay/internal/chapter"
	"github.com/ManuGH/tsplay/internal/engine"
	"github.com/ManuGH/tsplay/internal/log"
	"github.com/ManuGH/tsplay/internal/metrics"
	"github.com/ManuGH/tsplay/internal/playlist"
	"github.com/ManuGH/tsplay/internal/resume"
	"github.com/ManuGH/tsplay/internal/telemetry"
)

// Open closes any current session and plays path as a one-item playlist.
// offset is a start position in msec; NoOffset resumes from the cache.
func (c *Controller) Open(ctx context.Context, path string, offset int, paused bool) (Snapshot, error) {
	var snap Snapshot
	err := c.do(ctx, "open", []attribute.KeyValue{attribute.String(telemetry.PathKey, path)}, func(ctx context.Context) error {
		c.closeLocked(ctx)
		c.list.Replace([]playlist.Item{{Path: path, StartMsec: offset}})
		if _, err := c.list.Select(0); err != nil {
			return err
		}
		if err := c.openLocked(ctx, path, offset, paused); err != nil {
			return err
		}
		snap = c.snapshotLocked()
		return nil
	})
	return snap, err
}

// OpenPlaylist replaces the playlist and plays the item at start.
func (c *Controller) OpenPlaylist(ctx context.Context, items []playlist.Item, start int) (Snapshot, error) {
	var snap Snapshot
	err := c.do(ctx, "open_playlist", []attribute.KeyValue{attribute.Int(telemetry.PlaylistIdx, start)}, func(ctx context.Context) error {
		if start < 0 || start >= len(items) {
			return fmt.Errorf("%w: start %d not in [0,%d)", playlist.ErrOutOfRange, start, len(items))
		}
		c.closeLocked(ctx)
		c.list.Replace(items)
		it, err := c.list.Select(start)
		if err != nil {
			return err
		}
		if err := c.openLocked(ctx, it.Path, it.StartMsec, false); err != nil {
			return err
		}
		snap = c.snapshotLocked()
		return nil
	})
	return snap, err
}

// Close ends the current session and records its resume position.
func (c *Controller) Close(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.do(ctx, "close", nil, func(ctx context.Context) error {
		if !c.eng.Active() {
			return engine.ErrNotOpen
		}
		st := c.closeLocked(ctx)
		snap = c.snapshotLocked()
		snap.Status = st
		return nil
	})
	return snap, err
}

// Pause pauses or resumes delivery.
func (c *Controller) Pause(ctx context.Context, paused bool) error {
	return c.do(ctx, "pause", []attribute.KeyValue{attribute.Bool("tsplay.paused", paused)}, func(ctx context.Context) error {
		return c.eng.Pause(paused)
	})
}

// SeekAbsolute moves to msec. With skip-X enabled a target inside a skip
// region lands on the region's end.
func (c *Controller) SeekAbsolute(ctx context.Context, msec int) error {
	return c.do(ctx, "seek_absolute", []attribute.KeyValue{attribute.Int(telemetry.PositionKey, msec)}, func(ctx context.Context) error {
		return c.seekLocked(msec)
	})
}

// Seek moves by delta msec.
func (c *Controller) Seek(ctx context.Context, delta int) error {
	return c.do(ctx, "seek", []attribute.KeyValue{attribute.Int("tsplay.delta_ms", delta)}, func(ctx context.Context) error {
		if err := c.eng.Seek(delta); err != nil {
			return err
		}
		c.watchRegion = c.chapters.RegionAt(c.eng.Status().PositionMsec + delta)
		return nil
	})
}

// SeekToBegin moves to the start of the file.
func (c *Controller) SeekToBegin(ctx context.Context) error {
	return c.do(ctx, "seek_begin", nil, func(ctx context.Context) error {
		return c.seekLocked(0)
	})
}

// SeekToEnd moves to the end of the file, ending the stream unless it is
// still being recorded.
func (c *Controller) SeekToEnd(ctx context.Context) error {
	return c.do(ctx, "seek_end", nil, func(ctx context.Context) error {
		return c.eng.SeekAbsolute(c.eng.Status().DurationMsec)
	})
}

// SetSpeed selects a stretch by id.
func (c *Controller) SetSpeed(ctx context.Context, id int) error {
	return c.do(ctx, "set_speed", []attribute.KeyValue{attribute.Int(telemetry.SpeedIDKey, id)}, func(ctx context.Context) error {
		return c.eng.SetSpeed(id)
	})
}

// NextChapter seeks to the first mark after the current position.
func (c *Controller) NextChapter(ctx context.Context) error {
	return c.do(ctx, "next_chapter", nil, func(ctx context.Context) error {
		if err := c.requireOpen(); err != nil {
			return err
		}
		mk, ok := c.chapters.NextFrom(c.eng.Status().PositionMsec)
		if !ok {
			return ErrNoChapter
		}
		return c.seekRawLocked(mk.Pos)
	})
}

// PrevChapter seeks to the last mark at least PrevChapterMargin before the
// current position, so a second press right after a mark goes one further back.
func (c *Controller) PrevChapter(ctx context.Context) error {
	return c.do(ctx, "prev_chapter", nil, func(ctx context.Context) error {
		if err := c.requireOpen(); err != nil {
			return err
		}
		pos := c.eng.Status().PositionMsec - int(c.cfg.PrevChapterMargin/time.Millisecond)
		mk, ok := c.chapters.PrevFrom(pos + 1)
		if !ok {
			return ErrNoChapter
		}
		return c.seekRawLocked(mk.Pos)
	})
}

// PlaylistNext closes the current file and opens the next playlist item.
func (c *Controller) PlaylistNext(ctx context.Context) (Snapshot, error) {
	return c.step(ctx, "playlist_next", playlist.Forward)
}

// PlaylistPrev closes the current file and opens the previous playlist item.
func (c *Controller) PlaylistPrev(ctx context.Context) (Snapshot, error) {
	return c.step(ctx, "playlist_prev", playlist.Backward)
}

func (c *Controller) step(ctx context.Context, name string, dir playlist.Direction) (Snapshot, error) {
	var snap Snapshot
	err := c.do(ctx, name, nil, func(ctx context.Context) error {
		// An explicit step never stays on the same item.
		policy := c.repeat
		if policy == playlist.RepeatSingle {
			policy = playlist.RepeatNone
		}
		it, ok := c.list.Advance(dir, policy)
		if !ok {
			return ErrPlaylistEnd
		}
		c.closeLocked(ctx)
		if err := c.openLocked(ctx, it.Path, it.StartMsec, false); err != nil {
			return err
		}
		snap = c.snapshotLocked()
		return nil
	})
	return snap, err
}

// PlaylistItems returns a copy of the playlist.
func (c *Controller) PlaylistItems() ([]playlist.Item, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Items(), c.list.Cursor()
}

// EditPlaylist applies fn to the playlist under the command lock.
// The cursor semantics of the playlist apply; the open session is untouched.
func (c *Controller) EditPlaylist(ctx context.Context, name string, fn func(*playlist.Playlist) error) error {
	return c.do(ctx, "playlist_"+name, nil, func(ctx context.Context) error {
		return fn(c.list)
	})
}

// Chapters returns the current marks.
func (c *Controller) Chapters() []chapter.Mark {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chapters.Marks()
}

// InsertChapter adds a mark, replacing one at the same position.
func (c *Controller) InsertChapter(ctx context.Context, mk chapter.Mark) (chapter.Mark, error) {
	var out chapter.Mark
	err := c.do(ctx, "chapter_insert", []attribute.KeyValue{attribute.Int(telemetry.PositionKey, mk.Pos)}, func(ctx context.Context) error {
		if err := c.requireOpen(); err != nil {
			return err
		}
		out = c.chapters.Insert(mk)
		return nil
	})
	return out, err
}

// InsertChapterHere adds a mark at the current position.
func (c *Controller) InsertChapterHere(ctx context.Context, flags chapter.Flag, name string) (chapter.Mark, error) {
	var out chapter.Mark
	err := c.do(ctx, "chapter_insert", nil, func(ctx context.Context) error {
		if err := c.requireOpen(); err != nil {
			return err
		}
		out = c.chapters.Insert(chapter.Mark{Pos: c.eng.Status().PositionMsec, Flags: flags, Name: name})
		return nil
	})
	return out, err
}

// DeleteChapter removes the mark at pos.
func (c *Controller) DeleteChapter(ctx context.Context, pos int) error {
	return c.do(ctx, "chapter_delete", []attribute.KeyValue{attribute.Int(telemetry.PositionKey, pos)}, func(ctx context.Context) error {
		if !c.chapters.Delete(pos) {
			return ErrNoChapter
		}
		return nil
	})
}

// ReplaceChapters swaps the whole mark set.
func (c *Controller) ReplaceChapters(ctx context.Context, marks []chapter.Mark) error {
	return c.do(ctx, "chapter_replace", []attribute.KeyValue{attribute.Int("tsplay.chapters", len(marks))}, func(ctx context.Context) error {
		if err := c.requireOpen(); err != nil {
			return err
		}
		c.chapters.ReplaceAll(marks)
		return nil
	})
}

// SetRepeat sets the playlist repeat policy.
func (c *Controller) SetRepeat(ctx context.Context, r playlist.Repeat) error {
	return c.do(ctx, "set_repeat", []attribute.KeyValue{attribute.String("tsplay.repeat", r.String())}, func(ctx context.Context) error {
		c.repeat = r
		return nil
	})
}

// SetRepeatChapter loops the chapter containing the position.
func (c *Controller) SetRepeatChapter(ctx context.Context, on bool) error {
	return c.do(ctx, "set_repeat_chapter", []attribute.KeyValue{attribute.Bool("tsplay.enabled", on)}, func(ctx context.Context) error {
		c.repeatChapter = on
		if on {
			c.watchRegion = c.chapters.RegionAt(c.eng.Status().PositionMsec)
		}
		return nil
	})
}

// SetSkipXChapter jumps over skip regions.
func (c *Controller) SetSkipXChapter(ctx context.Context, on bool) error {
	return c.do(ctx, "set_skip_x", []attribute.KeyValue{attribute.Bool("tsplay.enabled", on)}, func(ctx context.Context) error {
		c.skipX = on
		return nil
	})
}

func (c *Controller) requireOpen() error {
	if c.cur.sessionID == "" {
		return engine.ErrNotOpen
	}
	return nil
}

func (c *Controller) seekLocked(msec int) error {
	if c.skipX {
		if end, ok := c.chapters.SkipEnd(msec); ok {
			msec = end
		}
	}
	return c.seekRawLocked(msec)
}

func (c *Controller) seekRawLocked(msec int) error {
	if err := c.eng.SeekAbsolute(msec); err != nil {
		return err
	}
	c.watchRegion = c.chapters.RegionAt(msec)
	return nil
}

// openLocked opens path on the engine. It assumes no session is active.
func (c *Controller) openLocked(ctx context.Context, path string, offset int, paused bool) error {
	span := trace.SpanFromContext(ctx)

	fp, fpErr := resume.FingerprintFile(path, c.cache.Salt())
	resumed := false
	start := offset
	if offset == NoOffset {
		start = 0
		if fpErr == nil {
			if pos, ok := c.cache.Lookup(fp); ok {
				start, resumed = pos, true
			}
		}
	}
	if start < 0 {
		start = 0
	}

	st, err := c.eng.Open(ctx, path, engine.OpenOptions{StartMsec: start, Paused: paused})
	if err != nil {
		c.logger.Warn().Err(err).Str(log.FieldEvent, "player.open_failed").Str(log.FieldPath, path).Msg("open failed")
		return err
	}

	c.cur = current{path: path, sessionID: st.SessionID, fp: fp, hasFP: fpErr == nil}
	c.chapters.Reset(st.DurationMsec)
	c.watchRegion = c.chapters.RegionAt(start)
	span.SetAttributes(telemetry.OpenAttributes(st.SessionID, start, resumed)...)

	c.logger.Info().
		Str(log.FieldEvent, "player.opened").
		Str(log.FieldPath, path).
		Str(log.FieldSessionID, st.SessionID).
		Int(log.FieldPositionMs, start).
		Bool("resumed", resumed).
		Msg("playback started")
	c.notify(Notice{Kind: NoticeOpened, Path: path})
	return nil
}

// closeLocked closes the engine session if there is one and stores the
// resume position. It returns the final engine status.
func (c *Controller) closeLocked(ctx context.Context) engine.Status {
	if !c.eng.Active() {
		c.cur = current{}
		return c.eng.Status()
	}
	st, err := c.eng.Close()
	if err != nil && !errors.Is(err, engine.ErrNotOpen) {
		c.logger.Warn().Err(err).Str(log.FieldEvent, "player.close_failed").Msg("engine close failed")
	}
	c.recordResume(ctx, st)
	c.cur = current{}
	return st
}

func (c *Controller) recordResume(ctx context.Context, st engine.Status) {
	if !c.cur.hasFP {
		return
	}
	pos := st.PositionMsec
	if tail := int(c.cfg.ResumeTail / time.Millisecond); st.DurationMsec > 0 && pos >= st.DurationMsec-tail {
		pos = 0
	}
	c.cache.Upsert(c.cur.fp, pos)
	metrics.SetResumeEntries(c.cache.Len())
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, c.cache.Snapshot()); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldEvent, "player.resume_save_failed").Msg("resume cache not persisted")
	}
}
