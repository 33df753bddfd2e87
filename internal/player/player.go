// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package player is the playback controller. It owns the playlist and chapter
// map, consults the resume cache at open and close, and drives the engine.
// Commands are single-flight: one mutex serializes them all. Status reads a
// copy republished after each command and never waits for one.
package player

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/tsplay/internal/chapter"
	"github.com/ManuGH/tsplay/internal/engine"
	"github.com/ManuGH/tsplay/internal/log"
	"github.com/ManuGH/tsplay/internal/metrics"
	"github.com/ManuGH/tsplay/internal/playlist"
	"github.com/ManuGH/tsplay/internal/resume"
	"github.com/ManuGH/tsplay/internal/speed"
	"github.com/ManuGH/tsplay/internal/telemetry"
)

var (
	// ErrNoChapter means there is no mark in the requested direction.
	ErrNoChapter = errors.New("no chapter mark in that direction")
	// ErrPlaylistEnd means the playlist has no item in the requested direction.
	ErrPlaylistEnd = errors.New("no further playlist item")
)

const tracerName = "github.com/ManuGH/tsplay/internal/player"

// NoOffset asks Open to consult the resume cache.
const NoOffset = playlist.NoOffset

// Engine is what the controller needs from the delivery engine.
type Engine interface {
	Open(ctx context.Context, path string, opts engine.OpenOptions) (engine.Status, error)
	Close() (engine.Status, error)
	Pause(paused bool) error
	SeekAbsolute(msec int) error
	Seek(delta int) error
	SetSpeed(id int) error
	Status() engine.Status
	Events() <-chan engine.Event
	Active() bool
}

// Config tunes controller behavior.
type Config struct {
	// ResumeTail: closing within this distance of the end stores position 0.
	ResumeTail time.Duration
	// PrevChapterMargin: PrevChapter looks for marks before pos-margin.
	PrevChapterMargin time.Duration
	// WatchInterval drives repeat-chapter and skip-region checks.
	WatchInterval time.Duration
	Repeat        playlist.Repeat
}

// NoticeKind classifies controller notices.
type NoticeKind string

const (
	NoticeOpened NoticeKind = "opened"
	NoticeEnded  NoticeKind = "ended"
	NoticeHalted NoticeKind = "halted"
)

// Notice is an asynchronous message for the host UI.
type Notice struct {
	Kind         NoticeKind `json:"kind"`
	Path         string     `json:"path,omitempty"`
	// PositionMsec is where the session stopped for ended and halted notices.
	PositionMsec int        `json:"position_ms"`
	Err          string     `json:"error,omitempty"`
	At           time.Time  `json:"at"`
}

// Snapshot is the status exposed to hosts.
type Snapshot struct {
	engine.Status
	PlaylistIndex int    `json:"playlist_index"`
	PlaylistLen   int    `json:"playlist_len"`
	Repeat        string `json:"repeat"`
	RepeatChapter bool   `json:"repeat_chapter"`
	SkipXChapter  bool   `json:"skip_x_chapter"`
	Chapter       int    `json:"chapter"`
	Chapters      int    `json:"chapters"`
}

// view is the controller half of a Snapshot.
type view struct {
	playlistIndex int
	playlistLen   int
	repeat        string
	repeatChapter bool
	skipX         bool
	marks         []int // ascending mark positions
}

func (v view) snapshot(st engine.Status) Snapshot {
	return Snapshot{
		Status:        st,
		PlaylistIndex: v.playlistIndex,
		PlaylistLen:   v.playlistLen,
		Repeat:        v.repeat,
		RepeatChapter: v.repeatChapter,
		SkipXChapter:  v.skipX,
		Chapter:       sort.SearchInts(v.marks, st.PositionMsec+1) - 1,
		Chapters:      len(v.marks),
	}
}

type current struct {
	path      string
	sessionID string
	fp        uint64
	hasFP     bool
}

// Controller orchestrates one engine.
type Controller struct {
	cfg    Config
	eng    Engine
	cache  *resume.Cache
	store  resume.Store
	logger zerolog.Logger

	notices chan Notice

	mu            sync.Mutex
	list          *playlist.Playlist
	chapters      *chapter.Map
	repeat        playlist.Repeat
	repeatChapter bool
	skipX         bool
	cur           current
	watchRegion   chapter.Region

	viewMu sync.RWMutex
	view   view
}

// New creates a controller. store may be nil when resume positions are not persisted.
func New(cfg Config, eng Engine, cache *resume.Cache, store resume.Store) *Controller {
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 200 * time.Millisecond
	}
	if cache == nil {
		cache = resume.NewCache(0, 1)
	}
	c := &Controller{
		cfg:      cfg,
		eng:      eng,
		cache:    cache,
		store:    store,
		logger:   log.WithComponent("player"),
		notices:  make(chan Notice, 16),
		list:     playlist.New(),
		chapters: chapter.New(0),
		repeat:   cfg.Repeat,
	}
	c.view = c.viewLocked()
	return c
}

// Notices delivers opened/ended/halted messages.
func (c *Controller) Notices() <-chan Notice { return c.notices }

func (c *Controller) notify(n Notice) {
	n.At = time.Now()
	select {
	case c.notices <- n:
	default:
		c.logger.Warn().Str(log.FieldEvent, "player.notice_dropped").Str("kind", string(n.Kind)).Msg("notice buffer full")
	}
}

// do runs fn under the command lock inside a span.
func (c *Controller) do(ctx context.Context, name string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "player."+name, trace.WithAttributes(telemetry.CommandAttributes(name, "")...))
	defer span.End()
	span.SetAttributes(attrs...)

	c.mu.Lock()
	err := fn(ctx)
	c.publishLocked()
	c.mu.Unlock()

	result := "ok"
	if err != nil {
		result = errorClass(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(telemetry.ErrorAttributes(result)...)
	}
	metrics.RecordCommand(name, result)
	return err
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return "not_found"
	case errors.Is(err, engine.ErrFormat):
		return "format"
	case errors.Is(err, engine.ErrNotOpen):
		return "not_open"
	case errors.Is(err, speed.ErrUnknownStretch):
		return "unknown_stretch"
	case errors.Is(err, ErrNoChapter):
		return "no_chapter"
	case errors.Is(err, ErrPlaylistEnd):
		return "playlist_end"
	case errors.Is(err, playlist.ErrOutOfRange):
		return "bad_index"
	case errors.Is(err, engine.ErrIO):
		return "io"
	default:
		return "error"
	}
}

// Status returns the engine snapshot plus controller state. It does not take
// the command lock, so it answers while a command is running.
func (c *Controller) Status() Snapshot {
	st := c.eng.Status()
	c.viewMu.RLock()
	v := c.view
	c.viewMu.RUnlock()
	return v.snapshot(st)
}

func (c *Controller) snapshotLocked() Snapshot {
	return c.viewLocked().snapshot(c.eng.Status())
}

func (c *Controller) viewLocked() view {
	marks := c.chapters.Marks()
	pos := make([]int, len(marks))
	for i, mk := range marks {
		pos[i] = mk.Pos
	}
	return view{
		playlistIndex: c.list.Cursor(),
		playlistLen:   c.list.Len(),
		repeat:        c.repeat.String(),
		repeatChapter: c.repeatChapter,
		skipX:         c.skipX,
		marks:         pos,
	}
}

// publishLocked republishes the controller state for Status.
func (c *Controller) publishLocked() {
	v := c.viewLocked()
	c.viewMu.Lock()
	c.view = v
	c.viewMu.Unlock()
}
