// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package v1 implements the /api/v1 control surface of the player.
package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tsplay/internal/chapter"
	"github.com/ManuGH/tsplay/internal/log"
	"github.com/ManuGH/tsplay/internal/player"
	"github.com/ManuGH/tsplay/internal/playlist"
	"github.com/ManuGH/tsplay/internal/speed"
)

// Controller is the playback controller as seen by the API.
type Controller interface {
	Status() player.Snapshot
	Notices() <-chan player.Notice

	Open(ctx context.Context, path string, offset int, paused bool) (player.Snapshot, error)
	OpenPlaylist(ctx context.Context, items []playlist.Item, start int) (player.Snapshot, error)
	Close(ctx context.Context) (player.Snapshot, error)
	Pause(ctx context.Context, paused bool) error
	SeekAbsolute(ctx context.Context, msec int) error
	Seek(ctx context.Context, delta int) error
	SeekToBegin(ctx context.Context) error
	SeekToEnd(ctx context.Context) error
	SetSpeed(ctx context.Context, id int) error

	NextChapter(ctx context.Context) error
	PrevChapter(ctx context.Context) error
	Chapters() []chapter.Mark
	InsertChapter(ctx context.Context, mk chapter.Mark) (chapter.Mark, error)
	InsertChapterHere(ctx context.Context, flags chapter.Flag, name string) (chapter.Mark, error)
	DeleteChapter(ctx context.Context, pos int) error
	ReplaceChapters(ctx context.Context, marks []chapter.Mark) error

	PlaylistNext(ctx context.Context) (player.Snapshot, error)
	PlaylistPrev(ctx context.Context) (player.Snapshot, error)
	PlaylistItems() ([]playlist.Item, int)
	EditPlaylist(ctx context.Context, name string, fn func(*playlist.Playlist) error) error

	SetRepeat(ctx context.Context, r playlist.Repeat) error
	SetRepeatChapter(ctx context.Context, on bool) error
	SetSkipXChapter(ctx context.Context, on bool) error
}

// Options configures the handler.
type Options struct {
	// StatusPush is the websocket status interval.
	StatusPush time.Duration
	// BaseDir resolves relative paths in uploaded M3U playlists.
	BaseDir string
}

// Handler serves /api/v1.
type Handler struct {
	ctl    Controller
	speeds *speed.Table
	opts   Options
	hub    *hub
	logger zerolog.Logger
}

// NewHandler creates the v1 handler. Run must be started for websocket pushes.
func NewHandler(ctl Controller, speeds *speed.Table, opts Options) *Handler {
	if opts.StatusPush <= 0 {
		opts.StatusPush = time.Second
	}
	logger := log.WithComponent("api.v1")
	return &Handler{
		ctl:    ctl,
		speeds: speeds,
		opts:   opts,
		hub:    newHub(logger),
		logger: logger,
	}
}

// Routes returns the v1 router, to be mounted at /api/v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.handleStatus)
	r.Get("/status/ws", h.handleStatusWS)
	r.Get("/speeds", h.handleSpeeds)

	r.Post("/open", h.handleOpen)
	r.Post("/close", h.handleClose)
	r.Post("/pause", h.handlePause)
	r.Post("/seek", h.handleSeek)
	r.Post("/speed", h.handleSpeed)

	r.Route("/chapters", func(r chi.Router) {
		r.Get("/", h.handleChapters)
		r.Put("/", h.handleReplaceChapters)
		r.Post("/", h.handleInsertChapter)
		r.Delete("/{pos}", h.handleDeleteChapter)
		r.Post("/next", h.handleNextChapter)
		r.Post("/prev", h.handlePrevChapter)
	})

	r.Post("/repeat", h.handleRepeat)
	r.Post("/repeat/chapter", h.handleRepeatChapter)
	r.Post("/skip", h.handleSkip)

	r.Route("/playlist", func(r chi.Router) {
		r.Get("/", h.handlePlaylist)
		r.Get("/m3u", h.handlePlaylistM3U)
		r.Put("/", h.handleOpenPlaylist)
		r.Delete("/", h.handleClearPlaylist)
		r.Post("/next", h.handlePlaylistNext)
		r.Post("/prev", h.handlePlaylistPrev)
		r.Post("/items", h.handleAddItem)
		r.Delete("/items/{index}", h.handleRemoveItem)
		r.Post("/move", h.handleMoveItem)
	})
	return r
}

// Run pushes status and notices to websocket clients until ctx is done.
func (h *Handler) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.hub.run(ctx)
	}()
	defer func() { <-done }()

	ticker := time.NewTicker(h.opts.StatusPush)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-h.ctl.Notices():
			h.hub.broadcast("notice", n)
		case <-ticker.C:
			h.hub.broadcast("status", h.ctl.Status())
		}
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

// SpeedEntry is one row of GET /speeds.
type SpeedEntry struct {
	ID    int     `json:"id"`
	Rate  float64 `json:"rate"`
	Muted bool    `json:"muted"`
}

func (h *Handler) handleSpeeds(w http.ResponseWriter, r *http.Request) {
	out := make([]SpeedEntry, 0, h.speeds.Len())
	for id := range h.speeds.Len() {
		st, err := h.speeds.Lookup(id)
		if err != nil {
			continue
		}
		out = append(out, SpeedEntry{ID: st.ID, Rate: st.Rate, Muted: st.Muted()})
	}
	writeJSON(w, http.StatusOK, out)
}
