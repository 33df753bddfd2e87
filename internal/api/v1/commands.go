// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package v1

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/tsplay/internal/chapter"
	"github.com/ManuGH/tsplay/internal/player"
	"github.com/ManuGH/tsplay/internal/playlist"
)

// OpenRequest is the body of POST /open. A missing offset resumes from the cache.
type OpenRequest struct {
	Path     string `json:"path"`
	OffsetMs *int   `json:"offset_ms,omitempty"`
	Paused   bool   `json:"paused,omitempty"`
}

// PauseRequest is the body of POST /pause.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// SeekRequest is the body of POST /seek. Exactly one field must be set.
type SeekRequest struct {
	PositionMs *int   `json:"position_ms,omitempty"`
	DeltaMs    *int   `json:"delta_ms,omitempty"`
	To         string `json:"to,omitempty"` // "begin" or "end"
}

// SpeedRequest is the body of POST /speed.
type SpeedRequest struct {
	ID int `json:"id"`
}

// ToggleRequest enables or disables a mode.
type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// RepeatRequest is the body of POST /repeat.
type RepeatRequest struct {
	Mode string `json:"mode"`
}

// ChapterRequest is the body of POST /chapters. A missing position marks the
// current one.
type ChapterRequest struct {
	PosMs *int         `json:"pos_ms,omitempty"`
	Flags chapter.Flag `json:"flags,omitempty"`
	Name  string       `json:"name,omitempty"`
}

// ChaptersBody is used by GET and PUT /chapters.
type ChaptersBody struct {
	Marks []chapter.Mark `json:"marks"`
}

// PlaylistBody is used by GET and PUT /playlist.
type PlaylistBody struct {
	Items  []playlist.Item `json:"items"`
	Cursor int             `json:"cursor"`
}

// ItemRequest is the body of POST /playlist/items. Without an index the item
// is appended.
type ItemRequest struct {
	Path    string `json:"path"`
	StartMs *int   `json:"start_ms,omitempty"`
	Index   *int   `json:"index,omitempty"`
}

// MoveRequest is the body of POST /playlist/move.
type MoveRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

func (h *Handler) respondSnapshot(w http.ResponseWriter, r *http.Request, snap player.Snapshot, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Path == "" {
		h.writeError(w, r, fmt.Errorf("%w: path is required", errBadRequest))
		return
	}
	offset := player.NoOffset
	if req.OffsetMs != nil {
		if *req.OffsetMs < 0 {
			h.writeError(w, r, fmt.Errorf("%w: offset_ms must be >= 0", errBadRequest))
			return
		}
		offset = *req.OffsetMs
	}
	snap, err := h.ctl.Open(r.Context(), req.Path, offset, req.Paused)
	h.respondSnapshot(w, r, snap, err)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctl.Close(r.Context())
	h.respondSnapshot(w, r, snap, err)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, h.ctl.Pause(r.Context(), req.Paused))
}

func (h *Handler) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req SeekRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	set := 0
	if req.PositionMs != nil {
		set++
	}
	if req.DeltaMs != nil {
		set++
	}
	if req.To != "" {
		set++
	}
	if set != 1 {
		h.writeError(w, r, fmt.Errorf("%w: exactly one of position_ms, delta_ms, to", errBadRequest))
		return
	}

	ctx := r.Context()
	var err error
	switch {
	case req.PositionMs != nil:
		err = h.ctl.SeekAbsolute(ctx, *req.PositionMs)
	case req.DeltaMs != nil:
		err = h.ctl.Seek(ctx, *req.DeltaMs)
	case req.To == "begin":
		err = h.ctl.SeekToBegin(ctx)
	case req.To == "end":
		err = h.ctl.SeekToEnd(ctx)
	default:
		err = fmt.Errorf("%w: to must be begin or end, got %q", errBadRequest, req.To)
	}
	h.respond(w, r, err)
}

func (h *Handler) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req SpeedRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, h.ctl.SetSpeed(r.Context(), req.ID))
}

func (h *Handler) handleChapters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ChaptersBody{Marks: h.ctl.Chapters()})
}

func (h *Handler) handleReplaceChapters(w http.ResponseWriter, r *http.Request) {
	var body ChaptersBody
	if err := decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.ctl.ReplaceChapters(r.Context(), body.Marks); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChaptersBody{Marks: h.ctl.Chapters()})
}

func (h *Handler) handleInsertChapter(w http.ResponseWriter, r *http.Request) {
	var req ChapterRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	var (
		mk  chapter.Mark
		err error
	)
	if req.PosMs != nil {
		mk, err = h.ctl.InsertChapter(r.Context(), chapter.Mark{Pos: *req.PosMs, Flags: req.Flags, Name: req.Name})
	} else {
		mk, err = h.ctl.InsertChapterHere(r.Context(), req.Flags, req.Name)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mk)
}

func (h *Handler) handleDeleteChapter(w http.ResponseWriter, r *http.Request) {
	pos, err := intParam(r, "pos")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.ctl.DeleteChapter(r.Context(), pos); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNextChapter(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.ctl.NextChapter(r.Context()))
}

func (h *Handler) handlePrevChapter(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.ctl.PrevChapter(r.Context()))
}

func (h *Handler) handleRepeat(w http.ResponseWriter, r *http.Request) {
	var req RepeatRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	mode, err := playlist.ParseRepeat(req.Mode)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	h.respond(w, r, h.ctl.SetRepeat(r.Context(), mode))
}

func (h *Handler) handleRepeatChapter(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, h.ctl.SetRepeatChapter(r.Context(), req.Enabled))
}

func (h *Handler) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, h.ctl.SetSkipXChapter(r.Context(), req.Enabled))
}

func (h *Handler) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	items, cur := h.ctl.PlaylistItems()
	if items == nil {
		items = []playlist.Item{}
	}
	writeJSON(w, http.StatusOK, PlaylistBody{Items: items, Cursor: cur})
}

func (h *Handler) handlePlaylistM3U(w http.ResponseWriter, r *http.Request) {
	items, _ := h.ctl.PlaylistItems()
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	if err := playlist.WriteM3U(w, items); err != nil {
		h.logger.Warn().Err(err).Msg("m3u write failed")
	}
}

// handleOpenPlaylist replaces the playlist and starts playback. The body is
// either JSON (items, cursor as start index) or an M3U document with the
// start index in ?start=.
func (h *Handler) handleOpenPlaylist(w http.ResponseWriter, r *http.Request) {
	var (
		items []playlist.Item
		start int
	)
	if ct := r.Header.Get("Content-Type"); strings.Contains(ct, "mpegurl") {
		var err error
		items, err = playlist.ReadM3U(http.MaxBytesReader(w, r.Body, maxBody), h.opts.BaseDir)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		if s := r.URL.Query().Get("start"); s != "" {
			if start, err = strconv.Atoi(s); err != nil {
				h.writeError(w, r, fmt.Errorf("%w: start: %v", errBadRequest, err))
				return
			}
		}
	} else {
		var body PlaylistBody
		if err := decode(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
		items, start = body.Items, body.Cursor
	}
	snap, err := h.ctl.OpenPlaylist(r.Context(), items, start)
	h.respondSnapshot(w, r, snap, err)
}

func (h *Handler) handleClearPlaylist(w http.ResponseWriter, r *http.Request) {
	err := h.ctl.EditPlaylist(r.Context(), "clear", func(p *playlist.Playlist) error {
		p.Clear()
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePlaylistNext(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctl.PlaylistNext(r.Context())
	h.respondSnapshot(w, r, snap, err)
}

func (h *Handler) handlePlaylistPrev(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctl.PlaylistPrev(r.Context())
	h.respondSnapshot(w, r, snap, err)
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Path == "" {
		h.writeError(w, r, fmt.Errorf("%w: path is required", errBadRequest))
		return
	}
	it := playlist.NewItem(req.Path)
	if req.StartMs != nil {
		it.StartMsec = *req.StartMs
	}
	err := h.ctl.EditPlaylist(r.Context(), "add", func(p *playlist.Playlist) error {
		if req.Index == nil {
			p.Add(it)
			return nil
		}
		if *req.Index < 0 || *req.Index > p.Len() {
			return fmt.Errorf("%w: insert at %d not in [0,%d]", playlist.ErrOutOfRange, *req.Index, p.Len())
		}
		p.Insert(*req.Index, it)
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.handlePlaylist(w, r)
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	idx, err := intParam(r, "index")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	err = h.ctl.EditPlaylist(r.Context(), "remove", func(p *playlist.Playlist) error {
		return p.Remove(idx)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.handlePlaylist(w, r)
}

func (h *Handler) handleMoveItem(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	err := h.ctl.EditPlaylist(r.Context(), "move", func(p *playlist.Playlist) error {
		return p.Move(req.From, req.To)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.handlePlaylist(w, r)
}

func intParam(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return v, nil
}
