// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tsplay/internal/chapter"
	"github.com/ManuGH/tsplay/internal/engine"
	"github.com/ManuGH/tsplay/internal/player"
	"github.com/ManuGH/tsplay/internal/playlist"
	"github.com/ManuGH/tsplay/internal/speed"
)

// fakeController records calls; err, when set, is returned by every command.
type fakeController struct {
	mu       sync.Mutex
	calls    []string
	err      error
	snap     player.Snapshot
	marks    []chapter.Mark
	list     *playlist.Playlist
	notices  chan player.Notice
	lastOpen struct {
		path   string
		offset int
		paused bool
	}
	lastItems []playlist.Item
	lastStart int
}

func newFake() *fakeController {
	return &fakeController{
		snap:    player.Snapshot{Status: engine.Status{State: engine.StatePlaying, PositionMsec: 1234, DurationMsec: 60000}},
		list:    playlist.New(),
		notices: make(chan player.Notice, 4),
	}
}

func (f *fakeController) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Status() player.Snapshot { return f.snap }
func (f *fakeController) Notices() <-chan player.Notice { return f.notices }

func (f *fakeController) Open(_ context.Context, path string, offset int, paused bool) (player.Snapshot, error) {
	f.lastOpen.path, f.lastOpen.offset, f.lastOpen.paused = path, offset, paused
	return f.snap, f.record("open %s %d %v", path, offset, paused)
}

func (f *fakeController) OpenPlaylist(_ context.Context, items []playlist.Item, start int) (player.Snapshot, error) {
	f.lastItems, f.lastStart = items, start
	return f.snap, f.record("open_playlist %d %d", len(items), start)
}

func (f *fakeController) Close(context.Context) (player.Snapshot, error) {
	return f.snap, f.record("close")
}
func (f *fakeController) Pause(_ context.Context, p bool) error { return f.record("pause %v", p) }
func (f *fakeController) SeekAbsolute(_ context.Context, ms int) error {
	return f.record("seek_abs %d", ms)
}
func (f *fakeController) Seek(_ context.Context, d int) error { return f.record("seek %d", d) }
func (f *fakeController) SeekToBegin(context.Context) error { return f.record("seek_begin") }
func (f *fakeController) SeekToEnd(context.Context) error { return f.record("seek_end") }
func (f *fakeController) SetSpeed(_ context.Context, id int) error { return f.record("speed %d", id) }
func (f *fakeController) NextChapter(context.Context) error { return f.record("next_chapter") }
func (f *fakeController) PrevChapter(context.Context) error { return f.record("prev_chapter") }
func (f *fakeController) Chapters() []chapter.Mark { return f.marks }

func (f *fakeController) InsertChapter(_ context.Context, mk chapter.Mark) (chapter.Mark, error) {
	return mk, f.record("chapter_insert %d", mk.Pos)
}

func (f *fakeController) InsertChapterHere(_ context.Context, flags chapter.Flag, name string) (chapter.Mark, error) {
	return chapter.Mark{Pos: f.snap.PositionMsec, Flags: flags, Name: name}, f.record("chapter_here %s", name)
}

func (f *fakeController) DeleteChapter(_ context.Context, pos int) error {
	return f.record("chapter_delete %d", pos)
}

func (f *fakeController) ReplaceChapters(_ context.Context, marks []chapter.Mark) error {
	f.marks = marks
	return f.record("chapter_replace %d", len(marks))
}

func (f *fakeController) PlaylistNext(context.Context) (player.Snapshot, error) {
	return f.snap, f.record("playlist_next")
}

func (f *fakeController) PlaylistPrev(context.Context) (player.Snapshot, error) {
	return f.snap, f.record("playlist_prev")
}

func (f *fakeController) PlaylistItems() ([]playlist.Item, int) { return f.list.Items(), f.list.Cursor() }

func (f *fakeController) EditPlaylist(_ context.Context, name string, fn func(*playlist.Playlist) error) error {
	if err := f.record("playlist_%s", name); err != nil {
		return err
	}
	return fn(f.list)
}

func (f *fakeController) SetRepeat(_ context.Context, r playlist.Repeat) error {
	return f.record("repeat %s", r)
}
func (f *fakeController) SetRepeatChapter(_ context.Context, on bool) error {
	return f.record("repeat_chapter %v", on)
}
func (f *fakeController) SetSkipXChapter(_ context.Context, on bool) error {
	return f.record("skip %v", on)
}

func newTestHandler(t *testing.T, f *fakeController) (*Handler, http.Handler) {
	t.Helper()
	tbl, err := speed.NewTable([]float64{1, 0.5, 4}, 0.75, 2)
	require.NoError(t, err)
	h := NewHandler(f, tbl, Options{StatusPush: 20 * time.Millisecond, BaseDir: "/rec"})
	return h, h.Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCommandRouting(t *testing.T) {
	tests := []struct {
		method, path, body string
		wantCode           int
		wantCall           string
	}{
		{http.MethodPost, "/open", `{"path":"/rec/a.ts"}`, http.StatusOK, "open /rec/a.ts -1 false"},
		{http.MethodPost, "/open", `{"path":"/rec/a.ts","offset_ms":5000,"paused":true}`, http.StatusOK, "open /rec/a.ts 5000 true"},
		{http.MethodPost, "/close", "", http.StatusOK, "close"},
		{http.MethodPost, "/pause", `{"paused":true}`, http.StatusOK, "pause true"},
		{http.MethodPost, "/seek", `{"position_ms":70000}`, http.StatusOK, "seek_abs 70000"},
		{http.MethodPost, "/seek", `{"delta_ms":-5000}`, http.StatusOK, "seek -5000"},
		{http.MethodPost, "/seek", `{"to":"begin"}`, http.StatusOK, "seek_begin"},
		{http.MethodPost, "/seek", `{"to":"end"}`, http.StatusOK, "seek_end"},
		{http.MethodPost, "/speed", `{"id":2}`, http.StatusOK, "speed 2"},
		{http.MethodPost, "/chapters/next", "", http.StatusOK, "next_chapter"},
		{http.MethodPost, "/chapters/prev", "", http.StatusOK, "prev_chapter"},
		{http.MethodPost, "/chapters", `{"pos_ms":9000,"name":"ad"}`, http.StatusCreated, "chapter_insert 9000"},
		{http.MethodPost, "/chapters", `{"name":"here"}`, http.StatusCreated, "chapter_here here"},
		{http.MethodDelete, "/chapters/9000", "", http.StatusNoContent, "chapter_delete 9000"},
		{http.MethodPut, "/chapters", `{"marks":[{"pos_ms":1},{"pos_ms":2}]}`, http.StatusOK, "chapter_replace 2"},
		{http.MethodPost, "/repeat", `{"mode":"all"}`, http.StatusOK, "repeat all"},
		{http.MethodPost, "/repeat/chapter", `{"enabled":true}`, http.StatusOK, "repeat_chapter true"},
		{http.MethodPost, "/skip", `{"enabled":true}`, http.StatusOK, "skip true"},
		{http.MethodPost, "/playlist/next", "", http.StatusOK, "playlist_next"},
		{http.MethodPost, "/playlist/prev", "", http.StatusOK, "playlist_prev"},
		{http.MethodPut, "/playlist", `{"items":[{"path":"a","start_ms":-1},{"path":"b","start_ms":0}],"cursor":1}`, http.StatusOK, "open_playlist 2 1"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path+" "+tt.body, func(t *testing.T) {
			f := newFake()
			_, h := newTestHandler(t, f)
			w := do(t, h, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, []string{tt.wantCall}, f.Calls())
		})
	}
}

func TestBadRequests(t *testing.T) {
	tests := []struct{ path, body string }{
		{"/open", `{}`},
		{"/open", `{"path":"a","offset_ms":-1}`},
		{"/open", `{"path":"a","bogus":1}`},
		{"/open", `{not json`},
		{"/seek", `{}`},
		{"/seek", `{"position_ms":1,"delta_ms":2}`},
		{"/seek", `{"to":"middle"}`},
		{"/repeat", `{"mode":"twice"}`},
		{"/playlist/items", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.path+" "+tt.body, func(t *testing.T) {
			f := newFake()
			_, h := newTestHandler(t, f)
			w := do(t, h, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "bad_request", resp.Error)
			assert.Empty(t, f.Calls())
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantKind string
	}{
		{fmt.Errorf("%w: x.ts", engine.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: no sync", engine.ErrFormat), http.StatusUnprocessableEntity, "format"},
		{speed.ErrUnknownStretch, http.StatusBadRequest, "unknown_stretch"},
		{engine.ErrNotOpen, http.StatusConflict, "not_open"},
		{player.ErrNoChapter, http.StatusConflict, "no_chapter"},
		{player.ErrPlaylistEnd, http.StatusConflict, "playlist_end"},
		{playlist.ErrOutOfRange, http.StatusBadRequest, "out_of_range"},
		{engine.ErrIO, http.StatusBadGateway, "io"},
		{assert.AnError, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.wantKind, func(t *testing.T) {
			f := newFake()
			f.err = tt.err
			_, h := newTestHandler(t, f)
			w := do(t, h, http.MethodPost, "/speed", `{"id":9}`)
			require.Equal(t, tt.wantCode, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantKind, resp.Error)
			assert.Contains(t, resp.Detail, tt.err.Error())
		})
	}
}

func TestStatusAndSpeeds(t *testing.T) {
	f := newFake()
	_, h := newTestHandler(t, f)

	w := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-API-Version"))
	var snap player.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 1234, snap.PositionMsec)
	assert.Equal(t, engine.StatePlaying, snap.State)

	w = do(t, h, http.MethodGet, "/speeds", "")
	require.Equal(t, http.StatusOK, w.Code)
	var speeds []SpeedEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &speeds))
	want := []SpeedEntry{{ID: 0, Rate: 1}, {ID: 1, Rate: 0.5, Muted: true}, {ID: 2, Rate: 4, Muted: true}}
	if diff := cmp.Diff(want, speeds); diff != "" {
		t.Errorf("speeds mismatch (-want +got):\n%s", diff)
	}
}

func TestPlaylistEditing(t *testing.T) {
	f := newFake()
	_, h := newTestHandler(t, f)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/playlist/items", `{"path":"a.ts"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/playlist/items", `{"path":"b.ts","start_ms":3000}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/playlist/items", `{"path":"c.ts","index":0}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/playlist/items", `{"path":"d.ts","index":9}`).Code)

	w := do(t, h, http.MethodPost, "/playlist/move", `{"from":0,"to":2}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body PlaylistBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	want := []playlist.Item{{Path: "a.ts", StartMsec: -1}, {Path: "b.ts", StartMsec: 3000}, {Path: "c.ts", StartMsec: -1}}
	if diff := cmp.Diff(want, body.Items); diff != "" {
		t.Errorf("playlist mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, -1, body.Cursor)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/playlist/items/1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodDelete, "/playlist/items/7", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodDelete, "/playlist/items/x", "").Code)

	w = do(t, h, http.MethodGet, "/playlist/m3u", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/x-mpegurl", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "a.ts")
	assert.NotContains(t, w.Body.String(), "b.ts")

	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/playlist", "").Code)
	w = do(t, h, http.MethodGet, "/playlist", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Items)
}

func TestOpenPlaylistFromM3U(t *testing.T) {
	f := newFake()
	_, h := newTestHandler(t, f)

	req := httptest.NewRequest(http.MethodPut, "/playlist?start=1", strings.NewReader("#EXTM3U\none.ts\n/abs/two.ts\n"))
	req.Header.Set("Content-Type", "audio/x-mpegurl")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, f.lastItems, 2)
	assert.Equal(t, "/rec/one.ts", f.lastItems[0].Path)
	assert.Equal(t, "/abs/two.ts", f.lastItems[1].Path)
	assert.Equal(t, 1, f.lastStart)
}

func TestStatusWebsocket(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFake()
	h, routes := newTestHandler(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		h.Run(ctx)
	}()

	srv := httptest.NewServer(routes)
	defer srv.Close()
	defer func() {
		cancel()
		<-runDone
	}()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/status/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() WSMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	assert.Equal(t, "status", read().Type, "first frame is the current status")

	f.notices <- player.Notice{Kind: player.NoticeEnded, Path: "/rec/a.ts"}
	for {
		msg := read()
		if msg.Type != "notice" {
			continue
		}
		data, _ := json.Marshal(msg.Data)
		var n player.Notice
		require.NoError(t, json.Unmarshal(data, &n))
		assert.Equal(t, player.NoticeEnded, n.Kind)
		assert.Equal(t, "/rec/a.ts", n.Path)
		break
	}
}
