// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	v1 "github.com/ManuGH/tsplay/internal/api/v1"
	"github.com/ManuGH/tsplay/internal/api/middleware"
	"github.com/ManuGH/tsplay/internal/engine"
	"github.com/ManuGH/tsplay/internal/player"
	"github.com/ManuGH/tsplay/internal/speed"
)

// statusOnly answers Status and Notices; any other call panics.
type statusOnly struct {
	v1.Controller
	notices chan player.Notice
}

func (s statusOnly) Status() player.Snapshot {
	return player.Snapshot{Status: engine.Status{State: engine.StateClosed}}
}

func (s statusOnly) Notices() <-chan player.Notice { return s.notices }

func (s statusOnly) Close(context.Context) (player.Snapshot, error) {
	return player.Snapshot{}, engine.ErrNotOpen
}

func startServer(t *testing.T, cfg Config) string {
	t.Helper()
	srv := New(cfg, statusOnly{notices: make(chan player.Notice)}, speed.Default())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return "http://" + ln.Addr().String()
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServerRoutes(t *testing.T) {
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })
	base := startServer(t, Config{StatusPush: 20 * time.Millisecond, RateLimit: 100})

	resp, body := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", body)

	resp, body = get(t, base+"/api/v1/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.HeaderRequestID))
	assert.Contains(t, body, `"state":"closed"`)

	postResp, err := http.Post(base+"/api/v1/close", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	_ = postResp.Body.Close()
	assert.Equal(t, http.StatusConflict, postResp.StatusCode)

	resp, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "tsplay_http_request_duration_seconds")

	resp, _ = get(t, base+"/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	http.DefaultClient.CloseIdleConnections()
}

func TestServerRateLimitSkipsProbes(t *testing.T) {
	base := startServer(t, Config{RateLimit: 1})

	resp, _ := get(t, base+"/api/v1/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = get(t, base+"/api/v1/status")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	for range 3 {
		resp, _ = get(t, base+"/healthz")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	http.DefaultClient.CloseIdleConnections()
}

func TestRunReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := New(Config{ListenAddr: ln.Addr().String()}, statusOnly{}, speed.Default())
	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, http.ErrServerClosed))
}
