// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tsplay/internal/config"
	"github.com/ManuGH/tsplay/internal/engine"
	"github.com/ManuGH/tsplay/internal/playlist"
	"github.com/ManuGH/tsplay/internal/resume"
	"github.com/ManuGH/tsplay/internal/ts/tstest"
)

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.DataDir = dir
	cfg.Resume.Backend = "file"
	cfg.Output.Target = filepath.Join(dir, "out.ts")
	cfg.API.ListenAddr = ""
	cfg.Playback.WatchInterval = 20 * time.Millisecond
	cfg.Version = "test"
	return cfg
}

func TestConversions(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.Clock = "wall"
	cfg.Drop.Policy = "mute"
	cfg.Telemetry.Enabled = true

	ec := EngineConfig(cfg)
	assert.Equal(t, engine.ClockMode("wall"), ec.Clock)
	assert.Equal(t, engine.DropPolicy("mute"), ec.Drop.Policy)
	assert.Equal(t, cfg.Engine.ChunkPackets, ec.ChunkPackets)
	assert.Equal(t, engine.DefaultConfig().CommandBuffer, ec.CommandBuffer)
	require.NoError(t, ec.Validate())

	tbl, err := SpeedTable(cfg)
	require.NoError(t, err)
	assert.Equal(t, len(cfg.Speed.Rates), tbl.Len())

	ac := APIConfig(cfg)
	assert.Equal(t, serviceName, ac.TracingService)
	assert.Equal(t, cfg.DataDir, ac.BaseDir)

	cfg.Playback.Repeat = "forever"
	_, err = PlayerConfig(cfg)
	assert.Error(t, err)

	cfg.Playback.Repeat = "all"
	pc, err := PlayerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, playlist.RepeatAll, pc.Repeat)
}

func TestRunPlaysInitialAndPersistsResume(t *testing.T) {
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })

	cfg := testConfig(t)
	media := filepath.Join(t.TempDir(), "rec.ts")
	_, err := tstest.Write(media, tstest.Options{Duration: 60 * time.Second})
	require.NoError(t, err)

	d, err := New(context.Background(), cfg, Options{
		LogOutput: io.Discard,
		Initial:   []playlist.Item{playlist.NewItem(media)},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return d.Player().Status().State == engine.StatePlaying
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	info, err := os.Stat(cfg.Output.Target)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	store, err := resume.NewStore("file", cfg.DataDir)
	require.NoError(t, err)
	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Entries, 1)
	assert.NotZero(t, snap.Salt)

	assert.ErrorIs(t, d.Run(context.Background()), ErrAlreadyRunning)
}

func TestReloadAppliesRepeat(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.DataDir, "config.yaml")
	write := func(repeat string) {
		body := "dataDir: " + cfg.DataDir + "\n" +
			"resume:\n  backend: memory\n" +
			"output:\n  target: " + cfg.Output.Target + "\n" +
			"api:\n  listenAddr: \"\"\n" +
			"playback:\n  repeat: " + repeat + "\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write("none")

	loaded, err := config.NewLoader(path, "test").Load()
	require.NoError(t, err)
	d, err := New(context.Background(), loaded, Options{ConfigPath: path, LogOutput: io.Discard})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	assert.Equal(t, "none", d.Player().Status().Repeat)

	write("all")
	require.NoError(t, d.Reload(context.Background()))
	assert.Equal(t, "all", d.Player().Status().Repeat)
	assert.Equal(t, "all", d.Config().Playback.Repeat)

	write("sometimes")
	assert.Error(t, d.Reload(context.Background()))
	assert.Equal(t, "all", d.Config().Playback.Repeat)
}

func TestNewFailsOnUnwritableSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Target = filepath.Join(cfg.DataDir, "missing", "out.ts")

	_, err := New(context.Background(), cfg, Options{LogOutput: io.Discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output")
}

func TestRunWithoutBuild(t *testing.T) {
	var d Daemon
	assert.ErrorIs(t, d.Run(context.Background()), ErrNotBuilt)
}
