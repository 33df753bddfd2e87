// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tsplay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("", "v-test").Load()
	require.NoError(t, err)

	want := Defaults()
	want.Version = "v-test"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
dataDir: /srv/tsplay
engine:
  clock: wall
  jitter: 250ms
drop:
  policy: throttle
  threshold: 10
speed:
  rates: [1.0, 2.0]
resume:
  backend: file
  capacity: 50
`)
	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/tsplay", cfg.DataDir)
	assert.Equal(t, "wall", cfg.Engine.Clock)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.Jitter)
	assert.Equal(t, time.Second, cfg.Engine.MaxLag, "untouched keys keep defaults")
	assert.Equal(t, "throttle", cfg.Drop.Policy)
	assert.Equal(t, []float64{1, 2}, cfg.Speed.Rates)
	assert.Equal(t, "file", cfg.Resume.Backend)
	assert.Equal(t, 50, cfg.Resume.Capacity)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := writeConfig(t, "drop:\n  policy: mute\n")
	t.Setenv("TSPLAY_DROP_POLICY", "none")
	t.Setenv("TSPLAY_RESUME_CAPACITY", "77")
	t.Setenv("TSPLAY_PCR_JITTER", "1s")
	t.Setenv("TSPLAY_SPEED_RATES", "1, 0.5, 4")
	t.Setenv("TSPLAY_RESUME_SALT", "0xBEEF")
	t.Setenv("TSPLAY_TRACING", "yes")
	t.Setenv("TSPLAY_TRACING_EXPORTER", "http")

	l := NewLoader(path, "")
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Drop.Policy)
	assert.Equal(t, 77, cfg.Resume.Capacity)
	assert.Equal(t, time.Second, cfg.Engine.Jitter)
	assert.Equal(t, []float64{1, 0.5, 4}, cfg.Speed.Rates)
	assert.Equal(t, uint32(0xBEEF), cfg.Resume.Salt)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Contains(t, l.ConsumedEnvKeys, "TSPLAY_DROP_POLICY")
}

func TestLoadInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("TSPLAY_CHUNK_PACKETS", "lots")
	t.Setenv("TSPLAY_MAX_LAG", "soon")
	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	assert.Equal(t, 56, cfg.Engine.ChunkPackets)
	assert.Equal(t, time.Second, cfg.Engine.MaxLag)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "engine:\n  turbo: true\n")
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n---\nlog:\n  level: info\n")
	_, err := NewLoader(path, "").Load()
	assert.ErrorContains(t, err, "multiple documents")
}

func TestLoadRejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsplay.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))
	_, err := NewLoader(path, "").Load()
	assert.ErrorContains(t, err, "only YAML supported")
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := NewLoader(writeConfig(t, ""), "").Load()
	require.NoError(t, err)
	assert.Equal(t, "pcr", cfg.Engine.Clock)
}
