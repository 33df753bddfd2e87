// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{name: "defaults are valid", mutate: func(*AppConfig) {}},
		{name: "clock", mutate: func(c *AppConfig) { c.Engine.Clock = "sundial" }, want: "engine.clock"},
		{name: "policy", mutate: func(c *AppConfig) { c.Drop.Policy = "panic" }, want: "drop.policy"},
		{name: "rates need normal", mutate: func(c *AppConfig) { c.Speed.Rates = []float64{2, 4} }, want: "must contain 1.0"},
		{name: "negative rate", mutate: func(c *AppConfig) { c.Speed.Rates = []float64{1, -2} }, want: "positive"},
		{name: "capacity ceiling", mutate: func(c *AppConfig) { c.Resume.Capacity = 10001 }, want: "resume.capacity"},
		{name: "capacity floor", mutate: func(c *AppConfig) { c.Resume.Capacity = 0 }, want: "resume.capacity"},
		{name: "backend", mutate: func(c *AppConfig) { c.Resume.Backend = "redis" }, want: "resume.backend"},
		{name: "repeat", mutate: func(c *AppConfig) { c.Playback.Repeat = "forever" }, want: "playback.repeat"},
		{name: "throttle ratio", mutate: func(c *AppConfig) { c.Drop.ThrottleRatio = 1.5 }, want: "throttleRatio"},
		{name: "log level", mutate: func(c *AppConfig) { c.Log.Level = "loud" }, want: "log.level"},
		{name: "exporter", mutate: func(c *AppConfig) {
			c.Telemetry.Enabled = true
			c.Telemetry.Exporter = "zipkin"
		}, want: "telemetry.exporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Clock = "x"
	cfg.Drop.Policy = "y"
	err := Validate(cfg)
	assert.ErrorContains(t, err, "engine.clock")
	assert.ErrorContains(t, err, "drop.policy")
}
