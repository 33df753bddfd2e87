// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon assembles the tsplay runtime and owns its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/tsplay/internal/api"
	"github.com/ManuGH/tsplay/internal/config"
	"github.com/ManuGH/tsplay/internal/engine"
	"github.com/ManuGH/tsplay/internal/log"
	"github.com/ManuGH/tsplay/internal/player"
	"github.com/ManuGH/tsplay/internal/playlist"
	"github.com/ManuGH/tsplay/internal/resume"
	"github.com/ManuGH/tsplay/internal/sink"
	"github.com/ManuGH/tsplay/internal/speed"
	"github.com/ManuGH/tsplay/internal/telemetry"
)

const serviceName = "tsplay"

// Options are the process-level inputs the config file does not carry.
type Options struct {
	// ConfigPath is reloaded on SIGHUP; empty disables reload.
	ConfigPath string
	// LogOutput defaults to stderr.
	LogOutput io.Writer
	// Initial is queued and played once the daemon runs.
	Initial []playlist.Item
	// ShutdownTimeout bounds the final cleanup.
	ShutdownTimeout time.Duration
}

type shutdownHook struct {
	name string
	fn   func(ctx context.Context) error
}

// Daemon is one assembled tsplay runtime.
type Daemon struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	cfg     config.AppConfig
	running bool

	speeds    *speed.Table
	engine    *engine.Engine
	player    *player.Controller
	api       *api.Server
	telemetry *telemetry.Provider

	// Shutdown hooks run in LIFO order.
	hooks []shutdownHook

	reloadSignal os.Signal
}

// New builds every component from cfg. On error the parts built so far are
// released before returning.
func New(ctx context.Context, cfg config.AppConfig, opts Options) (*Daemon, error) {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Output:  opts.LogOutput,
		Service: serviceName,
		Version: cfg.Version,
	})

	d := &Daemon{
		opts:         opts,
		logger:       log.WithComponent("daemon"),
		cfg:          cfg,
		reloadSignal: syscall.SIGHUP,
	}
	if err := d.build(ctx); err != nil {
		d.shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build(ctx context.Context) error {
	cfg := d.cfg

	tp, err := telemetry.NewProvider(ctx, TelemetryConfig(cfg))
	if err != nil {
		// Tracing is optional; playback continues without it.
		d.logger.Warn().Err(err).Str(log.FieldEvent, "telemetry.init_failed").Msg("telemetry initialization failed, continuing without tracing")
	} else {
		d.telemetry = tp
		d.addHook("telemetry", tp.Shutdown)
	}

	if d.speeds, err = SpeedTable(cfg); err != nil {
		return err
	}
	playerCfg, err := PlayerConfig(cfg)
	if err != nil {
		return err
	}

	if cfg.DataDir != "" && cfg.Resume.Backend != "memory" {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := resume.NewStore(cfg.Resume.Backend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resume store: %w", err)
	}
	d.addHook("resume", func(context.Context) error { return store.Close() })
	cache, err := resume.Open(ctx, store, cfg.Resume.Capacity, cfg.Resume.Salt)
	if err != nil {
		return err
	}

	out, err := sink.Open(cfg.Output.Target, SinkOptions(cfg))
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	d.addHook("sink", func(context.Context) error { return out.Close() })

	engCfg := EngineConfig(cfg)
	if err := engCfg.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	d.engine = engine.New(engCfg, d.speeds, out)
	d.player = player.New(playerCfg, d.engine, cache, store)

	if cfg.API.ListenAddr != "" {
		d.api = api.New(APIConfig(cfg), d.player, d.speeds)
	}

	d.logger.Info().
		Str(log.FieldEvent, "daemon.built").
		Str(log.FieldSink, cfg.Output.Target).
		Str("resume_backend", cfg.Resume.Backend).
		Str("listen", cfg.API.ListenAddr).
		Int("speeds", d.speeds.Len()).
		Msg("tsplay runtime assembled")
	return nil
}

func (d *Daemon) addHook(name string, fn func(ctx context.Context) error) {
	d.hooks = append(d.hooks, shutdownHook{name: name, fn: fn})
}

// Player returns the playback controller.
func (d *Daemon) Player() *player.Controller { return d.player }

// Speeds returns the stretch table in use.
func (d *Daemon) Speeds() *speed.Table { return d.speeds }

// Config returns the active configuration.
func (d *Daemon) Config() config.AppConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Run starts the controller loop, the control API and the reload handler, and
// blocks until ctx is done or a component fails. Everything is released before
// Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	if d.player == nil {
		return ErrNotBuilt
	}
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.mu.Unlock()
	defer d.shutdown(context.WithoutCancel(ctx))

	d.logger.Info().Str(log.FieldEvent, "daemon.start").Str("version", d.cfg.Version).Msg("starting tsplay daemon")

	g, gctx := errgroup.WithContext(ctx)

	// The controller closes the open session when its loop exits.
	g.Go(func() error { return d.player.Run(gctx) })

	if d.api != nil {
		g.Go(func() error { return d.api.Run(gctx) })
	}

	if d.opts.ConfigPath != "" && d.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, d.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-gctx.Done():
					return nil
				case <-hupChan:
					d.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", d.reloadSignal.String()).
						Msg("received reload signal, reloading config")
					if err := d.Reload(gctx); err != nil {
						d.logger.Warn().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("config reload failed")
					}
				}
			}
		})
	}

	if len(d.opts.Initial) > 0 {
		if _, err := d.player.OpenPlaylist(gctx, d.opts.Initial, 0); err != nil {
			// A bad startup item is reported but does not stop the daemon.
			d.logger.Error().Err(err).Str(log.FieldEvent, "daemon.initial_failed").Msg("initial playback failed")
		}
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	d.logger.Info().Str(log.FieldEvent, "daemon.stop").Msg("tsplay daemon stopped")
	return err
}

// Reload re-reads the config file and applies the settings that can change at
// runtime: log level and repeat mode. Everything else needs a restart.
func (d *Daemon) Reload(ctx context.Context) error {
	d.mu.Lock()
	version := d.cfg.Version
	old := d.cfg
	d.mu.Unlock()

	next, err := config.NewLoader(d.opts.ConfigPath, version).Load()
	if err != nil {
		return err
	}
	repeat, err := playlist.ParseRepeat(next.Playback.Repeat)
	if err != nil {
		return err
	}

	if next.Log.Level != old.Log.Level {
		log.Configure(log.Config{
			Level:   next.Log.Level,
			Output:  d.opts.LogOutput,
			Service: serviceName,
			Version: version,
		})
	}
	if next.Playback.Repeat != old.Playback.Repeat {
		if err := d.player.SetRepeat(ctx, repeat); err != nil {
			return err
		}
	}
	if restart := restartFields(old, next); len(restart) > 0 {
		d.logger.Warn().Strs("fields", restart).Str(log.FieldEvent, "config.restart_required").Msg("changed settings apply after restart")
	}

	d.mu.Lock()
	d.cfg = next
	d.mu.Unlock()
	d.logger.Info().Str(log.FieldEvent, "config.reloaded").Str("level", next.Log.Level).Str("repeat", repeat.String()).Msg("configuration reloaded")
	return nil
}

func restartFields(old, next config.AppConfig) []string {
	var out []string
	if old.Output != next.Output {
		out = append(out, "output")
	}
	if old.API != next.API {
		out = append(out, "api")
	}
	if old.Resume != next.Resume {
		out = append(out, "resume")
	}
	if old.Engine != next.Engine || old.Drop != next.Drop {
		out = append(out, "engine")
	}
	if old.Telemetry != next.Telemetry {
		out = append(out, "telemetry")
	}
	return out
}

// Close releases a daemon that was built but never run.
func (d *Daemon) Close() {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		d.shutdown(context.Background())
	}
}

// shutdown runs the registered hooks in reverse order.
func (d *Daemon) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.ShutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(d.hooks) - 1; i >= 0; i-- {
		h := d.hooks[i]
		if err := h.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			d.logger.Error().Err(err).Str("hook", h.name).Msg("Shutdown hook failed")
			continue
		}
		d.logger.Debug().Str("hook", h.name).Msg("Shutdown hook completed")
	}
	d.hooks = nil
	if len(errs) > 0 {
		d.logger.Warn().Err(errors.Join(errs...)).Msg("Shutdown completed with errors")
	}
}
