// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine is the TS delivery engine. One worker goroutine per open
// session reads the file, reframes it to 188-byte packets, paces delivery and
// hands batches to a sink. Callers only post commands; the worker applies them
// and publishes a Status snapshot after each batch.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tsplay/internal/fsm"
	"github.com/ManuGH/tsplay/internal/log"
	"github.com/ManuGH/tsplay/internal/metrics"
	"github.com/ManuGH/tsplay/internal/sink"
	"github.com/ManuGH/tsplay/internal/speed"
)

// OpenOptions controls how a session starts. The speed selection carries over
// from the previous session.
type OpenOptions struct {
	StartMsec int
	Paused    bool
}

// Engine owns at most one session at a time.
type Engine struct {
	cfg     Config
	table   *speed.Table
	out     sink.Sink
	logger  zerolog.Logger
	machine *fsm.Machine[State, trigger]
	events  chan Event

	ctl   sync.Mutex // serializes Open/Close and guards sess and speed
	sess  *session
	speed speed.Stretch // selection carried into the next session

	mu     sync.RWMutex
	status Status
}

// New creates an idle engine writing to out.
func New(cfg Config, table *speed.Table, out sink.Sink) *Engine {
	cfg.fill()
	if table == nil {
		table = speed.Default()
	}
	e := &Engine{
		cfg:     cfg,
		table:   table,
		out:     out,
		logger:  log.WithComponent("engine"),
		machine: newMachine(),
		events:  make(chan Event, cfg.EventBuffer),
	}
	normal, _ := table.Lookup(table.Normal())
	e.speed = normal
	e.status = Status{State: StateClosed, SpeedID: normal.ID, Rate: normal.Rate}
	e.machine.OnTransition(func(from, to State, ev trigger) {
		e.logger.Debug().
			Str(log.FieldEvent, "engine.state").
			Str(log.FieldOldState, string(from)).
			Str(log.FieldNewState, string(to)).
			Str("trigger", string(ev)).
			Msg("state transition")
	})
	return e
}

// Events delivers end-of-stream and halt notices.
func (e *Engine) Events() <-chan Event { return e.events }

// Status returns the latest published snapshot.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Speeds returns the stretch table in use.
func (e *Engine) Speeds() *speed.Table { return e.table }

func (e *Engine) publish(fn func(*Status)) {
	e.mu.Lock()
	fn(&e.status)
	e.status.State = e.machine.State()
	e.mu.Unlock()
}

func (e *Engine) fire(ev trigger) {
	if _, err := e.machine.Fire(ev); err != nil {
		e.logger.Error().Err(err).Str(log.FieldEvent, "engine.fsm_rejected").Msg("state machine rejected transition")
	}
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn().Str(log.FieldEvent, "engine.event_dropped").Str("kind", string(ev.Kind)).Msg("event buffer full")
	}
}

// Open starts a session on path. It returns once the worker has opened and
// probed the file; ErrNotFound and ErrFormat leave the engine closed.
func (e *Engine) Open(ctx context.Context, path string, opts OpenOptions) (Status, error) {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	if e.sess != nil {
		return e.Status(), ErrAlreadyOpen
	}
	if _, err := e.machine.Fire(evOpen); err != nil {
		return e.Status(), fmt.Errorf("open: %w", err)
	}
	stretch := e.speed

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:      uuid.NewString(),
		path:    path,
		ctx:     sctx,
		cancel:  cancel,
		cmds:    make(chan command, e.cfg.CommandBuffer),
		done:    make(chan struct{}),
		stretch: stretch,
	}
	s.logger = e.logger.With().Str(log.FieldSessionID, s.id).Str(log.FieldPath, path).Logger()

	ack := make(chan error, 1)
	go e.run(s, opts, ack)

	var openErr error
	select {
	case openErr = <-ack:
	case <-ctx.Done():
		cancel()
		if openErr = <-ack; openErr == nil {
			e.sess = s
			_, _ = e.closeLocked()
			return e.Status(), ctx.Err()
		}
	}
	if openErr != nil {
		<-s.done
		cancel()
		return e.Status(), openErr
	}
	e.sess = s
	return e.Status(), nil
}

// Close stops the worker, waits for it to release the file and returns the
// final snapshot of the session.
func (e *Engine) Close() (Status, error) {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	return e.closeLocked()
}

func (e *Engine) closeLocked() (Status, error) {
	s := e.sess
	if s == nil {
		return e.Status(), ErrNotOpen
	}
	if e.machine.State() != StateClosing {
		e.fire(evClose)
	}
	s.cancel()
	<-s.done

	final := e.Status()
	e.fire(evClosed)
	e.sess = nil
	e.publish(func(st *Status) {
		*st = Status{SpeedID: st.SpeedID, Rate: st.Rate}
	})
	metrics.SetExtending(false)
	metrics.RecordSession("closed")
	s.logger.Info().
		Str(log.FieldEvent, "engine.closed").
		Int(log.FieldPositionMs, final.PositionMsec).
		Int(log.FieldDurationMs, final.DurationMsec).
		Msg("session closed")
	return final, nil
}

// Active reports whether a session exists (including one that ended or halted
// and has not been closed yet).
func (e *Engine) Active() bool {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	return e.sess != nil
}

func (e *Engine) post(c command) error {
	e.ctl.Lock()
	s := e.sess
	e.ctl.Unlock()
	if s == nil {
		return ErrNotOpen
	}
	select {
	case <-s.done:
		return ErrNotOpen
	default:
	}
	select {
	case s.cmds <- c:
		return nil
	case <-s.done:
		return ErrNotOpen
	}
}

// Pause pauses or resumes delivery.
func (e *Engine) Pause(paused bool) error {
	return e.post(command{kind: cmdPause, paused: paused})
}

// SeekAbsolute moves to msec, clamped to [0, duration].
func (e *Engine) SeekAbsolute(msec int) error {
	return e.post(command{kind: cmdSeekAbs, msec: msec})
}

// Seek moves by delta msec relative to the position at the time it is applied.
func (e *Engine) Seek(delta int) error {
	return e.post(command{kind: cmdSeekRel, msec: delta})
}

// SetSpeed selects a stretch. Unknown ids are rejected without touching the
// running session. Without a session the choice shows up in Status once the
// next one opens.
func (e *Engine) SetSpeed(id int) error {
	st, err := e.table.Lookup(id)
	if err != nil {
		return err
	}
	e.ctl.Lock()
	e.speed = st
	active := e.sess != nil
	e.ctl.Unlock()
	if !active {
		return nil
	}
	return e.post(command{kind: cmdSpeed, stretch: st})
}
