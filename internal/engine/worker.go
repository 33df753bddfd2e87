// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/tsplay/internal/log"
	"github.com/ManuGH/tsplay/internal/metrics"
	"github.com/ManuGH/tsplay/internal/speed"
	"github.com/ManuGH/tsplay/internal/ts"
)

type cmdKind int

const (
	cmdPause cmdKind = iota
	cmdSeekAbs
	cmdSeekRel
	cmdSpeed
)

type command struct {
	kind    cmdKind
	paused  bool
	msec    int
	stretch speed.Stretch
}

// session is owned by the worker goroutine once started.
type session struct {
	id     string
	path   string
	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan command
	done   chan struct{}
	logger zerolog.Logger

	f        *os.File
	info     ts.Info
	size     int64
	off      int64
	byteRate float64
	duration time.Duration
	pcrPID   int

	buf      []byte
	pkts     []byte
	out      []byte
	reframer *ts.Reframer
	psi      *ts.PSI
	pacer    *pacer
	drops    *dropWindow
	limiter  *rate.Limiter
	growth   *growthWatcher

	paused        bool
	stretch       speed.Stretch
	seekMsec      int
	muteUntil     time.Time
	throttleUntil time.Time
	extending     bool
	atEnd         bool // clamped to the end of a file that is not growing
	lastGrowth    time.Time
	lastPoll      time.Time

	packets int64
	dropped int64
}

func (s *session) release() {
	if s.growth != nil {
		s.growth.close()
	}
	if s.f != nil {
		_ = s.f.Close()
	}
}

func (s *session) toMsec(bytes int64) int {
	if s.byteRate <= 0 {
		return 0
	}
	return int(math.Round(float64(bytes) / s.byteRate * 1000))
}

func (s *session) durationMsec() int { return int(s.duration / time.Millisecond) }

func (e *Engine) run(s *session, opts OpenOptions, ack chan<- error) {
	defer close(s.done)
	if err := e.openSession(s, opts); err != nil {
		s.release()
		e.fire(evFail)
		e.publish(func(st *Status) { st.Path = "" })
		ack <- err
		return
	}
	defer s.release()
	ack <- nil
	e.loop(s)
}

func (e *Engine) openSession(s *session, opts OpenOptions) error {
	f, err := os.Open(s.path) // #nosec G304
	if err != nil {
		metrics.RecordSession("not_found")
		return fmt.Errorf("%w: %s: %v", ErrNotFound, s.path, err)
	}
	s.f = f
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		metrics.RecordSession("not_found")
		return fmt.Errorf("%w: %s", ErrNotFound, s.path)
	}
	s.size = fi.Size()

	info, err := ts.Probe(f, s.size, ts.ProbeOptions{Window: e.cfg.ProbeWindow, MaxStep: e.cfg.Jitter})
	if err != nil {
		metrics.RecordSession("format")
		if errors.Is(err, ts.ErrFormat) {
			return fmt.Errorf("%s: %w", s.path, err)
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.info = info
	s.pcrPID = info.PCRPID
	payload := s.size - info.Start
	if info.HasPCR() && payload > 0 {
		s.byteRate = float64(payload) / info.Duration.Seconds()
		s.duration = info.Duration
	} else {
		s.byteRate = float64(e.cfg.NominalBitrate) / 8
		s.duration = time.Duration(float64(payload) / s.byteRate * float64(time.Second))
	}

	unit := info.Framing.Unit
	s.buf = make([]byte, e.cfg.ChunkPackets*unit)
	s.pkts = make([]byte, 0, (e.cfg.ChunkPackets+1)*ts.PacketSize)
	s.out = make([]byte, 0, cap(s.pkts))
	s.reframer = ts.NewReframer(info.Framing)
	s.psi = ts.NewPSI()
	now := time.Now()
	s.pacer = newPacer(e.cfg.Clock, e.cfg.Jitter, s.byteRate, float64(e.cfg.NominalBitrate)/8, e.cfg.MaxLag)
	s.pacer.setRate(s.stretch.Rate, now)
	s.drops = newDropWindow(e.cfg.Drop.Threshold, e.cfg.Drop.Interval)
	s.limiter = rate.NewLimiter(rate.Limit(s.byteRate*e.cfg.Drop.ThrottleRatio), cap(s.pkts))
	s.growth = newGrowthWatcher(s.path, s.logger)
	s.lastPoll = now
	s.off = info.Start
	s.paused = opts.Paused

	if err := e.seekTo(s, opts.StartMsec); err != nil {
		return err
	}

	if opts.Paused {
		e.fire(evStartPaused)
	} else {
		e.fire(evStart)
	}
	e.publish(func(st *Status) {
		st.SessionID = s.id
		st.Path = s.path
		st.Paused = s.paused
		st.SpeedID = s.stretch.ID
		st.Rate = s.stretch.Rate
		st.Framing = info.Framing.String()
		st.Packets, st.Drops, st.Discontinuities = 0, 0, 0
		st.Extending = false
		st.Tot = time.Time{}
	})
	e.publishPosition(s)
	metrics.RecordSession("opened")
	s.logger.Info().
		Str(log.FieldEvent, "engine.opened").
		Int(log.FieldUnitSize, unit).
		Int(log.FieldDurationMs, s.durationMsec()).
		Int(log.FieldOffsetMs, s.seekMsec).
		Bool("pcr", info.HasPCR()).
		Msg("session opened")
	return nil
}

func (e *Engine) loop(s *session) {
	for {
		if s.ctx.Err() != nil {
			return
		}
		if err := e.drain(s); err != nil {
			e.stop(s, err)
			return
		}
		if s.atEnd {
			// Also while paused: nothing is left to deliver.
			e.endOfStream(s)
			return
		}
		now := time.Now()
		if now.Sub(s.lastPoll) >= e.cfg.ExtendPoll {
			if err := e.pollGrowth(s, now); err != nil {
				e.halt(s, err)
				return
			}
		}
		if s.paused {
			if err := e.idle(s, e.cfg.ExtendPoll); err != nil {
				e.stop(s, err)
				return
			}
			continue
		}
		if d := s.pacer.wait(now); d > 0 {
			if err := e.idle(s, d); err != nil {
				e.stop(s, err)
				return
			}
			continue
		}
		eos, err := e.step(s)
		if err != nil {
			e.stop(s, err)
			return
		}
		if eos {
			e.endOfStream(s)
			return
		}
	}
}

// stop ends the loop: cancellation is a normal close, anything else halts.
func (e *Engine) stop(s *session, err error) {
	if s.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return
	}
	e.halt(s, err)
}

// drain applies queued commands without blocking.
func (e *Engine) drain(s *session) error {
	for {
		select {
		case c := <-s.cmds:
			if err := e.apply(s, c); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// idle waits up to d, applying commands as they arrive. Close wakes it at once.
func (e *Engine) idle(s *session, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case c := <-s.cmds:
		return e.apply(s, c)
	case <-t.C:
		return nil
	}
}

func (e *Engine) apply(s *session, c command) error {
	now := time.Now()
	switch c.kind {
	case cmdPause:
		if c.paused == s.paused {
			return nil
		}
		s.paused = c.paused
		if s.paused {
			e.fire(evPause)
		} else {
			e.fire(evResume)
			s.pacer.anchorAt(now)
		}
		e.publish(func(st *Status) { st.Paused = s.paused })
		s.logger.Debug().Str(log.FieldEvent, "engine.pause").Bool("paused", s.paused).Msg("pause applied")
	case cmdSeekAbs:
		return e.seekTo(s, c.msec)
	case cmdSeekRel:
		return e.seekTo(s, e.currentMsec(s)+c.msec)
	case cmdSpeed:
		if c.stretch.ID == s.stretch.ID {
			return nil
		}
		s.stretch = c.stretch
		s.pacer.setRate(c.stretch.Rate, now)
		e.publish(func(st *Status) {
			st.SpeedID = c.stretch.ID
			st.Rate = c.stretch.Rate
			st.Muted = c.stretch.Muted()
		})
		s.logger.Info().
			Str(log.FieldEvent, "engine.speed").
			Int(log.FieldSpeedID, c.stretch.ID).
			Float64(log.FieldRate, c.stretch.Rate).
			Msg("speed changed")
	}
	return nil
}

// seekTo repositions to msec. Past the known end of a growing file it waits up
// to ExtendWait for data before clamping; past the end of any other file the
// session ends.
func (e *Engine) seekTo(s *session, msec int) error {
	msec = max(msec, 0)
	if msec > s.durationMsec() && !s.extending {
		// The file may have started growing since the last poll.
		size, err := s.growth.size()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if size > s.size {
			e.grow(s, size, time.Now())
		}
	}
	if msec > s.durationMsec() && s.extending {
		deadline := time.Now().Add(e.cfg.ExtendWait)
		for msec > s.durationMsec() {
			left := time.Until(deadline)
			if left <= 0 {
				break
			}
			size, err := s.growth.wait(s.ctx, s.size, left, e.cfg.ExtendPoll)
			if err != nil {
				if s.ctx.Err() != nil {
					return s.ctx.Err()
				}
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
			if size > s.size {
				e.grow(s, size, time.Now())
			}
		}
	}

	end := s.durationMsec()
	s.atEnd = msec >= end && !s.extending
	if msec >= end {
		msec = end
		if s.extending {
			s.off = s.info.Align(s.size)
		} else {
			s.off = s.size
		}
	} else {
		s.off = s.info.Align(s.info.Start + int64(float64(msec)/1000*s.byteRate))
	}
	s.seekMsec = msec
	s.reframer.Reset()
	s.pacer.reset(time.Now())
	e.publishPosition(s)
	s.logger.Debug().Str(log.FieldEvent, "engine.seek").Int(log.FieldPositionMs, msec).Msg("seek applied")
	return nil
}

// currentMsec is the delivered position before the display delay.
func (e *Engine) currentMsec(s *session) int {
	consumed := s.off - int64(s.reframer.Buffered()) - s.info.Start
	pos := max(s.toMsec(consumed), s.seekMsec)
	return min(pos, s.durationMsec())
}

func (e *Engine) publishPosition(s *session) {
	pos := s.toMsec(s.off-int64(s.reframer.Buffered())-s.info.Start) - int(e.cfg.DisplayDelay/time.Millisecond)
	pos = min(max(pos, s.seekMsec), s.durationMsec())
	e.publish(func(st *Status) {
		st.PositionMsec = pos
		st.DurationMsec = s.durationMsec()
		st.Extending = s.extending
		st.Packets = s.packets
		st.Drops = s.dropped
		st.Discontinuities = s.pacer.discontinuities
		st.Muted = s.stretch.Muted() || time.Now().Before(s.muteUntil)
		if t := s.psi.Tot(); !t.IsZero() {
			st.Tot = t
		}
	})
}

// step reads and delivers one chunk. It reports true at end of stream.
func (e *Engine) step(s *session) (bool, error) {
	n, err := s.f.ReadAt(s.buf, s.off)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("%w: read %s: %v", ErrIO, s.path, err)
	}
	if n > 0 {
		s.off += int64(n)
		s.pkts = s.reframer.Feed(s.pkts[:0], s.buf[:n])
		return false, e.deliver(s, s.pkts)
	}

	grown, err := e.atEOF(s)
	if err != nil || grown || s.ctx.Err() != nil {
		return false, err
	}
	s.pkts = s.reframer.Flush(s.pkts[:0])
	if err := e.deliver(s, s.pkts); err != nil {
		return false, err
	}
	return true, nil
}

// atEOF decides whether more data may come.
func (e *Engine) atEOF(s *session) (bool, error) {
	now := time.Now()
	size, err := s.growth.size()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if size > s.size {
		e.grow(s, size, now)
		return true, nil
	}
	if !s.extending {
		return false, nil
	}
	if now.Sub(s.lastGrowth) >= e.cfg.ExtendIdle {
		e.stopExtending(s)
		return false, nil
	}
	size, err = s.growth.wait(s.ctx, s.size, e.cfg.ExtendPoll, e.cfg.ExtendPoll)
	if err != nil {
		if s.ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if size > s.size {
		e.grow(s, size, time.Now())
	}
	// Still extending: come back through the loop so commands get applied.
	return true, nil
}

func (e *Engine) pollGrowth(s *session, now time.Time) error {
	s.lastPoll = now
	size, err := s.growth.size()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	switch {
	case size > s.size:
		e.grow(s, size, now)
	case s.extending && now.Sub(s.lastGrowth) >= e.cfg.ExtendIdle:
		e.stopExtending(s)
	}
	return nil
}

func (e *Engine) grow(s *session, size int64, now time.Time) {
	s.size = size
	s.lastGrowth = now
	if !s.extending {
		s.extending = true
		metrics.SetExtending(true)
		s.logger.Info().Str(log.FieldEvent, "engine.extending").Msg("file is growing")
	}
	s.duration = time.Duration(float64(size-s.info.Start) / s.byteRate * float64(time.Second))
	e.publishPosition(s)
}

func (e *Engine) stopExtending(s *session) {
	s.extending = false
	metrics.SetExtending(false)
	s.logger.Info().Str(log.FieldEvent, "engine.extend_idle").Msg("file stopped growing")
	e.publishPosition(s)
}

func (e *Engine) deliver(s *session, pkts []byte) error {
	now := time.Now()
	muted := s.stretch.Muted() || now.Before(s.muteUntil)
	pcrPID := s.pcrPID
	if pcrPID < 0 {
		pcrPID = s.psi.PCRPID()
	}
	unit := s.info.Framing.Unit

	out := s.out[:0]
	for i := 0; i+ts.PacketSize <= len(pkts); i += ts.PacketSize {
		p := pkts[i : i+ts.PacketSize]
		s.psi.Feed(p)
		pid := ts.PID(p)
		if int(pid) == pcrPID {
			if v, ok := ts.PCR(p); ok && s.pacer.pcr(v) {
				metrics.RecordDiscontinuity()
			}
		}
		s.pacer.addBytes(unit)
		if muted && s.psi.IsAudio(pid) {
			continue
		}
		out = append(out, p...)
	}
	s.out = out
	if len(out) == 0 {
		e.publishPosition(s)
		return nil
	}

	if now.Before(s.throttleUntil) {
		if err := s.limiter.WaitN(s.ctx, len(out)); err != nil {
			return s.ctx.Err()
		}
	}

	count := len(out) / ts.PacketSize
	ok, err := e.out.Offer(s.ctx, out)
	switch {
	case err != nil:
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		return fmt.Errorf("%w: sink: %v", ErrIO, err)
	case ok:
		s.packets += int64(count)
		metrics.RecordPackets(count)
	default:
		s.dropped += int64(count)
		metrics.RecordDrops(count)
		if s.drops.add(now, count) {
			e.recoverDrops(s, now)
		}
	}
	e.publishPosition(s)
	return nil
}

func (e *Engine) recoverDrops(s *session, now time.Time) {
	policy := e.cfg.Drop.Policy
	switch policy {
	case DropSkip:
		skip := int64(e.cfg.Drop.SkipAhead.Seconds() * s.byteRate)
		s.off = min(s.info.Align(s.off+skip), s.size)
		s.seekMsec = 0
		s.reframer.Reset()
		s.pacer.reset(now)
	case DropThrottle:
		s.throttleUntil = now.Add(e.cfg.Drop.RecoveryFor)
	case DropMute:
		s.muteUntil = now.Add(e.cfg.Drop.RecoveryFor)
	default:
		return
	}
	metrics.RecordRecovery(string(policy))
	s.logger.Warn().
		Str(log.FieldEvent, "engine.drop_recovery").
		Str("policy", string(policy)).
		Int64(log.FieldDrops, s.dropped).
		Msg("sink backpressure, applying drop policy")
}

func (e *Engine) endOfStream(s *session) {
	e.fire(evEnd)
	e.publishPosition(s)
	st := e.Status()
	metrics.RecordSession("eos")
	s.logger.Info().Str(log.FieldEvent, "engine.eos").Int(log.FieldPositionMs, st.PositionMsec).Msg("end of stream")
	e.emit(Event{Kind: EventEndOfStream, SessionID: s.id, Status: st})
}

func (e *Engine) halt(s *session, err error) {
	e.fire(evHalt)
	e.publishPosition(s)
	st := e.Status()
	metrics.RecordSession("halted")
	s.logger.Error().Err(err).Str(log.FieldEvent, "engine.halted").Int(log.FieldPositionMs, st.PositionMsec).Msg("session halted")
	e.emit(Event{Kind: EventHalted, SessionID: s.id, Status: st, Err: err})
}
