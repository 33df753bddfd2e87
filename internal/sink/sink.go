// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sink is the packet output boundary: the engine hands canonical 188-byte
// packets to a Sink, which forwards them to a writer, pipe or socket.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/tsplay/internal/log"
)

var (
	// ErrClosed is returned by Offer after Close.
	ErrClosed = errors.New("sink closed")
	// ErrWrite wraps a failed write to the underlying destination.
	ErrWrite = errors.New("sink write failed")
)

// Sink accepts packet batches. Offer returns accepted=false when the consumer did
// not take the batch in time; that is backpressure, not a failure. A non-nil error
// means the destination is broken.
type Sink interface {
	Offer(ctx context.Context, pkts []byte) (accepted bool, err error)
	Close() error
}

// Options configures a queue sink.
type Options struct {
	// Depth is the number of batches buffered ahead of the writer.
	Depth int
	// OfferTimeout bounds how long Offer waits for queue space.
	OfferTimeout time.Duration
	// DialTimeout bounds TCP connects.
	DialTimeout time.Duration
}

func (o *Options) defaults() {
	if o.Depth <= 0 {
		o.Depth = 64
	}
	if o.OfferTimeout <= 0 {
		o.OfferTimeout = 50 * time.Millisecond
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
}

// Queue decouples the engine from a blocking writer with a bounded channel.
type Queue struct {
	w       io.WriteCloser
	timeout time.Duration
	ch      chan []byte
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error
}

// NewQueue starts the writer goroutine for w.
func NewQueue(w io.WriteCloser, opts Options) *Queue {
	opts.defaults()
	q := &Queue{
		w:       w,
		timeout: opts.OfferTimeout,
		ch:      make(chan []byte, opts.Depth),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for b := range q.ch {
		if q.failed() != nil {
			continue
		}
		if _, err := q.w.Write(b); err != nil {
			q.errMu.Lock()
			q.err = fmt.Errorf("%w: %v", ErrWrite, err)
			q.errMu.Unlock()
		}
	}
}

func (q *Queue) failed() error {
	q.errMu.Lock()
	defer q.errMu.Unlock()
	return q.err
}

// Offer copies pkts into the queue.
func (q *Queue) Offer(ctx context.Context, pkts []byte) (bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false, ErrClosed
	}
	if err := q.failed(); err != nil {
		return false, err
	}
	b := append([]byte(nil), pkts...)
	select {
	case q.ch <- b:
		return true, nil
	default:
	}
	t := time.NewTimer(q.timeout)
	defer t.Stop()
	select {
	case q.ch <- b:
		return true, nil
	case <-t.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Close flushes queued batches and closes the destination.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	<-q.done
	err := q.w.Close()
	if werr := q.failed(); werr != nil {
		return werr
	}
	return err
}

// Open resolves a target: "-" is stdout, udp://host:port and tcp://host:port are
// sockets, anything else is a file or named pipe path.
func Open(target string, opts Options) (*Queue, error) {
	opts.defaults()
	logger := log.WithComponent("sink")

	var w io.WriteCloser
	switch {
	case target == "" || target == "-":
		w = nopCloser{os.Stdout}
	case strings.HasPrefix(target, "udp://"):
		c, err := net.Dial("udp", strings.TrimPrefix(target, "udp://"))
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", target, err)
		}
		w = &datagramWriter{c: c}
	case strings.HasPrefix(target, "tcp://"):
		c, err := net.DialTimeout("tcp", strings.TrimPrefix(target, "tcp://"), opts.DialTimeout)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", target, err)
		}
		w = c
	default:
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("open sink %s: %w", target, err)
		}
		w = f
	}
	logger.Info().Str(log.FieldEvent, "sink.opened").Str(log.FieldSink, target).Msg("sink opened")
	return NewQueue(w, opts), nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// DatagramPackets is the number of packets per UDP datagram (1316 bytes).
const DatagramPackets = 7

type datagramWriter struct{ c net.Conn }

func (d *datagramWriter) Write(p []byte) (int, error) {
	const size = DatagramPackets * 188
	n := 0
	for len(p) > 0 {
		k := min(size, len(p))
		w, err := d.c.Write(p[:k])
		n += w
		if err != nil {
			return n, err
		}
		p = p[k:]
	}
	return n, nil
}

func (d *datagramWriter) Close() error { return d.c.Close() }
