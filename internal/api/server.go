// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api provides the HTTP control server of tsplay.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	v1 "github.com/ManuGH/tsplay/internal/api/v1"
	"github.com/ManuGH/tsplay/internal/api/middleware"
	"github.com/ManuGH/tsplay/internal/log"
	"github.com/ManuGH/tsplay/internal/speed"
)

// Config configures the control server.
type Config struct {
	ListenAddr string
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit  int
	StatusPush time.Duration
	// TracingService names HTTP spans; empty disables HTTP tracing.
	TracingService string
	// BaseDir resolves relative M3U entries.
	BaseDir string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// Server represents the HTTP control server.
type Server struct {
	cfg    Config
	v1     *v1.Handler
	router chi.Router
	logger zerolog.Logger
}

// New builds the router for ctl.
func New(cfg Config, ctl v1.Controller, speeds *speed.Table) *Server {
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		v1:     v1.NewHandler(ctl, speeds, v1.Options{StatusPush: cfg.StatusPush, BaseDir: cfg.BaseDir}),
		logger: log.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	// Probes and scrapes stay outside rate limiting.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		middleware.ApplyStack(r, middleware.StackConfig{
			EnableMetrics:  true,
			TracingService: s.cfg.TracingService,
			EnableLogging:  true,
			RateLimit:      s.cfg.RateLimit,
		})
		r.Mount("/api/v1", s.v1.Routes())
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens on ListenAddr and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	pushCtx, stopPush := context.WithCancel(ctx)
	pushDone := make(chan struct{})
	go func() {
		defer close(pushDone)
		s.v1.Run(pushCtx)
	}()
	defer func() {
		stopPush()
		<-pushDone
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str(log.FieldEvent, "api.listening").Str("addr", ln.Addr().String()).Msg("control API listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	// Websocket connections are hijacked; the push loop closes them.
	stopPush()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Str(log.FieldEvent, "api.shutdown_failed").Msg("HTTP server shutdown error")
		_ = srv.Close()
	}
	<-errCh
	s.logger.Info().Str(log.FieldEvent, "api.stopped").Msg("control API stopped")
	return nil
}
