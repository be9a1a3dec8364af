// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the player's local operations surface: health probes,
// prometheus metrics, the current state, local command injection and a
// websocket state push.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/camroom/internal/api/middleware"
	"github.com/ManuGH/camroom/internal/health"
	"github.com/ManuGH/camroom/internal/log"
	"github.com/ManuGH/camroom/internal/player"
	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	maxCommandBody       = 64 << 10
	defaultSubmitTimeout = 30 * time.Second
	shutdownTimeout      = 10 * time.Second
)

// Player is the part of the player surface the API needs.
type Player interface {
	State() (protocol.Envelope, bool)
	Submit(ctx context.Context, cmd string, data json.RawMessage) (protocol.Ack, error)
}

// Options configures a Server.
type Options struct {
	ListenAddr string
	// RateLimit is requests per minute per client on /api. Zero disables it.
	RateLimit int
	// TracingService enables otelhttp spans when set.
	TracingService string
	SubmitTimeout  time.Duration

	Player Player
	Health *health.Manager
	Hub    *Hub
}

// Server is the ops HTTP server.
type Server struct {
	opts    Options
	handler http.Handler
	logger  zerolog.Logger
}

// CommandRequest is the POST /api/commands body.
type CommandRequest struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandResponse is returned for every executed command.
type CommandResponse struct {
	Cmd string       `json:"cmd"`
	Ack protocol.Ack `json:"ack"`
}

// New builds the server and its router.
func New(opts Options) *Server {
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = defaultSubmitTimeout
	}
	if opts.Health == nil {
		opts.Health = health.NewManager("")
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(nil)
	}
	s := &Server{opts: opts, logger: log.WithComponent("api")}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the websocket hub states are published to.
func (s *Server) Hub() *Hub { return s.opts.Hub }

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		CSP:                   middleware.DefaultCSP,
		EnableMetrics:         true,
		TracingService:        s.opts.TracingService,
		EnableLogging:         true,
	})

	r.Get("/healthz", s.opts.Health.ServeHealth)
	r.Get("/readyz", s.opts.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.opts.RateLimit > 0 {
			r.Use(middleware.APIRateLimit(s.opts.RateLimit))
		}
		r.Get("/state", s.handleState)
		r.Post("/commands", s.handleCommand)
		r.Handle("/ws", s.opts.Hub)
	})
	return r
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Player == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("player not attached"))
		return
	}
	env, ok := s.opts.Player.State()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, errors.New("no state yet"))
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.opts.Player == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("player not attached"))
		return
	}
	var req CommandRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	cmd := protocol.NormalizeCommand(req.Cmd)
	if cmd == "" {
		writeError(w, http.StatusBadRequest, errors.New("cmd is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.SubmitTimeout)
	defer cancel()
	ack, err := s.opts.Player.Submit(ctx, cmd, req.Data)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, CommandResponse{Cmd: cmd, Ack: ack})
	case errors.Is(err, player.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, errors.New("command timed out"))
	default:
		s.logger.Warn().Err(err).Str(log.FieldEvent, "api.command_failed").Str(log.FieldCmd, cmd).Msg("command submit failed")
		writeError(w, http.StatusBadRequest, err)
	}
}

// Run listens until ctx is done, then shuts down gracefully and disconnects
// websocket clients.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str(log.FieldEvent, "api.listening").Str("addr", s.opts.ListenAddr).Msg("ops API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops API: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		s.opts.Hub.Close()
		if err != nil {
			s.logger.Error().Err(err).Str(log.FieldEvent, "api.server_failed").Msg("ops API failed")
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown
	s.opts.Hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops API shutdown: %w", err)
	}
	<-errCh
	s.logger.Info().Str(log.FieldEvent, "api.stopped").Msg("ops API stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
