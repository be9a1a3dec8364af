// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuGH/camroom/internal/bus"
	"github.com/ManuGH/camroom/internal/config"
	"github.com/ManuGH/camroom/internal/control"
	"github.com/ManuGH/camroom/internal/protocol"
)

// Session is an attached control surface.
type Session interface {
	Do(ctx context.Context, cmd string, data any) (protocol.Ack, error)
	State() (protocol.Envelope, bool)
	Connected() bool
	// Subscribe registers fn for every state received afterwards.
	Subscribe(fn func(protocol.Envelope))
	Close() error
}

type busSession struct {
	client *control.Client
	tr     *bus.Transports
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	listeners []func(protocol.Envelope)
}

// Dial opens the configured transports and starts a control client on them.
// It returns once the bus listens, so acks to commands sent afterwards are
// not missed.
func Dial(ctx context.Context, cfg config.AppConfig) (Session, error) {
	tr, err := bus.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}
	b := bus.New(tr.Control(cfg.Room))

	s := &busSession{tr: tr, done: make(chan struct{})}
	client, err := control.New(control.Options{
		Room:      cfg.Room,
		Transport: b,
		LastKnown: func(ctx context.Context) (protocol.Envelope, bool) {
			return b.LastKnown(ctx, b.Keys().State)
		},
		AckTimeout: cfg.Control.AckTimeout,
		LiveWindow: cfg.Control.LiveWindow,
		OnState:    s.dispatch,
	})
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	s.client = client

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go func() {
		defer close(s.done)
		_ = client.Run(runCtx)
	}()

	select {
	case <-b.Ready():
		return s, nil
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}
}

func (s *busSession) Do(ctx context.Context, cmd string, data any) (protocol.Ack, error) {
	return s.client.Do(ctx, cmd, data)
}

func (s *busSession) State() (protocol.Envelope, bool) { return s.client.State() }

func (s *busSession) Connected() bool { return s.client.Connected() }

func (s *busSession) Subscribe(fn func(protocol.Envelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *busSession) dispatch(env protocol.Envelope) {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(env)
	}
}

// Close stops the client, flushing queued envelopes, and releases the
// transports.
func (s *busSession) Close() error {
	s.cancel()
	<-s.done
	return s.tr.Close()
}
