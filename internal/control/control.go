// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package control is the control surface: it issues commands to the players
// of a room, correlates their acks and tracks the latest player state.
package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/camroom/internal/clock"
	"github.com/ManuGH/camroom/internal/config"
	"github.com/ManuGH/camroom/internal/log"
	"github.com/ManuGH/camroom/internal/metrics"
	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	ErrNoTransport = errors.New("control: transport is required")
	// ErrExpired is returned by Await when no ack arrived in time.
	ErrExpired = errors.New("command expired without ack")
	// ErrUnknownNonce is returned by Await for nonces that are not pending.
	ErrUnknownNonce = errors.New("no pending command with this nonce")
)

// Transport carries envelopes between surfaces. *bus.Bus implements it.
type Transport interface {
	Send(env protocol.Envelope)
	Run(ctx context.Context, handler func(protocol.Envelope)) error
}

// Result is a correlated ack.
type Result struct {
	Cmd     string
	Ack     protocol.Ack
	Latency time.Duration
}

// Options wires a Client.
type Options struct {
	Room      string
	Transport Transport
	// LastKnown reads the durable state key. Optional.
	LastKnown  func(ctx context.Context) (protocol.Envelope, bool)
	Clock      clock.Clock
	AckTimeout time.Duration
	LiveWindow time.Duration

	// Callbacks run on the transport goroutine and must not block.
	OnState func(protocol.Envelope)
	OnAck   func(Result)
}

type pending struct {
	cmd     string
	sentAt  time.Time
	expires time.Time
	waiters []chan result
}

type result struct {
	ack protocol.Ack
	err error
}

// Client is safe for concurrent use.
type Client struct {
	opts   Options
	room   string
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pending
	latest  *protocol.Envelope
	sweep   clock.Timer
	closed  bool
}

// New creates a control client. Nothing is received until Run is called.
func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = config.DefaultAckTimeout
	}
	if opts.LiveWindow <= 0 {
		opts.LiveWindow = config.DefaultLiveWindow
	}
	room := protocol.NormalizeRoom(opts.Room)
	return &Client{
		opts:    opts,
		room:    room,
		clock:   opts.Clock,
		pending: make(map[string]*pending),
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "control").Str(log.FieldRoom, room)
		}),
	}, nil
}

// Room returns the normalized room key.
func (c *Client) Room() string { return c.room }

// SendCommand records a pending entry and hands the command to the
// transport. It never blocks and never retries.
func (c *Client) SendCommand(cmd string, data any) (string, error) {
	now := c.clock.Now()
	env, err := protocol.NewCommand(c.room, now, cmd, data)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.pending[env.Nonce] = &pending{
		cmd:     env.Cmd,
		sentAt:  now,
		expires: now.Add(c.opts.AckTimeout),
	}
	c.armSweepLocked()
	n := len(c.pending)
	c.mu.Unlock()

	metrics.ObserveCommandSent(env.Cmd)
	metrics.CommandsPending.Set(float64(n))
	c.logger.Debug().
		Str(log.FieldEvent, "control.command_sent").
		Str(log.FieldCmd, env.Cmd).
		Str(log.FieldNonce, env.Nonce).
		Msg("command sent")

	c.opts.Transport.Send(env)
	return env.Nonce, nil
}

// Await blocks until the command identified by nonce is acked, expires or
// ctx is done.
func (c *Client) Await(ctx context.Context, nonce string) (protocol.Ack, error) {
	ch := make(chan result, 1)
	c.mu.Lock()
	p, ok := c.pending[nonce]
	if !ok {
		c.mu.Unlock()
		return protocol.Ack{}, ErrUnknownNonce
	}
	p.waiters = append(p.waiters, ch)
	c.mu.Unlock()

	select {
	case r := <-ch:
		return r.ack, r.err
	case <-ctx.Done():
		return protocol.Ack{}, ctx.Err()
	}
}

// Do sends a command and waits for its ack.
func (c *Client) Do(ctx context.Context, cmd string, data any) (protocol.Ack, error) {
	nonce, err := c.SendCommand(cmd, data)
	if err != nil {
		return protocol.Ack{}, err
	}
	return c.Await(ctx, nonce)
}

// Pending returns the number of commands awaiting an ack.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(c.clock.Now())
	return len(c.pending)
}

// State returns the latest player state envelope.
func (c *Client) State() (protocol.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return protocol.Envelope{}, false
	}
	return *c.latest, true
}

// Connected reports whether the latest state is younger than the live
// window.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return false
	}
	return c.clock.Now().Sub(c.latest.Time()) < c.opts.LiveWindow
}

// Hydrate seeds the latest state from the durable state key.
func (c *Client) Hydrate(ctx context.Context) bool {
	if c.opts.LastKnown == nil {
		return false
	}
	env, ok := c.opts.LastKnown(ctx)
	if !ok || env.Type != protocol.TypeSTATE || env.State == nil {
		return false
	}
	c.mu.Lock()
	stored := c.storeLocked(env)
	c.mu.Unlock()
	if stored {
		c.logger.Debug().Str(log.FieldEvent, "control.hydrated").Int64("ts", env.TS).Msg("state hydrated from store")
	}
	return stored
}

// Run hydrates the latest state and receives until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.Hydrate(ctx)
	err := c.opts.Transport.Run(ctx, c.Handle)

	c.mu.Lock()
	c.closed = true
	if c.sweep != nil {
		c.sweep.Stop()
		c.sweep = nil
	}
	c.mu.Unlock()
	return err
}

// Handle processes one envelope received from a player.
func (c *Client) Handle(env protocol.Envelope) {
	if env.Type == protocol.TypeSTATE && env.State != nil {
		c.mu.Lock()
		c.storeLocked(env)
		c.mu.Unlock()
		if c.opts.OnState != nil {
			c.opts.OnState(env)
		}
	}

	ack, ok := env.AckNonce()
	if !ok {
		return
	}
	c.resolve(*ack)
}

func (c *Client) resolve(ack protocol.Ack) {
	now := c.clock.Now()
	c.mu.Lock()
	p, ok := c.pending[ack.CmdNonce]
	if !ok {
		c.mu.Unlock()
		// not ours, or already resolved through the other transport
		return
	}
	delete(c.pending, ack.CmdNonce)
	n := len(c.pending)
	c.mu.Unlock()

	for _, w := range p.waiters {
		w <- result{ack: ack}
	}
	res := Result{Cmd: p.cmd, Ack: ack, Latency: now.Sub(p.sentAt)}
	metrics.ObserveCommandAcked(p.cmd, ack.OK)
	metrics.CommandsPending.Set(float64(n))

	ev := c.logger.Info()
	if !ack.OK {
		ev = c.logger.Warn()
	}
	ev.Str(log.FieldEvent, "control.command_acked").
		Str(log.FieldCmd, p.cmd).
		Str(log.FieldNonce, ack.CmdNonce).
		Bool(log.FieldAckOK, ack.OK).
		Str(log.FieldAckNote, ack.Note).
		Dur("latency", res.Latency).
		Msg("command acked")

	if c.opts.OnAck != nil {
		c.opts.OnAck(res)
	}
}

// storeLocked keeps the newest state by timestamp.
func (c *Client) storeLocked(env protocol.Envelope) bool {
	if c.latest != nil && env.TS < c.latest.TS {
		return false
	}
	e := env
	c.latest = &e
	return true
}

func (c *Client) expireLocked(now time.Time) {
	expired := 0
	for nonce, p := range c.pending {
		if now.Before(p.expires) {
			continue
		}
		delete(c.pending, nonce)
		expired++
		for _, w := range p.waiters {
			w <- result{err: ErrExpired}
		}
		c.logger.Debug().
			Str(log.FieldEvent, "control.command_expired").
			Str(log.FieldCmd, p.cmd).
			Str(log.FieldNonce, nonce).
			Msg("no ack before timeout")
	}
	if expired > 0 {
		metrics.CommandsExpiredTotal.Add(float64(expired))
		metrics.CommandsPending.Set(float64(len(c.pending)))
	}
}

// armSweepLocked schedules one expiry pass at the earliest deadline.
func (c *Client) armSweepLocked() {
	if c.sweep != nil || c.closed || len(c.pending) == 0 {
		return
	}
	var next time.Time
	for _, p := range c.pending {
		if next.IsZero() || p.expires.Before(next) {
			next = p.expires
		}
	}
	d := max(next.Sub(c.clock.Now()), 0)
	c.sweep = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.sweep = nil
		c.expireLocked(c.clock.Now())
		c.armSweepLocked()
	})
}
