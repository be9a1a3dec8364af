// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/camroom/internal/log"
	"github.com/ManuGH/camroom/internal/metrics"
	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/ManuGH/camroom/internal/resilience"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWriteTimeout = 2 * time.Second
	defaultRetryDelay   = 2 * time.Second
	outboxSize          = 256
)

// Options configures a Bus. A nil Channel or Store disables that transport.
type Options struct {
	Room    string
	Self    protocol.Origin
	Accept  []protocol.Type
	Watch   []string
	Channel Channel
	Store   Store
	Now     func() time.Time

	BreakerThreshold int
	BreakerReset     time.Duration
	WriteTimeout     time.Duration
	RetryDelay       time.Duration
}

// PlayerOptions accepts commands from control surfaces of room.
func PlayerOptions(room string, ch Channel, st Store) Options {
	keys := RoomKeys(room)
	return Options{
		Room:    room,
		Self:    protocol.OriginPlayer,
		Accept:  []protocol.Type{protocol.TypeCMD},
		Watch:   []string{keys.Cmd},
		Channel: ch,
		Store:   st,
	}
}

// ControlOptions accepts state and acks from players of room.
func ControlOptions(room string, ch Channel, st Store) Options {
	keys := RoomKeys(room)
	return Options{
		Room:    room,
		Self:    protocol.OriginControl,
		Accept:  []protocol.Type{protocol.TypeSTATE, protocol.TypeACK},
		Watch:   []string{keys.State, keys.Ack},
		Channel: ch,
		Store:   st,
	}
}

// Bus writes every envelope to both transports and delivers each unique
// inbound envelope exactly once, whichever transport carried it.
type Bus struct {
	room   string
	self   protocol.Origin
	keys   Keys
	filter protocol.Filter
	watch  []string

	channel   Channel
	store     Store
	chBreaker *resilience.CircuitBreaker
	stBreaker *resilience.CircuitBreaker

	dedup        *protocol.Dedup
	outbox       chan protocol.Envelope
	ready        chan struct{}
	writeTimeout time.Duration
	retryDelay   time.Duration
	logger       zerolog.Logger
}

type inbound struct {
	transport string
	raw       []byte
}

func New(opts Options) *Bus {
	room := protocol.NormalizeRoom(opts.Room)
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	peer := protocol.OriginControl
	if opts.Self == protocol.OriginControl {
		peer = protocol.OriginPlayer
	}

	b := &Bus{
		room:         room,
		self:         opts.Self,
		keys:         RoomKeys(room),
		filter:       protocol.Filter{Room: room, From: peer, Types: opts.Accept},
		watch:        opts.Watch,
		channel:      opts.Channel,
		store:        opts.Store,
		dedup:        protocol.NewDedup(opts.Now),
		outbox:       make(chan protocol.Envelope, outboxSize),
		ready:        make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		retryDelay:   opts.RetryDelay,
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "bus").Str(log.FieldRoom, room).Str(log.FieldOrigin, string(opts.Self))
		}),
	}
	if b.channel != nil {
		b.chBreaker = resilience.NewCircuitBreaker(b.channel.Name(), opts.BreakerThreshold, opts.BreakerReset)
	}
	if b.store != nil {
		b.stBreaker = resilience.NewCircuitBreaker(b.store.Name(), opts.BreakerThreshold, opts.BreakerReset)
	}
	return b
}

func (b *Bus) Room() string { return b.room }

func (b *Bus) Keys() Keys { return b.keys }

// Ready is closed once Run made its first subscribe and watch attempts, so
// replies to envelopes sent afterwards are not missed.
func (b *Bus) Ready() <-chan struct{} { return b.ready }

// Send queues env for both transports. It never blocks and never fails;
// when the outbox is full the envelope is dropped and counted.
func (b *Bus) Send(env protocol.Envelope) {
	select {
	case b.outbox <- env:
	default:
		metrics.IncBusSent("outbox", "dropped")
		b.logger.Warn().
			Str(log.FieldEvent, "bus.outbox_full").
			Str(log.FieldNonce, env.Nonce).
			Msg("outbox full, envelope dropped")
	}
}

// Run drives both transports until ctx is done. handler is called from a
// single goroutine, once per unique accepted envelope.
func (b *Bus) Run(ctx context.Context, handler func(protocol.Envelope)) error {
	in := make(chan inbound, outboxSize)
	g, gctx := errgroup.WithContext(ctx)
	var attached sync.WaitGroup

	g.Go(func() error {
		b.writeLoop(gctx)
		return nil
	})
	if b.channel != nil {
		attached.Add(1)
		g.Go(func() error {
			b.channelLoop(gctx, in, sync.OnceFunc(attached.Done))
			return nil
		})
	}
	if b.store != nil && len(b.watch) > 0 {
		attached.Add(1)
		g.Go(func() error {
			b.storeLoop(gctx, in, sync.OnceFunc(attached.Done))
			return nil
		})
	}
	go func() {
		attached.Wait()
		close(b.ready)
	}()
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case m := <-in:
				b.deliver(m, handler)
			}
		}
	})
	return g.Wait()
}

// LastKnown reads the envelope stored under key, if it belongs to this
// room and protocol version.
func (b *Bus) LastKnown(ctx context.Context, key string) (protocol.Envelope, bool) {
	if b.store == nil {
		return protocol.Envelope{}, false
	}
	raw, err := b.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			b.logger.Debug().Err(err).Str(log.FieldKey, key).Str(log.FieldEvent, "bus.last_known_failed").Msg("read last known envelope")
		}
		return protocol.Envelope{}, false
	}
	env, err := protocol.Decode(raw)
	if err != nil || env.Version != protocol.Version || env.Room != b.room {
		return protocol.Envelope{}, false
	}
	return env, true
}

func (b *Bus) writeLoop(ctx context.Context) {
	for {
		select {
		case env := <-b.outbox:
			b.write(ctx, env)
		case <-ctx.Done():
			// flush what is already queued so a final state survives shutdown
			for {
				select {
				case env := <-b.outbox:
					b.write(context.Background(), env)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) write(ctx context.Context, env protocol.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		b.logger.Error().Err(err).Str(log.FieldEvent, "bus.encode_failed").Msg("encode envelope")
		return
	}

	if b.channel != nil {
		err := b.chBreaker.Execute(func() error {
			wctx, cancel := context.WithTimeout(ctx, b.writeTimeout)
			defer cancel()
			return b.channel.Publish(wctx, raw)
		})
		b.recordWrite(b.channel.Name(), "", env, err)
	}
	if b.store != nil {
		for _, key := range b.keys.For(env) {
			err := b.stBreaker.Execute(func() error {
				wctx, cancel := context.WithTimeout(ctx, b.writeTimeout)
				defer cancel()
				return b.store.Put(wctx, key, raw)
			})
			b.recordWrite(b.store.Name(), key, env, err)
		}
	}
}

func (b *Bus) recordWrite(transport, key string, env protocol.Envelope, err error) {
	switch {
	case err == nil:
		metrics.IncBusSent(transport, "ok")
	case errors.Is(err, resilience.ErrCircuitOpen):
		metrics.IncBusSent(transport, "skipped")
	default:
		metrics.IncBusSent(transport, "error")
		b.logger.Debug().Err(err).
			Str(log.FieldEvent, "bus.write_failed").
			Str(log.FieldTransport, transport).
			Str(log.FieldKey, key).
			Str(log.FieldNonce, env.Nonce).
			Msg("transport write failed")
	}
}

func (b *Bus) channelLoop(ctx context.Context, in chan<- inbound, attached func()) {
	defer attached()
	name := b.channel.Name()
	for ctx.Err() == nil {
		sub, err := b.channel.Subscribe(ctx)
		attached()
		if err != nil {
			b.logger.Debug().Err(err).Str(log.FieldEvent, "bus.subscribe_failed").Str(log.FieldTransport, name).Msg("subscribe failed, retrying")
			if !b.sleep(ctx) {
				return
			}
			continue
		}
		b.pump(ctx, name, sub.C(), in)
		_ = sub.Close()
	}
}

func (b *Bus) storeLoop(ctx context.Context, in chan<- inbound, attached func()) {
	defer attached()
	name := b.store.Name()
	for ctx.Err() == nil {
		changes, err := b.store.Watch(ctx, b.watch)
		attached()
		if err != nil {
			b.logger.Debug().Err(err).Str(log.FieldEvent, "bus.watch_failed").Str(log.FieldTransport, name).Msg("watch failed, retrying")
			if !b.sleep(ctx) {
				return
			}
			continue
		}
		raw := make(chan []byte)
		go func() {
			defer close(raw)
			for {
				select {
				case c, ok := <-changes:
					if !ok {
						return
					}
					select {
					case raw <- c.Value:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
		b.pump(ctx, name, raw, in)
	}
}

// pump forwards payloads until src closes or ctx is done.
func (b *Bus) pump(ctx context.Context, transport string, src <-chan []byte, in chan<- inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-src:
			if !ok {
				return
			}
			select {
			case in <- inbound{transport: transport, raw: raw}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Bus) sleep(ctx context.Context) bool {
	t := time.NewTimer(b.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (b *Bus) deliver(m inbound, handler func(protocol.Envelope)) {
	env, err := protocol.Decode(m.raw)
	if err != nil {
		b.drop(m.transport, "malformed", env)
		return
	}
	if env.From == b.self {
		return
	}
	if err := b.filter.Accept(env); err != nil {
		b.drop(m.transport, dropReason(err), env)
		return
	}
	if b.dedup.IsDuplicate(env.Nonce, env.TS) {
		metrics.IncBusDrop(m.transport, "duplicate")
		return
	}
	metrics.IncBusReceived(m.transport)
	handler(env)
}

func (b *Bus) drop(transport, reason string, env protocol.Envelope) {
	metrics.IncBusDrop(transport, reason)
	b.logger.Debug().
		Str(log.FieldEvent, "bus.envelope_dropped").
		Str(log.FieldTransport, transport).
		Str(log.FieldReason, reason).
		Str(log.FieldNonce, env.Nonce).
		Msg("envelope dropped")
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		return "malformed"
	case errors.Is(err, protocol.ErrForeignVersion):
		return "foreign_version"
	case errors.Is(err, protocol.ErrForeignRoom):
		return "foreign_room"
	default:
		return "unexpected"
	}
}
