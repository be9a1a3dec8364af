// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package player is the player surface: it executes commands received over
// the bus, drives the slot engine and the rotation scheduler, and broadcasts
// its state on every change and on a heartbeat.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ManuGH/camroom/internal/catalog"
	"github.com/ManuGH/camroom/internal/clock"
	"github.com/ManuGH/camroom/internal/config"
	"github.com/ManuGH/camroom/internal/log"
	"github.com/ManuGH/camroom/internal/loop"
	"github.com/ManuGH/camroom/internal/playback"
	platformnet "github.com/ManuGH/camroom/internal/platform/net"
	"github.com/ManuGH/camroom/internal/prefs"
	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/ManuGH/camroom/internal/rotation"
	"github.com/ManuGH/camroom/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// AppName is reported in every state document.
const AppName = "camroom-player"

var (
	ErrNoTransport = errors.New("player: transport is required")
	ErrNoCatalog   = errors.New("player: catalog loader is required")
	ErrNotRunning  = errors.New("player: not running")
)

// Transport carries envelopes between surfaces. *bus.Bus implements it.
type Transport interface {
	Send(env protocol.Envelope)
	Run(ctx context.Context, handler func(protocol.Envelope)) error
}

// Boot holds the parameters a player starts with.
type Boot struct {
	Autoplay    bool
	StartID     string
	Muted       bool
	Mode        string
	Tag         string
	Layout      int
	IntervalSec int
}

// BootFromConfig maps the player section of the configuration.
func BootFromConfig(c config.PlayerConfig) Boot {
	return Boot{
		Autoplay:    c.Autoplay,
		StartID:     c.StartID,
		Muted:       c.Muted,
		Mode:        c.Mode,
		Tag:         c.Tag,
		Layout:      c.Layout,
		IntervalSec: c.IntervalSec,
	}
}

// Options wires a Player.
type Options struct {
	Room      string
	Version   string
	Transport Transport
	Catalog   *catalog.Loader
	Backends  playback.Backends
	Prefs     prefs.Store
	Boot      Boot
	Heartbeat time.Duration
	Clock     clock.Clock
	URLPolicy platformnet.HostPolicy

	Picker        *rotation.Picker
	Skips         *rate.Limiter
	FallbackDelay time.Duration
	FailureDelay  time.Duration

	// OnState observes every broadcast. It runs on the surface loop and
	// must not block.
	OnState func(protocol.Envelope)
}

// Player owns one player surface. Everything except the atomics is owned by
// the loop goroutine.
type Player struct {
	opts   Options
	room   string
	clock  clock.Clock
	loop   *loop.Loop
	engine *playback.Engine
	sched  *rotation.Scheduler
	tracer trace.Tracer
	logger zerolog.Logger

	active      int
	muted       bool
	hud         bool
	fullscreen  bool
	lastError   string
	lastID      string
	seenControl time.Time
	heartbeat   clock.Timer
	waiters     map[string]chan protocol.Ack
	runCtx      context.Context

	latest  atomic.Pointer[protocol.Envelope]
	ready   atomic.Bool
	running atomic.Bool
	saveq   chan prefs.Prefs
}

// New creates a player. Nothing runs until Run is called.
func New(opts Options) (*Player, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	if opts.Catalog == nil {
		return nil, ErrNoCatalog
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = config.DefaultHeartbeat
	}
	if opts.Prefs == nil {
		opts.Prefs = prefs.NewMemoryStore()
	}
	if opts.Boot.Mode == "" {
		opts.Boot.Mode = protocol.ModeManual
	}
	opts.Boot.IntervalSec = rotation.ClampInterval(opts.Boot.IntervalSec)

	room := protocol.NormalizeRoom(opts.Room)
	p := &Player{
		opts:    opts,
		room:    room,
		clock:   opts.Clock,
		loop:    loop.New(),
		tracer:  telemetry.Tracer("camroom/player"),
		waiters: make(map[string]chan protocol.Ack),
		runCtx:  context.Background(),
		saveq:   make(chan prefs.Prefs, 1),
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "player").Str(log.FieldRoom, room)
		}),
	}
	p.engine = playback.NewEngine(playback.Options{
		Backends:      opts.Backends,
		Clock:         opts.Clock,
		Post:          p.loop.Post,
		OnChange:      p.onSlotChange,
		OnFailure:     p.onSlotFailure,
		Muted:         func() bool { return p.muted },
		FallbackDelay: opts.FallbackDelay,
	}, 1)
	p.sched = rotation.NewScheduler(rotation.Options{
		Clock:        opts.Clock,
		Post:         p.loop.Post,
		Catalog:      opts.Catalog.Current,
		Current:      p.currentID,
		Assign:       func(slot int, e catalog.Entry, reason string) { p.engine.Assign(slot, e, reason, nil) },
		OnDisabled:   p.onRotationDisabled,
		Picker:       opts.Picker,
		FailureDelay: opts.FailureDelay,
		Skips:        opts.Skips,
	})
	return p, nil
}

// Room returns the normalized room key.
func (p *Player) Room() string { return p.room }

// Ready reports whether boot completed.
func (p *Player) Ready() bool { return p.ready.Load() }

// State returns the most recently broadcast state envelope.
func (p *Player) State() (protocol.Envelope, bool) {
	env := p.latest.Load()
	if env == nil {
		return protocol.Envelope{}, false
	}
	return *env, true
}

// Run loads the catalog and the saved prefs, boots and serves commands until
// ctx is done.
func (p *Player) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("player: already running")
	}
	p.runCtx = ctx

	if _, err := p.opts.Catalog.Load(ctx); err != nil {
		p.logger.Warn().Err(err).Str(log.FieldEvent, "player.catalog_unavailable").Msg("starting without catalog")
	}
	saved, hasSaved, err := p.opts.Prefs.Load(ctx, p.room)
	if err != nil {
		p.logger.Warn().Err(err).Str(log.FieldEvent, "player.prefs_unavailable").Msg("starting without saved prefs")
		hasSaved = false
	}

	p.loop.Post(func() { p.boot(saved, hasSaved) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.loop.Run(gctx) })
	g.Go(func() error { return p.opts.Transport.Run(gctx, p.receive) })
	g.Go(func() error {
		p.saveLoop(gctx)
		return nil
	})
	err = g.Wait()

	// the loop has stopped: tear down from here
	p.shutdown()
	return err
}

// Submit runs a command through the same path as bus commands and waits for
// its ack.
func (p *Player) Submit(ctx context.Context, cmd string, data json.RawMessage) (protocol.Ack, error) {
	var payload any
	if len(data) > 0 {
		payload = data
	}
	env, err := protocol.NewCommand(p.room, p.clock.Now(), cmd, payload)
	if err != nil {
		return protocol.Ack{}, err
	}
	ch := make(chan protocol.Ack, 1)
	if err := p.loop.Do(ctx, func() {
		p.waiters[env.Nonce] = ch
		p.handleCommand(env)
	}); err != nil {
		if errors.Is(err, loop.ErrStopped) {
			return protocol.Ack{}, ErrNotRunning
		}
		return protocol.Ack{}, err
	}

	select {
	case a := <-ch:
		return a, nil
	case <-p.loop.Done():
		return protocol.Ack{}, ErrNotRunning
	case <-ctx.Done():
		p.loop.Post(func() { delete(p.waiters, env.Nonce) })
		return protocol.Ack{}, ctx.Err()
	}
}

// receive is called by the transport for every accepted envelope.
func (p *Player) receive(env protocol.Envelope) {
	if env.Type != protocol.TypeCMD {
		return
	}
	p.loop.Post(func() {
		// only bus traffic proves a control surface is alive
		p.seenControl = p.clock.Now()
		p.handleCommand(env)
	})
}

func (p *Player) armHeartbeat() {
	p.heartbeat = p.clock.AfterFunc(p.opts.Heartbeat, func() {
		p.loop.Post(func() {
			p.broadcast("heartbeat", nil)
			p.armHeartbeat()
		})
	})
}

// broadcast sends the current state. ack is set on the one state that
// answers a command.
func (p *Player) broadcast(reason string, ack *protocol.Ack) {
	env := protocol.NewState(p.room, p.clock.Now(), p.snapshot(reason, ack))
	p.opts.Transport.Send(env)
	p.latest.Store(&env)
	if p.opts.OnState != nil {
		p.opts.OnState(env)
	}
}

func (p *Player) onSlotChange(slot int, reason string) {
	switch reason {
	case playback.ChangeFailed, playback.ChangeLost:
		if s := p.engine.Slot(slot); s != nil {
			p.lastError = s.LastError
		}
	case playback.ChangeStarted:
		p.lastError = ""
		p.savePrefs()
	}
	p.broadcast(fmt.Sprintf("slot%d_%s", slot, reason), nil)
}

func (p *Player) onSlotFailure(slot int) {
	p.sched.Fail(slot)
}

func (p *Player) onRotationDisabled(slot int, reason string) {
	p.engine.SetRotation(slot, playback.Rotation{})
	p.lastError = "no cams match rotation filter"
	p.savePrefs()
	p.broadcast("rotation_disabled", nil)
}

func (p *Player) currentID(slot int) string {
	if s := p.engine.Slot(slot); s != nil && s.Entry != nil {
		return s.Entry.ID
	}
	return ""
}

func (p *Player) catalog() *catalog.Catalog { return p.opts.Catalog.Current() }

func (p *Player) enableRotation(slot int, cfg rotation.Config) rotation.Config {
	applied := p.sched.Enable(slot, cfg)
	p.engine.SetRotation(slot, playback.Rotation{
		Enabled:     true,
		IntervalSec: applied.IntervalSec,
		Kind:        applied.Kind,
		Tag:         applied.Tag,
	})
	return applied
}

func (p *Player) disableRotation(slot int) {
	p.sched.Disable(slot)
	p.engine.SetRotation(slot, playback.Rotation{})
}

func (p *Player) play(slot int, e catalog.Entry, reason string, done func(bool)) {
	if slot == 0 {
		p.lastID = e.ID
	}
	p.engine.Assign(slot, e, reason, done)
	p.savePrefs()
}

func (p *Player) shutdown() {
	if p.heartbeat != nil {
		p.heartbeat.Stop()
	}
	p.sched.Close()
	final := p.currentPrefs()
	p.engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.opts.Prefs.Save(ctx, p.room, final); err != nil {
		p.logger.Warn().Err(err).Str(log.FieldEvent, "player.prefs_save_failed").Msg("save prefs on shutdown")
	}
	p.logger.Info().Str(log.FieldEvent, "player.stopped").Msg("player stopped")
}
