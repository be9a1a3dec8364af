// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback owns the player's slots. Each slot runs at most one
// attempt; a monotonically increasing token decides which attempt may still
// touch the slot. All Engine methods must be called from the surface loop.
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/camroom/internal/catalog"
	"github.com/ManuGH/camroom/internal/clock"
	"github.com/ManuGH/camroom/internal/log"
	"github.com/ManuGH/camroom/internal/metrics"
	"github.com/ManuGH/camroom/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Layout bounds.
const (
	MinSlots = 1
	MaxSlots = 12
)

// FallbackDelay is the pause before retrying an entry's first fallback.
const FallbackDelay = 350 * time.Millisecond

// Change reasons passed to OnChange.
const (
	ChangeStarted = "started"
	ChangeFailed  = "failed"
	ChangeStopped = "stopped"
	ChangeLost    = "lost"
)

// Rotation is a slot's rotation configuration.
type Rotation struct {
	Enabled     bool
	IntervalSec int
	Kind        catalog.Kind
	Tag         string
}

// Location caches the resolved timezone of the slot's current entry.
type Location struct {
	City string
	TZ   string
	loc  *time.Location
}

// In converts t to the slot's local time when the timezone resolved.
func (l Location) In(t time.Time) (time.Time, bool) {
	if l.loc == nil {
		return t, false
	}
	return t.In(l.loc), true
}

// Slot is one playback position.
type Slot struct {
	Index      int
	Entry      *catalog.Entry
	Alive      bool
	FailCount  int
	LastGoodAt time.Time
	LastError  string
	Location   Location
	Rotation   Rotation

	token  uint64
	cur    *attempt
	handle Handle
	watch  context.CancelFunc
	retry  clock.Timer
}

// Token returns the slot's current attempt token.
func (s *Slot) Token() uint64 { return s.token }

type attempt struct {
	token    uint64
	entry    catalog.Entry
	reason   string
	fallback bool
	done     func(bool)
	cancel   context.CancelCauseFunc
	timer    clock.Timer
	started  time.Time
	span     trace.Span
}

// finish fires done at most once.
func (a *attempt) finish(ok bool) {
	if a.done != nil {
		d := a.done
		a.done = nil
		d(ok)
	}
}

// Options configures an Engine.
type Options struct {
	Backends Backends
	Clock    clock.Clock
	// Post schedules fn on the surface loop. It reports false once the loop
	// stopped.
	Post func(fn func()) bool
	// OnChange is called after every state transition that should be
	// broadcast.
	OnChange func(slot int, reason string)
	// OnFailure is called when an attempt failed for good (no fallback
	// left).
	OnFailure func(slot int)
	// Muted is consulted when an attempt starts.
	Muted         func() bool
	FallbackDelay time.Duration
	// Tracer defaults to the global provider.
	Tracer        trace.Tracer
}

// Engine owns the slots of one player surface.
type Engine struct {
	opts   Options
	seq    uint64
	slots  []*Slot
	tzs    map[string]*time.Location
	logger zerolog.Logger
}

// NewEngine creates an engine with n slots.
func NewEngine(opts Options, n int) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.OnChange == nil {
		opts.OnChange = func(int, string) {}
	}
	if opts.OnFailure == nil {
		opts.OnFailure = func(int) {}
	}
	if opts.Muted == nil {
		opts.Muted = func() bool { return false }
	}
	if opts.FallbackDelay <= 0 {
		opts.FallbackDelay = FallbackDelay
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer("camroom/playback")
	}
	e := &Engine{
		opts:   opts,
		tzs:    make(map[string]*time.Location),
		logger: log.WithComponent("playback"),
	}
	e.slots = makeSlots(ClampSlots(n))
	return e
}

// ClampSlots bounds a layout size to MinSlots..MaxSlots.
func ClampSlots(n int) int {
	return min(max(n, MinSlots), MaxSlots)
}

func makeSlots(n int) []*Slot {
	slots := make([]*Slot, n)
	for i := range slots {
		slots[i] = &Slot{Index: i}
	}
	return slots
}

// nextToken draws from an engine-wide sequence so tokens stay unique across
// Resize.
func (e *Engine) nextToken(s *Slot) uint64 {
	e.seq++
	s.token = e.seq
	return s.token
}

// Len returns the number of slots.
func (e *Engine) Len() int { return len(e.slots) }

// Slot returns slot i, or nil when out of range. Callers must not keep the
// pointer past the current loop turn.
func (e *Engine) Slot(i int) *Slot {
	if i < 0 || i >= len(e.slots) {
		return nil
	}
	return e.slots[i]
}

// Resize tears every slot down and recreates n empty slots.
func (e *Engine) Resize(n int) {
	n = ClampSlots(n)
	for _, s := range e.slots {
		e.supersede(s)
	}
	e.slots = makeSlots(n)
	e.updateAliveGauge()
}

// SetRotation stores the rotation configuration of slot i.
func (e *Engine) SetRotation(i int, r Rotation) {
	if s := e.Slot(i); s != nil {
		s.Rotation = r
	}
}

// Assign starts playing entry on slot i. done is called exactly once with
// the final outcome: true when playing, false on failure, on supersession
// or when the slot does not exist.
func (e *Engine) Assign(i int, entry catalog.Entry, reason string, done func(bool)) {
	s := e.Slot(i)
	if s == nil {
		if done != nil {
			done(false)
		}
		return
	}
	s.FailCount = 0
	e.start(s, entry, reason, false, done)
}

func (e *Engine) start(s *Slot, entry catalog.Entry, reason string, fallback bool, done func(bool)) {
	e.supersede(s)
	tok := e.nextToken(s)

	ent := entry
	s.Entry = &ent
	s.Alive = false
	s.LastError = ""
	e.resolveLocation(s, entry)

	ctx, cancel := context.WithCancelCause(context.Background())
	a := &attempt{
		token:    tok,
		entry:    entry,
		reason:   reason,
		fallback: fallback,
		done:     done,
		cancel:   cancel,
		started:  e.opts.Clock.Now(),
	}
	_, a.span = e.opts.Tracer.Start(ctx, "playback.attempt",
		trace.WithAttributes(telemetry.AttemptAttributes(s.Index, entry.ID, string(entry.Kind), reason, fallback)...))
	s.cur = a

	e.logger.Debug().
		Str(log.FieldEvent, "playback.attempt_start").
		Int(log.FieldSlot, s.Index).
		Str(log.FieldCamID, entry.ID).
		Str(log.FieldKind, string(entry.Kind)).
		Str(log.FieldReason, reason).
		Uint64(log.FieldToken, tok).
		Bool("fallback", fallback).
		Msg("attempt started")

	backend, policy, err := e.opts.Backends.For(entry.Kind)
	if err != nil {
		// resolve on the next loop turn so callers never re-enter the engine
		idx := s.Index
		e.opts.Post(func() { e.complete(idx, tok, nil, err) })
		return
	}

	a.timer = e.opts.Clock.AfterFunc(policy.Timeout, func() { cancel(ErrHealthTimeout) })

	req := Request{Slot: s.Index, Entry: entry, Muted: e.opts.Muted()}
	idx := s.Index
	go func() {
		h, err := backend.Attempt(ctx, req)
		if ctx.Err() != nil {
			// report why the health check was cut short
			err = context.Cause(ctx)
		}
		if !e.opts.Post(func() { e.complete(idx, tok, h, err) }) && h != nil {
			_ = h.Close()
		}
	}()
}

// supersede invalidates whatever the slot is doing and releases resources
// synchronously.
func (e *Engine) supersede(s *Slot) {
	e.nextToken(s)
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.watch != nil {
		s.watch()
		s.watch = nil
	}
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			e.logger.Debug().Err(err).Int(log.FieldSlot, s.Index).Msg("close backend handle")
		}
		s.handle = nil
	}
	if a := s.cur; a != nil {
		s.cur = nil
		if a.timer != nil {
			a.timer.Stop()
		}
		a.cancel(ErrSuperseded)
		if a.span != nil {
			// still in flight; a pending fallback already reported its failure
			a.span.SetAttributes(telemetry.Outcome("superseded"))
			a.span.End()
			a.span = nil
			metrics.ObservePlaybackAttempt(string(a.entry.Kind), "superseded", 0)
		}
		a.finish(false)
	}
	if s.Alive {
		s.Alive = false
		e.updateAliveGauge()
	}
}

func (e *Engine) complete(idx int, tok uint64, h Handle, err error) {
	s := e.Slot(idx)
	if s == nil || s.token != tok || s.cur == nil || s.cur.token != tok {
		if h != nil {
			_ = h.Close()
		}
		return
	}
	a := s.cur
	if a.timer != nil {
		a.timer.Stop()
	}
	elapsed := e.opts.Clock.Now().Sub(a.started)

	if err == nil {
		s.cur = nil
		s.handle = h
		s.Alive = true
		s.FailCount = 0
		s.LastGoodAt = e.opts.Clock.Now()
		s.LastError = ""
		e.updateAliveGauge()
		metrics.ObservePlaybackAttempt(string(a.entry.Kind), "ok", elapsed)
		a.span.SetAttributes(telemetry.Outcome("ok"))
		a.span.End()
		a.span = nil
		// the health-check context ends here; handles own their lifetime
		a.cancel(nil)

		e.logger.Info().
			Str(log.FieldEvent, "playback.live").
			Int(log.FieldSlot, idx).
			Str(log.FieldCamID, a.entry.ID).
			Str(log.FieldReason, a.reason).
			Dur("took", elapsed).
			Msg("slot live")

		if m, ok := h.(Monitored); ok {
			e.monitor(s, tok, m)
		}
		e.opts.OnChange(idx, ChangeStarted)
		a.finish(true)
		return
	}

	a.cancel(err)
	if h != nil {
		_ = h.Close()
	}
	s.Alive = false
	s.FailCount++
	s.LastError = failureNote(a.entry.Kind, err)
	e.updateAliveGauge()
	metrics.ObservePlaybackAttempt(string(a.entry.Kind), outcomeFor(err), elapsed)
	a.span.RecordError(err)
	a.span.SetStatus(codes.Error, s.LastError)
	a.span.End()
	a.span = nil

	e.logger.Warn().Err(err).
		Str(log.FieldEvent, "playback.failed").
		Int(log.FieldSlot, idx).
		Str(log.FieldCamID, a.entry.ID).
		Str(log.FieldKind, string(a.entry.Kind)).
		Int("fail_count", s.FailCount).
		Bool("fallback", a.fallback).
		Msg(s.LastError)

	e.opts.OnChange(idx, ChangeFailed)

	if !a.fallback && len(a.entry.Fallback) > 0 {
		alt := a.entry
		alt.Src = a.entry.Fallback[0]
		alt.Fallback = nil
		metrics.PlaybackFallbacksTotal.WithLabelValues(string(a.entry.Kind)).Inc()
		// the attempt stays current while the retry is pending so that a
		// supersession still reports its outcome
		s.retry = e.opts.Clock.AfterFunc(e.opts.FallbackDelay, func() {
			e.opts.Post(func() {
				cur := e.Slot(idx)
				if cur == nil || cur.token != tok || cur.cur != a {
					return
				}
				cur.retry = nil
				done := a.done
				a.done = nil
				cur.cur = nil
				e.start(cur, alt, a.reason, true, done)
			})
		})
		return
	}

	s.cur = nil
	a.finish(false)
	e.opts.OnFailure(idx)
}

// monitor watches a live handle for fatal errors.
func (e *Engine) monitor(s *Slot, tok uint64, m Monitored) {
	ctx, stop := context.WithCancel(context.Background())
	s.watch = stop
	idx := s.Index
	go func() {
		select {
		case <-ctx.Done():
		case err := <-m.Err():
			e.opts.Post(func() { e.lost(idx, tok, err) })
		}
	}()
}

func (e *Engine) lost(idx int, tok uint64, err error) {
	s := e.Slot(idx)
	if s == nil || s.token != tok {
		return
	}
	if s.watch != nil {
		s.watch()
		s.watch = nil
	}
	if s.handle != nil {
		_ = s.handle.Close()
		s.handle = nil
	}
	s.Alive = false
	s.FailCount++
	s.LastError = "stream lost"
	e.updateAliveGauge()
	e.logger.Warn().Err(err).
		Str(log.FieldEvent, "playback.lost").
		Int(log.FieldSlot, idx).
		Msg("live stream failed")
	e.opts.OnChange(idx, ChangeLost)
	e.opts.OnFailure(idx)
}

// Stop cancels any attempt on slot i and marks it not alive. The assigned
// entry is kept. Calling Stop repeatedly broadcasts every time.
func (e *Engine) Stop(i int, reason string) error {
	s := e.Slot(i)
	if s == nil {
		return fmt.Errorf("%w: %d", ErrSlotOutOfRange, i)
	}
	e.supersede(s)
	s.Alive = false
	e.logger.Debug().Str(log.FieldEvent, "playback.stopped").Int(log.FieldSlot, i).Str(log.FieldReason, reason).Msg("slot stopped")
	e.opts.OnChange(i, ChangeStopped)
	return nil
}

// Close releases every slot without broadcasting.
func (e *Engine) Close() {
	for _, s := range e.slots {
		e.supersede(s)
	}
}

func (e *Engine) resolveLocation(s *Slot, entry catalog.Entry) {
	if s.Location.TZ == entry.TZ && s.Location.City == entry.City {
		return
	}
	s.Location = Location{City: entry.City, TZ: entry.TZ}
	if entry.TZ == "" {
		return
	}
	if loc, ok := e.tzs[entry.TZ]; ok {
		s.Location.loc = loc
		return
	}
	loc, err := time.LoadLocation(entry.TZ)
	if err != nil {
		e.logger.Debug().Err(err).Str("tz", entry.TZ).Msg("unknown timezone")
		loc = nil
	}
	e.tzs[entry.TZ] = loc
	s.Location.loc = loc
}

func (e *Engine) updateAliveGauge() {
	n := 0
	for _, s := range e.slots {
		if s.Alive {
			n++
		}
	}
	metrics.SlotsAlive.Set(float64(n))
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrHealthTimeout):
		return "timeout"
	case errors.Is(err, ErrUnsupportedKind):
		return "unsupported"
	default:
		return "error"
	}
}

func failureNote(kind catalog.Kind, err error) string {
	if errors.Is(err, ErrUnsupportedKind) {
		return "unsupported kind"
	}
	switch kind {
	case catalog.KindYouTube:
		return "youtube did not start"
	case catalog.KindHLS:
		return "hls did not start"
	case catalog.KindImage:
		return "image did not load"
	}
	return "playback failed"
}
