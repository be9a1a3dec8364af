// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package rotation advances slots through the catalog on a timer. Picks are
// uniform random with immediate-repeat avoidance, not round-robin.
package rotation

import (
	"time"

	"github.com/ManuGH/camroom/internal/catalog"
	"github.com/ManuGH/camroom/internal/clock"
	"github.com/ManuGH/camroom/internal/log"
	"github.com/ManuGH/camroom/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Interval bounds in seconds.
const (
	MinInterval     = 5
	MaxInterval     = 3600
	DefaultInterval = 40
)

// FailureDelay is the pause between a final playback failure and the
// automatic skip to another entry.
const FailureDelay = 600 * time.Millisecond

// Triggers label why a slot advanced.
const (
	TriggerTimer   = "timer"
	TriggerFailure = "failure"
	TriggerManual  = "manual"
	TriggerBoot    = "boot"
)

// ReasonEmptyPool is passed to OnDisabled when no entry matches the filter.
const ReasonEmptyPool = "empty pool"

// Config is a slot's rotation configuration.
type Config struct {
	IntervalSec int
	Kind        catalog.Kind
	Tag         string
}

// ClampInterval bounds sec to MinInterval..MaxInterval. Zero or negative
// selects DefaultInterval.
func ClampInterval(sec int) int {
	if sec <= 0 {
		return DefaultInterval
	}
	return min(max(sec, MinInterval), MaxInterval)
}

// Options wires a Scheduler to its surface.
type Options struct {
	Clock clock.Clock
	// Post schedules fn on the surface loop.
	Post func(fn func()) bool
	// Catalog returns the current snapshot.
	Catalog func() *catalog.Catalog
	// Current returns the id of the entry assigned to slot, or "".
	Current func(slot int) string
	// Assign starts playing entry on slot.
	Assign func(slot int, entry catalog.Entry, reason string)
	// OnDisabled reports rotation switched off without being asked to.
	OnDisabled func(slot int, reason string)
	Picker     *Picker
	// FailureDelay defaults to FailureDelay.
	FailureDelay time.Duration
	// Skips throttles failure-triggered advances. Defaults to one every two
	// seconds with a burst of three.
	Skips *rate.Limiter
}

type slotState struct {
	cfg   Config
	gen   uint64
	timer clock.Timer
	skip  clock.Timer
}

// Scheduler keeps one single-shot timer per rotating slot. Its methods
// must be called from the surface loop.
type Scheduler struct {
	opts   Options
	slots  map[int]*slotState
	gen    uint64
	logger zerolog.Logger
}

// NewScheduler creates a scheduler with no rotating slots.
func NewScheduler(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Picker == nil {
		opts.Picker = NewPicker(nil)
	}
	if opts.FailureDelay <= 0 {
		opts.FailureDelay = FailureDelay
	}
	if opts.Skips == nil {
		opts.Skips = rate.NewLimiter(rate.Every(2*time.Second), 3)
	}
	if opts.Current == nil {
		opts.Current = func(int) string { return "" }
	}
	if opts.OnDisabled == nil {
		opts.OnDisabled = func(int, string) {}
	}
	return &Scheduler{
		opts:   opts,
		slots:  make(map[int]*slotState),
		logger: log.WithComponent("rotation"),
	}
}

// Enable stores cfg for slot and (re)arms its timer.
func (s *Scheduler) Enable(slot int, cfg Config) Config {
	cfg.IntervalSec = ClampInterval(cfg.IntervalSec)
	if cfg.Kind == "" {
		cfg.Kind = catalog.KindAny
	}
	st := s.slots[slot]
	if st == nil {
		st = &slotState{}
		s.slots[slot] = st
	}
	st.cfg = cfg
	s.arm(slot, st)
	s.logger.Debug().
		Str(log.FieldEvent, "rotation.enabled").
		Int(log.FieldSlot, slot).
		Int("interval_sec", cfg.IntervalSec).
		Str(log.FieldKind, string(cfg.Kind)).
		Str("tag", cfg.Tag).
		Msg("rotation enabled")
	return cfg
}

// Disable cancels the slot's timers. Idempotent.
func (s *Scheduler) Disable(slot int) {
	st := s.slots[slot]
	if st == nil {
		return
	}
	s.stopTimers(st)
	delete(s.slots, slot)
}

// DisableAll turns rotation off for every slot.
func (s *Scheduler) DisableAll() {
	for slot := range s.slots {
		s.Disable(slot)
	}
}

// Enabled returns the slot's configuration when it rotates.
func (s *Scheduler) Enabled(slot int) (Config, bool) {
	st := s.slots[slot]
	if st == nil {
		return Config{}, false
	}
	return st.cfg, true
}

// Rotating returns the rotating slot indexes count.
func (s *Scheduler) Rotating() int { return len(s.slots) }

// RotateNext assigns a fresh random entry to slot and rearms its timer. It
// reports false when the slot does not rotate or the pool is empty; an
// empty pool also disables rotation for the slot.
func (s *Scheduler) RotateNext(slot int, trigger string) bool {
	st := s.slots[slot]
	if st == nil {
		return false
	}
	pool := s.opts.Catalog().Filter(st.cfg.Kind, st.cfg.Tag)
	entry, ok := s.opts.Picker.Pick(pool, s.opts.Current(slot))
	if !ok {
		s.Disable(slot)
		metrics.RotationDisabledTotal.WithLabelValues(ReasonEmptyPool).Inc()
		s.logger.Warn().
			Str(log.FieldEvent, "rotation.empty_pool").
			Int(log.FieldSlot, slot).
			Str(log.FieldKind, string(st.cfg.Kind)).
			Str("tag", st.cfg.Tag).
			Msg("no entry matches the rotation filter, rotation disabled")
		s.opts.OnDisabled(slot, ReasonEmptyPool)
		return false
	}

	metrics.RotationsTotal.WithLabelValues(trigger).Inc()
	s.logger.Debug().
		Str(log.FieldEvent, "rotation.advance").
		Int(log.FieldSlot, slot).
		Str(log.FieldCamID, entry.ID).
		Str(log.FieldTrigger, trigger).
		Msg("rotating")
	s.opts.Assign(slot, entry, "rotate")

	// Assign may have changed rotation for the slot
	if cur := s.slots[slot]; cur == st {
		s.arm(slot, st)
	}
	return true
}

// Fail schedules a throttled skip after a slot failed for good.
func (s *Scheduler) Fail(slot int) {
	st := s.slots[slot]
	if st == nil {
		return
	}
	if !s.opts.Skips.AllowN(s.opts.Clock.Now(), 1) {
		s.logger.Warn().
			Str(log.FieldEvent, "rotation.skip_throttled").
			Int(log.FieldSlot, slot).
			Msg("too many failures, waiting for the regular interval")
		return
	}
	if st.skip != nil {
		st.skip.Stop()
	}
	gen := st.gen
	st.skip = s.opts.Clock.AfterFunc(s.opts.FailureDelay, func() {
		s.opts.Post(func() {
			if cur := s.slots[slot]; cur == st && cur.gen == gen {
				st.skip = nil
				s.RotateNext(slot, TriggerFailure)
			}
		})
	})
}

// Close stops every timer.
func (s *Scheduler) Close() { s.DisableAll() }

func (s *Scheduler) arm(slot int, st *slotState) {
	s.stopTimers(st)
	s.gen++
	st.gen = s.gen
	gen := st.gen
	d := time.Duration(st.cfg.IntervalSec) * time.Second
	st.timer = s.opts.Clock.AfterFunc(d, func() {
		s.opts.Post(func() {
			if cur := s.slots[slot]; cur == st && cur.gen == gen {
				st.timer = nil
				s.RotateNext(slot, TriggerTimer)
			}
		})
	})
}

func (s *Scheduler) stopTimers(st *slotState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if st.skip != nil {
		st.skip.Stop()
		st.skip = nil
	}
}
