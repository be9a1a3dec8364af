// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"

	"github.com/ManuGH/camroom/internal/catalog"
	"github.com/ManuGH/camroom/internal/log"
	"github.com/ManuGH/camroom/internal/metrics"
	"github.com/ManuGH/camroom/internal/playback"
	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/ManuGH/camroom/internal/rotation"
	"github.com/ManuGH/camroom/internal/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Ack notes.
const (
	notePong            = "pong"
	noteCatalogReloaded = "catalog reloaded"
	noteCatalogFailed   = "catalog reload failed"
	noteLayoutSet       = "layout set"
	noteSlotSet         = "slot set"
	notePlaying         = "playing"
	noteFailed          = "failed"
	noteNext            = "next"
	notePrev            = "prev"
	noteStopped         = "stopped"
	noteMuteSet         = "mute set"
	noteMuteToggled     = "mute toggled"
	noteRotateEnabled   = "rotate enabled"
	noteRotateDisabled  = "rotate disabled"
	noteRotated         = "rotated"
	noteRotationOff     = "rotation disabled"
	noteEmptyPool       = "no cams match rotation filter"
	noteHUDSet          = "hud set"
	noteHUDToggled      = "hud toggled"
	noteFullscreenSet   = "fullscreen set"
	noteFullscreenTog   = "fullscreen toggled"
	noteModeSet         = "mode set"
	noteUnknownMode     = "unknown mode"
	noteUnknownID       = "unknown id"
	noteBadPayload      = "bad payload"
	noteSlotOutOfRange  = "slot out of range"
	noteBadKind         = "unknown kind"
)

// ackFunc resolves a command exactly once.
type ackFunc func(ok bool, note string)

// handleCommand executes one command. Every command is acked exactly once,
// either synchronously or when its playback attempt resolves.
func (p *Player) handleCommand(env protocol.Envelope) {
	cmd := protocol.NormalizeCommand(env.Cmd)

	_, span := p.tracer.Start(context.Background(), "player.command",
		trace.WithAttributes(telemetry.CommandAttributes(p.room, cmd, env.Nonce)...))

	resolved := false
	ack := func(ok bool, note string) {
		if resolved {
			return
		}
		resolved = true

		span.SetAttributes(telemetry.AckAttributes(ok, note)...)
		if !ok {
			span.SetStatus(codes.Error, note)
		}
		span.End()
		metrics.ObserveCommandHandled(cmd, ok)

		ev := p.logger.Info()
		if !ok {
			ev = p.logger.Warn()
		}
		ev.Str(log.FieldEvent, "player.command").
			Str(log.FieldCmd, cmd).
			Str(log.FieldNonce, env.Nonce).
			Bool(log.FieldAckOK, ok).
			Str(log.FieldAckNote, note).
			Msg("command handled")

		a := protocol.Ack{CmdNonce: env.Nonce, OK: ok, Note: note}
		p.broadcast("cmd:"+cmd, &a)
		if ch, found := p.waiters[env.Nonce]; found {
			delete(p.waiters, env.Nonce)
			ch <- a
		}
	}

	p.dispatch(cmd, env, ack)
}

func (p *Player) dispatch(cmd string, env protocol.Envelope, ack ackFunc) {
	switch cmd {
	case protocol.CmdPing:
		ack(true, notePong)

	case protocol.CmdReloadCams:
		ctx := p.runCtx
		go func() {
			_, err := p.opts.Catalog.Load(ctx)
			p.loop.Post(func() {
				if err != nil {
					ack(false, noteCatalogFailed)
					return
				}
				ack(true, noteCatalogReloaded)
			})
		}()

	case protocol.CmdLayoutSet:
		var d protocol.LayoutSet
		if !p.decode(env, &d, ack) {
			return
		}
		p.setLayout(d.N)
		p.savePrefs()
		ack(true, noteLayoutSet)

	case protocol.CmdSlotSet:
		var d protocol.SlotSet
		if !p.decode(env, &d, ack) {
			return
		}
		if p.engine.Slot(d.Slot) == nil {
			ack(false, noteSlotOutOfRange)
			return
		}
		p.active = d.Slot
		p.savePrefs()
		ack(true, noteSlotSet)

	case protocol.CmdPlayID:
		var d protocol.PlayID
		if !p.decode(env, &d, ack) {
			return
		}
		slot, ok := p.slotArg(d.Slot, ack)
		if !ok {
			return
		}
		e, found := p.catalog().ByID(d.ID)
		if !found {
			ack(false, noteUnknownID)
			return
		}
		p.disableRotation(slot)
		p.play(slot, e, "play_id", deferred(ack, notePlaying, noteFailed))

	case protocol.CmdPlayURL:
		var d protocol.PlayURL
		if !p.decode(env, &d, ack) {
			return
		}
		slot, ok := p.slotArg(d.Slot, ack)
		if !ok {
			return
		}
		e, err := p.entryFromURL(d)
		if err != nil {
			ack(false, err.Error())
			return
		}
		p.disableRotation(slot)
		p.play(slot, e, "play_url", deferred(ack, notePlaying, noteFailed))

	case protocol.CmdNext, protocol.CmdPrev:
		var d protocol.SlotRef
		if !p.decode(env, &d, ack) {
			return
		}
		slot, ok := p.slotArg(d.Slot, ack)
		if !ok {
			return
		}
		step, okNote := 1, noteNext
		if cmd == protocol.CmdPrev {
			step, okNote = -1, notePrev
		}
		e, found := p.step(slot, step)
		if !found {
			ack(false, noteFailed)
			return
		}
		p.play(slot, e, "step", deferred(ack, okNote, noteFailed))

	case protocol.CmdStopSlot:
		var d protocol.SlotRef
		if !p.decode(env, &d, ack) {
			return
		}
		slot, ok := p.slotArg(d.Slot, ack)
		if !ok {
			return
		}
		p.disableRotation(slot)
		_ = p.engine.Stop(slot, "stop_slot")
		ack(true, noteStopped)

	case protocol.CmdStopAll, protocol.CmdStop:
		p.stopAll()
		ack(true, noteStopped)

	case protocol.CmdMuteSet:
		var d protocol.Toggle
		if !p.decode(env, &d, ack) {
			return
		}
		// a missing value unmutes
		p.muted, _ = d.Value()
		p.savePrefs()
		ack(true, noteMuteSet)

	case protocol.CmdMuteToggle:
		p.muted = !p.muted
		p.savePrefs()
		ack(true, noteMuteToggled)

	case protocol.CmdRotateSet:
		p.rotateSet(env, ack)

	case protocol.CmdRotateNow:
		var d protocol.SlotRef
		if !p.decode(env, &d, ack) {
			return
		}
		slot, ok := p.slotArg(d.Slot, ack)
		if !ok {
			return
		}
		if _, on := p.sched.Enabled(slot); !on {
			ack(false, noteRotationOff)
			return
		}
		if !p.sched.RotateNext(slot, rotation.TriggerManual) {
			ack(false, noteEmptyPool)
			return
		}
		ack(true, noteRotated)

	case protocol.CmdHUDSet:
		var d protocol.Toggle
		if !p.decode(env, &d, ack) {
			return
		}
		p.hud, _ = d.Value()
		p.savePrefs()
		ack(true, noteHUDSet)

	case protocol.CmdHUDToggle:
		p.hud = !p.hud
		p.savePrefs()
		ack(true, noteHUDToggled)

	case protocol.CmdFullscreenSet:
		var d protocol.Toggle
		if !p.decode(env, &d, ack) {
			return
		}
		p.fullscreen, _ = d.Value()
		ack(true, noteFullscreenSet)

	case protocol.CmdFullscreenToggle:
		p.fullscreen = !p.fullscreen
		ack(true, noteFullscreenTog)

	case protocol.CmdModeSet:
		var d protocol.ModeSet
		if !p.decode(env, &d, ack) {
			return
		}
		switch d.Mode {
		case protocol.ModeRotate:
			cfg := p.bootRotation()
			for i := range p.engine.Len() {
				p.enableRotation(i, cfg)
				p.sched.RotateNext(i, rotation.TriggerManual)
			}
		case protocol.ModeManual:
			for i := range p.engine.Len() {
				p.disableRotation(i)
			}
		default:
			ack(false, noteUnknownMode)
			return
		}
		p.savePrefs()
		ack(true, noteModeSet)

	default:
		ack(false, protocol.NoteUnknownCommand)
	}
}

// deferred adapts an ack to the engine's done callback.
func deferred(ack ackFunc, okNote, failNote string) func(bool) {
	return func(ok bool) {
		if ok {
			ack(true, okNote)
			return
		}
		ack(false, failNote)
	}
}

func (p *Player) decode(env protocol.Envelope, v any, ack ackFunc) bool {
	if err := protocol.DecodeData(env.Data, v); err != nil {
		p.logger.Debug().Err(err).Str(log.FieldCmd, env.Cmd).Msg("rejecting payload")
		ack(false, noteBadPayload)
		return false
	}
	return true
}

// slotArg resolves an optional slot selector against the active slot.
func (p *Player) slotArg(slot *int, ack ackFunc) (int, bool) {
	i := p.active
	if slot != nil {
		i = *slot
	}
	if p.engine.Slot(i) == nil {
		ack(false, noteSlotOutOfRange)
		return 0, false
	}
	return i, true
}

// step walks the slot's filtered list in catalog order with wraparound.
func (p *Player) step(slot, dir int) (catalog.Entry, bool) {
	kind, tag := catalog.KindAny, p.opts.Boot.Tag
	if s := p.engine.Slot(slot); s != nil && s.Rotation.Enabled {
		kind, tag = s.Rotation.Kind, s.Rotation.Tag
	}
	list := p.catalog().Filter(kind, tag)
	if len(list) == 0 {
		return catalog.Entry{}, false
	}
	cur := -1
	if id := p.currentID(slot); id != "" {
		for i, e := range list {
			if e.ID == id {
				cur = i
				break
			}
		}
	}
	var next int
	switch {
	case cur < 0 && dir > 0:
		next = 0
	case cur < 0:
		next = len(list) - 1
	default:
		next = ((cur+dir)%len(list) + len(list)) % len(list)
	}
	return list[next], true
}

func (p *Player) stopAll() {
	p.sched.DisableAll()
	for i := range p.engine.Len() {
		p.engine.SetRotation(i, playback.Rotation{})
		_ = p.engine.Stop(i, "stop_all")
	}
}

func (p *Player) rotateSet(env protocol.Envelope, ack ackFunc) {
	var d protocol.RotateSet
	if !p.decode(env, &d, ack) {
		return
	}
	kind := catalog.Kind(d.Kind)
	switch kind {
	case "", catalog.KindAny, catalog.KindYouTube, catalog.KindHLS, catalog.KindImage:
	default:
		ack(false, noteBadKind)
		return
	}

	var slots []int
	if d.Slot != nil {
		if p.engine.Slot(*d.Slot) == nil {
			ack(false, noteSlotOutOfRange)
			return
		}
		slots = []int{*d.Slot}
	} else {
		for i := range p.engine.Len() {
			slots = append(slots, i)
		}
	}

	if !d.Enabled {
		for _, i := range slots {
			p.disableRotation(i)
		}
		p.savePrefs()
		ack(true, noteRotateDisabled)
		return
	}

	cfg := rotation.Config{IntervalSec: d.IntervalSec, Kind: kind, Tag: d.Tag}
	for _, i := range slots {
		p.enableRotation(i, cfg)
		if d.RotateNow {
			p.sched.RotateNext(i, rotation.TriggerManual)
		}
	}
	p.savePrefs()
	ack(true, noteRotateEnabled)
}

// setLayout resizes the engine and replays what overlapping slots were
// doing.
func (p *Player) setLayout(n int) {
	n = playback.ClampSlots(n)
	if n == p.engine.Len() {
		return
	}
	type carry struct {
		entry  *catalog.Entry
		rotate *rotation.Config
	}
	keep := make([]carry, min(n, p.engine.Len()))
	for i := range keep {
		s := p.engine.Slot(i)
		keep[i].entry = s.Entry
		if cfg, on := p.sched.Enabled(i); on {
			keep[i].rotate = &cfg
		}
	}

	p.sched.DisableAll()
	p.engine.Resize(n)
	if p.active >= n {
		p.active = 0
	}

	for i, c := range keep {
		if c.rotate != nil {
			p.enableRotation(i, *c.rotate)
		}
		if c.entry != nil {
			p.engine.Assign(i, *c.entry, "layout", nil)
		}
	}
	p.logger.Info().Str(log.FieldEvent, "player.layout").Int("slots", n).Msg("layout changed")
}
