// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"
	"time"

	"github.com/ManuGH/camroom/internal/log"
	"github.com/ManuGH/camroom/internal/playback"
	"github.com/ManuGH/camroom/internal/prefs"
	"github.com/ManuGH/camroom/internal/protocol"
)

const prefsSaveTimeout = 2 * time.Second

func (p *Player) snapshot(reason string, ack *protocol.Ack) protocol.State {
	st := protocol.State{
		App: protocol.AppInfo{
			Name:     AppName,
			Version:  p.opts.Version,
			Protocol: protocol.Version,
		},
		LayoutN:    p.engine.Len(),
		ActiveSlot: p.active,
		Muted:      p.muted,
		HUDVisible: p.hud,
		Fullscreen: p.fullscreen,
		Mode:       protocol.ModeManual,
		Slots:      make([]protocol.SlotState, 0, p.engine.Len()),
		LastError:  p.lastError,
		Reason:     reason,
		Ack:        ack,
	}
	if p.sched.Rotating() > 0 {
		st.Mode = protocol.ModeRotate
	}
	if !p.seenControl.IsZero() {
		ago := p.clock.Now().Sub(p.seenControl).Milliseconds()
		st.SeenControlAgoMs = &ago
	}

	for i := range p.engine.Len() {
		s := p.engine.Slot(i)
		ss := protocol.SlotState{
			Slot:      i,
			Playing:   s.Alive,
			FailCount: s.FailCount,
			Rotate:    rotateState(s.Rotation),
		}
		if s.Entry != nil {
			ss.ID = s.Entry.ID
			ss.Title = s.Entry.Title
			ss.Kind = string(s.Entry.Kind)
			ss.Region = s.Entry.Region
			ss.City = s.Entry.City
			ss.TZ = s.Entry.TZ
		}
		if !s.LastGoodAt.IsZero() {
			ss.LastGoodAt = s.LastGoodAt.UnixMilli()
		}
		if i == p.active {
			st.Rotate = ss.Rotate
		}
		st.Slots = append(st.Slots, ss)
	}
	return st
}

func rotateState(r playback.Rotation) protocol.RotateState {
	return protocol.RotateState{
		Enabled:     r.Enabled,
		IntervalSec: r.IntervalSec,
		Kind:        string(r.Kind),
		Tag:         r.Tag,
	}
}

// currentPrefs captures what is restored on the next boot.
func (p *Player) currentPrefs() prefs.Prefs {
	out := prefs.Prefs{
		Layout:     p.engine.Len(),
		ActiveSlot: p.active,
		Muted:      p.muted,
		HUDVisible: p.hud,
		LastID:     p.lastID,
		UpdatedAt:  p.clock.Now().UTC(),
	}
	for i := range p.engine.Len() {
		s := p.engine.Slot(i)
		ps := prefs.Slot{Slot: i}
		if s.Entry != nil {
			ps.ID = s.Entry.ID
		}
		if cfg, on := p.sched.Enabled(i); on {
			ps.Rotate = &prefs.Rotate{IntervalSec: cfg.IntervalSec, Kind: string(cfg.Kind), Tag: cfg.Tag}
		}
		if ps.ID != "" || ps.Rotate != nil {
			out.Slots = append(out.Slots, ps)
		}
	}
	return out
}

// savePrefs queues the current prefs for the writer, replacing any write
// that has not started yet.
func (p *Player) savePrefs() {
	snap := p.currentPrefs()
	for {
		select {
		case p.saveq <- snap:
			return
		default:
		}
		select {
		case <-p.saveq:
		default:
		}
	}
}

func (p *Player) saveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-p.saveq:
			sctx, cancel := context.WithTimeout(ctx, prefsSaveTimeout)
			if err := p.opts.Prefs.Save(sctx, p.room, snap); err != nil {
				p.logger.Warn().Err(err).Str(log.FieldEvent, "player.prefs_save_failed").Msg("save prefs")
			}
			cancel()
		}
	}
}
