// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"strings"

	"github.com/ManuGH/camroom/internal/catalog"
	"github.com/ManuGH/camroom/internal/log"
	"github.com/ManuGH/camroom/internal/prefs"
	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/ManuGH/camroom/internal/rotation"
)

// bootRotation is the rotation configuration applied by mode=rotate.
func (p *Player) bootRotation() rotation.Config {
	return rotation.Config{
		IntervalSec: p.opts.Boot.IntervalSec,
		Kind:        catalog.KindAny,
		Tag:         p.opts.Boot.Tag,
	}
}

// boot applies the boot parameters on top of the saved prefs. A start id,
// layout or mode given at boot wins over the saved value. Mute is sticky:
// the player starts muted when either the boot parameters or the saved
// prefs say so, since an unset boot flag cannot be told apart from false.
func (p *Player) boot(saved prefs.Prefs, hasSaved bool) {
	b := p.opts.Boot

	layout := b.Layout
	if layout <= 0 && hasSaved {
		layout = saved.Layout
	}
	if layout <= 0 {
		layout = 1
	}
	p.engine.Resize(layout)

	p.muted = b.Muted || (hasSaved && saved.Muted)
	if hasSaved {
		p.hud = saved.HUDVisible
		p.lastID = saved.LastID
		if p.engine.Slot(saved.ActiveSlot) != nil {
			p.active = saved.ActiveSlot
		}
	}

	startID := strings.TrimSpace(b.StartID)
	if startID == "" && hasSaved {
		if s, ok := saved.SlotFor(0); ok && s.ID != "" {
			startID = s.ID
		} else {
			startID = saved.LastID
		}
	}

	switch {
	case b.Mode == protocol.ModeRotate:
		cfg := p.bootRotation()
		for i := range p.engine.Len() {
			p.enableRotation(i, cfg)
			if b.Autoplay {
				p.sched.RotateNext(i, rotation.TriggerBoot)
			}
		}
	case b.Autoplay:
		p.autoplay(startID, saved, hasSaved)
	}

	p.logger.Info().
		Str(log.FieldEvent, "player.booted").
		Int("slots", p.engine.Len()).
		Str("mode", b.Mode).
		Bool("autoplay", b.Autoplay).
		Str(log.FieldCamID, startID).
		Int("catalog_entries", p.catalog().Len()).
		Msg("player ready")
	p.broadcast("boot", nil)
	p.armHeartbeat()
	p.ready.Store(true)
}

func (p *Player) autoplay(startID string, saved prefs.Prefs, hasSaved bool) {
	cat := p.catalog()
	if e, ok := cat.ByID(startID); ok {
		p.play(0, e, "boot", nil)
	} else if first := cat.Filter(catalog.KindAny, p.opts.Boot.Tag); len(first) > 0 {
		p.play(0, first[0], "boot", nil)
	}

	if !hasSaved {
		return
	}
	for i := range p.engine.Len() {
		s, ok := saved.SlotFor(i)
		if !ok {
			continue
		}
		if s.Rotate != nil {
			p.enableRotation(i, rotation.Config{
				IntervalSec: s.Rotate.IntervalSec,
				Kind:        catalog.Kind(s.Rotate.Kind),
				Tag:         s.Rotate.Tag,
			})
			if i > 0 {
				p.sched.RotateNext(i, rotation.TriggerBoot)
			}
			continue
		}
		if i == 0 {
			continue
		}
		if e, ok := cat.ByID(s.ID); ok {
			p.engine.Assign(i, e, "restore", nil)
		}
	}
}
