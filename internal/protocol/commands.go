// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Command names understood by players.
const (
	CmdPing             = "PING"
	CmdReloadCams       = "RELOAD_CAMS"
	CmdLayoutSet        = "LAYOUT_SET"
	CmdSlotSet          = "SLOT_SET"
	CmdPlayID           = "PLAY_ID"
	CmdPlayURL          = "PLAY_URL"
	CmdNext             = "NEXT"
	CmdPrev             = "PREV"
	CmdStopSlot         = "STOP_SLOT"
	CmdStopAll          = "STOP_ALL"
	CmdMuteSet          = "MUTE_SET"
	CmdMuteToggle       = "MUTE_TOGGLE"
	CmdRotateSet        = "ROTATE_SET"
	CmdRotateNow        = "ROTATE_NOW"
	CmdHUDSet           = "HUD_SET"
	CmdHUDToggle        = "HUD_TOGGLE"
	CmdFullscreenSet    = "FULLSCREEN_SET"
	CmdFullscreenToggle = "FULLSCREEN_TOGGLE"

	// Accepted for single-slot controls.
	CmdStop    = "STOP"
	CmdModeSet = "MODE_SET"
)

// NoteUnknownCommand is the ack note for unrecognised command names.
const NoteUnknownCommand = "unknown cmd"

// NormalizeCommand upper-cases and trims a command name.
func NormalizeCommand(cmd string) string {
	return strings.ToUpper(strings.TrimSpace(cmd))
}

// SlotRef is the optional slot selector shared by most commands. A nil Slot
// targets the player's active slot.
type SlotRef struct {
	Slot *int `json:"slot,omitempty"`
}

// LayoutSet is the LAYOUT_SET payload.
type LayoutSet struct {
	N int `json:"n"`
}

// SlotSet is the SLOT_SET payload.
type SlotSet struct {
	Slot int `json:"slot"`
}

// PlayID is the PLAY_ID payload.
type PlayID struct {
	ID   string `json:"id"`
	Slot *int   `json:"slot,omitempty"`
}

// PlayURL is the PLAY_URL payload: either a bare URL whose kind is inferred
// or an explicit kind + src pair.
type PlayURL struct {
	URL   string `json:"url,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Src   string `json:"src,omitempty"`
	Title string `json:"title,omitempty"`
	Slot  *int   `json:"slot,omitempty"`
}

// Toggle is the payload of the *_SET boolean commands. MUTE_SET also accepts
// the older "muted" field.
type Toggle struct {
	Enabled *bool `json:"enabled,omitempty"`
	Muted   *bool `json:"muted,omitempty"`
}

// Value returns the requested flag, preferring "enabled".
func (t Toggle) Value() (bool, bool) {
	if t.Enabled != nil {
		return *t.Enabled, true
	}
	if t.Muted != nil {
		return *t.Muted, true
	}
	return false, false
}

// RotateSet is the ROTATE_SET payload. A nil Slot applies the configuration
// to every slot of the current layout.
type RotateSet struct {
	Enabled     bool   `json:"enabled"`
	IntervalSec int    `json:"intervalSec"`
	Kind        string `json:"kind"`
	Tag         string `json:"tag"`
	RotateNow   bool   `json:"rotateNow,omitempty"`
	Slot        *int   `json:"slot,omitempty"`
}

// ModeSet is the MODE_SET payload.
type ModeSet struct {
	Mode string `json:"mode"`
}

// DecodeData unmarshals a command payload. Empty payloads decode to the zero
// value.
func DecodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
