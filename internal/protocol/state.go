// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

// Mode labels reported in State.Mode.
const (
	ModeManual = "manual"
	ModeRotate = "rotate"
)

// State is the document a player broadcasts on every heartbeat and state
// change.
type State struct {
	App              AppInfo     `json:"app"`
	LayoutN          int         `json:"layoutN"`
	ActiveSlot       int         `json:"activeSlot"`
	Muted            bool        `json:"muted"`
	HUDVisible       bool        `json:"hudVisible"`
	Fullscreen       bool        `json:"fullscreen"`
	Mode             string      `json:"mode"`
	Rotate           RotateState `json:"rotate"`
	Slots            []SlotState `json:"slots"`
	SeenControlAgoMs *int64      `json:"seenControlAgoMs"`
	LastError        string      `json:"lastError"`
	Reason           string      `json:"reason,omitempty"`
	Ack              *Ack        `json:"ack,omitempty"`
}

// AppInfo identifies the player build.
type AppInfo struct {
	Name     string `json:"name"`
	Version  string `json:"ver"`
	Protocol int    `json:"protocol"`
}

// RotateState mirrors a slot's rotation configuration.
type RotateState struct {
	Enabled     bool   `json:"enabled"`
	IntervalSec int    `json:"intervalSec"`
	Kind        string `json:"kind"`
	Tag         string `json:"tag"`
}

// SlotState is the public view of one slot.
type SlotState struct {
	Slot       int         `json:"slot"`
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Kind       string      `json:"kind"`
	Region     string      `json:"region"`
	City       string      `json:"city"`
	TZ         string      `json:"tz"`
	Playing    bool        `json:"playing"`
	FailCount  int         `json:"failCount"`
	LastGoodAt int64       `json:"lastGoodAt"`
	Rotate     RotateState `json:"rotate"`
}
