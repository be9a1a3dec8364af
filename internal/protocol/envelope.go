// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package protocol defines the wire envelope exchanged between control and
// player surfaces, the nonce dedup cache, command names with their payloads,
// and the state document broadcast by players.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the protocol version carried in every envelope.
const Version = 1

// DefaultRoom is used when no room key is supplied.
const DefaultRoom = "main"

// Origin identifies the surface that created an envelope.
type Origin string

const (
	OriginControl Origin = "control"
	OriginPlayer  Origin = "player"
)

// Type is the envelope kind.
type Type string

const (
	TypeCMD   Type = "CMD"
	TypeSTATE Type = "STATE"
	TypeACK   Type = "ACK"
)

var (
	ErrMalformed      = errors.New("malformed envelope")
	ErrForeignVersion = errors.New("foreign protocol version")
	ErrForeignRoom    = errors.New("foreign room")
	ErrUnexpected     = errors.New("unexpected envelope type or origin")
)

// Envelope is the immutable message unit. Field names on the wire are the
// short ones used by deployed surfaces.
type Envelope struct {
	Version int             `json:"v"`
	Room    string          `json:"key"`
	TS      int64           `json:"ts"`
	Nonce   string          `json:"nonce"`
	From    Origin          `json:"from"`
	Type    Type            `json:"type"`
	Cmd     string          `json:"cmd,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	State   *State          `json:"state,omitempty"`
	Ack     *Ack            `json:"ack,omitempty"`
}

// Ack correlates a player response with the command nonce it answers.
type Ack struct {
	CmdNonce string `json:"cmdNonce"`
	OK       bool   `json:"ok"`
	Note     string `json:"note"`
}

// NewNonce returns a random message identifier.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NormalizeRoom trims the room key and applies the default.
func NormalizeRoom(room string) string {
	room = strings.TrimSpace(room)
	if room == "" {
		return DefaultRoom
	}
	return room
}

// NewCommand builds a CMD envelope. data may be nil.
func NewCommand(room string, now time.Time, cmd string, data any) (Envelope, error) {
	env := Envelope{
		Version: Version,
		Room:    NormalizeRoom(room),
		TS:      now.UnixMilli(),
		Nonce:   NewNonce(),
		From:    OriginControl,
		Type:    TypeCMD,
		Cmd:     NormalizeCommand(cmd),
	}
	if data == nil {
		env.Data = json.RawMessage(`{}`)
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", env.Cmd, err)
	}
	env.Data = raw
	return env, nil
}

// NewState builds a STATE envelope from the player.
func NewState(room string, now time.Time, st State) Envelope {
	return Envelope{
		Version: Version,
		Room:    NormalizeRoom(room),
		TS:      now.UnixMilli(),
		Nonce:   NewNonce(),
		From:    OriginPlayer,
		Type:    TypeSTATE,
		State:   &st,
	}
}

// AckNonce returns the command nonce acknowledged by this envelope, whether
// it is a standalone ACK or a STATE carrying an embedded ack.
func (e Envelope) AckNonce() (*Ack, bool) {
	switch {
	case e.Type == TypeACK && e.Ack != nil && e.Ack.CmdNonce != "":
		return e.Ack, true
	case e.Type == TypeSTATE && e.State != nil && e.State.Ack != nil && e.State.Ack.CmdNonce != "":
		return e.State.Ack, true
	}
	return nil, false
}

// Time returns the envelope timestamp.
func (e Envelope) Time() time.Time { return time.UnixMilli(e.TS) }

// Filter describes what a receiving surface accepts.
type Filter struct {
	Room  string
	From  Origin
	Types []Type
}

// Accept checks an envelope against the filter. A non-nil error is a
// protocol fault: the envelope must be dropped without running handlers.
func (f Filter) Accept(e Envelope) error {
	if e.Nonce == "" || e.TS <= 0 {
		return ErrMalformed
	}
	if e.Version != Version {
		return ErrForeignVersion
	}
	if e.Room != f.Room {
		return ErrForeignRoom
	}
	if e.From != f.From {
		return ErrUnexpected
	}
	for _, t := range f.Types {
		if e.Type == t {
			return nil
		}
	}
	return ErrUnexpected
}

// Decode parses raw bytes into an envelope.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if len(raw) == 0 {
		return e, ErrMalformed
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e, nil
}
