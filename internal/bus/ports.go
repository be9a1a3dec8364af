// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus carries envelopes between surfaces over two parallel
// transports: an ephemeral publish/subscribe Channel and a durable keyed
// Store that doubles as fallback transport and last-known-state cache.
package bus

import (
	"context"
	"errors"

	"github.com/ManuGH/camroom/internal/protocol"
)

// ChannelName is the shared ephemeral channel of every room.
const ChannelName = "camroom_bus"

// ErrNotFound is returned by Store.Get for keys that were never written.
var ErrNotFound = errors.New("key not found")

// Channel is an ephemeral fan-out transport. Messages published while no
// subscriber listens are lost.
type Channel interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context) (Subscription, error)
	Close() error
}

// Subscription delivers raw payloads until closed.
type Subscription interface {
	C() <-chan []byte
	Close() error
}

// Change is a mutation observed on a watched key.
type Change struct {
	Key   string
	Value []byte
}

// Store is a durable last-write-wins key/value transport. Watch reports
// mutations that happen after the call; existing values are not replayed.
type Store interface {
	Name() string
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Watch(ctx context.Context, keys []string) (<-chan Change, error)
	Close() error
}

// Keys are the durable keys of one room.
type Keys struct {
	Cmd   string
	State string
	Ack   string
}

// RoomKeys derives the durable keys of room.
func RoomKeys(room string) Keys {
	room = protocol.NormalizeRoom(room)
	return Keys{
		Cmd:   "camroom_cmd:" + room,
		State: "camroom_state:" + room,
		Ack:   "camroom_ack:" + room,
	}
}

// For returns the keys an envelope is written to. ACK-bearing STATE goes to
// both the state and the ack key.
func (k Keys) For(e protocol.Envelope) []string {
	switch e.Type {
	case protocol.TypeCMD:
		return []string{k.Cmd}
	case protocol.TypeACK:
		return []string{k.Ack}
	case protocol.TypeSTATE:
		if _, ok := e.AckNonce(); ok {
			return []string{k.State, k.Ack}
		}
		return []string{k.State}
	}
	return nil
}
