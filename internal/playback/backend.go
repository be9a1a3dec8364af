// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/camroom/internal/catalog"
)

var (
	ErrUnsupportedKind = errors.New("unsupported kind")
	ErrHealthTimeout   = errors.New("health check timed out")
	ErrSuperseded      = errors.New("attempt superseded")
	ErrSlotOutOfRange  = errors.New("slot out of range")
)

// Request is what a backend needs to open one entry.
type Request struct {
	Slot  int
	Entry catalog.Entry
	Muted bool
}

// Handle holds the resources of a live attempt. Close is called exactly
// once when the slot moves on.
type Handle interface {
	Close() error
}

// Monitored is implemented by handles that can fail after playback started.
// A value on Err is a fatal stream error.
type Monitored interface {
	Err() <-chan error
}

type nopHandle struct{}

func (nopHandle) Close() error { return nil }

// Backend opens entries of one kind. Attempt blocks until the health check
// resolves: a nil error means the entry is playing. It must return promptly
// once ctx is done. ctx only covers the health check, so a returned Handle
// must not depend on it.
type Backend interface {
	Attempt(ctx context.Context, req Request) (Handle, error)
}

// Backends is the closed set of backends, one per catalog kind.
type Backends struct {
	Video  Backend
	Stream Backend
	Image  Backend
}

// Policy is the static health-check policy of a kind.
type Policy struct {
	Timeout time.Duration
	backend func(Backends) Backend
}

// Health-check timeouts per kind.
const (
	VideoTimeout  = 12 * time.Second
	StreamTimeout = 12 * time.Second
	ImageTimeout  = 9 * time.Second
)

var policies = map[catalog.Kind]Policy{
	catalog.KindYouTube: {Timeout: VideoTimeout, backend: func(b Backends) Backend { return b.Video }},
	catalog.KindHLS:     {Timeout: StreamTimeout, backend: func(b Backends) Backend { return b.Stream }},
	catalog.KindImage:   {Timeout: ImageTimeout, backend: func(b Backends) Backend { return b.Image }},
}

// PolicyFor returns the policy of kind.
func PolicyFor(kind catalog.Kind) (Policy, bool) {
	p, ok := policies[kind]
	return p, ok
}

// For dispatches on kind.
func (b Backends) For(kind catalog.Kind) (Backend, Policy, error) {
	p, ok := policies[kind]
	if !ok {
		return nil, Policy{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
	be := p.backend(b)
	if be == nil {
		return nil, Policy{}, fmt.Errorf("%w: no backend for %q", ErrUnsupportedKind, kind)
	}
	return be, p, nil
}
