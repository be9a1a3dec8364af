// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package prefs persists what a player should come back to after a restart:
// the layout, the mute flag and the last assignment of every slot.
package prefs

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Rotate is a slot's persisted rotation configuration.
type Rotate struct {
	IntervalSec int    `json:"intervalSec"`
	Kind        string `json:"kind"`
	Tag         string `json:"tag"`
}

// Slot is the last assignment of one slot.
type Slot struct {
	Slot   int     `json:"slot"`
	ID     string  `json:"id,omitempty"`
	Rotate *Rotate `json:"rotate,omitempty"`
}

// Prefs is the persisted state of one room's player.
type Prefs struct {
	Layout     int       `json:"layout"`
	ActiveSlot int       `json:"activeSlot"`
	Muted      bool      `json:"muted"`
	HUDVisible bool      `json:"hudVisible"`
	LastID     string    `json:"lastId,omitempty"`
	Slots      []Slot    `json:"slots,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SlotFor returns the saved slot i.
func (p Prefs) SlotFor(i int) (Slot, bool) {
	for _, s := range p.Slots {
		if s.Slot == i {
			return s, true
		}
	}
	return Slot{}, false
}

func (p Prefs) clone() Prefs {
	p.Slots = slices.Clone(p.Slots)
	for i, s := range p.Slots {
		if s.Rotate != nil {
			r := *s.Rotate
			p.Slots[i].Rotate = &r
		}
	}
	return p
}

// Store is the persisted-state port. Load reports false when nothing was
// saved for room yet.
type Store interface {
	Load(ctx context.Context, room string) (Prefs, bool, error)
	Save(ctx context.Context, room string, p Prefs) error
	Close() error
}

// Open selects a backend: "badger" (dir required, empty dir keeps data in
// memory) or "memory".
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", "badger":
		return OpenBadgerStore(dir)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown prefs backend: %s (supported: badger, memory)", backend)
	}
}

// MemoryStore keeps prefs in a map.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Prefs
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Prefs)}
}

func (s *MemoryStore) Load(_ context.Context, room string) (Prefs, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data[room]
	return p.clone(), ok, nil
}

func (s *MemoryStore) Save(_ context.Context, room string, p Prefs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[room] = p.clone()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
