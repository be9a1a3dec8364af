// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"sync"
	"time"
)

const (
	// DedupWindow is how long a nonce counts as seen.
	DedupWindow = 30 * time.Second
	// DedupMaxEntries triggers an opportunistic prune when exceeded.
	DedupMaxEntries = 300
	// DedupPruneAge evicts entries received longer ago than this during a
	// prune.
	DedupPruneAge = 60 * time.Second
)

// Dedup is the bounded-time seen set keyed by nonce. Both transports may
// deliver the same envelope; only the first sighting within the window is
// processed.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]sighting
	now  func() time.Time
}

// sighting keeps the sender timestamp for the window check and the local
// receive time for pruning; peers on other hosts may have skewed clocks.
type sighting struct {
	ts     int64
	seenAt int64
}

// NewDedup creates a cache. now defaults to time.Now.
func NewDedup(now func() time.Time) *Dedup {
	if now == nil {
		now = time.Now
	}
	return &Dedup{seen: make(map[string]sighting), now: now}
}

// IsDuplicate reports whether nonce was seen within the window relative to
// ts, and registers it as seen otherwise.
func (d *Dedup) IsDuplicate(nonce string, ts int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.seen[nonce]; ok {
		delta := ts - prev.ts
		if delta < 0 {
			delta = -delta
		}
		if delta < DedupWindow.Milliseconds() {
			return true
		}
	}
	d.seen[nonce] = sighting{ts: ts, seenAt: d.now().UnixMilli()}
	if len(d.seen) > DedupMaxEntries {
		d.pruneLocked()
	}
	return false
}

// Prune evicts entries received longer ago than DedupPruneAge.
func (d *Dedup) Prune() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked()
}

func (d *Dedup) pruneLocked() {
	cut := d.now().Add(-DedupPruneAge).UnixMilli()
	for k, v := range d.seen {
		if v.seenAt < cut {
			delete(d.seen, k)
		}
	}
}

// Len returns the number of tracked nonces.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
