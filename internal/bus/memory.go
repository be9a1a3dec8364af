// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ManuGH/camroom/internal/metrics"
)

const memoryBuffer = 64

var errClosed = errors.New("transport closed")

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

// MemoryChannel is an in-process Channel used when both surfaces share one
// process, and by tests. Publish blocks while a subscriber buffer is full
// until ctx is done.
type MemoryChannel struct {
	mu     sync.RWMutex
	subs   []chan []byte
	closed bool
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{}
}

func (c *MemoryChannel) Name() string { return "memory_channel" }

func (c *MemoryChannel) Publish(ctx context.Context, payload []byte) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return errClosed
	}
	subs := append([]chan []byte(nil), c.subs...)
	c.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		case <-ctx.Done():
			metrics.IncBusDrop(c.Name(), publishDropReason(ctx.Err()))
			return fmt.Errorf("publish: %w", ctx.Err())
		}
	}
	return nil
}

func (c *MemoryChannel) Subscribe(_ context.Context) (Subscription, error) {
	ch := make(chan []byte, memoryBuffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	c.subs = append(c.subs, ch)
	return &memSub{c: c, ch: ch}, nil
}

// Close closes every open subscription.
func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	return nil
}

type memSub struct {
	c    *MemoryChannel
	ch   chan []byte
	once sync.Once
}

func (s *memSub) C() <-chan []byte { return s.ch }

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.c.mu.Lock()
		defer s.c.mu.Unlock()
		out := s.c.subs[:0]
		found := false
		for _, ch := range s.c.subs {
			if ch == s.ch {
				found = true
				continue
			}
			out = append(out, ch)
		}
		s.c.subs = out
		if found {
			close(s.ch)
		}
	})
	return nil
}

// MemoryStore is an in-process Store. Every Put that changes a value is
// reported to the watchers of that key.
type MemoryStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	watchers []*memWatcher
}

type memWatcher struct {
	keys map[string]struct{}
	ch   chan Change
	done <-chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Name() string { return "memory_store" }

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	if prev, ok := s.data[key]; ok && bytes.Equal(prev, value) {
		s.mu.Unlock()
		return nil
	}
	v := append([]byte(nil), value...)
	s.data[key] = v
	watchers := append([]*memWatcher(nil), s.watchers...)
	s.mu.Unlock()

	for _, w := range watchers {
		if _, ok := w.keys[key]; !ok {
			continue
		}
		select {
		case w.ch <- Change{Key: key, Value: v}:
		case <-w.done:
		case <-ctx.Done():
			metrics.IncBusDrop(s.Name(), publishDropReason(ctx.Err()))
			return fmt.Errorf("notify %s: %w", key, ctx.Err())
		}
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Watch registers for changes on keys until ctx is done.
func (s *MemoryStore) Watch(ctx context.Context, keys []string) (<-chan Change, error) {
	w := &memWatcher{
		keys: make(map[string]struct{}, len(keys)),
		ch:   make(chan Change, memoryBuffer),
		done: ctx.Done(),
	}
	for _, k := range keys {
		w.keys[k] = struct{}{}
	}

	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		out := s.watchers[:0]
		for _, x := range s.watchers {
			if x != w {
				out = append(out, x)
			}
		}
		s.watchers = out
		s.mu.Unlock()
	}()
	return w.ch, nil
}

func (s *MemoryStore) Close() error { return nil }

var (
	_ Channel = (*MemoryChannel)(nil)
	_ Store   = (*MemoryStore)(nil)
)
