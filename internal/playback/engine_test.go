// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/ManuGH/camroom/internal/catalog"
	"github.com/ManuGH/camroom/internal/clock"
	"github.com/ManuGH/camroom/internal/loop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend runs fn for every attempt and records the requests.
type stubBackend struct {
	mu    sync.Mutex
	calls []Request
	fn    func(ctx context.Context, req Request) (Handle, error)
}

func (b *stubBackend) Attempt(ctx context.Context, req Request) (Handle, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	b.mu.Unlock()
	return b.fn(ctx, req)
}

func (b *stubBackend) srcs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, c.Entry.Src)
	}
	return out
}

func succeed(context.Context, Request) (Handle, error) { return nopHandle{}, nil }

func fail(context.Context, Request) (Handle, error) { return nil, errors.New("broken") }

// blockUntilCancelled behaves like a source that never becomes healthy.
func blockUntilCancelled(ctx context.Context, _ Request) (Handle, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type closeCounter struct{ n atomic.Int32 }

func (c *closeCounter) Close() error {
	c.n.Add(1)
	return nil
}

type change struct {
	slot   int
	reason string
}

type harness struct {
	t        *testing.T
	loop     *loop.Loop
	clk      *clock.Fake
	eng      *Engine
	changes  []change
	failures []int
}

func newHarness(t *testing.T, b Backends, n int) *harness {
	t.Helper()
	h := &harness{t: t, loop: loop.New(), clk: clock.NewFake(time.Unix(1_700_000_000, 0))}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.loop.Run(ctx) }()

	h.eng = NewEngine(Options{
		Backends:  b,
		Clock:     h.clk,
		Post:      h.loop.Post,
		OnChange:  func(slot int, reason string) { h.changes = append(h.changes, change{slot, reason}) },
		OnFailure: func(slot int) { h.failures = append(h.failures, slot) },
	}, n)

	t.Cleanup(func() {
		_ = h.loop.Do(context.Background(), h.eng.Close)
		cancel()
		<-h.loop.Done()
	})
	return h
}

func (h *harness) do(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Do(context.Background(), fn))
}

func (h *harness) slot(i int) Slot {
	var s Slot
	h.do(func() { s = *h.eng.Slot(i) })
	return s
}

func (h *harness) eventually(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		var ok bool
		h.do(func() { ok = cond() })
		return ok
	}, 2*time.Second, 5*time.Millisecond, msg)
}

func (h *harness) reasons() []string {
	var out []string
	h.do(func() {
		for _, c := range h.changes {
			out = append(out, c.reason)
		}
	})
	return out
}

type doneRecorder struct {
	mu  sync.Mutex
	got []bool
}

func (d *doneRecorder) fn(ok bool) {
	d.mu.Lock()
	d.got = append(d.got, ok)
	d.mu.Unlock()
}

func (d *doneRecorder) calls() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.got...)
}

func imageEntry(id string, fallback ...string) catalog.Entry {
	return catalog.Entry{ID: id, Title: id, Kind: catalog.KindImage, Src: "https://img.test/" + id + ".jpg", Fallback: fallback}
}

func TestEngine_AssignGoesLive(t *testing.T) {
	img := &stubBackend{fn: succeed}
	h := newHarness(t, Backends{Image: img}, 1)

	var done doneRecorder
	h.do(func() { h.eng.Assign(0, imageEntry("a"), "test", done.fn) })
	h.eventually(func() bool { return h.eng.Slot(0).Alive }, "slot goes live")

	s := h.slot(0)
	assert.Equal(t, "a", s.Entry.ID)
	assert.Zero(t, s.FailCount)
	assert.False(t, s.LastGoodAt.IsZero())
	assert.Equal(t, []bool{true}, done.calls())
	assert.Equal(t, []string{ChangeStarted}, h.reasons())
}

func TestEngine_StaleAttemptIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	stale := &closeCounter{}
	img := &stubBackend{fn: func(ctx context.Context, req Request) (Handle, error) {
		if req.Entry.ID == "camA" {
			<-release
			return stale, nil
		}
		return nopHandle{}, nil
	}}
	h := newHarness(t, Backends{Image: img}, 1)

	var doneA, doneB doneRecorder
	h.do(func() { h.eng.Assign(0, imageEntry("camA"), "test", doneA.fn) })
	h.do(func() { h.eng.Assign(0, imageEntry("camB"), "test", doneB.fn) })
	h.eventually(func() bool { return h.eng.Slot(0).Alive }, "camB goes live")

	close(release)
	require.Eventually(t, func() bool { return stale.n.Load() == 1 }, 2*time.Second, 5*time.Millisecond,
		"late handle of the superseded attempt is closed")

	s := h.slot(0)
	assert.Equal(t, "camB", s.Entry.ID)
	assert.True(t, s.Alive)
	assert.Equal(t, []bool{false}, doneA.calls())
	assert.Equal(t, []bool{true}, doneB.calls())
	assert.Equal(t, []string{ChangeStarted}, h.reasons(), "stale success never broadcasts")
}

func TestEngine_FallbackTriedExactlyOnce(t *testing.T) {
	img := &stubBackend{fn: fail}
	h := newHarness(t, Backends{Image: img}, 1)

	var done doneRecorder
	h.do(func() { h.eng.Assign(0, imageEntry("a", "https://alt.test/a.jpg", "https://alt.test/b.jpg"), "test", done.fn) })
	h.eventually(func() bool { return h.eng.Slot(0).FailCount == 1 }, "primary fails")
	assert.Empty(t, done.calls(), "outcome waits for the fallback")

	h.clk.Advance(FallbackDelay)
	h.eventually(func() bool { return len(h.failures) == 1 }, "fallback fails for good")

	assert.Equal(t, []string{"https://img.test/a.jpg", "https://alt.test/a.jpg"}, img.srcs())
	s := h.slot(0)
	assert.Equal(t, 2, s.FailCount)
	assert.Equal(t, "image did not load", s.LastError)
	assert.Equal(t, []bool{false}, done.calls())

	h.clk.Advance(time.Minute)
	h.do(func() {})
	assert.Len(t, img.srcs(), 2, "no further retries")
}

func TestEngine_HealthTimeout(t *testing.T) {
	img := &stubBackend{fn: blockUntilCancelled}
	h := newHarness(t, Backends{Image: img}, 1)

	h.do(func() { h.eng.Assign(0, imageEntry("slow"), "test", nil) })
	h.clk.Advance(ImageTimeout - time.Millisecond)
	h.do(func() {})
	assert.Zero(t, h.slot(0).FailCount)

	h.clk.Advance(time.Millisecond)
	h.eventually(func() bool { return len(h.failures) == 1 }, "timeout fails the attempt")
	assert.False(t, h.slot(0).Alive)
	assert.Equal(t, 1, h.slot(0).FailCount)
}

func TestEngine_StopIsIdempotentAndKeepsEntry(t *testing.T) {
	h := newHarness(t, Backends{Image: &stubBackend{fn: succeed}}, 1)
	h.do(func() { h.eng.Assign(0, imageEntry("a"), "test", nil) })
	h.eventually(func() bool { return h.eng.Slot(0).Alive }, "live")

	h.do(func() {
		require.NoError(t, h.eng.Stop(0, "test"))
		require.NoError(t, h.eng.Stop(0, "test"))
	})

	s := h.slot(0)
	assert.False(t, s.Alive)
	require.NotNil(t, s.Entry)
	assert.Equal(t, "a", s.Entry.ID)
	assert.Equal(t, []string{ChangeStarted, ChangeStopped, ChangeStopped}, h.reasons())

	h.do(func() { assert.ErrorIs(t, h.eng.Stop(5, "test"), ErrSlotOutOfRange) })
}

func TestEngine_DoneFiresOnceOnSupersession(t *testing.T) {
	release := make(chan struct{})
	img := &stubBackend{fn: func(ctx context.Context, _ Request) (Handle, error) {
		<-release
		return nopHandle{}, nil
	}}
	h := newHarness(t, Backends{Image: img}, 1)

	var done doneRecorder
	h.do(func() { h.eng.Assign(0, imageEntry("a"), "test", done.fn) })
	h.do(func() { require.NoError(t, h.eng.Stop(0, "test")) })
	assert.Equal(t, []bool{false}, done.calls())

	close(release)
	h.do(func() {})
	h.do(func() {})
	assert.Equal(t, []bool{false}, done.calls())
	assert.False(t, h.slot(0).Alive)
}

func TestEngine_UnsupportedKind(t *testing.T) {
	h := newHarness(t, Backends{Image: &stubBackend{fn: succeed}}, 1)

	var done doneRecorder
	entry := catalog.Entry{ID: "v", Kind: "vimeo", Src: "123"}
	h.do(func() { h.eng.Assign(0, entry, "test", done.fn) })
	h.eventually(func() bool { return len(h.failures) == 1 }, "unsupported kind fails")

	s := h.slot(0)
	assert.Equal(t, "unsupported kind", s.LastError)
	assert.Equal(t, 1, s.FailCount)
	assert.Equal(t, []bool{false}, done.calls())
}

func TestEngine_AssignResetsFailCount(t *testing.T) {
	var healthy atomic.Bool
	img := &stubBackend{fn: func(ctx context.Context, req Request) (Handle, error) {
		if healthy.Load() {
			return nopHandle{}, nil
		}
		return nil, errors.New("down")
	}}
	h := newHarness(t, Backends{Image: img}, 1)

	h.do(func() { h.eng.Assign(0, imageEntry("a"), "test", nil) })
	h.eventually(func() bool { return h.eng.Slot(0).FailCount == 1 }, "first failure")

	h.do(func() { h.eng.Assign(0, imageEntry("a"), "test", nil) })
	h.eventually(func() bool { return len(h.failures) == 2 }, "second failure")
	assert.Equal(t, 1, h.slot(0).FailCount, "a new assignment starts counting again")

	healthy.Store(true)
	h.do(func() { h.eng.Assign(0, imageEntry("a"), "test", nil) })
	h.eventually(func() bool { return h.eng.Slot(0).Alive }, "live")
	assert.Zero(t, h.slot(0).FailCount)
}

type monitoredHandle struct {
	closeCounter
	errc chan error
}

func (m *monitoredHandle) Err() <-chan error { return m.errc }

func TestEngine_MonitoredStreamLost(t *testing.T) {
	mh := &monitoredHandle{errc: make(chan error, 1)}
	stream := &stubBackend{fn: func(context.Context, Request) (Handle, error) { return mh, nil }}
	h := newHarness(t, Backends{Stream: stream}, 1)

	entry := catalog.Entry{ID: "s", Kind: catalog.KindHLS, Src: "https://hls.test/s.m3u8"}
	h.do(func() { h.eng.Assign(0, entry, "test", nil) })
	h.eventually(func() bool { return h.eng.Slot(0).Alive }, "live")

	mh.errc <- ErrStreamStalled
	h.eventually(func() bool { return len(h.failures) == 1 }, "loss reported")

	s := h.slot(0)
	assert.False(t, s.Alive)
	assert.Equal(t, "stream lost", s.LastError)
	assert.Equal(t, int32(1), mh.n.Load())
	assert.Equal(t, []string{ChangeStarted, ChangeLost}, h.reasons())
}

func TestEngine_ResizeRecreatesSlots(t *testing.T) {
	h := newHarness(t, Backends{Image: &stubBackend{fn: succeed}}, 2)
	h.do(func() { h.eng.Assign(1, imageEntry("a"), "test", nil) })
	h.eventually(func() bool { return h.eng.Slot(1).Alive }, "live")

	h.do(func() { h.eng.Resize(4) })
	h.do(func() {
		assert.Equal(t, 4, h.eng.Len())
		for i := range 4 {
			assert.Nil(t, h.eng.Slot(i).Entry)
			assert.False(t, h.eng.Slot(i).Alive)
		}
		assert.Nil(t, h.eng.Slot(4))
	})

	var done doneRecorder
	h.do(func() { h.eng.Assign(7, imageEntry("x"), "test", done.fn) })
	assert.Equal(t, []bool{false}, done.calls())
}

func TestClampSlots(t *testing.T) {
	assert.Equal(t, MinSlots, ClampSlots(0))
	assert.Equal(t, 4, ClampSlots(4))
	assert.Equal(t, MaxSlots, ClampSlots(99))
}

func TestLocation(t *testing.T) {
	h := newHarness(t, Backends{Image: &stubBackend{fn: succeed}}, 1)
	e := imageEntry("a")
	e.City, e.TZ = "Zermatt", "Europe/Zurich"
	h.do(func() { h.eng.Assign(0, e, "test", nil) })

	loc := h.slot(0).Location
	assert.Equal(t, "Zermatt", loc.City)
	local, ok := loc.In(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 13, local.Hour())

	e.TZ = "Not/AZone"
	h.do(func() { h.eng.Assign(0, e, "test", nil) })
	_, ok = h.slot(0).Location.In(time.Now())
	assert.False(t, ok)
}
