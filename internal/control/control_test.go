// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/camroom/internal/clock"
	"github.com/ManuGH/camroom/internal/metrics"
	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []protocol.Envelope
}

func (f *fakeTransport) Send(env protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
}

func (f *fakeTransport) Run(ctx context.Context, _ func(protocol.Envelope)) error {
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) last() protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func newClient(t *testing.T, clk *clock.Fake, opts ...func(*Options)) (*Client, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	o := Options{Room: "lab", Transport: tr, Clock: clk}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := New(o)
	require.NoError(t, err)
	return c, tr
}

func stateAt(clk *clock.Fake, ack *protocol.Ack) protocol.Envelope {
	env := protocol.NewState("lab", clk.Now(), protocol.State{LayoutN: 1, Mode: protocol.ModeManual})
	env.State.Ack = ack
	return env
}

func TestSendCommand_BuildsEnvelope(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	c, tr := newClient(t, clk)

	nonce, err := c.SendCommand("play_id", map[string]string{"id": "alps"})
	require.NoError(t, err)

	env := tr.last()
	assert.Equal(t, nonce, env.Nonce)
	assert.Equal(t, protocol.CmdPlayID, env.Cmd)
	assert.Equal(t, protocol.TypeCMD, env.Type)
	assert.Equal(t, protocol.OriginControl, env.From)
	assert.Equal(t, "lab", env.Room)
	assert.JSONEq(t, `{"id":"alps"}`, string(env.Data))
	assert.Equal(t, 1, c.Pending())
}

func TestAck_EmbeddedInState(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	var got []Result
	c, _ := newClient(t, clk, func(o *Options) { o.OnAck = func(r Result) { got = append(got, r) } })

	before := testutil.ToFloat64(metrics.CommandsAckedTotal.WithLabelValues("PING", "true"))
	nonce, err := c.SendCommand(protocol.CmdPing, nil)
	require.NoError(t, err)

	clk.Advance(120 * time.Millisecond)
	c.Handle(stateAt(clk, &protocol.Ack{CmdNonce: nonce, OK: true, Note: "pong"}))

	require.Len(t, got, 1)
	assert.Equal(t, "PING", got[0].Cmd)
	assert.Equal(t, "pong", got[0].Ack.Note)
	assert.Equal(t, 120*time.Millisecond, got[0].Latency)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CommandsAckedTotal.WithLabelValues("PING", "true")))

	// a duplicate via the other transport is ignored
	c.Handle(stateAt(clk, &protocol.Ack{CmdNonce: nonce, OK: true, Note: "pong"}))
	assert.Len(t, got, 1)
}

func TestAck_Standalone(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	c, _ := newClient(t, clk)
	nonce, err := c.SendCommand(protocol.CmdStopAll, nil)
	require.NoError(t, err)

	done := make(chan protocol.Ack, 1)
	go func() {
		a, err := c.Await(context.Background(), nonce)
		assert.NoError(t, err)
		done <- a
	}()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.pending[nonce].waiters) == 1
	}, time.Second, time.Millisecond)

	c.Handle(protocol.Envelope{
		Version: protocol.Version, Room: "lab", TS: clk.Now().UnixMilli(), Nonce: "x",
		From: protocol.OriginPlayer, Type: protocol.TypeACK,
		Ack: &protocol.Ack{CmdNonce: nonce, OK: true, Note: "stopped"},
	})
	a := <-done
	assert.Equal(t, "stopped", a.Note)

	_, ok := c.State()
	assert.False(t, ok, "a standalone ack carries no state")
}

func TestAck_ForeignNonceIgnored(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	c, _ := newClient(t, clk)
	_, err := c.SendCommand(protocol.CmdPing, nil)
	require.NoError(t, err)

	c.Handle(stateAt(clk, &protocol.Ack{CmdNonce: "someone-else", OK: true}))
	assert.Equal(t, 1, c.Pending())
}

func TestPending_ExpiresSilently(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	c, _ := newClient(t, clk)
	before := testutil.ToFloat64(metrics.CommandsExpiredTotal)

	nonce, err := c.SendCommand(protocol.CmdPing, nil)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Await(context.Background(), nonce)
		errc <- err
	}()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.pending[nonce].waiters) == 1
	}, time.Second, time.Millisecond)

	clk.Advance(29 * time.Second)
	assert.Equal(t, 1, c.Pending())
	clk.Advance(time.Second)

	assert.ErrorIs(t, <-errc, ErrExpired)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CommandsExpiredTotal))

	// a late ack changes nothing
	c.Handle(stateAt(clk, &protocol.Ack{CmdNonce: nonce, OK: true}))
	_, err = c.Await(context.Background(), nonce)
	assert.ErrorIs(t, err, ErrUnknownNonce)
}

func TestAwait_ContextCancel(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	c, _ := newClient(t, clk)
	nonce, err := c.SendCommand(protocol.CmdPing, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Await(ctx, nonce)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnected_LiveWindow(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	c, _ := newClient(t, clk)
	assert.False(t, c.Connected())

	c.Handle(stateAt(clk, nil))
	assert.True(t, c.Connected())

	clk.Advance(4400 * time.Millisecond)
	assert.True(t, c.Connected())
	clk.Advance(200 * time.Millisecond)
	assert.False(t, c.Connected())
}

func TestState_KeepsNewest(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	c, _ := newClient(t, clk)

	older := stateAt(clk, nil)
	clk.Advance(time.Second)
	newer := stateAt(clk, nil)
	newer.State.LayoutN = 4

	c.Handle(newer)
	c.Handle(older)
	env, ok := c.State()
	require.True(t, ok)
	assert.Equal(t, 4, env.State.LayoutN)
}

func TestHydrate(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	stored := stateAt(clk, nil)
	stored.State.LayoutN = 6
	c, _ := newClient(t, clk, func(o *Options) {
		o.LastKnown = func(context.Context) (protocol.Envelope, bool) { return stored, true }
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		env, ok := c.State()
		return ok && env.State.LayoutN == 6
	}, time.Second, time.Millisecond)
	assert.True(t, c.Connected())

	cancel()
	assert.NoError(t, <-done)
}

func TestNew_RequiresTransport(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoTransport)
}
