// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/camroom/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PutGet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Get(ctx, "camroom_cmd:main")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "camroom_cmd:main", []byte("one")))
	require.NoError(t, s.Put(ctx, "camroom_cmd:main", []byte("two")))
	got, err := s.Get(ctx, "camroom_cmd:main")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	_, err = os.Stat(filepath.Join(dir, "camroom_cmd@main.json"))
	assert.NoError(t, err)
}

func TestFileStore_WatchReportsWatchedKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := s.Watch(ctx, []string{"camroom_state:main"})
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "camroom_state:other", []byte("ignored")))
	require.NoError(t, s.Put(ctx, "camroom_state:main", []byte("hello")))

	select {
	case c := <-changes:
		assert.Equal(t, "camroom_state:main", c.Key)
		assert.Equal(t, "hello", string(c.Value))
	case <-time.After(2 * time.Second):
		t.Fatal("change not observed")
	}
}

func TestBus_OverFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	player := New(PlayerOptions("main", nil, s))
	control := New(ControlOptions("main", nil, s))

	got := &recorder{}
	runBus(t, control, got.handle)
	runBus(t, player, func(protocol.Envelope) {})
	time.Sleep(100 * time.Millisecond)

	player.Send(protocol.NewState("main", time.Now(), protocol.State{LayoutN: 4}))
	require.Eventually(t, func() bool { return got.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, got.last().State.LayoutN)
}
