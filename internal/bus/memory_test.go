// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/ManuGH/camroom/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestMemoryChannelPublishTimeoutIncrementsDropMetric(t *testing.T) {
	c := NewMemoryChannel()
	sub, err := c.Subscribe(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	// Fill subscriber channel to capacity so next publish blocks.
	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, c.Publish(context.Background(), []byte("msg")))
	}

	before := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues(c.Name(), "timeout"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = c.Publish(ctx, []byte("blocked"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	after := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues(c.Name(), "timeout"))
	require.Greater(t, after, before)
}

func TestMemoryChannelPublishRejectsNilContext(t *testing.T) {
	c := NewMemoryChannel()
	//nolint:staticcheck // nil context is the case under test
	err := c.Publish(nil, []byte("msg"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "context is nil")
}

func TestMemoryChannelCloseEndsSubscriptions(t *testing.T) {
	c := NewMemoryChannel()
	sub, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	_, ok := <-sub.C()
	require.False(t, ok)
	require.NoError(t, sub.Close())

	_, err = c.Subscribe(context.Background())
	require.Error(t, err)
}

func TestMemoryStoreSkipsUnchangedValues(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := s.Watch(ctx, []string{"k"})
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "k", []byte("a")))
	require.NoError(t, s.Put(ctx, "k", []byte("a")))
	require.NoError(t, s.Put(ctx, "other", []byte("b")))

	require.Len(t, changes, 1)
	c := <-changes
	require.Equal(t, "a", string(c.Value))
}
