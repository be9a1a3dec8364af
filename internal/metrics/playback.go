// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlaybackAttemptsTotal counts resolved slot attempts. Superseded attempts
	// are counted with outcome "superseded".
	PlaybackAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camroom_playback_attempts_total",
		Help: "Slot playback attempts by backend kind and outcome",
	}, []string{"kind", "outcome"})

	PlaybackAttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camroom_playback_attempt_duration_seconds",
		Help:    "Time from assign to health-check verdict",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3.5, 5, 8, 12, 15},
	}, []string{"kind"})

	PlaybackFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camroom_playback_fallbacks_total",
		Help: "Fallback-source retries by backend kind",
	}, []string{"kind"})

	SlotsAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camroom_slots_alive",
		Help: "Slots currently confirmed live",
	})

	RotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camroom_rotations_total",
		Help: "Rotation advances by trigger",
	}, []string{"trigger"})

	RotationDisabledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camroom_rotation_disabled_total",
		Help: "Rotations switched off automatically, by reason",
	}, []string{"reason"})
)

// ObservePlaybackAttempt records the verdict of one attempt.
func ObservePlaybackAttempt(kind, outcome string, d time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	PlaybackAttemptsTotal.WithLabelValues(kind, outcome).Inc()
	if outcome != "superseded" {
		PlaybackAttemptDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}
