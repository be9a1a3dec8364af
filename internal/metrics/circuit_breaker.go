// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transportBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camroom_transport_breaker_state",
		Help: "Transport circuit breaker state (1 for the active state, 0 otherwise)",
	}, []string{"transport", "state"})

	transportBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camroom_transport_breaker_trips_total",
		Help: "Transitions of a transport breaker to the open state",
	}, []string{"transport"})

	transportBreakerSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camroom_transport_breaker_skips_total",
		Help: "Writes skipped because the transport breaker was open",
	}, []string{"transport"})
)

var breakerStates = []string{"closed", "half-open", "open"}

// SetBreakerState records the active breaker state for a transport.
func SetBreakerState(transport, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		transportBreakerState.WithLabelValues(transport, s).Set(v)
	}
}

// RecordBreakerTrip increments the trip counter when a breaker opens.
func RecordBreakerTrip(transport string) {
	transportBreakerTrips.WithLabelValues(transport).Inc()
}

// RecordBreakerSkip counts a write short-circuited by an open breaker.
func RecordBreakerSkip(transport string) {
	transportBreakerSkips.WithLabelValues(transport).Inc()
}
