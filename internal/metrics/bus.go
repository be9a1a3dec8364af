// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camroom_bus_sent_total",
		Help: "Envelopes written per transport and result",
	}, []string{"transport", "result"})

	BusReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camroom_bus_received_total",
		Help: "Envelopes delivered to handlers per transport (after dedup)",
	}, []string{"transport"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camroom_bus_dropped_total",
		Help: "Inbound envelopes dropped by transport and reason",
	}, []string{"transport", "reason"})
)

// IncBusSent records an outbound write attempt.
func IncBusSent(transport, result string) {
	BusSentTotal.WithLabelValues(transport, result).Inc()
}

// IncBusReceived records an envelope handed to the surface handler.
func IncBusReceived(transport string) {
	BusReceivedTotal.WithLabelValues(transport).Inc()
}

// IncBusDrop records a dropped inbound envelope with a concrete reason.
func IncBusDrop(transport, reason string) {
	if transport == "" {
		transport = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(transport, reason).Inc()
}
