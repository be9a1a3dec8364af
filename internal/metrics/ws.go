// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camroom_ws_clients",
		Help: "Connected state-push websocket clients",
	})

	WSDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camroom_ws_dropped_total",
		Help: "State messages dropped because a websocket client was too slow",
	})
)
