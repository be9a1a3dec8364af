// SPDX-License-Identifier: MIT

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsHandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camroom_commands_handled_total",
		Help: "Commands executed by the player, by name and ack outcome",
	}, []string{"cmd", "ok"})

	CommandsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camroom_commands_sent_total",
		Help: "Commands issued by control surfaces",
	}, []string{"cmd"})

	CommandsAckedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camroom_commands_acked_total",
		Help: "Pending commands resolved by a correlated ack",
	}, []string{"cmd", "ok"})

	CommandsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camroom_commands_expired_total",
		Help: "Pending commands dropped after the ack timeout",
	})

	CommandsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camroom_commands_pending",
		Help: "Commands awaiting an ack",
	})
)

// ObserveCommandHandled records a player-side command outcome.
func ObserveCommandHandled(cmd string, ok bool) {
	CommandsHandledTotal.WithLabelValues(commandLabel(cmd), strconv.FormatBool(ok)).Inc()
}

// ObserveCommandAcked records a control-side ack correlation.
func ObserveCommandAcked(cmd string, ok bool) {
	CommandsAckedTotal.WithLabelValues(commandLabel(cmd), strconv.FormatBool(ok)).Inc()
}

// commandLabel bounds label cardinality: unknown names collapse to "other".
func commandLabel(cmd string) string {
	switch cmd {
	case "PING", "RELOAD_CAMS", "LAYOUT_SET", "SLOT_SET", "PLAY_ID", "PLAY_URL",
		"NEXT", "PREV", "STOP_SLOT", "STOP_ALL", "STOP", "MUTE_SET", "MUTE_TOGGLE",
		"ROTATE_SET", "ROTATE_NOW", "HUD_SET", "HUD_TOGGLE", "FULLSCREEN_SET",
		"FULLSCREEN_TOGGLE", "MODE_SET":
		return cmd
	default:
		return "other"
	}
}

// ObserveCommandSent records a command issued by a control surface.
func ObserveCommandSent(cmd string) {
	CommandsSentTotal.WithLabelValues(commandLabel(cmd)).Inc()
}
