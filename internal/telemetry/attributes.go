// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across both surfaces.
const (
	// Bus attributes
	RoomKey      = "camroom.room"
	OriginKey    = "camroom.origin"
	TransportKey = "camroom.transport"

	// Command attributes
	CommandKey      = "command.name"
	CommandNonceKey = "command.nonce"
	AckOKKey        = "command.ack_ok"
	AckNoteKey      = "command.ack_note"

	// Playback attributes
	SlotKey     = "playback.slot"
	CamIDKey    = "playback.cam_id"
	KindKey     = "playback.kind"
	ReasonKey   = "playback.reason"
	FallbackKey = "playback.fallback"
	OutcomeKey  = "playback.outcome"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// CommandAttributes creates span attributes for a handled command.
func CommandAttributes(room, cmd, nonce string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(RoomKey, room),
		attribute.String(CommandKey, cmd),
	}
	if nonce != "" {
		attrs = append(attrs, attribute.String(CommandNonceKey, nonce))
	}
	return attrs
}

// AckAttributes records the outcome sent back to control.
func AckAttributes(ok bool, note string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(AckOKKey, ok),
		attribute.String(AckNoteKey, note),
	}
}

// AttemptAttributes creates span attributes for a slot playback attempt.
func AttemptAttributes(slot int, camID, kind, reason string, fallback bool) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	attrs = append(attrs, attribute.Int(SlotKey, slot))
	if camID != "" {
		attrs = append(attrs, attribute.String(CamIDKey, camID))
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(KindKey, kind))
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(ReasonKey, reason))
	}
	return append(attrs, attribute.Bool(FallbackKey, fallback))
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}

// Outcome tags a finished playback attempt.
func Outcome(outcome string) attribute.KeyValue {
	return attribute.String(OutcomeKey, outcome)
}
