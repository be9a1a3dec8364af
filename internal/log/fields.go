// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldRoom          = "room"
	FieldNonce         = "nonce"
	FieldOrigin        = "origin"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTransport = "transport"
	FieldKey       = "key"

	// Command fields
	FieldCmd     = "cmd"
	FieldAckOK   = "ack_ok"
	FieldAckNote = "ack_note"

	// Playback fields
	FieldSlot    = "slot"
	FieldCamID   = "cam_id"
	FieldKind    = "kind"
	FieldToken   = "token"
	FieldReason  = "reason"
	FieldTrigger = "trigger"
	FieldSrc     = "src"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
