// SPDX-License-Identifier: MIT

package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value
	}
	return m
}

func TestCommandAttributes(t *testing.T) {
	m := attrMap(CommandAttributes("main", "PLAY_ID", "abc"))
	assert.Equal(t, "main", m[RoomKey].AsString())
	assert.Equal(t, "PLAY_ID", m[CommandKey].AsString())
	assert.Equal(t, "abc", m[CommandNonceKey].AsString())

	m = attrMap(CommandAttributes("main", "PING", ""))
	_, ok := m[CommandNonceKey]
	assert.False(t, ok, "empty nonce is omitted")
}

func TestAttemptAttributes(t *testing.T) {
	m := attrMap(AttemptAttributes(2, "cam-1", "hls", "rotate", true))
	assert.Equal(t, int64(2), m[SlotKey].AsInt64())
	assert.Equal(t, "cam-1", m[CamIDKey].AsString())
	assert.Equal(t, "hls", m[KindKey].AsString())
	assert.Equal(t, "rotate", m[ReasonKey].AsString())
	assert.True(t, m[FallbackKey].AsBool())

	assert.Len(t, AttemptAttributes(0, "", "", "", false), 2)
}

func TestAckAndErrorAttributes(t *testing.T) {
	m := attrMap(AckAttributes(false, "unknown cmd"))
	assert.False(t, m[AckOKKey].AsBool())
	assert.Equal(t, "unknown cmd", m[AckNoteKey].AsString())

	m = attrMap(ErrorAttributes(errors.New("x"), "timeout"))
	assert.True(t, m[ErrorKey].AsBool())
	assert.Equal(t, "timeout", m[ErrorTypeKey].AsString())
}
