// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithCorrelationID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		id   string
	}{
		{name: "nil context", ctx: nil, id: "n-1"},
		{name: "background context", ctx: context.Background(), id: "n-2"},
		{name: "empty id", ctx: context.Background(), id: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithCorrelationID(tt.ctx, tt.id) //nolint:staticcheck
			assert.Equal(t, tt.id, CorrelationIDFromContext(ctx))
		})
	}
}

func TestFromContextNil(t *testing.T) {
	assert.Equal(t, "", CorrelationIDFromContext(nil)) //nolint:staticcheck
	assert.Equal(t, "", RoomFromContext(nil))          //nolint:staticcheck
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithRoom(context.Background(), "studio")
	ctx = ContextWithCorrelationID(ctx, "abc123")

	l := WithContext(ctx, logger)
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "studio", entry[FieldRoom])
	assert.Equal(t, "abc123", entry[FieldCorrelationID])
}

func TestWithContextWithoutFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	l := WithContext(context.Background(), logger)
	l.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasRoom := entry[FieldRoom]
	assert.False(t, hasRoom)
}
