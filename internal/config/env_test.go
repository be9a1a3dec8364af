// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseHelpers(t *testing.T) {
	t.Setenv("CAMROOM_T_STR", "value")
	t.Setenv("CAMROOM_T_EMPTY", "")
	t.Setenv("CAMROOM_T_INT", "42")
	t.Setenv("CAMROOM_T_BADINT", "x")
	t.Setenv("CAMROOM_T_BOOL", "No")
	t.Setenv("CAMROOM_T_BADBOOL", "maybe")
	t.Setenv("CAMROOM_T_DUR", "750ms")
	t.Setenv("CAMROOM_T_FLOAT", "0.25")

	assert.Equal(t, "value", ParseString("CAMROOM_T_STR", "d"))
	assert.Equal(t, "d", ParseString("CAMROOM_T_EMPTY", "d"))
	assert.Equal(t, "d", ParseString("CAMROOM_T_UNSET", "d"))
	assert.Equal(t, 42, ParseInt("CAMROOM_T_INT", 1))
	assert.Equal(t, 1, ParseInt("CAMROOM_T_BADINT", 1))
	assert.False(t, ParseBool("CAMROOM_T_BOOL", true))
	assert.True(t, ParseBool("CAMROOM_T_BADBOOL", true))
	assert.Equal(t, 750*time.Millisecond, ParseDuration("CAMROOM_T_DUR", time.Second))
	assert.InDelta(t, 0.25, ParseFloat("CAMROOM_T_FLOAT", 1), 1e-9)
}
