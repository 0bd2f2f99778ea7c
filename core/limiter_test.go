package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter(t *testing.T) {
	l := NewLimiter("max_tool_calls", 3)
	require.NoError(t, l.Add(2))
	assert.True(t, l.Allow(1))
	assert.False(t, l.Allow(2))

	err := l.Add(2)
	var sle *SafetyLimitError
	require.True(t, errors.As(err, &sle))
	assert.Equal(t, "max_tool_calls", sle.Limit)
	assert.Equal(t, 2, l.Count(), "failed Add must not consume")
	assert.Equal(t, 1, l.Remaining())

	l.Reset()
	assert.Equal(t, 0, l.Count())
}

func TestLimiter_ZeroAndUnlimited(t *testing.T) {
	zero := NewLimiter("max_turns", 0)
	assert.False(t, zero.Allow(1))
	assert.Error(t, zero.Add(1))

	unlimited := NewLimiter("x", -1)
	require.NoError(t, unlimited.Add(1000))
	assert.Equal(t, -1, unlimited.Remaining())
}

func TestToolContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tc := NewToolContext(ctx, ToolCallRequest{ID: "c1", Name: "read_file", TurnID: "t1"}, nil)
	assert.Equal(t, "c1", tc.FunctionCallID())
	assert.Equal(t, "t1", tc.TurnID())
	assert.Equal(t, "read_file", tc.ToolName())
	assert.NotNil(t, tc.Logger())
	assert.NoError(t, tc.Err())
	cancel()
	assert.ErrorIs(t, tc.Err(), context.Canceled)
}
