package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDefinitionsKeepRegistrationOrder(t *testing.T) {
	d := NewToolDispatcher(nil)
	d.Register(ToolHandler{Name: "list_devices"})
	d.Register(ToolHandler{Name: "delegate_subtask"})

	defs := d.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "list_devices", defs[0].Name)
	assert.Equal(t, "delegate_subtask", defs[1].Name)

	// Re-registering keeps the slot.
	d.Register(ToolHandler{Name: "list_devices", Description: "updated"})
	defs = d.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "updated", defs[0].Description)
}

func TestDecodeArguments(t *testing.T) {
	d := NewToolDispatcher(nil)

	args, err := d.DecodeArguments(`{"device_id": "emu-1", "instruction": "open settings"}`)
	require.NoError(t, err)
	assert.Equal(t, "emu-1", args["device_id"])

	// Empty arguments are a valid zero-parameter call.
	args, err = d.DecodeArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestDecodeArgumentsRepairsMalformedJSON(t *testing.T) {
	d := NewToolDispatcher(nil)

	// Single quotes and a trailing comma, typical model output damage.
	args, err := d.DecodeArguments(`{'device_id': 'emu-1',}`)
	require.NoError(t, err)
	assert.Equal(t, "emu-1", args["device_id"])
}

func TestDispatchUnknownToolReturnsErrorPayload(t *testing.T) {
	d := NewToolDispatcher(nil)

	result, err := d.Dispatch(context.Background(), "no_such_tool", nil)
	require.NoError(t, err, "unknown tool is model feedback, not a run error")
	assert.Contains(t, result, "unknown tool")
	assert.Contains(t, result, "error")
}

func TestDispatchHandlerFailureReturnsErrorPayload(t *testing.T) {
	d := NewToolDispatcher(nil)
	d.Register(ToolHandler{
		Name: "flaky",
		Handle: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("instruction must not be empty")
		},
	})

	result, err := d.Dispatch(context.Background(), "flaky", nil)
	require.NoError(t, err)
	assert.Contains(t, result, "instruction must not be empty")
}

func TestDispatchPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	d := NewToolDispatcher(nil)
	d.Register(ToolHandler{
		Name: "slow",
		Handle: func(ctx context.Context, _ map[string]any) (string, error) {
			cancel()
			return "", ctx.Err()
		},
	})

	_, err := d.Dispatch(ctx, "slow", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
