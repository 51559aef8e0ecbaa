package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droid/internal/agent/ports"
)

// scriptedVision replays canned responses; an entry of the form "err:..."
// fails the inference instead.
type scriptedVision struct {
	responses []string
	calls     atomic.Int32
}

func (v *scriptedVision) Model() string { return "scripted" }

func (v *scriptedVision) Infer(ctx context.Context, _ ports.VisionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	idx := int(v.calls.Add(1)) - 1
	if idx >= len(v.responses) {
		return "", errors.New("script exhausted")
	}
	resp := v.responses[idx]
	if after, ok := strings.CutPrefix(resp, "err:"); ok {
		return "", errors.New(after)
	}
	return resp, nil
}

type fakeDevice struct {
	captureErr error
	executeErr error
	actions    []ports.Action
	onExecute  func()
}

func (d *fakeDevice) CaptureScreen(ctx context.Context, _ string) (*ports.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	return &ports.Screenshot{PNG: []byte{0x89}, Width: 1080, Height: 2400}, nil
}

func (d *fakeDevice) ExecuteAction(_ context.Context, _ string, action ports.Action, _ *ports.Screenshot) (string, error) {
	if d.executeErr != nil {
		return "", d.executeErr
	}
	d.actions = append(d.actions, action)
	if d.onExecute != nil {
		d.onExecute()
	}
	return fmt.Sprintf("executed %s", action.Kind), nil
}

func TestExecutorTapThenFinish(t *testing.T) {
	vision := &scriptedVision{responses: []string{
		`I see the button. do(action="Tap", element=[500,300])`,
		`Done. finish(message="Button tapped, dialog confirmed")`,
	}}
	device := &fakeDevice{}
	exec := New(vision, device, 5, nil)

	result, err := exec.Run(context.Background(), "device-1", "tap the confirm button")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Steps)
	assert.Equal(t, "Button tapped, dialog confirmed", result.Summary)
	require.Len(t, device.actions, 1)
	assert.Equal(t, ports.ActionTap, device.actions[0].Kind)
}

func TestExecutorBudgetExhausted(t *testing.T) {
	// The model keeps tapping and never finishes.
	responses := make([]string, 10)
	for i := range responses {
		responses[i] = `do(action="Tap", element=[500,300])`
	}
	vision := &scriptedVision{responses: responses}
	device := &fakeDevice{}
	exec := New(vision, device, 3, nil)

	result, err := exec.Run(context.Background(), "device-1", "do something endless")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Steps, "steps must equal the budget exactly")
	assert.Contains(t, result.Summary, "Step limit reached")
	assert.Contains(t, result.Summary, "re-plan")
	assert.Len(t, device.actions, 3)
}

func TestExecutorBudgetDistinguishableFromDeviceFailure(t *testing.T) {
	vision := &scriptedVision{responses: []string{
		`do(action="Tap", element=[500,300])`,
	}}
	device := &fakeDevice{executeErr: errors.New("device offline")}
	exec := New(vision, device, 3, nil)

	result, err := exec.Run(context.Background(), "device-1", "tap")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Summary, "Device unavailable")
	// steps < budget separates this from budget exhaustion.
	assert.Less(t, result.Steps, 3)
}

func TestExecutorCaptureFailureIsResultNotError(t *testing.T) {
	vision := &scriptedVision{}
	device := &fakeDevice{captureErr: errors.New("device not found")}
	exec := New(vision, device, 5, nil)

	result, err := exec.Run(context.Background(), "gone", "anything")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 0, result.Steps)
	assert.Contains(t, result.Summary, "Device unavailable")
}

func TestExecutorRetriesTransientModelFailureOnce(t *testing.T) {
	vision := &scriptedVision{responses: []string{
		"err:connection reset",
		`finish(message="ok on retry")`,
	}}
	device := &fakeDevice{}
	exec := New(vision, device, 5, nil)

	result, err := exec.Run(context.Background(), "device-1", "quick check")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Steps, "retry happens within the same step")
	assert.Equal(t, int32(2), vision.calls.Load())
}

func TestExecutorTwoStrikesCountsFailedStepAndContinues(t *testing.T) {
	vision := &scriptedVision{responses: []string{
		"gibberish with no action",
		"still gibberish",
		`finish(message="recovered")`,
	}}
	device := &fakeDevice{}
	exec := New(vision, device, 5, nil)

	result, err := exec.Run(context.Background(), "device-1", "do a thing")
	require.NoError(t, err)

	assert.True(t, result.Success)
	// One failed step plus the finishing step.
	assert.Equal(t, 2, result.Steps)
}

func TestExecutorTakeOver(t *testing.T) {
	vision := &scriptedVision{responses: []string{
		`This is a login wall. do(action="Take Over", message="credentials required")`,
	}}
	device := &fakeDevice{}
	exec := New(vision, device, 5, nil)

	result, err := exec.Run(context.Background(), "device-1", "log into the app")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Summary, "Human intervention required")
	assert.Contains(t, result.Summary, "credentials required")
	assert.Empty(t, device.actions, "take over must not touch the device")
}

func TestExecutorCancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	vision := &scriptedVision{responses: []string{
		`do(action="Tap", element=[1,1])`,
		`do(action="Tap", element=[2,2])`,
	}}
	device := &fakeDevice{onExecute: cancel}
	exec := New(vision, device, 5, nil)

	result, err := exec.Run(ctx, "device-1", "tap twice")
	require.ErrorIs(t, err, context.Canceled)

	assert.False(t, result.Success)
	// The in-flight step completed; cancellation was observed at the next
	// loop boundary, never mid-action.
	assert.Len(t, device.actions, 1)
}

func TestExecutorCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vision := &scriptedVision{responses: []string{`finish(message="should not run")`}}
	device := &fakeDevice{}
	exec := New(vision, device, 5, nil)

	_, err := exec.Run(ctx, "device-1", "anything")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), vision.calls.Load())
}

func TestExecutorDefaultBudget(t *testing.T) {
	exec := New(&scriptedVision{}, &fakeDevice{}, 0, nil)
	assert.Equal(t, DefaultStepBudget, exec.Budget())
}
