package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droid/internal/agent/ports"
	"droid/internal/session"
)

// planScript builds an LLM that answers each Complete call with the next
// scripted response; a nil entry blocks until the context is cancelled.
type planScript struct {
	mu        sync.Mutex
	responses []*ports.CompletionResponse
	calls     int
}

func (l *planScript) Model() string { return "plan-script" }

func (l *planScript) Complete(ctx context.Context, _ ports.CompletionRequest) (*ports.CompletionResponse, error) {
	l.mu.Lock()
	var resp *ports.CompletionResponse
	if l.calls < len(l.responses) {
		resp = l.responses[l.calls]
	}
	l.calls++
	l.mu.Unlock()

	if resp == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return resp, nil
}

type stubVision struct {
	response string
}

func (v *stubVision) Model() string { return "stub" }

func (v *stubVision) Infer(ctx context.Context, _ ports.VisionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return v.response, nil
}

type stubDeviceIO struct {
	executed atomic.Int32
}

func (d *stubDeviceIO) CaptureScreen(ctx context.Context, _ string) (*ports.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ports.Screenshot{PNG: []byte{1}, Width: 1080, Height: 2400}, nil
}

func (d *stubDeviceIO) ExecuteAction(_ context.Context, _ string, _ ports.Action, _ *ports.Screenshot) (string, error) {
	d.executed.Add(1)
	return "ok", nil
}

type stubDirectory struct {
	devices []ports.DeviceInfo
	err     error
}

func (d *stubDirectory) ListDevices(context.Context) ([]ports.DeviceInfo, error) {
	return d.devices, d.err
}

func newTestOrchestrator(llm ports.LLMClient) *Orchestrator {
	return New(Deps{
		LLM:      llm,
		Vision:   &stubVision{response: `finish(message="done")`},
		DeviceIO: &stubDeviceIO{},
		Directory: &stubDirectory{devices: []ports.DeviceInfo{
			{ID: "emu-1", Name: "Pixel 6", State: ports.DeviceOnline},
		}},
		Sessions: session.NewInMemoryStore(),
	}, Config{MaxTurns: 10, StepBudget: 3, LockTimeout: 100 * time.Millisecond})
}

// collect drains the event stream until close.
func collect(t *testing.T, events <-chan ports.AgentEvent) []ports.AgentEvent {
	t.Helper()
	var out []ports.AgentEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-timeout:
			t.Fatal("event stream did not close in time")
		}
	}
}

func terminals(events []ports.AgentEvent) []string {
	var out []string
	for _, e := range events {
		switch e.EventType() {
		case "done", "error", "cancelled":
			out = append(out, e.EventType())
		}
	}
	return out
}

func TestStartTaskHappyPath(t *testing.T) {
	llm := &planScript{responses: []*ports.CompletionResponse{
		{ToolCalls: []ports.ToolCall{
			{ID: "c1", Name: "delegate_subtask", Arguments: `{"device_id":"emu-1","instruction":"open settings"}`},
		}},
		{Content: "Settings opened."},
	}}
	orch := newTestOrchestrator(llm)

	events, err := orch.StartTask(context.Background(), "s1", "open settings on the pixel")
	require.NoError(t, err)

	all := collect(t, events)
	require.NotEmpty(t, all)

	assert.Equal(t, []string{"done"}, terminals(all), "exactly one terminal event")
	assert.Equal(t, "done", all[len(all)-1].EventType(), "terminal event comes last")

	// tool_call precedes its tool_result.
	var order []string
	for _, e := range all {
		order = append(order, e.EventType())
	}
	assert.Contains(t, order, "tool_call")
	assert.Contains(t, order, "tool_result")

	assert.False(t, orch.Active("s1"))
}

func TestStartTaskRejectsConcurrentRunForSameSession(t *testing.T) {
	// First run blocks inside the model until cancelled.
	llm := &planScript{responses: []*ports.CompletionResponse{nil}}
	orch := newTestOrchestrator(llm)

	events, err := orch.StartTask(context.Background(), "s1", "long task")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return orch.Active("s1") },
		time.Second, 5*time.Millisecond)

	_, err = orch.StartTask(context.Background(), "s1", "second task")
	assert.ErrorIs(t, err, ErrBusy)

	orch.CancelTask("s1")
	all := collect(t, events)
	assert.Equal(t, []string{"cancelled"}, terminals(all))
}

func TestCancelTaskEmitsCancelledTerminal(t *testing.T) {
	llm := &planScript{responses: []*ports.CompletionResponse{nil}}
	orch := newTestOrchestrator(llm)

	events, err := orch.StartTask(context.Background(), "s1", "task")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return orch.Active("s1") },
		time.Second, 5*time.Millisecond)

	found := orch.CancelTask("s1")
	assert.True(t, found)

	all := collect(t, events)
	assert.Equal(t, []string{"cancelled"}, terminals(all))
	assert.False(t, orch.Active("s1"))

	// The session is free for a new run afterwards.
	llmDone := &planScript{responses: []*ports.CompletionResponse{{Content: "ok"}}}
	orch2 := newTestOrchestrator(llmDone)
	events2, err := orch2.StartTask(context.Background(), "s1", "next")
	require.NoError(t, err)
	all2 := collect(t, events2)
	assert.Equal(t, []string{"done"}, terminals(all2))
}

func TestCancelTaskUnknownSession(t *testing.T) {
	orch := newTestOrchestrator(&planScript{})
	assert.False(t, orch.CancelTask("nobody"))
}

func TestRunErrorEmitsErrorTerminal(t *testing.T) {
	orch := newTestOrchestrator(failingLLM{})
	events, err := orch.StartTask(context.Background(), "s1", "task")
	require.NoError(t, err)

	all := collect(t, events)
	require.Equal(t, []string{"error"}, terminals(all))
}

type failingLLM struct{}

func (failingLLM) Model() string { return "failing" }

func (failingLLM) Complete(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
	return nil, errors.New("upstream unavailable")
}

func TestSessionHistoryPersistsAcrossRuns(t *testing.T) {
	store := session.NewInMemoryStore()

	llm := &planScript{responses: []*ports.CompletionResponse{
		{Content: "first answer"},
		{Content: "second answer"},
	}}
	orch := New(Deps{
		LLM:       llm,
		Vision:    &stubVision{response: `finish(message="done")`},
		DeviceIO:  &stubDeviceIO{},
		Directory: &stubDirectory{},
		Sessions:  store,
	}, Config{MaxTurns: 10})

	events, err := orch.StartTask(context.Background(), "s1", "first task")
	require.NoError(t, err)
	collect(t, events)

	history, err := store.History(context.Background(), "s1")
	require.NoError(t, err)
	// system + user + assistant.
	require.Len(t, history, 3)
	assert.Equal(t, "system", history[0].Role)

	events, err = orch.StartTask(context.Background(), "s1", "second task")
	require.NoError(t, err)
	collect(t, events)

	history, err = store.History(context.Background(), "s1")
	require.NoError(t, err)
	// The second run appends user + assistant without reseeding the prompt.
	require.Len(t, history, 5)
	assert.Equal(t, "second task", history[3].Content)
}

func TestResetSessionClearsHistoryAndCancelsRun(t *testing.T) {
	store := session.NewInMemoryStore()
	require.NoError(t, store.Append(context.Background(), "s1",
		ports.Message{Role: "user", Content: "old"}))

	llm := &planScript{responses: []*ports.CompletionResponse{nil}}
	orch := New(Deps{
		LLM:       llm,
		Vision:    &stubVision{},
		DeviceIO:  &stubDeviceIO{},
		Directory: &stubDirectory{},
		Sessions:  store,
	}, Config{MaxTurns: 10})

	events, err := orch.StartTask(context.Background(), "s1", "task")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return orch.Active("s1") },
		time.Second, 5*time.Millisecond)

	require.NoError(t, orch.ResetSession(context.Background(), "s1"))
	all := collect(t, events)
	assert.Equal(t, []string{"cancelled"}, terminals(all))

	// Reset again with nothing running: still fine.
	require.NoError(t, orch.ResetSession(context.Background(), "s1"))
}

func TestListDevicesReportsBusyFlag(t *testing.T) {
	orch := newTestOrchestrator(&planScript{})

	release, err := orch.Locks().Acquire(context.Background(), "emu-1", 0)
	require.NoError(t, err)
	defer release()

	snapshots, err := orch.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "emu-1", snapshots[0].ID)
	assert.True(t, snapshots[0].Busy)
}

func TestDelegateSubtaskReportsBusyAsResult(t *testing.T) {
	orch := newTestOrchestrator(&planScript{})

	// Hold the device so delegation cannot acquire it.
	release, err := orch.Locks().Acquire(context.Background(), "emu-1", 0)
	require.NoError(t, err)
	defer release()

	result, err := orch.handleDelegateSubtask(context.Background(), map[string]any{
		"device_id":   "emu-1",
		"instruction": "open settings",
	})
	require.NoError(t, err, "busy is a tool result, not an error")

	var parsed struct {
		Result  string `json:"result"`
		Steps   int    `json:"steps"`
		Success bool   `json:"success"`
	}
	require.NoError(t, json.Unmarshal([]byte(result), &parsed))
	assert.False(t, parsed.Success)
	assert.Equal(t, 0, parsed.Steps)
	assert.Contains(t, parsed.Result, "busy")
}

func TestDelegateSubtaskValidatesArguments(t *testing.T) {
	orch := newTestOrchestrator(&planScript{})

	_, err := orch.handleDelegateSubtask(context.Background(), map[string]any{
		"device_id": "emu-1",
	})
	assert.Error(t, err)

	_, err = orch.handleDelegateSubtask(context.Background(), map[string]any{
		"device_id":   "  ",
		"instruction": "x",
	})
	assert.Error(t, err)
}

func TestDelegateSubtaskRunsExecutor(t *testing.T) {
	orch := newTestOrchestrator(&planScript{})

	result, err := orch.handleDelegateSubtask(context.Background(), map[string]any{
		"device_id":   "emu-1",
		"instruction": "check the battery level",
	})
	require.NoError(t, err)

	var parsed struct {
		Result  string `json:"result"`
		Steps   int    `json:"steps"`
		Success bool   `json:"success"`
	}
	require.NoError(t, json.Unmarshal([]byte(result), &parsed))
	assert.True(t, parsed.Success)
	assert.Equal(t, 1, parsed.Steps)
	assert.Equal(t, "done", parsed.Result)

	// Lock released after the delegation.
	assert.False(t, orch.Locks().Busy("emu-1"))
}

func TestBroadcasterReceivesRunEvents(t *testing.T) {
	llm := &planScript{responses: []*ports.CompletionResponse{{Content: "answer"}}}
	orch := newTestOrchestrator(llm)

	sub := orch.Broadcaster().Subscribe("s1")
	defer orch.Broadcaster().Unsubscribe("s1", sub)

	events, err := orch.StartTask(context.Background(), "s1", "task")
	require.NoError(t, err)
	collect(t, events)

	select {
	case event := <-sub:
		assert.Equal(t, "done", event.EventType())
	case <-time.After(time.Second):
		t.Fatal("broadcaster delivered nothing")
	}

	// Late subscribers see the replay buffer.
	recent := orch.Broadcaster().Recent("s1")
	require.NotEmpty(t, recent)
	assert.Equal(t, "done", recent[len(recent)-1].EventType())
}
