package domain

import (
	"time"

	"droid/internal/agent/ports"
)

// Re-export the event contracts defined at the port layer.
type AgentEvent = ports.AgentEvent
type EventListener = ports.EventListener

// BaseEvent provides common fields for all events
type BaseEvent struct {
	timestamp  time.Time
	sessionKey string
	runID      string
}

func (e *BaseEvent) Timestamp() time.Time { return e.timestamp }

func (e *BaseEvent) GetSessionKey() string { return e.sessionKey }

func (e *BaseEvent) GetRunID() string { return e.runID }

// NewBaseEvent stamps an event with its run identity.
func NewBaseEvent(sessionKey, runID string, ts time.Time) BaseEvent {
	return BaseEvent{timestamp: ts, sessionKey: sessionKey, runID: runID}
}

// ToolCallEvent - emitted when the planner issues a tool call
type ToolCallEvent struct {
	BaseEvent
	Turn      int
	CallID    string
	ToolName  string
	Arguments map[string]any
}

func (e *ToolCallEvent) EventType() string { return "tool_call" }

// ToolResultEvent - emitted when a tool call returns
type ToolResultEvent struct {
	BaseEvent
	Turn     int
	CallID   string
	ToolName string
	Result   string
}

func (e *ToolResultEvent) EventType() string { return "tool_result" }

// MessageEvent - intermediate commentary the planner produced alongside or
// between tool calls
type MessageEvent struct {
	BaseEvent
	Turn    int
	Content string
}

func (e *MessageEvent) EventType() string { return "message" }

// DoneEvent - terminal: the planner produced its final answer
type DoneEvent struct {
	BaseEvent
	Content string
	Turns   int
}

func (e *DoneEvent) EventType() string { return "done" }

// ErrorEvent - terminal: the run failed at the protocol level
type ErrorEvent struct {
	BaseEvent
	Message string
}

func (e *ErrorEvent) EventType() string { return "error" }

// CancelledEvent - terminal: the run observed a cancellation request
type CancelledEvent struct {
	BaseEvent
	Turns int
}

func (e *CancelledEvent) EventType() string { return "cancelled" }
