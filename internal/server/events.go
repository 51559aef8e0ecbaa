package server

import (
	"encoding/json"
	"fmt"

	"droid/internal/agent/domain"
	"droid/internal/agent/ports"
)

// marshalEvent flattens a typed agent event into the wire shape the frontend
// consumes: {type: tool_call|tool_result|message|done|error|cancelled, ...}.
func marshalEvent(event ports.AgentEvent) ([]byte, error) {
	payload := map[string]any{
		"type":       event.EventType(),
		"session_id": event.GetSessionKey(),
	}

	switch e := event.(type) {
	case *domain.ToolCallEvent:
		payload["tool_name"] = e.ToolName
		payload["tool_args"] = e.Arguments
		payload["call_id"] = e.CallID
	case *domain.ToolResultEvent:
		payload["tool_name"] = e.ToolName
		payload["result"] = e.Result
		payload["call_id"] = e.CallID
	case *domain.MessageEvent:
		payload["content"] = e.Content
	case *domain.DoneEvent:
		payload["content"] = e.Content
		payload["success"] = true
	case *domain.ErrorEvent:
		payload["message"] = e.Message
	case *domain.CancelledEvent:
		payload["message"] = "task cancelled"
	default:
		return nil, fmt.Errorf("unknown event type %T", event)
	}

	return json.Marshal(payload)
}

func isTerminal(event ports.AgentEvent) bool {
	switch event.EventType() {
	case "done", "error", "cancelled":
		return true
	}
	return false
}
