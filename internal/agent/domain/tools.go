package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"droid/internal/agent/ports"
	"droid/internal/logging"
)

// ToolHandler binds a tool definition to its implementation. Handlers return
// the tool result as text; an error is reserved for cancellation and
// protocol-level faults — expected failures (device busy, sub-task failed)
// are encoded in the result payload so the planner can reason over them.
type ToolHandler struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handle      func(ctx context.Context, args map[string]any) (string, error)
}

// ToolDispatcher maps tool names to handlers with typed argument validation.
// Planner inference yields either tool calls or a final answer; this is the
// tool-call side of that dispatch.
type ToolDispatcher struct {
	handlers map[string]ToolHandler
	order    []string
	logger   logging.Logger
}

// NewToolDispatcher constructs an empty dispatcher.
func NewToolDispatcher(logger logging.Logger) *ToolDispatcher {
	return &ToolDispatcher{
		handlers: make(map[string]ToolHandler),
		logger:   logging.OrNop(logger),
	}
}

// Register adds a handler. Re-registering a name replaces the handler but
// keeps its position in the definition order.
func (d *ToolDispatcher) Register(h ToolHandler) {
	if _, exists := d.handlers[h.Name]; !exists {
		d.order = append(d.order, h.Name)
	}
	d.handlers[h.Name] = h
}

// Definitions returns the tool schemas in registration order.
func (d *ToolDispatcher) Definitions() []ports.ToolDefinition {
	defs := make([]ports.ToolDefinition, 0, len(d.order))
	for _, name := range d.order {
		h := d.handlers[name]
		defs = append(defs, ports.ToolDefinition{
			Name:        h.Name,
			Description: h.Description,
			Parameters:  h.Parameters,
		})
	}
	return defs
}

// DecodeArguments parses a raw tool-call argument string, repairing malformed
// JSON before giving up. Models truncate and mis-quote argument payloads
// often enough that a repair pass pays for itself.
func (d *ToolDispatcher) DecodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("unparseable tool arguments: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("unparseable tool arguments after repair: %w", err)
	}
	d.logger.Warn("Repaired malformed tool arguments: %s", truncateForLog(raw, 200))
	return args, nil
}

// Dispatch runs the named tool. Unknown tools and handler failures come back
// as an error payload in the result text so the model can correct course;
// only context cancellation propagates as an error.
func (d *ToolDispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	h, ok := d.handlers[name]
	if !ok {
		d.logger.Warn("Planner called unknown tool %q", name)
		return errorPayload(fmt.Sprintf("unknown tool %q", name)), nil
	}

	result, err := h.Handle(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		d.logger.Error("Tool %s failed: %v", name, err)
		return errorPayload(err.Error()), nil
	}
	return result, nil
}

func errorPayload(msg string) string {
	payload, err := json.Marshal(map[string]any{"error": msg})
	if err != nil {
		return `{"error":"tool failed"}`
	}
	return string(payload)
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
