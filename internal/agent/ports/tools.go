package ports

// ToolDefinition describes a tool exposed to the planning model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is one tool invocation requested by the planning model. Arguments
// is the raw JSON string exactly as the model produced it; validation and
// repair happen at dispatch time.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
