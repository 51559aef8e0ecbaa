package ports

import "time"

// AgentEvent is the minimal contract every emitted event satisfies.
type AgentEvent interface {
	EventType() string
	Timestamp() time.Time
	GetSessionKey() string
}

// EventListener receives events as the planner and executor progress.
// Implementations must not block; slow consumers buffer on their own side.
type EventListener interface {
	OnEvent(event AgentEvent)
}
