package session

import (
	"context"

	"droid/internal/agent/ports"
)

// Store persists the ordered planning conversation per session key. Sessions
// are created implicitly on first append and live until cleared; eviction is
// an implementation choice, not part of the contract.
type Store interface {
	// Append adds turns to the end of the session's history, creating the
	// session when it does not exist yet.
	Append(ctx context.Context, sessionKey string, msgs ...ports.Message) error

	// History returns the full ordered history. A missing session yields an
	// empty slice, not an error.
	History(ctx context.Context, sessionKey string) ([]ports.Message, error)

	// Clear discards the session's history. Clearing a missing session is a
	// no-op.
	Clear(ctx context.Context, sessionKey string) error
}
