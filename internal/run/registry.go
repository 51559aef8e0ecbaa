package run

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"droid/internal/logging"
)

// ErrRunActive is returned when a task is started while another run is still
// in flight for the same session key. Starting work is rejected rather than
// superseded; silently replacing a run risks orphaned device operations.
var ErrRunActive = errors.New("a run is already active for this session")

// Run is one in-flight planner execution.
type Run struct {
	ID         string
	SessionKey string
	StartedAt  time.Time

	cancel context.CancelFunc
}

// Cancel signals cooperative cancellation to the run's loops.
func (r *Run) Cancel() {
	r.cancel()
}

// Registry tracks in-flight runs so they can be located and cancelled. At
// most one run exists per session key at a time.
type Registry struct {
	mu     sync.Mutex
	runs   map[string]*Run
	logger logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		runs:   make(map[string]*Run),
		logger: logging.OrNop(logger),
	}
}

// Begin registers a new run for sessionKey and returns a context derived from
// ctx whose cancellation the run's loops observe. Returns ErrRunActive when a
// run already exists for the key.
func (reg *Registry) Begin(ctx context.Context, sessionKey string) (*Run, context.Context, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.runs[sessionKey]; exists {
		return nil, nil, ErrRunActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		ID:         uuid.NewString(),
		SessionKey: sessionKey,
		StartedAt:  time.Now(),
		cancel:     cancel,
	}
	reg.runs[sessionKey] = r
	reg.logger.Info("Run %s started for session %s", r.ID, sessionKey)
	return r, runCtx, nil
}

// End removes the run from the registry and releases its context. Safe to
// call on a run that has already been removed.
func (reg *Registry) End(r *Run) {
	reg.mu.Lock()
	if current, ok := reg.runs[r.SessionKey]; ok && current.ID == r.ID {
		delete(reg.runs, r.SessionKey)
	}
	reg.mu.Unlock()
	r.cancel()
	reg.logger.Info("Run %s ended for session %s", r.ID, r.SessionKey)
}

// Cancel signals the active run for sessionKey, if any, and returns whether a
// run was found. It returns immediately; the run observes the signal at its
// next checkpoint.
func (reg *Registry) Cancel(sessionKey string) bool {
	reg.mu.Lock()
	r, ok := reg.runs[sessionKey]
	reg.mu.Unlock()
	if !ok {
		return false
	}
	reg.logger.Info("Cancelling run %s for session %s", r.ID, sessionKey)
	r.Cancel()
	return true
}

// Active reports whether a run is in flight for sessionKey.
func (reg *Registry) Active(sessionKey string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.runs[sessionKey]
	return ok
}
