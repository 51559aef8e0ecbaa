package orchestrator

import (
	"context"
	"errors"
	"time"

	"droid/internal/agent/domain"
	"droid/internal/agent/ports"
	"droid/internal/device"
	"droid/internal/executor"
	"droid/internal/logging"
	"droid/internal/observability"
	"droid/internal/run"
	"droid/internal/session"
)

// ErrBusy is returned by StartTask when a run is already active for the
// session key.
var ErrBusy = run.ErrRunActive

const (
	// DefaultLockTimeout bounds how long delegate_subtask waits for a device
	// lock before reporting "device busy" instead of hanging the request.
	DefaultLockTimeout = 3 * time.Second

	runEventBuffer = 64
)

// Deps are the explicitly constructed collaborators the façade ties
// together. Process-wide lifetime is managed by the entry point; nothing in
// here is a package-level global, so tests build fresh instances.
type Deps struct {
	LLM       ports.LLMClient
	Vision    ports.VisionClient
	DeviceIO  ports.DeviceIO
	Directory ports.DeviceDirectory
	Sessions  session.Store
	Metrics   *observability.Metrics
	Logger    logging.Logger
	Clock     ports.Clock
}

// Config tunes the loops.
type Config struct {
	MaxTurns    int           // planner decision turns per run
	StepBudget  int           // executor steps per delegation
	LockTimeout time.Duration // bounded wait for a device lock
}

// Orchestrator is the single entry point per task request: it resolves the
// session, starts a planner run, streams its events, and exposes cancel and
// reset.
type Orchestrator struct {
	deps        Deps
	cfg         Config
	runs        *run.Registry
	locks       *device.LockRegistry
	executor    *executor.Executor
	broadcaster *Broadcaster
	logger      logging.Logger
	clock       ports.Clock
}

// New constructs the façade and its internal registries.
func New(deps Deps, cfg Config) *Orchestrator {
	logger := logging.OrNop(deps.Logger)
	if deps.Clock == nil {
		deps.Clock = ports.RealClock{}
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = domain.DefaultMaxTurns
	}

	return &Orchestrator{
		deps:        deps,
		cfg:         cfg,
		runs:        run.NewRegistry(logger),
		locks:       device.NewLockRegistry(logger),
		executor:    executor.New(deps.Vision, deps.DeviceIO, cfg.StepBudget, logger),
		broadcaster: NewBroadcaster(logger),
		logger:      logger,
		clock:       deps.Clock,
	}
}

// Locks exposes the device lock registry.
func (o *Orchestrator) Locks() *device.LockRegistry { return o.locks }

// Broadcaster exposes the side-channel event feed.
func (o *Orchestrator) Broadcaster() *Broadcaster { return o.broadcaster }

// StartTask begins a planner run for sessionKey and returns its ordered
// event stream. The channel carries every intermediate event in the
// planner's turn order and is closed after exactly one terminal event (done,
// error, or cancelled). Returns ErrBusy when a run is already active for the
// session.
func (o *Orchestrator) StartTask(ctx context.Context, sessionKey, task string) (<-chan ports.AgentEvent, error) {
	r, runCtx, err := o.runs.Begin(ctx, sessionKey)
	if err != nil {
		if o.deps.Metrics != nil {
			o.deps.Metrics.RunsRejected.Inc()
		}
		return nil, err
	}

	history, err := o.deps.Sessions.History(ctx, sessionKey)
	if err != nil {
		o.runs.End(r)
		return nil, err
	}

	state := &domain.RunState{
		SessionKey: sessionKey,
		RunID:      r.ID,
		Messages:   history,
	}
	// Everything beyond the stored history gets persisted after the run,
	// including the system prompt seeded on a fresh session.
	seeded := len(state.Messages)
	if len(state.Messages) == 0 {
		state.Messages = []ports.Message{{Role: "system", Content: domain.SystemPrompt}}
	}

	events := make(chan ports.AgentEvent, runEventBuffer)
	listener := listenerFunc(func(event ports.AgentEvent) {
		events <- event
		o.broadcaster.Publish(event)
	})

	planner := domain.NewPlanner(domain.PlannerConfig{
		MaxTurns: o.cfg.MaxTurns,
		Logger:   o.logger,
		Clock:    o.clock,
		Listener: listener,
	})

	svc := domain.Services{
		LLM:   o.deps.LLM,
		Tools: o.buildTools(),
	}

	if o.deps.Metrics != nil {
		o.deps.Metrics.RunsStarted.Inc()
		o.deps.Metrics.ActiveRuns.Inc()
	}

	go func() {
		defer close(events)
		defer o.runs.End(r)
		if o.deps.Metrics != nil {
			defer o.deps.Metrics.ActiveRuns.Dec()
		}

		result, runErr := planner.Run(runCtx, task, state, svc)

		// Persist the turns this run added even when it failed or was
		// cancelled; partial progress is still conversation context.
		if len(state.Messages) > seeded {
			persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := o.deps.Sessions.Append(persistCtx, sessionKey, state.Messages[seeded:]...); err != nil {
				o.logger.Error("Failed to persist session %s: %v", sessionKey, err)
			}
			cancel()
		}

		terminal := o.terminalEvent(state, result, runErr)
		listener.OnEvent(terminal)
		if o.deps.Metrics != nil {
			o.deps.Metrics.RunsCompleted.WithLabelValues(terminal.EventType()).Inc()
			if terminal.EventType() == "error" && !errors.Is(runErr, domain.ErrTurnLimit) {
				o.deps.Metrics.ModelFailures.Inc()
			}
		}
	}()

	return events, nil
}

// terminalEvent maps the run outcome to exactly one terminal event.
func (o *Orchestrator) terminalEvent(state *domain.RunState, result *domain.RunResult, runErr error) ports.AgentEvent {
	base := domain.NewBaseEvent(state.SessionKey, state.RunID, o.clock.Now())
	switch {
	case runErr == nil:
		return &domain.DoneEvent{BaseEvent: base, Content: result.Answer, Turns: result.Turns}
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		return &domain.CancelledEvent{BaseEvent: base, Turns: state.Turns}
	default:
		return &domain.ErrorEvent{BaseEvent: base, Message: runErr.Error()}
	}
}

// CancelTask signals the active run for sessionKey, returning immediately.
// The run observes the signal at its next checkpoint and terminates with a
// cancelled terminal event. Reports whether a run was found.
func (o *Orchestrator) CancelTask(sessionKey string) bool {
	return o.runs.Cancel(sessionKey)
}

// ResetSession cancels any active run and discards the session's history.
// Safe to call when no session or run exists.
func (o *Orchestrator) ResetSession(ctx context.Context, sessionKey string) error {
	o.runs.Cancel(sessionKey)
	return o.deps.Sessions.Clear(ctx, sessionKey)
}

// Active reports whether a run is in flight for sessionKey.
func (o *Orchestrator) Active(sessionKey string) bool {
	return o.runs.Active(sessionKey)
}

// DeviceSnapshot decorates a directory entry with lock state.
type DeviceSnapshot struct {
	ports.DeviceInfo
	Busy bool `json:"busy"`
}

// ListDevices returns the directory snapshot with per-device busy flags.
func (o *Orchestrator) ListDevices(ctx context.Context) ([]DeviceSnapshot, error) {
	infos, err := o.deps.Directory.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	snapshots := make([]DeviceSnapshot, 0, len(infos))
	for _, info := range infos {
		snapshots = append(snapshots, DeviceSnapshot{
			DeviceInfo: info,
			Busy:       o.locks.Busy(info.ID),
		})
	}
	return snapshots, nil
}

type listenerFunc func(event ports.AgentEvent)

func (f listenerFunc) OnEvent(event ports.AgentEvent) { f(event) }
