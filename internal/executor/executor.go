package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"droid/internal/agent/ports"
	"droid/internal/logging"
)

const (
	// DefaultStepBudget bounds one sub-task delegation. Kept deliberately
	// small so the planner regains control frequently instead of letting a
	// single sub-task run away.
	DefaultStepBudget = 5

	// historyWindow bounds how many prior perception-action turns are
	// replayed to the vision model.
	historyWindow = 4

	// maxWaitSeconds caps a single Wait action.
	maxWaitSeconds = 30
)

// Result is the immutable outcome of one sub-task delegation, returned to
// the planner across the tool-call boundary. Failures are data here, never
// errors: the planner reasons over them.
type Result struct {
	Summary string `json:"result"`
	Steps   int    `json:"steps"`
	Success bool   `json:"success"`
}

// Step records one iteration of the perception-action cycle. Steps are
// ephemeral: they feed the result summary and are not persisted.
type Step struct {
	Index    int    `json:"step"`
	Thinking string `json:"thinking,omitempty"`
	Action   string `json:"action,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Executor converts one natural-language instruction into a bounded sequence
// of observations and actions against a single device.
//
// The executor never acquires the device lock itself; the caller holds it for
// the executor's entire duration so lock ownership stays explicit at the call
// boundary.
type Executor struct {
	vision ports.VisionClient
	device ports.DeviceIO
	budget int
	logger logging.Logger
}

// New constructs an Executor. A non-positive budget falls back to the
// default.
func New(vision ports.VisionClient, device ports.DeviceIO, budget int, logger logging.Logger) *Executor {
	if budget <= 0 {
		budget = DefaultStepBudget
	}
	return &Executor{
		vision: vision,
		device: device,
		budget: budget,
		logger: logging.OrNop(logger),
	}
}

// Budget returns the configured step budget.
func (e *Executor) Budget() int { return e.budget }

// Run executes the perception-action loop for instruction on deviceID.
//
// The returned error is non-nil only for cancellation; every other failure
// mode (device unavailable, model misbehavior, budget exhaustion) is absorbed
// into the Result. Cancellation is checked between steps, never mid-action,
// which bounds cancellation latency to one step's duration.
func (e *Executor) Run(ctx context.Context, deviceID, instruction string) (Result, error) {
	e.logger.Info("Executor starting on %s: %s", deviceID, instruction)

	var (
		steps   []Step
		history []ports.VisionTurn
	)

	for len(steps) < e.budget {
		if err := ctx.Err(); err != nil {
			return Result{
				Summary: "Sub-task cancelled",
				Steps:   len(steps),
				Success: false,
			}, err
		}

		stepIdx := len(steps) + 1
		e.logger.Info("=== Step %d/%d on %s ===", stepIdx, e.budget, deviceID)

		shot, err := e.device.CaptureScreen(ctx, deviceID)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Summary: "Sub-task cancelled", Steps: len(steps), Success: false}, ctx.Err()
			}
			e.logger.Error("Screen capture failed on %s: %v", deviceID, err)
			return Result{
				Summary: fmt.Sprintf("Device unavailable: %v", err),
				Steps:   len(steps),
				Success: false,
			}, nil
		}

		req := ports.VisionRequest{
			Instruction: instruction,
			Screenshot:  shot,
			ScreenInfo:  fmt.Sprintf("step %d of %d", stepIdx, e.budget),
			History:     history,
			FirstStep:   stepIdx == 1,
		}

		thinking, action, raw, err := e.perceive(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Summary: "Sub-task cancelled", Steps: len(steps), Success: false}, ctx.Err()
			}
			// Two strikes on one step: count it as a failed step and keep
			// going; the model often recovers on a fresh screenshot.
			e.logger.Warn("Step %d failed to produce a usable action: %v", stepIdx, err)
			steps = append(steps, Step{Index: stepIdx, Error: fmt.Sprintf("unusable model output: %v", err)})
			history = appendHistory(history, req.ScreenInfo, raw)
			continue
		}

		e.logger.Info("Step %d action: %s", stepIdx, action.Kind)

		switch action.Kind {
		case ports.ActionFinish:
			steps = append(steps, Step{Index: stepIdx, Thinking: thinking, Action: string(action.Kind), Outcome: action.Message})
			return Result{
				Summary: action.Message,
				Steps:   len(steps),
				Success: true,
			}, nil

		case ports.ActionTakeOver:
			// Terminal signal, not a retryable error: the model decided a
			// human has to intervene.
			steps = append(steps, Step{Index: stepIdx, Thinking: thinking, Action: string(action.Kind), Outcome: action.Message})
			return Result{
				Summary: "Human intervention required: " + action.Message,
				Steps:   len(steps),
				Success: false,
			}, nil

		case ports.ActionWait:
			seconds := action.Seconds
			if seconds > maxWaitSeconds {
				seconds = maxWaitSeconds
			}
			if err := sleepCtx(ctx, time.Duration(seconds*float64(time.Second))); err != nil {
				return Result{Summary: "Sub-task cancelled", Steps: len(steps), Success: false}, err
			}
			steps = append(steps, Step{Index: stepIdx, Thinking: thinking, Action: string(action.Kind), Outcome: fmt.Sprintf("waited %.1fs", seconds)})

		default:
			outcome, err := e.device.ExecuteAction(ctx, deviceID, action, shot)
			if err != nil {
				if ctx.Err() != nil {
					return Result{Summary: "Sub-task cancelled", Steps: len(steps), Success: false}, ctx.Err()
				}
				e.logger.Error("Action %s failed on %s: %v", action.Kind, deviceID, err)
				steps = append(steps, Step{Index: stepIdx, Thinking: thinking, Action: string(action.Kind), Error: err.Error()})
				return Result{
					Summary: fmt.Sprintf("Device unavailable while executing %s: %v", action.Kind, err),
					Steps:   len(steps),
					Success: false,
				}, nil
			}
			steps = append(steps, Step{Index: stepIdx, Thinking: thinking, Action: string(action.Kind), Outcome: outcome})
		}

		history = appendHistory(history, req.ScreenInfo, raw)
	}

	// Budget exhausted without finish. This is a control-flow signal for the
	// planner, not a generic error: it should re-plan with a smaller, more
	// specific instruction.
	e.logger.Warn("Step budget (%d) exhausted on %s", e.budget, deviceID)
	return Result{
		Summary: budgetExhaustedSummary(e.budget, steps),
		Steps:   len(steps),
		Success: false,
	}, nil
}

// perceive queries the vision model and parses its answer, retrying once on
// transient failures (network hiccups or unparseable output).
func (e *Executor) perceive(ctx context.Context, req ports.VisionRequest) (thinking string, action ports.Action, raw string, err error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ports.Action{}, raw, ctxErr
		}
		content, inferErr := e.vision.Infer(ctx, req)
		if inferErr != nil {
			if ctx.Err() != nil {
				return "", ports.Action{}, raw, ctx.Err()
			}
			e.logger.Warn("Vision inference failed (attempt %d): %v", attempt+1, inferErr)
			lastErr = inferErr
			continue
		}
		raw = content

		thinking, actionStr := SplitResponse(content)
		parsed, parseErr := ParseAction(actionStr)
		if parseErr != nil {
			e.logger.Warn("Vision output unparseable (attempt %d): %v", attempt+1, parseErr)
			lastErr = parseErr
			continue
		}
		return thinking, parsed, raw, nil
	}
	return "", ports.Action{}, raw, lastErr
}

func appendHistory(history []ports.VisionTurn, observation, response string) []ports.VisionTurn {
	history = append(history, ports.VisionTurn{Observation: observation, Response: response})
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	return history
}

func budgetExhaustedSummary(budget int, steps []Step) string {
	trace, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		trace = []byte("[]")
	}
	return fmt.Sprintf(
		"Step limit reached (%d steps) without completing the instruction. "+
			"The vision model may be stuck.\n\nExecution history:\n%s\n\n"+
			"Suggestion: re-plan with a smaller, more specific sub-task.",
		budget, trace)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
