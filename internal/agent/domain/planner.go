package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"droid/internal/agent/ports"
	"droid/internal/logging"
)

// DefaultMaxTurns bounds the planner's decision loop so a looping model
// terminates deterministically.
const DefaultMaxTurns = 50

// ErrTurnLimit is the planner-level fatal condition for a run that reached
// its decision-turn budget without finalizing. Distinct from model-reported
// failure: the caller surfaces it as a run error.
var ErrTurnLimit = errors.New("turn limit exceeded")

// RunState carries one run's conversation. Messages are seeded from the
// session store by the caller and written back after the run so multi-turn
// reasoning survives across requests.
type RunState struct {
	SessionKey string
	RunID      string
	Messages   []ports.Message
	Turns      int
	TokensUsed int
}

// RunResult is the terminal outcome of a planner run.
type RunResult struct {
	Answer     string
	Turns      int
	StopReason string
}

// Services groups the collaborators the planner loop needs per run.
type Services struct {
	LLM   ports.LLMClient
	Tools *ToolDispatcher
}

// Planner decomposes a user task into tool calls, keeping reasoning across
// sub-task delegations, and produces a final natural-language answer.
type Planner struct {
	maxTurns int
	logger   logging.Logger
	clock    ports.Clock
	listener EventListener
}

// PlannerConfig captures the dependencies required to construct a Planner.
type PlannerConfig struct {
	MaxTurns int
	Logger   logging.Logger
	Clock    ports.Clock
	Listener EventListener
}

// NewPlanner constructs a Planner, applying defaults for missing values.
func NewPlanner(cfg PlannerConfig) *Planner {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.RealClock{}
	}
	return &Planner{
		maxTurns: cfg.MaxTurns,
		logger:   logging.OrNop(cfg.Logger),
		clock:    cfg.Clock,
		listener: cfg.Listener,
	}
}

// SetListener configures event emission for streaming surfaces.
func (p *Planner) SetListener(listener EventListener) {
	p.listener = listener
}

func (p *Planner) emit(event AgentEvent) {
	if p.listener != nil {
		p.listener.OnEvent(event)
	}
}

// Run drives the decision loop for one task until a final answer, the turn
// limit, or cancellation. The executor runs nested inside delegate_subtask
// dispatches, so the planner is logically suspended while a delegation is in
// flight. Cancellation is checked at every turn boundary.
func (p *Planner) Run(ctx context.Context, task string, state *RunState, svc Services) (*RunResult, error) {
	p.logger.Info("Planner starting run %s for session %s: %s", state.RunID, state.SessionKey, task)

	p.ensureSystemPrompt(state)
	state.Messages = append(state.Messages, ports.Message{Role: "user", Content: task})

	for state.Turns < p.maxTurns {
		if err := ctx.Err(); err != nil {
			p.logger.Info("Run %s cancelled at turn %d", state.RunID, state.Turns)
			return nil, err
		}

		state.Turns++
		p.logger.Info("=== Turn %d/%d (run %s) ===", state.Turns, p.maxTurns, state.RunID)

		resp, err := svc.LLM.Complete(ctx, ports.CompletionRequest{
			Messages: state.Messages,
			Tools:    svc.Tools.Definitions(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Protocol-level failure: unlike sub-task outcomes this one
			// propagates to the caller as a run error.
			return nil, fmt.Errorf("planning model: %w", err)
		}
		state.TokensUsed += resp.Usage.TotalTokens

		assistant := ports.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		state.Messages = append(state.Messages, assistant)

		content := strings.TrimSpace(resp.Content)

		if len(resp.ToolCalls) == 0 {
			if content == "" {
				p.logger.Warn("Turn %d produced neither tool calls nor content, continuing", state.Turns)
				continue
			}
			p.logger.Info("Run %s finalized after %d turns", state.RunID, state.Turns)
			return &RunResult{Answer: content, Turns: state.Turns, StopReason: "final_answer"}, nil
		}

		if content != "" {
			p.emit(&MessageEvent{
				BaseEvent: NewBaseEvent(state.SessionKey, state.RunID, p.clock.Now()),
				Turn:      state.Turns,
				Content:   content,
			})
		}

		for idx, call := range resp.ToolCalls {
			if call.ID == "" {
				call.ID = fmt.Sprintf("call_%d_%d", state.Turns, idx)
			}

			args, decodeErr := svc.Tools.DecodeArguments(call.Arguments)
			p.emit(&ToolCallEvent{
				BaseEvent: NewBaseEvent(state.SessionKey, state.RunID, p.clock.Now()),
				Turn:      state.Turns,
				CallID:    call.ID,
				ToolName:  call.Name,
				Arguments: args,
			})

			var result string
			if decodeErr != nil {
				p.logger.Warn("Tool %s got undecodable arguments: %v", call.Name, decodeErr)
				result = errorPayload("invalid tool arguments: " + decodeErr.Error())
			} else {
				result, err = svc.Tools.Dispatch(ctx, call.Name, args)
				if err != nil {
					// Dispatch only errors on cancellation.
					return nil, err
				}
			}

			p.emit(&ToolResultEvent{
				BaseEvent: NewBaseEvent(state.SessionKey, state.RunID, p.clock.Now()),
				Turn:      state.Turns,
				CallID:    call.ID,
				ToolName:  call.Name,
				Result:    result,
			})

			state.Messages = append(state.Messages, ports.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	p.logger.Error("Run %s hit the turn limit (%d)", state.RunID, p.maxTurns)
	return nil, fmt.Errorf("%w after %d turns", ErrTurnLimit, p.maxTurns)
}

func (p *Planner) ensureSystemPrompt(state *RunState) {
	if len(state.Messages) > 0 && state.Messages[0].Role == "system" {
		return
	}
	state.Messages = append([]ports.Message{{Role: "system", Content: SystemPrompt}}, state.Messages...)
}
