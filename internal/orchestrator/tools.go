package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"droid/internal/agent/domain"
	"droid/internal/device"
	"droid/internal/executor"
)

// buildTools wires the planner's toolset. Both tools return their outcomes
// as data: expected failures (device busy, failed sub-task) are tool results
// the planner reasons over, never errors across the tool-call boundary.
func (o *Orchestrator) buildTools() *domain.ToolDispatcher {
	tools := domain.NewToolDispatcher(o.logger)

	tools.Register(domain.ToolHandler{
		Name: "list_devices",
		Description: "List connected Android devices. Returns id (use it for " +
			"delegate_subtask), display name, connectivity state, and whether " +
			"the device is currently busy with another task.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handle: o.handleListDevices,
	})

	tools.Register(domain.ToolHandler{
		Name: "delegate_subtask",
		Description: "Send one atomic instruction or question to the vision " +
			"model operating the given device. The model executes at most a " +
			"few UI steps and reports back. Returns {result, steps, success}.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"device_id": map[string]any{
					"type":        "string",
					"description": "Device identifier from list_devices.",
				},
				"instruction": map[string]any{
					"type":        "string",
					"description": "One atomic UI instruction or screen-reading question.",
				},
			},
			"required": []string{"device_id", "instruction"},
		},
		Handle: o.handleDelegateSubtask,
	})

	return tools
}

func (o *Orchestrator) handleListDevices(ctx context.Context, _ map[string]any) (string, error) {
	snapshots, err := o.ListDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("list devices: %w", err)
	}
	payload, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// handleDelegateSubtask owns the device lock for the executor's entire
// duration; the executor itself never touches locks.
func (o *Orchestrator) handleDelegateSubtask(ctx context.Context, args map[string]any) (string, error) {
	deviceID, _ := args["device_id"].(string)
	instruction, _ := args["instruction"].(string)
	deviceID = strings.TrimSpace(deviceID)
	instruction = strings.TrimSpace(instruction)
	if deviceID == "" || instruction == "" {
		return "", fmt.Errorf("delegate_subtask requires device_id and instruction")
	}

	release, err := o.locks.Acquire(ctx, deviceID, o.cfg.LockTimeout)
	if errors.Is(err, device.ErrDeviceBusy) {
		if o.deps.Metrics != nil {
			o.deps.Metrics.DeviceBusyTotal.Inc()
			o.deps.Metrics.SubtasksTotal.WithLabelValues("device_busy").Inc()
		}
		o.logger.Warn("Device %s busy, delegation rejected", deviceID)
		return marshalSubtaskResult(executor.Result{
			Summary: fmt.Sprintf("Device %s is busy with another task; try again later.", deviceID),
			Steps:   0,
			Success: false,
		})
	}
	if err != nil {
		// Caller cancellation while waiting for the lock.
		return "", err
	}
	defer release()

	result, err := o.executor.Run(ctx, deviceID, instruction)
	if o.deps.Metrics != nil {
		o.deps.Metrics.ExecutorSteps.Add(float64(result.Steps))
	}
	if err != nil {
		if o.deps.Metrics != nil {
			o.deps.Metrics.SubtasksTotal.WithLabelValues("cancelled").Inc()
		}
		return "", err
	}

	if o.deps.Metrics != nil {
		outcome := "failure"
		if result.Success {
			outcome = "success"
		}
		o.deps.Metrics.SubtasksTotal.WithLabelValues(outcome).Inc()
	}
	return marshalSubtaskResult(result)
}

func marshalSubtaskResult(result executor.Result) (string, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
