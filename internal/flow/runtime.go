// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/traylinx/flowforge/internal/engine"
	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/store"
	"github.com/traylinx/flowforge/internal/util"
)

const runtimeName = "runtime-engine"

// ErrFlowNotFound is returned when no flow matches the key in the workspace.
var ErrFlowNotFound = errors.New("flow not found")

// FlowRunner executes one flow attempt. *Engine implements it.
type FlowRunner interface {
	RunFlow(ctx context.Context, def *models.FlowDefinition, workspaceID string, input map[string]any, traceID string) (*Result, error)
}

// FlowLookup resolves flow definitions.
type FlowLookup interface {
	GetFlowByKey(ctx context.Context, workspaceID, key string) (*models.FlowDefinition, error)
}

// RunResult is the outcome of RunFlowByKey.
type RunResult struct {
	Status    string                 `json:"status"`
	Attempts  int                    `json:"attempts"`
	FlowID    string                 `json:"flow_id"`
	FlowRunID string                 `json:"flow_run_id,omitempty"`
	Outputs   map[string]*StepOutput `json:"outputs,omitempty"`
	StepOrder []string               `json:"step_order,omitempty"`
	Error     string                 `json:"error,omitempty"`
	TraceID   string                 `json:"trace_id"`
}

// Runtime wraps the flow engine with bounded, immediate retries.
type Runtime struct {
	flows      FlowLookup
	runner     FlowRunner
	sink       events.Sink
	maxRetries int
}

// NewRuntime builds a runtime. A negative maxRetries is treated as zero.
func NewRuntime(flows FlowLookup, runner FlowRunner, sink events.Sink, maxRetries int) *Runtime {
	if sink == nil {
		sink = events.Nop{}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Runtime{flows: flows, runner: runner, sink: sink, maxRetries: maxRetries}
}

// MaxRetries returns the configured retry count.
func (r *Runtime) MaxRetries() int { return r.maxRetries }

// AttemptTraceID derives the trace id of an attempt: the base trace for the
// first attempt, <trace>-r<n> afterwards.
func AttemptTraceID(traceID string, attempt int) string {
	if attempt <= 1 {
		return traceID
	}
	return fmt.Sprintf("%s-r%d", traceID, attempt-1)
}

// RunFlowByKey looks up the flow and runs it with at most MaxRetries+1
// attempts. Configuration errors abort immediately.
func (r *Runtime) RunFlowByKey(ctx context.Context, workspaceID, flowKey string, input map[string]any, traceID string) (*RunResult, error) {
	if traceID == "" {
		traceID = util.NewTraceID()
	}

	def, err := r.flows.GetFlowByKey(ctx, workspaceID, flowKey)
	if errors.Is(err, store.ErrNotFound) {
		r.sink.LogEvent(runtimeName, "Flow not found", traceID, map[string]any{
			"workspace_id": workspaceID,
			"flow_key":     flowKey,
		})
		return nil, fmt.Errorf("%w: flow '%s' not found for workspace %s", ErrFlowNotFound, flowKey, workspaceID)
	}
	if err != nil {
		return nil, err
	}

	r.sink.LogEvent(runtimeName, "Runtime flow execution started", traceID, map[string]any{
		"workspace_id": workspaceID,
		"flow_key":     flowKey,
		"max_retries":  r.maxRetries,
	})

	lastError := ""
	lastRunID := ""
	attempt := 0
	for attempt < r.maxRetries+1 {
		attempt++
		attemptTrace := AttemptTraceID(traceID, attempt)

		res, err := r.runner.RunFlow(ctx, def, workspaceID, input, attemptTrace)
		if res != nil {
			lastRunID = res.FlowRunID
		}

		switch {
		case err != nil && engine.IsConfigurationError(err):
			r.sink.LogEvent(runtimeName, "Runtime flow execution error", traceID, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
			return &RunResult{
				Status:    models.FlowRunFailed,
				Attempts:  attempt,
				FlowID:    def.ID,
				FlowRunID: lastRunID,
				Error:     err.Error(),
				TraceID:   traceID,
			}, err
		case err != nil:
			lastError = err.Error()
			r.sink.LogEvent(runtimeName, "Runtime flow execution error", traceID, map[string]any{
				"attempt": attempt,
				"error":   lastError,
			})
		case res.Status == models.FlowRunSuccess:
			r.sink.LogEvent(runtimeName, "Runtime flow execution succeeded", traceID, map[string]any{"attempt": attempt})
			return &RunResult{
				Status:    models.FlowRunSuccess,
				Attempts:  attempt,
				FlowID:    def.ID,
				FlowRunID: res.FlowRunID,
				Outputs:   res.Outputs,
				StepOrder: res.StepOrder,
				TraceID:   traceID,
			}, nil
		default:
			lastError = "unknown error"
			if res.Error != nil {
				lastError = res.Error.Message
			}
			r.sink.LogEvent(runtimeName, "Flow engine reported failure", traceID, map[string]any{
				"attempt": attempt,
				"error":   lastError,
			})
		}

		if attempt <= r.maxRetries {
			r.sink.LogEvent(runtimeName, "Retrying flow execution", traceID, map[string]any{"next_attempt": attempt + 1})
		}
	}

	if lastError == "" {
		lastError = "unknown error"
	}
	r.sink.LogEvent(runtimeName, "Runtime flow execution exhausted retries", traceID, map[string]any{
		"max_retries": r.maxRetries,
		"last_error":  lastError,
	})
	return &RunResult{
		Status:    models.FlowRunFailed,
		Attempts:  attempt,
		FlowID:    def.ID,
		FlowRunID: lastRunID,
		Error:     lastError,
		TraceID:   traceID,
	}, nil
}
