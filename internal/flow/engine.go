// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package flow executes multi-step generation flows. Each step prompts the
// router, parses the answer into a structured record and materializes it as
// a versioned artifact.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/flowforge/internal/engine"
	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/store"
	"github.com/traylinx/flowforge/internal/util"
)

const engineName = "flow-engine"

// Generator produces text for a request. *engine.Router implements it.
type Generator interface {
	SelectAndGenerate(ctx context.Context, req *engine.GenerationRequest, traceID string) (*engine.GenerationResponse, error)
}

// Archiver stores version content outside the database.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte) error
}

// ArtifactLearner derives pattern keys from new artifacts.
type ArtifactLearner interface {
	LearnFromArtifact(ctx context.Context, artifactID string) (string, error)
}

// StepOutput is what a successful step contributes to the run.
type StepOutput struct {
	ArtifactID   string         `json:"artifact_id"`
	VersionID    string         `json:"version_id"`
	VersionIndex int            `json:"version_index"`
	Record       map[string]any `json:"record"`
}

func (o *StepOutput) toMap() map[string]any {
	return map[string]any{
		"artifact_id":   o.ArtifactID,
		"version_id":    o.VersionID,
		"version_index": o.VersionIndex,
		"record":        o.Record,
	}
}

// StepError identifies the failing step.
type StepError struct {
	Step    string `json:"step"`
	Message string `json:"error"`
}

// Result is the outcome of one flow run.
type Result struct {
	Status    string                 `json:"status"`
	FlowID    string                 `json:"flow_id"`
	FlowRunID string                 `json:"flow_run_id"`
	Outputs   map[string]*StepOutput `json:"outputs,omitempty"`
	StepOrder []string               `json:"step_order,omitempty"`
	Error     *StepError             `json:"error,omitempty"`
}

// Options wires optional collaborators into the Engine.
type Options struct {
	Archive Archiver
	Learner ArtifactLearner
	Locks   *util.KeyedMutex
}

// Engine runs flow definitions step by step.
type Engine struct {
	store     store.Store
	generator Generator
	sink      events.Sink
	archive   Archiver
	learner   ArtifactLearner
	locks     *util.KeyedMutex
}

// NewEngine builds a flow engine.
func NewEngine(s store.Store, gen Generator, sink events.Sink, opts Options) *Engine {
	if sink == nil {
		sink = events.Nop{}
	}
	locks := opts.Locks
	if locks == nil {
		locks = util.NewKeyedMutex()
	}
	return &Engine{
		store:     s,
		generator: gen,
		sink:      sink,
		archive:   opts.Archive,
		learner:   opts.Learner,
		locks:     locks,
	}
}

// RunFlow executes every step of def in order and stops at the first step
// error. Configuration errors are returned alongside the failed result.
func (e *Engine) RunFlow(ctx context.Context, def *models.FlowDefinition, workspaceID string, input map[string]any, traceID string) (*Result, error) {
	if traceID == "" {
		traceID = util.NewTraceID()
	}
	if input == nil {
		input = map[string]any{}
	}

	run := &models.FlowRun{
		ID:           util.NewID(),
		FlowID:       def.ID,
		WorkspaceID:  workspaceID,
		Status:       models.FlowRunRunning,
		StartedAt:    time.Now().UTC(),
		InputPayload: input,
		TraceID:      traceID,
	}
	if err := e.store.CreateFlowRun(ctx, run); err != nil {
		return nil, fmt.Errorf("flow: create run: %w", err)
	}
	if err := store.BumpWorkspaceAnalytics(ctx, e.store, workspaceID, func(wa *models.WorkspaceAnalytics) {
		wa.TotalFlowsRun++
	}); err != nil {
		log.WithField("trace_id", traceID).Warnf("flow: analytics update failed: %v", err)
	}

	e.sink.LogEvent(engineName, "Flow started: "+def.Key, traceID, map[string]any{
		"flow_id":      def.ID,
		"workspace_id": workspaceID,
	})

	result := &Result{
		FlowID:    def.ID,
		FlowRunID: run.ID,
		Outputs:   make(map[string]*StepOutput),
	}
	previous := map[string]any{}

	for _, step := range def.Steps() {
		out, err := e.runStep(ctx, run, step, input, previous)
		if err != nil {
			return e.fail(ctx, run, result, step, err)
		}
		result.Outputs[step] = out
		result.StepOrder = append(result.StepOrder, step)
		previous[step] = out.toMap()
	}

	finished := time.Now().UTC()
	run.Status = models.FlowRunSuccess
	run.OutputPayload = previous
	run.FinishedAt = &finished
	if err := e.store.UpdateFlowRun(ctx, run); err != nil {
		return nil, fmt.Errorf("flow: finish run: %w", err)
	}

	e.sink.LogEvent(engineName, "Flow completed successfully: "+def.Key, traceID, nil)
	result.Status = models.FlowRunSuccess
	return result, nil
}

func (e *Engine) fail(ctx context.Context, run *models.FlowRun, result *Result, step string, stepErr error) (*Result, error) {
	finished := time.Now().UTC()
	run.Status = models.FlowRunFailed
	run.ErrorPayload = map[string]any{"step": step, "error": stepErr.Error()}
	partial := make(map[string]any, len(result.StepOrder))
	for _, name := range result.StepOrder {
		partial[name] = result.Outputs[name].toMap()
	}
	run.OutputPayload = partial
	run.FinishedAt = &finished
	if err := e.store.UpdateFlowRun(ctx, run); err != nil {
		log.WithField("trace_id", run.TraceID).Errorf("flow: failed to record run failure: %v", err)
	}

	e.sink.LogEvent(engineName, "Flow failed at step: "+step, run.TraceID, map[string]any{"error": stepErr.Error()})

	result.Status = models.FlowRunFailed
	result.Error = &StepError{Step: step, Message: stepErr.Error()}
	if engine.IsConfigurationError(stepErr) {
		return result, stepErr
	}
	return result, nil
}

func (e *Engine) runStep(ctx context.Context, run *models.FlowRun, step string, input, previous map[string]any) (*StepOutput, error) {
	prompt := BuildStepPrompt(step, input, previous)

	if err := e.store.CreatePromptLog(ctx, &models.PromptLog{
		WorkspaceID: run.WorkspaceID,
		FlowRunID:   run.ID,
		Prompt:      prompt,
		Metadata:    map[string]any{"step": step},
	}); err != nil {
		return nil, fmt.Errorf("log prompt: %w", err)
	}

	resp, err := e.generator.SelectAndGenerate(ctx, engine.NewGenerationRequest(prompt, "", map[string]any{"step": step}), run.TraceID)
	if err != nil {
		if logErr := e.store.CreateAIRunLog(ctx, &models.AIRunLog{
			WorkspaceID:    run.WorkspaceID,
			FlowRunID:      run.ID,
			TraceID:        run.TraceID,
			RequestPayload: map[string]any{"prompt": prompt},
			Success:        false,
			ErrorMessage:   err.Error(),
		}); logErr != nil {
			log.WithField("trace_id", run.TraceID).Warnf("flow: failed to log AI run: %v", logErr)
		}
		return nil, err
	}

	if err := e.store.CreateAIRunLog(ctx, &models.AIRunLog{
		WorkspaceID:     run.WorkspaceID,
		FlowRunID:       run.ID,
		Provider:        resp.Provider,
		Model:           resp.Model,
		TraceID:         resp.TraceID,
		RequestPayload:  map[string]any{"prompt": prompt},
		ResponsePayload: map[string]any{"content": resp.Content},
		Success:         true,
	}); err != nil {
		return nil, fmt.Errorf("log AI run: %w", err)
	}

	rec, err := ParseRecord(resp.Content)
	if err != nil {
		var perr *ParseError
		if !errors.As(err, &perr) {
			return nil, err
		}
		log.WithField("trace_id", run.TraceID).Debugf("flow: step %s produced unstructured output: %v", step, perr)
		rec = DegradedRecord(run.FlowID, step, resp.Content)
	}

	return e.materialize(ctx, run, step, rec)
}

// materialize stores the record as a new artifact version. Version
// allocation is serialized per (workspace, key).
func (e *Engine) materialize(ctx context.Context, run *models.FlowRun, step string, rec *Record) (*StepOutput, error) {
	key := rec.ArtifactKey(run.FlowID, step)
	unlock := e.locks.Lock("artifact\x00" + run.WorkspaceID + "\x00" + key)
	defer unlock()

	metadata := rec.ArtifactMetadata(step)
	artifact, err := e.store.FindArtifact(ctx, run.WorkspaceID, key)
	nextIndex := 1
	switch {
	case errors.Is(err, store.ErrNotFound):
		artifact = &models.Artifact{
			WorkspaceID:  run.WorkspaceID,
			ArtifactType: rec.ArtifactType(),
			Key:          key,
			Metadata:     metadata,
		}
		if err := e.store.CreateArtifact(ctx, artifact); err != nil {
			return nil, fmt.Errorf("create artifact: %w", err)
		}
		if err := store.BumpWorkspaceAnalytics(ctx, e.store, run.WorkspaceID, func(wa *models.WorkspaceAnalytics) {
			wa.TotalArtifactsCreated++
		}); err != nil {
			log.WithField("trace_id", run.TraceID).Warnf("flow: analytics update failed: %v", err)
		}
	case err != nil:
		return nil, fmt.Errorf("find artifact: %w", err)
	default:
		latest, err := e.store.LatestArtifactVersion(ctx, artifact.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("latest version: %w", err)
		}
		if latest != nil {
			nextIndex = latest.VersionIndex + 1
		}
		if artifact.Metadata == nil {
			artifact.Metadata = map[string]any{}
		}
		for k, v := range metadata {
			artifact.Metadata[k] = v
		}
		if err := e.store.UpdateArtifact(ctx, artifact); err != nil {
			return nil, fmt.Errorf("update artifact: %w", err)
		}
	}

	version := &models.ArtifactVersion{
		ArtifactID:      artifact.ID,
		VersionIndex:    nextIndex,
		Content:         rec.Content,
		ContentFormat:   "text",
		CreatedByEngine: engineName,
		CreatedByFlowID: run.FlowID,
		SandboxStatus:   models.SandboxStatusUnknown,
	}
	if err := e.store.CreateArtifactVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("create artifact version: %w", err)
	}

	e.archiveVersion(ctx, run.TraceID, version)

	if e.learner != nil {
		if _, err := e.learner.LearnFromArtifact(ctx, artifact.ID); err != nil {
			log.WithField("trace_id", run.TraceID).Warnf("flow: pattern learning failed: %v", err)
		}
	}

	e.sink.LogEvent(engineName, "Step completed", run.TraceID, map[string]any{
		"step":          step,
		"artifact_id":   artifact.ID,
		"version_index": nextIndex,
	})

	return &StepOutput{
		ArtifactID:   artifact.ID,
		VersionID:    version.ID,
		VersionIndex: nextIndex,
		Record:       rec.Map(),
	}, nil
}

// ArchiveKey is the blob key of a version's content.
func ArchiveKey(artifactID string, index int) string {
	return fmt.Sprintf("artifacts/%s/v%d.zst", artifactID, index)
}

func (e *Engine) archiveVersion(ctx context.Context, traceID string, v *models.ArtifactVersion) {
	if e.archive == nil {
		return
	}
	key := ArchiveKey(v.ArtifactID, v.VersionIndex)
	if err := e.archive.Put(ctx, key, []byte(v.Content)); err != nil {
		e.sink.LogEvent(engineName, "Artifact archive failed", traceID, map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
}
