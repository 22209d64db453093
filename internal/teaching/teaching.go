// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package teaching turns sandbox outcomes, diffs and fixes into persisted
// knowledge: error signatures, engine performance and workspace counters.
package teaching

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/store"
)

const engineName = "teaching-engine"

// UnknownErrorClass stands in for a missing error class.
const UnknownErrorClass = "UnknownError"

const unknown = "unknown"

// PatternLearner receives newly learned patterns.
type PatternLearner interface {
	LearnFromError(ctx context.Context, p *models.ErrorPattern) error
	LearnFromFix(ctx context.Context, f *models.FixPattern) error
	LearnFromDiff(ctx context.Context, d *models.CodeDiff) (string, error)
}

// Engine records what sandbox runs and audits teach.
type Engine struct {
	store    store.Store
	patterns PatternLearner
	sink     events.Sink
}

// NewEngine returns a teaching engine. patterns may be nil.
func NewEngine(s store.Store, patterns PatternLearner, sink events.Sink) *Engine {
	if sink == nil {
		sink = events.Nop{}
	}
	return &Engine{store: s, patterns: patterns, sink: sink}
}

// Signature is the hex sha256 of "<class>:<message>".
func Signature(errorClass, message string) string {
	if errorClass == "" {
		errorClass = UnknownErrorClass
	}
	sum := sha256.Sum256([]byte(errorClass + ":" + message))
	return hex.EncodeToString(sum[:])
}

// LearnFromSandbox folds one finished run into the knowledge base. All steps
// are attempted; the first error is returned.
func (e *Engine) LearnFromSandbox(ctx context.Context, run *models.CodeSandboxRun) error {
	var errs []error

	if run.Failed() {
		if err := e.recordErrorPattern(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}

	provider := metaString(run.ErrorMetadata, "provider")
	model := metaString(run.ErrorMetadata, "model")
	latency := run.LatencyMs()

	if err := store.BumpEnginePerformance(ctx, e.store, provider, model, func(p *models.EnginePerformance) {
		p.TotalCalls++
		if run.Failed() {
			p.TotalFailures++
		}
		p.AvgLatencyMs = foldLatency(p.AvgLatencyMs, latency)
		p.UpdatedAt = time.Now().UTC()
	}); err != nil {
		errs = append(errs, fmt.Errorf("teaching: engine performance: %w", err))
	}

	if err := e.foldEngineLatency(ctx, provider, model, latency); err != nil {
		errs = append(errs, err)
	}

	if run.Failed() && run.WorkspaceID != "" {
		if err := store.BumpWorkspaceAnalytics(ctx, e.store, run.WorkspaceID, func(wa *models.WorkspaceAnalytics) {
			wa.TotalErrors++
			wa.UpdatedAt = time.Now().UTC()
		}); err != nil {
			errs = append(errs, fmt.Errorf("teaching: workspace analytics: %w", err))
		}
	}

	e.sink.LogEvent(engineName, "Sandbox run learned", "", map[string]any{
		"run_id":     run.ID,
		"status":     run.Status,
		"provider":   provider,
		"model":      model,
		"latency_ms": latency,
	})

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (e *Engine) recordErrorPattern(ctx context.Context, run *models.CodeSandboxRun) error {
	class := run.ErrorClass
	if class == "" {
		class = UnknownErrorClass
	}
	sig := Signature(class, run.ErrorMessage)

	if _, err := e.store.GetErrorPatternBySignature(ctx, sig); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("teaching: look up error pattern: %w", err)
	}

	pattern := &models.ErrorPattern{
		ErrorClass: class,
		Signature:  sig,
		Metadata: map[string]any{
			"message":   run.ErrorMessage,
			"stderr":    run.Stderr,
			"exit_code": exitCode(run.ExitCode),
		},
	}
	if err := e.store.CreateErrorPattern(ctx, pattern); err != nil {
		// A concurrent run recorded the same signature first.
		if errors.Is(err, store.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("teaching: create error pattern: %w", err)
	}

	e.sink.LogEvent(engineName, "New error pattern recorded", "", map[string]any{
		"error_pattern_id": pattern.ID,
		"error_class":      class,
		"signature":        sig,
	})
	if e.patterns != nil {
		if err := e.patterns.LearnFromError(ctx, pattern); err != nil {
			log.Warnf("teaching: pattern engine rejected error pattern %s: %v", pattern.ID, err)
		}
	}
	return nil
}

func (e *Engine) foldEngineLatency(ctx context.Context, provider, model string, latency int64) error {
	cfg, err := e.store.FindEngineConfig(ctx, provider, model)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("teaching: find engine config: %w", err)
	}
	cfg.AvgLatencyMs = foldLatency(cfg.AvgLatencyMs, latency)
	if err := e.store.UpdateEngineConfig(ctx, cfg); err != nil {
		return fmt.Errorf("teaching: update engine config: %w", err)
	}
	return nil
}

// LearnFromDiff persists the diff and records its hash.
func (e *Engine) LearnFromDiff(ctx context.Context, diff *models.CodeDiff) (string, error) {
	if err := e.store.CreateCodeDiff(ctx, diff); err != nil {
		return "", fmt.Errorf("teaching: create code diff: %w", err)
	}
	if e.patterns == nil {
		return "", nil
	}
	return e.patterns.LearnFromDiff(ctx, diff)
}

// LearnFixForError appends a fix to an existing error pattern.
func (e *Engine) LearnFixForError(ctx context.Context, errorPatternID, description, code string) (*models.FixPattern, error) {
	fix := &models.FixPattern{
		ErrorPatternID: errorPatternID,
		FixDescription: description,
		FixCode:        code,
	}
	if err := e.store.CreateFixPattern(ctx, fix); err != nil {
		return nil, fmt.Errorf("teaching: create fix pattern: %w", err)
	}
	if e.patterns != nil {
		if err := e.patterns.LearnFromFix(ctx, fix); err != nil {
			log.Warnf("teaching: pattern engine rejected fix %s: %v", fix.ID, err)
		}
	}
	return fix, nil
}

// foldLatency is the running average used throughout: (avg + sample) / 2.
func foldLatency(avg, sample int64) int64 {
	return (avg + sample) / 2
}

func metaString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok && s != "" {
		return s
	}
	return unknown
}

func exitCode(code *int) any {
	if code == nil {
		return nil
	}
	return *code
}
