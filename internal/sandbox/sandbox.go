// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sandbox runs generated code in a throwaway directory as a child
// process with a hard wall-clock timeout, and hands every outcome to the
// teaching engine.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/store"
)

const engineName = "sandbox-engine"

// Error classes recorded on failed runs.
const (
	ErrorClassRuntime = "RuntimeError"
	ErrorClassTimeout = "Timeout"
)

// Environment is recorded on every run.
const Environment = "local-subprocess"

// ErrLearnerRequired is returned when no learner is supplied.
var ErrLearnerRequired = errors.New("sandbox: a learner is required")

// Learner consumes every finished run.
type Learner interface {
	LearnFromSandbox(ctx context.Context, run *models.CodeSandboxRun) error
}

// Options configures the engine.
type Options struct {
	// Timeout bounds each run. Default 30s.
	Timeout time.Duration
	// MaxConcurrent bounds parallel runs. Default 4.
	MaxConcurrent int
	// Commands overrides the default command per language.
	Commands map[string]string
	// Shell runs the command line. Default "sh".
	Shell string
	// WorkDir is the parent of per-run temp dirs. Default os.TempDir().
	WorkDir string
	// MaxOutputBytes caps captured stdout and stderr each. Default 1 MiB.
	MaxOutputBytes int
}

// RunOptions carries per-call parameters.
type RunOptions struct {
	WorkspaceID string
	Command     string
	Provider    string
	Model       string
}

// Engine executes code in isolated subprocesses.
type Engine struct {
	store   store.Store
	learner Learner
	sink    events.Sink
	opts    Options
	sem     *semaphore.Weighted
}

// NewEngine builds a sandbox engine. The learner is mandatory so no caller
// can run code without feeding the outcome to learning.
func NewEngine(s store.Store, learner Learner, sink events.Sink, opts Options) (*Engine, error) {
	if learner == nil {
		return nil, ErrLearnerRequired
	}
	if sink == nil {
		sink = events.Nop{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Shell == "" {
		opts.Shell = "sh"
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1 << 20
	}
	return &Engine{
		store:   s,
		learner: learner,
		sink:    sink,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}, nil
}

// ScriptName returns the file name used for language.
func ScriptName(language string) string {
	switch strings.ToLower(language) {
	case "python", "python3":
		return "script.py"
	case "node", "javascript", "js":
		return "script.js"
	default:
		return "script.txt"
	}
}

// DefaultCommand returns the interpreter invocation for language.
func DefaultCommand(language string) string {
	switch ScriptName(language) {
	case "script.py":
		return "python3 script.py"
	case "script.js":
		return "node script.js"
	default:
		return "sh script.txt"
	}
}

func (e *Engine) command(language, override string) string {
	if override != "" {
		return override
	}
	if cmd, ok := e.opts.Commands[strings.ToLower(language)]; ok && cmd != "" {
		return cmd
	}
	return DefaultCommand(language)
}

// RunCode executes the version content and records a CodeSandboxRun.
// Validation failures are reported through the run status, not the error.
func (e *Engine) RunCode(ctx context.Context, version *models.ArtifactVersion, language string, opts RunOptions) (*models.CodeSandboxRun, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("sandbox: waiting for a slot: %w", err)
	}
	defer e.sem.Release(1)

	command := e.command(language, opts.Command)
	run := &models.CodeSandboxRun{
		ArtifactVersionID: version.ID,
		WorkspaceID:       opts.WorkspaceID,
		Environment:       Environment,
		Command:           command,
		Status:            models.SandboxRunning,
		StartedAt:         time.Now().UTC(),
	}
	if err := e.store.CreateSandboxRun(ctx, run); err != nil {
		return nil, fmt.Errorf("sandbox: create run: %w", err)
	}

	e.sink.LogEvent(engineName, "Sandbox execution started", version.ID, map[string]any{
		"language": language,
		"command":  command,
	})

	e.execute(ctx, run, version.Content, language)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.ErrorMetadata = map[string]any{
		"provider":  opts.Provider,
		"model":     opts.Model,
		"exit_code": exitCodeValue(run.ExitCode),
	}

	if run.Status == models.SandboxSuccess {
		version.SandboxStatus = models.SandboxStatusPassed
	} else {
		version.SandboxStatus = models.SandboxStatusFailed
	}

	// Persistence and learning must complete even if the caller gave up.
	persistCtx := context.WithoutCancel(ctx)
	if err := e.store.SetSandboxStatus(persistCtx, version.ID, version.SandboxStatus); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithField("version_id", version.ID).Warnf("sandbox: failed to update version status: %v", err)
	}
	if err := e.store.UpdateSandboxRun(persistCtx, run); err != nil {
		log.WithField("run_id", run.ID).Errorf("sandbox: failed to record run: %v", err)
	}

	e.sink.LogEvent(engineName, "Sandbox execution completed", version.ID, map[string]any{
		"status":      run.Status,
		"exit_code":   exitCodeValue(run.ExitCode),
		"error_class": run.ErrorClass,
		"latency_ms":  run.LatencyMs(),
	})

	if err := e.learner.LearnFromSandbox(persistCtx, run); err != nil {
		log.WithField("run_id", run.ID).Warnf("sandbox: learning failed: %v", err)
	}
	return run, nil
}

// execute fills the outcome fields of run. The temp dir is removed on every
// path.
func (e *Engine) execute(ctx context.Context, run *models.CodeSandboxRun, content, language string) {
	dir, err := os.MkdirTemp(e.opts.WorkDir, "flowforge-sandbox-")
	if err != nil {
		e.markStartFailure(run, err)
		return
	}
	defer func() {
		if errRemove := os.RemoveAll(dir); errRemove != nil {
			log.Warnf("sandbox: failed to remove %s: %v", dir, errRemove)
		}
	}()

	if err := os.WriteFile(filepath.Join(dir, ScriptName(language)), []byte(content), 0o600); err != nil {
		e.markStartFailure(run, err)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.opts.Shell, "-c", run.Command)
	cmd.Dir = dir
	stdout := &cappedBuffer{limit: e.opts.MaxOutputBytes}
	stderr := &cappedBuffer{limit: e.opts.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second
	configureProcessGroup(cmd)

	log.Debugf("Executing sandbox command: %s (dir: %s)", run.Command, dir)
	err = cmd.Run()
	run.Stdout = stdout.String()
	run.Stderr = stderr.String()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		code := -1
		run.ExitCode = &code
		run.Status = models.SandboxFailed
		run.ErrorClass = ErrorClassTimeout
		run.ErrorMessage = fmt.Sprintf("execution exceeded %s", e.opts.Timeout)
		return
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		code := 0
		run.ExitCode = &code
		run.Status = models.SandboxSuccess
	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		run.ExitCode = &code
		run.Status = models.SandboxFailed
		run.ErrorClass = ErrorClassRuntime
		run.ErrorMessage = strings.TrimSpace(run.Stderr)
		if run.ErrorMessage == "" {
			run.ErrorMessage = "Unknown error"
		}
	default:
		e.markStartFailure(run, err)
	}
}

func (e *Engine) markStartFailure(run *models.CodeSandboxRun, err error) {
	run.Status = models.SandboxFailed
	run.ErrorClass = ErrorClass(err)
	run.ErrorMessage = err.Error()
	run.Stderr = err.Error()
}

// ErrorClass names the concrete Go type of err, e.g. "exec.Error".
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

func exitCodeValue(code *int) any {
	if code == nil {
		return nil
	}
	return *code
}

// cappedBuffer keeps at most limit bytes and discards the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
