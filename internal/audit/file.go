// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/sandbox"
	"github.com/traylinx/flowforge/internal/store"
	"github.com/traylinx/flowforge/internal/util"
)

// ErrInvalidPath is returned for an empty or whitespace-only file path.
var ErrInvalidPath = errors.New("audit: invalid file path")

// Audit statuses.
const (
	StatusPending = "pending"
	StatusDryRun  = "dry_run"
	StatusPassed  = "passed"
	StatusFailed  = "failed"
)

// AuditArtifactID marks the synthetic version validated for a file change.
const AuditArtifactID = "audit-artifact"

// FileChange describes one proposed file mutation.
type FileChange struct {
	WorkspaceID string
	FilePath    string
	NewContent  string
	Language    string
	RunSandbox  bool
	DryRun      bool
	// Command overrides the sandbox command.
	Command string
}

// NewFileChange returns a change that is validated in the sandbox.
func NewFileChange(workspaceID, filePath, newContent, language string) FileChange {
	if language == "" {
		language = "python"
	}
	return FileChange{
		WorkspaceID: workspaceID,
		FilePath:    filePath,
		NewContent:  newContent,
		Language:    language,
		RunSandbox:  true,
	}
}

// CodeRunner validates content. *sandbox.Engine satisfies it.
type CodeRunner interface {
	RunCode(ctx context.Context, version *models.ArtifactVersion, language string, opts sandbox.RunOptions) (*models.CodeSandboxRun, error)
}

// DiffLearner persists rejected diffs. *teaching.Engine satisfies it.
type DiffLearner interface {
	LearnFromDiff(ctx context.Context, diff *models.CodeDiff) (string, error)
}

// FileOptions configures a FileAuditor.
type FileOptions struct {
	// RemoveUnvalidatedFirstWrite deletes a new file whose validation failed.
	RemoveUnvalidatedFirstWrite bool
	// Locks serializes mutations per absolute path. Shared with other
	// auditors touching the same tree.
	Locks *util.KeyedMutex
	// ReadOnly refuses every file write; changes are recorded as failed
	// audits carrying util.ErrReadOnlyMode.
	ReadOnly bool
}

// newFileMode is used for files the auditor creates.
const newFileMode os.FileMode = 0o644

// FileAuditor applies file changes behind backup, validation and rollback.
type FileAuditor struct {
	store   store.Store
	runner  CodeRunner
	learner DiffLearner
	sink    events.Sink
	opts    FileOptions
}

// NewFileAuditor wires a file auditor. learner may be nil, in which case
// diffs are stored directly.
func NewFileAuditor(s store.Store, runner CodeRunner, learner DiffLearner, sink events.Sink, opts FileOptions) *FileAuditor {
	if sink == nil {
		sink = events.Nop{}
	}
	if opts.Locks == nil {
		opts.Locks = util.NewKeyedMutex()
	}
	return &FileAuditor{store: s, runner: runner, learner: learner, sink: sink, opts: opts}
}

// ApplyChangeWithAudit writes change.NewContent to change.FilePath. Existing
// content is backed up first; a change that fails validation is rolled back.
// Validation failure is reported through the audit status, not the error.
func (a *FileAuditor) ApplyChangeWithAudit(ctx context.Context, change FileChange) (*models.FileAudit, error) {
	if strings.TrimSpace(change.FilePath) == "" {
		return nil, ErrInvalidPath
	}
	lockKey := change.FilePath
	if abs, err := filepath.Abs(change.FilePath); err == nil {
		lockKey = abs
	}
	unlock := a.opts.Locks.Lock(lockKey)
	defer unlock()

	traceID := util.NewTraceID()
	path := change.FilePath

	oldContent, err := util.ReadFileIfExists(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read %s: %w", path, err)
	}
	mode := util.FileMode(path, newFileMode)

	audit := &models.FileAudit{
		WorkspaceID: change.WorkspaceID,
		FilePath:    path,
		NewContent:  change.NewContent,
		OldContent:  oldContent,
		AuditStatus: StatusPending,
		Metadata: map[string]any{
			"language": change.Language,
			"dry_run":  change.DryRun,
			"trace_id": traceID,
		},
	}
	if err := a.store.CreateFileAudit(ctx, audit); err != nil {
		return nil, fmt.Errorf("audit: create file audit: %w", err)
	}
	a.sink.LogEvent(engineName, "Audit started", traceID, map[string]any{
		"file_path": path,
		"dry_run":   change.DryRun,
	})

	if oldContent != nil {
		if err := util.SecureWrite(util.BackupPath(path), []byte(*oldContent), a.writeOptions(mode)); err != nil {
			return a.abort(ctx, audit, traceID, fmt.Errorf("audit: backup %s: %w", path, err))
		}
	}

	if change.DryRun {
		return a.finish(ctx, audit, StatusDryRun, traceID, "Audit dry run recorded")
	}

	if err := util.SecureWrite(path, []byte(change.NewContent), a.writeOptions(mode)); err != nil {
		return a.abort(ctx, audit, traceID, fmt.Errorf("audit: write %s: %w", path, err))
	}

	if change.RunSandbox && !a.validate(ctx, audit, change, oldContent, traceID) {
		rbErr := a.rollback(ctx, audit, path, oldContent, mode, traceID)
		if rbErr != nil {
			audit.Metadata["error"] = rbErr.Error()
		}
		result, err := a.finish(ctx, audit, StatusFailed, traceID, "Audit failed, rolled back")
		if rbErr != nil {
			return result, rbErr
		}
		return result, err
	}
	return a.finish(ctx, audit, StatusPassed, traceID, "Audit passed")
}

// validate runs the new content in the sandbox and records a diff on failure.
func (a *FileAuditor) validate(ctx context.Context, audit *models.FileAudit, change FileChange, oldContent *string, traceID string) bool {
	if a.runner == nil {
		log.Warnf("audit: no sandbox configured; treating %s as unvalidated", change.FilePath)
		return false
	}
	version := &models.ArtifactVersion{
		ID:              util.NewID(),
		ArtifactID:      AuditArtifactID,
		VersionIndex:    1,
		Content:         change.NewContent,
		ContentFormat:   "text",
		CreatedByEngine: engineName,
		SandboxStatus:   models.SandboxStatusUnknown,
	}
	run, err := a.runner.RunCode(ctx, version, change.Language, sandbox.RunOptions{
		WorkspaceID: change.WorkspaceID,
		Command:     change.Command,
	})
	if err != nil {
		a.sink.LogEvent(engineName, "Sandbox unavailable", traceID, map[string]any{"error": err.Error()})
	} else {
		audit.Metadata["sandbox_run_id"] = run.ID
		if run.Status == models.SandboxSuccess {
			return true
		}
	}

	before := ""
	if oldContent != nil {
		before = *oldContent
	}
	diff := &models.CodeDiff{
		ArtifactVersionID: version.ID,
		Before:            before,
		After:             change.NewContent,
		Diff:              SimpleDiff(before, change.NewContent),
		Metadata:          map[string]any{"file_path": change.FilePath, "audit_id": audit.ID},
	}
	if a.learner != nil {
		if _, err := a.learner.LearnFromDiff(ctx, diff); err != nil {
			log.Warnf("audit: failed to learn from diff for %s: %v", change.FilePath, err)
		}
	} else if err := a.store.CreateCodeDiff(ctx, diff); err != nil {
		log.Warnf("audit: failed to record diff for %s: %v", change.FilePath, err)
	}
	if diff.ID != "" {
		audit.Metadata["code_diff_id"] = diff.ID
	}
	return false
}

// rollback restores the previous content, or removes a first write when
// configured to.
func (a *FileAuditor) rollback(ctx context.Context, audit *models.FileAudit, path string, oldContent *string, mode os.FileMode, traceID string) error {
	if oldContent != nil {
		if err := util.SecureWrite(path, []byte(*oldContent), a.writeOptions(mode)); err != nil {
			return fmt.Errorf("audit: restore %s: %w", path, err)
		}
		rb := &models.FileRollback{
			AuditID:         audit.ID,
			RestoredContent: *oldContent,
			Metadata:        map[string]any{"file_path": path, "trace_id": traceID},
		}
		if err := a.store.CreateFileRollback(ctx, rb); err != nil {
			return fmt.Errorf("audit: record rollback: %w", err)
		}
		return nil
	}

	if !a.opts.RemoveUnvalidatedFirstWrite {
		audit.Metadata["first_write_kept"] = true
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("audit: remove unvalidated %s: %w", path, err)
	}
	audit.Metadata["first_write_removed"] = true
	return nil
}

func (a *FileAuditor) writeOptions(mode os.FileMode) *util.SecureWriteOptions {
	return &util.SecureWriteOptions{Permissions: mode, ReadOnly: a.opts.ReadOnly}
}

func (a *FileAuditor) finish(ctx context.Context, audit *models.FileAudit, status, traceID, message string) (*models.FileAudit, error) {
	audit.AuditStatus = status
	if err := a.store.UpdateFileAudit(ctx, audit); err != nil {
		return audit, fmt.Errorf("audit: update file audit: %w", err)
	}
	a.sink.LogEvent(engineName, message, traceID, map[string]any{
		"audit_id":  audit.ID,
		"file_path": audit.FilePath,
		"status":    status,
	})
	return audit, nil
}

// abort marks the audit failed after an I/O error and returns cause.
func (a *FileAuditor) abort(ctx context.Context, audit *models.FileAudit, traceID string, cause error) (*models.FileAudit, error) {
	audit.Metadata["error"] = cause.Error()
	if _, err := a.finish(ctx, audit, StatusFailed, traceID, "Audit aborted"); err != nil {
		log.Errorf("audit: %v", err)
	}
	return audit, cause
}
