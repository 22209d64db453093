// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package audit

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/util"
)

// Committer is the persistence hook used by UPDATE_DB actions.
type Committer interface {
	Commit(ctx context.Context) error
}

// ActionExecutor applies audit actions.
type ActionExecutor struct {
	db       Committer
	guard    *PathGuard
	sink     events.Sink
	readOnly bool
}

// NewActionExecutor builds an executor. db and guard may be nil.
func NewActionExecutor(db Committer, guard *PathGuard, sink events.Sink) *ActionExecutor {
	if sink == nil {
		sink = events.Nop{}
	}
	return &ActionExecutor{db: db, guard: guard, sink: sink}
}

// SetReadOnly makes file actions fail with util.ErrReadOnlyMode.
func (x *ActionExecutor) SetReadOnly(readOnly bool) {
	x.readOnly = readOnly
}

// ApplyActions runs every action of every result. In dry-run mode actions are
// only logged. Failures do not stop later actions; they are joined into the
// returned error.
func (x *ActionExecutor) ApplyActions(ctx context.Context, results []*AuditResult, dryRun bool) error {
	traceID := util.NewTraceID()
	x.sink.LogEvent(engineName, "Applying audit actions", traceID, map[string]any{
		"dry_run":      dryRun,
		"result_count": len(results),
	})

	var errs []error
	for _, result := range results {
		for _, action := range result.Actions {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			if err := x.apply(ctx, action, traceID, dryRun); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (x *ActionExecutor) apply(ctx context.Context, action *AuditAction, traceID string, dryRun bool) error {
	message := "Executing audit action"
	if dryRun {
		message = "Simulating audit action"
	}
	x.sink.LogEvent(engineName, message, traceID, map[string]any{
		"action_type": string(action.Type),
		"description": action.Description,
		"payload":     action.Payload,
		"dry_run":     dryRun,
	})
	if dryRun {
		return nil
	}

	switch action.Type {
	case ActionCreateFile, ActionUpdateFile, ActionDeleteFile:
		path, _ := action.Payload["path"].(string)
		if blocked, reason := x.guard.CheckPath(path); blocked {
			x.sink.LogEvent(engineName, "Audit action blocked", traceID, map[string]any{
				"action_type": string(action.Type),
				"path":        path,
				"reason":      reason,
			})
			return nil
		}
		switch action.Type {
		case ActionCreateFile:
			return x.createFile(action, path, traceID)
		case ActionUpdateFile:
			return x.updateFile(action, path, traceID)
		default:
			return x.deleteFile(action, path, traceID)
		}
	case ActionUpdateDB:
		return x.updateDB(ctx, action, traceID)
	case ActionNoop, ActionSuggestChange, ActionApplyChange:
		x.sink.LogEvent(engineName, "Audit action recorded", traceID, map[string]any{
			"action_type": string(action.Type),
			"description": action.Description,
			"payload":     action.Payload,
		})
		return nil
	default:
		return fmt.Errorf("audit: unknown action kind %q", action.Type)
	}
}

func content(action *AuditAction) []byte {
	s, _ := action.Payload["content"].(string)
	return []byte(s)
}

func (x *ActionExecutor) createFile(action *AuditAction, path, traceID string) error {
	opts := &util.SecureWriteOptions{Permissions: util.FileMode(path, newFileMode), ReadOnly: x.readOnly}
	if err := util.SecureWrite(path, content(action), opts); err != nil {
		return fmt.Errorf("audit: create %s: %w", path, err)
	}
	x.sink.LogEvent(engineName, "File created", traceID, map[string]any{
		"path":        path,
		"description": action.Description,
	})
	return nil
}

func (x *ActionExecutor) updateFile(action *AuditAction, path, traceID string) error {
	opts := &util.SecureWriteOptions{
		CreateBackup: true,
		Permissions:  util.FileMode(path, newFileMode),
		ReadOnly:     x.readOnly,
	}
	if err := util.SecureWrite(path, content(action), opts); err != nil {
		return fmt.Errorf("audit: update %s: %w", path, err)
	}
	x.sink.LogEvent(engineName, "File updated", traceID, map[string]any{
		"path":        path,
		"backup":      util.BackupPath(path),
		"description": action.Description,
	})
	return nil
}

func (x *ActionExecutor) deleteFile(action *AuditAction, path, traceID string) error {
	if x.readOnly {
		return fmt.Errorf("audit: delete %s: %w", path, util.ErrReadOnlyMode)
	}
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		x.sink.LogEvent(engineName, "Delete skipped (file not found)", traceID, map[string]any{"path": path})
		return nil
	}
	if err != nil {
		return fmt.Errorf("audit: delete %s: %w", path, err)
	}
	x.sink.LogEvent(engineName, "File deleted", traceID, map[string]any{
		"path":        path,
		"description": action.Description,
	})
	return nil
}

// updateDB performs no mutation; it only commits whatever the store holds.
func (x *ActionExecutor) updateDB(ctx context.Context, action *AuditAction, traceID string) error {
	if x.db == nil {
		x.sink.LogEvent(engineName, "DB update skipped (no store)", traceID, map[string]any{"payload": action.Payload})
		return nil
	}
	if err := x.db.Commit(ctx); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	x.sink.LogEvent(engineName, "DB update applied (placeholder)", traceID, map[string]any{
		"description": action.Description,
		"payload":     action.Payload,
	})
	return nil
}
