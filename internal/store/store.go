// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store persists the flowforge entities. A single typed repository
// sits on top of a small document backend; the in-memory and SQL backends
// (SQLite via mattn/go-sqlite3, Postgres via pgx) share its semantics.
package store

import (
	"context"
	"errors"

	"github.com/traylinx/flowforge/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("store: transaction already finished")
	// ErrNestedTx is returned by Begin on a transaction.
	ErrNestedTx = errors.New("store: nested transactions are not supported")
)

// Store is the persistence collaborator used by every engine.
type Store interface {
	CreateEngineConfig(ctx context.Context, e *models.EngineConfig) error
	UpdateEngineConfig(ctx context.Context, e *models.EngineConfig) error
	GetEngineConfig(ctx context.Context, id string) (*models.EngineConfig, error)
	FindEngineConfig(ctx context.Context, provider, model string) (*models.EngineConfig, error)
	// ListEngineConfigs orders by priority ascending, ties by creation order.
	ListEngineConfigs(ctx context.Context, enabledOnly bool) ([]*models.EngineConfig, error)

	CreateWorkspace(ctx context.Context, w *models.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	ListWorkspaces(ctx context.Context) ([]*models.Workspace, error)

	CreateFlow(ctx context.Context, f *models.FlowDefinition) error
	GetFlowByKey(ctx context.Context, workspaceID, key string) (*models.FlowDefinition, error)
	ListFlows(ctx context.Context, workspaceID string) ([]*models.FlowDefinition, error)

	CreateFlowRun(ctx context.Context, r *models.FlowRun) error
	UpdateFlowRun(ctx context.Context, r *models.FlowRun) error
	GetFlowRun(ctx context.Context, id string) (*models.FlowRun, error)
	// ListFlowRuns returns the workspace's runs, oldest first.
	ListFlowRuns(ctx context.Context, workspaceID string) ([]*models.FlowRun, error)
	// ListFlowRunsByTrace returns every run started under traceID, oldest first.
	ListFlowRunsByTrace(ctx context.Context, traceID string) ([]*models.FlowRun, error)

	CreateArtifact(ctx context.Context, a *models.Artifact) error
	UpdateArtifact(ctx context.Context, a *models.Artifact) error
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	FindArtifact(ctx context.Context, workspaceID, key string) (*models.Artifact, error)
	ListArtifacts(ctx context.Context, workspaceID string) ([]*models.Artifact, error)

	CreateArtifactVersion(ctx context.Context, v *models.ArtifactVersion) error
	// ListArtifactVersions orders by version index ascending.
	ListArtifactVersions(ctx context.Context, artifactID string) ([]*models.ArtifactVersion, error)
	LatestArtifactVersion(ctx context.Context, artifactID string) (*models.ArtifactVersion, error)
	SetSandboxStatus(ctx context.Context, versionID, status string) error

	CreatePromptLog(ctx context.Context, p *models.PromptLog) error
	ListPromptLogs(ctx context.Context, flowRunID string) ([]*models.PromptLog, error)
	CreateAIRunLog(ctx context.Context, l *models.AIRunLog) error
	ListAIRunLogs(ctx context.Context, flowRunID string) ([]*models.AIRunLog, error)

	CreateSandboxRun(ctx context.Context, r *models.CodeSandboxRun) error
	UpdateSandboxRun(ctx context.Context, r *models.CodeSandboxRun) error
	ListSandboxRuns(ctx context.Context, artifactVersionID string) ([]*models.CodeSandboxRun, error)

	CreateErrorPattern(ctx context.Context, p *models.ErrorPattern) error
	GetErrorPatternBySignature(ctx context.Context, signature string) (*models.ErrorPattern, error)
	ListErrorPatterns(ctx context.Context) ([]*models.ErrorPattern, error)
	CreateFixPattern(ctx context.Context, f *models.FixPattern) error
	ListFixPatterns(ctx context.Context, errorPatternID string) ([]*models.FixPattern, error)

	CreateCodeDiff(ctx context.Context, d *models.CodeDiff) error
	UpdateCodeDiff(ctx context.Context, d *models.CodeDiff) error
	ListCodeDiffs(ctx context.Context, artifactVersionID string) ([]*models.CodeDiff, error)

	CreateFileAudit(ctx context.Context, a *models.FileAudit) error
	UpdateFileAudit(ctx context.Context, a *models.FileAudit) error
	GetFileAudit(ctx context.Context, id string) (*models.FileAudit, error)
	CreateFileRollback(ctx context.Context, r *models.FileRollback) error
	ListFileRollbacks(ctx context.Context, auditID string) ([]*models.FileRollback, error)

	GetEnginePerformance(ctx context.Context, provider, model string) (*models.EnginePerformance, error)
	SaveEnginePerformance(ctx context.Context, p *models.EnginePerformance) error
	GetWorkspaceAnalytics(ctx context.Context, workspaceID string) (*models.WorkspaceAnalytics, error)
	SaveWorkspaceAnalytics(ctx context.Context, a *models.WorkspaceAnalytics) error

	// Begin starts a unit of work. Writes made through the returned Store
	// are kept by Commit and discarded by Rollback; Rollback after Commit is
	// a no-op, so it can be deferred. Transactions do not nest.
	Begin(ctx context.Context) (Store, error)
	// Commit and Rollback finish a unit of work started by Begin. On a store
	// that did not come from Begin every write is already durable, so both
	// return nil without effect.
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Close releases the store. On a transaction it rolls back unless the
	// transaction already finished.
	Close() error
}

// column is an indexed, queryable field stored alongside the document.
type column struct {
	name    string
	integer bool
}

// table describes one entity collection.
type table struct {
	name    string
	columns []column
	unique  [][]string
}

var (
	tblEngines = &table{
		name:    "engine_configs",
		columns: []column{{name: "provider"}, {name: "model"}, {name: "enabled", integer: true}, {name: "priority", integer: true}},
		unique:  [][]string{{"provider", "model"}},
	}
	tblWorkspaces = &table{name: "workspaces", columns: []column{{name: "name"}}}
	tblFlows      = &table{
		name:    "flow_definitions",
		columns: []column{{name: "workspace_id"}, {name: "flow_key"}},
		unique:  [][]string{{"workspace_id", "flow_key"}},
	}
	tblFlowRuns  = &table{name: "flow_runs", columns: []column{{name: "workspace_id"}, {name: "flow_id"}, {name: "trace_id"}}}
	tblArtifacts = &table{
		name:    "artifacts",
		columns: []column{{name: "workspace_id"}, {name: "artifact_key"}},
		unique:  [][]string{{"workspace_id", "artifact_key"}},
	}
	tblVersions = &table{
		name:    "artifact_versions",
		columns: []column{{name: "artifact_id"}, {name: "version_index", integer: true}},
		unique:  [][]string{{"artifact_id", "version_index"}},
	}
	tblPromptLogs   = &table{name: "prompt_logs", columns: []column{{name: "flow_run_id"}}}
	tblAIRunLogs    = &table{name: "ai_run_logs", columns: []column{{name: "flow_run_id"}}}
	tblSandboxRuns  = &table{name: "code_sandbox_runs", columns: []column{{name: "artifact_version_id"}}}
	tblErrorPattern = &table{
		name:    "error_patterns",
		columns: []column{{name: "signature"}},
		unique:  [][]string{{"signature"}},
	}
	tblFixPatterns  = &table{name: "fix_patterns", columns: []column{{name: "error_pattern_id"}}}
	tblCodeDiffs    = &table{name: "code_diffs", columns: []column{{name: "artifact_version_id"}}}
	tblFileAudits   = &table{name: "file_audits", columns: []column{{name: "workspace_id"}, {name: "file_path"}}}
	tblRollbacks    = &table{name: "file_rollbacks", columns: []column{{name: "audit_id"}}}
	tblPerformance  = &table{
		name:    "engine_performance",
		columns: []column{{name: "provider"}, {name: "model"}},
		unique:  [][]string{{"provider", "model"}},
	}
	tblAnalytics = &table{
		name:    "workspace_analytics",
		columns: []column{{name: "workspace_id"}},
		unique:  [][]string{{"workspace_id"}},
	}

	allTables = []*table{
		tblEngines, tblWorkspaces, tblFlows, tblFlowRuns, tblArtifacts, tblVersions,
		tblPromptLogs, tblAIRunLogs, tblSandboxRuns, tblErrorPattern, tblFixPatterns,
		tblCodeDiffs, tblFileAudits, tblRollbacks, tblPerformance, tblAnalytics,
	}
)

// eq is an equality filter on an indexed column.
type eq struct {
	col string
	val any
}

// backend stores opaque JSON documents keyed by id with indexed columns.
type backend interface {
	insert(ctx context.Context, t *table, id string, idx []eq, doc []byte) error
	update(ctx context.Context, t *table, id string, idx []eq, doc []byte) error
	get(ctx context.Context, t *table, id string) ([]byte, error)
	// query returns documents matching all filters, ordered by the given
	// columns and then by insertion order.
	query(ctx context.Context, t *table, filters []eq, orderBy ...string) ([][]byte, error)
	begin(ctx context.Context) (backend, error)
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
	close() error
}
