// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/util"
)

// repo implements Store over a backend.
type repo struct {
	b backend
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func insertDoc[T any](ctx context.Context, b backend, t *table, id string, idx []eq, v *T) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", t.name, err)
	}
	return b.insert(ctx, t, id, idx, doc)
}

func updateDoc[T any](ctx context.Context, b backend, t *table, id string, idx []eq, v *T) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", t.name, err)
	}
	return b.update(ctx, t, id, idx, doc)
}

func getDoc[T any](ctx context.Context, b backend, t *table, id string) (*T, error) {
	doc, err := b.get(ctx, t, id)
	if err != nil {
		return nil, err
	}
	return decode[T](t, doc)
}

func queryDocs[T any](ctx context.Context, b backend, t *table, filters []eq, orderBy ...string) ([]*T, error) {
	docs, err := b.query(ctx, t, filters, orderBy...)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		v, err := decode[T](t, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func firstDoc[T any](ctx context.Context, b backend, t *table, filters []eq) (*T, error) {
	items, err := queryDocs[T](ctx, b, t, filters)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func decode[T any](t *table, doc []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", t.name, err)
	}
	return &v, nil
}

func stamp(id *string, created *time.Time) {
	if *id == "" {
		*id = util.NewID()
	}
	if created != nil && created.IsZero() {
		*created = time.Now().UTC()
	}
}

// Engines

func engineIdx(e *models.EngineConfig) []eq {
	return []eq{{"provider", e.Provider}, {"model", e.Model}, {"enabled", boolInt(e.Enabled)}, {"priority", int64(e.Priority)}}
}

func (r *repo) CreateEngineConfig(ctx context.Context, e *models.EngineConfig) error {
	stamp(&e.ID, &e.CreatedAt)
	return insertDoc(ctx, r.b, tblEngines, e.ID, engineIdx(e), e)
}

func (r *repo) UpdateEngineConfig(ctx context.Context, e *models.EngineConfig) error {
	return updateDoc(ctx, r.b, tblEngines, e.ID, engineIdx(e), e)
}

func (r *repo) GetEngineConfig(ctx context.Context, id string) (*models.EngineConfig, error) {
	return getDoc[models.EngineConfig](ctx, r.b, tblEngines, id)
}

func (r *repo) FindEngineConfig(ctx context.Context, provider, model string) (*models.EngineConfig, error) {
	return firstDoc[models.EngineConfig](ctx, r.b, tblEngines, []eq{{"provider", provider}, {"model", model}})
}

func (r *repo) ListEngineConfigs(ctx context.Context, enabledOnly bool) ([]*models.EngineConfig, error) {
	var filters []eq
	if enabledOnly {
		filters = append(filters, eq{"enabled", int64(1)})
	}
	return queryDocs[models.EngineConfig](ctx, r.b, tblEngines, filters, "priority")
}

// Workspaces

func (r *repo) CreateWorkspace(ctx context.Context, w *models.Workspace) error {
	stamp(&w.ID, &w.CreatedAt)
	return insertDoc(ctx, r.b, tblWorkspaces, w.ID, []eq{{"name", w.Name}}, w)
}

func (r *repo) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	return getDoc[models.Workspace](ctx, r.b, tblWorkspaces, id)
}

func (r *repo) ListWorkspaces(ctx context.Context) ([]*models.Workspace, error) {
	return queryDocs[models.Workspace](ctx, r.b, tblWorkspaces, nil)
}

// Flows

func (r *repo) CreateFlow(ctx context.Context, f *models.FlowDefinition) error {
	stamp(&f.ID, &f.CreatedAt)
	return insertDoc(ctx, r.b, tblFlows, f.ID, []eq{{"workspace_id", f.WorkspaceID}, {"flow_key", f.Key}}, f)
}

func (r *repo) GetFlowByKey(ctx context.Context, workspaceID, key string) (*models.FlowDefinition, error) {
	return firstDoc[models.FlowDefinition](ctx, r.b, tblFlows, []eq{{"workspace_id", workspaceID}, {"flow_key", key}})
}

func (r *repo) ListFlows(ctx context.Context, workspaceID string) ([]*models.FlowDefinition, error) {
	return queryDocs[models.FlowDefinition](ctx, r.b, tblFlows, []eq{{"workspace_id", workspaceID}})
}

// Flow runs

func flowRunIdx(fr *models.FlowRun) []eq {
	return []eq{{"workspace_id", fr.WorkspaceID}, {"flow_id", fr.FlowID}, {"trace_id", fr.TraceID}}
}

func (r *repo) CreateFlowRun(ctx context.Context, fr *models.FlowRun) error {
	stamp(&fr.ID, &fr.StartedAt)
	return insertDoc(ctx, r.b, tblFlowRuns, fr.ID, flowRunIdx(fr), fr)
}

func (r *repo) UpdateFlowRun(ctx context.Context, fr *models.FlowRun) error {
	return updateDoc(ctx, r.b, tblFlowRuns, fr.ID, flowRunIdx(fr), fr)
}

func (r *repo) GetFlowRun(ctx context.Context, id string) (*models.FlowRun, error) {
	return getDoc[models.FlowRun](ctx, r.b, tblFlowRuns, id)
}

func (r *repo) ListFlowRuns(ctx context.Context, workspaceID string) ([]*models.FlowRun, error) {
	return queryDocs[models.FlowRun](ctx, r.b, tblFlowRuns, []eq{{"workspace_id", workspaceID}})
}

func (r *repo) ListFlowRunsByTrace(ctx context.Context, traceID string) ([]*models.FlowRun, error) {
	return queryDocs[models.FlowRun](ctx, r.b, tblFlowRuns, []eq{{"trace_id", traceID}})
}

// Artifacts

func artifactIdx(a *models.Artifact) []eq {
	return []eq{{"workspace_id", a.WorkspaceID}, {"artifact_key", a.Key}}
}

func (r *repo) CreateArtifact(ctx context.Context, a *models.Artifact) error {
	stamp(&a.ID, &a.CreatedAt)
	return insertDoc(ctx, r.b, tblArtifacts, a.ID, artifactIdx(a), a)
}

func (r *repo) UpdateArtifact(ctx context.Context, a *models.Artifact) error {
	return updateDoc(ctx, r.b, tblArtifacts, a.ID, artifactIdx(a), a)
}

func (r *repo) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	return getDoc[models.Artifact](ctx, r.b, tblArtifacts, id)
}

func (r *repo) FindArtifact(ctx context.Context, workspaceID, key string) (*models.Artifact, error) {
	return firstDoc[models.Artifact](ctx, r.b, tblArtifacts, []eq{{"workspace_id", workspaceID}, {"artifact_key", key}})
}

func (r *repo) ListArtifacts(ctx context.Context, workspaceID string) ([]*models.Artifact, error) {
	return queryDocs[models.Artifact](ctx, r.b, tblArtifacts, []eq{{"workspace_id", workspaceID}})
}

// Artifact versions

func versionIdx(v *models.ArtifactVersion) []eq {
	return []eq{{"artifact_id", v.ArtifactID}, {"version_index", int64(v.VersionIndex)}}
}

func (r *repo) CreateArtifactVersion(ctx context.Context, v *models.ArtifactVersion) error {
	stamp(&v.ID, &v.CreatedAt)
	if v.SandboxStatus == "" {
		v.SandboxStatus = models.SandboxStatusUnknown
	}
	return insertDoc(ctx, r.b, tblVersions, v.ID, versionIdx(v), v)
}

func (r *repo) ListArtifactVersions(ctx context.Context, artifactID string) ([]*models.ArtifactVersion, error) {
	return queryDocs[models.ArtifactVersion](ctx, r.b, tblVersions, []eq{{"artifact_id", artifactID}}, "version_index")
}

func (r *repo) LatestArtifactVersion(ctx context.Context, artifactID string) (*models.ArtifactVersion, error) {
	versions, err := r.ListArtifactVersions(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return versions[len(versions)-1], nil
}

func (r *repo) SetSandboxStatus(ctx context.Context, versionID, status string) error {
	v, err := getDoc[models.ArtifactVersion](ctx, r.b, tblVersions, versionID)
	if err != nil {
		return err
	}
	v.SandboxStatus = status
	return updateDoc(ctx, r.b, tblVersions, v.ID, versionIdx(v), v)
}

// Logs

func (r *repo) CreatePromptLog(ctx context.Context, p *models.PromptLog) error {
	stamp(&p.ID, &p.CreatedAt)
	return insertDoc(ctx, r.b, tblPromptLogs, p.ID, []eq{{"flow_run_id", p.FlowRunID}}, p)
}

func (r *repo) ListPromptLogs(ctx context.Context, flowRunID string) ([]*models.PromptLog, error) {
	return queryDocs[models.PromptLog](ctx, r.b, tblPromptLogs, []eq{{"flow_run_id", flowRunID}})
}

func (r *repo) CreateAIRunLog(ctx context.Context, l *models.AIRunLog) error {
	stamp(&l.ID, &l.CreatedAt)
	return insertDoc(ctx, r.b, tblAIRunLogs, l.ID, []eq{{"flow_run_id", l.FlowRunID}}, l)
}

func (r *repo) ListAIRunLogs(ctx context.Context, flowRunID string) ([]*models.AIRunLog, error) {
	return queryDocs[models.AIRunLog](ctx, r.b, tblAIRunLogs, []eq{{"flow_run_id", flowRunID}})
}

// Sandbox runs

func (r *repo) CreateSandboxRun(ctx context.Context, sr *models.CodeSandboxRun) error {
	stamp(&sr.ID, &sr.StartedAt)
	return insertDoc(ctx, r.b, tblSandboxRuns, sr.ID, []eq{{"artifact_version_id", sr.ArtifactVersionID}}, sr)
}

func (r *repo) UpdateSandboxRun(ctx context.Context, sr *models.CodeSandboxRun) error {
	return updateDoc(ctx, r.b, tblSandboxRuns, sr.ID, []eq{{"artifact_version_id", sr.ArtifactVersionID}}, sr)
}

func (r *repo) ListSandboxRuns(ctx context.Context, artifactVersionID string) ([]*models.CodeSandboxRun, error) {
	return queryDocs[models.CodeSandboxRun](ctx, r.b, tblSandboxRuns, []eq{{"artifact_version_id", artifactVersionID}})
}

// Patterns

func (r *repo) CreateErrorPattern(ctx context.Context, p *models.ErrorPattern) error {
	stamp(&p.ID, &p.CreatedAt)
	return insertDoc(ctx, r.b, tblErrorPattern, p.ID, []eq{{"signature", p.Signature}}, p)
}

func (r *repo) GetErrorPatternBySignature(ctx context.Context, signature string) (*models.ErrorPattern, error) {
	return firstDoc[models.ErrorPattern](ctx, r.b, tblErrorPattern, []eq{{"signature", signature}})
}

func (r *repo) ListErrorPatterns(ctx context.Context) ([]*models.ErrorPattern, error) {
	return queryDocs[models.ErrorPattern](ctx, r.b, tblErrorPattern, nil)
}

func (r *repo) CreateFixPattern(ctx context.Context, f *models.FixPattern) error {
	stamp(&f.ID, &f.CreatedAt)
	return insertDoc(ctx, r.b, tblFixPatterns, f.ID, []eq{{"error_pattern_id", f.ErrorPatternID}}, f)
}

func (r *repo) ListFixPatterns(ctx context.Context, errorPatternID string) ([]*models.FixPattern, error) {
	return queryDocs[models.FixPattern](ctx, r.b, tblFixPatterns, []eq{{"error_pattern_id", errorPatternID}})
}

// Diffs

func (r *repo) CreateCodeDiff(ctx context.Context, d *models.CodeDiff) error {
	stamp(&d.ID, &d.CreatedAt)
	return insertDoc(ctx, r.b, tblCodeDiffs, d.ID, []eq{{"artifact_version_id", d.ArtifactVersionID}}, d)
}

func (r *repo) UpdateCodeDiff(ctx context.Context, d *models.CodeDiff) error {
	return updateDoc(ctx, r.b, tblCodeDiffs, d.ID, []eq{{"artifact_version_id", d.ArtifactVersionID}}, d)
}

func (r *repo) ListCodeDiffs(ctx context.Context, artifactVersionID string) ([]*models.CodeDiff, error) {
	return queryDocs[models.CodeDiff](ctx, r.b, tblCodeDiffs, []eq{{"artifact_version_id", artifactVersionID}})
}

// File audits

func auditIdx(a *models.FileAudit) []eq {
	return []eq{{"workspace_id", a.WorkspaceID}, {"file_path", a.FilePath}}
}

func (r *repo) CreateFileAudit(ctx context.Context, a *models.FileAudit) error {
	stamp(&a.ID, &a.CreatedAt)
	return insertDoc(ctx, r.b, tblFileAudits, a.ID, auditIdx(a), a)
}

func (r *repo) UpdateFileAudit(ctx context.Context, a *models.FileAudit) error {
	return updateDoc(ctx, r.b, tblFileAudits, a.ID, auditIdx(a), a)
}

func (r *repo) GetFileAudit(ctx context.Context, id string) (*models.FileAudit, error) {
	return getDoc[models.FileAudit](ctx, r.b, tblFileAudits, id)
}

func (r *repo) CreateFileRollback(ctx context.Context, fr *models.FileRollback) error {
	stamp(&fr.ID, &fr.CreatedAt)
	return insertDoc(ctx, r.b, tblRollbacks, fr.ID, []eq{{"audit_id", fr.AuditID}}, fr)
}

func (r *repo) ListFileRollbacks(ctx context.Context, auditID string) ([]*models.FileRollback, error) {
	return queryDocs[models.FileRollback](ctx, r.b, tblRollbacks, []eq{{"audit_id", auditID}})
}

// Stats

func (r *repo) GetEnginePerformance(ctx context.Context, provider, model string) (*models.EnginePerformance, error) {
	return firstDoc[models.EnginePerformance](ctx, r.b, tblPerformance, []eq{{"provider", provider}, {"model", model}})
}

// SaveEnginePerformance inserts the row when it has no id yet, else updates it.
func (r *repo) SaveEnginePerformance(ctx context.Context, p *models.EnginePerformance) error {
	p.UpdatedAt = time.Now().UTC()
	idx := []eq{{"provider", p.Provider}, {"model", p.Model}}
	if p.ID == "" {
		p.ID = util.NewID()
		return insertDoc(ctx, r.b, tblPerformance, p.ID, idx, p)
	}
	return updateDoc(ctx, r.b, tblPerformance, p.ID, idx, p)
}

func (r *repo) GetWorkspaceAnalytics(ctx context.Context, workspaceID string) (*models.WorkspaceAnalytics, error) {
	return firstDoc[models.WorkspaceAnalytics](ctx, r.b, tblAnalytics, []eq{{"workspace_id", workspaceID}})
}

// SaveWorkspaceAnalytics inserts the row when it has no id yet, else updates it.
func (r *repo) SaveWorkspaceAnalytics(ctx context.Context, a *models.WorkspaceAnalytics) error {
	a.UpdatedAt = time.Now().UTC()
	idx := []eq{{"workspace_id", a.WorkspaceID}}
	if a.ID == "" {
		a.ID = util.NewID()
		return insertDoc(ctx, r.b, tblAnalytics, a.ID, idx, a)
	}
	return updateDoc(ctx, r.b, tblAnalytics, a.ID, idx, a)
}

func (r *repo) Begin(ctx context.Context) (Store, error) {
	b, err := r.b.begin(ctx)
	if err != nil {
		return nil, err
	}
	return &repo{b: b}, nil
}

func (r *repo) Commit(ctx context.Context) error   { return r.b.commit(ctx) }
func (r *repo) Rollback(ctx context.Context) error { return r.b.rollback(ctx) }
func (r *repo) Close() error                       { return r.b.close() }
