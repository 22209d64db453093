// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package models defines the persistent entities shared by the flow, sandbox,
// audit and learning engines.
package models

import "time"

// FlowRun statuses.
const (
	FlowRunRunning = "running"
	FlowRunSuccess = "success"
	FlowRunFailed  = "failed"
)

// Sandbox run statuses.
const (
	SandboxRunning = "running"
	SandboxSuccess = "success"
	SandboxFailed  = "failed"
)

// ArtifactVersion sandbox statuses.
const (
	SandboxStatusUnknown = "unknown"
	SandboxStatusPassed  = "passed"
	SandboxStatusFailed  = "failed"
)

// FileAudit statuses.
const (
	AuditPending = "pending"
	AuditDryRun  = "dry_run"
	AuditPassed  = "passed"
	AuditFailed  = "failed"
)

// Artifact types produced by flows.
const (
	ArtifactCode   = "code"
	ArtifactDoc    = "doc"
	ArtifactAsset  = "asset"
	ArtifactShader = "shader"
	ArtifactConfig = "config"
	ArtifactMixed  = "mixed"
)

// EngineConfig is a routable (provider, model) pair.
type EngineConfig struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Label         string    `json:"label"`
	Enabled       bool      `json:"enabled"`
	Priority      int       `json:"priority"`
	AllowFallback bool      `json:"allow_fallback"`
	TotalCalls    int64     `json:"total_calls"`
	TotalTokens   int64     `json:"total_tokens"`
	AvgLatencyMs  int64     `json:"avg_latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Workspace groups flows, artifacts and analytics.
type Workspace struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	OwnerID       string         `json:"owner_id,omitempty"`
	WorkspaceType string         `json:"workspace_type"`
	Settings      map[string]any `json:"settings,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// FlowDefinition describes an ordered list of generation steps.
// Definition holds the decoded JSON document; a well-formed definition is a
// mapping with a "steps" list.
type FlowDefinition struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Key         string    `json:"key"`
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	Definition  any       `json:"definition"`
	CreatedAt   time.Time `json:"created_at"`
}

// Steps returns the ordered step names of the definition. Non-string entries
// and malformed definitions yield no steps.
func (f *FlowDefinition) Steps() []string {
	def, ok := f.Definition.(map[string]any)
	if !ok {
		return nil
	}
	var steps []string
	switch raw := def["steps"].(type) {
	case []any:
		for _, s := range raw {
			if name, ok := s.(string); ok {
				steps = append(steps, name)
			}
		}
	case []string:
		steps = append(steps, raw...)
	}
	return steps
}

// FlowRun is one execution of a FlowDefinition.
type FlowRun struct {
	ID            string         `json:"id"`
	FlowID        string         `json:"flow_id"`
	WorkspaceID   string         `json:"workspace_id"`
	Status        string         `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	InputPayload  map[string]any `json:"input_payload"`
	OutputPayload map[string]any `json:"output_payload"`
	ErrorPayload  map[string]any `json:"error_payload,omitempty"`
	TraceID       string         `json:"trace_id"`
}

// Artifact is a named piece of generated content.
type Artifact struct {
	ID           string         `json:"id"`
	WorkspaceID  string         `json:"workspace_id"`
	ArtifactType string         `json:"artifact_type"`
	Key          string         `json:"key"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ArtifactVersion is an immutable revision of an Artifact. Only SandboxStatus
// changes after creation.
type ArtifactVersion struct {
	ID              string    `json:"id"`
	ArtifactID      string    `json:"artifact_id"`
	VersionIndex    int       `json:"version_index"`
	Content         string    `json:"content"`
	ContentFormat   string    `json:"content_format"`
	CreatedByEngine string    `json:"created_by_engine"`
	CreatedByFlowID string    `json:"created_by_flow_id,omitempty"`
	SandboxStatus   string    `json:"sandbox_status"`
	CreatedAt       time.Time `json:"created_at"`
}

// PromptLog records a prompt sent by a flow step.
type PromptLog struct {
	ID           string         `json:"id"`
	WorkspaceID  string         `json:"workspace_id"`
	FlowRunID    string         `json:"flow_run_id"`
	Provider     string         `json:"provider,omitempty"`
	Model        string         `json:"model,omitempty"`
	Prompt       string         `json:"prompt"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AIRunLog records the raw exchange with a generation backend.
type AIRunLog struct {
	ID              string         `json:"id"`
	WorkspaceID     string         `json:"workspace_id"`
	FlowRunID       string         `json:"flow_run_id"`
	Provider        string         `json:"provider"`
	Model           string         `json:"model"`
	TraceID         string         `json:"trace_id"`
	RequestPayload  map[string]any `json:"request_payload"`
	ResponsePayload map[string]any `json:"response_payload"`
	Success         bool           `json:"success"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// CodeSandboxRun is one isolated execution of generated code.
type CodeSandboxRun struct {
	ID                string         `json:"id"`
	ArtifactVersionID string         `json:"artifact_version_id"`
	WorkspaceID       string         `json:"workspace_id"`
	Environment       string         `json:"environment"`
	Command           string         `json:"command"`
	Status            string         `json:"status"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        *time.Time     `json:"finished_at,omitempty"`
	Stdout            string         `json:"stdout"`
	Stderr            string         `json:"stderr"`
	ExitCode          *int           `json:"exit_code,omitempty"`
	ErrorClass        string         `json:"error_class,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	ErrorMetadata     map[string]any `json:"error_metadata,omitempty"`
}

// Failed reports whether the run ended in failure.
func (r *CodeSandboxRun) Failed() bool {
	return r.Status == SandboxFailed
}

// LatencyMs is the wall-clock duration of the run in milliseconds.
func (r *CodeSandboxRun) LatencyMs() int64 {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt).Milliseconds()
}

// ErrorPattern is a deduplicated failure signature.
type ErrorPattern struct {
	ID         string         `json:"id"`
	ErrorClass string         `json:"error_class"`
	Signature  string         `json:"signature"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// FixPattern is a recorded correction for an ErrorPattern.
type FixPattern struct {
	ID             string         `json:"id"`
	ErrorPatternID string         `json:"error_pattern_id"`
	FixDescription string         `json:"fix_description"`
	FixCode        string         `json:"fix_code,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// CodeDiff is a line-based before/after record.
type CodeDiff struct {
	ID                string         `json:"id"`
	ArtifactVersionID string         `json:"artifact_version_id"`
	Before            string         `json:"before"`
	After             string         `json:"after"`
	Diff              string         `json:"diff"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// FileAudit tracks one audited file mutation. OldContent is nil when the file
// did not exist.
type FileAudit struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	FilePath    string         `json:"file_path"`
	NewContent  string         `json:"new_content"`
	OldContent  *string        `json:"old_content"`
	AuditStatus string         `json:"audit_status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// FileRollback records the restoration of a file after a failed audit.
type FileRollback struct {
	ID              string         `json:"id"`
	AuditID         string         `json:"audit_id"`
	RestoredContent string         `json:"restored_content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// EnginePerformance holds rolling stats per (provider, model).
type EnginePerformance struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	TotalCalls    int64     `json:"total_calls"`
	TotalFailures int64     `json:"total_failures"`
	AvgLatencyMs  int64     `json:"avg_latency_ms"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WorkspaceAnalytics holds per-workspace counters.
type WorkspaceAnalytics struct {
	ID                    string    `json:"id"`
	WorkspaceID           string    `json:"workspace_id"`
	TotalFlowsRun         int64     `json:"total_flows_run"`
	TotalArtifactsCreated int64     `json:"total_artifacts_created"`
	TotalErrors           int64     `json:"total_errors"`
	UpdatedAt             time.Time `json:"updated_at"`
}
