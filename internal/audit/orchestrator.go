// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package audit

import (
	"context"
	"fmt"
	"sort"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/util"
)

const orchestratorName = "audit-orchestrator"

// Scope names used by the orchestrator.
const PresetScope = "industries:presets"

// WorkspaceFlowsScope returns the scope for one workspace's flows.
func WorkspaceFlowsScope(workspaceID string) string {
	return "workspace:" + workspaceID + ":flows"
}

// OrchestratorStore is the persistence the orchestrator reads from.
type OrchestratorStore interface {
	ListWorkspaces(ctx context.Context) ([]*models.Workspace, error)
	ListFlows(ctx context.Context, workspaceID string) ([]*models.FlowDefinition, error)
	Rollback(ctx context.Context) error
}

// PresetSource lists the industry presets as plain maps keyed by name.
type PresetSource interface {
	PresetMaps() map[string]map[string]any
}

// Orchestrator collects targets and hands them to the rule engine.
type Orchestrator struct {
	store   OrchestratorStore
	engine  *Engine
	presets PresetSource
	sink    events.Sink
}

func NewOrchestrator(s OrchestratorStore, engine *Engine, presets PresetSource, sink events.Sink) *Orchestrator {
	if sink == nil {
		sink = events.Nop{}
	}
	return &Orchestrator{store: s, engine: engine, presets: presets, sink: sink}
}

// FlowTarget builds the audit target for a flow definition.
func FlowTarget(f *models.FlowDefinition) *AuditTarget {
	return &AuditTarget{
		Type:       TargetFlow,
		Identifier: f.WorkspaceID + ":" + f.Key,
		Metadata: map[string]any{
			"workspace_id": f.WorkspaceID,
			"flow_id":      f.ID,
			"key":          f.Key,
			"definition":   f.Definition,
		},
	}
}

// PresetTarget builds the audit target for a named preset.
func PresetTarget(name string, preset map[string]any) *AuditTarget {
	return &AuditTarget{
		Type:       TargetPreset,
		Identifier: name,
		Metadata: map[string]any{
			"name":   name,
			"preset": preset,
		},
	}
}

// AuditWorkspaceFlows audits every flow of a workspace.
func (o *Orchestrator) AuditWorkspaceFlows(ctx context.Context, workspaceID string, opts AuditOptions) (*AuditReport, error) {
	traceID := util.NewTraceID()
	o.sink.LogEvent(orchestratorName, "Collecting workspace flow targets", traceID, map[string]any{
		"workspace_id": workspaceID,
	})

	flows, err := o.store.ListFlows(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("audit: list flows of %s: %w", workspaceID, err)
	}
	targets := make([]*AuditTarget, 0, len(flows))
	for _, f := range flows {
		targets = append(targets, FlowTarget(f))
	}

	o.sink.LogEvent(orchestratorName, "Invoking audit engine for workspace flows", traceID, map[string]any{
		"target_count": len(targets),
	})
	return o.engine.AuditTargets(ctx, WorkspaceFlowsScope(workspaceID), targets, opts)
}

// AuditIndustryPresets audits the built-in presets in name order.
func (o *Orchestrator) AuditIndustryPresets(ctx context.Context, opts AuditOptions) (*AuditReport, error) {
	traceID := util.NewTraceID()
	var presets map[string]map[string]any
	if o.presets != nil {
		presets = o.presets.PresetMaps()
	}
	o.sink.LogEvent(orchestratorName, "Collecting industry preset targets", traceID, map[string]any{
		"industry_count": len(presets),
	})

	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	targets := make([]*AuditTarget, 0, len(names))
	for _, name := range names {
		targets = append(targets, PresetTarget(name, presets[name]))
	}

	o.sink.LogEvent(orchestratorName, "Invoking audit engine for industry presets", traceID, map[string]any{
		"target_count": len(targets),
	})
	return o.engine.AuditTargets(ctx, PresetScope, targets, opts)
}

// AuditAllWorkspaces resets the store's pending state, then audits each
// workspace's flows. A failing workspace does not stop the others.
func (o *Orchestrator) AuditAllWorkspaces(ctx context.Context, opts AuditOptions) (map[string]*AuditReport, error) {
	traceID := util.NewTraceID()
	if err := o.store.Rollback(ctx); err != nil {
		return nil, fmt.Errorf("audit: reset store: %w", err)
	}

	workspaces, err := o.store.ListWorkspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: list workspaces: %w", err)
	}
	o.sink.LogEvent(orchestratorName, "Auditing all workspaces", traceID, map[string]any{
		"workspace_count": len(workspaces),
	})

	reports := make(map[string]*AuditReport, len(workspaces))
	var firstErr error
	for _, ws := range workspaces {
		report, err := o.AuditWorkspaceFlows(ctx, ws.ID, opts)
		if report != nil {
			reports[ws.ID] = report
		}
		if err != nil {
			o.sink.LogEvent(orchestratorName, "Workspace audit failed", traceID, map[string]any{
				"workspace_id": ws.ID,
				"error":        err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return reports, firstErr
}
