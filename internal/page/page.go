// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package page renders the cockpit pages declared by workspace presets into a
// page IR: one entry per widget with the data the frontend draws.
//
// Widgets render independently. A widget whose data cannot be loaded is
// reported with its error and never fails the page.
package page

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/store"
	"github.com/traylinx/flowforge/internal/util"
	"github.com/traylinx/flowforge/internal/workspace"
)

const engineName = "page-engine"

// recentRunLimit bounds the runs listed by run widgets.
const recentRunLimit = 10

// Widget types.
const (
	WidgetStat         = "stat"
	WidgetList         = "list"
	WidgetEditor       = "editor"
	WidgetOutputPanel  = "output_panel"
	WidgetChart        = "chart"
	WidgetCanvas       = "canvas"
	WidgetControlPanel = "control_panel"
)

// ErrPageNotFound is returned when the workspace's preset has no such page.
var ErrPageNotFound = errors.New("page: not found")

// Store is the persistence the page engine reads.
type Store interface {
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	ListArtifacts(ctx context.Context, workspaceID string) ([]*models.Artifact, error)
	LatestArtifactVersion(ctx context.Context, artifactID string) (*models.ArtifactVersion, error)
	ListFlowRuns(ctx context.Context, workspaceID string) ([]*models.FlowRun, error)
	GetWorkspaceAnalytics(ctx context.Context, workspaceID string) (*models.WorkspaceAnalytics, error)
}

// Catalog resolves a workspace type to its preset. *workspace.Catalog
// satisfies it.
type Catalog interface {
	Get(workspaceType string) (*workspace.Preset, bool)
}

// Page is the rendered IR of one page.
type Page struct {
	WorkspaceID string   `json:"workspace_id"`
	PageKey     string   `json:"page_key"`
	PageLabel   string   `json:"page_label"`
	Widgets     []Widget `json:"widgets"`
	TraceID     string   `json:"trace_id"`
}

// Widget is one rendered widget. Data depends on Type:
//
//	stat           int, or nil for an unknown statistic
//	list           []RunSummary
//	editor         EditorData
//	output_panel   *Output, nil until the panel's artifact exists
//	chart          map[string]any of workspace counters
//	canvas         CanvasData
//	control_panel  ControlPanelData
type Widget struct {
	Type    string `json:"type"`
	Key     string `json:"key"`
	Data    any    `json:"data"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// RunSummary is a list entry for a flow run.
type RunSummary struct {
	ID        string    `json:"id"`
	FlowID    string    `json:"flow_id"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// EditorData seeds an editor widget.
type EditorData struct {
	InitialValue string `json:"initial_value"`
}

// Output is the latest content behind an output panel.
type Output struct {
	ArtifactID string `json:"artifact_id"`
	VersionID  string `json:"version_id"`
	Content    string `json:"content"`
}

// CanvasData is the scene of a canvas widget.
type CanvasData struct {
	Scene map[string]any `json:"scene"`
}

// ControlPanelData lists the controls of a control panel.
type ControlPanelData struct {
	Controls []map[string]any `json:"controls"`
}

// Engine renders pages.
type Engine struct {
	store   Store
	catalog Catalog
	sink    events.Sink
}

// NewEngine returns a page engine.
func NewEngine(s Store, catalog Catalog, sink events.Sink) *Engine {
	if sink == nil {
		sink = events.Nop{}
	}
	return &Engine{store: s, catalog: catalog, sink: sink}
}

// Pages returns the page definitions available to a workspace.
func (e *Engine) Pages(ctx context.Context, workspaceID string) ([]workspace.PagePreset, error) {
	_, preset, err := e.lookup(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return preset.Pages, nil
}

// Definition returns the definition of one page of a workspace.
func (e *Engine) Definition(ctx context.Context, workspaceID, pageKey string) (*workspace.PagePreset, error) {
	_, preset, err := e.lookup(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	def, ok := preset.Page(pageKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPageNotFound, pageKey)
	}
	return def, nil
}

// Render looks up the workspace and its page, then renders it.
func (e *Engine) Render(ctx context.Context, workspaceID, pageKey string) (*Page, error) {
	ws, preset, err := e.lookup(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	def, ok := preset.Page(pageKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPageNotFound, pageKey)
	}
	return e.RenderPage(ctx, ws, def), nil
}

func (e *Engine) lookup(ctx context.Context, workspaceID string) (*models.Workspace, *workspace.Preset, error) {
	ws, err := e.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, nil, fmt.Errorf("page: workspace %s: %w", workspaceID, err)
	}
	preset, ok := e.catalog.Get(ws.WorkspaceType)
	if !ok {
		return nil, nil, fmt.Errorf("%w: workspace type %q has no pages", ErrPageNotFound, ws.WorkspaceType)
	}
	return ws, preset, nil
}

// RenderPage renders every widget of def for ws.
func (e *Engine) RenderPage(ctx context.Context, ws *models.Workspace, def *workspace.PagePreset) *Page {
	traceID := util.NewTraceID()
	e.sink.LogEvent(engineName, "Rendering page: "+def.Key, traceID, map[string]any{"workspace_id": ws.ID})

	page := &Page{
		WorkspaceID: ws.ID,
		PageKey:     def.Key,
		PageLabel:   def.Label,
		Widgets:     make([]Widget, 0, len(def.Widgets)),
		TraceID:     traceID,
	}
	for _, w := range def.Widgets {
		rendered, err := e.renderWidget(ctx, ws, w, traceID)
		if err != nil {
			log.WithField("trace_id", traceID).Warnf("page: widget %s of %s failed: %v", w.Key, def.Key, err)
			e.sink.LogEvent(engineName, "Widget failed: "+w.Key, traceID, map[string]any{"error": err.Error()})
			rendered = Widget{Type: w.Type, Key: w.Key, Error: err.Error()}
		}
		page.Widgets = append(page.Widgets, rendered)
	}
	return page
}

func (e *Engine) renderWidget(ctx context.Context, ws *models.Workspace, w workspace.WidgetPreset, traceID string) (Widget, error) {
	e.sink.LogEvent(engineName, "Rendering widget: "+w.Key, traceID, map[string]any{"widget_type": w.Type})

	out := Widget{Type: w.Type, Key: w.Key}
	var err error
	switch w.Type {
	case WidgetStat:
		out.Data, err = e.stat(ctx, ws.ID, w.Key)
	case WidgetList:
		out.Data, err = e.list(ctx, ws.ID, w.Key)
	case WidgetEditor:
		out.Data = EditorData{}
	case WidgetOutputPanel:
		out.Data, err = e.output(ctx, ws.ID, w.Key)
	case WidgetChart:
		out.Data, err = e.chart(ctx, ws.ID)
	case WidgetCanvas:
		out.Data = CanvasData{Scene: map[string]any{}}
	case WidgetControlPanel:
		out.Data = ControlPanelData{Controls: []map[string]any{}}
	default:
		out.Warning = "Unknown widget type"
	}
	return out, err
}

// stat supports total_assets, recent_runs and total_<kind>s, which counts
// artifacts of that kind. Other keys render as nil.
func (e *Engine) stat(ctx context.Context, workspaceID, key string) (any, error) {
	switch {
	case key == "recent_runs":
		runs, err := e.recentRuns(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		return len(runs), nil
	case key == "total_assets":
		artifacts, err := e.store.ListArtifacts(ctx, workspaceID)
		if err != nil {
			return nil, fmt.Errorf("page: list artifacts: %w", err)
		}
		return len(artifacts), nil
	case strings.HasPrefix(key, "total_") && strings.HasSuffix(key, "s"):
		kind := strings.TrimSuffix(strings.TrimPrefix(key, "total_"), "s")
		artifacts, err := e.store.ListArtifacts(ctx, workspaceID)
		if err != nil {
			return nil, fmt.Errorf("page: list artifacts: %w", err)
		}
		n := 0
		for _, a := range artifacts {
			if a.ArtifactType == kind {
				n++
			}
		}
		return n, nil
	}
	return nil, nil
}

func (e *Engine) list(ctx context.Context, workspaceID, key string) ([]RunSummary, error) {
	if key != "recent_flows" {
		return []RunSummary{}, nil
	}
	return e.recentRuns(ctx, workspaceID)
}

// recentRuns returns up to recentRunLimit runs, newest first.
func (e *Engine) recentRuns(ctx context.Context, workspaceID string) ([]RunSummary, error) {
	runs, err := e.store.ListFlowRuns(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("page: list flow runs: %w", err)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if len(runs) > recentRunLimit {
		runs = runs[:recentRunLimit]
	}
	out := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, RunSummary{ID: r.ID, FlowID: r.FlowID, Status: r.Status, StartedAt: r.StartedAt})
	}
	return out, nil
}

// output finds the artifact named key, or else the newest artifact produced
// by a step named key, and returns its latest version.
func (e *Engine) output(ctx context.Context, workspaceID, key string) (*Output, error) {
	artifacts, err := e.store.ListArtifacts(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("page: list artifacts: %w", err)
	}
	var match *models.Artifact
	for _, a := range artifacts {
		if a.Key == key {
			match = a
			break
		}
		if strings.HasSuffix(a.Key, ":"+key) && (match == nil || !a.CreatedAt.Before(match.CreatedAt)) {
			match = a
		}
	}
	if match == nil {
		return nil, nil
	}
	v, err := e.store.LatestArtifactVersion(ctx, match.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("page: latest version of %s: %w", match.Key, err)
	}
	return &Output{ArtifactID: match.ID, VersionID: v.ID, Content: v.Content}, nil
}

func (e *Engine) chart(ctx context.Context, workspaceID string) (map[string]any, error) {
	wa, err := e.store.GetWorkspaceAnalytics(ctx, workspaceID)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("page: workspace analytics: %w", err)
	}
	return map[string]any{
		"total_flows_run":         wa.TotalFlowsRun,
		"total_artifacts_created": wa.TotalArtifactsCreated,
		"total_errors":            wa.TotalErrors,
	}, nil
}
