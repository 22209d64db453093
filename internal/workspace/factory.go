// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/store"
	"github.com/traylinx/flowforge/internal/util"
)

const engineName = "workspace-factory"

// ErrUnknownWorkspaceType is returned when no preset matches the requested type.
var ErrUnknownWorkspaceType = errors.New("workspace: unknown workspace type")

// Factory creates fully initialized workspaces.
type Factory struct {
	store   store.Store
	catalog *Catalog
	sink    events.Sink
}

// NewFactory returns a factory backed by catalog.
func NewFactory(s store.Store, catalog *Catalog, sink events.Sink) *Factory {
	if sink == nil {
		sink = events.Nop{}
	}
	return &Factory{store: s, catalog: catalog, sink: sink}
}

// Catalog returns the presets the factory draws from.
func (f *Factory) Catalog() *Catalog {
	return f.catalog
}

// CreateWorkspace creates a workspace of workspaceType with the preset's
// engines, flows and a zeroed analytics row. Engines are global: one that
// already exists for the same provider and model is left untouched.
func (f *Factory) CreateWorkspace(ctx context.Context, name, workspaceType, ownerID string, settings map[string]any) (*models.Workspace, error) {
	preset, ok := f.catalog.Get(workspaceType)
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownWorkspaceType, workspaceType, strings.Join(f.catalog.Types(), ", "))
	}

	traceID := util.NewTraceID()
	f.sink.LogEvent(engineName, "Workspace initialization started", traceID, map[string]any{
		"name":           name,
		"workspace_type": preset.Type,
	})

	if settings == nil {
		settings = map[string]any{}
	}
	ws := &models.Workspace{
		Name:          name,
		OwnerID:       ownerID,
		WorkspaceType: preset.Type,
		Settings:      settings,
	}

	tx, err := f.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("workspace: begin: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.WithError(rbErr).Warn("workspace: rollback failed")
		}
	}()

	if err := populate(ctx, tx, ws, preset); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("workspace: commit: %w", err)
	}

	f.sink.LogEvent(engineName, "Workspace fully initialized", traceID, map[string]any{
		"workspace_id":   ws.ID,
		"workspace_type": preset.Type,
		"engines":        len(preset.Engines),
		"flows":          len(preset.Flows),
	})
	return ws, nil
}

// populate writes the workspace and its preset contents through tx.
func populate(ctx context.Context, tx store.Store, ws *models.Workspace, preset *Preset) error {
	if err := tx.CreateWorkspace(ctx, ws); err != nil {
		return fmt.Errorf("workspace: create: %w", err)
	}
	for _, ep := range preset.Engines {
		if err := ensureEngine(ctx, tx, ep); err != nil {
			return err
		}
	}
	for _, fp := range preset.Flows {
		flow := &models.FlowDefinition{
			WorkspaceID: ws.ID,
			Key:         fp.Key,
			Label:       fp.Label,
			Description: fp.Description,
			Definition:  fp.Definition,
		}
		if err := tx.CreateFlow(ctx, flow); err != nil {
			return fmt.Errorf("workspace: create flow %s: %w", fp.Key, err)
		}
	}
	analytics := &models.WorkspaceAnalytics{WorkspaceID: ws.ID, UpdatedAt: time.Now().UTC()}
	if err := tx.SaveWorkspaceAnalytics(ctx, analytics); err != nil {
		return fmt.Errorf("workspace: init analytics: %w", err)
	}
	return nil
}

func ensureEngine(ctx context.Context, tx store.Store, ep EnginePreset) error {
	_, err := tx.FindEngineConfig(ctx, ep.Provider, ep.Model)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("workspace: find engine %s/%s: %w", ep.Provider, ep.Model, err)
	}
	cfg := &models.EngineConfig{
		Provider:      ep.Provider,
		Model:         ep.Model,
		Label:         ep.Label,
		Enabled:       ep.Enabled,
		Priority:      ep.Priority,
		AllowFallback: ep.AllowFallback,
	}
	err = tx.CreateEngineConfig(ctx, cfg)
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("workspace: create engine %s/%s: %w", ep.Provider, ep.Model, err)
	}
	return nil
}
