// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workspace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/store"
)

func newFactory(t *testing.T, s store.Store, sink events.Sink) *Factory {
	t.Helper()
	c, err := NewCatalog()
	require.NoError(t, err)
	return NewFactory(s, c, sink)
}

func TestCreateWorkspace_InitializesFromPreset(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	rec := &events.Recorder{}
	f := newFactory(t, s, rec)

	ws, err := f.CreateWorkspace(ctx, "Acme Web", "web_dev", "user-1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, ws.ID)
	assert.Equal(t, "web_dev", ws.WorkspaceType)
	assert.Equal(t, "user-1", ws.OwnerID)
	assert.NotNil(t, ws.Settings)

	preset, _ := f.Catalog().Get("web_dev")

	flows, err := s.ListFlows(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, flows, len(preset.Flows))
	for i, flow := range flows {
		assert.Equal(t, preset.Flows[i].Key, flow.Key)
		assert.NotEmpty(t, flow.Steps(), flow.Key)
	}

	engines, err := s.ListEngineConfigs(ctx, false)
	require.NoError(t, err)
	assert.Len(t, engines, len(preset.Engines))

	wa, err := s.GetWorkspaceAnalytics(ctx, ws.ID)
	require.NoError(t, err)
	assert.Zero(t, wa.TotalFlowsRun)
	assert.Zero(t, wa.TotalArtifactsCreated)
	assert.Zero(t, wa.TotalErrors)

	assert.Equal(t, []string{"Workspace initialization started", "Workspace fully initialized"}, rec.Messages("workspace-factory"))
	assert.Equal(t, int64(1), s.Commits())
}

func TestCreateWorkspace_SharesExistingEngines(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	f := newFactory(t, s, nil)

	preset, _ := f.Catalog().Get("software_dev")
	first := preset.Engines[0]
	existing := &models.EngineConfig{Provider: first.Provider, Model: first.Model, Label: "operator tuned", Enabled: false, Priority: 99}
	require.NoError(t, s.CreateEngineConfig(ctx, existing))

	_, err := f.CreateWorkspace(ctx, "one", "software_dev", "", nil)
	require.NoError(t, err)
	_, err = f.CreateWorkspace(ctx, "two", "software_dev", "", map[string]any{"theme": "dark"})
	require.NoError(t, err)

	engines, err := s.ListEngineConfigs(ctx, false)
	require.NoError(t, err)
	assert.Len(t, engines, len(preset.Engines))

	kept, err := s.FindEngineConfig(ctx, first.Provider, first.Model)
	require.NoError(t, err)
	assert.Equal(t, "operator tuned", kept.Label)
	assert.False(t, kept.Enabled)
	assert.Equal(t, 99, kept.Priority)
}

func TestCreateWorkspace_EnginesAcrossPresetsAreUnique(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	f := newFactory(t, s, nil)

	pairs := map[string]struct{}{}
	for _, typ := range f.Catalog().Types() {
		p, _ := f.Catalog().Get(typ)
		for _, e := range p.Engines {
			pairs[e.Provider+"/"+e.Model] = struct{}{}
		}
		_, err := f.CreateWorkspace(ctx, typ, typ, "", nil)
		require.NoError(t, err, typ)
	}

	engines, err := s.ListEngineConfigs(ctx, false)
	require.NoError(t, err)
	assert.Len(t, engines, len(pairs))

	workspaces, err := s.ListWorkspaces(ctx)
	require.NoError(t, err)
	assert.Len(t, workspaces, 6)
}

func TestCreateWorkspace_UnknownType(t *testing.T) {
	s := store.NewMemoryStore()
	rec := &events.Recorder{}
	f := newFactory(t, s, rec)

	_, err := f.CreateWorkspace(context.Background(), "x", "farming", "", nil)
	assert.ErrorIs(t, err, ErrUnknownWorkspaceType)
	assert.Contains(t, err.Error(), "web_dev")

	workspaces, err := s.ListWorkspaces(context.Background())
	require.NoError(t, err)
	assert.Empty(t, workspaces)
	assert.Empty(t, rec.Events())
}

const brokenPreset = `
type: broken_lab
label: Broken Lab
engines:
- provider: openai
  model: gpt-4o-broken-lab
  enabled: true
  priority: 1
flows:
- key: build
  definition:
    steps: [plan]
- key: build
  definition:
    steps: [again]
`

func TestCreateWorkspace_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	rec := &events.Recorder{}
	f := newFactory(t, s, rec)
	require.NoError(t, f.Catalog().AddDocument([]byte(brokenPreset), "broken_lab.yaml"))

	_, err := f.CreateWorkspace(ctx, "x", "broken_lab", "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Contains(t, err.Error(), "create flow build")

	workspaces, err := s.ListWorkspaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, workspaces)
	engines, err := s.ListEngineConfigs(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, engines)

	assert.Equal(t, int64(1), s.Rollbacks())
	assert.Zero(t, s.Commits())
	assert.False(t, rec.Has("workspace-factory", "Workspace fully initialized"))
}

func TestCreateWorkspace_FailureRollsBackSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenSQL(ctx, store.SQLConfig{Driver: store.DriverSQLite, DSN: filepath.Join(t.TempDir(), "ff.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	f := newFactory(t, s, nil)
	require.NoError(t, f.Catalog().AddDocument([]byte(brokenPreset), "broken_lab.yaml"))

	_, err = f.CreateWorkspace(ctx, "x", "broken_lab", "", nil)
	require.Error(t, err)

	workspaces, err := s.ListWorkspaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, workspaces)

	ws, err := f.CreateWorkspace(ctx, "ok", "web_dev", "", nil)
	require.NoError(t, err)
	got, err := s.GetWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Name)
}
