// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/flowforge/internal/audit"
	"github.com/traylinx/flowforge/internal/config"
	"github.com/traylinx/flowforge/internal/flow"
	"github.com/traylinx/flowforge/internal/models"
)

const extraRules = `
rules:
  - name: flow_key_too_long
    target_type: flow
    condition: 'len(Identifier) > 200'
    message: Flow key is too long.
`

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(root, 0o755))
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "extra.yaml"), []byte(extraRules), 0o644))

	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.Events.LogPath = filepath.Join(dir, "events.log")
	cfg.Blob.Enabled = true
	cfg.Blob.Dir = filepath.Join(dir, "blobs")
	cfg.Audit.AllowedRoots = []string{root}
	cfg.Audit.RulesDir = rulesDir
	return cfg, root
}

func newTestApp(t *testing.T) (*App, string) {
	t.Helper()
	cfg, root := testConfig(t)
	app, err := NewApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app, root
}

func TestNewApp_LoadsRuleDirectory(t *testing.T) {
	app, _ := newTestApp(t)
	var names []string
	for _, r := range app.Audit.Rules().Rules() {
		names = append(names, r.Name())
	}
	assert.Contains(t, names, "flow_key_too_long")
	assert.Greater(t, app.Audit.Rules().Len(), 1)
}

func TestBootstrap_CreatesAndAuditsWorkspace(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()

	res, err := app.Bootstrap(ctx, "Demo", "software_dev", "system", true)
	require.NoError(t, err)
	require.NotEmpty(t, res.WorkspaceID)
	require.NotNil(t, res.Audit)
	assert.Equal(t, audit.WorkspaceFlowsScope(res.WorkspaceID), res.Audit.Scope)

	flows, err := app.Store.ListFlows(ctx, res.WorkspaceID)
	require.NoError(t, err)
	assert.NotEmpty(t, flows)

	p, err := app.Pages.Render(ctx, res.WorkspaceID, "dashboard")
	require.NoError(t, err)
	assert.NotEmpty(t, p.Widgets)

	_, err = app.Bootstrap(ctx, "Demo", "farming", "system", false)
	assert.Error(t, err)
}

func TestRuntime_ArchivesGeneratedVersions(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()

	res, err := app.Bootstrap(ctx, "Demo", "software_dev", "system", false)
	require.NoError(t, err)
	flows, err := app.Store.ListFlows(ctx, res.WorkspaceID)
	require.NoError(t, err)
	require.NotEmpty(t, flows)

	run, err := app.Runtime.RunFlowByKey(ctx, res.WorkspaceID, flows[0].Key, map[string]any{"goal": "demo"}, "")
	require.NoError(t, err)
	require.Equal(t, models.FlowRunSuccess, run.Status, run.Error)
	require.NotEmpty(t, run.StepOrder)

	out := run.Outputs[run.StepOrder[0]]
	require.NotNil(t, out)
	data, err := app.Archive.Get(ctx, flow.ArchiveKey(out.ArtifactID, out.VersionIndex))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestFiles_ShellValidation(t *testing.T) {
	app, root := newTestApp(t)
	ctx := context.Background()
	path := filepath.Join(root, "setup.sh")

	forbidden, _ := app.Guard.CheckPath(path)
	require.False(t, forbidden)

	change := audit.NewFileChange("ws", path, "exit 0\n", "sh")
	result, err := app.Files.ApplyChangeWithAudit(ctx, change)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusPassed, result.AuditStatus)

	change = audit.NewFileChange("ws", path, "exit 3\n", "sh")
	result, err = app.Files.ApplyChangeWithAudit(ctx, change)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusFailed, result.AuditStatus)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "exit 0\n", string(data))

	patterns, err := app.Store.ListErrorPatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, patterns, 1)

	forbidden, _ = app.Guard.CheckPath(filepath.Join(t.TempDir(), "x.sh"))
	assert.True(t, forbidden)
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "bootstrap", "run-flow", "apply", "audit", "engines", "page"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommand_BootstrapAndListEngines(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := "database:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "ff.db") + "\n" +
		"events:\n  enabled: false\n  log-path: " + filepath.Join(dir, "events.log") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	run := func(args ...string) []byte {
		t.Helper()
		var out bytes.Buffer
		root := newRootCommand()
		root.SetOut(&out)
		root.SetArgs(append([]string{"--config", cfgPath}, args...))
		require.NoError(t, root.Execute())
		return out.Bytes()
	}

	var boot map[string]any
	require.NoError(t, json.Unmarshal(run("bootstrap", "--audit=false", "--type", "web_dev"), &boot))
	wsID, _ := boot["workspace_id"].(string)
	require.NotEmpty(t, wsID)

	var engines []map[string]any
	require.NoError(t, json.Unmarshal(run("engines", "list"), &engines))
	assert.NotEmpty(t, engines)

	var report map[string]any
	require.NoError(t, json.Unmarshal(run("audit", "workspace", wsID), &report))
	assert.Equal(t, audit.WorkspaceFlowsScope(wsID), report["scope"])

	var page map[string]any
	require.NoError(t, json.Unmarshal(run("page", wsID, "dashboard"), &page))
	assert.Equal(t, "dashboard", page["page_key"])
}

func TestRootCommand_MissingExplicitConfigFails(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "engines", "list"})
	assert.Error(t, root.Execute())
}
