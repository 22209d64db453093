package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/flowforge/internal/audit"
	"github.com/traylinx/flowforge/internal/audit/rules"
	"github.com/traylinx/flowforge/internal/store"
)

func TestNewCatalog_EmbedsIndustryPresets(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	assert.Equal(t, []string{"app_dev", "game_dev", "graphics_3d", "physics_sim", "software_dev", "web_dev"}, c.Types())

	for _, typ := range c.Types() {
		p, ok := c.Get(typ)
		require.True(t, ok, typ)
		assert.Equal(t, typ, p.Type)
		assert.NotEmpty(t, p.Label, typ)
		assert.NotEmpty(t, p.Engines, typ)
		assert.NotEmpty(t, p.Flows, typ)
		for _, f := range p.Flows {
			assert.NotEmpty(t, f.Key, typ)
			assert.Contains(t, f.Definition, "steps", "%s/%s", typ, f.Key)
		}
	}
}

func TestCatalog_GetNormalizesType(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	p, ok := c.Get("  Web_Dev ")
	require.True(t, ok)
	assert.Equal(t, "web_dev", p.Type)

	_, ok = c.Get("farming")
	assert.False(t, ok)
}

func TestParsePreset(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		source   string
		wantType string
		wantErr  bool
	}{
		{name: "explicit type", doc: "type: Robotics\nlabel: R\n", source: "x.yaml", wantType: "robotics"},
		{name: "type from file name", doc: "label: Bio\n", source: "/tmp/bio_lab.yml", wantType: "bio_lab"},
		{name: "empty document", doc: "", source: "e.yaml", wantErr: true},
		{name: "malformed", doc: "engines: [\n", source: "m.yaml", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, raw, err := ParsePreset([]byte(tc.doc), tc.source)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got preset %+v", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Type != tc.wantType {
				t.Errorf("Type = %q, want %q", p.Type, tc.wantType)
			}
			if raw == nil {
				t.Errorf("raw document is nil")
			}
		})
	}
}

func TestLoadCatalog_DirectoryOverridesAndExtends(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "robotics.yaml"), []byte(`
type: robotics
label: Robotics
version: 1
engines:
  - provider: openai
    model: gpt-4o
    enabled: true
    priority: 1
flows:
  - key: plan_motion
    label: Plan Motion
    definition:
      steps: [collect_ir, plan]
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "web.yml"), []byte("type: web_dev\nlabel: Custom Web\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	c, err := LoadCatalog(dir)
	require.NoError(t, err)

	p, ok := c.Get("robotics")
	require.True(t, ok)
	require.Len(t, p.Flows, 1)
	assert.Equal(t, []any{"collect_ir", "plan"}, p.Flows[0].Definition["steps"])

	web, ok := c.Get("web_dev")
	require.True(t, ok)
	assert.Equal(t, "Custom Web", web.Label)
	assert.Empty(t, web.Flows)
}

func TestLoadCatalog_MissingDirectoryKeepsBuiltins(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Len(t, c.Types(), 6)
}

func TestCatalog_BuiltinPresetsPassStructureAudit(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	engine := audit.NewEngine(audit.NewRuleSet(rules.Defaults()...), nil, nil)
	orch := audit.NewOrchestrator(store.NewMemoryStore(), engine, c, nil)

	report, err := orch.AuditIndustryPresets(context.Background(), audit.AuditOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalIssues())
}

func TestCatalog_PresetMapsExposeMissingKeys(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)
	require.NoError(t, c.AddDocument([]byte("type: bare\nlabel: Bare\n"), "bare.yaml"))

	engine := audit.NewEngine(audit.NewRuleSet(rules.Defaults()...), nil, nil)
	orch := audit.NewOrchestrator(store.NewMemoryStore(), engine, c, nil)

	report, err := orch.AuditIndustryPresets(context.Background(), audit.AuditOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalIssues())
	assert.Equal(t, "bare", report.Results[0].Target.Identifier)
}
