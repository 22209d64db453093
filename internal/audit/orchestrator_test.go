package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/store"
)

type staticPresets map[string]map[string]any

func (p staticPresets) PresetMaps() map[string]map[string]any { return p }

// typeRule flags every target of one type.
func typeRule(tt TargetType) funcRule {
	return funcRule{name: "flag-" + string(tt), fn: func(t *AuditTarget) (*AuditResult, error) {
		res := &AuditResult{Target: t}
		if t.Type == tt {
			res.Issues = []*AuditIssue{{ID: t.Identifier, Severity: SeverityInfo}}
		}
		return res, nil
	}}
}

func TestAuditWorkspaceFlows(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateFlow(ctx, &models.FlowDefinition{WorkspaceID: "ws", Key: "a", Definition: map[string]any{}}))
	require.NoError(t, s.CreateFlow(ctx, &models.FlowDefinition{WorkspaceID: "ws", Key: "b", Definition: []any{"x"}}))
	require.NoError(t, s.CreateFlow(ctx, &models.FlowDefinition{WorkspaceID: "other", Key: "c"}))

	var seen []*AuditTarget
	capture := funcRule{name: "capture", fn: func(t *AuditTarget) (*AuditResult, error) {
		seen = append(seen, t)
		return &AuditResult{Target: t}, nil
	}}
	o := NewOrchestrator(s, NewEngine(NewRuleSet(capture), nil, nil), nil, nil)

	report, err := o.AuditWorkspaceFlows(ctx, "ws", DefaultAuditOptions())
	require.NoError(t, err)
	assert.Equal(t, "workspace:ws:flows", report.Scope)

	require.Len(t, seen, 2)
	ids := []string{seen[0].Identifier, seen[1].Identifier}
	assert.ElementsMatch(t, []string{"ws:a", "ws:b"}, ids)
	for _, tgt := range seen {
		assert.Equal(t, TargetFlow, tgt.Type)
		assert.Equal(t, "ws", tgt.Metadata["workspace_id"])
		assert.NotEmpty(t, tgt.Metadata["flow_id"])
		assert.Contains(t, tgt.Metadata, "definition")
	}
}

func TestAuditIndustryPresets(t *testing.T) {
	presets := staticPresets{
		"web_dev":  {"flows": map[string]any{}, "engines": []any{}},
		"game_dev": {"flows": map[string]any{}},
	}
	o := NewOrchestrator(store.NewMemoryStore(), NewEngine(NewRuleSet(typeRule(TargetPreset)), nil, nil), presets, nil)

	report, err := o.AuditIndustryPresets(context.Background(), DefaultAuditOptions())
	require.NoError(t, err)
	assert.Equal(t, PresetScope, report.Scope)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "game_dev", report.Results[0].Target.Identifier)
	assert.Equal(t, "game_dev", report.Results[0].Target.Metadata["name"])
	assert.NotNil(t, report.Results[0].Target.Metadata["preset"])
}

func TestAuditAllWorkspaces(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"w1", "w2"} {
		require.NoError(t, s.CreateWorkspace(ctx, &models.Workspace{ID: id, Name: id}))
		require.NoError(t, s.CreateFlow(ctx, &models.FlowDefinition{WorkspaceID: id, Key: "f", Definition: map[string]any{}}))
	}
	rec := &events.Recorder{}
	o := NewOrchestrator(s, NewEngine(NewRuleSet(typeRule(TargetFlow)), nil, rec), nil, rec)

	reports, err := o.AuditAllWorkspaces(ctx, DefaultAuditOptions())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports["w1"].TotalIssues())
	assert.Equal(t, "workspace:w2:flows", reports["w2"].Scope)
	assert.Equal(t, int64(1), s.Rollbacks())
	assert.True(t, rec.Has(orchestratorName, "Auditing all workspaces"))
}
