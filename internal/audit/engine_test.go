package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/flowforge/internal/events"
)

// funcRule adapts a function to Rule.
type funcRule struct {
	name string
	fn   func(*AuditTarget) (*AuditResult, error)
}

func (r funcRule) Name() string     { return r.name }
func (r funcRule) Category() string { return "test" }
func (r funcRule) Evaluate(_ context.Context, t *AuditTarget) (*AuditResult, error) {
	return r.fn(t)
}

func issueRule(name string, sev Severity, action ActionType) funcRule {
	return funcRule{name: name, fn: func(t *AuditTarget) (*AuditResult, error) {
		res := &AuditResult{Target: t, Issues: []*AuditIssue{{ID: name + ":" + t.Identifier, Target: t, Severity: sev, Code: "X", Message: "m"}}}
		if action != "" {
			res.Actions = []*AuditAction{{Type: action, Description: "d", Payload: map[string]any{"target": t.Identifier}}}
		}
		return res, nil
	}}
}

func emptyRule(name string) funcRule {
	return funcRule{name: name, fn: func(t *AuditTarget) (*AuditResult, error) {
		return &AuditResult{Target: t}, nil
	}}
}

func targets(ids ...string) []*AuditTarget {
	out := make([]*AuditTarget, 0, len(ids))
	for _, id := range ids {
		out = append(out, &AuditTarget{Type: TargetFlow, Identifier: id, Metadata: map[string]any{}})
	}
	return out
}

func TestDefaultAuditOptions(t *testing.T) {
	opts := DefaultAuditOptions()
	assert.False(t, opts.ApplyFixes)
	assert.True(t, opts.DryRun)
}

func TestAuditTargets_IsolatesFailingRules(t *testing.T) {
	rec := &events.Recorder{}
	set := NewRuleSet(
		funcRule{name: "boom", fn: func(*AuditTarget) (*AuditResult, error) { return nil, errors.New("bad rule") }},
		funcRule{name: "panics", fn: func(*AuditTarget) (*AuditResult, error) { panic("kaboom") }},
		issueRule("finds", SeverityWarning, ""),
		emptyRule("quiet"),
	)
	e := NewEngine(set, nil, rec)

	report, err := e.AuditTargets(context.Background(), "scope", targets("a", "b"), DefaultAuditOptions())
	require.NoError(t, err)

	assert.Equal(t, "scope", report.Scope)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "a", report.Results[0].Target.Identifier)
	assert.Equal(t, "b", report.Results[1].Target.Identifier)

	var ruleErrors, evaluated int
	for _, ev := range rec.Events() {
		switch ev.Message {
		case "Rule evaluation error":
			ruleErrors++
		case "Rule evaluated":
			evaluated++
		}
	}
	assert.Equal(t, 4, ruleErrors)
	assert.Equal(t, 4, evaluated)
	assert.True(t, rec.Has(engineName, "Audit report generated"))
	assert.True(t, rec.Has(engineName, "Audit completed"))
}

func TestAuditReport_Aggregates(t *testing.T) {
	set := NewRuleSet(issueRule("warn", SeverityWarning, ActionNoop), issueRule("info", SeverityInfo, ""))
	e := NewEngine(set, nil, nil)

	report, err := e.AuditTargets(context.Background(), "s", targets("a", "b", "c"), DefaultAuditOptions())
	require.NoError(t, err)
	assert.Equal(t, 6, report.TotalIssues())
	assert.Equal(t, 3, report.TotalActions())
	assert.False(t, report.HasCritical())

	set.Add(issueRule("crit", SeverityCritical, ""))
	report, err = e.AuditTargets(context.Background(), "s", targets("a"), DefaultAuditOptions())
	require.NoError(t, err)
	assert.True(t, report.HasCritical())
	assert.Equal(t, map[string]int{"info": 1, "warning": 1, "error": 0, "critical": 1}, report.SeveritySummary())
}

func TestAuditTargets_ApplyFixesHonoursDryRun(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/created.txt"
	rule := funcRule{name: "create", fn: func(tg *AuditTarget) (*AuditResult, error) {
		return &AuditResult{Target: tg, Actions: []*AuditAction{{
			Type: ActionCreateFile, Description: "create", Payload: map[string]any{"path": path, "content": "hi"},
		}}}, nil
	}}
	rec := &events.Recorder{}
	e := NewEngine(NewRuleSet(rule), NewActionExecutor(nil, nil, rec), rec)

	_, err := e.AuditTargets(context.Background(), "s", targets("a"), AuditOptions{ApplyFixes: true, DryRun: true})
	require.NoError(t, err)
	assert.NoFileExists(t, path)
	assert.True(t, rec.Has(engineName, "Simulating audit action"))

	_, err = e.AuditTargets(context.Background(), "s", targets("a"), AuditOptions{ApplyFixes: true, DryRun: false})
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestAuditTargets_NoFixesWithoutResults(t *testing.T) {
	rec := &events.Recorder{}
	e := NewEngine(NewRuleSet(emptyRule("quiet")), NewActionExecutor(nil, nil, rec), rec)

	report, err := e.AuditTargets(context.Background(), "s", targets("a"), AuditOptions{ApplyFixes: true, DryRun: false})
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.False(t, rec.Has(engineName, "Applying audit fixes"))
}

func TestAuditTargets_FixesWithoutExecutor(t *testing.T) {
	e := NewEngine(NewRuleSet(issueRule("x", SeverityInfo, ActionNoop)), nil, nil)
	report, err := e.AuditTargets(context.Background(), "s", targets("a"), AuditOptions{ApplyFixes: true})
	require.Error(t, err)
	assert.NotNil(t, report)
}

func TestAuditTargets_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewEngine(NewRuleSet(issueRule("x", SeverityInfo, "")), nil, nil)
	_, err := e.AuditTargets(ctx, "s", targets("a"), DefaultAuditOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRuleSet_Sources(t *testing.T) {
	set := NewRuleSet(emptyRule("static"))
	set.SetSource("b", []Rule{emptyRule("b1")})
	set.SetSource("a", []Rule{emptyRule("a1"), emptyRule("a2")})

	var names []string
	for _, r := range set.Rules() {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{"static", "a1", "a2", "b1"}, names)

	set.SetSource("a", nil)
	assert.Equal(t, 2, set.Len())
}

func TestParseSeverity(t *testing.T) {
	sev, ok := ParseSeverity("critical")
	assert.True(t, ok)
	assert.Equal(t, SeverityCritical, sev)
	_, ok = ParseSeverity("fatal")
	assert.False(t, ok)
}
