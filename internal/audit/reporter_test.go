package audit

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/flowforge/internal/events"
)

func sampleReport() *AuditReport {
	target := &AuditTarget{Type: TargetPreset, Identifier: "web_dev", Metadata: map[string]any{"name": "web_dev"}}
	return &AuditReport{
		Scope: "industries:presets",
		Results: []*AuditResult{{
			Target: target,
			Issues: []*AuditIssue{
				{ID: "preset:web_dev:missing_keys", Target: target, Severity: SeverityError, Code: "PRESET_MISSING_KEYS", Message: "missing"},
				{ID: "w", Target: target, Severity: SeverityWarning, Code: "W"},
			},
			Actions: []*AuditAction{{Type: ActionSuggestChange, Description: "Add required keys to preset."}},
		}},
	}
}

func TestToMap(t *testing.T) {
	m := ToMap(sampleReport())

	assert.Equal(t, "industries:presets", m["scope"])
	assert.Equal(t, true, m["has_critical"])
	assert.Equal(t, 2, m["total_issues"])
	assert.Equal(t, 1, m["total_actions"])
	assert.Equal(t, map[string]int{"info": 0, "warning": 1, "error": 1, "critical": 0}, m["severity_summary"])

	results := m["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "preset", first["target"].(map[string]any)["type"])
	issue := first["issues"].([]any)[0].(map[string]any)
	assert.Equal(t, "error", issue["severity"])
	assert.Equal(t, map[string]any{}, issue["details"])
}

func TestToJSON_IndentedAndParsable(t *testing.T) {
	out, err := ToJSON(sampleReport())
	require.NoError(t, err)
	assert.Contains(t, out, "\n  \"scope\": \"industries:presets\"")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.EqualValues(t, 2, decoded["total_issues"])
}

func TestLogReport(t *testing.T) {
	rec := &events.Recorder{}
	NewReporter(rec).LogReport(context.Background(), &AuditReport{Scope: "s"}, "trace")

	evs := rec.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "Audit report generated", evs[0].Message)
	assert.Equal(t, "trace", evs[0].TraceID)
	assert.Equal(t, false, evs[0].Extra["has_critical"])
}
