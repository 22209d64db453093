package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFlowDefinition_Steps(t *testing.T) {
	tests := []struct {
		name string
		def  any
		want []string
	}{
		{"any slice", map[string]any{"steps": []any{"plan", "code"}}, []string{"plan", "code"}},
		{"string slice", map[string]any{"steps": []string{"plan"}}, []string{"plan"}},
		{"skips non-strings", map[string]any{"steps": []any{"plan", 3, nil, "test"}}, []string{"plan", "test"}},
		{"missing steps", map[string]any{"name": "x"}, nil},
		{"wrong steps type", map[string]any{"steps": "plan"}, nil},
		{"not a map", []any{"plan"}, nil},
		{"nil", nil, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := &FlowDefinition{Definition: tc.def}
			assert.Equal(t, tc.want, f.Steps())
		})
	}
}

func TestCodeSandboxRun_Failed(t *testing.T) {
	assert.True(t, (&CodeSandboxRun{Status: SandboxFailed}).Failed())
	assert.False(t, (&CodeSandboxRun{Status: SandboxSuccess}).Failed())
	assert.False(t, (&CodeSandboxRun{Status: SandboxRunning}).Failed())
}

func TestCodeSandboxRun_LatencyMs(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	run := &CodeSandboxRun{StartedAt: start}
	assert.Zero(t, run.LatencyMs())

	end := start.Add(1500 * time.Millisecond)
	run.FinishedAt = &end
	assert.Equal(t, int64(1500), run.LatencyMs())
}
