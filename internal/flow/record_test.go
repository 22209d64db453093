package flow

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecord(t *testing.T) {
	rec, err := ParseRecord(`{"kind":"code","language":"python","title":"main.py","summary":"entry","content":"x=1","metadata":{"lines":1},"extra":true}`)
	require.NoError(t, err)
	assert.Equal(t, "code", rec.Kind)
	assert.Equal(t, "python", rec.Language)
	assert.Equal(t, "x=1", rec.Content)
	assert.Equal(t, float64(1), rec.Metadata["lines"])
	assert.Equal(t, true, rec.Map()["extra"])
}

func TestParseRecord_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", "   "},
		{"not json", "OPENAI RESPONSE (stub)"},
		{"array", `[1,2]`},
		{"string", `"hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord(tt.content)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
		})
	}
}

func TestParseRecord_NonStringContent(t *testing.T) {
	rec, err := ParseRecord(`{"kind":"config","content":{"a":1}}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, rec.Content)
}

func TestDegradedRecord(t *testing.T) {
	rec := DegradedRecord("flow-1", "plan", "free text")
	assert.Equal(t, "doc", rec.Kind)
	assert.Equal(t, "none", rec.Language)
	assert.Equal(t, "flow-1:plan", rec.Title)
	assert.Equal(t, "Unstructured output (failed JSON parse).", rec.Summary)
	assert.Equal(t, "free text", rec.Content)
	assert.Equal(t, true, rec.Metadata["parse_error"])
	assert.Equal(t, "plan", rec.Map()["metadata"].(map[string]any)["step"])
}

func TestRecordArtifactFields(t *testing.T) {
	rec, err := ParseRecord(`{"content":"x","metadata":{"summary":"override"}}`)
	require.NoError(t, err)
	assert.Equal(t, "doc", rec.ArtifactType())
	assert.Equal(t, "f:s", rec.ArtifactKey("f", "s"))

	md := rec.ArtifactMetadata("s")
	assert.Equal(t, "s", md["step"])
	assert.Nil(t, md["language"])
	assert.Equal(t, "override", md["summary"])
}

func TestBuildStepPrompt(t *testing.T) {
	prompt := BuildStepPrompt("design", map[string]any{"goal": "todo app"}, map[string]any{"plan": map[string]any{"artifact_id": "a1"}})
	assert.True(t, strings.HasPrefix(prompt, "You are executing step 'design' of a multi-step flow."))
	assert.Contains(t, prompt, `"goal": "todo app"`)
	assert.Contains(t, prompt, `"artifact_id": "a1"`)
	assert.Contains(t, prompt, `"kind": "code" | "doc"`)
	assert.True(t, strings.HasSuffix(prompt, "The entire response MUST be valid JSON."))

	empty := BuildStepPrompt("x", nil, nil)
	assert.Contains(t, empty, "User Input (JSON):\n{}")
}
