package flow

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/traylinx/flowforge/internal/models"
)

// Record is the fixed-shape structured output every step must produce.
type Record struct {
	Kind     string         `json:"kind"`
	Language string         `json:"language"`
	Title    string         `json:"title"`
	Summary  string         `json:"summary"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`

	// fields holds the decoded object as produced by the generator.
	fields map[string]any
}

// ParseError means the generated text is not a structured record.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("record parse failed: %s: %v", e.Reason, e.Err)
	}
	return "record parse failed: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseRecord decodes generated content into a Record. The content must be a
// single JSON object; any other shape yields a *ParseError.
func ParseRecord(content string) (*Record, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, &ParseError{Reason: "empty output"}
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}
	fields, ok := decoded.(map[string]any)
	if !ok {
		return nil, &ParseError{Reason: fmt.Sprintf("expected a JSON object, got %T", decoded)}
	}

	rec := &Record{
		Kind:     stringField(fields, "kind"),
		Language: stringField(fields, "language"),
		Title:    stringField(fields, "title"),
		Summary:  stringField(fields, "summary"),
		fields:   fields,
	}
	switch c := fields["content"].(type) {
	case nil:
	case string:
		rec.Content = c
	default:
		b, _ := json.Marshal(c)
		rec.Content = string(b)
	}
	if md, ok := fields["metadata"].(map[string]any); ok {
		rec.Metadata = md
	}
	return rec, nil
}

// DegradedRecord wraps unstructured output so a malformed generation never
// fails a step.
func DegradedRecord(flowID, step, raw string) *Record {
	rec := &Record{
		Kind:     models.ArtifactDoc,
		Language: "none",
		Title:    flowID + ":" + step,
		Summary:  "Unstructured output (failed JSON parse).",
		Content:  raw,
		Metadata: map[string]any{"step": step, "parse_error": true},
	}
	rec.fields = rec.toFields()
	return rec
}

func (r *Record) toFields() map[string]any {
	md := r.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return map[string]any{
		"kind":     r.Kind,
		"language": r.Language,
		"title":    r.Title,
		"summary":  r.Summary,
		"content":  r.Content,
		"metadata": md,
	}
}

// Map returns the record as produced by the generator, including fields
// outside the fixed shape.
func (r *Record) Map() map[string]any {
	if r.fields != nil {
		return r.fields
	}
	return r.toFields()
}

// ArtifactType is the record kind, "doc" when absent.
func (r *Record) ArtifactType() string {
	if r.Kind == "" {
		return models.ArtifactDoc
	}
	return r.Kind
}

// ArtifactKey is the title, or <flow_id>:<step> when absent.
func (r *Record) ArtifactKey(flowID, step string) string {
	if r.Title != "" {
		return r.Title
	}
	return flowID + ":" + step
}

// ArtifactMetadata merges the record's metadata over step, language and summary.
func (r *Record) ArtifactMetadata(step string) map[string]any {
	md := map[string]any{
		"step":     step,
		"language": nullable(r.Language),
		"summary":  nullable(r.Summary),
	}
	for k, v := range r.Metadata {
		md[k] = v
	}
	return md
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
