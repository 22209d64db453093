package flow

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

const recordShape = `{
  "kind": "code" | "doc" | "asset" | "shader" | "config" | "mixed",
  "language": "python" | "typescript" | "glsl" | "none",
  "title": "short title",
  "summary": "short explanation",
  "content": "the main code or text",
  "metadata": { "any": "extra details" }
}`

// BuildStepPrompt renders the prompt for one step. It embeds the user input
// and every prior step output, and demands the record shape.
func BuildStepPrompt(step string, input map[string]any, previous map[string]any) string {
	if input == nil {
		input = map[string]any{}
	}
	if previous == nil {
		previous = map[string]any{}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are executing step '%s' of a multi-step flow.\n\n", step)
	fmt.Fprintf(&b, "User Input (JSON):\n%s\n\n", indentJSON(input))
	fmt.Fprintf(&b, "Previous Step Outputs (JSON):\n%s\n\n", indentJSON(previous))
	b.WriteString("Respond ONLY as a single JSON object with this exact shape:\n\n")
	b.WriteString(recordShape)
	b.WriteString("\n\nDo NOT include anything outside the JSON. The entire response MUST be valid JSON.")
	return b.String()
}

func indentJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}
