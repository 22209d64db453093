// Package rules holds the built-in audit rules and the loaders for
// declarative (YAML + expr) and scripted (Lua) rule packs.
package rules

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/traylinx/flowforge/internal/audit"
)

// Category names.
const (
	CategoryStructure = "structure"
	CategoryCustom    = "custom"
)

// Defaults returns the built-in rules.
func Defaults() []audit.Rule {
	return []audit.Rule{FlowDefinitionRule{}, PresetStructureRule{}}
}

// FlowDefinitionRule requires a flow definition to be a mapping.
type FlowDefinitionRule struct{}

func (FlowDefinitionRule) Name() string     { return "flow_definition_rule" }
func (FlowDefinitionRule) Category() string { return CategoryStructure }

func (r FlowDefinitionRule) Evaluate(_ context.Context, target *audit.AuditTarget) (*audit.AuditResult, error) {
	result := &audit.AuditResult{Target: target}
	if target.Type != audit.TargetFlow {
		return result, nil
	}

	definition := target.Metadata["definition"]
	if empty(definition) {
		definition = map[string]any{}
	}
	if _, ok := definition.(map[string]any); ok {
		return result, nil
	}

	key := fmt.Sprint(target.Metadata["key"])
	result.Issues = append(result.Issues, &audit.AuditIssue{
		ID:       fmt.Sprintf("flow:%s:invalid_definition_type", key),
		Target:   target,
		Severity: audit.SeverityError,
		Code:     "FLOW_INVALID_DEFINITION_TYPE",
		Message:  "Flow definition must be a dict.",
		Details:  map[string]any{"actual_type": fmt.Sprintf("%T", definition)},
	})
	result.Actions = append(result.Actions, &audit.AuditAction{
		Type:        audit.ActionSuggestChange,
		Description: "Convert flow definition to a dict structure.",
		Payload:     map[string]any{"flow_key": key},
	})
	return result, nil
}

// empty reports whether v is nil, false, zero or has no elements. Such a
// definition is treated as an empty mapping.
func empty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return rv.IsZero()
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// PresetRequiredKeys must be present in every industry preset.
var PresetRequiredKeys = []string{"flows", "engines"}

// PresetStructureRule requires the preset keys above.
type PresetStructureRule struct{}

func (PresetStructureRule) Name() string     { return "preset_structure_rule" }
func (PresetStructureRule) Category() string { return CategoryStructure }

func (r PresetStructureRule) Evaluate(_ context.Context, target *audit.AuditTarget) (*audit.AuditResult, error) {
	result := &audit.AuditResult{Target: target}
	if target.Type != audit.TargetPreset {
		return result, nil
	}

	preset, _ := target.Metadata["preset"].(map[string]any)
	name := fmt.Sprint(target.Metadata["name"])

	var missing []string
	for _, key := range PresetRequiredKeys {
		if _, ok := preset[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}

	result.Issues = append(result.Issues, &audit.AuditIssue{
		ID:       fmt.Sprintf("preset:%s:missing_keys", name),
		Target:   target,
		Severity: audit.SeverityError,
		Code:     "PRESET_MISSING_KEYS",
		Message:  "Preset is missing required keys: " + strings.Join(missing, ", "),
		Details:  map[string]any{"missing_keys": missing},
	})
	result.Actions = append(result.Actions, &audit.AuditAction{
		Type:        audit.ActionSuggestChange,
		Description: "Add required keys to preset.",
		Payload:     map[string]any{"preset_name": name, "missing_keys": missing},
	})
	return result, nil
}
