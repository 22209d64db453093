package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/traylinx/flowforge/internal/audit"
)

// PackFile is the YAML layout of a declarative rule pack.
type PackFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec declares one rule. Condition is an expr-lang expression over
// Type, Identifier and Metadata that yields true when the target has the
// issue.
type RuleSpec struct {
	Name       string      `yaml:"name"`
	Category   string      `yaml:"category"`
	TargetType string      `yaml:"target_type"`
	Condition  string      `yaml:"condition"`
	Severity   string      `yaml:"severity"`
	Code       string      `yaml:"code"`
	Message    string      `yaml:"message"`
	Action     *ActionSpec `yaml:"action,omitempty"`
}

// ActionSpec declares the action attached to a matching target.
type ActionSpec struct {
	Type           string         `yaml:"type"`
	Description    string         `yaml:"description"`
	Payload        map[string]any `yaml:"payload,omitempty"`
	AutoApplicable bool           `yaml:"auto_applicable"`
}

// conditionEnv returns the expression environment for a target.
func conditionEnv(target *audit.AuditTarget) map[string]any {
	metadata := target.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"Type":       string(target.Type),
		"Identifier": target.Identifier,
		"Metadata":   metadata,
	}
}

// ExprRule is a compiled RuleSpec.
type ExprRule struct {
	spec     RuleSpec
	severity audit.Severity
	program  *vm.Program
	source   string
}

// ParsePack decodes and compiles every rule in data. source names the file
// for error messages.
func ParsePack(data []byte, source string) ([]*ExprRule, error) {
	var pack PackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("rules: parse %s: %w", source, err)
	}
	out := make([]*ExprRule, 0, len(pack.Rules))
	for i, spec := range pack.Rules {
		rule, err := Compile(spec, source)
		if err != nil {
			return nil, fmt.Errorf("rules: %s rule #%d: %w", source, i+1, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

// Compile validates spec and compiles its condition.
func Compile(spec RuleSpec, source string) (*ExprRule, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	if strings.TrimSpace(spec.Condition) == "" {
		return nil, fmt.Errorf("rule %s: missing condition", spec.Name)
	}
	if spec.Category == "" {
		spec.Category = CategoryCustom
	}
	if spec.Severity == "" {
		spec.Severity = string(audit.SeverityWarning)
	}
	severity, ok := audit.ParseSeverity(strings.ToLower(spec.Severity))
	if !ok {
		return nil, fmt.Errorf("rule %s: unknown severity %q", spec.Name, spec.Severity)
	}
	if spec.Code == "" {
		spec.Code = strings.ToUpper(spec.Name)
	}

	env := conditionEnv(&audit.AuditTarget{})
	program, err := expr.Compile(spec.Condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("rule %s: failed to compile condition '%s': %w", spec.Name, spec.Condition, err)
	}
	return &ExprRule{spec: spec, severity: severity, program: program, source: source}, nil
}

func (r *ExprRule) Name() string     { return r.spec.Name }
func (r *ExprRule) Category() string { return r.spec.Category }

// Source is the file the rule was loaded from.
func (r *ExprRule) Source() string { return r.source }

func (r *ExprRule) Evaluate(_ context.Context, target *audit.AuditTarget) (*audit.AuditResult, error) {
	result := &audit.AuditResult{Target: target}
	if r.spec.TargetType != "" && r.spec.TargetType != string(target.Type) {
		return result, nil
	}

	output, err := expr.Run(r.program, conditionEnv(target))
	if err != nil {
		return nil, fmt.Errorf("failed to run condition '%s': %w", r.spec.Condition, err)
	}
	matched, ok := output.(bool)
	if !ok {
		return nil, fmt.Errorf("condition '%s' did not return a boolean", r.spec.Condition)
	}
	if !matched {
		return result, nil
	}

	result.Issues = append(result.Issues, &audit.AuditIssue{
		ID:       fmt.Sprintf("%s:%s:%s", target.Type, target.Identifier, r.spec.Name),
		Target:   target,
		Severity: r.severity,
		Code:     r.spec.Code,
		Message:  r.spec.Message,
		Details:  map[string]any{"rule": r.spec.Name, "source": r.source},
	})
	if a := r.spec.Action; a != nil {
		payload := map[string]any{"target": target.Identifier}
		for k, v := range a.Payload {
			payload[k] = v
		}
		actionType := audit.ActionType(strings.ToLower(a.Type))
		if actionType == "" {
			actionType = audit.ActionSuggestChange
		}
		result.Actions = append(result.Actions, &audit.AuditAction{
			Type:           actionType,
			Description:    a.Description,
			Payload:        payload,
			AutoApplicable: a.AutoApplicable,
		})
	}
	return result, nil
}
