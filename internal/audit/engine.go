// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/util"
)

const engineName = "audit-engine"

// Rule evaluates one target. Rules that do not apply to the target's type
// return an empty result.
type Rule interface {
	Name() string
	Category() string
	Evaluate(ctx context.Context, target *AuditTarget) (*AuditResult, error)
}

// RuleSet is a caller-owned collection of rules. Static rules are registered
// with Add; loaders publish replaceable groups with SetSource.
type RuleSet struct {
	mu      sync.RWMutex
	static  []Rule
	sources map[string][]Rule
}

// NewRuleSet returns a set holding rules.
func NewRuleSet(rules ...Rule) *RuleSet {
	return &RuleSet{static: rules, sources: make(map[string][]Rule)}
}

// Add appends static rules.
func (s *RuleSet) Add(rules ...Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.static = append(s.static, rules...)
}

// SetSource replaces every rule previously published under source. An empty
// slice removes the source.
func (s *RuleSet) SetSource(source string, rules []Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(rules) == 0 {
		delete(s.sources, source)
		return
	}
	s.sources[source] = append([]Rule(nil), rules...)
}

// Rules returns a snapshot: static rules first, then sources by name.
func (s *RuleSet) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(s.static))
	out = append(out, s.static...)
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, s.sources[name]...)
	}
	return out
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	return len(s.Rules())
}

// AuditOptions controls whether actions run after evaluation.
type AuditOptions struct {
	ApplyFixes bool
	DryRun     bool
}

// DefaultAuditOptions only reports: no fixes, and dry-run if fixes are enabled.
func DefaultAuditOptions() AuditOptions {
	return AuditOptions{ApplyFixes: false, DryRun: true}
}

// Engine runs every rule over every target.
type Engine struct {
	rules    *RuleSet
	actions  *ActionExecutor
	reporter *Reporter
	sink     events.Sink
}

// NewEngine builds a rule engine. actions may be nil when fixes are never
// applied.
func NewEngine(rules *RuleSet, actions *ActionExecutor, sink events.Sink) *Engine {
	if sink == nil {
		sink = events.Nop{}
	}
	if rules == nil {
		rules = NewRuleSet()
	}
	return &Engine{
		rules:    rules,
		actions:  actions,
		reporter: NewReporter(sink),
		sink:     sink,
	}
}

// Rules exposes the engine's rule set.
func (e *Engine) Rules() *RuleSet {
	return e.rules
}

// AuditTargets evaluates each (target, rule) pair in order. A failing rule is
// logged and skipped. The only returned errors are cancellation and action
// failures; the report is returned with them.
func (e *Engine) AuditTargets(ctx context.Context, scope string, targets []*AuditTarget, opts AuditOptions) (*AuditReport, error) {
	traceID := util.NewTraceID()
	rules := e.rules.Rules()

	e.sink.LogEvent(engineName, "Starting audit", traceID, map[string]any{
		"scope":       scope,
		"num_targets": len(targets),
		"num_rules":   len(rules),
		"apply_fixes": opts.ApplyFixes,
		"dry_run":     opts.DryRun,
	})

	report := &AuditReport{Scope: scope, Results: []*AuditResult{}}
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		for _, rule := range rules {
			result, err := e.evaluate(ctx, rule, target)
			if err != nil {
				e.sink.LogEvent(engineName, "Rule evaluation error", traceID, map[string]any{
					"rule":   rule.Name(),
					"target": target.Identifier,
					"error":  err.Error(),
				})
				continue
			}
			if !result.Empty() {
				if result.Target == nil {
					result.Target = target
				}
				report.Results = append(report.Results, result)
			}
			issues, actions := 0, 0
			if result != nil {
				issues, actions = len(result.Issues), len(result.Actions)
			}
			e.sink.LogEvent(engineName, "Rule evaluated", traceID, map[string]any{
				"rule":    rule.Name(),
				"target":  target.Identifier,
				"issues":  issues,
				"actions": actions,
			})
		}
	}

	e.reporter.LogReport(ctx, report, traceID)

	if opts.ApplyFixes && len(report.Results) > 0 {
		if e.actions == nil {
			return report, fmt.Errorf("audit: fixes requested but no action executor configured")
		}
		e.sink.LogEvent(engineName, "Applying audit fixes", traceID, map[string]any{"dry_run": opts.DryRun})
		if err := e.actions.ApplyActions(ctx, report.Results, opts.DryRun); err != nil {
			return report, err
		}
	}

	e.sink.LogEvent(engineName, "Audit completed", traceID, map[string]any{
		"total_results": len(report.Results),
	})
	return report, nil
}

// evaluate isolates one rule call, converting a panic into an error.
func (e *Engine) evaluate(ctx context.Context, rule Rule, target *AuditTarget) (result *AuditResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("audit: rule %s panicked on %s: %v", rule.Name(), target.Identifier, r)
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return rule.Evaluate(ctx, target)
}
