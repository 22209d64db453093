// Package audit evaluates rules over flows, presets and files, applies the
// resulting actions, and guards single-file mutations behind a backup,
// sandbox validation and rollback.
package audit

// TargetType identifies what kind of entity is being audited.
type TargetType string

const (
	TargetFile          TargetType = "file"
	TargetFlow          TargetType = "flow"
	TargetPreset        TargetType = "preset"
	TargetEngineConfig  TargetType = "engine_config"
	TargetWorkspace     TargetType = "workspace"
	TargetRouter        TargetType = "router"
	TargetRuntimeEngine TargetType = "runtime_engine"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity in ascending order.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}

// ParseSeverity maps a string to a Severity, reporting whether it is known.
func ParseSeverity(s string) (Severity, bool) {
	for _, sev := range Severities {
		if string(sev) == s {
			return sev, true
		}
	}
	return "", false
}

// ActionType names what an action does when applied.
type ActionType string

const (
	ActionNoop          ActionType = "noop"
	ActionSuggestChange ActionType = "suggest_change"
	ActionApplyChange   ActionType = "apply_change"
	ActionCreateFile    ActionType = "create_file"
	ActionUpdateFile    ActionType = "update_file"
	ActionDeleteFile    ActionType = "delete_file"
	ActionUpdateDB      ActionType = "update_db"
)

// AuditTarget is an entity subject to rule evaluation.
type AuditTarget struct {
	Type       TargetType     `json:"type"`
	Identifier string         `json:"identifier"`
	Metadata   map[string]any `json:"metadata"`
}

// AuditIssue is a single finding produced by a rule.
type AuditIssue struct {
	ID       string         `json:"id"`
	Target   *AuditTarget   `json:"-"`
	Severity Severity       `json:"severity"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details"`
}

// AuditAction is a proposed fix.
type AuditAction struct {
	Type           ActionType     `json:"type"`
	Description    string         `json:"description"`
	Payload        map[string]any `json:"payload"`
	AutoApplicable bool           `json:"auto_applicable"`
}

// AuditResult is the outcome of one rule on one target.
type AuditResult struct {
	Target  *AuditTarget   `json:"target"`
	Issues  []*AuditIssue  `json:"issues"`
	Actions []*AuditAction `json:"actions"`
}

// Empty reports whether the result carries nothing worth keeping.
func (r *AuditResult) Empty() bool {
	return r == nil || (len(r.Issues) == 0 && len(r.Actions) == 0)
}

// AuditReport aggregates the non-empty results of an audit.
type AuditReport struct {
	Scope   string         `json:"scope"`
	Results []*AuditResult `json:"results"`
}

// HasCritical reports whether any issue is error or critical.
func (r *AuditReport) HasCritical() bool {
	for _, res := range r.Results {
		for _, issue := range res.Issues {
			if issue.Severity == SeverityError || issue.Severity == SeverityCritical {
				return true
			}
		}
	}
	return false
}

// TotalIssues counts the issues across all results.
func (r *AuditReport) TotalIssues() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Issues)
	}
	return n
}

// TotalActions counts the proposed actions across all results.
func (r *AuditReport) TotalActions() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Actions)
	}
	return n
}

// SeveritySummary counts issues per known severity.
func (r *AuditReport) SeveritySummary() map[string]int {
	summary := make(map[string]int, len(Severities))
	for _, sev := range Severities {
		summary[string(sev)] = 0
	}
	for _, res := range r.Results {
		for _, issue := range res.Issues {
			if _, ok := summary[string(issue.Severity)]; ok {
				summary[string(issue.Severity)]++
			}
		}
	}
	return summary
}
