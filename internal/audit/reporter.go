package audit

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/traylinx/flowforge/internal/events"
)

// ToMap renders a report as plain maps for logging and JSON output.
func ToMap(report *AuditReport) map[string]any {
	results := make([]any, 0, len(report.Results))
	for _, r := range report.Results {
		issues := make([]any, 0, len(r.Issues))
		for _, i := range r.Issues {
			issues = append(issues, map[string]any{
				"id":       i.ID,
				"severity": string(i.Severity),
				"code":     i.Code,
				"message":  i.Message,
				"details":  orEmpty(i.Details),
			})
		}
		actions := make([]any, 0, len(r.Actions))
		for _, a := range r.Actions {
			actions = append(actions, map[string]any{
				"type":            string(a.Type),
				"description":     a.Description,
				"payload":         orEmpty(a.Payload),
				"auto_applicable": a.AutoApplicable,
			})
		}
		target := map[string]any{}
		if r.Target != nil {
			target = map[string]any{
				"type":       string(r.Target.Type),
				"identifier": r.Target.Identifier,
				"metadata":   orEmpty(r.Target.Metadata),
			}
		}
		results = append(results, map[string]any{
			"target":  target,
			"issues":  issues,
			"actions": actions,
		})
	}

	return map[string]any{
		"scope":            report.Scope,
		"has_critical":     report.HasCritical(),
		"total_issues":     report.TotalIssues(),
		"total_actions":    report.TotalActions(),
		"severity_summary": report.SeveritySummary(),
		"results":          results,
	}
}

// ToJSON renders ToMap indented by two spaces.
func ToJSON(report *AuditReport) (string, error) {
	data, err := json.MarshalIndent(ToMap(report), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Reporter emits reports to the event sink.
type Reporter struct {
	sink events.Sink
}

func NewReporter(sink events.Sink) *Reporter {
	if sink == nil {
		sink = events.Nop{}
	}
	return &Reporter{sink: sink}
}

// LogReport emits the full report as one event.
func (r *Reporter) LogReport(_ context.Context, report *AuditReport, traceID string) {
	r.sink.LogEvent(engineName, "Audit report generated", traceID, ToMap(report))
}
