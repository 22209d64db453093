// Package events provides the structured event sink used by every engine.
// Events are logged through logrus and fanned out asynchronously to
// subscribers such as the JSON-lines event log.
package events

import (
	"sync"
	"time"
)

// Sink receives structured engine events. Implementations must never panic
// or block the caller for long.
type Sink interface {
	LogEvent(engine, message, traceID string, extra map[string]any)
}

// Event is one structured engine event.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Engine    string         `json:"engine"`
	Message   string         `json:"message"`
	TraceID   string         `json:"trace_id"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Nop discards every event.
type Nop struct{}

// LogEvent implements Sink.
func (Nop) LogEvent(string, string, string, map[string]any) {}

// Recorder keeps events in memory. It is meant for tests and diagnostics.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// LogEvent implements Sink.
func (r *Recorder) LogEvent(engine, message, traceID string, extra map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{
		Timestamp: time.Now(),
		Engine:    engine,
		Message:   message,
		TraceID:   traceID,
		Extra:     copyExtra(extra),
	})
}

// Events returns a snapshot of recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Messages returns the recorded messages for engine, in order.
func (r *Recorder) Messages(engine string) []string {
	var out []string
	for _, e := range r.Events() {
		if engine == "" || e.Engine == engine {
			out = append(out, e.Message)
		}
	}
	return out
}

// Has reports whether a message was recorded for engine.
func (r *Recorder) Has(engine, message string) bool {
	for _, m := range r.Messages(engine) {
		if m == message {
			return true
		}
	}
	return false
}

func copyExtra(extra map[string]any) map[string]any {
	if extra == nil {
		return nil
	}
	out := make(map[string]any, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}
