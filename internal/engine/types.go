// Package engine holds the provider registry, the provider backends and the
// AI Router that selects an engine configuration and dispatches generation.
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEngineAvailable means no enabled engine survived selection.
	ErrNoEngineAvailable = errors.New("no AI engines are enabled in the system")
	// ErrUnknownProvider means the registry has no provider for the name.
	ErrUnknownProvider = errors.New("unknown AI provider")
	// ErrGenerationTimeout means the provider call exceeded its deadline.
	ErrGenerationTimeout = errors.New("AI generation timed out")
	// ErrEmptyOutput means a provider returned neither output nor error.
	ErrEmptyOutput = errors.New("AI provider returned no output")
)

// IsConfigurationError reports whether err will not go away on retry.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrNoEngineAvailable) || errors.Is(err, ErrUnknownProvider)
}

func unknownProvider(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// Default generation parameters.
const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
)

// GenerationRequest is a normalized text generation request.
type GenerationRequest struct {
	Prompt       string         `json:"prompt"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	MaxTokens    int            `json:"max_tokens"`
	Temperature  float64        `json:"temperature"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewGenerationRequest returns a request with default parameters.
func NewGenerationRequest(prompt, systemPrompt string, metadata map[string]any) *GenerationRequest {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &GenerationRequest{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		MaxTokens:    DefaultMaxTokens,
		Temperature:  DefaultTemperature,
		Metadata:     metadata,
	}
}

// Payload is the provider-facing request map.
func (r *GenerationRequest) Payload() map[string]any {
	return map[string]any{
		"prompt":        r.Prompt,
		"system_prompt": r.SystemPrompt,
		"max_tokens":    r.MaxTokens,
		"temperature":   r.Temperature,
		"metadata":      r.Metadata,
	}
}

// ProviderOutput is what a Provider returns.
type ProviderOutput struct {
	Provider   string
	Model      string
	OutputText string
	Raw        map[string]any
	TraceID    string
}

// GenerationResponse is the Router's normalized result.
type GenerationResponse struct {
	Content  string         `json:"content"`
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	TraceID  string         `json:"trace_id"`
	Raw      map[string]any `json:"raw,omitempty"`
}
