package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/flowforge/internal/events"
)

func TestDefaultRegistry_Stubs(t *testing.T) {
	rec := &events.Recorder{}
	reg := NewDefaultRegistry(rec)

	assert.Equal(t, []string{"anthropic", "deepseek", "gemini", "internal", "openai"}, reg.Names())

	tests := []struct {
		name string
		want string
	}{
		{"openai", "OPENAI RESPONSE (stub)"},
		{"deepseek", "DEEPSEEK RESPONSE (stub)"},
		{"anthropic", "ANTHROPIC RESPONSE (stub)"},
		{"gemini", "GEMINI RESPONSE (stub)"},
		{"internal", "INTERNAL MODEL RESPONSE (stub)"},
	}
	for _, tt := range tests {
		p, err := reg.Get(tt.name)
		require.NoError(t, err)
		out, err := p.Generate(context.Background(), NewGenerationRequest("hi", "", nil), "m", "t-1")
		require.NoError(t, err)
		assert.Equal(t, tt.want, out.OutputText)
		assert.Equal(t, tt.name, out.Provider)
		assert.Equal(t, "t-1", out.TraceID)
	}
	assert.True(t, rec.Has("openai-provider", "Provider invoked (stub)"))
}

func TestRegistry_UnknownProvider(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("mistral")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProvider))
	assert.Equal(t, "unknown AI provider: mistral", err.Error())
	assert.True(t, IsConfigurationError(err))
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	reg := NewDefaultRegistry(nil)
	reg.Register("OpenAI", ProviderFunc(func(_ context.Context, _ *GenerationRequest, model, traceID string) (*ProviderOutput, error) {
		return &ProviderOutput{Provider: "openai", Model: model, OutputText: "real", TraceID: traceID}, nil
	}))
	p, err := reg.Get("openai")
	require.NoError(t, err)
	out, err := p.Generate(context.Background(), NewGenerationRequest("x", "", nil), "gpt-4o", "")
	require.NoError(t, err)
	assert.Equal(t, "real", out.OutputText)
}

func TestNewGenerationRequest_Defaults(t *testing.T) {
	req := NewGenerationRequest("p", "s", nil)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.Equal(t, DefaultTemperature, req.Temperature)
	assert.NotNil(t, req.Metadata)
	assert.Equal(t, "s", req.Payload()["system_prompt"])
}

func TestTokenCounter(t *testing.T) {
	c := NewTokenCounter()
	assert.Equal(t, 0, c.Count(""))
	assert.Greater(t, c.Count("hello world, this is a token count"), 0)

	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("one two"))
	assert.Equal(t, 3, EstimateTokens("one\ttwo\nthree"))
}
