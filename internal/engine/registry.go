// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/traylinx/flowforge/internal/events"
)

// Provider generates text for a model.
type Provider interface {
	Generate(ctx context.Context, req *GenerationRequest, model, traceID string) (*ProviderOutput, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req *GenerationRequest, model, traceID string) (*ProviderOutput, error)

// Generate implements Provider.
func (f ProviderFunc) Generate(ctx context.Context, req *GenerationRequest, model, traceID string) (*ProviderOutput, error) {
	return f(ctx, req, model, traceID)
}

// Registry maps provider names to backends. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// DefaultProviders are the names served by stub providers out of the box.
var DefaultProviders = []string{"openai", "deepseek", "anthropic", "gemini", "internal"}

// NewDefaultRegistry registers a stub provider for every default name.
func NewDefaultRegistry(sink events.Sink) *Registry {
	r := NewRegistry()
	for _, name := range DefaultProviders {
		r.Register(name, NewStubProvider(name, sink))
	}
	return r
}

// Register adds or replaces the provider for name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(name)] = p
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, unknownProvider(name)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StubProvider answers with a fixed text. It stands in for backends that
// are not configured.
type StubProvider struct {
	name string
	sink events.Sink
}

// NewStubProvider returns a stub provider for name.
func NewStubProvider(name string, sink events.Sink) *StubProvider {
	if sink == nil {
		sink = events.Nop{}
	}
	return &StubProvider{name: strings.ToLower(name), sink: sink}
}

// StubText is the fixed output of the stub for provider name.
func StubText(name string) string {
	if strings.EqualFold(name, "internal") {
		return "INTERNAL MODEL RESPONSE (stub)"
	}
	return strings.ToUpper(name) + " RESPONSE (stub)"
}

// Generate implements Provider.
func (p *StubProvider) Generate(_ context.Context, req *GenerationRequest, model, traceID string) (*ProviderOutput, error) {
	keys := make([]string, 0, 5)
	for k := range req.Payload() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	p.sink.LogEvent(p.name+"-provider", "Provider invoked (stub)", traceID, map[string]any{
		"model":        model,
		"request_keys": keys,
	})
	return &ProviderOutput{
		Provider:   p.name,
		Model:      model,
		OutputText: StubText(p.name),
		Raw:        map[string]any{},
		TraceID:    traceID,
	}, nil
}
