// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/util"
)

// EngineStore is the persistence the Router needs.
type EngineStore interface {
	ListEngineConfigs(ctx context.Context, enabledOnly bool) ([]*models.EngineConfig, error)
	GetEngineConfig(ctx context.Context, id string) (*models.EngineConfig, error)
	UpdateEngineConfig(ctx context.Context, e *models.EngineConfig) error
}

// RouterOptions configures a Router.
type RouterOptions struct {
	// InternalProvider is the fallback provider when every other provider is
	// switched off. Default "internal".
	InternalProvider string
	// KillSwitch overrides per provider. Providers not listed are enabled.
	KillSwitch map[string]bool
	// GenerationTimeout bounds a single provider call. Zero disables it.
	GenerationTimeout time.Duration
	// Tokens counts usage. Nil uses a new TokenCounter.
	Tokens *TokenCounter
}

// Router selects an engine configuration and dispatches generation.
type Router struct {
	store    EngineStore
	registry *Registry
	sink     events.Sink
	internal string
	timeout  time.Duration
	tokens   *TokenCounter

	mu         sync.RWMutex
	killSwitch map[string]bool

	usageMu sync.Mutex
}

// NewRouter builds a router. The kill switch starts with every default
// provider enabled, then applies opts.KillSwitch.
func NewRouter(store EngineStore, registry *Registry, sink events.Sink, opts RouterOptions) *Router {
	if sink == nil {
		sink = events.Nop{}
	}
	internal := normalizeProvider(opts.InternalProvider)
	if internal == "" {
		internal = "internal"
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = NewTokenCounter()
	}
	ks := make(map[string]bool, len(DefaultProviders)+len(opts.KillSwitch))
	for _, name := range DefaultProviders {
		ks[name] = true
	}
	for name, enabled := range opts.KillSwitch {
		ks[normalizeProvider(name)] = enabled
	}
	return &Router{
		store:      store,
		registry:   registry,
		sink:       sink,
		internal:   internal,
		timeout:    opts.GenerationTimeout,
		tokens:     tokens,
		killSwitch: ks,
	}
}

// SetKillSwitch enables or disables a provider for selection.
func (r *Router) SetKillSwitch(provider string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killSwitch[normalizeProvider(provider)] = enabled
}

// normalizeProvider makes provider names case-insensitive.
func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// KillSwitch returns a snapshot of the overrides.
func (r *Router) KillSwitch() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.killSwitch))
	for k, v := range r.killSwitch {
		out[k] = v
	}
	return out
}

func (r *Router) providerEnabled(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	enabled, ok := r.killSwitch[normalizeProvider(provider)]
	return !ok || enabled
}

// AvailableEngines returns the enabled engines that survive the kill switch,
// falling back to engines of the internal provider when none do.
func (r *Router) AvailableEngines(ctx context.Context) ([]*models.EngineConfig, error) {
	enabled, err := r.store.ListEngineConfigs(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("router: list engines: %w", err)
	}

	var out []*models.EngineConfig
	for _, e := range enabled {
		if r.providerEnabled(e.Provider) {
			out = append(out, e)
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	for _, e := range enabled {
		if normalizeProvider(e.Provider) == r.internal {
			out = append(out, e)
		}
	}
	return out, nil
}

// SelectEngine returns the preferred available engine.
func (r *Router) SelectEngine(ctx context.Context) (*models.EngineConfig, error) {
	engines, err := r.AvailableEngines(ctx)
	if err != nil {
		return nil, err
	}
	if len(engines) == 0 {
		return nil, ErrNoEngineAvailable
	}
	return engines[0], nil
}

// SelectAndGenerate selects an engine and runs one generation on it. There
// is no retry or cross-provider fallback at this layer.
func (r *Router) SelectAndGenerate(ctx context.Context, req *GenerationRequest, traceID string) (*GenerationResponse, error) {
	if traceID == "" {
		traceID = util.NewTraceID()
	}

	engine, err := r.SelectEngine(ctx)
	if err != nil {
		if errors.Is(err, ErrNoEngineAvailable) {
			r.sink.LogEvent("none", "No AI engines available", traceID, map[string]any{"request_meta": req.Metadata})
		}
		return nil, err
	}

	engineKey := engine.Provider + ":" + engine.Model
	r.sink.LogEvent(engineKey, "AI text generation started", traceID, map[string]any{
		"provider":     engine.Provider,
		"model":        engine.Model,
		"request_meta": req.Metadata,
	})

	provider, err := r.registry.Get(engine.Provider)
	if err != nil {
		r.sink.LogEvent(engineKey, "AI text generation failed", traceID, map[string]any{"error": err.Error()})
		return nil, err
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := provider.Generate(callCtx, req, engine.Model, traceID)
	if err == nil && out == nil {
		err = fmt.Errorf("%w: %s", ErrEmptyOutput, engineKey)
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %s", ErrGenerationTimeout, r.timeout, engineKey)
		}
		r.sink.LogEvent(engineKey, "AI text generation failed", traceID, map[string]any{"error": err.Error()})
		return nil, err
	}

	content := out.OutputText
	r.sink.LogEvent(engineKey, "AI text generation completed", traceID, map[string]any{
		"provider":         engine.Provider,
		"model":            engine.Model,
		"response_preview": preview(content, 120),
	})

	r.recordUsage(ctx, engine.ID, req, out)

	raw := out.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	return &GenerationResponse{
		Content:  content,
		Provider: engine.Provider,
		Model:    engine.Model,
		TraceID:  traceID,
		Raw:      raw,
	}, nil
}

// recordUsage bumps call and token counters on the engine. Failures are
// logged only.
func (r *Router) recordUsage(ctx context.Context, engineID string, req *GenerationRequest, out *ProviderOutput) {
	tokens, ok := usageTokens(out.Raw)
	if !ok {
		tokens = int64(r.tokens.Count(req.SystemPrompt) + r.tokens.Count(req.Prompt) + r.tokens.Count(out.OutputText))
	}

	r.usageMu.Lock()
	defer r.usageMu.Unlock()

	current, err := r.store.GetEngineConfig(ctx, engineID)
	if err != nil {
		log.WithField("engine_id", engineID).Warnf("router: usage accounting skipped: %v", err)
		return
	}
	current.TotalCalls++
	current.TotalTokens += tokens
	if err := r.store.UpdateEngineConfig(ctx, current); err != nil {
		log.WithField("engine_id", engineID).Warnf("router: usage accounting failed: %v", err)
	}
}

// ListEngines returns every engine configuration in priority order.
func (r *Router) ListEngines(ctx context.Context) ([]*models.EngineConfig, error) {
	return r.store.ListEngineConfigs(ctx, false)
}

// SetEngineEnabled toggles an engine configuration.
func (r *Router) SetEngineEnabled(ctx context.Context, id string, enabled bool) (*models.EngineConfig, error) {
	e, err := r.store.GetEngineConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Enabled = enabled
	if err := r.store.UpdateEngineConfig(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
