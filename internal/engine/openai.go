// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Body)
}

// OpenAICompatOptions configures an OpenAICompatProvider.
type OpenAICompatOptions struct {
	Name    string
	BaseURL string
	APIKey  string
	Headers map[string]string
	Timeout time.Duration
	Client  *http.Client
}

// OpenAICompatProvider talks to any /chat/completions endpoint.
type OpenAICompatProvider struct {
	name    string
	baseURL string
	apiKey  string
	headers map[string]string
	client  *http.Client
}

// NewOpenAICompatProvider builds a provider from options.
func NewOpenAICompatProvider(opts OpenAICompatOptions) *OpenAICompatProvider {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &OpenAICompatProvider{
		name:    strings.ToLower(opts.Name),
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		headers: opts.Headers,
		client:  client,
	}
}

func (p *OpenAICompatProvider) buildPayload(req *GenerationRequest, model string) ([]byte, error) {
	payload := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		payload, err = sjson.SetBytes(payload, path, value)
	}

	set("model", model)
	idx := 0
	if req.SystemPrompt != "" {
		set("messages.0.role", "system")
		set("messages.0.content", req.SystemPrompt)
		idx = 1
	}
	set(fmt.Sprintf("messages.%d.role", idx), "user")
	set(fmt.Sprintf("messages.%d.content", idx), req.Prompt)
	set("max_tokens", req.MaxTokens)
	set("temperature", req.Temperature)
	set("stream", false)
	return payload, err
}

// Generate implements Provider.
func (p *OpenAICompatProvider) Generate(ctx context.Context, req *GenerationRequest, model, traceID string) (*ProviderOutput, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("%s: missing provider base url", p.name)
	}

	payload, err := p.buildPayload(req, model)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	httpReq.Header.Set("User-Agent", "flowforge-openai-compat")
	if traceID != "" {
		httpReq.Header.Set("X-Trace-Id", traceID)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("openai compat provider: close response body error: %v", errClose)
		}
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		log.Debugf("request error, error status: %d, error body: %s", httpResp.StatusCode, string(body))
		return nil, StatusError{Code: httpResp.StatusCode, Body: string(body)}
	}

	parsed := gjson.ParseBytes(body)
	content := parsed.Get("choices.0.message.content").String()

	raw := map[string]any{}
	if usage := parsed.Get("usage"); usage.Exists() {
		raw["usage"] = map[string]any{
			"prompt_tokens":     usage.Get("prompt_tokens").Int(),
			"completion_tokens": usage.Get("completion_tokens").Int(),
			"total_tokens":      usage.Get("total_tokens").Int(),
		}
	}
	if id := parsed.Get("id"); id.Exists() {
		raw["id"] = id.String()
	}
	if finish := parsed.Get("choices.0.finish_reason"); finish.Exists() {
		raw["finish_reason"] = finish.String()
	}

	return &ProviderOutput{
		Provider:   p.name,
		Model:      model,
		OutputText: content,
		Raw:        raw,
		TraceID:    traceID,
	}, nil
}

// usageTokens returns usage.total_tokens from a provider raw map, if present.
func usageTokens(raw map[string]any) (int64, bool) {
	usage, ok := raw["usage"].(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := usage["total_tokens"].(type) {
	case int64:
		return v, v > 0
	case float64:
		return int64(v), v > 0
	case json.Number:
		n, err := v.Int64()
		return n, err == nil && n > 0
	}
	return 0, false
}
