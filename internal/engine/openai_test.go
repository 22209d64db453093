package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestOpenAICompatProvider_Generate(t *testing.T) {
	var gotBody []byte
	var gotAuth, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotTrace = r.Header.Get("X-Trace-Id")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider(OpenAICompatOptions{
		Name:    "openai",
		BaseURL: srv.URL + "/v1/",
		APIKey:  "sk-test",
		Headers: map[string]string{"X-Extra": "1"},
	})

	req := NewGenerationRequest("say hello", "be brief", nil)
	out, err := p.Generate(context.Background(), req, "gpt-4o", "trace-7")
	require.NoError(t, err)

	assert.Equal(t, "hello", out.OutputText)
	assert.Equal(t, "openai", out.Provider)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "trace-7", gotTrace)

	body := gjson.ParseBytes(gotBody)
	assert.Equal(t, "gpt-4o", body.Get("model").String())
	assert.Equal(t, "system", body.Get("messages.0.role").String())
	assert.Equal(t, "be brief", body.Get("messages.0.content").String())
	assert.Equal(t, "say hello", body.Get("messages.1.content").String())
	assert.Equal(t, int64(1024), body.Get("max_tokens").Int())

	tokens, ok := usageTokens(out.Raw)
	assert.True(t, ok)
	assert.Equal(t, int64(7), tokens)
	assert.Equal(t, "stop", out.Raw["finish_reason"])
}

func TestOpenAICompatProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider(OpenAICompatOptions{Name: "deepseek", BaseURL: srv.URL})
	_, err := p.Generate(context.Background(), NewGenerationRequest("x", "", nil), "chat", "")
	require.Error(t, err)

	var se StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}

func TestOpenAICompatProvider_MissingBaseURL(t *testing.T) {
	p := NewOpenAICompatProvider(OpenAICompatOptions{Name: "openai"})
	_, err := p.Generate(context.Background(), NewGenerationRequest("x", "", nil), "m", "")
	assert.Error(t, err)
}
