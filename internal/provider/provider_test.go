package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dossierhq/dossier/pkg/models"
)

func TestRegistryCredentialChecks(t *testing.T) {
	r := NewRegistry(Credentials{})

	if _, err := r.Gateway(models.ProviderAnthropic); err == nil {
		t.Error("Gateway(anthropic) without key succeeded, want ConfigurationError")
	}
	if _, err := r.Gateway(models.ProviderOpenAI); err == nil {
		t.Error("Gateway(openai) without key succeeded, want ConfigurationError")
	}
	// Ollama needs no credential.
	if _, err := r.Gateway(models.ProviderOllama); err != nil {
		t.Errorf("Gateway(ollama) error = %v", err)
	}

	_, err := r.Gateway("bedrock")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Gateway(bedrock) error = %v, want *ConfigurationError", err)
	}
}

func TestOpenAIGenerateParsesToolCalls(t *testing.T) {
	var captured openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "openfda_search_drugs", "arguments": "{\"query\":\"semaglutide\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 18}
		}`))
	}))
	defer srv.Close()

	g := &openAIGateway{apiKey: "test-key", endpoint: srv.URL, client: srv.Client()}
	res, err := g.Generate(context.Background(), "gpt-4o",
		[]models.ChatMessage{
			{Role: "system", Content: "policy"},
			{Role: "user", Content: "find drugs"},
		},
		GenerateOptions{Tools: []models.ToolSchema{{
			Name:        "openfda_search_drugs",
			Description: "Search drugs",
			Parameters:  map[string]any{"type": "object"},
		}}})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if captured.ToolChoice != "auto" {
		t.Errorf("tool_choice = %q, want auto", captured.ToolChoice)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Function.Name != "openfda_search_drugs" {
		t.Errorf("request tools = %+v", captured.Tools)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Errorf("request messages = %+v", captured.Messages)
	}

	if len(res.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(res.ToolCalls))
	}
	tc := res.ToolCalls[0]
	if tc.ID != "call_abc" || tc.Name != "openfda_search_drugs" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Arguments["query"] != "semaglutide" {
		t.Errorf("arguments = %v", tc.Arguments)
	}
	if res.Usage.InputTokens != 120 || res.Usage.OutputTokens != 18 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestOpenAIGenerateMalformedArgumentsKeptRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "",
				"tool_calls": [{"id": "c1", "type": "function",
					"function": {"name": "newsapi_search", "arguments": "not json"}}]}}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1}
		}`))
	}))
	defer srv.Close()

	g := &openAIGateway{apiKey: "k", endpoint: srv.URL, client: srv.Client()}
	res, err := g.Generate(context.Background(), "gpt-4o", []models.ChatMessage{{Role: "user", Content: "x"}}, GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.ToolCalls[0].Arguments["_raw"] != "not json" {
		t.Errorf("arguments = %v, want raw text preserved", res.ToolCalls[0].Arguments)
	}
}

func TestOpenAIGenerateRequestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"message": "rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := &openAIGateway{apiKey: "k", endpoint: srv.URL, client: srv.Client()}
	_, err := g.Generate(context.Background(), "gpt-4o", []models.ChatMessage{{Role: "user", Content: "x"}}, GenerateOptions{})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v, want *RequestError", err)
	}
	if reqErr.Status != http.StatusTooManyRequests || reqErr.Provider != models.ProviderOpenAI {
		t.Errorf("RequestError = %+v", reqErr)
	}
}

func TestAnthropicGenerateTranslatesTurns(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("anthropic-version header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "Based on the data, "},
				{"type": "text", "text": "approvals rose."},
				{"type": "tool_use", "id": "toolu_1", "name": "openfda_recent_approvals", "input": {"limit": 5}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 200, "output_tokens": 35}
		}`))
	}))
	defer srv.Close()

	g := &anthropicGateway{apiKey: "test-key", endpoint: srv.URL, client: srv.Client()}
	res, err := g.Generate(context.Background(), "claude-3-5-sonnet-latest",
		[]models.ChatMessage{
			{Role: "system", Content: "policy"},
			{Role: "user", Content: "question"},
			{Role: "assistant", Content: "", ToolCalls: []models.ToolCall{
				{ID: "toolu_0", Name: "newsapi_search", Arguments: map[string]any{"query": "q"}},
			}},
			{Role: "tool", ToolCallID: "toolu_0", Content: "[]"},
		},
		GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// The system turn moves to the top-level field, leaving three turns:
	// user, assistant tool_use, user tool_result.
	if captured.System != "policy" {
		t.Errorf("system = %q", captured.System)
	}
	if len(captured.Messages) != 3 {
		t.Fatalf("got %d request messages, want 3", len(captured.Messages))
	}
	if captured.Messages[2].Role != "user" {
		t.Errorf("tool result role = %q, want user", captured.Messages[2].Role)
	}

	if res.Content != "Based on the data, approvals rose." {
		t.Errorf("content = %q, want concatenated text blocks", res.Content)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Name != "openfda_recent_approvals" {
		t.Errorf("tool calls = %+v", res.ToolCalls)
	}
	if res.Usage.InputTokens != 200 || res.Usage.OutputTokens != 35 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestOllamaGenerateFlattensToolTurns(t *testing.T) {
	var captured ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"message": {"role": "assistant", "content": "local answer"},
			"prompt_eval_count": 40,
			"eval_count": 12
		}`))
	}))
	defer srv.Close()

	g := &ollamaGateway{host: srv.URL, client: srv.Client()}
	res, err := g.Generate(context.Background(), "llama3",
		[]models.ChatMessage{
			{Role: "user", Content: "q"},
			{Role: "tool", ToolCallID: "c1", Content: "tool output"},
		},
		GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Content != "local answer" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Usage.InputTokens != 40 || res.Usage.OutputTokens != 12 {
		t.Errorf("usage = %+v", res.Usage)
	}
	// The tool turn is downgraded to a user turn; no tool role leaks out.
	if len(captured.Messages) != 2 || captured.Messages[1].Role != "user" {
		t.Errorf("request messages = %+v", captured.Messages)
	}
	if captured.Messages[1].Content != "tool output" {
		t.Errorf("flattened content = %q", captured.Messages[1].Content)
	}
}
