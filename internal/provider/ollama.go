package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dossierhq/dossier/pkg/models"
)

const defaultOllamaHost = "http://localhost:11434"

// ollamaGateway implements Gateway for a local Ollama server. Tool schemas
// are accepted but not forwarded: the request carries messages only, so a
// model on this backend never emits tool calls and answers each turn in a
// single pass from whatever context is already in the prompt.
type ollamaGateway struct {
	host   string
	client *http.Client
}

func newOllamaGateway(host string, client *http.Client) *ollamaGateway {
	if host == "" {
		host = defaultOllamaHost
	}
	return &ollamaGateway{host: host, client: client}
}

func (g *ollamaGateway) Provider() models.Provider { return models.ProviderOllama }

type ollamaRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  map[string]any       `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

func (g *ollamaGateway) Generate(ctx context.Context, model string, messages []models.ChatMessage, opts GenerateOptions) (*GenerateResult, error) {
	// Flatten tool-result turns into user turns; Ollama has no tool role.
	msgs := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "tool" {
			msgs = append(msgs, models.ChatMessage{Role: "user", Content: m.Content})
			continue
		}
		msgs = append(msgs, models.ChatMessage{Role: m.Role, Content: m.Content})
	}

	req := ollamaRequest{
		Model:    model,
		Messages: msgs,
		Options: map[string]any{
			"temperature": opts.temperature(),
			"num_predict": opts.maxTokens(),
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, &RequestError{
			Provider: models.ProviderOllama,
			Status:   httpResp.StatusCode,
			Body:     string(respBody),
		}
	}

	var resp ollamaResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, &RequestError{
			Provider: models.ProviderOllama,
			Status:   httpResp.StatusCode,
			Body:     resp.Error,
		}
	}

	return &GenerateResult{
		Content: resp.Message.Content,
		Usage: models.TokenUsage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		},
	}, nil
}
