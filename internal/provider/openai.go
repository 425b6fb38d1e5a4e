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

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// openAIGateway implements Gateway for the OpenAI chat-completions API
// with native function calling.
type openAIGateway struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func newOpenAIGateway(apiKey string, client *http.Client) *openAIGateway {
	return &openAIGateway{apiKey: apiKey, endpoint: openAIEndpoint, client: client}
}

func (g *openAIGateway) Provider() models.Provider { return models.ProviderOpenAI }

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	// Arguments is a JSON-encoded string on response tool calls.
	Arguments string `json:"arguments,omitempty"`
}

type openAIToolDef struct {
	Type     string         `json:"type"` // always "function"
	Function openAIFunction `json:"function"`
}

type openAIToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Tools       []openAIToolDef `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (g *openAIGateway) Generate(ctx context.Context, model string, messages []models.ChatMessage, opts GenerateOptions) (*GenerateResult, error) {
	req := openAIRequest{
		Model:       model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.maxTokens(),
	}
	if len(opts.Tools) > 0 {
		req.ToolChoice = "auto"
		for _, t := range opts.Tools {
			req.Tools = append(req.Tools, openAIToolDef{
				Type: "function",
				Function: openAIFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
	}

	for _, msg := range messages {
		om := openAIMessage{Role: msg.Role, Content: msg.Content, ToolCallID: msg.ToolCallID}
		for _, tc := range msg.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunction{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		req.Messages = append(req.Messages, om)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, &RequestError{
			Provider: models.ProviderOpenAI,
			Status:   httpResp.StatusCode,
			Body:     string(respBody),
		}
	}

	var resp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, &RequestError{
			Provider: models.ProviderOpenAI,
			Status:   httpResp.StatusCode,
			Body:     resp.Error.Message,
		}
	}
	if len(resp.Choices) == 0 {
		return nil, &RequestError{
			Provider: models.ProviderOpenAI,
			Status:   httpResp.StatusCode,
			Body:     "response contained no choices",
		}
	}

	choice := resp.Choices[0]
	result := &GenerateResult{
		Content: choice.Message.Content,
		Usage: models.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			// Malformed arguments are kept as raw text so the tool layer
			// can report the failure back to the model.
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": tc.Function.Arguments}
			}
		}
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return result, nil
}
