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

const anthropicEndpoint = "https://api.anthropic.com/v1/messages"

// anthropicGateway implements Gateway for the Anthropic Messages API,
// including native tool use (tool_use / tool_result content blocks).
type anthropicGateway struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func newAnthropicGateway(apiKey string, client *http.Client) *anthropicGateway {
	return &anthropicGateway{apiKey: apiKey, endpoint: anthropicEndpoint, client: client}
}

func (g *anthropicGateway) Provider() models.Provider { return models.ProviderAnthropic }

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicContent struct {
	Type      string         `json:"type"` // "text", "tool_use", "tool_result"
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate translates the neutral message list into Anthropic's format.
// The system turn becomes the top-level system field; assistant tool calls
// become tool_use blocks and tool results become user tool_result blocks.
func (g *anthropicGateway) Generate(ctx context.Context, model string, messages []models.ChatMessage, opts GenerateOptions) (*GenerateResult, error) {
	req := anthropicRequest{
		Model:       model,
		MaxTokens:   opts.maxTokens(),
		Temperature: opts.Temperature,
	}

	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += msg.Content
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				blocks := make([]anthropicContent, 0, len(msg.ToolCalls)+1)
				if msg.Content != "" {
					blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
				}
				for _, tc := range msg.ToolCalls {
					blocks = append(blocks, anthropicContent{
						Type:  "tool_use",
						ID:    tc.ID,
						Name:  tc.Name,
						Input: tc.Arguments,
					})
				}
				req.Messages = append(req.Messages, anthropicMessage{Role: "assistant", Content: blocks})
			} else {
				req.Messages = append(req.Messages, anthropicMessage{Role: "assistant", Content: msg.Content})
			}
		case "tool":
			req.Messages = append(req.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		default:
			req.Messages = append(req.Messages, anthropicMessage{Role: "user", Content: msg.Content})
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", g.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, &RequestError{
			Provider: models.ProviderAnthropic,
			Status:   httpResp.StatusCode,
			Body:     string(respBody),
		}
	}

	var resp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, &RequestError{
			Provider: models.ProviderAnthropic,
			Status:   httpResp.StatusCode,
			Body:     resp.Error.Message,
		}
	}

	result := &GenerateResult{
		Usage: models.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, models.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return result, nil
}
