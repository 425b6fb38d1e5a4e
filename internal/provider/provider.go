// Package provider implements the model-provider gateway: one uniform
// Generate interface over heterogeneous LLM backends. Each adapter owns
// its own wire-format translation; callers never see raw HTTP details.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dossierhq/dossier/pkg/models"
)

// DefaultTimeout bounds a single generate call. A timeout surfaces as a
// RequestError ending the turn; it is never retried here.
const DefaultTimeout = 120 * time.Second

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 4096
)

// GenerateOptions carries per-call generation parameters.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	// Tools, when non-empty, are offered to the model with tool-choice
	// "auto". The model may answer with text, tool calls, or both.
	Tools []models.ToolSchema
}

// GenerateResult is the uniform response shape from any backend.
type GenerateResult struct {
	Content   string
	Usage     models.TokenUsage
	ToolCalls []models.ToolCall
}

// Gateway is the uniform call interface to an LLM backend.
type Gateway interface {
	// Provider identifies which backend this gateway targets.
	Provider() models.Provider

	// Generate runs one completion. It never returns empty content
	// silently on failure: errors are always typed.
	Generate(ctx context.Context, model string, messages []models.ChatMessage, opts GenerateOptions) (*GenerateResult, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrUnavailable indicates the backend could not be reached at all
// (connection refused, DNS failure, timeout before any response).
var ErrUnavailable = errors.New("model provider unavailable")

// RequestError indicates the backend answered with a failure status.
type RequestError struct {
	Provider models.Provider
	Status   int
	Body     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.Status, e.Body)
}

// ConfigurationError indicates an unsupported provider or missing
// credential. Fatal, surfaced immediately, never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "provider configuration error: " + e.Reason
}

// ── Registry ────────────────────────────────────────────────

// Credentials carries backend credentials and endpoint overrides.
type Credentials struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OllamaHost      string
}

// Registry resolves a provider enum value to its gateway. The provider set
// is closed; dispatch is this one switch.
type Registry struct {
	creds  Credentials
	client *http.Client
}

// NewRegistry creates a gateway registry. A shared HTTP client keeps
// connection pools warm across adapters.
func NewRegistry(creds Credentials) *Registry {
	return &Registry{
		creds:  creds,
		client: &http.Client{Timeout: DefaultTimeout},
	}
}

// Gateway returns the adapter for p, or a ConfigurationError when p is not
// one of the supported providers or its credential is missing.
func (r *Registry) Gateway(p models.Provider) (Gateway, error) {
	switch p {
	case models.ProviderAnthropic:
		if r.creds.AnthropicAPIKey == "" {
			return nil, &ConfigurationError{Reason: "anthropic api key not set"}
		}
		return newAnthropicGateway(r.creds.AnthropicAPIKey, r.client), nil
	case models.ProviderOpenAI:
		if r.creds.OpenAIAPIKey == "" {
			return nil, &ConfigurationError{Reason: "openai api key not set"}
		}
		return newOpenAIGateway(r.creds.OpenAIAPIKey, r.client), nil
	case models.ProviderOllama:
		return newOllamaGateway(r.creds.OllamaHost, r.client), nil
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unsupported provider %q", p)}
	}
}

func (o GenerateOptions) temperature() float64 {
	if o.Temperature > 0 {
		return o.Temperature
	}
	return defaultTemperature
}

func (o GenerateOptions) maxTokens() int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return defaultMaxTokens
}
