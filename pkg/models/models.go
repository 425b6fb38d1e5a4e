// Package models defines the shared data model for the Dossier engine:
// suites, agents, workflows, chats, messages, data-source configs and
// usage records, plus the wire types exchanged with model providers.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ── Model Providers ──────────────────────────────────────────

// Provider identifies an LLM backend. The set is closed: adding a provider
// means adding a constant here plus a gateway adapter, never touching
// dispatch logic.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
)

// KnownProviders lists every supported provider in stable order.
var KnownProviders = []Provider{ProviderAnthropic, ProviderOpenAI, ProviderOllama}

// ValidProvider reports whether p is one of the supported providers.
func ValidProvider(p Provider) bool {
	for _, k := range KnownProviders {
		if p == k {
			return true
		}
	}
	return false
}

// ── Suite ────────────────────────────────────────────────────

// Suite is a named grouping of agents and workflows exposed to end users.
// Tier is stored for subscription gating; enforcement lives outside this core.
type Suite struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tier        string    `json:"tier,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ── Agent ────────────────────────────────────────────────────

// Capabilities are the optional context-gathering features of an agent.
type Capabilities struct {
	Retrieval    bool `json:"retrieval"`
	WebSearch    bool `json:"web_search"`
	ExternalAPIs bool `json:"external_apis"`
}

// Agent is a configured LLM persona bound to a provider/model.
type Agent struct {
	ID            string         `json:"id"`
	SuiteID       string         `json:"suite_id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Provider      Provider       `json:"provider"`
	Model         string         `json:"model"`
	SystemPrompt  string         `json:"system_prompt,omitempty"`
	Capabilities  Capabilities   `json:"capabilities"`
	DataSourceIDs []string       `json:"data_source_ids,omitempty"`
	GenParams     map[string]any `json:"gen_params,omitempty"` // temperature, max_tokens, provider-specific keys
	Active        bool           `json:"active"`
	Position      int            `json:"position"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Temperature returns the configured sampling temperature or the fallback.
func (a *Agent) Temperature(fallback float64) float64 {
	if v, ok := a.GenParams["temperature"]; ok {
		switch t := v.(type) {
		case float64:
			return t
		case int:
			return float64(t)
		}
	}
	return fallback
}

// MaxTokens returns the configured output-token cap or the fallback.
func (a *Agent) MaxTokens(fallback int) int {
	if v, ok := a.GenParams["max_tokens"]; ok {
		switch t := v.(type) {
		case float64:
			return int(t)
		case int:
			return t
		}
	}
	return fallback
}

// ── Workflow ─────────────────────────────────────────────────

// WorkflowStep is one position in a workflow's agent chain. Condition is an
// optional expr expression evaluated against the run state; a false result
// skips the step (the index still advances).
type WorkflowStep struct {
	AgentID   string `json:"agent_id"`
	Condition string `json:"condition,omitempty"`
}

// Workflow is an ordered agent chain executed per chat turn, each agent
// receiving the prior agent's output.
type Workflow struct {
	ID          string         `json:"id"`
	SuiteID     string         `json:"suite_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
	HaltOnError bool           `json:"halt_on_error"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ── Chat ─────────────────────────────────────────────────────

// Chat is one conversation. Exactly one of AgentID / WorkflowID is set,
// enforced at creation and never changed afterwards.
type Chat struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	SuiteID        string    `json:"suite_id,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	WorkflowID     string    `json:"workflow_id,omitempty"`
	Title          string    `json:"title,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the agent-xor-workflow invariant.
func (c *Chat) Validate() error {
	if (c.AgentID == "") == (c.WorkflowID == "") {
		return fmt.Errorf("chat must reference exactly one of agent or workflow")
	}
	return nil
}

// ── Message ──────────────────────────────────────────────────

// Role classifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn in a chat. Immutable once created, except metadata
// back-fill. Ordinal is strictly increasing within a chat.
type Message struct {
	ID           string         `json:"id"`
	ChatID       string         `json:"chat_id"`
	Role         Role           `json:"role"`
	Content      string         `json:"content"`
	AgentID      string         `json:"agent_id,omitempty"`
	Ordinal      int            `json:"ordinal"`
	Context      []Snippet      `json:"context,omitempty"`       // retrieved-document snapshot
	ExternalData []EvidenceItem `json:"external_data,omitempty"` // external-API snapshot
	Metadata     map[string]any `json:"metadata,omitempty"`      // token counts, model name
	CreatedAt    time.Time      `json:"created_at"`
}

// Snippet is one retrieved document fragment with its source metadata.
type Snippet struct {
	Content string         `json:"content"`
	Score   float64        `json:"score"`
	Source  map[string]any `json:"source,omitempty"`
}

// EvidenceItem is one external-data result (or failure) gathered for a turn.
type EvidenceItem struct {
	Source string `json:"source"`          // provider or tool name
	Data   any    `json:"data,omitempty"`  // structured payload on success
	Error  string `json:"error,omitempty"` // failure text fed back as evidence
}

// ── Data Source Configs ──────────────────────────────────────

// Known external data providers with curated tool schemas. Anything else
// is treated as a generic REST source with a single free-text call tool.
const (
	DataProviderOpenFDA     = "openfda"
	DataProviderPatentsView = "patentsview"
	DataProviderNewsAPI     = "newsapi"
	DataProviderCompanyData = "companydata"
)

// AuthPlacement controls where a data source's credential is sent.
type AuthPlacement string

const (
	AuthInQuery  AuthPlacement = "query"
	AuthInHeader AuthPlacement = "header"
	AuthInBody   AuthPlacement = "body"
)

// DataSourceConfig describes one external data source an agent may call.
// APIKey must never appear in any read path once stored; handlers return
// Redacted() copies.
type DataSourceConfig struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Provider  string         `json:"provider"` // lowercase identifier, e.g. "openfda"
	BaseURL   string         `json:"base_url"`
	APIKey    string         `json:"api_key,omitempty"`
	Auth      AuthPlacement  `json:"auth,omitempty"`
	Params    map[string]any `json:"params,omitempty"` // auth param name, page size, pagination style
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Redacted returns a copy safe for read paths: the credential is blanked,
// with a marker retained so callers can tell one was set.
func (d DataSourceConfig) Redacted() DataSourceConfig {
	if d.APIKey != "" {
		d.APIKey = "********"
	}
	return d
}

// ── Usage Records ────────────────────────────────────────────

// UsageAction classifies what kind of generation produced a usage record.
type UsageAction string

const (
	UsageActionChat         UsageAction = "chat"
	UsageActionWorkflowStep UsageAction = "workflow_step"
)

// UsageRecord is the immutable audit row for one generation event.
// Append-only: nothing in this codebase updates or deletes one.
type UsageRecord struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	SuiteID      string      `json:"suite_id,omitempty"`
	AgentID      string      `json:"agent_id,omitempty"`
	ChatID       string      `json:"chat_id,omitempty"`
	Action       UsageAction `json:"action"`
	Provider     Provider    `json:"provider"`
	Model        string      `json:"model"`
	InputTokens  int64       `json:"input_tokens"`
	OutputTokens int64       `json:"output_tokens"`
	Cost         float64     `json:"cost"`
	CreatedAt    time.Time   `json:"created_at"`
}

// TokenUsage accumulates token counts across the iterations of one turn.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates another iteration's counts.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns input + output tokens.
func (u TokenUsage) Total() int64 { return u.InputTokens + u.OutputTokens }

// ── Provider Wire Types ──────────────────────────────────────

// ChatMessage is one entry in the message list sent to a model provider.
// ToolCallID / ToolCalls carry prior tool-call and tool-result turns.
type ChatMessage struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool-result turns
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // set on assistant turns that requested tools
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolSchema describes one callable tool offered to the model.
// Parameters is a JSON-Schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SanitizeToolName lowercases and collapses non-alphanumeric runs to a
// single underscore, producing a valid function-calling identifier.
func SanitizeToolName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// ── Retrieval Scopes ─────────────────────────────────────────

// ScopeKind distinguishes chat-uploaded documents from suite-level
// agent-owned documents.
type ScopeKind string

const (
	ScopeChat  ScopeKind = "chat"
	ScopeAgent ScopeKind = "agent"
)

// Scope identifies the tenant boundary for a retrieval query. Every stored
// document and every search is tagged with exactly one scope.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

func (s Scope) String() string { return string(s.Kind) + ":" + s.ID }
