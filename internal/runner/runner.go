// Package runner is the multi-agent execution engine: it orchestrates one
// agent turn (gather context, drive the generate/tool loop, persist the
// message, record usage) and chains agent turns into workflows.
//
// Turn flow for one agent:
//
//	gather context (retrieval, web search, tool schemas or eager fetch) →
//	assemble prompts → generate; while the model requests tool calls,
//	execute them and feed results back (bounded) → persist the assistant
//	message → record usage (always, even on failure or cancellation).
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/dossierhq/dossier/internal/config"
	"github.com/dossierhq/dossier/internal/prompt"
	"github.com/dossierhq/dossier/internal/provider"
	"github.com/dossierhq/dossier/internal/store"
	"github.com/dossierhq/dossier/internal/tools"
	"github.com/dossierhq/dossier/internal/usage"
	"github.com/dossierhq/dossier/pkg/contracts"
	"github.com/dossierhq/dossier/pkg/models"
)

// MaxGenerateIterations is the hard cap on provider generate calls within
// one turn. A fixed finite bound prevents a tool-call cycle from burning
// cost indefinitely; after the cap the turn is force-completed with the
// last content produced.
const MaxGenerateIterations = 5

// defaultRetrievalLimit is how many snippets one scope query returns.
const defaultRetrievalLimit = 5

// TurnResult is the outcome of one agent turn.
type TurnResult struct {
	ResponseText string            `json:"response_text"`
	MessageID    string            `json:"message_id"`
	Tokens       models.TokenUsage `json:"tokens"`
	// SystemPrompt is the assembled system prompt for this turn, exposed
	// for tracing and tests.
	SystemPrompt string `json:"-"`
	Iterations   int    `json:"iterations"`
}

// ── Errors ──────────────────────────────────────────────────

// TurnError is a typed execution failure surfaced to the caller. The chat
// turn fails with a user-visible message; the user's own message stays
// persisted and usage already incurred stays recorded.
type TurnError struct {
	Stage string // "configuration", "provider", "persistence"
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("agent turn failed at %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// WorkflowStepError records which step of a workflow failed.
type WorkflowStepError struct {
	StepIndex int
	AgentID   string
	Err       error
}

func (e *WorkflowStepError) Error() string {
	return fmt.Sprintf("workflow step %d (agent %s) failed: %v", e.StepIndex, e.AgentID, e.Err)
}

func (e *WorkflowStepError) Unwrap() error { return e.Err }

// ── Per-chat serialization ──────────────────────────────────

// chatLocks serializes turns on the same chat so message ordinals stay
// strictly increasing and contexts never interleave. Turns on different
// chats are fully independent.
type chatLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[string]*sync.Mutex)}
}

func (c *chatLocks) lock(chatID string) func() {
	c.mu.Lock()
	l, ok := c.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[chatID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ── Construction ────────────────────────────────────────────

// GatewayResolver resolves a provider enum value to its gateway.
// *provider.Registry is the production implementation.
type GatewayResolver interface {
	Gateway(p models.Provider) (provider.Gateway, error)
}

// Deps are the collaborators an AgentRunner needs. All dependencies are
// explicit constructor parameters, including the tool invoker.
type Deps struct {
	Store     store.Store
	Registry  GatewayResolver
	Retriever contracts.Retriever
	Searcher  contracts.WebSearcher
	Catalog   *tools.Catalog
	Invoker   *tools.Invoker
	Connector contracts.Connector
	Recorder  *usage.Recorder
	Runner    config.RunnerConfig
}

// AgentRunner orchestrates single agent turns.
type AgentRunner struct {
	deps      Deps
	assembler prompt.Assembler
	locks     *chatLocks
}

// NewAgentRunner creates an agent runner.
func NewAgentRunner(deps Deps) *AgentRunner {
	return &AgentRunner{
		deps:  deps,
		locks: newChatLocks(),
	}
}

// nextOrdinal computes the ordinal for a new message in a chat: count + 1,
// monotonic per chat. Callers must hold the chat lock.
func nextOrdinal(ctx context.Context, s store.MessageStore, chatID string) (int, error) {
	count, err := s.CountMessages(ctx, chatID)
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}
