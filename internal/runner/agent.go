package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dossierhq/dossier/internal/prompt"
	"github.com/dossierhq/dossier/internal/provider"
	"github.com/dossierhq/dossier/internal/retrieval"
	"github.com/dossierhq/dossier/internal/tools"
	"github.com/dossierhq/dossier/internal/usage"
	"github.com/dossierhq/dossier/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("dossier/runner")

// RunAgentTurn executes one user turn against a single agent: persists the
// user message, runs the agent, persists the assistant message, records
// usage. Identity is an explicit parameter on every entry point.
func (r *AgentRunner) RunAgentTurn(ctx context.Context, userID, agentID, chatID, text string) (*TurnResult, error) {
	agent, err := r.deps.Store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, &TurnError{Stage: "configuration", Err: err}
	}
	chat, err := r.deps.Store.GetChat(ctx, chatID)
	if err != nil {
		return nil, &TurnError{Stage: "configuration", Err: err}
	}

	unlock := r.locks.lock(chatID)
	defer unlock()

	history, err := r.persistUserMessage(ctx, chat, text)
	if err != nil {
		return nil, &TurnError{Stage: "persistence", Err: err}
	}

	return r.runStep(ctx, stepRequest{
		userID:   userID,
		agent:    agent,
		chat:     chat,
		question: text,
		history:  history,
		action:   models.UsageActionChat,
	})
}

// stepRequest is one agent execution within a turn (standalone or as a
// workflow step).
type stepRequest struct {
	userID         string
	agent          *models.Agent
	chat           *models.Chat
	question       string
	history        []models.Message
	previousOutput string
	action         models.UsageAction
}

// persistUserMessage stores the inbound user message and returns the chat
// history that preceded it. The user message is persisted before any
// generation so a failed turn never silently drops the user's input.
// Callers must hold the chat lock.
func (r *AgentRunner) persistUserMessage(ctx context.Context, chat *models.Chat, text string) ([]models.Message, error) {
	history, err := r.deps.Store.ListMessages(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	ordinal, err := nextOrdinal(ctx, r.deps.Store, chat.ID)
	if err != nil {
		return nil, err
	}
	msg := &models.Message{
		ID:      uuid.NewString(),
		ChatID:  chat.ID,
		Role:    models.RoleUser,
		Content: text,
		Ordinal: ordinal,
	}
	if err := r.deps.Store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if chat.Title == "" {
		chat.Title = truncateTitle(text)
	}
	if err := r.deps.Store.UpdateChat(ctx, chat); err != nil {
		log.Warn().Err(err).Str("chat", chat.ID).Msg("Chat activity update failed")
	}
	return history, nil
}

// runStep executes GatherContext → GenerateLoop → Persist for one agent.
// A usage record is written for whatever tokens were consumed, on success,
// failure and cancellation alike. Callers must hold the chat lock.
func (r *AgentRunner) runStep(ctx context.Context, req stepRequest) (*TurnResult, error) {
	ctx, span := tracer.Start(ctx, "agent.turn")
	span.SetAttributes(
		attribute.String("agent.id", req.agent.ID),
		attribute.String("chat.id", req.chat.ID),
	)
	defer span.End()

	if !models.ValidProvider(req.agent.Provider) {
		return nil, &TurnError{Stage: "configuration",
			Err: &provider.ConfigurationError{Reason: fmt.Sprintf("unsupported provider %q", req.agent.Provider)}}
	}
	gateway, err := r.deps.Registry.Gateway(req.agent.Provider)
	if err != nil {
		return nil, &TurnError{Stage: "configuration", Err: err}
	}

	gathered := r.gatherContext(ctx, req)

	systemPrompt := r.assembler.BuildSystemPrompt(req.agent, req.previousOutput, gathered.toolSchemas)
	userTurn := r.assembler.BuildUserTurn(prompt.UserTurn{
		Question:       req.question,
		Retrieved:      gathered.snippets,
		WebResults:     gathered.webResults,
		ExternalData:   gathered.externalData,
		History:        req.history,
		ToolsAvailable: len(gathered.toolSchemas) > 0,
	})

	messages := []models.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userTurn},
	}

	var accumulated models.TokenUsage
	var finalContent string
	iterations := 0

	// Usage is recorded for tokens consumed before any failure, and a
	// cancelled turn still writes its record: cost already incurred
	// upstream must not be lost.
	defer func() {
		if iterations == 0 {
			return
		}
		entry := usage.Entry{
			UserID:     req.userID,
			SuiteID:    req.agent.SuiteID,
			AgentID:    req.agent.ID,
			ChatID:     req.chat.ID,
			Action:     req.action,
			Provider:   req.agent.Provider,
			Model:      req.agent.Model,
			Tokens:     accumulated,
			PromptText: systemPrompt + userTurn,
			OutputText: finalContent,
		}
		if err := r.deps.Recorder.Log(context.WithoutCancel(ctx), entry); err != nil {
			log.Error().Err(err).Str("agent", req.agent.ID).Msg("Usage record write failed")
		}
	}()

	opts := provider.GenerateOptions{
		Temperature: req.agent.Temperature(0.7),
		MaxTokens:   req.agent.MaxTokens(0),
		Tools:       gathered.toolSchemas,
	}

	for iterations < MaxGenerateIterations {
		iterations++

		result, err := gateway.Generate(ctx, req.agent.Model, messages, opts)
		if err != nil {
			return nil, &TurnError{Stage: "provider", Err: err}
		}
		accumulated.Add(result.Usage)

		if len(result.ToolCalls) == 0 || iterations == MaxGenerateIterations {
			finalContent = result.Content
			if len(result.ToolCalls) > 0 {
				log.Warn().
					Str("agent", req.agent.ID).
					Int("iterations", iterations).
					Msg("Generate loop hit iteration cap with pending tool calls, forcing completion")
			}
			break
		}

		messages = append(messages, models.ChatMessage{
			Role:      "assistant",
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})
		for _, call := range result.ToolCalls {
			toolRes := r.deps.Invoker.Execute(ctx, call.Name, call.Arguments, req.agent.DataSourceIDs)
			gathered.externalData = append(gathered.externalData, evidenceFromTool(call.Name, toolRes))
			messages = append(messages, models.ChatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    renderToolResult(toolRes),
			})
		}

		log.Debug().
			Str("agent", req.agent.ID).
			Int("iteration", iterations).
			Int("tool_calls", len(result.ToolCalls)).
			Msg("Generate loop continuing")
	}

	msgID, err := r.persistAssistantMessage(ctx, req, finalContent, gathered, accumulated)
	if err != nil {
		return nil, &TurnError{Stage: "persistence", Err: err}
	}

	log.Info().
		Str("agent", req.agent.ID).
		Str("chat", req.chat.ID).
		Int("iterations", iterations).
		Int64("tokens", accumulated.Total()).
		Msg("Agent turn complete")

	return &TurnResult{
		ResponseText: finalContent,
		MessageID:    msgID,
		Tokens:       accumulated,
		SystemPrompt: systemPrompt,
		Iterations:   iterations,
	}, nil
}

// gatheredContext is everything collected before and during generation.
type gatheredContext struct {
	snippets     []models.Snippet
	webResults   []prompt.WebResult
	externalData []models.EvidenceItem
	toolSchemas  []models.ToolSchema
}

// gatherContext collects retrieval, web and external-API context per the
// agent's capability flags. Collaborator failures here degrade to missing
// evidence, never to a failed turn.
func (r *AgentRunner) gatherContext(ctx context.Context, req stepRequest) gatheredContext {
	var g gatheredContext

	// Tool availability decides whether web search and eager external
	// fetching happen at all, so resolve it first.
	if req.agent.Capabilities.ExternalAPIs && len(req.agent.DataSourceIDs) > 0 {
		schemas, err := r.deps.Catalog.GenerateTools(ctx, req.agent.DataSourceIDs)
		switch {
		case err == nil:
			g.toolSchemas = schemas
		case r.deps.Runner.EagerFetchFallback:
			log.Warn().Err(err).Str("agent", req.agent.ID).
				Msg("Tool catalog failed, falling back to eager external fetch")
			g.externalData = r.eagerFetch(ctx, req)
		default:
			log.Warn().Err(err).Str("agent", req.agent.ID).
				Msg("Tool catalog failed and eager fallback disabled, continuing without external data")
		}
	}

	if req.agent.Capabilities.Retrieval {
		g.snippets = r.retrieve(ctx, req)
	}

	if req.agent.Capabilities.WebSearch && len(g.toolSchemas) == 0 {
		results, err := r.deps.Searcher.Search(ctx, req.question)
		if err != nil {
			log.Warn().Err(err).Str("agent", req.agent.ID).Msg("Web search failed, continuing without web evidence")
		} else {
			g.webResults = results
		}
	}

	return g
}

// retrieve queries the chat scope and, separately, the agent scope for
// agent-owned suite documents. Both queries are strictly scoped; results
// are then re-checked against the requested scope and anything mismatched
// is dropped — a leaky retrieval collaborator must not cross tenants.
func (r *AgentRunner) retrieve(ctx context.Context, req stepRequest) []models.Snippet {
	var snippets []models.Snippet
	scopes := []models.Scope{
		{Kind: models.ScopeChat, ID: req.chat.ID},
		{Kind: models.ScopeAgent, ID: req.agent.ID},
	}
	for _, scope := range scopes {
		results, err := r.deps.Retriever.Search(ctx, req.question, scope, defaultRetrievalLimit)
		if err != nil {
			log.Warn().Err(err).Str("scope", scope.String()).Msg("Retrieval failed, continuing without document evidence")
			continue
		}
		for _, res := range results {
			if res.Scope != scope {
				// Collaborator defect, not a user-facing failure.
				log.Warn().
					Str("requested", scope.String()).
					Str("returned", res.Scope.String()).
					Msg("Retrieval scope violation, dropping result")
				continue
			}
			snippets = append(snippets, snippetFrom(res))
		}
	}
	return snippets
}

// eagerFetch is the catalog-failure fallback: fetch from every configured
// source upfront as plain context.
func (r *AgentRunner) eagerFetch(ctx context.Context, req stepRequest) []models.EvidenceItem {
	var items []models.EvidenceItem
	for _, id := range req.agent.DataSourceIDs {
		cfg, err := r.deps.Store.GetDataSource(ctx, id)
		if err != nil || !cfg.Active {
			continue
		}
		res := r.deps.Connector.Fetch(ctx, cfg, req.question)
		items = append(items, prompt.EvidenceFromFetch(cfg.Name, res))
	}
	return items
}

func (r *AgentRunner) persistAssistantMessage(ctx context.Context, req stepRequest, content string, g gatheredContext, tokens models.TokenUsage) (string, error) {
	ordinal, err := nextOrdinal(ctx, r.deps.Store, req.chat.ID)
	if err != nil {
		return "", err
	}
	msg := &models.Message{
		ID:           uuid.NewString(),
		ChatID:       req.chat.ID,
		Role:         models.RoleAssistant,
		Content:      content,
		AgentID:      req.agent.ID,
		Ordinal:      ordinal,
		Context:      g.snippets,
		ExternalData: g.externalData,
		Metadata: map[string]any{
			"provider":      string(req.agent.Provider),
			"model":         req.agent.Model,
			"input_tokens":  tokens.InputTokens,
			"output_tokens": tokens.OutputTokens,
		},
	}
	if err := r.deps.Store.CreateMessage(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func snippetFrom(res retrieval.Result) models.Snippet {
	source := make(map[string]any, len(res.Source)+1)
	for k, v := range res.Source {
		source[k] = v
	}
	source["scope"] = res.Scope.String()
	return models.Snippet{Content: res.Content, Score: res.Score, Source: source}
}

func evidenceFromTool(toolName string, res *tools.Result) models.EvidenceItem {
	item := models.EvidenceItem{Source: toolName}
	if res.Failed() {
		item.Error = res.Error
		return item
	}
	item.Data = res.Data
	return item
}

// renderToolResult serializes a tool result for the model's tool-result
// turn. Failures are surfaced as content so the model can recover.
func renderToolResult(res *tools.Result) string {
	if res.Failed() {
		return fmt.Sprintf("Error: %s", res.Error)
	}
	raw, err := json.Marshal(res.Data)
	if err != nil {
		return fmt.Sprintf("%v", res.Data)
	}
	return string(raw)
}

func truncateTitle(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
