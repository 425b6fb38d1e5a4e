package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dossierhq/dossier/internal/api/middleware"
	"github.com/dossierhq/dossier/internal/provider"
	"github.com/dossierhq/dossier/internal/runner"
	"github.com/dossierhq/dossier/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Chat Handlers ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListChats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	chats, err := h.Store.ListChats(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	respondJSON(w, http.StatusOK, chats)
}

func (h *Handlers) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req models.Chat
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The binding target must exist; it is immutable after creation.
	if req.AgentID != "" {
		agent, err := h.Store.GetAgent(r.Context(), req.AgentID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Unknown agent: "+req.AgentID)
			return
		}
		if req.SuiteID == "" {
			req.SuiteID = agent.SuiteID
		}
	} else {
		wf, err := h.Store.GetWorkflow(r.Context(), req.WorkflowID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Unknown workflow: "+req.WorkflowID)
			return
		}
		if req.SuiteID == "" {
			req.SuiteID = wf.SuiteID
		}
	}

	req.ID = uuid.New().String()
	req.UserID = middleware.GetUserID(r.Context())
	req.CreatedAt = time.Now().UTC()
	req.LastActivityAt = req.CreatedAt

	if err := h.Store.CreateChat(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("chat", req.ID).Str("user", req.UserID).Msg("Chat created")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.Store.GetChat(r.Context(), chi.URLParam(r, "chatId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, chat)
}

func (h *Handlers) ListChatMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	if _, err := h.Store.GetChat(r.Context(), chatID); err != nil {
		respondStoreError(w, err)
		return
	}

	messages, err := h.Store.ListMessages(r.Context(), chatID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	respondJSON(w, http.StatusOK, messages)
}

// ══════════════════════════════════════════════════════════════
// ── Turn Handler ─────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// SendMessage runs one user turn in a chat: the bound agent, or the bound
// workflow's full step chain. POST /api/v1/chats/{chatId}/messages
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	userID := middleware.GetUserID(r.Context())

	chat, err := h.Store.GetChat(r.Context(), chatID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		respondError(w, http.StatusBadRequest, "Request must include a non-empty 'content' field")
		return
	}

	if chat.WorkflowID != "" {
		result, err := h.Workflows.RunWorkflowTurn(r.Context(), userID, chat.WorkflowID, chatID, req.Content)
		if err != nil {
			respondTurnError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	result, err := h.Agents.RunAgentTurn(r.Context(), userID, chat.AgentID, chatID, req.Content)
	if err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// respondTurnError maps runner failures to HTTP statuses: configuration
// problems are the caller's to fix, provider failures are upstream.
func respondTurnError(w http.ResponseWriter, err error) {
	var turnErr *runner.TurnError
	if errors.As(err, &turnErr) {
		switch turnErr.Stage {
		case "configuration":
			var confErr *provider.ConfigurationError
			if errors.As(err, &confErr) {
				respondError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			respondError(w, http.StatusBadRequest, err.Error())
			return
		case "provider":
			respondError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	var stepErr *runner.WorkflowStepError
	if errors.As(err, &stepErr) {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// ══════════════════════════════════════════════════════════════
// ── Document Handlers ────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type indexDocumentsRequest struct {
	Documents []struct {
		Content  string            `json:"content"`
		Metadata map[string]string `json:"metadata"`
	} `json:"documents"`
}

// UploadChatDocuments indexes documents into a chat's retrieval scope.
// POST /api/v1/chats/{chatId}/documents
func (h *Handlers) UploadChatDocuments(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	if _, err := h.Store.GetChat(r.Context(), chatID); err != nil {
		respondStoreError(w, err)
		return
	}
	h.indexDocuments(w, r, models.Scope{Kind: models.ScopeChat, ID: chatID})
}

// UploadAgentDocuments indexes documents into an agent's retrieval scope.
// POST /api/v1/agents/{agentId}/documents
func (h *Handlers) UploadAgentDocuments(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if _, err := h.Store.GetAgent(r.Context(), agentID); err != nil {
		respondStoreError(w, err)
		return
	}
	h.indexDocuments(w, r, models.Scope{Kind: models.ScopeAgent, ID: agentID})
}

func (h *Handlers) indexDocuments(w http.ResponseWriter, r *http.Request, scope models.Scope) {
	if h.Retrieval == nil {
		respondError(w, http.StatusServiceUnavailable, "Retrieval is not configured")
		return
	}

	var req indexDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Documents) == 0 {
		respondError(w, http.StatusBadRequest, "Request must include a non-empty 'documents' array")
		return
	}

	texts := make([]string, len(req.Documents))
	metas := make([]map[string]string, len(req.Documents))
	for i, d := range req.Documents {
		if d.Content == "" {
			respondError(w, http.StatusBadRequest, "Document "+strconv.Itoa(i)+" has empty content")
			return
		}
		texts[i] = d.Content
		metas[i] = d.Metadata
	}

	ids, err := h.Retrieval.IndexTexts(r.Context(), scope, texts, metas)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("scope", scope.String()).Int("documents", len(ids)).Msg("Documents indexed")
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"scope":        scope,
		"document_ids": ids,
	})
}
