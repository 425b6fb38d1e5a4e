// Package handlers implements the HTTP handlers for the Dossier engine.
// All handlers use the Store interface so the same routes run against the
// in-memory store in tests and Postgres-backed deployments alike.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dossierhq/dossier/internal/api/middleware"
	"github.com/dossierhq/dossier/internal/retrieval"
	"github.com/dossierhq/dossier/internal/runner"
	"github.com/dossierhq/dossier/internal/store"
	"github.com/dossierhq/dossier/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store     store.Store
	Agents    *runner.AgentRunner
	Workflows *runner.WorkflowRunner
	Retrieval *retrieval.Service
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, agents *runner.AgentRunner, workflows *runner.WorkflowRunner, ret *retrieval.Service) *Handlers {
	return &Handlers{
		Store:     s,
		Agents:    agents,
		Workflows: workflows,
		Retrieval: ret,
	}
}

// ══════════════════════════════════════════════════════════════
// ── Suite Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListSuites(w http.ResponseWriter, r *http.Request) {
	suites, err := h.Store.ListSuites(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if suites == nil {
		suites = []models.Suite{}
	}
	respondJSON(w, http.StatusOK, suites)
}

func (h *Handlers) CreateSuite(w http.ResponseWriter, r *http.Request) {
	var req models.Suite
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "Suite name is required")
		return
	}

	req.ID = uuid.New().String()
	req.Active = true
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = time.Now().UTC()

	if err := h.Store.CreateSuite(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("suite", req.Name).Str("id", req.ID).Msg("Suite created")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetSuite(w http.ResponseWriter, r *http.Request) {
	suite, err := h.Store.GetSuite(r.Context(), chi.URLParam(r, "suiteId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, suite)
}

func (h *Handlers) UpdateSuite(w http.ResponseWriter, r *http.Request) {
	suite, err := h.Store.GetSuite(r.Context(), chi.URLParam(r, "suiteId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Tier        string `json:"tier"`
		Active      *bool  `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name != "" {
		suite.Name = req.Name
	}
	if req.Description != "" {
		suite.Description = req.Description
	}
	if req.Tier != "" {
		suite.Tier = req.Tier
	}
	if req.Active != nil {
		suite.Active = *req.Active
	}
	suite.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateSuite(r.Context(), suite); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, suite)
}

// ══════════════════════════════════════════════════════════════
// ── Agent Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	suiteID := r.URL.Query().Get("suite_id")
	agents, err := h.Store.ListAgents(r.Context(), suiteID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req models.Agent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Model == "" {
		respondError(w, http.StatusBadRequest, "Agent name and model are required")
		return
	}
	if !models.ValidProvider(req.Provider) {
		respondError(w, http.StatusBadRequest, "Unsupported provider: "+string(req.Provider))
		return
	}
	if msg := h.checkDataSourceIDs(r, req.DataSourceIDs); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	req.ID = uuid.New().String()
	req.Active = true
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = time.Now().UTC()

	if err := h.Store.CreateAgent(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("agent", req.Name).
		Str("id", req.ID).
		Str("provider", string(req.Provider)).
		Str("model", req.Model).
		Msg("Agent created")
	respondJSON(w, http.StatusCreated, req)
}

// checkDataSourceIDs verifies every referenced data source exists and is
// active. Returns an error message for the response, or "" when all ids
// resolve.
func (h *Handlers) checkDataSourceIDs(r *http.Request, ids []string) string {
	for _, id := range ids {
		ds, err := h.Store.GetDataSource(r.Context(), id)
		if err != nil {
			return "Unknown data source: " + id
		}
		if !ds.Active {
			return "Data source is inactive: " + id
		}
	}
	return ""
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.Store.GetAgent(r.Context(), chi.URLParam(r, "agentId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.Store.GetAgent(r.Context(), chi.URLParam(r, "agentId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var req struct {
		Name          string               `json:"name"`
		Description   string               `json:"description"`
		Provider      models.Provider      `json:"provider"`
		Model         string               `json:"model"`
		SystemPrompt  string               `json:"system_prompt"`
		Capabilities  *models.Capabilities `json:"capabilities"`
		DataSourceIDs []string             `json:"data_source_ids"`
		GenParams     map[string]any       `json:"gen_params"`
		Active        *bool                `json:"active"`
		Position      *int                 `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Provider != "" {
		if !models.ValidProvider(req.Provider) {
			respondError(w, http.StatusBadRequest, "Unsupported provider: "+string(req.Provider))
			return
		}
		agent.Provider = req.Provider
	}
	if req.Name != "" {
		agent.Name = req.Name
	}
	if req.Description != "" {
		agent.Description = req.Description
	}
	if req.Model != "" {
		agent.Model = req.Model
	}
	if req.SystemPrompt != "" {
		agent.SystemPrompt = req.SystemPrompt
	}
	if req.Capabilities != nil {
		agent.Capabilities = *req.Capabilities
	}
	if req.DataSourceIDs != nil {
		if msg := h.checkDataSourceIDs(r, req.DataSourceIDs); msg != "" {
			respondError(w, http.StatusBadRequest, msg)
			return
		}
		agent.DataSourceIDs = req.DataSourceIDs
	}
	if req.GenParams != nil {
		agent.GenParams = req.GenParams
	}
	if req.Active != nil {
		agent.Active = *req.Active
	}
	if req.Position != nil {
		agent.Position = *req.Position
	}
	agent.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateAgent(r.Context(), agent); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if err := h.Store.DeleteAgent(r.Context(), agentID); err != nil {
		respondStoreError(w, err)
		return
	}
	log.Info().Str("agent", agentID).Msg("Agent deleted")
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "agent": agentID})
}

// ══════════════════════════════════════════════════════════════
// ── Workflow Handlers ────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	suiteID := r.URL.Query().Get("suite_id")
	workflows, err := h.Store.ListWorkflows(r.Context(), suiteID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if workflows == nil {
		workflows = []models.Workflow{}
	}
	respondJSON(w, http.StatusOK, workflows)
}

func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req models.Workflow
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "Workflow name is required")
		return
	}
	if len(req.Steps) == 0 {
		respondError(w, http.StatusBadRequest, "Workflow must have at least one step")
		return
	}
	for i, step := range req.Steps {
		if _, err := h.Store.GetAgent(r.Context(), step.AgentID); err != nil {
			respondError(w, http.StatusBadRequest,
				"Step "+strconv.Itoa(i)+" references unknown agent: "+step.AgentID)
			return
		}
	}

	req.ID = uuid.New().String()
	req.Active = true
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = time.Now().UTC()

	if err := h.Store.CreateWorkflow(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("workflow", req.Name).Str("id", req.ID).Int("steps", len(req.Steps)).Msg("Workflow created")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.Store.GetWorkflow(r.Context(), chi.URLParam(r, "workflowId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (h *Handlers) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.Store.GetWorkflow(r.Context(), chi.URLParam(r, "workflowId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var req struct {
		Name        string                `json:"name"`
		Description string                `json:"description"`
		Steps       []models.WorkflowStep `json:"steps"`
		HaltOnError *bool                 `json:"halt_on_error"`
		Active      *bool                 `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name != "" {
		wf.Name = req.Name
	}
	if req.Description != "" {
		wf.Description = req.Description
	}
	if len(req.Steps) > 0 {
		for i, step := range req.Steps {
			if _, err := h.Store.GetAgent(r.Context(), step.AgentID); err != nil {
				respondError(w, http.StatusBadRequest,
					"Step "+strconv.Itoa(i)+" references unknown agent: "+step.AgentID)
				return
			}
		}
		wf.Steps = req.Steps
	}
	if req.HaltOnError != nil {
		wf.HaltOnError = *req.HaltOnError
	}
	if req.Active != nil {
		wf.Active = *req.Active
	}
	wf.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateWorkflow(r.Context(), wf); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (h *Handlers) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowId")
	if err := h.Store.DeleteWorkflow(r.Context(), workflowID); err != nil {
		respondStoreError(w, err)
		return
	}
	log.Info().Str("workflow", workflowID).Msg("Workflow deleted")
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "workflow": workflowID})
}

// ══════════════════════════════════════════════════════════════
// ── Data Source Handlers ─────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListDataSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.Store.ListDataSources(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Credentials never leave the store unredacted.
	redacted := make([]models.DataSourceConfig, len(sources))
	for i, s := range sources {
		redacted[i] = s.Redacted()
	}
	respondJSON(w, http.StatusOK, redacted)
}

func (h *Handlers) CreateDataSource(w http.ResponseWriter, r *http.Request) {
	var req models.DataSourceConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Provider == "" || req.BaseURL == "" {
		respondError(w, http.StatusBadRequest, "Data source name, provider and base_url are required")
		return
	}

	req.ID = uuid.New().String()
	req.Active = true
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = time.Now().UTC()

	if err := h.Store.CreateDataSource(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("source", req.Name).Str("provider", req.Provider).Msg("Data source registered")
	respondJSON(w, http.StatusCreated, req.Redacted())
}

func (h *Handlers) GetDataSource(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.GetDataSource(r.Context(), chi.URLParam(r, "sourceId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg.Redacted())
}

func (h *Handlers) UpdateDataSource(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.GetDataSource(r.Context(), chi.URLParam(r, "sourceId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var req struct {
		Name    string               `json:"name"`
		BaseURL string               `json:"base_url"`
		APIKey  string               `json:"api_key"`
		Auth    models.AuthPlacement `json:"auth"`
		Params  map[string]any       `json:"params"`
		Active  *bool                `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name != "" {
		cfg.Name = req.Name
	}
	if req.BaseURL != "" {
		cfg.BaseURL = req.BaseURL
	}
	if req.APIKey != "" {
		cfg.APIKey = req.APIKey
	}
	if req.Auth != "" {
		cfg.Auth = req.Auth
	}
	if req.Params != nil {
		cfg.Params = req.Params
	}
	if req.Active != nil {
		cfg.Active = *req.Active
	}
	cfg.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateDataSource(r.Context(), cfg); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg.Redacted())
}

func (h *Handlers) DeleteDataSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceId")
	if err := h.Store.DeleteDataSource(r.Context(), sourceID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "source": sourceID})
}

// ══════════════════════════════════════════════════════════════
// ── Usage Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListUsage(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = middleware.GetUserID(r.Context())
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := h.Store.ListUsageRecords(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []models.UsageRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if _, ok := err.(*store.ErrNotFound); ok {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
