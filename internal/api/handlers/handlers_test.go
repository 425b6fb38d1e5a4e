package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/dossierhq/dossier/internal/store"
	"github.com/dossierhq/dossier/pkg/models"
)

func newTestHandlers(t *testing.T) (*Handlers, *store.MemoryStore) {
	t.Helper()
	m := store.NewMemoryStore()
	t.Cleanup(func() { m.Close() })
	return New(m, nil, nil, nil), m
}

func agentRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Post("/agents", h.CreateAgent)
	r.Put("/agents/{agentId}", h.UpdateAgent)
	return r
}

func seedDataSource(t *testing.T, m *store.MemoryStore, id string, active bool) {
	t.Helper()
	ds := &models.DataSourceConfig{
		ID:       id,
		Name:     "openfda",
		Provider: "openfda",
		BaseURL:  "https://api.fda.gov/drug/drugsfda.json",
		Active:   active,
	}
	if err := m.CreateDataSource(context.Background(), ds); err != nil {
		t.Fatalf("CreateDataSource() error = %v", err)
	}
}

func postAgent(t *testing.T, h *Handlers, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/agents", strings.NewReader(body))
	rec := httptest.NewRecorder()
	agentRouter(h).ServeHTTP(rec, req)
	return rec
}

func TestCreateAgentValidDataSources(t *testing.T) {
	h, m := newTestHandlers(t)
	seedDataSource(t, m, "ds-1", true)

	rec := postAgent(t, h, `{"name":"Analyst","provider":"openai","model":"gpt-4o","data_source_ids":["ds-1"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var created models.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(created.DataSourceIDs) != 1 || created.DataSourceIDs[0] != "ds-1" {
		t.Errorf("DataSourceIDs = %v, want [ds-1]", created.DataSourceIDs)
	}
}

func TestCreateAgentRejectsUnknownDataSource(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := postAgent(t, h, `{"name":"Analyst","provider":"openai","model":"gpt-4o","data_source_ids":["nope"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "Unknown data source") {
		t.Errorf("body = %s, want unknown data source error", rec.Body.String())
	}
}

func TestCreateAgentRejectsInactiveDataSource(t *testing.T) {
	h, m := newTestHandlers(t)
	seedDataSource(t, m, "ds-off", false)

	rec := postAgent(t, h, `{"name":"Analyst","provider":"openai","model":"gpt-4o","data_source_ids":["ds-off"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "inactive") {
		t.Errorf("body = %s, want inactive data source error", rec.Body.String())
	}
}

func TestUpdateAgentRejectsUnknownDataSource(t *testing.T) {
	h, m := newTestHandlers(t)
	seedDataSource(t, m, "ds-1", true)

	agent := &models.Agent{
		ID:       "agent-1",
		Name:     "Analyst",
		Provider: models.ProviderOpenAI,
		Model:    "gpt-4o",
		Active:   true,
	}
	if err := m.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/agents/agent-1",
		strings.NewReader(`{"data_source_ids":["ds-1","missing"]}`))
	rec := httptest.NewRecorder()
	agentRouter(h).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}

	// The agent keeps its previous binding after the rejected update.
	stored, err := m.GetAgent(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if len(stored.DataSourceIDs) != 0 {
		t.Errorf("DataSourceIDs = %v, want unchanged empty", stored.DataSourceIDs)
	}
}

func TestUpdateAgentAcceptsValidDataSources(t *testing.T) {
	h, m := newTestHandlers(t)
	seedDataSource(t, m, "ds-1", true)

	agent := &models.Agent{
		ID:       "agent-1",
		Name:     "Analyst",
		Provider: models.ProviderOpenAI,
		Model:    "gpt-4o",
		Active:   true,
	}
	if err := m.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/agents/agent-1",
		strings.NewReader(`{"data_source_ids":["ds-1"]}`))
	rec := httptest.NewRecorder()
	agentRouter(h).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	stored, err := m.GetAgent(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if len(stored.DataSourceIDs) != 1 || stored.DataSourceIDs[0] != "ds-1" {
		t.Errorf("DataSourceIDs = %v, want [ds-1]", stored.DataSourceIDs)
	}
}
