package tools

import (
	"context"
	"reflect"
	"testing"

	"github.com/dossierhq/dossier/internal/store"
	"github.com/dossierhq/dossier/pkg/models"
)

func seedSources(t *testing.T, m *store.MemoryStore, cfgs ...*models.DataSourceConfig) {
	t.Helper()
	for _, cfg := range cfgs {
		if err := m.CreateDataSource(context.Background(), cfg); err != nil {
			t.Fatalf("CreateDataSource(%s) error = %v", cfg.ID, err)
		}
	}
}

func TestGenerateToolsDeterministic(t *testing.T) {
	m := store.NewMemoryStore()
	defer m.Close()
	seedSources(t, m,
		&models.DataSourceConfig{ID: "fda", Name: "OpenFDA", Provider: models.DataProviderOpenFDA, BaseURL: "https://api.fda.gov", Active: true},
		&models.DataSourceConfig{ID: "news", Name: "NewsAPI", Provider: models.DataProviderNewsAPI, BaseURL: "https://newsapi.org", Active: true},
	)
	cat := NewCatalog(m)

	first, err := cat.GenerateTools(context.Background(), []string{"fda", "news"})
	if err != nil {
		t.Fatalf("GenerateTools() error = %v", err)
	}

	wantNames := []string{
		"openfda_search_drugs",
		"openfda_recent_approvals",
		"openfda_recall_lookup",
		"openfda_device_search",
		"newsapi_search",
	}
	names := make([]string, len(first))
	for i, s := range first {
		names[i] = s.Name
	}
	if !reflect.DeepEqual(names, wantNames) {
		t.Errorf("GenerateTools() names = %v, want %v", names, wantNames)
	}

	// Identical inputs must produce identical output.
	second, err := cat.GenerateTools(context.Background(), []string{"fda", "news"})
	if err != nil {
		t.Fatalf("GenerateTools() second call error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("GenerateTools() output differs across identical calls")
	}
}

func TestGenerateToolsGenericProvider(t *testing.T) {
	m := store.NewMemoryStore()
	defer m.Close()
	seedSources(t, m,
		&models.DataSourceConfig{ID: "x", Name: "Internal CRM", Provider: "Acme CRM v2", BaseURL: "https://crm.internal", Active: true},
	)
	cat := NewCatalog(m)

	schemas, err := cat.GenerateTools(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("GenerateTools() error = %v", err)
	}
	if len(schemas) != 1 {
		t.Fatalf("GenerateTools() returned %d schemas, want 1 generic tool", len(schemas))
	}
	if schemas[0].Name != "acme_crm_v2_call" {
		t.Errorf("generic tool name = %q, want sanitized provider + _call", schemas[0].Name)
	}
	params, ok := schemas[0].Parameters["properties"].(map[string]any)
	if !ok {
		t.Fatalf("Parameters missing properties object: %v", schemas[0].Parameters)
	}
	if _, ok := params["query"]; !ok {
		t.Error("generic tool missing query parameter")
	}
}

func TestGenerateToolsSkipsInactive(t *testing.T) {
	m := store.NewMemoryStore()
	defer m.Close()
	seedSources(t, m,
		&models.DataSourceConfig{ID: "off", Name: "Disabled", Provider: models.DataProviderNewsAPI, BaseURL: "https://newsapi.org", Active: false},
		&models.DataSourceConfig{ID: "on", Name: "Patents", Provider: models.DataProviderPatentsView, BaseURL: "https://api.patentsview.org", Active: true},
	)
	cat := NewCatalog(m)

	schemas, err := cat.GenerateTools(context.Background(), []string{"off", "on"})
	if err != nil {
		t.Fatalf("GenerateTools() error = %v", err)
	}
	for _, s := range schemas {
		if s.Name == "newsapi_search" {
			t.Error("GenerateTools() emitted a tool for an inactive source")
		}
	}

	if _, err := cat.GenerateTools(context.Background(), []string{"off"}); err == nil {
		t.Error("GenerateTools(all inactive) error = nil, want error")
	}
	if _, err := cat.GenerateTools(context.Background(), nil); err == nil {
		t.Error("GenerateTools(no configs) error = nil, want error")
	}
	if _, err := cat.GenerateTools(context.Background(), []string{"missing"}); err == nil {
		t.Error("GenerateTools(unknown id) error = nil, want error")
	}
}
