package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/dossierhq/dossier/internal/connector"
	"github.com/dossierhq/dossier/internal/store"
	"github.com/dossierhq/dossier/pkg/models"
)

// stubConnector records the last fetch and returns a scripted result.
type stubConnector struct {
	lastConfig *models.DataSourceConfig
	lastQuery  string
	result     *connector.FetchResult
}

func (s *stubConnector) Fetch(_ context.Context, cfg *models.DataSourceConfig, query string) *connector.FetchResult {
	s.lastConfig = cfg
	s.lastQuery = query
	if s.result != nil {
		return s.result
	}
	return &connector.FetchResult{Status: connector.StatusSuccess, Data: map[string]any{"ok": true}}
}

func newTestInvoker(t *testing.T, cfgs ...*models.DataSourceConfig) (*Invoker, *stubConnector, []string) {
	t.Helper()
	m := store.NewMemoryStore()
	t.Cleanup(func() { m.Close() })

	ids := make([]string, len(cfgs))
	for i, cfg := range cfgs {
		if err := m.CreateDataSource(context.Background(), cfg); err != nil {
			t.Fatalf("CreateDataSource(%s) error = %v", cfg.ID, err)
		}
		ids[i] = cfg.ID
	}
	conn := &stubConnector{}
	return NewInvoker(m, conn), conn, ids
}

func TestExecuteSuccess(t *testing.T) {
	inv, conn, ids := newTestInvoker(t,
		&models.DataSourceConfig{ID: "fda", Name: "OpenFDA", Provider: models.DataProviderOpenFDA, BaseURL: "https://api.fda.gov", Active: true},
	)

	res := inv.Execute(context.Background(), "openfda_search_drugs", map[string]any{"query": "semaglutide"}, ids)
	if res.Failed() {
		t.Fatalf("Execute() failed: %s", res.Error)
	}
	if conn.lastConfig == nil || conn.lastConfig.ID != "fda" {
		t.Errorf("Execute() resolved config = %+v, want fda", conn.lastConfig)
	}
	if conn.lastQuery != "semaglutide" {
		t.Errorf("Execute() query = %q, want %q", conn.lastQuery, "semaglutide")
	}
}

func TestExecuteQueryShaping(t *testing.T) {
	inv, conn, ids := newTestInvoker(t,
		&models.DataSourceConfig{ID: "fda", Name: "OpenFDA", Provider: models.DataProviderOpenFDA, BaseURL: "https://api.fda.gov", Active: true},
	)

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"openfda_recall_lookup", map[string]any{"query": "metformin"}, "recall metformin"},
		{"openfda_device_search", map[string]any{"query": "stent"}, "device stent"},
		// JSON numbers decode as float64.
		{"openfda_search_drugs", map[string]any{"query": "insulin", "year": float64(2021)}, "insulin year:2021"},
		{"openfda_search_drugs", map[string]any{}, "search_drugs"},
	}
	for _, tt := range tests {
		res := inv.Execute(context.Background(), tt.tool, tt.args, ids)
		if res.Failed() {
			t.Fatalf("Execute(%s) failed: %s", tt.tool, res.Error)
		}
		if conn.lastQuery != tt.want {
			t.Errorf("Execute(%s) query = %q, want %q", tt.tool, conn.lastQuery, tt.want)
		}
	}
}

func TestExecuteAliasAndNameResolution(t *testing.T) {
	inv, conn, ids := newTestInvoker(t,
		&models.DataSourceConfig{ID: "pv", Name: "PatentsView Search", Provider: models.DataProviderPatentsView, BaseURL: "https://api.patentsview.org", Active: true},
	)

	// "patents" alias resolves to the patentsview config.
	res := inv.Execute(context.Background(), "patents_search", map[string]any{"query": "mrna"}, ids)
	if res.Failed() {
		t.Fatalf("Execute(alias) failed: %s", res.Error)
	}
	if conn.lastConfig.ID != "pv" {
		t.Errorf("alias resolution picked %q, want pv", conn.lastConfig.ID)
	}
}

func TestExecuteGenericProviderWithUnderscores(t *testing.T) {
	inv, conn, ids := newTestInvoker(t,
		&models.DataSourceConfig{ID: "crm", Name: "Internal CRM", Provider: "Acme CRM v2", BaseURL: "https://crm.internal", Active: true},
	)

	// The sanitized provider swallows underscores; the invoker must
	// re-derive the method as "call".
	res := inv.Execute(context.Background(), "acme_crm_v2_call", map[string]any{"query": "top accounts"}, ids)
	if res.Failed() {
		t.Fatalf("Execute(generic) failed: %s", res.Error)
	}
	if conn.lastQuery != "top accounts" {
		t.Errorf("Execute(generic) query = %q", conn.lastQuery)
	}
}

func TestExecuteFailuresAreResultsNotErrors(t *testing.T) {
	inv, _, ids := newTestInvoker(t,
		&models.DataSourceConfig{ID: "fda", Name: "OpenFDA", Provider: models.DataProviderOpenFDA, BaseURL: "https://api.fda.gov", Active: true},
		&models.DataSourceConfig{ID: "off", Name: "Old News", Provider: models.DataProviderNewsAPI, BaseURL: "https://newsapi.org", Active: false},
	)

	tests := []struct {
		name       string
		tool       string
		wantPrefix string
	}{
		{"malformed name", "nounderscore", errToolNameInvalid},
		{"trailing underscore", "openfda_", errToolNameInvalid},
		{"unmatched provider", "weather_current", errConfigNotFound},
		{"inactive provider", "newsapi_search", errConfigNotFound},
		{"unknown method", "openfda_delete_all", errToolMethodUnknown},
	}
	for _, tt := range tests {
		res := inv.Execute(context.Background(), tt.tool, map[string]any{"query": "x"}, ids)
		if !res.Failed() {
			t.Errorf("%s: Execute(%s) succeeded, want failure result", tt.name, tt.tool)
			continue
		}
		if !strings.HasPrefix(res.Error, tt.wantPrefix) {
			t.Errorf("%s: error = %q, want prefix %q", tt.name, res.Error, tt.wantPrefix)
		}
	}
}

func TestExecuteEmptyAndErrorStatuses(t *testing.T) {
	inv, conn, ids := newTestInvoker(t,
		&models.DataSourceConfig{ID: "fda", Name: "OpenFDA", Provider: models.DataProviderOpenFDA, BaseURL: "https://api.fda.gov", Active: true},
	)

	conn.result = &connector.FetchResult{Status: connector.StatusEmpty}
	res := inv.Execute(context.Background(), "openfda_search_drugs", map[string]any{"query": "x"}, ids)
	if res.Failed() {
		t.Fatalf("empty status should not fail: %s", res.Error)
	}
	if res.Data != "no results found" {
		t.Errorf("empty status data = %v, want explicit no-results text", res.Data)
	}

	conn.result = &connector.FetchResult{Status: connector.StatusError, ErrorMessage: "upstream 503"}
	res = inv.Execute(context.Background(), "openfda_search_drugs", map[string]any{"query": "x"}, ids)
	if !res.Failed() || res.Error != "upstream 503" {
		t.Errorf("error status result = %+v, want error text passed through", res)
	}
}
