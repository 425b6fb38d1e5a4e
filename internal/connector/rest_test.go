package connector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/dossierhq/dossier/pkg/models"
)

type capturedRequest struct {
	method string
	query  string
	header http.Header
	body   []byte
}

func captureServer(t *testing.T, status int, respBody string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.query = r.URL.RawQuery
		captured.header = r.Header.Clone()
		captured.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func mustParseQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	values, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("ParseQuery(%q) error = %v", raw, err)
	}
	return values
}

func TestFetchQueryAuth(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK, `{"results":[{"id":1}]}`)

	c := NewRESTConnector()
	cfg := &models.DataSourceConfig{
		Name:    "openfda",
		BaseURL: srv.URL,
		APIKey:  "supersecret",
		Auth:    models.AuthInQuery,
	}
	res := c.Fetch(context.Background(), cfg, "semaglutide")
	if res.Status != StatusSuccess {
		t.Fatalf("Fetch() status = %s, want %s (%s)", res.Status, StatusSuccess, res.ErrorMessage)
	}
	if captured.method != http.MethodGet {
		t.Fatalf("method = %s, want GET", captured.method)
	}
	values := mustParseQuery(t, captured.query)
	if got := values.Get("api_key"); got != "supersecret" {
		t.Errorf("api_key query param = %q, want supersecret", got)
	}
	if got := values.Get("q"); got != "semaglutide" {
		t.Errorf("q query param = %q, want semaglutide", got)
	}
}

func TestFetchHeaderAuth(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK, `{"results":[{"id":1}]}`)

	c := NewRESTConnector()
	cfg := &models.DataSourceConfig{
		Name:    "clinicaltrials",
		BaseURL: srv.URL,
		APIKey:  "supersecret",
		Auth:    models.AuthInHeader,
	}
	res := c.Fetch(context.Background(), cfg, "semaglutide")
	if res.Status != StatusSuccess {
		t.Fatalf("Fetch() status = %s, want %s", res.Status, StatusSuccess)
	}
	if got := captured.header.Get("Authorization"); got != "Bearer supersecret" {
		t.Errorf("Authorization header = %q, want Bearer supersecret", got)
	}
	values := mustParseQuery(t, captured.query)
	if got := values.Get("api_key"); got != "" {
		t.Errorf("credential leaked into query string: %q", got)
	}
}

func TestFetchBodyAuthPostsCredentialInJSON(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK, `{"results":[{"id":1}]}`)

	c := NewRESTConnector()
	cfg := &models.DataSourceConfig{
		Name:    "uspto",
		BaseURL: srv.URL,
		APIKey:  "supersecret",
		Auth:    models.AuthInBody,
		Params:  map[string]any{"auth_param": "token", "page_size": float64(5)},
	}
	res := c.Fetch(context.Background(), cfg, "semaglutide patent")
	if res.Status != StatusSuccess {
		t.Fatalf("Fetch() status = %s, want %s (%s)", res.Status, StatusSuccess, res.ErrorMessage)
	}
	if captured.method != http.MethodPost {
		t.Fatalf("method = %s, want POST", captured.method)
	}
	if got := captured.header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if captured.query != "" {
		t.Errorf("query string = %q, want empty for body auth", captured.query)
	}

	var doc map[string]any
	if err := json.Unmarshal(captured.body, &doc); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if got, _ := doc["token"].(string); got != "supersecret" {
		t.Errorf("body token = %q, want supersecret", got)
	}
	if got, _ := doc["q"].(string); got != "semaglutide patent" {
		t.Errorf("body q = %q, want query text", got)
	}
	if got, _ := doc["limit"].(float64); got != 5 {
		t.Errorf("body limit = %v, want 5", got)
	}
}

func TestFetchClientErrorIsNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	c := NewRESTConnector()
	cfg := &models.DataSourceConfig{Name: "openfda", BaseURL: srv.URL}
	res := c.Fetch(context.Background(), cfg, "semaglutide")
	if res.Status != StatusError {
		t.Fatalf("Fetch() status = %s, want %s", res.Status, StatusError)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (4xx is permanent)", calls)
	}
}

func TestFetchEmptyResults(t *testing.T) {
	srv, _ := captureServer(t, http.StatusOK, `{"results":[]}`)

	c := NewRESTConnector()
	cfg := &models.DataSourceConfig{Name: "openfda", BaseURL: srv.URL}
	res := c.Fetch(context.Background(), cfg, "nonexistent compound")
	if res.Status != StatusEmpty {
		t.Fatalf("Fetch() status = %s, want %s", res.Status, StatusEmpty)
	}
}

func TestFetchInvalidBaseURL(t *testing.T) {
	c := NewRESTConnector()
	cfg := &models.DataSourceConfig{Name: "broken", BaseURL: "not a url"}
	res := c.Fetch(context.Background(), cfg, "anything")
	if res.Status != StatusError {
		t.Fatalf("Fetch() status = %s, want %s", res.Status, StatusError)
	}
}
