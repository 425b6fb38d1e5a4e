package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dossierhq/dossier/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageSize   = 10
	defaultQueryParam = "q"
	defaultAuthParam  = "api_key"
	defaultAuthHeader = "Authorization"
	maxFetchAttempts  = 3
	maxResponseBytes  = 1 << 20 // 1 MiB
	perAttemptTimeout = 20 * time.Second
)

// RESTConnector fetches from any HTTP JSON API described by a
// DataSourceConfig: base URL, credential placement, page size.
type RESTConnector struct {
	client *http.Client
}

// NewRESTConnector creates a connector with its own bounded HTTP client.
func NewRESTConnector() *RESTConnector {
	return &RESTConnector{
		client: &http.Client{Timeout: perAttemptTimeout},
	}
}

// Fetch calls the configured base URL with the query string and credential
// applied per the config: query and header placements use a GET with
// parameters in the URL; body placement posts a JSON document carrying the
// query, page size and credential. Transient upstream failures (5xx,
// connection errors) are retried with exponential backoff, bounded to
// maxFetchAttempts; a final failure becomes a StatusError result, never an
// error return.
func (c *RESTConnector) Fetch(ctx context.Context, cfg *models.DataSourceConfig, query string) *FetchResult {
	reqURL, err := c.buildURL(cfg, query)
	if err != nil {
		return &FetchResult{Status: StatusError, ErrorMessage: err.Error()}
	}
	payload, err := c.buildBody(cfg, query)
	if err != nil {
		return &FetchResult{Status: StatusError, ErrorMessage: err.Error()}
	}

	var body []byte
	operation := func() error {
		var opErr error
		body, opErr = c.doOnce(ctx, cfg, reqURL, payload)
		return opErr
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxFetchAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		log.Warn().
			Str("source", cfg.Name).
			Str("provider", cfg.Provider).
			Err(err).
			Msg("External fetch failed after retries")
		return &FetchResult{Status: StatusError, ErrorMessage: err.Error()}
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		// Non-JSON payloads are still evidence; pass them through as text.
		data = strings.TrimSpace(string(body))
	}
	if isEmptyPayload(data) {
		return &FetchResult{Status: StatusEmpty}
	}
	return &FetchResult{Status: StatusSuccess, Data: data}
}

func (c *RESTConnector) buildURL(cfg *models.DataSourceConfig, query string) (string, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid base url for %s", cfg.Name)
	}

	if cfg.Auth == models.AuthInBody {
		// Query, page size and credential all travel in the POST body.
		return u.String(), nil
	}

	q := u.Query()
	q.Set(paramOr(cfg, "query_param", defaultQueryParam), query)
	q.Set(paramOr(cfg, "page_size_param", "limit"), fmt.Sprintf("%d", pageSize(cfg)))
	if cfg.Auth == models.AuthInQuery && cfg.APIKey != "" {
		q.Set(paramOr(cfg, "auth_param", defaultAuthParam), cfg.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// buildBody returns the JSON request body for body-auth sources, nil for
// everything else.
func (c *RESTConnector) buildBody(cfg *models.DataSourceConfig, query string) ([]byte, error) {
	if cfg.Auth != models.AuthInBody {
		return nil, nil
	}
	doc := map[string]any{
		paramOr(cfg, "query_param", defaultQueryParam): query,
		paramOr(cfg, "page_size_param", "limit"):       pageSize(cfg),
	}
	if cfg.APIKey != "" {
		doc[paramOr(cfg, "auth_param", defaultAuthParam)] = cfg.APIKey
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode body for %s: %w", cfg.Name, err)
	}
	return body, nil
}

func (c *RESTConnector) doOnce(ctx context.Context, cfg *models.DataSourceConfig, reqURL string, payload []byte) ([]byte, error) {
	method := http.MethodGet
	var reqBody io.Reader
	if payload != nil {
		method = http.MethodPost
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.Auth == models.AuthInHeader && cfg.APIKey != "" {
		header := paramOr(cfg, "auth_header", defaultAuthHeader)
		value := cfg.APIKey
		if strings.EqualFold(header, "Authorization") {
			value = "Bearer " + cfg.APIKey
		}
		req.Header.Set(header, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err // transient: retried
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s: upstream status %d", cfg.Name, resp.StatusCode)
	case resp.StatusCode >= 400:
		// Client errors won't heal on retry.
		return nil, backoff.Permanent(fmt.Errorf("%s: upstream status %d: %s",
			cfg.Name, resp.StatusCode, truncate(string(body), 200)))
	}
	return body, nil
}

func paramOr(cfg *models.DataSourceConfig, key, fallback string) string {
	if v, ok := cfg.Params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func pageSize(cfg *models.DataSourceConfig) int {
	switch v := cfg.Params["page_size"].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return defaultPageSize
}

func isEmptyPayload(data any) bool {
	switch v := data.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		if results, ok := v["results"].([]any); ok {
			return len(results) == 0
		}
		return len(v) == 0
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
