// Package websearch provides the web-search collaborator: a thin client
// for a SearxNG-compatible JSON search API. An unconfigured endpoint
// yields a disabled searcher that always returns no results, so agent
// capability flags degrade gracefully.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dossierhq/dossier/internal/prompt"
)

const (
	maxResults     = 5
	requestTimeout = 15 * time.Second
)

// Searcher runs one web search per call.
type Searcher interface {
	Search(ctx context.Context, query string) ([]prompt.WebResult, error)
}

// Disabled is a Searcher that always returns nothing.
type Disabled struct{}

func (Disabled) Search(context.Context, string) ([]prompt.WebResult, error) {
	return nil, nil
}

// SearxClient queries a SearxNG instance's JSON API.
type SearxClient struct {
	endpoint string
	client   *http.Client
}

// NewSearxClient creates a searcher for the given SearxNG endpoint.
func NewSearxClient(endpoint string) *SearxClient {
	return &SearxClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (c *SearxClient) Search(ctx context.Context, query string) ([]prompt.WebResult, error) {
	u := fmt.Sprintf("%s/search?q=%s&format=json", c.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: status %d", resp.StatusCode)
	}

	var out searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}

	results := make([]prompt.WebResult, 0, maxResults)
	for _, r := range out.Results {
		results = append(results, prompt.WebResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(results) == maxResults {
			break
		}
	}
	return results, nil
}
