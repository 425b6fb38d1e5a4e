// Package connector fetches data from configured external sources
// (regulatory databases, patent search, news, generic REST APIs) on behalf
// of the tool layer. A connector call either succeeds with structured data,
// reports an empty result, or reports a typed failure — it never panics and
// its errors never abort a chat turn.
package connector

import (
	"context"

	"github.com/dossierhq/dossier/pkg/models"
)

// Status classifies a fetch outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusEmpty   Status = "empty"
	StatusError   Status = "error"
)

// FetchResult is the normalized outcome of one external fetch.
type FetchResult struct {
	Status       Status `json:"status"`
	Data         any    `json:"data,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Connector fetches from one external data source. Implementations own
// their retry policy; the orchestrator never retries.
type Connector interface {
	Fetch(ctx context.Context, cfg *models.DataSourceConfig, query string) *FetchResult
}
