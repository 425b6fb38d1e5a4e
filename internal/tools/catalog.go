// Package tools derives callable-tool schemas from data-source configs and
// executes the tool calls a model requests against them.
//
// Tool names follow the wire convention {provider}_{method} — kept
// human-readable because models see them in function-calling schemas — and
// are parsed exactly once, at the invoker boundary, into a typed pair.
package tools

import (
	"context"
	"fmt"

	"github.com/dossierhq/dossier/internal/store"
	"github.com/dossierhq/dossier/pkg/models"
)

// Catalog generates callable-tool schemas for an agent's data sources.
type Catalog struct {
	store store.DataSourceStore
}

// NewCatalog creates a tool catalog backed by the data-source store.
func NewCatalog(s store.DataSourceStore) *Catalog {
	return &Catalog{store: s}
}

// methodSpec is one curated tool method for a known provider family.
type methodSpec struct {
	method      string
	description string
	params      []paramSpec
}

type paramSpec struct {
	name        string
	typ         string
	description string
	required    bool
}

// curatedMethods maps known provider identifiers to their tool methods.
// Order inside each slice is the emission order, so schema generation is
// deterministic for a fixed config list.
var curatedMethods = map[string][]methodSpec{
	models.DataProviderOpenFDA: {
		{
			method:      "search_drugs",
			description: "Search FDA drug labeling and approval data by drug name, active ingredient, or indication.",
			params: []paramSpec{
				{name: "query", typ: "string", description: "Drug name, active ingredient, or indication to search for", required: true},
				{name: "year", typ: "integer", description: "Restrict results to approvals from this year onwards"},
			},
		},
		{
			method:      "recent_approvals",
			description: "List recently approved drugs, optionally filtered by therapeutic area.",
			params: []paramSpec{
				{name: "query", typ: "string", description: "Therapeutic area or drug class filter", required: true},
			},
		},
		{
			method:      "recall_lookup",
			description: "Look up FDA recall and enforcement actions for a drug or manufacturer.",
			params: []paramSpec{
				{name: "query", typ: "string", description: "Drug or manufacturer name", required: true},
			},
		},
		{
			method:      "device_search",
			description: "Search FDA medical-device clearances and classifications.",
			params: []paramSpec{
				{name: "query", typ: "string", description: "Device name or type", required: true},
			},
		},
	},
	models.DataProviderPatentsView: {
		{
			method:      "search",
			description: "Search granted patents and applications by keyword, assignee, or inventor.",
			params: []paramSpec{
				{name: "query", typ: "string", description: "Keywords, assignee, or inventor name", required: true},
				{name: "year", typ: "integer", description: "Restrict to patents granted from this year onwards"},
			},
		},
	},
	models.DataProviderNewsAPI: {
		{
			method:      "search",
			description: "Search recent news articles by topic or company name.",
			params: []paramSpec{
				{name: "query", typ: "string", description: "Topic, company, or keyword to search news for", required: true},
			},
		},
	},
	models.DataProviderCompanyData: {
		{
			method:      "profile",
			description: "Look up a company profile: sector, size, funding, key people.",
			params: []paramSpec{
				{name: "query", typ: "string", description: "Company name or domain", required: true},
			},
		},
		{
			method:      "search",
			description: "Search companies by sector, keyword, or location.",
			params: []paramSpec{
				{name: "query", typ: "string", description: "Sector, keyword, or location", required: true},
			},
		},
	},
}

// genericMethod is the single tool emitted for unrecognized providers.
var genericMethod = methodSpec{
	method:      "call",
	description: "Query this data source with a free-text request.",
	params: []paramSpec{
		{name: "query", typ: "string", description: "Free-text query to send to the data source", required: true},
	},
}

// GenerateTools emits tool schemas for each referenced, active data-source
// config. Inactive configs are skipped; an unresolvable id is an error.
// The output is deterministic:
// config order is the caller's id order and method order is the curated
// order, so identical inputs produce byte-identical schema lists.
func (c *Catalog) GenerateTools(ctx context.Context, configIDs []string) ([]models.ToolSchema, error) {
	if len(configIDs) == 0 {
		return nil, fmt.Errorf("no data source configs referenced")
	}

	var schemas []models.ToolSchema
	for _, id := range configIDs {
		cfg, err := c.store.GetDataSource(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve data source %s: %w", id, err)
		}
		if !cfg.Active {
			continue
		}
		schemas = append(schemas, schemasFor(cfg)...)
	}

	if len(schemas) == 0 {
		return nil, fmt.Errorf("no active data sources among %d referenced", len(configIDs))
	}
	return schemas, nil
}

func schemasFor(cfg *models.DataSourceConfig) []models.ToolSchema {
	base := models.SanitizeToolName(cfg.Provider)
	methods, ok := curatedMethods[cfg.Provider]
	if !ok {
		methods = []methodSpec{genericMethod}
	}

	out := make([]models.ToolSchema, 0, len(methods))
	for _, m := range methods {
		out = append(out, models.ToolSchema{
			Name:        base + "_" + m.method,
			Description: fmt.Sprintf("%s (source: %s)", m.description, cfg.Name),
			Parameters:  jsonSchemaFor(m.params),
		})
	}
	return out
}

func jsonSchemaFor(params []paramSpec) map[string]any {
	props := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		props[p.name] = map[string]any{
			"type":        p.typ,
			"description": p.description,
		}
		if p.required {
			required = append(required, p.name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// methodsForProvider returns the known method names for a provider
// identifier; generic providers accept only "call".
func methodsForProvider(provider string) []string {
	specs, ok := curatedMethods[provider]
	if !ok {
		return []string{genericMethod.method}
	}
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.method
	}
	return names
}
