package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/dossierhq/dossier/internal/connector"
	"github.com/dossierhq/dossier/internal/store"
	"github.com/dossierhq/dossier/pkg/models"
	"github.com/rs/zerolog/log"
)

// Failure kinds reported in Result.Error. These are prefixes, not typed
// errors, because every failure crosses this boundary as model-visible
// evidence text rather than a Go error.
const (
	errToolNameInvalid   = "invalid tool name"
	errConfigNotFound    = "no matching data source"
	errToolMethodUnknown = "unknown tool method"
)

// providerAliases maps alternate spellings to canonical provider ids.
var providerAliases = map[string]string{
	"fda":     models.DataProviderOpenFDA,
	"open":    models.DataProviderOpenFDA,
	"patents": models.DataProviderPatentsView,
	"patent":  models.DataProviderPatentsView,
	"news":    models.DataProviderNewsAPI,
	"company": models.DataProviderCompanyData,
}

// Result is the structured outcome of one tool call. Exactly one of Data /
// Error is meaningful; a set Error means the call failed and the text is
// fed back to the model as evidence.
type Result struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// Failed reports whether the invocation produced an error result.
func (r *Result) Failed() bool { return r.Error != "" }

// toolRef is the parsed form of a {provider}_{method} tool name. The name
// is parsed here, once, and never re-parsed deeper in the call chain.
type toolRef struct {
	provider string
	method   string
}

// parseToolName splits at the first underscore: the provider base cannot
// contain one, the method may.
func parseToolName(name string) (toolRef, bool) {
	idx := strings.Index(name, "_")
	if idx <= 0 || idx == len(name)-1 {
		return toolRef{}, false
	}
	return toolRef{
		provider: strings.ToLower(name[:idx]),
		method:   name[idx+1:],
	}, true
}

// Invoker executes named tool calls against matching data-source configs.
type Invoker struct {
	store     store.DataSourceStore
	connector connector.Connector
}

// NewInvoker creates a tool invoker. The connector dependency is explicit:
// it is passed in at construction, never injected afterwards.
func NewInvoker(s store.DataSourceStore, conn connector.Connector) *Invoker {
	return &Invoker{store: s, connector: conn}
}

// Execute resolves toolName against the caller-supplied config ids and
// delegates to the connector. It never panics and never returns a Go
// error: every failure becomes a Result with Error set, so the generate
// loop can feed it back to the model instead of aborting the turn.
func (inv *Invoker) Execute(ctx context.Context, toolName string, args map[string]any, configIDs []string) *Result {
	ref, ok := parseToolName(toolName)
	if !ok {
		return &Result{Error: fmt.Sprintf("%s %q: expected {provider}_{method}", errToolNameInvalid, toolName)}
	}

	cfg := inv.resolveConfig(ctx, strings.ToLower(toolName), ref.provider, configIDs)
	if cfg == nil {
		return &Result{Error: fmt.Sprintf("%s for provider %q", errConfigNotFound, ref.provider)}
	}

	// Sanitized multi-token provider names swallow underscores, so the
	// method is re-derived against the resolved config rather than trusted
	// from the first-underscore split.
	method := ref.method
	if base := models.SanitizeToolName(cfg.Provider); strings.HasPrefix(strings.ToLower(toolName), base+"_") {
		method = toolName[len(base)+1:]
	}

	if !methodKnown(cfg.Provider, method) {
		return &Result{Error: fmt.Sprintf("%s %q for provider %q", errToolMethodUnknown, method, cfg.Provider)}
	}

	query := synthesizeQuery(method, args)
	res := inv.connector.Fetch(ctx, cfg, query)
	switch res.Status {
	case connector.StatusSuccess:
		return &Result{Data: res.Data}
	case connector.StatusEmpty:
		return &Result{Data: "no results found"}
	default:
		log.Warn().
			Str("tool", toolName).
			Str("source", cfg.Name).
			Str("error", res.ErrorMessage).
			Msg("Tool execution failed")
		return &Result{Error: res.ErrorMessage}
	}
}

// resolveConfig matches the parsed provider base against the supplied
// config ids: case-insensitive provider identifier first (direct, then via
// the alias table), then sanitized-name prefix against the full tool name,
// then substring match against the display name. Inactive configs never
// match.
func (inv *Invoker) resolveConfig(ctx context.Context, fullName, providerBase string, configIDs []string) *models.DataSourceConfig {
	var configs []*models.DataSourceConfig
	for _, id := range configIDs {
		cfg, err := inv.store.GetDataSource(ctx, id)
		if err != nil || !cfg.Active {
			continue
		}
		configs = append(configs, cfg)
	}

	canonical := providerBase
	if alias, ok := providerAliases[providerBase]; ok {
		canonical = alias
	}

	for _, cfg := range configs {
		if strings.EqualFold(cfg.Provider, providerBase) || strings.EqualFold(cfg.Provider, canonical) {
			return cfg
		}
	}
	for _, cfg := range configs {
		if strings.HasPrefix(fullName, models.SanitizeToolName(cfg.Provider)+"_") {
			return cfg
		}
	}
	for _, cfg := range configs {
		if strings.Contains(strings.ToLower(cfg.Name), providerBase) {
			return cfg
		}
	}
	return nil
}

func methodKnown(provider, method string) bool {
	for _, m := range methodsForProvider(provider) {
		if m == method {
			return true
		}
	}
	return false
}

// synthesizeQuery turns tool arguments into the free-text query the
// connector expects, with method-specific shaping.
func synthesizeQuery(method string, args map[string]any) string {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)

	switch method {
	case "recall_lookup":
		query = strings.TrimSpace("recall " + query)
	case "device_search":
		query = strings.TrimSpace("device " + query)
	}

	if year := yearArg(args); year > 0 {
		query = fmt.Sprintf("%s year:%d", query, year)
	}
	if query == "" {
		query = method
	}
	return query
}

func yearArg(args map[string]any) int {
	switch v := args["year"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
