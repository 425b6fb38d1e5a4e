// Package prompt assembles the system prompt and user turn for an agent.
//
// The structure is fixed: every evidence channel gets a labeled block
// (the document block states "none found" when empty, so the model never
// mistakes missing retrieval for missing documents), claims must carry
// source tags, and the answer follows a structured report skeleton. This
// keeps tool-calling turns auditable: the model cannot fabricate
// unlabeled claims or assume unstated data exists.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dossierhq/dossier/internal/connector"
	"github.com/dossierhq/dossier/pkg/models"
)

// Evidence tags every claim must carry.
const (
	TagDocument   = "[DOC]"
	TagWeb        = "[WEB]"
	TagAPI        = "[API]"
	TagPriorAgent = "[PRIOR]"
	TagAssumption = "[ASSUMPTION]"
)

// basePolicy mandates source-tagged claims and the report skeleton.
const basePolicy = `You are a research analyst. Every factual claim in your answer MUST carry
exactly one source tag:
  ` + TagDocument + ` backed by the provided document evidence
  ` + TagWeb + ` backed by the provided web evidence
  ` + TagAPI + ` backed by the provided external API evidence
  ` + TagPriorAgent + ` backed by the previous agent's output
  ` + TagAssumption + ` an explicit assumption you are making

Structure your answer as a report with these sections:
1. Summary
2. Sources used
3. Verified insights (each with its source tag)
4. Citations
5. Gaps and open questions
6. Conclusion

If the evidence is insufficient to answer, say "insufficient data" in the
relevant section instead of guessing. Never present an untagged claim.`

// priorityRules resolve conflicts between evidence channels.
const priorityRules = `When evidence channels conflict, prioritize:
document evidence > structured API evidence > web evidence.
Resolve ties in favor of documents, unless the document itself states
uncertainty about the claim.`

// toolGuidance is appended when tool schemas are offered this turn.
const toolGuidance = `You have callable tools for external data sources. Call a tool whenever
the question needs data you do not already have in context. Tool results
arrive as additional evidence; cite them with ` + TagAPI + `. If a tool
reports an error, state the gap explicitly rather than inventing data.`

// specialization is one domain block selected by keyword match against the
// agent's name and description.
type specialization struct {
	keywords []string
	block    string
}

// specializations is checked in order; first match wins.
var specializations = []specialization{
	{
		keywords: []string{"market", "commercial", "competitive"},
		block: `Specialization: market analysis. Focus on market size, growth drivers,
competitive landscape, and commercial positioning. Quantify wherever the
evidence allows, and separate historical fact from forecast.`,
	},
	{
		keywords: []string{"regulatory", "fda", "approval", "compliance"},
		block: `Specialization: regulatory pathway. Focus on approval routes, regulatory
precedents, safety signals, and compliance obligations. Distinguish
binding requirements from guidance.`,
	},
	{
		keywords: []string{"technical", "feasibility", "engineering", "scientific"},
		block: `Specialization: technical feasibility. Focus on mechanism, maturity of
the underlying technology, reproducibility of results, and the concrete
technical risks. Flag claims that rest on a single source.`,
	},
	{
		keywords: []string{"valuation", "financial", "investment", "funding"},
		block: `Specialization: valuation. Focus on comparable transactions, revenue
potential, cost structure, and risk-adjusted value. State valuation
assumptions explicitly with ` + TagAssumption + ` tags.`,
	},
}

// Assembler builds prompts from agent configuration and gathered context.
// The zero value is ready to use.
type Assembler struct{}

// BuildSystemPrompt composes, in order: base policy, specialization (or
// the agent's own custom prompt when no keyword matches), tool guidance
// when tools are offered, the previous agent's output when chained, and
// the context-priority rules.
func (Assembler) BuildSystemPrompt(agent *models.Agent, previousOutput string, toolSchemas []models.ToolSchema) string {
	var b strings.Builder
	b.WriteString(basePolicy)

	if block := matchSpecialization(agent); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	} else if agent.SystemPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(agent.SystemPrompt))
	}

	if len(toolSchemas) > 0 {
		b.WriteString("\n\n")
		b.WriteString(toolGuidance)
		b.WriteString("\n\nAvailable tools:\n")
		for _, t := range toolSchemas {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}

	if previousOutput != "" {
		b.WriteString("\n\n=== PREVIOUS AGENT OUTPUT ===\n")
		b.WriteString(previousOutput)
		b.WriteString("\n=== END PREVIOUS AGENT OUTPUT ===\n")
		b.WriteString("Build on this output; cite claims taken from it with " + TagPriorAgent + ".")
	}

	b.WriteString("\n\n")
	b.WriteString(priorityRules)
	return b.String()
}

// matchSpecialization returns the first specialization whose keywords
// appear in the agent's name or description, or "" when none match.
func matchSpecialization(agent *models.Agent) string {
	haystack := strings.ToLower(agent.Name + " " + agent.Description)
	for _, spec := range specializations {
		for _, kw := range spec.keywords {
			if strings.Contains(haystack, kw) {
				return spec.block
			}
		}
	}
	return ""
}

// WebResult is one web-search hit included as evidence.
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// UserTurn carries everything gathered for one turn.
type UserTurn struct {
	Question     string
	Retrieved    []models.Snippet
	WebResults   []WebResult
	ExternalData []models.EvidenceItem
	History      []models.Message
	// ToolsAvailable means tools are offered this turn: the external-data
	// block is replaced by a call-the-tools instruction. The two are
	// mutually exclusive by construction.
	ToolsAvailable bool
}

// maxHistoryTurns bounds how much prior conversation is replayed.
const maxHistoryTurns = 10

// BuildUserTurn interleaves, in fixed order: prior chat history, the
// question, the document-evidence block (always present — an explicit
// "none found" when empty, so the model cannot assume unstated documents
// exist), the web-evidence block (only when non-empty), then either the
// external-API-evidence block or the tools-available instruction, and a
// trailing restatement of the tagging rules.
func (Assembler) BuildUserTurn(turn UserTurn) string {
	var b strings.Builder

	if n := len(turn.History); n > 0 {
		start := 0
		if n > maxHistoryTurns {
			start = n - maxHistoryTurns
		}
		b.WriteString("=== CONVERSATION HISTORY ===\n")
		for _, msg := range turn.History[start:] {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("=== END HISTORY ===\n\n")
	}

	b.WriteString("QUESTION: ")
	b.WriteString(turn.Question)
	b.WriteString("\n\n=== DOCUMENT EVIDENCE ===\n")
	if len(turn.Retrieved) == 0 {
		b.WriteString("none found\n")
	} else {
		for i, s := range turn.Retrieved {
			fmt.Fprintf(&b, "[%d] (score %.2f) %s\n", i+1, s.Score, s.Content)
		}
	}
	b.WriteString("=== END DOCUMENT EVIDENCE ===\n")

	if len(turn.WebResults) > 0 {
		b.WriteString("\n=== WEB EVIDENCE ===\n")
		for _, r := range turn.WebResults {
			fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
		}
		b.WriteString("=== END WEB EVIDENCE ===\n")
	}

	if turn.ToolsAvailable {
		b.WriteString("\nExternal data tools are available this turn. Call them for any\n")
		b.WriteString("external data you need; do not assume API data you have not fetched.\n")
	} else if len(turn.ExternalData) > 0 {
		b.WriteString("\n=== EXTERNAL API EVIDENCE ===\n")
		for _, item := range turn.ExternalData {
			if item.Error != "" {
				fmt.Fprintf(&b, "- %s: FETCH FAILED: %s\n", item.Source, item.Error)
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", item.Source, renderEvidence(item.Data))
		}
		b.WriteString("=== END EXTERNAL API EVIDENCE ===\n")
	}

	b.WriteString("\nRemember: tag every claim (" + TagDocument + " " + TagWeb + " " +
		TagAPI + " " + TagPriorAgent + " " + TagAssumption + "), and write\n")
	b.WriteString(`"insufficient data" where the evidence does not support an answer.`)
	return b.String()
}

// EvidenceFromFetch converts a connector fetch outcome into an evidence
// item, preserving failures as model-visible text.
func EvidenceFromFetch(source string, res *connector.FetchResult) models.EvidenceItem {
	item := models.EvidenceItem{Source: source}
	switch res.Status {
	case connector.StatusSuccess:
		item.Data = res.Data
	case connector.StatusEmpty:
		item.Data = "no results found"
	default:
		item.Error = res.ErrorMessage
	}
	return item
}

func renderEvidence(data any) string {
	switch v := data.(type) {
	case string:
		return v
	case nil:
		return "no data"
	default:
		enc, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(enc)
	}
}
