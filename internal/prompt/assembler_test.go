package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dossierhq/dossier/internal/connector"
	"github.com/dossierhq/dossier/pkg/models"
)

func TestBuildSystemPromptSpecialization(t *testing.T) {
	var a Assembler

	market := &models.Agent{Name: "Market Analyst", Description: "competitive landscape research"}
	got := a.BuildSystemPrompt(market, "", nil)
	assert.Contains(t, got, "Specialization: market analysis")
	assert.Contains(t, got, "1. Summary", "report skeleton must always be present")
	assert.Contains(t, got, TagAssumption)

	regulatory := &models.Agent{Name: "FDA Pathway Reviewer"}
	assert.Contains(t, a.BuildSystemPrompt(regulatory, "", nil), "Specialization: regulatory pathway")

	// No keyword match falls back to the agent's own prompt.
	custom := &models.Agent{Name: "Generalist", SystemPrompt: "You review acquisition targets."}
	got = a.BuildSystemPrompt(custom, "", nil)
	assert.Contains(t, got, "You review acquisition targets.")
	assert.NotContains(t, got, "Specialization:")
}

func TestBuildSystemPromptPreviousOutput(t *testing.T) {
	var a Assembler
	agent := &models.Agent{Name: "Generalist"}

	got := a.BuildSystemPrompt(agent, "Step one found three competitors.", nil)
	require.Contains(t, got, "=== PREVIOUS AGENT OUTPUT ===")
	assert.Contains(t, got, "Step one found three competitors.")
	assert.Contains(t, got, TagPriorAgent)

	// Priority rules come after the previous-output block.
	idx := strings.Index(got, "=== PREVIOUS AGENT OUTPUT ===")
	prio := strings.Index(got, "prioritize")
	assert.Greater(t, prio, idx)

	assert.NotContains(t, a.BuildSystemPrompt(agent, "", nil), "PREVIOUS AGENT OUTPUT")
}

func TestBuildSystemPromptToolGuidance(t *testing.T) {
	var a Assembler
	agent := &models.Agent{Name: "Generalist"}
	tools := []models.ToolSchema{{Name: "openfda_search_drugs", Description: "Search FDA drug data"}}

	got := a.BuildSystemPrompt(agent, "", tools)
	assert.Contains(t, got, "callable tools")
	assert.Contains(t, got, "- openfda_search_drugs: Search FDA drug data")

	assert.NotContains(t, a.BuildSystemPrompt(agent, "", nil), "callable tools")
}

func TestBuildUserTurnDocumentBlockAlwaysPresent(t *testing.T) {
	var a Assembler

	got := a.BuildUserTurn(UserTurn{Question: "What is the market size?"})
	require.Contains(t, got, "=== DOCUMENT EVIDENCE ===")
	assert.Contains(t, got, "none found", "empty retrieval must be stated, not omitted")
	assert.NotContains(t, got, "=== WEB EVIDENCE ===", "web block is omitted when empty")

	withDocs := a.BuildUserTurn(UserTurn{
		Question:  "What is the market size?",
		Retrieved: []models.Snippet{{Content: "GLP-1 market grew 40% in 2024.", Score: 0.93}},
	})
	assert.Contains(t, withDocs, "GLP-1 market grew 40% in 2024.")
	assert.NotContains(t, withDocs, "none found")
}

func TestBuildUserTurnToolsAndExternalDataExclusive(t *testing.T) {
	var a Assembler
	external := []models.EvidenceItem{{Source: "openfda", Data: "3 recalls on record"}}

	// Tools offered: the external-data block is replaced by the instruction,
	// even when eager data exists.
	withTools := a.BuildUserTurn(UserTurn{Question: "q", ExternalData: external, ToolsAvailable: true})
	assert.Contains(t, withTools, "tools are available this turn")
	assert.NotContains(t, withTools, "=== EXTERNAL API EVIDENCE ===")

	withoutTools := a.BuildUserTurn(UserTurn{Question: "q", ExternalData: external})
	assert.Contains(t, withoutTools, "=== EXTERNAL API EVIDENCE ===")
	assert.Contains(t, withoutTools, "3 recalls on record")
	assert.NotContains(t, withoutTools, "tools are available this turn")
}

func TestBuildUserTurnRendersFetchFailures(t *testing.T) {
	var a Assembler
	got := a.BuildUserTurn(UserTurn{
		Question: "q",
		ExternalData: []models.EvidenceItem{
			{Source: "newsapi", Error: "timeout after 3 attempts"},
		},
	})
	assert.Contains(t, got, "FETCH FAILED: timeout after 3 attempts")
}

func TestBuildUserTurnHistoryBounded(t *testing.T) {
	var a Assembler
	history := make([]models.Message, 25)
	for i := range history {
		history[i] = models.Message{Role: models.RoleUser, Content: "turn-" + string(rune('a'+i))}
	}

	got := a.BuildUserTurn(UserTurn{Question: "q", History: history})
	assert.NotContains(t, got, "turn-a", "oldest turns must be dropped")
	assert.Contains(t, got, "turn-"+string(rune('a'+24)), "newest turn must be kept")
}

func TestEvidenceFromFetch(t *testing.T) {
	ok := EvidenceFromFetch("openfda", &connector.FetchResult{Status: connector.StatusSuccess, Data: "payload"})
	assert.Equal(t, "payload", ok.Data)
	assert.Empty(t, ok.Error)

	empty := EvidenceFromFetch("openfda", &connector.FetchResult{Status: connector.StatusEmpty})
	assert.Equal(t, "no results found", empty.Data)

	failed := EvidenceFromFetch("openfda", &connector.FetchResult{Status: connector.StatusError, ErrorMessage: "boom"})
	assert.Equal(t, "boom", failed.Error)
	assert.Nil(t, failed.Data)
}
