// Package usage computes cost from token counts and writes the immutable
// usage records that form the billing and observability audit trail.
package usage

import (
	"context"
	"fmt"
	"sync"

	"github.com/dossierhq/dossier/internal/store"
	"github.com/dossierhq/dossier/pkg/models"
	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// Recorder writes one usage record per generation event. No aggregation
// happens here; reporting reads the records elsewhere.
type Recorder struct {
	store store.UsageStore

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewRecorder creates a usage recorder.
func NewRecorder(s store.UsageStore) *Recorder {
	return &Recorder{store: s}
}

// Entry carries everything needed to log one generation event.
type Entry struct {
	UserID  string
	SuiteID string
	AgentID string
	ChatID  string
	Action  models.UsageAction

	Provider models.Provider
	Model    string
	Tokens   models.TokenUsage

	// PromptText / OutputText are used to estimate token counts when the
	// provider reported none (some local backends omit usage fields).
	PromptText string
	OutputText string
}

// Log computes cost and persists one immutable record. Unknown
// provider/model pairs get the default rate — pricing gaps never block
// the audit trail.
func (r *Recorder) Log(ctx context.Context, e Entry) error {
	tokens := e.Tokens
	if tokens.Total() == 0 && (e.PromptText != "" || e.OutputText != "") {
		tokens = r.estimate(e.PromptText, e.OutputText)
	}

	rec := &models.UsageRecord{
		ID:           uuid.NewString(),
		UserID:       e.UserID,
		SuiteID:      e.SuiteID,
		AgentID:      e.AgentID,
		ChatID:       e.ChatID,
		Action:       e.Action,
		Provider:     e.Provider,
		Model:        e.Model,
		InputTokens:  tokens.InputTokens,
		OutputTokens: tokens.OutputTokens,
		Cost:         Cost(e.Provider, e.Model, tokens),
	}

	if err := r.store.CreateUsageRecord(ctx, rec); err != nil {
		return fmt.Errorf("create usage record: %w", err)
	}

	log.Debug().
		Str("user", e.UserID).
		Str("agent", e.AgentID).
		Int64("input_tokens", rec.InputTokens).
		Int64("output_tokens", rec.OutputTokens).
		Float64("cost", rec.Cost).
		Msg("Usage recorded")
	return nil
}

// estimate approximates token counts with the cl100k_base encoding when a
// backend reported none. An estimate beats a zero in the audit trail.
func (r *Recorder) estimate(promptText, outputText string) models.TokenUsage {
	r.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("Token encoding unavailable, estimates disabled")
			return
		}
		r.enc = enc
	})
	if r.enc == nil {
		return models.TokenUsage{}
	}
	return models.TokenUsage{
		InputTokens:  int64(len(r.enc.Encode(promptText, nil, nil))),
		OutputTokens: int64(len(r.enc.Encode(outputText, nil, nil))),
	}
}
