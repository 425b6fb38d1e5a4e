package store

import (
	"context"
	"testing"

	"github.com/dossierhq/dossier/pkg/models"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSuiteCRUD(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	suite := &models.Suite{ID: "s1", Name: "Pharma Research", Tier: "pro", Active: true}
	if err := m.CreateSuite(ctx, suite); err != nil {
		t.Fatalf("CreateSuite() error = %v", err)
	}

	got, err := m.GetSuite(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSuite() error = %v", err)
	}
	if got.Name != "Pharma Research" || got.Tier != "pro" {
		t.Errorf("GetSuite() = %+v, want name and tier preserved", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("GetSuite() CreatedAt is zero, want set by store")
	}

	// Mutating the returned copy must not leak into the store.
	got.Name = "Mutated"
	again, _ := m.GetSuite(ctx, "s1")
	if again.Name != "Pharma Research" {
		t.Errorf("store leaked a shared pointer: name = %q", again.Name)
	}

	got.Name = "Renamed"
	if err := m.UpdateSuite(ctx, got); err != nil {
		t.Fatalf("UpdateSuite() error = %v", err)
	}
	again, _ = m.GetSuite(ctx, "s1")
	if again.Name != "Renamed" {
		t.Errorf("UpdateSuite() not applied, name = %q", again.Name)
	}

	if _, err := m.GetSuite(ctx, "missing"); err == nil {
		t.Fatal("GetSuite(missing) error = nil, want ErrNotFound")
	} else if _, ok := err.(*ErrNotFound); !ok {
		t.Errorf("GetSuite(missing) error type = %T, want *ErrNotFound", err)
	}
}

func TestListAgentsFiltersAndSorts(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	agents := []*models.Agent{
		{ID: "a1", SuiteID: "s1", Name: "Beta", Provider: models.ProviderOpenAI, Model: "gpt-4o", Position: 2},
		{ID: "a2", SuiteID: "s1", Name: "Alpha", Provider: models.ProviderOpenAI, Model: "gpt-4o", Position: 1},
		{ID: "a3", SuiteID: "s2", Name: "Other", Provider: models.ProviderOllama, Model: "llama3", Position: 0},
	}
	for _, a := range agents {
		if err := m.CreateAgent(ctx, a); err != nil {
			t.Fatalf("CreateAgent(%s) error = %v", a.ID, err)
		}
	}

	got, err := m.ListAgents(ctx, "s1")
	if err != nil {
		t.Fatalf("ListAgents() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListAgents(s1) returned %d agents, want 2", len(got))
	}
	if got[0].ID != "a2" || got[1].ID != "a1" {
		t.Errorf("ListAgents(s1) order = [%s %s], want position order [a2 a1]", got[0].ID, got[1].ID)
	}

	all, _ := m.ListAgents(ctx, "")
	if len(all) != 3 {
		t.Errorf("ListAgents(\"\") returned %d agents, want 3", len(all))
	}
}

func TestCreateChatEnforcesBindingInvariant(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	both := &models.Chat{ID: "c1", UserID: "u1", AgentID: "a1", WorkflowID: "w1"}
	if err := m.CreateChat(ctx, both); err == nil {
		t.Error("CreateChat(agent and workflow) error = nil, want invariant violation")
	}
	neither := &models.Chat{ID: "c2", UserID: "u1"}
	if err := m.CreateChat(ctx, neither); err == nil {
		t.Error("CreateChat(no binding) error = nil, want invariant violation")
	}
	ok := &models.Chat{ID: "c3", UserID: "u1", AgentID: "a1"}
	if err := m.CreateChat(ctx, ok); err != nil {
		t.Errorf("CreateChat(agent only) error = %v", err)
	}
}

func TestMessagesAppendInOrdinalOrder(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	if err := m.CreateChat(ctx, &models.Chat{ID: "c1", UserID: "u1", AgentID: "a1"}); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	for i := 1; i <= 3; i++ {
		msg := &models.Message{ID: "m" + string(rune('0'+i)), ChatID: "c1", Role: models.RoleUser, Content: "hi", Ordinal: i}
		if err := m.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage(%d) error = %v", i, err)
		}
	}

	count, err := m.CountMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 3 {
		t.Errorf("CountMessages() = %d, want 3", count)
	}

	msgs, _ := m.ListMessages(ctx, "c1")
	for i, msg := range msgs {
		if msg.Ordinal != i+1 {
			t.Errorf("message %d ordinal = %d, want %d", i, msg.Ordinal, i+1)
		}
	}

	if err := m.CreateMessage(ctx, &models.Message{ID: "mx", ChatID: "missing", Role: models.RoleUser}); err == nil {
		t.Error("CreateMessage(unknown chat) error = nil, want ErrNotFound")
	}
}

func TestUpdateMessageMetadataBackfill(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	m.CreateChat(ctx, &models.Chat{ID: "c1", UserID: "u1", AgentID: "a1"})
	m.CreateMessage(ctx, &models.Message{ID: "m1", ChatID: "c1", Role: models.RoleAssistant, Content: "answer", Ordinal: 1})

	if err := m.UpdateMessageMetadata(ctx, "m1", map[string]any{"input_tokens": 12}); err != nil {
		t.Fatalf("UpdateMessageMetadata() error = %v", err)
	}
	msgs, _ := m.ListMessages(ctx, "c1")
	if msgs[0].Metadata["input_tokens"] != 12 {
		t.Errorf("metadata not back-filled: %+v", msgs[0].Metadata)
	}
	if msgs[0].Content != "answer" {
		t.Errorf("content changed during metadata back-fill: %q", msgs[0].Content)
	}

	if err := m.UpdateMessageMetadata(ctx, "missing", nil); err == nil {
		t.Error("UpdateMessageMetadata(missing) error = nil, want ErrNotFound")
	}
}

func TestUsageRecordsAppendOnlyNewestFirst(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	for i, model := range []string{"gpt-4o", "gpt-4o-mini", "claude-3-5-sonnet"} {
		rec := &models.UsageRecord{ID: "r" + string(rune('0'+i)), UserID: "u1", Model: model}
		if err := m.CreateUsageRecord(ctx, rec); err != nil {
			t.Fatalf("CreateUsageRecord() error = %v", err)
		}
	}
	m.CreateUsageRecord(ctx, &models.UsageRecord{ID: "other", UserID: "u2", Model: "gpt-4o"})

	recs, err := m.ListUsageRecords(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListUsageRecords() error = %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("ListUsageRecords(u1) returned %d records, want 3", len(recs))
	}
	if recs[0].Model != "claude-3-5-sonnet" {
		t.Errorf("ListUsageRecords() first = %q, want newest first", recs[0].Model)
	}

	limited, _ := m.ListUsageRecords(ctx, "u1", 2)
	if len(limited) != 2 {
		t.Errorf("ListUsageRecords(limit 2) returned %d records", len(limited))
	}
}

func TestDataSourceCRUD(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()

	cfg := &models.DataSourceConfig{
		ID:       "ds1",
		Name:     "OpenFDA",
		Provider: models.DataProviderOpenFDA,
		BaseURL:  "https://api.fda.gov/drug/label.json",
		APIKey:   "secret",
		Active:   true,
	}
	if err := m.CreateDataSource(ctx, cfg); err != nil {
		t.Fatalf("CreateDataSource() error = %v", err)
	}

	got, err := m.GetDataSource(ctx, "ds1")
	if err != nil {
		t.Fatalf("GetDataSource() error = %v", err)
	}
	if got.APIKey != "secret" {
		t.Errorf("store must keep the raw credential, got %q", got.APIKey)
	}
	if red := got.Redacted(); red.APIKey == "secret" {
		t.Error("Redacted() leaked the credential")
	}

	if err := m.DeleteDataSource(ctx, "ds1"); err != nil {
		t.Fatalf("DeleteDataSource() error = %v", err)
	}
	if _, err := m.GetDataSource(ctx, "ds1"); err == nil {
		t.Error("GetDataSource after delete error = nil, want ErrNotFound")
	}
}
