// Package store provides the storage interface and implementations for the
// Dossier engine. The orchestration core only needs create/read/update by
// id; everything depends on the Store interface so tests run against the
// in-memory implementation.
package store

import (
	"context"

	"github.com/dossierhq/dossier/pkg/models"
)

// Store is the primary storage interface.
type Store interface {
	SuiteStore
	AgentStore
	WorkflowStore
	ChatStore
	MessageStore
	DataSourceStore
	UsageStore

	// Ping checks if the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Suite Store ─────────────────────────────────────────────

type SuiteStore interface {
	ListSuites(ctx context.Context) ([]models.Suite, error)
	GetSuite(ctx context.Context, id string) (*models.Suite, error)
	CreateSuite(ctx context.Context, suite *models.Suite) error
	UpdateSuite(ctx context.Context, suite *models.Suite) error
}

// ── Agent Store ─────────────────────────────────────────────

type AgentStore interface {
	ListAgents(ctx context.Context, suiteID string) ([]models.Agent, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	CreateAgent(ctx context.Context, agent *models.Agent) error
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	DeleteAgent(ctx context.Context, id string) error
}

// ── Workflow Store ──────────────────────────────────────────

type WorkflowStore interface {
	ListWorkflows(ctx context.Context, suiteID string) ([]models.Workflow, error)
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	UpdateWorkflow(ctx context.Context, wf *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// ── Chat Store ──────────────────────────────────────────────

type ChatStore interface {
	ListChats(ctx context.Context, userID string, limit int) ([]models.Chat, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	CreateChat(ctx context.Context, chat *models.Chat) error
	UpdateChat(ctx context.Context, chat *models.Chat) error
}

// ── Message Store ───────────────────────────────────────────

// MessageStore is append-only apart from metadata back-fill.
type MessageStore interface {
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	CountMessages(ctx context.Context, chatID string) (int, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	// UpdateMessageMetadata back-fills metadata on an existing message.
	// Content, role and ordinal are immutable.
	UpdateMessageMetadata(ctx context.Context, id string, metadata map[string]any) error
}

// ── Data Source Store ───────────────────────────────────────

type DataSourceStore interface {
	ListDataSources(ctx context.Context) ([]models.DataSourceConfig, error)
	GetDataSource(ctx context.Context, id string) (*models.DataSourceConfig, error)
	CreateDataSource(ctx context.Context, cfg *models.DataSourceConfig) error
	UpdateDataSource(ctx context.Context, cfg *models.DataSourceConfig) error
	DeleteDataSource(ctx context.Context, id string) error
}

// ── Usage Store ─────────────────────────────────────────────

// UsageStore is strictly append-only: records are the billing audit trail
// and are never updated or deleted by this codebase.
type UsageStore interface {
	CreateUsageRecord(ctx context.Context, rec *models.UsageRecord) error
	ListUsageRecords(ctx context.Context, userID string, limit int) ([]models.UsageRecord, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
