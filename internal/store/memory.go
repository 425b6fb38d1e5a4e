// Package store — in-memory Store implementation.
// Used when PostgreSQL is not configured (local dev, tests). Supports
// file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dossierhq/dossier/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Suites      map[string]*models.Suite            `json:"suites"`
	Agents      map[string]*models.Agent            `json:"agents"`
	Workflows   map[string]*models.Workflow         `json:"workflows"`
	Chats       map[string]*models.Chat             `json:"chats"`
	Messages    map[string][]*models.Message        `json:"messages"` // key: chat_id, ordinal order
	DataSources map[string]*models.DataSourceConfig `json:"data_sources"`
	Usage       []*models.UsageRecord               `json:"usage"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	suites      map[string]*models.Suite
	agents      map[string]*models.Agent
	workflows   map[string]*models.Workflow
	chats       map[string]*models.Chat
	messages    map[string][]*models.Message // key: chat_id, kept in ordinal order
	dataSources map[string]*models.DataSourceConfig
	usage       []*models.UsageRecord // append-only

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the save goroutine to stop
	closeOnce    sync.Once
}

// NewMemoryStore creates a new in-memory store. If DOSSIER_DATA_DIR is set,
// data is persisted to a JSON file in that directory; otherwise the store
// is purely in-memory.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		suites:      make(map[string]*models.Suite),
		agents:      make(map[string]*models.Agent),
		workflows:   make(map[string]*models.Workflow),
		chats:       make(map[string]*models.Chat),
		messages:    make(map[string][]*models.Message),
		dataSources: make(map[string]*models.DataSourceConfig),
		saveCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}

	if dataDir := os.Getenv("DOSSIER_DATA_DIR"); dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
		} else {
			m.snapshotPath = filepath.Join(dataDir, "data.json")
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests.
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Suites:      m.suites,
		Agents:      m.agents,
		Workflows:   m.workflows,
		Chats:       m.chats,
		Messages:    m.messages,
		DataSources: m.dataSources,
		Usage:       m.usage,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("Snapshot marshal failed")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Error().Err(err).Msg("Snapshot write failed")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Msg("Snapshot rename failed")
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Snapshot read failed, starting empty")
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Msg("Snapshot corrupt, starting empty")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Suites != nil {
		m.suites = snap.Suites
	}
	if snap.Agents != nil {
		m.agents = snap.Agents
	}
	if snap.Workflows != nil {
		m.workflows = snap.Workflows
	}
	if snap.Chats != nil {
		m.chats = snap.Chats
	}
	if snap.Messages != nil {
		m.messages = snap.Messages
	}
	if snap.DataSources != nil {
		m.dataSources = snap.DataSources
	}
	m.usage = snap.Usage
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close flushes a final snapshot and stops background goroutines.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
	})
	return nil
}

// ── Suites ──────────────────────────────────────────────────

func (m *MemoryStore) ListSuites(_ context.Context) ([]models.Suite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Suite, 0, len(m.suites))
	for _, s := range m.suites {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetSuite(_ context.Context, id string) (*models.Suite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.suites[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "suite", Key: id}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CreateSuite(_ context.Context, suite *models.Suite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	suite.CreatedAt = now
	suite.UpdatedAt = now
	cp := *suite
	m.suites[suite.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateSuite(_ context.Context, suite *models.Suite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.suites[suite.ID]; !ok {
		return &ErrNotFound{Entity: "suite", Key: suite.ID}
	}
	suite.UpdatedAt = time.Now().UTC()
	cp := *suite
	m.suites[suite.ID] = &cp
	m.requestSave()
	return nil
}

// ── Agents ──────────────────────────────────────────────────

func (m *MemoryStore) ListAgents(_ context.Context, suiteID string) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Agent, 0)
	for _, a := range m.agents {
		if suiteID == "" || a.SuiteID == suiteID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) CreateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	cp := *agent
	m.agents[agent.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[agent.ID]; !ok {
		return &ErrNotFound{Entity: "agent", Key: agent.ID}
	}
	agent.UpdatedAt = time.Now().UTC()
	cp := *agent
	m.agents[agent.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[id]; !ok {
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	delete(m.agents, id)
	m.requestSave()
	return nil
}

// ── Workflows ───────────────────────────────────────────────

func (m *MemoryStore) ListWorkflows(_ context.Context, suiteID string) ([]models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Workflow, 0)
	for _, w := range m.workflows {
		if suiteID == "" || w.SuiteID == suiteID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workflows[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "workflow", Key: id}
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) CreateWorkflow(_ context.Context, wf *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	cp := *wf
	m.workflows[wf.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateWorkflow(_ context.Context, wf *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[wf.ID]; !ok {
		return &ErrNotFound{Entity: "workflow", Key: wf.ID}
	}
	wf.UpdatedAt = time.Now().UTC()
	cp := *wf
	m.workflows[wf.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[id]; !ok {
		return &ErrNotFound{Entity: "workflow", Key: id}
	}
	delete(m.workflows, id)
	m.requestSave()
	return nil
}

// ── Chats ───────────────────────────────────────────────────

func (m *MemoryStore) ListChats(_ context.Context, userID string, limit int) ([]models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Chat, 0)
	for _, c := range m.chats {
		if userID == "" || c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetChat(_ context.Context, id string) (*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chats[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "chat", Key: id}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateChat(_ context.Context, chat *models.Chat) error {
	if err := chat.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	chat.CreatedAt = now
	chat.LastActivityAt = now
	cp := *chat
	m.chats[chat.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateChat(_ context.Context, chat *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[chat.ID]; !ok {
		return &ErrNotFound{Entity: "chat", Key: chat.ID}
	}
	chat.LastActivityAt = time.Now().UTC()
	cp := *chat
	m.chats[chat.ID] = &cp
	m.requestSave()
	return nil
}

// ── Messages ────────────────────────────────────────────────

func (m *MemoryStore) ListMessages(_ context.Context, chatID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[chatID]
	out := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, *msg)
	}
	return out, nil
}

func (m *MemoryStore) CountMessages(_ context.Context, chatID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[chatID]), nil
}

func (m *MemoryStore) CreateMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[msg.ChatID]; !ok {
		return &ErrNotFound{Entity: "chat", Key: msg.ChatID}
	}
	msg.CreatedAt = time.Now().UTC()
	cp := *msg
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], &cp)
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateMessageMetadata(_ context.Context, id string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if msg.ID == id {
				if msg.Metadata == nil {
					msg.Metadata = make(map[string]any, len(metadata))
				}
				for k, v := range metadata {
					msg.Metadata[k] = v
				}
				m.requestSave()
				return nil
			}
		}
	}
	return &ErrNotFound{Entity: "message", Key: id}
}

// ── Data Sources ────────────────────────────────────────────

func (m *MemoryStore) ListDataSources(_ context.Context) ([]models.DataSourceConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.DataSourceConfig, 0, len(m.dataSources))
	for _, d := range m.dataSources {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetDataSource(_ context.Context, id string) (*models.DataSourceConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.dataSources[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "data source", Key: id}
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) CreateDataSource(_ context.Context, cfg *models.DataSourceConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	cp := *cfg
	m.dataSources[cfg.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateDataSource(_ context.Context, cfg *models.DataSourceConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dataSources[cfg.ID]; !ok {
		return &ErrNotFound{Entity: "data source", Key: cfg.ID}
	}
	cfg.UpdatedAt = time.Now().UTC()
	cp := *cfg
	m.dataSources[cfg.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteDataSource(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dataSources[id]; !ok {
		return &ErrNotFound{Entity: "data source", Key: id}
	}
	delete(m.dataSources, id)
	m.requestSave()
	return nil
}

// ── Usage Records ───────────────────────────────────────────

func (m *MemoryStore) CreateUsageRecord(_ context.Context, rec *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.CreatedAt = time.Now().UTC()
	cp := *rec
	m.usage = append(m.usage, &cp)
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListUsageRecords(_ context.Context, userID string, limit int) ([]models.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.UsageRecord, 0)
	// Newest first.
	for i := len(m.usage) - 1; i >= 0; i-- {
		rec := m.usage[i]
		if userID != "" && rec.UserID != userID {
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
