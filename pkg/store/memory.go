package store

import (
	"context"
	"sort"
	"sync"

	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// MemoryStore holds everything in process memory. Used for development and tests.
type MemoryStore struct {
	conversations map[string]*types.Conversation
	byPhone       map[string]string
	messages      map[string]*types.Message
	byCorrelation map[string]string
	entities      map[string]*types.LinkedEntity

	convMu   sync.RWMutex
	msgMu    sync.RWMutex
	entityMu sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*types.Conversation),
		byPhone:       make(map[string]string),
		messages:      make(map[string]*types.Message),
		byCorrelation: make(map[string]string),
		entities:      make(map[string]*types.LinkedEntity),
	}
}

// Conversation operations

func (m *MemoryStore) FindConversationByPhone(_ context.Context, phone string) (*types.Conversation, error) {
	m.convMu.RLock()
	defer m.convMu.RUnlock()

	id, ok := m.byPhone[phone]
	if !ok {
		return nil, types.ErrNotFound
	}
	c := *m.conversations[id]
	return &c, nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*types.Conversation, error) {
	m.convMu.RLock()
	defer m.convMu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	c := *conv
	return &c, nil
}

func (m *MemoryStore) SaveConversation(_ context.Context, conv *types.Conversation) error {
	m.convMu.Lock()
	defer m.convMu.Unlock()

	c := *conv
	m.conversations[c.ID] = &c
	m.byPhone[c.PhoneIdentifier] = c.ID
	return nil
}

func (m *MemoryStore) ListConversations(_ context.Context) ([]types.Conversation, error) {
	m.convMu.RLock()
	defer m.convMu.RUnlock()

	out := make([]types.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

// Message operations

func (m *MemoryStore) SaveMessage(_ context.Context, msg *types.Message) error {
	m.msgMu.Lock()
	defer m.msgMu.Unlock()

	c := *msg
	m.messages[c.ID] = &c
	if c.CorrelationID != "" {
		m.byCorrelation[c.CorrelationID] = c.ID
	}
	return nil
}

func (m *MemoryStore) GetMessageByCorrelationID(_ context.Context, correlationID string) (*types.Message, error) {
	m.msgMu.RLock()
	defer m.msgMu.RUnlock()

	id, ok := m.byCorrelation[correlationID]
	if !ok {
		return nil, types.ErrNotFound
	}
	c := *m.messages[id]
	return &c, nil
}

func (m *MemoryStore) RecentMessages(_ context.Context, conversationID string, limit int) ([]types.Message, error) {
	m.msgMu.RLock()
	defer m.msgMu.RUnlock()

	var out []types.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Entity operations

func (m *MemoryStore) FindEntityByPhone(_ context.Context, phone string) (*types.LinkedEntity, error) {
	m.entityMu.RLock()
	defer m.entityMu.RUnlock()

	for _, e := range m.entities {
		if e.PhoneIdentifier == phone {
			c := *e
			return &c, nil
		}
	}
	return nil, types.ErrNotFound
}

func (m *MemoryStore) SaveEntity(_ context.Context, entity *types.LinkedEntity) error {
	m.entityMu.Lock()
	defer m.entityMu.Unlock()

	c := *entity
	m.entities[c.Ref] = &c
	return nil
}

func (m *MemoryStore) MarkEntitiesContacted(_ context.Context, refs []string) (int, error) {
	m.entityMu.Lock()
	defer m.entityMu.Unlock()

	updated := 0
	for _, ref := range refs {
		if e, ok := m.entities[ref]; ok && !e.Contacted {
			e.Contacted = true
			updated++
		}
	}
	return updated, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }
