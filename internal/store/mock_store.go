// ABOUTME: In-memory mock implementation of the Store interface for testing
// ABOUTME: Thread-safe, with optional error injection per method

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for tests.
// All methods are safe for concurrent use. Set an Err* field to force
// the corresponding method to fail.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	factChecks    map[string]*FactCheckResult // key: convID|index
	facts         map[string][]*Fact          // key: userID

	ErrSaveConversation error
	ErrGetConversation  error
	ErrSaveFactCheck    error
	ErrAppendFact       error

	SaveConversationCalls int
	AppendFactCalls       int
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		factChecks:    make(map[string]*FactCheckResult),
		facts:         make(map[string][]*Fact),
	}
}

func factCheckKey(conversationID string, messageIndex int) string {
	return fmt.Sprintf("%s|%d", conversationID, messageIndex)
}

func (m *MockStore) SaveConversation(_ context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveConversationCalls++
	if m.ErrSaveConversation != nil {
		return m.ErrSaveConversation
	}

	stored, ok := m.conversations[conv.ID]
	if !ok {
		stored = &Conversation{ID: conv.ID, CreatedAt: conv.CreatedAt}
		m.conversations[conv.ID] = stored
	}
	stored.UserID = conv.UserID
	stored.Workflow = conv.Workflow
	stored.UpdatedAt = conv.UpdatedAt

	// Append-only: only accept messages beyond what is already stored
	for _, msg := range conv.Messages {
		if msg.Seq >= len(stored.Messages) {
			copied := *msg
			stored.Messages = append(stored.Messages, &copied)
		}
	}
	sort.Slice(stored.Messages, func(i, j int) bool {
		return stored.Messages[i].Seq < stored.Messages[j].Seq
	})
	return nil
}

func (m *MockStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ErrGetConversation != nil {
		return nil, m.ErrGetConversation
	}

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy so callers cannot mutate stored state
	out := *conv
	out.Messages = make([]*StoredMessage, len(conv.Messages))
	for i, msg := range conv.Messages {
		copied := *msg
		out.Messages[i] = &copied
	}
	return &out, nil
}

func (m *MockStore) ListConversationsByUser(_ context.Context, userID string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, conv := range m.conversations {
		if conv.UserID == userID {
			out := *conv
			out.Messages = nil
			convs = append(convs, &out)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

func (m *MockStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	return nil
}

func (m *MockStore) SaveFactCheck(_ context.Context, result *FactCheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ErrSaveFactCheck != nil {
		return m.ErrSaveFactCheck
	}
	copied := *result
	if copied.UpdatedAt.IsZero() {
		copied.UpdatedAt = time.Now()
	}
	m.factChecks[factCheckKey(result.ConversationID, result.MessageIndex)] = &copied
	return nil
}

func (m *MockStore) GetFactCheck(_ context.Context, conversationID string, messageIndex int) (*FactCheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.factChecks[factCheckKey(conversationID, messageIndex)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *result
	return &copied, nil
}

func (m *MockStore) ListFactChecks(_ context.Context, conversationID string) ([]*FactCheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*FactCheckResult
	for _, result := range m.factChecks {
		if result.ConversationID == conversationID {
			copied := *result
			results = append(results, &copied)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].MessageIndex < results[j].MessageIndex
	})
	return results, nil
}

func (m *MockStore) DeleteFactCheck(_ context.Context, conversationID string, messageIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := factCheckKey(conversationID, messageIndex)
	if _, ok := m.factChecks[key]; !ok {
		return ErrNotFound
	}
	delete(m.factChecks, key)
	return nil
}

func (m *MockStore) AppendFact(_ context.Context, fact *Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendFactCalls++
	if m.ErrAppendFact != nil {
		return m.ErrAppendFact
	}
	copied := *fact
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	m.facts[fact.UserID] = append(m.facts[fact.UserID], &copied)
	return nil
}

func (m *MockStore) ListFactsByUser(_ context.Context, userID string) ([]*Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	facts := make([]*Fact, len(m.facts[userID]))
	for i, fact := range m.facts[userID] {
		copied := *fact
		facts[i] = &copied
	}
	return facts, nil
}

func (m *MockStore) Close() error {
	return nil
}
