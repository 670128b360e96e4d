// ABOUTME: Manages active sessions, handles create/resume, and evicts idle sessions
// ABOUTME: The only structure mutated by more than one concurrent task

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hirecj/chat-gateway/internal/store"
)

// ConversationStore is what the Manager needs from persistence:
// hydration on resume and flushing on eviction or explicit teardown.
type ConversationStore interface {
	SaveConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
}

// CreateParams carries the initial state for a new session.
type CreateParams struct {
	UserID        string
	Workflow      string
	ContextWindow int
}

// Manager coordinates all active sessions and owns their lifecycle.
// Creating a session for an id that already exists resumes it.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// conns indexes which connection attempt currently owns each
	// conversation. Connections come and go; sessions survive them.
	conns map[string]string

	store           ConversationStore
	logger          *slog.Logger
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	contextWindow   int
}

// ManagerParams configures a Manager.
type ManagerParams struct {
	Store           ConversationStore
	Logger          *slog.Logger
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	ContextWindow   int
}

// NewManager creates a session Manager. Pass nil logger for default.
func NewManager(p ManagerParams) *Manager {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = 30 * time.Minute
	}
	if p.CleanupInterval <= 0 {
		p.CleanupInterval = time.Minute
	}
	if p.ContextWindow <= 0 {
		p.ContextWindow = 10
	}
	return &Manager{
		sessions:        make(map[string]*Session),
		conns:           make(map[string]string),
		store:           p.Store,
		logger:          logger.With("component", "session"),
		idleTimeout:     p.IdleTimeout,
		cleanupInterval: p.CleanupInterval,
		contextWindow:   p.ContextWindow,
	}
}

// Create returns the session for a conversation id, creating it if
// needed. Resumed reports whether an existing session (in memory or
// hydrated from the store) was returned instead of a fresh one.
func (m *Manager) Create(ctx context.Context, conversationID string, params CreateParams) (sess *Session, resumed bool, err error) {
	m.mu.Lock()
	if existing, ok := m.sessions[conversationID]; ok {
		m.mu.Unlock()
		existing.Touch()
		m.logger.Info("session resumed",
			"conversation_id", conversationID,
			"messages", existing.MessageCount())
		return existing, true, nil
	}
	m.mu.Unlock()

	// Not in memory: check the store for a persisted conversation.
	// The store call happens outside the lock; the insert below
	// re-checks so concurrent creators converge on one session.
	var restored *store.Conversation
	if m.store != nil {
		conv, err := m.store.GetConversation(ctx, conversationID)
		switch {
		case err == nil:
			restored = conv
		case errors.Is(err, store.ErrNotFound):
			// Fresh conversation
		default:
			return nil, false, err
		}
	}

	contextWindow := params.ContextWindow
	if contextWindow <= 0 {
		contextWindow = m.contextWindow
	}

	fresh := newSession(conversationID, params.UserID, params.Workflow, contextWindow)
	if restored != nil {
		fresh.hydrate(restored)
	}

	m.mu.Lock()
	if existing, ok := m.sessions[conversationID]; ok {
		// Lost the race to another connection; use theirs.
		m.mu.Unlock()
		existing.Touch()
		m.logger.Info("session resumed", "conversation_id", conversationID)
		return existing, true, nil
	}
	m.sessions[conversationID] = fresh
	total := len(m.sessions)
	m.mu.Unlock()

	if restored != nil {
		m.logger.Info("session resumed from store",
			"conversation_id", conversationID,
			"messages", fresh.MessageCount(),
			"total_sessions", total)
		return fresh, true, nil
	}

	m.logger.Info("session created",
		"conversation_id", conversationID,
		"workflow", params.Workflow,
		"total_sessions", total)
	return fresh, false, nil
}

// Get retrieves a session by conversation id.
func (m *Manager) Get(conversationID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[conversationID]
	return sess, ok
}

// Remove evicts a session from memory and returns it, or nil if absent.
// The caller decides whether to persist the returned session first.
func (m *Manager) Remove(conversationID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[conversationID]
	if !ok {
		return nil
	}
	delete(m.sessions, conversationID)
	delete(m.conns, conversationID)
	m.logger.Info("session removed",
		"conversation_id", conversationID,
		"total_sessions", len(m.sessions))
	return sess
}

// UpdateWorkflow transitions a session's workflow. Returns false if no
// session exists for the id; disconnect races are expected and must not
// crash the caller.
func (m *Manager) UpdateWorkflow(conversationID, newWorkflow, reason string) bool {
	m.mu.RLock()
	sess, ok := m.sessions[conversationID]
	m.mu.RUnlock()

	if !ok {
		m.logger.Warn("workflow update for unknown session",
			"conversation_id", conversationID,
			"workflow", newWorkflow)
		return false
	}

	sess.setWorkflow(newWorkflow, reason)
	m.logger.Info("workflow updated",
		"conversation_id", conversationID,
		"workflow", newWorkflow,
		"reason", reason)
	return true
}

// AttachConn records that a connection attempt now owns the
// conversation. A previous attempt's claim is displaced.
func (m *Manager) AttachConn(conversationID, attemptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conversationID] = attemptID
}

// DetachConn releases the live-connection claim if it is still held by
// the given attempt. The session itself survives for later resume.
func (m *Manager) DetachConn(conversationID, attemptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns[conversationID] == attemptID {
		delete(m.conns, conversationID)
	}
}

// ConnAttempt returns the attempt id currently attached to the
// conversation, or empty if no live connection exists.
func (m *Manager) ConnAttempt(conversationID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[conversationID]
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Run starts the idle-eviction loop and blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictIdle(ctx)
		}
	}
}

// evictIdle persists and removes sessions idle past the timeout.
// Sessions with a live connection are never evicted.
func (m *Manager) evictIdle(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	var idle []*Session
	for id, sess := range m.sessions {
		if _, connected := m.conns[id]; connected {
			continue
		}
		if now.Sub(sess.LastActive()) > m.idleTimeout {
			idle = append(idle, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range idle {
		m.persist(ctx, sess)
		m.logger.Info("idle session evicted",
			"conversation_id", sess.ID,
			"idle", now.Sub(sess.LastActive()).Round(time.Second))
	}
}

// Persist writes the session's durable record to the store.
func (m *Manager) Persist(ctx context.Context, sess *Session) error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveConversation(ctx, sess.Snapshot())
}

func (m *Manager) persist(ctx context.Context, sess *Session) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := m.Persist(saveCtx, sess); err != nil {
		m.logger.Error("failed to persist session",
			"error", err,
			"conversation_id", sess.ID)
	}
}

// CloseAll persists every remaining session. Called on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		remaining = append(remaining, sess)
		delete(m.sessions, id)
	}
	m.conns = make(map[string]string)
	m.mu.Unlock()

	for _, sess := range remaining {
		m.persist(ctx, sess)
	}
	m.logger.Info("all sessions persisted", "count", len(remaining))
}
