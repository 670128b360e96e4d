// ABOUTME: Session is the unit of conversational state, surviving reconnects
// ABOUTME: All mutation happens through accessor methods to keep background tasks race-free

package session

import (
	"sync"
	"time"

	"github.com/hirecj/chat-gateway/internal/identity"
	"github.com/hirecj/chat-gateway/internal/store"
)

// Message is one entry in a session's conversation history.
// Immutable once appended.
type Message struct {
	Timestamp     time.Time
	Sender        string // store.SenderUser, store.SenderAgent, store.SenderSystem
	Content       string
	ThinkingTrace string // optional, empty when absent
}

// Metrics holds per-session counters.
type Metrics struct {
	MessagesProcessed int
	Errors            int
	TotalResponseTime time.Duration
}

// WorkflowState describes the active workflow and how it was reached.
type WorkflowState struct {
	Current          string
	Previous         string
	TransitionReason string
}

// Session holds server-side state for one logical conversation.
// The Manager exclusively owns Session instances; handlers and
// background jobs obtain references but mutate only through methods.
type Session struct {
	ID     string
	UserID string // empty for anonymous sessions

	mu            sync.Mutex
	messages      []Message
	workflow      WorkflowState
	oauth         *identity.OAuthMetadata
	metrics       Metrics
	debug         *DebugCapture
	contextWindow int
	createdAt     time.Time
	lastActive    time.Time
}

func newSession(id, userID, workflow string, contextWindow int) *Session {
	now := time.Now()
	return &Session{
		ID:            id,
		UserID:        userID,
		workflow:      WorkflowState{Current: workflow},
		debug:         NewDebugCapture(debugCaptureDepth),
		contextWindow: contextWindow,
		createdAt:     now,
		lastActive:    now,
	}
}

// AppendMessage appends a message and returns its index within the
// conversation. The index is stable for the conversation's lifetime.
func (s *Session) AppendMessage(sender, content, thinkingTrace string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, Message{
		Timestamp:     time.Now(),
		Sender:        sender,
		Content:       content,
		ThinkingTrace: thinkingTrace,
	})
	s.lastActive = time.Now()
	return len(s.messages) - 1
}

// Messages returns a copy of the full conversation history.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageAt returns the message at the given index, or false if out of range.
func (s *Session) MessageAt(index int) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.messages) {
		return Message{}, false
	}
	return s.messages[index], true
}

// MessageCount returns the number of messages in the conversation.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// ContextWindow returns the most recent N messages used for generation.
func (s *Session) ContextWindow() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.contextWindow
	if n <= 0 || n > len(s.messages) {
		n = len(s.messages)
	}
	out := make([]Message, n)
	copy(out, s.messages[len(s.messages)-n:])
	return out
}

// Workflow returns the current workflow state.
func (s *Session) Workflow() WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workflow
}

// setWorkflow records a transition. Called only by the Manager so the
// change is serialized with other mutating accessors.
func (s *Session) setWorkflow(next, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next == s.workflow.Current {
		return
	}
	s.workflow = WorkflowState{
		Current:          next,
		Previous:         s.workflow.Current,
		TransitionReason: reason,
	}
}

// SetOAuth records an external authentication event on the session.
func (s *Session) SetOAuth(meta *identity.OAuthMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oauth = meta
}

// OAuth returns the authentication metadata, or nil when absent.
func (s *Session) OAuth() *identity.OAuthMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oauth
}

// SetUserID binds a verified identity to the session.
func (s *Session) SetUserID(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserID = userID
}

// Identity returns the bound user id, or empty for anonymous sessions.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.UserID
}

// RecordTurn updates metrics after a completed response generation.
func (s *Session) RecordTurn(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.MessagesProcessed++
	s.metrics.TotalResponseTime += elapsed
}

// RecordError increments the session error counter.
func (s *Session) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Errors++
}

// Metrics returns a snapshot of the session counters.
func (s *Session) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Debug returns the session's debug capture buffers.
func (s *Session) Debug() *DebugCapture {
	return s.debug
}

// Touch marks the session active for idle accounting.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// LastActive returns the time of the last activity on the session.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Snapshot converts the session into its durable conversation record.
func (s *Session) Snapshot() *store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := &store.Conversation{
		ID:        s.ID,
		UserID:    s.UserID,
		Workflow:  s.workflow.Current,
		CreatedAt: s.createdAt,
		UpdatedAt: time.Now(),
		Messages:  make([]*store.StoredMessage, len(s.messages)),
	}
	for i, msg := range s.messages {
		conv.Messages[i] = &store.StoredMessage{
			ConversationID: s.ID,
			Seq:            i,
			Sender:         msg.Sender,
			Content:        msg.Content,
			ThinkingTrace:  msg.ThinkingTrace,
			Timestamp:      msg.Timestamp,
		}
	}
	return conv
}

// hydrate restores history from a stored conversation record.
// Only called by the Manager before the session is published.
func (s *Session) hydrate(conv *store.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.UserID = conv.UserID
	s.workflow = WorkflowState{Current: conv.Workflow}
	s.createdAt = conv.CreatedAt
	s.messages = make([]Message, len(conv.Messages))
	for i, msg := range conv.Messages {
		s.messages[i] = Message{
			Timestamp:     msg.Timestamp,
			Sender:        msg.Sender,
			Content:       msg.Content,
			ThinkingTrace: msg.ThinkingTrace,
		}
	}
}
