// ABOUTME: Store interface and data types for chat-gateway persistence
// ABOUTME: Defines Conversation, StoredMessage, Fact structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Sender constants for stored messages
const (
	SenderUser   = "user"
	SenderAgent  = "agent"
	SenderSystem = "system"
)

// Conversation is the durable record for one conversation id.
// It is the unit exchanged with the store: messages, active workflow,
// and identity metadata travel together.
type Conversation struct {
	ID        string
	UserID    string // empty for anonymous conversations
	Workflow  string
	Messages  []*StoredMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoredMessage is one message within a conversation. Messages are
// append-only: Seq is the zero-based ordinal within the conversation
// and never changes once written.
type StoredMessage struct {
	ConversationID string
	Seq            int
	Sender         string // "user", "agent", "system"
	Content        string
	ThinkingTrace  string // optional, empty when absent
	Timestamp      time.Time
}

// FactCheckStatus values for persisted fact-check results
const (
	FactCheckStatusChecking = "checking"
	FactCheckStatusComplete = "complete"
	FactCheckStatusError    = "error"
)

// FactCheckResult is the persisted outcome of a fact-check over one
// agent message, keyed by (conversation id, message index).
type FactCheckResult struct {
	ConversationID string
	MessageIndex   int
	Status         string
	ResultJSON     string // verdict payload, empty until complete
	UpdatedAt      time.Time
}

// Fact is a single extracted fact about a user. Facts are append-only
// and keyed by stable user identity, never by conversation.
type Fact struct {
	ID        string
	UserID    string
	Text      string
	SourceID  string // conversation the fact was extracted from
	CreatedAt time.Time
}

// Store defines the interface for conversation and fact persistence
type Store interface {
	// Conversations
	SaveConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversationsByUser(ctx context.Context, userID string, limit int) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// Fact checks
	SaveFactCheck(ctx context.Context, result *FactCheckResult) error
	GetFactCheck(ctx context.Context, conversationID string, messageIndex int) (*FactCheckResult, error)
	ListFactChecks(ctx context.Context, conversationID string) ([]*FactCheckResult, error)
	DeleteFactCheck(ctx context.Context, conversationID string, messageIndex int) error

	// Facts (append-only)
	AppendFact(ctx context.Context, fact *Fact) error
	ListFactsByUser(ctx context.Context, userID string) ([]*Fact, error)

	// Close releases any resources held by the store
	Close() error
}
