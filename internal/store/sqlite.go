// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/fact persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL DEFAULT '',
			workflow   TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user
			ON conversations(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			sender          TEXT NOT NULL,
			content         TEXT NOT NULL,
			thinking_trace  TEXT NOT NULL DEFAULT '',
			timestamp       DATETIME NOT NULL,

			PRIMARY KEY (conversation_id, seq),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
			CHECK (sender IN ('user', 'agent', 'system'))
		);

		CREATE TABLE IF NOT EXISTS fact_checks (
			conversation_id TEXT NOT NULL,
			message_index   INTEGER NOT NULL,
			status          TEXT NOT NULL,
			result_json     TEXT NOT NULL DEFAULT '',
			updated_at      DATETIME NOT NULL,

			PRIMARY KEY (conversation_id, message_index),
			CHECK (status IN ('checking', 'complete', 'error'))
		);

		CREATE TABLE IF NOT EXISTS facts (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			text       TEXT NOT NULL,
			source_id  TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_facts_user ON facts(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveConversation upserts the conversation row and appends any messages
// not yet persisted. Existing messages are never rewritten: the (id, seq)
// primary key plus INSERT OR IGNORE keeps the history append-only.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, workflow, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			workflow = excluded.workflow,
			updated_at = excluded.updated_at
	`, conv.ID, conv.UserID, conv.Workflow, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	for _, msg := range conv.Messages {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO messages
				(conversation_id, seq, sender, content, thinking_trace, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, conv.ID, msg.Seq, msg.Sender, msg.Content, msg.ThinkingTrace, msg.Timestamp)
		if err != nil {
			return fmt.Errorf("inserting message %d: %w", msg.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("conversation saved",
		"conversation_id", conv.ID,
		"messages", len(conv.Messages),
		"workflow", conv.Workflow)
	return nil
}

// GetConversation returns the conversation with all messages in seq order.
// Returns ErrNotFound if no conversation exists for the id.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	conv := &Conversation{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, workflow, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id).Scan(&conv.UserID, &conv.Workflow, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, sender, content, thinking_trace, timestamp
		FROM messages WHERE conversation_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg := &StoredMessage{ConversationID: id}
		if err := rows.Scan(&msg.Seq, &msg.Sender, &msg.Content, &msg.ThinkingTrace, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return conv, nil
}

// ListConversationsByUser returns conversation records (without messages)
// for a user, most recently updated first.
func (s *SQLiteStore) ListConversationsByUser(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, workflow, created_at, updated_at
		FROM conversations WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Workflow, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a conversation and its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveFactCheck upserts a fact-check result for (conversation, message index).
func (s *SQLiteStore) SaveFactCheck(ctx context.Context, result *FactCheckResult) error {
	if result.UpdatedAt.IsZero() {
		result.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fact_checks (conversation_id, message_index, status, result_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, message_index) DO UPDATE SET
			status = excluded.status,
			result_json = excluded.result_json,
			updated_at = excluded.updated_at
	`, result.ConversationID, result.MessageIndex, result.Status, result.ResultJSON, result.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving fact check: %w", err)
	}
	return nil
}

// GetFactCheck returns the result for one (conversation, message index) key.
func (s *SQLiteStore) GetFactCheck(ctx context.Context, conversationID string, messageIndex int) (*FactCheckResult, error) {
	result := &FactCheckResult{ConversationID: conversationID, MessageIndex: messageIndex}
	err := s.db.QueryRowContext(ctx, `
		SELECT status, result_json, updated_at
		FROM fact_checks WHERE conversation_id = ? AND message_index = ?
	`, conversationID, messageIndex).Scan(&result.Status, &result.ResultJSON, &result.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying fact check: %w", err)
	}
	return result, nil
}

// ListFactChecks returns all fact-check results for a conversation,
// ordered by message index.
func (s *SQLiteStore) ListFactChecks(ctx context.Context, conversationID string) ([]*FactCheckResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_index, status, result_json, updated_at
		FROM fact_checks WHERE conversation_id = ?
		ORDER BY message_index ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying fact checks: %w", err)
	}
	defer rows.Close()

	var results []*FactCheckResult
	for rows.Next() {
		result := &FactCheckResult{ConversationID: conversationID}
		if err := rows.Scan(&result.MessageIndex, &result.Status, &result.ResultJSON, &result.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning fact check: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// DeleteFactCheck removes a fact-check result.
func (s *SQLiteStore) DeleteFactCheck(ctx context.Context, conversationID string, messageIndex int) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM fact_checks WHERE conversation_id = ? AND message_index = ?
	`, conversationID, messageIndex)
	if err != nil {
		return fmt.Errorf("deleting fact check: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendFact inserts a new fact. Facts are never updated or deleted.
func (s *SQLiteStore) AppendFact(ctx context.Context, fact *Fact) error {
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (id, user_id, text, source_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, fact.ID, fact.UserID, fact.Text, fact.SourceID, fact.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending fact: %w", err)
	}
	return nil
}

// ListFactsByUser returns all facts known for a user, oldest first.
func (s *SQLiteStore) ListFactsByUser(ctx context.Context, userID string) ([]*Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, source_id, created_at
		FROM facts WHERE user_id = ?
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying facts: %w", err)
	}
	defer rows.Close()

	var facts []*Fact
	for rows.Next() {
		fact := &Fact{UserID: userID}
		if err := rows.Scan(&fact.ID, &fact.Text, &fact.SourceID, &fact.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
