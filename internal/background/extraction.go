// ABOUTME: Fact extraction over the recent conversation slice, deduplicated per user
// ABOUTME: Triggered after user-authored turns when an identity is present

package background

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hirecj/chat-gateway/internal/session"
	"github.com/hirecj/chat-gateway/internal/store"
)

// defaultExtractionWindow bounds how much recent conversation one
// extraction pass analyzes. Full-history passes would grow linearly
// with conversation length for no extra signal.
const defaultExtractionWindow = 6

// ExtractFunc analyzes a slice of conversation and returns candidate
// fact statements about the user. The analysis itself is an external
// capability (typically the LLM); this package sequences and
// deduplicates it.
type ExtractFunc func(ctx context.Context, messages []session.Message) ([]string, error)

// FactStore is what the extractor needs from persistence.
type FactStore interface {
	AppendFact(ctx context.Context, fact *store.Fact) error
	ListFactsByUser(ctx context.Context, userID string) ([]*store.Fact, error)
}

// Extractor runs fact-extraction jobs after conversational turns.
type Extractor struct {
	coord   *Coordinator
	store   FactStore
	extract ExtractFunc
	window  int
	logger  *slog.Logger
}

// NewExtractor creates an Extractor. window <= 0 uses the default
// bounded slice. Pass nil logger for default.
func NewExtractor(coord *Coordinator, st FactStore, extract ExtractFunc, window int, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = defaultExtractionWindow
	}
	return &Extractor{
		coord:   coord,
		store:   st,
		extract: extract,
		window:  window,
		logger:  logger.With("component", "extraction"),
	}
}

// Spawn launches fact extraction for a session's latest turns. Returns
// nil without spawning when the session carries no identity: facts are
// keyed by stable user identity, so anonymous turns have nowhere to go.
func (e *Extractor) Spawn(sess *session.Session) *Handle {
	userID := sess.Identity()
	if userID == "" {
		return nil
	}

	// Snapshot the bounded recent slice now; the job must not retain
	// the session reference past this boundary.
	messages := sess.Messages()
	if len(messages) > e.window {
		messages = messages[len(messages)-e.window:]
	}
	// System messages are machine-triggered turns and are excluded
	// from merchant-initiated accounting.
	analyzed := make([]session.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Sender == store.SenderSystem {
			continue
		}
		analyzed = append(analyzed, msg)
	}
	if len(analyzed) == 0 {
		return nil
	}

	conversationID := sess.ID

	return e.coord.Spawn(KindFactExtraction, conversationID, func(ctx context.Context) error {
		candidates, err := e.extract(ctx, analyzed)
		if err != nil {
			return fmt.Errorf("extracting facts: %w", err)
		}
		if len(candidates) == 0 {
			return nil
		}

		known, err := e.store.ListFactsByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("listing known facts: %w", err)
		}
		seen := make(map[string]bool, len(known))
		for _, fact := range known {
			seen[normalizeFact(fact.Text)] = true
		}

		appended := 0
		for _, candidate := range candidates {
			normalized := normalizeFact(candidate)
			if normalized == "" || seen[normalized] {
				continue
			}
			seen[normalized] = true

			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			err := e.store.AppendFact(saveCtx, &store.Fact{
				ID:        uuid.New().String(),
				UserID:    userID,
				Text:      strings.TrimSpace(candidate),
				SourceID:  conversationID,
				CreatedAt: time.Now(),
			})
			cancel()
			if err != nil {
				return fmt.Errorf("appending fact: %w", err)
			}
			appended++
		}

		e.logger.Debug("fact extraction finished",
			"conversation_id", conversationID,
			"user_id", userID,
			"candidates", len(candidates),
			"appended", appended)
		return nil
	})
}

// normalizeFact canonicalizes a fact for dedup comparison.
func normalizeFact(text string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(text), "."))
}
