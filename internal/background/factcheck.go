// ABOUTME: Fact-check job execution keyed by (conversation id, message index)
// ABOUTME: Deduplicates in-flight checks; forceRefresh supersedes a running job

package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hirecj/chat-gateway/internal/session"
	"github.com/hirecj/chat-gateway/internal/store"
)

// Fact-check request errors
var (
	ErrNotAvailable = errors.New("message not available for fact checking")
	ErrPollTimeout  = errors.New("fact check poll timed out")
)

// CheckFunc verifies one agent message against ground-truth data and
// returns a JSON verdict. The verification itself is an external
// capability; this package only sequences it.
type CheckFunc func(ctx context.Context, history []session.Message, target session.Message) (resultJSON string, err error)

// FactCheckStore is what the checker needs from persistence.
type FactCheckStore interface {
	SaveFactCheck(ctx context.Context, result *store.FactCheckResult) error
	GetFactCheck(ctx context.Context, conversationID string, messageIndex int) (*store.FactCheckResult, error)
}

// RequestOutcome describes what a fact-check request did.
type RequestOutcome struct {
	Started  bool   // a new job was launched
	InFlight bool   // an existing job was returned instead
	Status   string // current status for the key
}

type inflightJob struct {
	generation int
}

// FactChecker runs fact-check jobs. At most one active job exists per
// (conversation id, message index) unless a forced refresh supersedes
// it; a superseded job finishes but its result is discarded.
type FactChecker struct {
	coord *Coordinator
	store FactCheckStore
	check CheckFunc

	mu       sync.Mutex
	inflight map[string]*inflightJob

	logger *slog.Logger
}

// NewFactChecker creates a FactChecker. Pass nil logger for default.
func NewFactChecker(coord *Coordinator, st FactCheckStore, check CheckFunc, logger *slog.Logger) *FactChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FactChecker{
		coord:    coord,
		store:    st,
		check:    check,
		inflight: make(map[string]*inflightJob),
		logger:   logger.With("component", "factcheck"),
	}
}

func checkKey(conversationID string, messageIndex int) string {
	return fmt.Sprintf("%s|%d", conversationID, messageIndex)
}

// Request launches a fact-check for one agent message, or returns the
// in-flight status when one is already running and forceRefresh is not
// set. The target message must exist and be agent-authored; otherwise
// ErrNotAvailable is returned and no job is spawned.
func (f *FactChecker) Request(sess *session.Session, messageIndex int, forceRefresh bool) (*RequestOutcome, error) {
	target, ok := sess.MessageAt(messageIndex)
	if !ok {
		return nil, fmt.Errorf("%w: index %d out of range", ErrNotAvailable, messageIndex)
	}
	if target.Sender != store.SenderAgent {
		return nil, fmt.Errorf("%w: message %d is not agent-authored", ErrNotAvailable, messageIndex)
	}

	key := checkKey(sess.ID, messageIndex)

	f.mu.Lock()
	if job, running := f.inflight[key]; running {
		if !forceRefresh {
			f.mu.Unlock()
			return &RequestOutcome{InFlight: true, Status: store.FactCheckStatusChecking}, nil
		}
		// Supersede: bump the generation so the old job's completion
		// is discarded when it eventually lands.
		job.generation++
	}

	job, exists := f.inflight[key]
	if !exists {
		job = &inflightJob{}
		f.inflight[key] = job
	}
	generation := job.generation
	f.mu.Unlock()

	history := sess.Messages()
	conversationID := sess.ID

	// Record the checking status before the job starts so polls
	// observe it immediately.
	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := f.store.SaveFactCheck(recordCtx, &store.FactCheckResult{
		ConversationID: conversationID,
		MessageIndex:   messageIndex,
		Status:         store.FactCheckStatusChecking,
		UpdatedAt:      time.Now(),
	})
	cancel()
	if err != nil {
		f.clearInflight(key, generation)
		return nil, fmt.Errorf("recording fact check: %w", err)
	}

	f.coord.Spawn(KindFactCheck, conversationID, func(ctx context.Context) error {
		resultJSON, checkErr := f.check(ctx, history, target)

		f.mu.Lock()
		current := f.inflight[key] != nil && f.inflight[key].generation == generation
		f.mu.Unlock()

		if !current {
			f.logger.Debug("discarding superseded fact check",
				"conversation_id", conversationID,
				"message_index", messageIndex)
			return nil
		}
		defer f.clearInflight(key, generation)

		result := &store.FactCheckResult{
			ConversationID: conversationID,
			MessageIndex:   messageIndex,
			UpdatedAt:      time.Now(),
		}
		if checkErr != nil {
			result.Status = store.FactCheckStatusError
			result.ResultJSON = fmt.Sprintf("%q", checkErr.Error())
		} else {
			result.Status = store.FactCheckStatusComplete
			result.ResultJSON = resultJSON
		}

		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := f.store.SaveFactCheck(saveCtx, result); err != nil {
			return fmt.Errorf("saving fact check result: %w", err)
		}
		// The check failure is terminal job state, not a job failure
		return nil
	})

	return &RequestOutcome{Started: true, Status: store.FactCheckStatusChecking}, nil
}

func (f *FactChecker) clearInflight(key string, generation int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.inflight[key]; ok && job.generation == generation {
		delete(f.inflight, key)
	}
}

// Status returns the persisted status for a key. Works without any
// session: completed jobs remain retrievable after disconnect.
func (f *FactChecker) Status(ctx context.Context, conversationID string, messageIndex int) (*store.FactCheckResult, error) {
	return f.store.GetFactCheck(ctx, conversationID, messageIndex)
}

// Await polls until the fact check reaches a terminal status or the
// ceiling expires. On expiry it returns ErrPollTimeout and abandons the
// poll; the underlying job may still complete and remains retrievable
// by a fresh poll.
func (f *FactChecker) Await(ctx context.Context, conversationID string, messageIndex int, interval, ceiling time.Duration) (*store.FactCheckResult, error) {
	deadline := time.NewTimer(ceiling)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		result, err := f.store.GetFactCheck(ctx, conversationID, messageIndex)
		if err == nil && result.Status != store.FactCheckStatusChecking {
			return result, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrPollTimeout
		case <-tick.C:
		}
	}
}
