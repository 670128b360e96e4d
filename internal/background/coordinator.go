// ABOUTME: Launches and tracks fire-and-forget background jobs for sessions
// ABOUTME: Jobs are spawned, never awaited by the turn; shutdown can enumerate and drain

package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a category of background work.
type Kind string

// Job kinds
const (
	KindFactExtraction Kind = "fact_extraction"
	KindFactCheck      Kind = "fact_check"
)

// Handle is an opaque reference to one unit of background work.
// The main turn never awaits it; it exists for enumeration and
// best-effort draining on shutdown.
type Handle struct {
	ID             string
	Kind           Kind
	ConversationID string

	done chan struct{}
	mu   sync.Mutex
	err  error
}

// Done is closed when the job finishes, successfully or not.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the job's terminal error, or nil. Valid after Done.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Coordinator launches background jobs and tracks them until
// completion. A job's failure is captured on its handle and logged; it
// never propagates to, or blocks, the originating connection.
type Coordinator struct {
	mu      sync.Mutex
	handles map[string]*Handle
	wg      sync.WaitGroup
	baseCtx context.Context
	logger  *slog.Logger
}

// NewCoordinator creates a Coordinator. Jobs run on contexts derived
// from baseCtx, so cancelling it (process shutdown) reaches every job.
func NewCoordinator(baseCtx context.Context, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		handles: make(map[string]*Handle),
		baseCtx: baseCtx,
		logger:  logger.With("component", "background"),
	}
}

// Spawn starts fn as a background job and returns immediately.
// The job context is detached from any request context: a disconnect
// only removes the job's ability to push live notifications, it does
// not cancel the work.
func (c *Coordinator) Spawn(kind Kind, conversationID string, fn func(ctx context.Context) error) *Handle {
	h := &Handle{
		ID:             uuid.New().String(),
		Kind:           kind,
		ConversationID: conversationID,
		done:           make(chan struct{}),
	}

	c.mu.Lock()
	c.handles[h.ID] = h
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.handles, h.ID)
			c.mu.Unlock()
		}()

		err := fn(c.baseCtx)
		h.finish(err)

		if err != nil {
			c.logger.Error("background job failed",
				"kind", kind,
				"job_id", h.ID,
				"conversation_id", conversationID,
				"error", err)
		} else {
			c.logger.Debug("background job completed",
				"kind", kind,
				"job_id", h.ID,
				"conversation_id", conversationID)
		}
	}()

	return h
}

// Outstanding returns the number of jobs still running.
func (c *Coordinator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// HandlesFor returns handles for jobs associated with a conversation.
func (c *Coordinator) HandlesFor(conversationID string) []*Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Handle
	for _, h := range c.handles {
		if h.ConversationID == conversationID {
			out = append(out, h)
		}
	}
	return out
}

// Drain waits for outstanding jobs to finish, up to the timeout.
// Returns true if everything completed in time.
func (c *Coordinator) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		c.logger.Warn("drain timed out with jobs outstanding",
			"outstanding", c.Outstanding())
		return false
	}
}
