// ABOUTME: Streams intermediate "thinking" events from a turn in progress to the client
// ABOUTME: Registration is scoped per (session, connection attempt) to prevent stale leakage

package progress

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one intermediate progress update from a turn in flight.
type Event struct {
	Status      string
	Elapsed     time.Duration
	ToolsCalled int
	CurrentTool string
}

// Callback receives progress events. Implementations must not block;
// delivery is best-effort and fire-and-forget.
type Callback func(Event)

type registration struct {
	attemptID string
	fn        Callback
}

// Reporter forwards progress events to the connection currently
// attached to a session. If no connection is attached, events are
// silently dropped; progress is never replayed.
//
// There is no global callback list: each registration is keyed by
// (session id, connection attempt), so progress from a stale
// connection cannot leak into a new one over the same session id.
type Reporter struct {
	mu        sync.RWMutex
	callbacks map[string]registration // sessionID -> active registration
	logger    *slog.Logger
}

// NewReporter creates a Reporter. Pass nil logger for default.
func NewReporter(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		callbacks: make(map[string]registration),
		logger:    logger.With("component", "progress"),
	}
}

// Attach registers the callback for a session on behalf of one
// connection attempt, displacing any registration from an earlier
// attempt over the same session id.
func (r *Reporter) Attach(sessionID, attemptID string, fn Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[sessionID] = registration{attemptID: attemptID, fn: fn}

	r.logger.Debug("progress callback attached",
		"session_id", sessionID,
		"attempt_id", attemptID)
}

// Detach removes the registration if it is still owned by the given
// attempt. A newer attempt's registration is left untouched.
func (r *Reporter) Detach(sessionID, attemptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.callbacks[sessionID]; ok && reg.attemptID == attemptID {
		delete(r.callbacks, sessionID)
		r.logger.Debug("progress callback detached",
			"session_id", sessionID,
			"attempt_id", attemptID)
	}
}

// Report forwards an event to the currently attached connection, if
// any. Events for sessions with no attached connection are dropped.
func (r *Reporter) Report(sessionID string, ev Event) {
	r.mu.RLock()
	reg, ok := r.callbacks[sessionID]
	r.mu.RUnlock()

	if !ok {
		return
	}
	reg.fn(ev)
}
