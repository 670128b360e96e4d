// ABOUTME: Workflow state machine: validates and executes workflow transitions
// ABOUTME: Transitions are atomic from the caller's view; arrival turns come later

package workflow

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hirecj/chat-gateway/internal/session"
)

// ErrUnknownWorkflow indicates the destination workflow is not in the catalog.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// ErrNoSession indicates no active session exists for the conversation.
var ErrNoSession = errors.New("no active session")

// TransitionResult describes a completed (or no-op) transition.
type TransitionResult struct {
	Workflow   string
	Previous   string
	NoOp       bool // destination equalled the current workflow
	Definition *Definition
}

// Machine validates and executes workflow transitions for sessions.
// Workflow names are opaque tokens; the set of valid states is whatever
// the catalog declares.
type Machine struct {
	catalog  Catalog
	sessions *session.Manager
	logger   *slog.Logger
}

// NewMachine creates a workflow state machine. Pass nil logger for default.
func NewMachine(catalog Catalog, sessions *session.Manager, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		catalog:  catalog,
		sessions: sessions,
		logger:   logger.With("component", "workflow"),
	}
}

// Catalog returns the machine's workflow catalog.
func (m *Machine) Catalog() Catalog {
	return m.catalog
}

// Transition moves a session to the target workflow.
//
// Unknown target: ErrUnknownWorkflow, no state change. Target equal to
// the current workflow: a no-op that still yields a result, so callers
// can acknowledge idempotently. The acknowledgment must be sent before
// any farewell/arrival turns are generated; this method only performs
// the state change.
func (m *Machine) Transition(conversationID, target, reason string) (*TransitionResult, error) {
	def, ok := m.catalog.Lookup(target)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, target)
	}

	sess, ok := m.sessions.Get(conversationID)
	if !ok {
		return nil, ErrNoSession
	}

	current := sess.Workflow()
	if current.Current == target {
		m.logger.Debug("workflow transition no-op",
			"conversation_id", conversationID,
			"workflow", target)
		return &TransitionResult{
			Workflow:   target,
			Previous:   current.Previous,
			NoOp:       true,
			Definition: def,
		}, nil
	}

	if !m.sessions.UpdateWorkflow(conversationID, target, reason) {
		// Session vanished between Get and update; disconnect races
		// are expected and must not crash the caller.
		return nil, ErrNoSession
	}

	return &TransitionResult{
		Workflow:   target,
		Previous:   current.Current,
		Definition: def,
	}, nil
}

// ResolveStart decides the workflow a start_conversation should land
// in. If the requested workflow does not require authentication but the
// session already carries a verified identity, the catalog-declared
// fallback for that condition wins and the requested workflow's initial
// action is skipped entirely.
func (m *Machine) ResolveStart(requested string, authenticated bool) (*Definition, bool, error) {
	def, ok := m.catalog.Lookup(requested)
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownWorkflow, requested)
	}

	if authenticated && !def.RequiresAuth && def.AuthFallback != "" {
		fallback, ok := m.catalog.Lookup(def.AuthFallback)
		if !ok {
			// Catalog loaders validate fallback targets; a static
			// catalog may not have.
			return nil, false, fmt.Errorf("%w: fallback %q", ErrUnknownWorkflow, def.AuthFallback)
		}
		m.logger.Info("already authenticated, using fallback workflow",
			"requested", requested,
			"workflow", fallback.Name)
		return fallback, true, nil
	}

	return def, false, nil
}
