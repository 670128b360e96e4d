// ABOUTME: One physical WebSocket connection: state machine, serialized writes
// ABOUTME: Connections are ephemeral; the session they attach to survives them

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hirecj/chat-gateway/internal/identity"
)

// ErrConnClosed indicates a write was attempted on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// State is the lifecycle state of one physical connection.
type State int

// Connection lifecycle states
const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WriteFunc sends one encoded frame over the transport.
type WriteFunc func(ctx context.Context, data []byte) error

// Conn represents one physical client connection. A Conn is owned by
// the goroutine running its read loop; Send is safe to call from
// watcher goroutines as well.
type Conn struct {
	AttemptID      string
	ConversationID string

	mu    sync.Mutex
	state State
	ident *identity.Identity

	writeMu sync.Mutex
	write   WriteFunc

	logger *slog.Logger
}

func newConn(conversationID string, ident *identity.Identity, write WriteFunc, logger *slog.Logger) *Conn {
	attemptID := uuid.New().String()
	return &Conn{
		AttemptID:      attemptID,
		ConversationID: conversationID,
		state:          StateConnecting,
		ident:          ident,
		write:          write,
		logger: logger.With(
			"conversation_id", conversationID,
			"attempt_id", attemptID),
	}
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Identity returns the identity resolved for this connection, nil for
// anonymous.
func (c *Conn) Identity() *identity.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ident
}

// SetIdentity replaces the connection's identity. Used when an OAuth
// completion upgrades an anonymous connection, and on logout.
func (c *Conn) SetIdentity(ident *identity.Identity) {
	c.mu.Lock()
	c.ident = ident
	c.mu.Unlock()
}

// Send marshals a frame and writes it to the client. Returns
// ErrConnClosed once the connection has left the active states.
func (c *Conn) Send(ctx context.Context, frame any) error {
	if s := c.State(); s == StateClosing || s == StateClosed {
		return ErrConnClosed
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.write(ctx, data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// trySend sends a frame and logs failures instead of returning them.
// Used on paths where a write failure must not abort the caller.
func (c *Conn) trySend(ctx context.Context, frame any) {
	if err := c.Send(ctx, frame); err != nil && !errors.Is(err, ErrConnClosed) {
		c.logger.Debug("frame send failed", "error", err)
	}
}
