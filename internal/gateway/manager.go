// ABOUTME: Accepts WebSocket upgrades and runs each connection's lifecycle:
// ABOUTME: identity resolution, heartbeat, in-order frame loop, disconnect flush

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/hirecj/chat-gateway/internal/agent"
	"github.com/hirecj/chat-gateway/internal/background"
	"github.com/hirecj/chat-gateway/internal/identity"
	"github.com/hirecj/chat-gateway/internal/progress"
	"github.com/hirecj/chat-gateway/internal/protocol"
	"github.com/hirecj/chat-gateway/internal/session"
	"github.com/hirecj/chat-gateway/internal/workflow"
)

// Options configures connection handling.
type Options struct {
	// AllowedOrigin restricts upgrades to one origin; empty or "*"
	// accepts any.
	AllowedOrigin string
	// DefaultWorkflow is used when start_conversation names none.
	DefaultWorkflow string
	ContextWindow   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Fact-check result polling.
	PollInterval time.Duration
	PollTimeout  time.Duration

	// OAuthRecencyWindow bounds how recent an OAuth completion must be
	// for the already-authenticated auto-transition to apply.
	OAuthRecencyWindow time.Duration
}

func (o *Options) applyDefaults() {
	if o.DefaultWorkflow == "" {
		o.DefaultWorkflow = "support"
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 30 * time.Second
	}
	if o.OAuthRecencyWindow <= 0 {
		o.OAuthRecencyWindow = 5 * time.Minute
	}
}

// ConnManager owns every live connection and wires frames to handlers.
type ConnManager struct {
	sessions  *session.Manager
	machine   *workflow.Machine
	generator agent.ResponseGenerator
	checker   *background.FactChecker
	extractor *background.Extractor
	progress  *progress.Reporter
	idp       identity.Provider
	opts      Options
	logger    *slog.Logger
}

// NewConnManager creates a ConnManager. Pass nil logger for default.
func NewConnManager(
	sessions *session.Manager,
	machine *workflow.Machine,
	generator agent.ResponseGenerator,
	checker *background.FactChecker,
	extractor *background.Extractor,
	reporter *progress.Reporter,
	idp identity.Provider,
	opts Options,
	logger *slog.Logger,
) *ConnManager {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &ConnManager{
		sessions:  sessions,
		machine:   machine,
		generator: generator,
		checker:   checker,
		extractor: extractor,
		progress:  reporter,
		idp:       idp,
		opts:      opts,
		logger:    logger.With("component", "gateway"),
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs the
// connection until it closes.
func (m *ConnManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ident, err := m.idp.Resolve(r)
	if err != nil {
		m.logger.Warn("identity resolution failed", "error", err, "ip", r.RemoteAddr)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	// Clients resume by presenting a conversation id; without one the
	// connection gets a fresh conversation.
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	originPatterns := []string{"*"}
	if m.opts.AllowedOrigin != "" && m.opts.AllowedOrigin != "*" {
		originPatterns = []string{m.opts.AllowedOrigin}
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns,
	})
	if err != nil {
		m.logger.Error("websocket accept failed", "error", err, "ip", r.RemoteAddr)
		return
	}

	conn := newConn(conversationID, ident, func(ctx context.Context, data []byte) error {
		return ws.Write(ctx, websocket.MessageText, data)
	}, m.logger)
	defer func() {
		if err := ws.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
			conn.logger.Debug("websocket close failed", "error", err)
		}
	}()

	conn.logger.Info("connection opened",
		"user_id", userIDOf(ident),
		"ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.setState(StateActive)
	go m.heartbeat(ctx, cancel, ws, conn)

	m.readLoop(ctx, ws, conn)

	conn.setState(StateClosing)
	cancel()
	m.flush(conn)
	conn.setState(StateClosed)
	conn.logger.Info("connection closed")
}

// heartbeat pings the client at a fixed interval. A missed pong is
// fatal to the connection only; the session survives for resume.
func (m *ConnManager) heartbeat(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, m.opts.HeartbeatTimeout)
			err := ws.Ping(pingCtx)
			pingCancel()
			if err != nil {
				if ctx.Err() == nil {
					conn.logger.Warn("heartbeat failed, dropping connection", "error", err)
				}
				cancel()
				return
			}
		}
	}
}

// readLoop processes inbound frames strictly in order: a frame's
// handler runs to completion before the next frame is dispatched. A
// separate reader pump keeps a Read pending while handlers run, so
// control frames (the pong answering a heartbeat ping in particular)
// are still processed during a long turn. The channel preserves
// arrival order.
func (m *ConnManager) readLoop(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	frames := make(chan []byte, 16)

	go func() {
		defer close(frames)
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					conn.logger.Debug("read loop ended", "error", err)
				}
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			frame, err := protocol.Decode(data)
			if err != nil {
				// Protocol errors are reported; the connection stays open.
				conn.trySend(ctx, protocol.NewError(err.Error()))
				continue
			}
			m.route(ctx, conn, frame)
		}
	}
}

// flush runs the disconnect sequence: final fact extraction, session
// persistence, and detaching the connection. The session itself stays
// in the store for later resume.
func (m *ConnManager) flush(conn *Conn) {
	m.progress.Detach(conn.ConversationID, conn.AttemptID)

	sess, ok := m.sessions.Get(conn.ConversationID)
	if !ok {
		return
	}

	if m.extractor != nil {
		m.extractor.Spawn(sess)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.sessions.Persist(ctx, sess); err != nil {
		conn.logger.Error("persisting session on disconnect failed", "error", err)
	}
	m.sessions.DetachConn(conn.ConversationID, conn.AttemptID)
}

func userIDOf(ident *identity.Identity) string {
	if ident == nil {
		return ""
	}
	return ident.UserID
}
