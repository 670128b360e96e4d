// ABOUTME: Dispatches decoded inbound frames to their handlers
// ABOUTME: One handler per frame kind; handlers run in frame arrival order

package gateway

import (
	"context"

	"github.com/hirecj/chat-gateway/internal/protocol"
)

// route dispatches one decoded frame. Called from the read loop, so
// handlers for successive frames never overlap.
func (m *ConnManager) route(ctx context.Context, c *Conn, frame protocol.Frame) {
	switch f := frame.(type) {
	case *protocol.StartConversation:
		m.handleStartConversation(ctx, c, f)
	case *protocol.UserMessage:
		m.handleUserMessage(ctx, c, f)
	case *protocol.EndConversation:
		m.handleEndConversation(ctx, c)
	case *protocol.FactCheck:
		m.handleFactCheck(ctx, c, f)
	case *protocol.DebugRequest:
		m.handleDebugRequest(ctx, c, f)
	case *protocol.WorkflowTransition:
		m.handleWorkflowTransition(ctx, c, f)
	case *protocol.Ping:
		c.trySend(ctx, protocol.NewPong())
	case *protocol.Logout:
		m.handleLogout(ctx, c)
	case *protocol.OAuthComplete:
		m.handleOAuthComplete(ctx, c, f)
	case *protocol.SystemEvent:
		m.handleSystemEvent(ctx, c, f)
	default:
		c.trySend(ctx, protocol.NewError("unsupported frame"))
	}
}
