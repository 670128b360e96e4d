// ABOUTME: Defines the response-generator contract and the streaming event types
// ABOUTME: that connection handlers consume while a turn is in flight.

package agent

import (
	"context"

	"github.com/hirecj/chat-gateway/internal/protocol"
	"github.com/hirecj/chat-gateway/internal/session"
)

// Request carries everything a generator needs to produce a reply to
// the newest user message in a conversation.
type Request struct {
	ConversationID string
	Workflow       string
	SystemPrompt   string
	// Messages is the recent conversation slice, oldest first. The final
	// entry is the user message being answered.
	Messages []session.Message
}

// Response represents one streaming event from a generator.
type Response struct {
	Event      ResponseEvent
	Text       string
	ToolCall   *ToolCallEvent
	UIElements []protocol.UIElement
	Error      string
	Done       bool
}

// ResponseEvent indicates the type of response event.
type ResponseEvent int

const (
	EventThinking ResponseEvent = iota
	EventToolUse
	EventText
	EventDone
	EventError
)

// ToolCallEvent represents a tool invocation during generation.
type ToolCallEvent struct {
	Name      string
	InputJSON string
}

// ResponseGenerator produces a stream of response events for a turn.
// The returned channel is closed after a terminal event (EventDone or
// EventError) has been sent. Cancelling ctx abandons generation; the
// generator closes the channel without a terminal event in that case.
type ResponseGenerator interface {
	Generate(ctx context.Context, req *Request) (<-chan *Response, error)
}

// Result is the fully accumulated outcome of one generation stream.
// Consumers that stream (the gateway's turn loop) fold events as they
// arrive; Result exists for callers that script or inspect whole turns.
type Result struct {
	Text          string
	ThinkingTrace string
	UIElements    []protocol.UIElement
	ToolsCalled   []string
	Err           string
}
