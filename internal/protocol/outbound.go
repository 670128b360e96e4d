// ABOUTME: Outbound WebSocket frame types mirroring the inbound discriminated-union shape
// ABOUTME: Constructors stamp the type tag so handlers never build frames by hand

package protocol

import (
	"time"
)

// Outbound frame type tags
const (
	TypeConversationStarted        = "conversation_started"
	TypeCJMessage                  = "cj_message"
	TypeCJThinking                 = "cj_thinking"
	TypeFactCheckStarted           = "fact_check_started"
	TypeFactCheckComplete          = "fact_check_complete"
	TypeFactCheckError             = "fact_check_error"
	TypeWorkflowUpdated            = "workflow_updated"
	TypeWorkflowTransitionComplete = "workflow_transition_complete"
	TypePong                       = "pong"
	TypeError                      = "error"
	TypeSystem                     = "system"
	TypeLogoutComplete             = "logout_complete"
	TypeDebugResponse              = "debug_response"
)

// UIElement is an interactive element attached to an agent message.
type UIElement struct {
	Type   string `json:"type"`
	Label  string `json:"label,omitempty"`
	Action string `json:"action,omitempty"`
	URL    string `json:"url,omitempty"`
}

// AgentResponse is a tagged variant: plain text, or text with UI
// elements. UIElements nil means plain.
type AgentResponse struct {
	Content    string
	UIElements []UIElement
}

// PlainText builds a text-only agent response.
func PlainText(content string) AgentResponse {
	return AgentResponse{Content: content}
}

// WithUIElements builds an agent response carrying UI elements.
func WithUIElements(content string, elements []UIElement) AgentResponse {
	return AgentResponse{Content: content, UIElements: elements}
}

// HistoryMessage is one prior message replayed in conversation_started.
type HistoryMessage struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationStarted acknowledges start_conversation.
type ConversationStarted struct {
	Type           string           `json:"type"`
	ConversationID string           `json:"conversationId"`
	Workflow       string           `json:"workflow"`
	Resumed        bool             `json:"resumed"`
	MessageCount   int              `json:"messageCount"`
	Messages       []HistoryMessage `json:"messages,omitempty"`
}

// NewConversationStarted builds a conversation_started frame.
func NewConversationStarted(conversationID, workflow string, resumed bool, messages []HistoryMessage) *ConversationStarted {
	return &ConversationStarted{
		Type:           TypeConversationStarted,
		ConversationID: conversationID,
		Workflow:       workflow,
		Resumed:        resumed,
		MessageCount:   len(messages),
		Messages:       messages,
	}
}

// CJMessage delivers an agent response to the client.
type CJMessage struct {
	Type       string      `json:"type"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	UIElements []UIElement `json:"ui_elements,omitempty"`
}

// NewCJMessage builds a cj_message frame from an agent response.
func NewCJMessage(resp AgentResponse) *CJMessage {
	return &CJMessage{
		Type:       TypeCJMessage,
		Content:    resp.Content,
		Timestamp:  time.Now(),
		UIElements: resp.UIElements,
	}
}

// CJThinking streams intermediate progress while a turn is in flight.
type CJThinking struct {
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	Elapsed     float64 `json:"elapsed,omitempty"` // seconds
	ToolsCalled int     `json:"toolsCalled,omitempty"`
	CurrentTool string  `json:"currentTool,omitempty"`
}

// NewCJThinking builds a cj_thinking progress frame.
func NewCJThinking(status string, elapsed time.Duration, toolsCalled int, currentTool string) *CJThinking {
	return &CJThinking{
		Type:        TypeCJThinking,
		Status:      status,
		Elapsed:     elapsed.Seconds(),
		ToolsCalled: toolsCalled,
		CurrentTool: currentTool,
	}
}

// FactCheckStarted acknowledges a fact-check launch.
type FactCheckStarted struct {
	Type         string `json:"type"`
	MessageIndex int    `json:"messageIndex"`
}

// NewFactCheckStarted builds a fact_check_started frame.
func NewFactCheckStarted(messageIndex int) *FactCheckStarted {
	return &FactCheckStarted{Type: TypeFactCheckStarted, MessageIndex: messageIndex}
}

// FactCheckComplete delivers a finished fact-check result.
type FactCheckComplete struct {
	Type         string `json:"type"`
	MessageIndex int    `json:"messageIndex"`
	Result       string `json:"result"`
}

// NewFactCheckComplete builds a fact_check_complete frame.
func NewFactCheckComplete(messageIndex int, result string) *FactCheckComplete {
	return &FactCheckComplete{Type: TypeFactCheckComplete, MessageIndex: messageIndex, Result: result}
}

// FactCheckError reports a terminal fact-check failure.
type FactCheckError struct {
	Type         string `json:"type"`
	MessageIndex int    `json:"messageIndex"`
	Text         string `json:"text"`
}

// NewFactCheckError builds a fact_check_error frame.
func NewFactCheckError(messageIndex int, text string) *FactCheckError {
	return &FactCheckError{Type: TypeFactCheckError, MessageIndex: messageIndex, Text: text}
}

// WorkflowUpdated announces a completed workflow change.
type WorkflowUpdated struct {
	Type     string `json:"type"`
	Workflow string `json:"workflow"`
	Previous string `json:"previous"`
}

// NewWorkflowUpdated builds a workflow_updated frame.
func NewWorkflowUpdated(workflow, previous string) *WorkflowUpdated {
	return &WorkflowUpdated{Type: TypeWorkflowUpdated, Workflow: workflow, Previous: previous}
}

// WorkflowTransitionComplete acknowledges a workflow_transition request,
// including the idempotent same-workflow case.
type WorkflowTransitionComplete struct {
	Type     string `json:"type"`
	Workflow string `json:"workflow"`
	Message  string `json:"message,omitempty"`
}

// NewWorkflowTransitionComplete builds a workflow_transition_complete frame.
func NewWorkflowTransitionComplete(workflow, message string) *WorkflowTransitionComplete {
	return &WorkflowTransitionComplete{Type: TypeWorkflowTransitionComplete, Workflow: workflow, Message: message}
}

// Pong answers a client ping.
type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPong builds a pong frame.
func NewPong() *Pong {
	return &Pong{Type: TypePong, Timestamp: time.Now()}
}

// ErrorFrame reports a client-visible error. The connection stays open.
type ErrorFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewError builds an error frame.
func NewError(text string) *ErrorFrame {
	return &ErrorFrame{Type: TypeError, Text: text}
}

// SystemFrame carries informational system text.
type SystemFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewSystem builds a system frame.
func NewSystem(text string) *SystemFrame {
	return &SystemFrame{Type: TypeSystem, Text: text}
}

// LogoutComplete acknowledges logout.
type LogoutComplete struct {
	Type string `json:"type"`
}

// NewLogoutComplete builds a logout_complete frame.
func NewLogoutComplete() *LogoutComplete {
	return &LogoutComplete{Type: TypeLogoutComplete}
}

// DebugResponse returns operator-facing session internals.
type DebugResponse struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// NewDebugResponse builds a debug_response frame.
func NewDebugResponse(kind string, data any) *DebugResponse {
	return &DebugResponse{Type: TypeDebugResponse, Kind: kind, Data: data}
}
