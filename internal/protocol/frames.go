// ABOUTME: Inbound WebSocket frame types and decoding for the chat protocol
// ABOUTME: Frames are JSON objects discriminated by a "type" field; the set is closed

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Protocol errors
var (
	ErrMalformed    = errors.New("malformed frame")
	ErrUnknownType  = errors.New("unknown frame type")
	ErrEmptyText    = errors.New("message text must not be empty")
	ErrTextTooLong  = errors.New("message text exceeds length ceiling")
	ErrInvalidIndex = errors.New("message index must be non-negative")
)

// MaxMessageRunes is the ceiling on user message length.
const MaxMessageRunes = 4000

// Inbound frame type tags
const (
	TypeStartConversation  = "start_conversation"
	TypeMessage            = "message"
	TypeEndConversation    = "end_conversation"
	TypeFactCheck          = "fact_check"
	TypeDebugRequest       = "debug_request"
	TypeWorkflowTransition = "workflow_transition"
	TypePing               = "ping"
	TypeLogout             = "logout"
	TypeOAuthComplete      = "oauth_complete"
	TypeSystemEvent        = "system_event"
)

// Frame is one decoded inbound frame. Exactly one concrete type exists
// per tag; the router dispatches on the concrete type.
type Frame interface {
	frameType() string
}

// StartConversation opens or resumes a conversation.
type StartConversation struct {
	Workflow string `json:"workflow,omitempty"`
	Scenario string `json:"scenario,omitempty"`
	Merchant string `json:"merchant,omitempty"`
}

// UserMessage is one user-authored turn.
type UserMessage struct {
	Text string `json:"text"`
}

// EndConversation closes the conversation explicitly.
type EndConversation struct{}

// FactCheck requests verification of one agent message.
type FactCheck struct {
	MessageIndex int  `json:"messageIndex"`
	ForceRefresh bool `json:"forceRefresh,omitempty"`
}

// DebugRequest asks for operator-facing session internals. The wire
// payload names the snapshot kind in its own "type" field, so decoding
// is handled specially in Decode.
type DebugRequest struct {
	Kind string
}

// WorkflowTransition requests an explicit workflow change.
type WorkflowTransition struct {
	NewWorkflow   string `json:"new_workflow"`
	UserInitiated bool   `json:"user_initiated,omitempty"`
}

// Ping is a client-initiated liveness probe.
type Ping struct{}

// Logout ends the session and clears identity.
type Logout struct{}

// OAuthComplete reports a finished external authentication flow.
type OAuthComplete struct {
	Provider string `json:"provider,omitempty"`
	Shop     string `json:"shop,omitempty"`
	IsNew    bool   `json:"is_new,omitempty"`
}

// SystemEvent triggers a machine-authored turn.
type SystemEvent struct {
	Event string `json:"event,omitempty"`
	Text  string `json:"text,omitempty"`
}

func (StartConversation) frameType() string  { return TypeStartConversation }
func (UserMessage) frameType() string        { return TypeMessage }
func (EndConversation) frameType() string    { return TypeEndConversation }
func (FactCheck) frameType() string          { return TypeFactCheck }
func (DebugRequest) frameType() string       { return TypeDebugRequest }
func (WorkflowTransition) frameType() string { return TypeWorkflowTransition }
func (Ping) frameType() string               { return TypePing }
func (Logout) frameType() string             { return TypeLogout }
func (OAuthComplete) frameType() string      { return TypeOAuthComplete }
func (SystemEvent) frameType() string        { return TypeSystemEvent }

// envelope carries the discriminator plus the raw payload.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// debugPayload is the debug_request body; its "type" field names the
// requested snapshot kind, not the frame kind.
type debugPayload struct {
	Kind string `json:"type"`
}

// Decode parses a raw inbound frame and validates its payload.
//
// The payload may appear either nested under "data" or inline beside
// "type"; both shapes are accepted. Malformed JSON returns
// ErrMalformed; an unrecognized tag returns ErrUnknownType. Payload
// constraint violations (empty text, length ceiling, negative index)
// are reported before any domain logic runs.
func Decode(raw []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type field", ErrMalformed)
	}

	// Inline payloads sit beside "type"; nested ones under "data".
	payload := []byte(env.Data)
	if len(payload) == 0 {
		payload = raw
	}

	switch env.Type {
	case TypeStartConversation:
		var f StartConversation
		if err := unmarshalPayload(payload, &f); err != nil {
			return nil, err
		}
		return &f, nil

	case TypeMessage:
		var f UserMessage
		if err := unmarshalPayload(payload, &f); err != nil {
			return nil, err
		}
		if f.Text == "" {
			return nil, ErrEmptyText
		}
		if utf8.RuneCountInString(f.Text) > MaxMessageRunes {
			return nil, ErrTextTooLong
		}
		return &f, nil

	case TypeEndConversation:
		return &EndConversation{}, nil

	case TypeFactCheck:
		var f FactCheck
		if err := unmarshalPayload(payload, &f); err != nil {
			return nil, err
		}
		if f.MessageIndex < 0 {
			return nil, ErrInvalidIndex
		}
		return &f, nil

	case TypeDebugRequest:
		var p debugPayload
		// When inline, the payload "type" collides with the frame tag;
		// look in "data" first, fall back to a secondary key.
		if len(env.Data) > 0 {
			if err := unmarshalPayload(env.Data, &p); err != nil {
				return nil, err
			}
		} else {
			var alt struct {
				Kind string `json:"debug_type"`
			}
			if err := unmarshalPayload(payload, &alt); err != nil {
				return nil, err
			}
			p.Kind = alt.Kind
		}
		if p.Kind == "" {
			p.Kind = "snapshot"
		}
		return &DebugRequest{Kind: p.Kind}, nil

	case TypeWorkflowTransition:
		var f WorkflowTransition
		if err := unmarshalPayload(payload, &f); err != nil {
			return nil, err
		}
		if f.NewWorkflow == "" {
			return nil, fmt.Errorf("%w: new_workflow is required", ErrMalformed)
		}
		return &f, nil

	case TypePing:
		return &Ping{}, nil

	case TypeLogout:
		return &Logout{}, nil

	case TypeOAuthComplete:
		var f OAuthComplete
		if err := unmarshalPayload(payload, &f); err != nil {
			return nil, err
		}
		return &f, nil

	case TypeSystemEvent:
		var f SystemEvent
		if err := unmarshalPayload(payload, &f); err != nil {
			return nil, err
		}
		return &f, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func unmarshalPayload(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
