// ABOUTME: Deterministic in-process generator used by tests and the "fake"
// ABOUTME: provider so the service runs without an upstream model.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hirecj/chat-gateway/internal/session"
	"github.com/hirecj/chat-gateway/internal/store"
)

// FakeGenerator produces canned responses without network access. Responses
// are a function of the input, so tests can assert on exact output.
type FakeGenerator struct {
	// Script, when non-nil, overrides reply generation entirely.
	Script func(req *Request) *Result
}

// NewFakeGenerator returns a generator with default echo behavior.
func NewFakeGenerator() *FakeGenerator {
	return &FakeGenerator{}
}

// Generate emits a thinking event, one tool event, and an echo reply.
func (g *FakeGenerator) Generate(ctx context.Context, req *Request) (<-chan *Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("generate: empty message context")
	}

	var res *Result
	if g.Script != nil {
		res = g.Script(req)
	} else {
		last := req.Messages[len(req.Messages)-1]
		res = &Result{
			Text:          fmt.Sprintf("You said: %s", last.Content),
			ThinkingTrace: "Considering the request",
			ToolsCalled:   []string{"echo"},
		}
	}

	ch := make(chan *Response, 8)
	go func() {
		defer close(ch)
		send := func(r *Response) bool {
			select {
			case ch <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if res.Err != "" {
			send(&Response{Event: EventError, Error: res.Err})
			return
		}
		if res.ThinkingTrace != "" && !send(&Response{Event: EventThinking, Text: res.ThinkingTrace}) {
			return
		}
		for _, tool := range res.ToolsCalled {
			if !send(&Response{Event: EventToolUse, ToolCall: &ToolCallEvent{Name: tool}}) {
				return
			}
		}
		if !send(&Response{Event: EventText, Text: res.Text}) {
			return
		}
		send(&Response{Event: EventDone, Text: res.Text, UIElements: res.UIElements, Done: true})
	}()

	return ch, nil
}

// ExtractFacts pulls sentences that read like first-person statements
// about the merchant's business. Satisfies background.ExtractFunc.
func (g *FakeGenerator) ExtractFacts(_ context.Context, messages []session.Message) ([]string, error) {
	var facts []string
	for _, m := range messages {
		if m.Sender != store.SenderUser {
			continue
		}
		lower := strings.ToLower(m.Content)
		for _, prefix := range []string{"i sell ", "my store ", "we ship ", "my shop "} {
			if strings.HasPrefix(lower, prefix) {
				facts = append(facts, strings.TrimSpace(m.Content))
				break
			}
		}
	}
	return facts, nil
}

// CheckFact returns an "unverified" verdict for every message.
// Satisfies background.CheckFunc.
func (g *FakeGenerator) CheckFact(_ context.Context, _ []session.Message, target session.Message) (string, error) {
	result := map[string]any{
		"verdict": "unverified",
		"claims": []map[string]string{
			{"claim": target.Content, "verdict": "unverified", "note": "no ground truth available"},
		},
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
