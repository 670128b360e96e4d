// ABOUTME: OpenAI-backed response generator plus the fact-extraction and
// ABOUTME: fact-checking completions used by the background workers.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/hirecj/chat-gateway/internal/session"
	"github.com/hirecj/chat-gateway/internal/store"
)

// OpenAIGenerator streams completions from an OpenAI-compatible endpoint.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIGenerator creates a generator against the given API key and model.
// baseURL may be empty to use the default endpoint.
func NewOpenAIGenerator(apiKey, baseURL, model string, logger *slog.Logger) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.With("component", "openai_generator"),
	}
}

// Generate streams a reply to the newest user message in req.Messages.
func (g *OpenAIGenerator) Generate(ctx context.Context, req *Request) (<-chan *Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("generate: empty message context")
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: chatMessages(req.SystemPrompt, req.Messages),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("create completion stream: %w", err)
	}

	ch := make(chan *Response, 16)
	go func() {
		defer close(ch)
		defer stream.Close()

		ch <- &Response{Event: EventThinking, Text: "Thinking..."}

		var full strings.Builder
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				g.logger.Error("stream recv failed", "conversation_id", req.ConversationID, "error", err)
				ch <- &Response{Event: EventError, Error: err.Error()}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			full.WriteString(delta)
			select {
			case ch <- &Response{Event: EventText, Text: delta}:
			case <-ctx.Done():
				return
			}
		}

		ch <- &Response{Event: EventDone, Text: full.String(), Done: true}
	}()

	return ch, nil
}

// ExtractFacts asks the model for durable merchant facts stated in the
// given conversation slice. Satisfies background.ExtractFunc.
func (g *OpenAIGenerator) ExtractFacts(ctx context.Context, messages []session.Message) ([]string, error) {
	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Sender, m.Content)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("extract facts: empty completion")
	}

	var facts []string
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &facts); err != nil {
		return nil, fmt.Errorf("extract facts: parse response: %w", err)
	}
	return facts, nil
}

// CheckFact asks the model to verify the claims in one agent message
// against the preceding conversation. Satisfies background.CheckFunc.
func (g *OpenAIGenerator) CheckFact(ctx context.Context, history []session.Message, target session.Message) (string, error) {
	var transcript strings.Builder
	for _, m := range history {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Sender, m.Content)
	}
	fmt.Fprintf(&transcript, "\nMessage under review:\n%s\n", target.Content)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: checkSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("check fact: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("check fact: empty completion")
	}

	content := resp.Choices[0].Message.Content
	if !json.Valid([]byte(content)) {
		return "", fmt.Errorf("check fact: model returned non-JSON result")
	}
	return content, nil
}

func chatMessages(systemPrompt string, msgs []session.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		switch m.Sender {
		case store.SenderAgent:
			role = openai.ChatMessageRoleAssistant
		case store.SenderSystem:
			role = openai.ChatMessageRoleSystem
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

const extractSystemPrompt = `You extract durable facts about a merchant from a support conversation.
Return a JSON array of short declarative statements, one per fact.
Only include facts the merchant stated about their business, store, or preferences.
Return [] if the conversation contains no such facts.`

const checkSystemPrompt = `You verify claims made by a support assistant.
Given a conversation and one assistant message under review, return a JSON object:
{"verdict": "verified"|"unverified"|"incorrect", "claims": [{"claim": "...", "verdict": "...", "note": "..."}]}
Base verdicts only on information present in the conversation.`
