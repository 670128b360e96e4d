// ABOUTME: Frame handlers: conversation lifecycle, turns, fact checks, workflow
// ABOUTME: changes, debug snapshots, and identity events

package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hirecj/chat-gateway/internal/agent"
	"github.com/hirecj/chat-gateway/internal/background"
	"github.com/hirecj/chat-gateway/internal/identity"
	"github.com/hirecj/chat-gateway/internal/progress"
	"github.com/hirecj/chat-gateway/internal/protocol"
	"github.com/hirecj/chat-gateway/internal/session"
	"github.com/hirecj/chat-gateway/internal/store"
	"github.com/hirecj/chat-gateway/internal/workflow"
)

func (m *ConnManager) handleStartConversation(ctx context.Context, c *Conn, f *protocol.StartConversation) {
	requested := f.Workflow
	if requested == "" {
		requested = m.opts.DefaultWorkflow
	}
	if _, ok := m.machine.Catalog().Lookup(requested); !ok {
		c.trySend(ctx, protocol.NewError("unknown workflow: "+requested))
		return
	}

	sess, resumed, err := m.sessions.Create(ctx, c.ConversationID, session.CreateParams{
		UserID:        userIDOf(c.Identity()),
		Workflow:      requested,
		ContextWindow: m.opts.ContextWindow,
	})
	if err != nil {
		c.trySend(ctx, protocol.NewError("could not start conversation"))
		c.logger.Error("session create failed", "error", err)
		return
	}

	authenticated := c.Identity() != nil && c.Identity().Verified
	if meta := sess.OAuth(); meta != nil && meta.CompletedWithin(m.opts.OAuthRecencyWindow) {
		authenticated = true
	}

	// A resumed session keeps its workflow; a fresh one resolves the
	// start target (including the already-authenticated fallback). A
	// resumed session that never bound a workflow resolves too, so a
	// pre-warmed conversation cannot run without a definition.
	workflowName := sess.Workflow().Current
	var startDef *workflow.Definition
	usedFallback := false
	if !resumed || workflowName == "" {
		def, fellBack, err := m.machine.ResolveStart(requested, authenticated)
		if err != nil {
			c.trySend(ctx, protocol.NewError("unknown workflow: "+requested))
			return
		}
		startDef = def
		usedFallback = fellBack
		if def.Name != workflowName {
			reason := "requested"
			if fellBack {
				reason = "already_authenticated"
			}
			m.sessions.UpdateWorkflow(c.ConversationID, def.Name, reason)
			workflowName = def.Name
		}
	}

	m.sessions.AttachConn(c.ConversationID, c.AttemptID)
	m.progress.Attach(c.ConversationID, c.AttemptID, func(ev progress.Event) {
		c.trySend(context.Background(),
			protocol.NewCJThinking(ev.Status, ev.Elapsed, ev.ToolsCalled, ev.CurrentTool))
	})

	var history []protocol.HistoryMessage
	if resumed {
		for _, msg := range sess.Messages() {
			history = append(history, protocol.HistoryMessage{
				Sender:    msg.Sender,
				Content:   msg.Content,
				Timestamp: msg.Timestamp,
			})
		}
	}
	c.trySend(ctx, protocol.NewConversationStarted(c.ConversationID, workflowName, resumed, history))

	c.logger.Info("conversation started",
		"workflow", workflowName,
		"resumed", resumed,
		"fallback", usedFallback,
		"scenario", f.Scenario,
		"merchant", f.Merchant)

	// The fallback path skips the requested workflow's initial action
	// entirely; the fallback workflow's own action does not fire on
	// start either, matching an in-place arrival.
	if !resumed && !usedFallback && startDef.InitialAction != "" {
		m.runTurn(ctx, c, sess, store.SenderSystem, startDef.InitialAction, false)
	}
}

func (m *ConnManager) handleUserMessage(ctx context.Context, c *Conn, f *protocol.UserMessage) {
	sess, ok := m.sessions.Get(c.ConversationID)
	if !ok {
		c.trySend(ctx, protocol.NewError("no active conversation; send start_conversation first"))
		return
	}
	m.runTurn(ctx, c, sess, store.SenderUser, f.Text, true)
}

// runTurn appends the inbound message, streams one generation, and
// delivers the agent reply. It blocks until the turn finishes so frame
// ordering holds; progress flows out via the reporter meanwhile.
func (m *ConnManager) runTurn(ctx context.Context, c *Conn, sess *session.Session, sender, text string, extract bool) {
	start := time.Now()
	sess.AppendMessage(sender, text, "")
	sess.Debug().AddPrompt(text)
	m.progress.Report(sess.ID, progress.Event{Status: "thinking"})

	var systemPrompt string
	if def, ok := m.machine.Catalog().Lookup(sess.Workflow().Current); ok {
		systemPrompt = def.SystemPrompt
	}

	ch, err := m.generator.Generate(ctx, &agent.Request{
		ConversationID: sess.ID,
		Workflow:       sess.Workflow().Current,
		SystemPrompt:   systemPrompt,
		Messages:       sess.ContextWindow(),
	})
	if err != nil {
		sess.RecordError()
		c.trySend(ctx, protocol.NewError("agent unavailable"))
		c.logger.Error("generation failed to start", "error", err)
		return
	}

	var (
		final       string
		thinking    strings.Builder
		uiElements  []protocol.UIElement
		toolsCalled int
		errText     string
	)
loop:
	for {
		select {
		case <-ctx.Done():
			return
		case resp, open := <-ch:
			if !open {
				break loop
			}
			switch resp.Event {
			case agent.EventThinking:
				if thinking.Len() > 0 {
					thinking.WriteByte('\n')
				}
				thinking.WriteString(resp.Text)
				m.progress.Report(sess.ID, progress.Event{
					Status:      resp.Text,
					Elapsed:     time.Since(start),
					ToolsCalled: toolsCalled,
				})
			case agent.EventToolUse:
				if resp.ToolCall == nil {
					continue
				}
				toolsCalled++
				sess.Debug().AddToolCall(resp.ToolCall.Name)
				m.progress.Report(sess.ID, progress.Event{
					Status:      "using tool",
					Elapsed:     time.Since(start),
					ToolsCalled: toolsCalled,
					CurrentTool: resp.ToolCall.Name,
				})
			case agent.EventText:
				// Partial text; the final EventDone carries the whole reply.
			case agent.EventDone:
				final = resp.Text
				uiElements = resp.UIElements
			case agent.EventError:
				errText = resp.Error
			}
		}
	}

	if errText != "" {
		sess.RecordError()
		c.trySend(ctx, protocol.NewError(errText))
		c.logger.Warn("turn failed", "error", errText)
		return
	}

	sess.AppendMessage(store.SenderAgent, final, thinking.String())
	sess.Debug().AddResponse(final)
	sess.RecordTurn(time.Since(start))

	response := protocol.PlainText(final)
	if len(uiElements) > 0 {
		response = protocol.WithUIElements(final, uiElements)
	}
	c.trySend(ctx, protocol.NewCJMessage(response))

	if extract && m.extractor != nil {
		m.extractor.Spawn(sess)
	}
}

func (m *ConnManager) handleEndConversation(ctx context.Context, c *Conn) {
	sess, ok := m.sessions.Get(c.ConversationID)
	if !ok {
		c.trySend(ctx, protocol.NewError("no active conversation"))
		return
	}

	if m.extractor != nil {
		m.extractor.Spawn(sess)
	}
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.sessions.Persist(persistCtx, sess); err != nil {
		c.logger.Error("persisting session on end failed", "error", err)
	}
	m.sessions.Remove(c.ConversationID)
	m.progress.Detach(c.ConversationID, c.AttemptID)

	c.trySend(ctx, protocol.NewSystem("conversation ended"))
}

func (m *ConnManager) handleFactCheck(ctx context.Context, c *Conn, f *protocol.FactCheck) {
	sess, ok := m.sessions.Get(c.ConversationID)
	if !ok {
		c.trySend(ctx, protocol.NewError("no active conversation"))
		return
	}

	outcome, err := m.checker.Request(sess, f.MessageIndex, f.ForceRefresh)
	if err != nil {
		if errors.Is(err, background.ErrNotAvailable) {
			c.trySend(ctx, protocol.NewError("message not available for fact checking"))
		} else {
			c.trySend(ctx, protocol.NewError("fact check failed to start"))
			c.logger.Error("fact check request failed", "error", err)
		}
		return
	}

	c.trySend(ctx, protocol.NewFactCheckStarted(f.MessageIndex))
	c.logger.Debug("fact check requested",
		"message_index", f.MessageIndex,
		"force_refresh", f.ForceRefresh,
		"in_flight", outcome.InFlight)

	// The watcher delivers the result when it lands. Disconnecting
	// cancels delivery only; the job itself keeps running and its
	// result stays retrievable.
	go m.watchFactCheck(ctx, c, f.MessageIndex)
}

func (m *ConnManager) watchFactCheck(ctx context.Context, c *Conn, messageIndex int) {
	result, err := m.checker.Await(ctx, c.ConversationID, messageIndex, m.opts.PollInterval, m.opts.PollTimeout)
	if err != nil {
		if errors.Is(err, background.ErrPollTimeout) {
			c.trySend(ctx, protocol.NewFactCheckError(messageIndex, "fact check timed out"))
		}
		return
	}

	switch result.Status {
	case store.FactCheckStatusComplete:
		c.trySend(ctx, protocol.NewFactCheckComplete(messageIndex, result.ResultJSON))
	default:
		c.trySend(ctx, protocol.NewFactCheckError(messageIndex, result.ResultJSON))
	}
}

func (m *ConnManager) handleDebugRequest(ctx context.Context, c *Conn, f *protocol.DebugRequest) {
	sess, ok := m.sessions.Get(c.ConversationID)
	if !ok {
		c.trySend(ctx, protocol.NewError("no active conversation"))
		return
	}

	var data any
	switch f.Kind {
	case "snapshot":
		wf := sess.Workflow()
		data = map[string]any{
			"conversationId": sess.ID,
			"userId":         sess.Identity(),
			"workflow":       wf.Current,
			"previous":       wf.Previous,
			"messageCount":   sess.MessageCount(),
			"connected":      m.sessions.ConnAttempt(sess.ID) != "",
		}
	case "metrics":
		met := sess.Metrics()
		data = map[string]any{
			"messagesProcessed":   met.MessagesProcessed,
			"errors":              met.Errors,
			"totalResponseTimeMs": met.TotalResponseTime.Milliseconds(),
		}
	case "prompts":
		data = sess.Debug().Prompts()
	case "responses":
		data = sess.Debug().Responses()
	case "tools":
		data = sess.Debug().ToolCalls()
	default:
		c.trySend(ctx, protocol.NewError("unknown debug type: "+f.Kind))
		return
	}

	c.trySend(ctx, protocol.NewDebugResponse(f.Kind, data))
}

func (m *ConnManager) handleWorkflowTransition(ctx context.Context, c *Conn, f *protocol.WorkflowTransition) {
	reason := "system"
	if f.UserInitiated {
		reason = "user_initiated"
	}

	res, err := m.machine.Transition(c.ConversationID, f.NewWorkflow, reason)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrUnknownWorkflow):
			c.trySend(ctx, protocol.NewError("unknown workflow: "+f.NewWorkflow))
		case errors.Is(err, workflow.ErrNoSession):
			c.trySend(ctx, protocol.NewError("no active conversation"))
		default:
			c.trySend(ctx, protocol.NewError("workflow transition failed"))
			c.logger.Error("workflow transition failed", "error", err)
		}
		return
	}

	// Acknowledge before any arrival turns, no-op included.
	ackMsg := ""
	if res.NoOp {
		ackMsg = "Already in requested workflow"
	}
	c.trySend(ctx, protocol.NewWorkflowTransitionComplete(res.Workflow, ackMsg))
	if res.NoOp {
		return
	}

	c.trySend(ctx, protocol.NewWorkflowUpdated(res.Workflow, res.Previous))
	c.logger.Info("workflow transitioned",
		"workflow", res.Workflow,
		"previous", res.Previous,
		"reason", reason)

	if sess, ok := m.sessions.Get(c.ConversationID); ok && res.Definition.InitialAction != "" {
		m.runTurn(ctx, c, sess, store.SenderSystem, res.Definition.InitialAction, false)
	}
}

func (m *ConnManager) handleLogout(ctx context.Context, c *Conn) {
	if sess, ok := m.sessions.Get(c.ConversationID); ok {
		persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.sessions.Persist(persistCtx, sess); err != nil {
			c.logger.Error("persisting session on logout failed", "error", err)
		}
		cancel()
		m.sessions.Remove(c.ConversationID)
	}
	m.progress.Detach(c.ConversationID, c.AttemptID)
	c.SetIdentity(nil)

	c.trySend(ctx, protocol.NewLogoutComplete())
	c.logger.Info("logged out")
}

func (m *ConnManager) handleOAuthComplete(ctx context.Context, c *Conn, f *protocol.OAuthComplete) {
	sess, ok := m.sessions.Get(c.ConversationID)
	if !ok {
		c.trySend(ctx, protocol.NewError("no active conversation"))
		return
	}

	meta := &identity.OAuthMetadata{
		Provider:    f.Provider,
		Shop:        f.Shop,
		CompletedAt: time.Now(),
		IsNew:       f.IsNew,
	}
	sess.SetOAuth(meta)
	if f.Shop != "" {
		sess.SetUserID(f.Shop)
		c.SetIdentity(&identity.Identity{UserID: f.Shop, Verified: true})
	}

	c.logger.Info("oauth completed",
		"provider", f.Provider,
		"shop", f.Shop,
		"is_new", f.IsNew)

	// A freshly authenticated session jumps to the current workflow's
	// declared fallback, when one exists.
	if def, ok := m.machine.Catalog().Lookup(sess.Workflow().Current); ok &&
		!def.RequiresAuth && def.AuthFallback != "" &&
		meta.CompletedWithin(m.opts.OAuthRecencyWindow) {
		if res, err := m.machine.Transition(c.ConversationID, def.AuthFallback, "oauth_complete"); err == nil && !res.NoOp {
			c.trySend(ctx, protocol.NewWorkflowUpdated(res.Workflow, res.Previous))
		}
	}

	c.trySend(ctx, protocol.NewSystem("authentication complete"))
}

func (m *ConnManager) handleSystemEvent(ctx context.Context, c *Conn, f *protocol.SystemEvent) {
	sess, ok := m.sessions.Get(c.ConversationID)
	if !ok {
		c.trySend(ctx, protocol.NewError("no active conversation"))
		return
	}

	text := f.Text
	if text == "" {
		text = f.Event
	}
	if text == "" {
		c.trySend(ctx, protocol.NewError("system_event requires event or text"))
		return
	}

	m.runTurn(ctx, c, sess, store.SenderSystem, text, false)
}
