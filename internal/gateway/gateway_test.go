// ABOUTME: Handler-level tests driving decoded frames through the router
// ABOUTME: with a captured transport, covering the protocol's testable behavior.

package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirecj/chat-gateway/internal/agent"
	"github.com/hirecj/chat-gateway/internal/background"
	"github.com/hirecj/chat-gateway/internal/identity"
	"github.com/hirecj/chat-gateway/internal/progress"
	"github.com/hirecj/chat-gateway/internal/protocol"
	"github.com/hirecj/chat-gateway/internal/session"
	"github.com/hirecj/chat-gateway/internal/store"
	"github.com/hirecj/chat-gateway/internal/workflow"
)

// frameLog records every frame written to a connection.
type frameLog struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (l *frameLog) write(_ context.Context, data []byte) error {
	var f map[string]any
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f)
	return nil
}

func (l *frameLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.frames))
	for i, f := range l.frames {
		out[i], _ = f["type"].(string)
	}
	return out
}

func (l *frameLog) byType(t string) []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []map[string]any
	for _, f := range l.frames {
		if f["type"] == t {
			out = append(out, f)
		}
	}
	return out
}

func (l *frameLog) first(t string) map[string]any {
	fs := l.byType(t)
	if len(fs) == 0 {
		return nil
	}
	return fs[0]
}

func testCatalog() workflow.Catalog {
	return &workflow.StaticCatalog{Defs: map[string]*workflow.Definition{
		"support": {
			Name:         "support",
			AuthFallback: "authenticated",
			SystemPrompt: "You are a support agent.",
		},
		"authenticated": {
			Name:         "authenticated",
			RequiresAuth: true,
			SystemPrompt: "The merchant is verified.",
		},
		"onboarding": {
			Name:          "onboarding",
			InitialAction: "Introduce yourself to the merchant",
			SystemPrompt:  "You onboard new merchants.",
		},
	}}
}

type testEnv struct {
	mgr      *ConnManager
	sessions *session.Manager
	st       *store.MockStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMockStore()
	sessions := session.NewManager(session.ManagerParams{Store: st})
	machine := workflow.NewMachine(testCatalog(), sessions, nil)
	coord := background.NewCoordinator(context.Background(), nil)
	gen := agent.NewFakeGenerator()
	checker := background.NewFactChecker(coord, st, gen.CheckFact, nil)
	extractor := background.NewExtractor(coord, st, gen.ExtractFacts, 0, nil)

	mgr := NewConnManager(sessions, machine, gen, checker, extractor,
		progress.NewReporter(nil), identity.AnonymousProvider{}, Options{
			DefaultWorkflow: "support",
			PollInterval:    10 * time.Millisecond,
			PollTimeout:     2 * time.Second,
		}, nil)
	return &testEnv{mgr: mgr, sessions: sessions, st: st}
}

func (e *testEnv) newConn(conversationID string, ident *identity.Identity) (*Conn, *frameLog) {
	log := &frameLog{}
	c := newConn(conversationID, ident, log.write, e.mgr.logger)
	c.setState(StateActive)
	return c, log
}

func TestStartConversationFresh(t *testing.T) {
	env := newTestEnv(t)
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(context.Background(), c, &protocol.StartConversation{Workflow: "support"})

	started := log.first(protocol.TypeConversationStarted)
	require.NotNil(t, started)
	assert.Equal(t, "conv-1", started["conversationId"])
	assert.Equal(t, "support", started["workflow"])
	assert.Equal(t, false, started["resumed"])
	assert.Equal(t, float64(0), started["messageCount"])
}

func TestStartConversationDefaultsWorkflow(t *testing.T) {
	env := newTestEnv(t)
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(context.Background(), c, &protocol.StartConversation{})

	started := log.first(protocol.TypeConversationStarted)
	require.NotNil(t, started)
	assert.Equal(t, "support", started["workflow"])
}

func TestStartConversationUnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(context.Background(), c, &protocol.StartConversation{Workflow: "nope"})

	assert.NotNil(t, log.first(protocol.TypeError))
	assert.Nil(t, log.first(protocol.TypeConversationStarted))
	_, ok := env.sessions.Get("conv-1")
	assert.False(t, ok)
}

func TestResumeReplaysHistoryAndReusesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c1, log1 := env.newConn("conv-1", nil)
	env.mgr.route(ctx, c1, &protocol.StartConversation{Workflow: "support"})
	env.mgr.route(ctx, c1, &protocol.UserMessage{Text: "hello"})
	require.NotNil(t, log1.first(protocol.TypeCJMessage))

	sess1, ok := env.sessions.Get("conv-1")
	require.True(t, ok)

	// A second connection attempt over the same conversation id.
	c2, log2 := env.newConn("conv-1", nil)
	env.mgr.route(ctx, c2, &protocol.StartConversation{Workflow: "support"})

	started := log2.first(protocol.TypeConversationStarted)
	require.NotNil(t, started)
	assert.Equal(t, true, started["resumed"])
	assert.Equal(t, float64(2), started["messageCount"])
	msgs, _ := started["messages"].([]any)
	require.Len(t, msgs, 2)

	sess2, ok := env.sessions.Get("conv-1")
	require.True(t, ok)
	assert.Same(t, sess1, sess2)
}

func TestMessageWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(context.Background(), c, &protocol.UserMessage{Text: "hello"})

	errFrame := log.first(protocol.TypeError)
	require.NotNil(t, errFrame)
	assert.Contains(t, errFrame["text"], "start_conversation")
}

func TestMessageTurnStreamsProgressThenReply(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})
	env.mgr.route(ctx, c, &protocol.UserMessage{Text: "hi"})

	reply := log.first(protocol.TypeCJMessage)
	require.NotNil(t, reply)
	assert.Equal(t, "You said: hi", reply["content"])

	// Progress streamed out before the final message.
	thinking := log.byType(protocol.TypeCJThinking)
	assert.NotEmpty(t, thinking)
	types := log.types()
	assert.Less(t,
		indexOf(types, protocol.TypeCJThinking),
		indexOf(types, protocol.TypeCJMessage))

	sess, ok := env.sessions.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, 2, sess.MessageCount())
	assert.Equal(t, 1, sess.Metrics().MessagesProcessed)
}

func indexOf(ss []string, want string) int {
	for i, s := range ss {
		if s == want {
			return i
		}
	}
	return -1
}

func TestTurnErrorReportedWithoutAppendingReply(t *testing.T) {
	env := newTestEnv(t)
	gen := agent.NewFakeGenerator()
	gen.Script = func(*agent.Request) *agent.Result {
		return &agent.Result{Err: "model exploded"}
	}
	env.mgr.generator = gen

	ctx := context.Background()
	c, log := env.newConn("conv-1", nil)
	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})
	env.mgr.route(ctx, c, &protocol.UserMessage{Text: "hi"})

	require.NotNil(t, log.first(protocol.TypeError))
	assert.Nil(t, log.first(protocol.TypeCJMessage))

	sess, _ := env.sessions.Get("conv-1")
	// The user turn is kept; no agent reply was appended.
	assert.Equal(t, 1, sess.MessageCount())
	assert.Equal(t, 1, sess.Metrics().Errors)
}

func TestFactCheckDeliversResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})
	env.mgr.route(ctx, c, &protocol.UserMessage{Text: "hi"})

	// Index 1 is the agent reply.
	env.mgr.route(ctx, c, &protocol.FactCheck{MessageIndex: 1})

	started := log.first(protocol.TypeFactCheckStarted)
	require.NotNil(t, started)
	assert.Equal(t, float64(1), started["messageIndex"])

	require.Eventually(t, func() bool {
		return log.first(protocol.TypeFactCheckComplete) != nil
	}, 2*time.Second, 10*time.Millisecond)

	complete := log.first(protocol.TypeFactCheckComplete)
	assert.Equal(t, float64(1), complete["messageIndex"])
	assert.Contains(t, complete["result"], "unverified")
}

func TestFactCheckRejectsInvalidTargets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, log := env.newConn("conv-1", nil)
	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})

	t.Run("empty conversation", func(t *testing.T) {
		env.mgr.route(ctx, c, &protocol.FactCheck{MessageIndex: 0})
		assert.NotNil(t, log.first(protocol.TypeError))
		assert.Nil(t, log.first(protocol.TypeFactCheckStarted))
	})

	t.Run("user-authored message", func(t *testing.T) {
		env.mgr.route(ctx, c, &protocol.UserMessage{Text: "hi"})
		env.mgr.route(ctx, c, &protocol.FactCheck{MessageIndex: 0})
		assert.Nil(t, log.first(protocol.TypeFactCheckStarted))
	})
}

func TestWorkflowTransitionAckPrecedesArrivalTurn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})
	env.mgr.route(ctx, c, &protocol.WorkflowTransition{NewWorkflow: "onboarding", UserInitiated: true})

	types := log.types()
	ackIdx := indexOf(types, protocol.TypeWorkflowTransitionComplete)
	updIdx := indexOf(types, protocol.TypeWorkflowUpdated)
	msgIdx := indexOf(types, protocol.TypeCJMessage)
	require.GreaterOrEqual(t, ackIdx, 0)
	require.GreaterOrEqual(t, updIdx, 0)
	require.GreaterOrEqual(t, msgIdx, 0)
	assert.Less(t, ackIdx, updIdx)
	assert.Less(t, updIdx, msgIdx)

	updated := log.first(protocol.TypeWorkflowUpdated)
	assert.Equal(t, "onboarding", updated["workflow"])
	assert.Equal(t, "support", updated["previous"])

	sess, _ := env.sessions.Get("conv-1")
	assert.Equal(t, "onboarding", sess.Workflow().Current)
}

func TestWorkflowTransitionNoOpStillAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})
	env.mgr.route(ctx, c, &protocol.WorkflowTransition{NewWorkflow: "support"})

	ack := log.first(protocol.TypeWorkflowTransitionComplete)
	require.NotNil(t, ack)
	assert.Equal(t, "support", ack["workflow"])
	assert.Equal(t, "Already in requested workflow", ack["message"])
	assert.Nil(t, log.first(protocol.TypeWorkflowUpdated))
}

func TestWorkflowTransitionUnknownTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})
	env.mgr.route(ctx, c, &protocol.WorkflowTransition{NewWorkflow: "bogus"})

	assert.NotNil(t, log.first(protocol.TypeError))
	sess, _ := env.sessions.Get("conv-1")
	assert.Equal(t, "support", sess.Workflow().Current)
}

func TestPingPong(t *testing.T) {
	env := newTestEnv(t)
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(context.Background(), c, &protocol.Ping{})

	assert.NotNil(t, log.first(protocol.TypePong))
}

func TestLogoutRemovesSessionAndClearsIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ident := &identity.Identity{UserID: "merchant-1", Verified: true}
	c, log := env.newConn("conv-1", ident)

	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "authenticated"})
	env.mgr.route(ctx, c, &protocol.Logout{})

	assert.NotNil(t, log.first(protocol.TypeLogoutComplete))
	assert.Nil(t, c.Identity())
	_, ok := env.sessions.Get("conv-1")
	assert.False(t, ok)

	// The conversation was persisted before removal.
	conv, err := env.st.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ID)
}

func TestEndConversationPersistsAndRemoves(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})
	env.mgr.route(ctx, c, &protocol.UserMessage{Text: "hi"})
	env.mgr.route(ctx, c, &protocol.EndConversation{})

	assert.NotNil(t, log.first(protocol.TypeSystem))
	_, ok := env.sessions.Get("conv-1")
	assert.False(t, ok)

	conv, err := env.st.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

func TestStartAlreadyAuthenticatedFallsBack(t *testing.T) {
	env := newTestEnv(t)
	ident := &identity.Identity{UserID: "merchant-1", Verified: true}
	c, log := env.newConn("conv-1", ident)

	env.mgr.route(context.Background(), c, &protocol.StartConversation{Workflow: "support"})

	started := log.first(protocol.TypeConversationStarted)
	require.NotNil(t, started)
	assert.Equal(t, "authenticated", started["workflow"])

	sess, _ := env.sessions.Get("conv-1")
	assert.Equal(t, "authenticated", sess.Workflow().Current)
}

func TestOAuthCompleteUpgradesIdentityAndTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})
	env.mgr.route(ctx, c, &protocol.OAuthComplete{Provider: "shopify", Shop: "candles.example.com"})

	require.NotNil(t, c.Identity())
	assert.True(t, c.Identity().Verified)
	assert.Equal(t, "candles.example.com", c.Identity().UserID)

	sess, _ := env.sessions.Get("conv-1")
	assert.Equal(t, "candles.example.com", sess.Identity())
	assert.Equal(t, "authenticated", sess.Workflow().Current)

	updated := log.first(protocol.TypeWorkflowUpdated)
	require.NotNil(t, updated)
	assert.Equal(t, "authenticated", updated["workflow"])
}

func TestSystemEventRunsMachineTurn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})
	env.mgr.route(ctx, c, &protocol.SystemEvent{Event: "subscription_renewed"})

	require.NotNil(t, log.first(protocol.TypeCJMessage))

	sess, _ := env.sessions.Get("conv-1")
	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, store.SenderSystem, msgs[0].Sender)
	assert.Equal(t, store.SenderAgent, msgs[1].Sender)
}

func TestDebugRequestKinds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, log := env.newConn("conv-1", nil)

	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})
	env.mgr.route(ctx, c, &protocol.UserMessage{Text: "hi"})

	env.mgr.route(ctx, c, &protocol.DebugRequest{Kind: "snapshot"})
	env.mgr.route(ctx, c, &protocol.DebugRequest{Kind: "metrics"})
	env.mgr.route(ctx, c, &protocol.DebugRequest{Kind: "bogus"})

	responses := log.byType(protocol.TypeDebugResponse)
	require.Len(t, responses, 2)

	snapshot := responses[0]
	data, _ := snapshot["data"].(map[string]any)
	require.NotNil(t, data)
	assert.Equal(t, "conv-1", data["conversationId"])
	assert.Equal(t, "support", data["workflow"])
	assert.Equal(t, float64(2), data["messageCount"])

	metrics, _ := responses[1]["data"].(map[string]any)
	require.NotNil(t, metrics)
	assert.Equal(t, float64(1), metrics["messagesProcessed"])

	assert.NotNil(t, log.first(protocol.TypeError))
}

func TestStartBindsWorkflowOnPrewarmedSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Pre-warmed over HTTP before any workflow was chosen.
	_, _, err := env.sessions.Create(ctx, "conv-1", session.CreateParams{})
	require.NoError(t, err)

	c, log := env.newConn("conv-1", nil)
	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})

	started := log.first(protocol.TypeConversationStarted)
	require.NotNil(t, started)
	assert.Equal(t, true, started["resumed"])
	assert.Equal(t, "support", started["workflow"])

	sess, ok := env.sessions.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, "support", sess.Workflow().Current)
}

func TestDisconnectFlushKeepsSessionResumable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, _ := env.newConn("conv-1", nil)

	env.mgr.route(ctx, c, &protocol.StartConversation{Workflow: "support"})
	env.mgr.route(ctx, c, &protocol.UserMessage{Text: "hi"})

	c.setState(StateClosing)
	env.mgr.flush(c)
	c.setState(StateClosed)

	// The session survives the connection.
	sess, ok := env.sessions.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, 2, sess.MessageCount())
	assert.Empty(t, env.sessions.ConnAttempt("conv-1"))

	conv, err := env.st.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

func TestSlowTurnSurvivesHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	env.mgr.opts.HeartbeatInterval = 50 * time.Millisecond
	env.mgr.opts.HeartbeatTimeout = 250 * time.Millisecond

	gen := agent.NewFakeGenerator()
	gen.Script = func(req *agent.Request) *agent.Result {
		// Long enough to straddle several heartbeat ticks.
		time.Sleep(400 * time.Millisecond)
		return &agent.Result{Text: "slow reply"}
	}
	env.mgr.generator = gen

	srv := httptest.NewServer(env.mgr)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	defer ws.Close(websocket.StatusNormalClosure, "")

	send := func(frame map[string]any) {
		data, merr := json.Marshal(frame)
		require.NoError(t, merr)
		require.NoError(t, ws.Write(ctx, websocket.MessageText, data))
	}
	send(map[string]any{"type": "start_conversation", "workflow": "support"})
	send(map[string]any{"type": "message", "text": "take your time"})

	// Reading in a loop keeps the client answering pings; the server
	// must keep the connection up until the reply lands.
	for {
		_, data, err := ws.Read(ctx)
		require.NoError(t, err, "connection dropped before the reply arrived")

		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		if frame["type"] == protocol.TypeCJMessage {
			assert.Equal(t, "slow reply", frame["content"])
			return
		}
	}
}

func TestSendOnClosedConnection(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.newConn("conv-1", nil)
	c.setState(StateClosed)

	err := c.Send(context.Background(), protocol.NewPong())
	assert.ErrorIs(t, err, ErrConnClosed)
}
