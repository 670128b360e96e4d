// ABOUTME: Tests for session state: message ordering, context window,
// ABOUTME: snapshot/hydrate round trips, and debug capture bounds.

package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirecj/chat-gateway/internal/store"
)

func TestAppendMessageReturnsStableIndexes(t *testing.T) {
	sess := newSession("conv-1", "", "support", 10)

	assert.Equal(t, 0, sess.AppendMessage(store.SenderUser, "first", ""))
	assert.Equal(t, 1, sess.AppendMessage(store.SenderAgent, "second", "trace"))
	assert.Equal(t, 2, sess.AppendMessage(store.SenderUser, "third", ""))

	msg, ok := sess.MessageAt(1)
	require.True(t, ok)
	assert.Equal(t, "second", msg.Content)
	assert.Equal(t, "trace", msg.ThinkingTrace)

	_, ok = sess.MessageAt(3)
	assert.False(t, ok)
	_, ok = sess.MessageAt(-1)
	assert.False(t, ok)
}

func TestContextWindowBoundsHistory(t *testing.T) {
	sess := newSession("conv-1", "", "support", 3)
	for i := 0; i < 5; i++ {
		sess.AppendMessage(store.SenderUser, fmt.Sprintf("msg %d", i), "")
	}

	window := sess.ContextWindow()
	require.Len(t, window, 3)
	assert.Equal(t, "msg 2", window[0].Content)
	assert.Equal(t, "msg 4", window[2].Content)

	// Fewer messages than the window returns them all.
	small := newSession("conv-2", "", "support", 10)
	small.AppendMessage(store.SenderUser, "only", "")
	assert.Len(t, small.ContextWindow(), 1)
}

func TestMessagesReturnsCopy(t *testing.T) {
	sess := newSession("conv-1", "", "support", 10)
	sess.AppendMessage(store.SenderUser, "original", "")

	msgs := sess.Messages()
	msgs[0].Content = "mutated"

	again, _ := sess.MessageAt(0)
	assert.Equal(t, "original", again.Content)
}

func TestSnapshotHydrateRoundTrip(t *testing.T) {
	sess := newSession("conv-1", "merchant-1", "support", 10)
	sess.AppendMessage(store.SenderUser, "hello", "")
	sess.AppendMessage(store.SenderAgent, "hi there", "pondering")

	conv := sess.Snapshot()
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, "merchant-1", conv.UserID)
	assert.Equal(t, "support", conv.Workflow)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, 0, conv.Messages[0].Seq)
	assert.Equal(t, 1, conv.Messages[1].Seq)
	assert.Equal(t, "pondering", conv.Messages[1].ThinkingTrace)

	restored := newSession("conv-1", "", "", 10)
	restored.hydrate(conv)
	assert.Equal(t, "merchant-1", restored.Identity())
	assert.Equal(t, "support", restored.Workflow().Current)
	assert.Equal(t, 2, restored.MessageCount())
	msg, _ := restored.MessageAt(1)
	assert.Equal(t, "hi there", msg.Content)
}

func TestWorkflowTransitionTracksPrevious(t *testing.T) {
	sess := newSession("conv-1", "", "support", 10)

	sess.setWorkflow("onboarding", "user_initiated")
	wf := sess.Workflow()
	assert.Equal(t, "onboarding", wf.Current)
	assert.Equal(t, "support", wf.Previous)
	assert.Equal(t, "user_initiated", wf.TransitionReason)

	// Same-workflow set is a no-op and keeps history intact.
	sess.setWorkflow("onboarding", "again")
	wf = sess.Workflow()
	assert.Equal(t, "support", wf.Previous)
	assert.Equal(t, "user_initiated", wf.TransitionReason)
}

func TestMetricsAccumulate(t *testing.T) {
	sess := newSession("conv-1", "", "support", 10)

	sess.RecordTurn(100)
	sess.RecordTurn(50)
	sess.RecordError()

	met := sess.Metrics()
	assert.Equal(t, 2, met.MessagesProcessed)
	assert.Equal(t, 1, met.Errors)
	assert.EqualValues(t, 150, met.TotalResponseTime)
}

func TestDebugCaptureEvictsOldest(t *testing.T) {
	capture := NewDebugCapture(3)
	for i := 0; i < 5; i++ {
		capture.AddPrompt(fmt.Sprintf("prompt %d", i))
	}

	prompts := capture.Prompts()
	require.Len(t, prompts, 3)
	assert.Equal(t, "prompt 2", prompts[0].Content)
	assert.Equal(t, "prompt 4", prompts[2].Content)

	// Rings are independent per kind.
	capture.AddResponse("a response")
	assert.Len(t, capture.Responses(), 1)
	assert.Empty(t, capture.ToolCalls())
}
