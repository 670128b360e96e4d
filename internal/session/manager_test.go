// ABOUTME: Tests for the session manager: create/resume semantics, the
// ABOUTME: live-connection index, workflow updates, and persistence sweeps.

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirecj/chat-gateway/internal/store"
)

func newTestManager(st *store.MockStore) *Manager {
	return NewManager(ManagerParams{Store: st})
}

func TestCreateThenResumeReturnsSameSession(t *testing.T) {
	mgr := newTestManager(store.NewMockStore())
	ctx := context.Background()

	first, resumed, err := mgr.Create(ctx, "conv-1", CreateParams{Workflow: "support"})
	require.NoError(t, err)
	assert.False(t, resumed)

	first.AppendMessage(store.SenderUser, "hello", "")

	second, resumed, err := mgr.Create(ctx, "conv-1", CreateParams{Workflow: "support"})
	require.NoError(t, err)
	assert.True(t, resumed)
	// Identity, not just equality: the exact same object comes back.
	assert.Same(t, first, second)
	assert.Equal(t, 1, second.MessageCount())
}

func TestCreateHydratesFromStore(t *testing.T) {
	st := store.NewMockStore()
	now := time.Now()
	require.NoError(t, st.SaveConversation(context.Background(), &store.Conversation{
		ID:       "conv-1",
		UserID:   "merchant-1",
		Workflow: "onboarding",
		Messages: []*store.StoredMessage{
			{ConversationID: "conv-1", Seq: 0, Sender: store.SenderUser, Content: "earlier", Timestamp: now},
			{ConversationID: "conv-1", Seq: 1, Sender: store.SenderAgent, Content: "reply", Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}))

	mgr := newTestManager(st)
	sess, resumed, err := mgr.Create(context.Background(), "conv-1", CreateParams{Workflow: "support"})
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, "merchant-1", sess.Identity())
	assert.Equal(t, "onboarding", sess.Workflow().Current)
	assert.Equal(t, 2, sess.MessageCount())
}

func TestUpdateWorkflowMissingSession(t *testing.T) {
	mgr := newTestManager(store.NewMockStore())
	assert.False(t, mgr.UpdateWorkflow("ghost", "support", "test"))
}

func TestUpdateWorkflow(t *testing.T) {
	mgr := newTestManager(store.NewMockStore())
	sess, _, err := mgr.Create(context.Background(), "conv-1", CreateParams{Workflow: "support"})
	require.NoError(t, err)

	assert.True(t, mgr.UpdateWorkflow("conv-1", "onboarding", "user_initiated"))
	assert.Equal(t, "onboarding", sess.Workflow().Current)
}

func TestConnIndexIsAttemptScoped(t *testing.T) {
	mgr := newTestManager(store.NewMockStore())
	_, _, err := mgr.Create(context.Background(), "conv-1", CreateParams{})
	require.NoError(t, err)

	mgr.AttachConn("conv-1", "attempt-a")
	assert.Equal(t, "attempt-a", mgr.ConnAttempt("conv-1"))

	// A newer attempt displaces the claim.
	mgr.AttachConn("conv-1", "attempt-b")
	assert.Equal(t, "attempt-b", mgr.ConnAttempt("conv-1"))

	// The stale attempt's detach leaves the new claim intact.
	mgr.DetachConn("conv-1", "attempt-a")
	assert.Equal(t, "attempt-b", mgr.ConnAttempt("conv-1"))

	mgr.DetachConn("conv-1", "attempt-b")
	assert.Empty(t, mgr.ConnAttempt("conv-1"))

	// Detaching never removes the session itself.
	_, ok := mgr.Get("conv-1")
	assert.True(t, ok)
}

func TestRemoveReturnsSession(t *testing.T) {
	mgr := newTestManager(store.NewMockStore())
	created, _, err := mgr.Create(context.Background(), "conv-1", CreateParams{})
	require.NoError(t, err)

	removed := mgr.Remove("conv-1")
	assert.Same(t, created, removed)
	assert.Nil(t, mgr.Remove("conv-1"))
	assert.Equal(t, 0, mgr.Len())
}

func TestPersistWritesSnapshot(t *testing.T) {
	st := store.NewMockStore()
	mgr := newTestManager(st)
	ctx := context.Background()

	sess, _, err := mgr.Create(ctx, "conv-1", CreateParams{UserID: "merchant-1", Workflow: "support"})
	require.NoError(t, err)
	sess.AppendMessage(store.SenderUser, "hello", "")

	require.NoError(t, mgr.Persist(ctx, sess))

	conv, err := st.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "merchant-1", conv.UserID)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "hello", conv.Messages[0].Content)
}

func TestCloseAllPersistsEverything(t *testing.T) {
	st := store.NewMockStore()
	mgr := newTestManager(st)
	ctx := context.Background()

	for _, id := range []string{"conv-1", "conv-2"} {
		sess, _, err := mgr.Create(ctx, id, CreateParams{Workflow: "support"})
		require.NoError(t, err)
		sess.AppendMessage(store.SenderUser, "hi", "")
	}

	mgr.CloseAll(ctx)

	assert.Equal(t, 0, mgr.Len())
	for _, id := range []string{"conv-1", "conv-2"} {
		_, err := st.GetConversation(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestEvictIdleSkipsConnectedSessions(t *testing.T) {
	st := store.NewMockStore()
	mgr := NewManager(ManagerParams{Store: st, IdleTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	idle, _, err := mgr.Create(ctx, "conv-idle", CreateParams{})
	require.NoError(t, err)
	idle.AppendMessage(store.SenderUser, "hi", "")

	connected, _, err := mgr.Create(ctx, "conv-live", CreateParams{})
	require.NoError(t, err)
	connected.AppendMessage(store.SenderUser, "hi", "")
	mgr.AttachConn("conv-live", "attempt-1")

	time.Sleep(20 * time.Millisecond)
	mgr.evictIdle(ctx)

	_, ok := mgr.Get("conv-idle")
	assert.False(t, ok)
	_, ok = mgr.Get("conv-live")
	assert.True(t, ok)

	// The evicted session was flushed to the store first.
	conv, err := st.GetConversation(ctx, "conv-idle")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1)
}
