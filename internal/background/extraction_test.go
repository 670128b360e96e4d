// ABOUTME: Tests for fact extraction gating, windowing, and dedup.

package background

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirecj/chat-gateway/internal/session"
	"github.com/hirecj/chat-gateway/internal/store"
)

func waitHandle(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("extraction never finished")
	}
	require.NoError(t, h.Err())
}

func TestExtractionAppendsFacts(t *testing.T) {
	st := store.NewMockStore()
	sess := newTestSession(t, st, "conv-1")
	sess.AppendMessage(store.SenderUser, "I sell handmade candles", "")
	sess.AppendMessage(store.SenderAgent, "Noted!", "")

	coord := NewCoordinator(context.Background(), nil)
	ext := NewExtractor(coord, st, func(ctx context.Context, msgs []session.Message) ([]string, error) {
		return []string{"Sells handmade candles"}, nil
	}, 0, nil)

	h := ext.Spawn(sess)
	require.NotNil(t, h)
	waitHandle(t, h)

	facts, err := st.ListFactsByUser(context.Background(), "merchant-1")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Sells handmade candles", facts[0].Text)
	assert.Equal(t, "conv-1", facts[0].SourceID)
}

func TestExtractionSkipsAnonymousSessions(t *testing.T) {
	st := store.NewMockStore()
	mgr := session.NewManager(session.ManagerParams{Store: st})
	sess, _, err := mgr.Create(context.Background(), "conv-anon", session.CreateParams{})
	require.NoError(t, err)
	sess.AppendMessage(store.SenderUser, "I sell candles", "")

	coord := NewCoordinator(context.Background(), nil)
	ext := NewExtractor(coord, st, func(ctx context.Context, msgs []session.Message) ([]string, error) {
		t.Fatal("extraction must not run for anonymous sessions")
		return nil, nil
	}, 0, nil)

	assert.Nil(t, ext.Spawn(sess))
}

func TestExtractionDeduplicatesAgainstKnownFacts(t *testing.T) {
	st := store.NewMockStore()
	require.NoError(t, st.AppendFact(context.Background(), &store.Fact{
		ID:     "f1",
		UserID: "merchant-1",
		Text:   "Sells handmade candles",
	}))

	sess := newTestSession(t, st, "conv-1")
	sess.AppendMessage(store.SenderUser, "I sell handmade candles and soap", "")

	coord := NewCoordinator(context.Background(), nil)
	ext := NewExtractor(coord, st, func(ctx context.Context, msgs []session.Message) ([]string, error) {
		// Variants of a known fact plus one genuinely new fact.
		return []string{
			"sells handmade candles",
			"Sells handmade candles.",
			"Sells soap",
			"Sells soap",
		}, nil
	}, 0, nil)

	h := ext.Spawn(sess)
	require.NotNil(t, h)
	waitHandle(t, h)

	facts, err := st.ListFactsByUser(context.Background(), "merchant-1")
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "Sells soap", facts[1].Text)
}

func TestExtractionBoundsWindowAndExcludesSystemTurns(t *testing.T) {
	st := store.NewMockStore()
	sess := newTestSession(t, st, "conv-1")
	for i := 0; i < 10; i++ {
		sess.AppendMessage(store.SenderUser, fmt.Sprintf("user message %d", i), "")
	}
	sess.AppendMessage(store.SenderSystem, "workflow changed", "")
	sess.AppendMessage(store.SenderAgent, "final reply", "")

	var analyzed []session.Message
	coord := NewCoordinator(context.Background(), nil)
	ext := NewExtractor(coord, st, func(ctx context.Context, msgs []session.Message) ([]string, error) {
		analyzed = msgs
		return nil, nil
	}, 4, nil)

	h := ext.Spawn(sess)
	require.NotNil(t, h)
	waitHandle(t, h)

	// Window of 4 covers the last four turns; the system turn inside
	// it is dropped from analysis.
	require.Len(t, analyzed, 3)
	for _, m := range analyzed {
		assert.NotEqual(t, store.SenderSystem, m.Sender)
	}
	assert.Equal(t, "final reply", analyzed[2].Content)
}

func TestExtractionNothingToAnalyze(t *testing.T) {
	st := store.NewMockStore()
	sess := newTestSession(t, st, "conv-1")
	sess.AppendMessage(store.SenderSystem, "workflow changed", "")

	coord := NewCoordinator(context.Background(), nil)
	ext := NewExtractor(coord, st, func(ctx context.Context, msgs []session.Message) ([]string, error) {
		t.Fatal("extraction must not run with nothing to analyze")
		return nil, nil
	}, 0, nil)

	assert.Nil(t, ext.Spawn(sess))
}
