// ABOUTME: Tests that outbound frames serialize with the wire field names
// ABOUTME: clients depend on.

package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalToMap(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestCJMessageWireShape(t *testing.T) {
	t.Run("plain text omits ui_elements", func(t *testing.T) {
		got := marshalToMap(t, NewCJMessage(PlainText("hello")))
		assert.Equal(t, "cj_message", got["type"])
		assert.Equal(t, "hello", got["content"])
		_, present := got["ui_elements"]
		assert.False(t, present)
	})

	t.Run("ui elements carried under ui_elements", func(t *testing.T) {
		resp := WithUIElements("pick one", []UIElement{
			{Type: "button", Label: "Connect store", Action: "oauth_start"},
		})
		got := marshalToMap(t, NewCJMessage(resp))
		elems, ok := got["ui_elements"].([]any)
		require.True(t, ok)
		require.Len(t, elems, 1)
		elem := elems[0].(map[string]any)
		assert.Equal(t, "button", elem["type"])
		assert.Equal(t, "Connect store", elem["label"])
	})
}

func TestCJThinkingWireShape(t *testing.T) {
	got := marshalToMap(t, NewCJThinking("using tool", 1500*time.Millisecond, 2, "lookup"))
	assert.Equal(t, "cj_thinking", got["type"])
	assert.Equal(t, "using tool", got["status"])
	assert.Equal(t, 1.5, got["elapsed"])
	assert.Equal(t, float64(2), got["toolsCalled"])
	assert.Equal(t, "lookup", got["currentTool"])
}

func TestConversationStartedWireShape(t *testing.T) {
	history := []HistoryMessage{
		{Sender: "user", Content: "hi", Timestamp: time.Now()},
	}
	got := marshalToMap(t, NewConversationStarted("conv-1", "support", true, history))
	assert.Equal(t, "conversation_started", got["type"])
	assert.Equal(t, "conv-1", got["conversationId"])
	assert.Equal(t, true, got["resumed"])
	assert.Equal(t, float64(1), got["messageCount"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1)
}

func TestFactCheckFramesUseMessageIndex(t *testing.T) {
	started := marshalToMap(t, NewFactCheckStarted(4))
	assert.Equal(t, "fact_check_started", started["type"])
	assert.Equal(t, float64(4), started["messageIndex"])

	complete := marshalToMap(t, NewFactCheckComplete(4, `{"verdict":"verified"}`))
	assert.Equal(t, "fact_check_complete", complete["type"])
	assert.Equal(t, `{"verdict":"verified"}`, complete["result"])

	fcErr := marshalToMap(t, NewFactCheckError(4, "timed out"))
	assert.Equal(t, "fact_check_error", fcErr["type"])
	assert.Equal(t, "timed out", fcErr["text"])
}

func TestWorkflowFrames(t *testing.T) {
	updated := marshalToMap(t, NewWorkflowUpdated("onboarding", "support"))
	assert.Equal(t, "workflow_updated", updated["type"])
	assert.Equal(t, "onboarding", updated["workflow"])
	assert.Equal(t, "support", updated["previous"])

	ack := marshalToMap(t, NewWorkflowTransitionComplete("support", ""))
	assert.Equal(t, "workflow_transition_complete", ack["type"])
	_, present := ack["message"]
	assert.False(t, present)
}
