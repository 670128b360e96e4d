// ABOUTME: Tests for the progress Reporter
// ABOUTME: Verifies per-attempt scoping, stale detach, and silent drops

package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReporter_DeliversToAttached(t *testing.T) {
	r := NewReporter(nil)

	var got []Event
	r.Attach("sess-1", "attempt-1", func(ev Event) {
		got = append(got, ev)
	})

	r.Report("sess-1", Event{Status: "thinking", Elapsed: time.Second})

	assert.Len(t, got, 1)
	assert.Equal(t, "thinking", got[0].Status)
}

func TestReporter_DropsWhenNoConnection(t *testing.T) {
	r := NewReporter(nil)

	// No registration: must not panic, event is dropped
	r.Report("sess-1", Event{Status: "thinking"})

	var got []Event
	r.Attach("sess-1", "attempt-1", func(ev Event) {
		got = append(got, ev)
	})
	r.Detach("sess-1", "attempt-1")

	r.Report("sess-1", Event{Status: "thinking"})
	assert.Empty(t, got, "events after detach are dropped, not replayed")
}

func TestReporter_NewAttemptDisplacesOld(t *testing.T) {
	r := NewReporter(nil)

	var oldEvents, newEvents []Event
	r.Attach("sess-1", "attempt-1", func(ev Event) {
		oldEvents = append(oldEvents, ev)
	})
	r.Attach("sess-1", "attempt-2", func(ev Event) {
		newEvents = append(newEvents, ev)
	})

	r.Report("sess-1", Event{Status: "thinking"})

	assert.Empty(t, oldEvents, "stale attempt must not receive events")
	assert.Len(t, newEvents, 1)
}

func TestReporter_StaleDetachDoesNotRemoveNewAttempt(t *testing.T) {
	r := NewReporter(nil)

	var got []Event
	r.Attach("sess-1", "attempt-1", func(Event) {})
	r.Attach("sess-1", "attempt-2", func(ev Event) {
		got = append(got, ev)
	})

	// Old attempt's teardown runs after the new attempt registered
	r.Detach("sess-1", "attempt-1")

	r.Report("sess-1", Event{Status: "thinking"})
	assert.Len(t, got, 1, "new attempt's registration survives stale detach")
}

func TestReporter_SessionsAreIsolated(t *testing.T) {
	r := NewReporter(nil)

	var a, b []Event
	r.Attach("sess-a", "attempt-1", func(ev Event) { a = append(a, ev) })
	r.Attach("sess-b", "attempt-1", func(ev Event) { b = append(b, ev) })

	r.Report("sess-a", Event{Status: "thinking"})

	assert.Len(t, a, 1)
	assert.Empty(t, b)
}
