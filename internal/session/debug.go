// ABOUTME: Bounded ring buffers of recent prompts, responses, and tool calls
// ABOUTME: Retained only for operator inspection via debug_request frames

package session

import (
	"sync"
	"time"
)

// debugCaptureDepth is how many records of each kind are retained.
const debugCaptureDepth = 20

// DebugRecord is one captured prompt, response, or tool call.
type DebugRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

// DebugCapture holds bounded rings of recent generation activity.
// When a ring is full the oldest record is evicted.
type DebugCapture struct {
	mu        sync.Mutex
	prompts   *recordRing
	responses *recordRing
	toolCalls *recordRing
}

// NewDebugCapture creates capture buffers with the given depth per kind.
func NewDebugCapture(depth int) *DebugCapture {
	if depth <= 0 {
		depth = debugCaptureDepth
	}
	return &DebugCapture{
		prompts:   newRecordRing(depth),
		responses: newRecordRing(depth),
		toolCalls: newRecordRing(depth),
	}
}

// AddPrompt records a prompt sent to the response generator.
func (d *DebugCapture) AddPrompt(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prompts.add(content)
}

// AddResponse records a response received from the generator.
func (d *DebugCapture) AddResponse(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses.add(content)
}

// AddToolCall records a tool invocation observed during a turn.
func (d *DebugCapture) AddToolCall(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.toolCalls.add(content)
}

// Prompts returns the retained prompts, oldest first.
func (d *DebugCapture) Prompts() []DebugRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prompts.items()
}

// Responses returns the retained responses, oldest first.
func (d *DebugCapture) Responses() []DebugRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.responses.items()
}

// ToolCalls returns the retained tool calls, oldest first.
func (d *DebugCapture) ToolCalls() []DebugRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.toolCalls.items()
}

// recordRing is a fixed-capacity ring of DebugRecords.
// Not safe for concurrent use; DebugCapture holds the lock.
type recordRing struct {
	buf  []DebugRecord
	head int
	full bool
}

func newRecordRing(capacity int) *recordRing {
	return &recordRing{buf: make([]DebugRecord, capacity)}
}

func (r *recordRing) add(content string) {
	r.buf[r.head] = DebugRecord{Timestamp: time.Now(), Content: content}
	r.head = (r.head + 1) % len(r.buf)
	if r.head == 0 {
		r.full = true
	}
}

// items returns records in insertion order, oldest first.
func (r *recordRing) items() []DebugRecord {
	if !r.full {
		out := make([]DebugRecord, r.head)
		copy(out, r.buf[:r.head])
		return out
	}
	out := make([]DebugRecord, 0, len(r.buf))
	out = append(out, r.buf[r.head:]...)
	out = append(out, r.buf[:r.head]...)
	return out
}
