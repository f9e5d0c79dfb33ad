package broadcast

import (
	"context"
	"sync"

	"github.com/convoq/convoq/core"
)

// Sent is one captured broadcast.
type Sent struct {
	ConversationID string
	EventName      string
	Payload        any
}

// Recorder captures broadcasts in memory. Useful in tests to assert what
// clients would have seen, and as a development sink.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Broadcast implements core.Broadcaster.
func (r *Recorder) Broadcast(_ context.Context, conversationID, eventName string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{ConversationID: conversationID, EventName: eventName, Payload: payload})
	return nil
}

// Sent returns a copy of everything broadcast so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Named filters captured broadcasts by event name.
func (r *Recorder) Named(eventName string) []Sent {
	var out []Sent
	for _, s := range r.Sent() {
		if s.EventName == eventName {
			out = append(out, s)
		}
	}
	return out
}

// Reset clears the capture buffer.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}

// Interface compliance (compile-time assertion).
var _ core.Broadcaster = (*Recorder)(nil)
