package presence

import (
	"context"
	"sync"
	"time"

	"github.com/convoq/convoq/core"
)

// DefaultTTL bounds how long a typing indicator survives without renewal.
const DefaultTTL = 10 * time.Second

// InMemoryStore is a process-local TypingStore. Entries expire lazily on
// read; there is no janitor goroutine to manage.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time // conversation -> user -> expiry
}

// NewInMemoryStore constructs an empty in-memory typing store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]map[string]time.Time)}
}

// SetTyping implements core.TypingStore.
func (s *InMemoryStore) SetTyping(_ context.Context, conversationID, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.entries[conversationID]
	if !ok {
		conv = make(map[string]time.Time)
		s.entries[conversationID] = conv
	}
	conv[userID] = time.Now().Add(ttl)
	return nil
}

// ClearTyping implements core.TypingStore. Clearing an absent indicator is a
// no-op, which makes the cleanup race between timeout and completion safe.
func (s *InMemoryStore) ClearTyping(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.entries[conversationID]; ok {
		delete(conv, userID)
		if len(conv) == 0 {
			delete(s.entries, conversationID)
		}
	}
	return nil
}

// ActiveTypers implements core.TypingStore, expiring stale entries as it reads.
func (s *InMemoryStore) ActiveTypers(_ context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.entries[conversationID]
	if !ok {
		return nil, nil
	}
	now := time.Now()
	var users []string
	for userID, expiry := range conv {
		if now.After(expiry) {
			delete(conv, userID)
			continue
		}
		users = append(users, userID)
	}
	if len(conv) == 0 {
		delete(s.entries, conversationID)
	}
	return users, nil
}

// Interface compliance (compile-time assertion).
var _ core.TypingStore = (*InMemoryStore)(nil)
