package transcript

import (
	"context"
	"sync"
)

// DefaultRetention is how many messages a store keeps per session.
const DefaultRetention = 100

// MemoryStore is an in-process Store that retains a bounded window per session.
type MemoryStore struct {
	mu        sync.RWMutex
	retention int
	sessions  map[string][]Message
}

// NewMemoryStore creates a store keeping at most retention messages per
// session; non-positive values use DefaultRetention.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		retention: retention,
		sessions:  make(map[string][]Message),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, session string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	messages := append(s.sessions[session], msg)
	if over := len(messages) - s.retention; over > 0 {
		messages = append([]Message(nil), messages[over:]...)
	}
	s.sessions[session] = messages
	return nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(ctx context.Context, session string, n int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.sessions[session]
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out, nil
}
