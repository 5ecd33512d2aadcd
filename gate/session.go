package gate

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/x402-agentpay"
)

// State is a session's position in the approval cycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingApproval
)

func (s State) String() string {
	if s == StateAwaitingApproval {
		return "awaiting_approval"
	}
	return "idle"
}

// Marker records a payment prompt at the moment it was issued. Approval acts on
// the terms captured here, not on anything re-derived later.
type Marker struct {
	ID       string
	Terms    x402.Terms
	IssuedAt time.Time
}

// Expired reports whether the marker is older than ttl. A zero ttl never expires.
func (m *Marker) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(m.IssuedAt) > ttl
}

type session struct {
	mu     sync.Mutex
	state  State
	marker *Marker
	busy   bool

	// reset disables the transcript fallback until the next prompt.
	reset bool
}

// release ends an in-flight pipeline. The session returns to Idle only if the
// prompt it acted on is still the current one.
func (s *session) release(acted *Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if s.marker == acted {
		s.marker = nil
		s.state = StateIdle
	}
}

type checkpointKey struct{}

// ContextWithCheckpoint attaches a check that pipelines call before irreversible
// steps.
func ContextWithCheckpoint(ctx context.Context, check func() error) context.Context {
	return context.WithValue(ctx, checkpointKey{}, check)
}

// Checkpoint runs the check attached to ctx, if any. A non-nil error means the
// pipeline must stop before sending anything.
func Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if check, ok := ctx.Value(checkpointKey{}).(func() error); ok {
		return check()
	}
	return nil
}
