// Package transcript stores the recent conversation of each session. The
// approval gate reads it as a fallback when a session has no prompt marker, and
// it doubles as an audit log of prompts and payment resolutions.
package transcript

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultLookback is how many recent messages the gate inspects.
const DefaultLookback = 10

// Role identifies who wrote a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Action labels what an agent message did.
type Action string

const (
	ActionPaymentPrompt   Action = "payment_prompt"
	ActionPaymentExecuted Action = "payment_executed"
	ActionPaymentSkipped  Action = "payment_skipped"
	ActionPaymentDenied   Action = "payment_denied"
	ActionPaymentFailed   Action = "payment_failed"
	ActionPaymentReset    Action = "payment_reset"
)

// Resolves reports whether the action closes an outstanding payment prompt.
func (a Action) Resolves() bool {
	switch a {
	case ActionPaymentExecuted, ActionPaymentSkipped, ActionPaymentFailed, ActionPaymentReset:
		return true
	}
	return false
}

// Message is one transcript entry. It never carries key material or signed
// payloads.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Actions   []Action  `json:"actions,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(role Role, text string, actions ...Action) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Actions:   actions,
		CreatedAt: time.Now().UTC(),
	}
}

// HasAction reports whether the message is labelled with a.
func (m Message) HasAction(a Action) bool {
	for _, action := range m.Actions {
		if action == a {
			return true
		}
	}
	return false
}

// ContainsAny reports whether the message text contains any keyword, ignoring case.
func (m Message) ContainsAny(keywords []string) bool {
	text := strings.ToLower(m.Text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Store persists per-session messages.
type Store interface {
	// Append adds msg to the end of the session's transcript.
	Append(ctx context.Context, session string, msg Message) error

	// Recent returns up to n of the session's latest messages, oldest first.
	Recent(ctx context.Context, session string, n int) ([]Message, error)
}
