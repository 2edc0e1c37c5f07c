package domain

import (
	"context"
	"time"
)

// SessionStatus is the state of a negotiation session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed" // terminal
)

// Message roles that are not negotiating roles.
const (
	RoleInitiator   Role = "initiator"
	RoleCounterpart Role = "counterpart"
)

// UnknownCounterpart is the placeholder participant when the counterpart is unresolved.
const UnknownCounterpart = "unknown"

// Action is the move chosen by the decision oracle.
type Action string

const (
	ActionCounter Action = "counter"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
)

// Terminal reports whether the action ends a negotiation.
func (a Action) Terminal() bool { return a == ActionAccept || a == ActionReject }

// Valid reports whether a is a known action.
func (a Action) Valid() bool { return a == ActionCounter || a.Terminal() }

// Decision is the structured output of the decision oracle.
type Decision struct {
	Message   string  `json:"message"`
	Action    Action  `json:"action"`
	Price     float64 `json:"price"`
	Reasoning string  `json:"reasoning"`
	// Fallback is set when the oracle failed and a fixed decision was substituted.
	Fallback bool `json:"fallback,omitempty"`
}

// NegotiationMessage is a single turn in a negotiation transcript.
type NegotiationMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NegotiationSession is the persisted state of one negotiation.
type NegotiationSession struct {
	SessionID    string               `json:"session_id"`
	Participants [2]string            `json:"participants"` // initiator, counterpart
	Messages     []NegotiationMessage `json:"messages"`
	Status       SessionStatus        `json:"status"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Append adds messages to the transcript and refreshes UpdatedAt.
// Existing messages are never modified.
func (s *NegotiationSession) Append(now time.Time, msgs ...NegotiationMessage) {
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		s.Messages = append(s.Messages, m)
	}
	s.UpdatedAt = now
}

// Complete moves the session to its terminal state. It is a no-op when
// the session is already completed.
func (s *NegotiationSession) Complete() {
	s.Status = SessionCompleted
}

// Recent returns at most n of the latest messages.
func (s *NegotiationSession) Recent(n int) []NegotiationMessage {
	if n <= 0 || len(s.Messages) == 0 {
		return nil
	}
	if len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// NegotiationStore persists negotiation sessions keyed by session ID.
type NegotiationStore interface {
	Get(ctx context.Context, sessionID string) (*NegotiationSession, error)
	Put(ctx context.Context, session *NegotiationSession) error
	// Reset removes all sessions and returns the number removed.
	Reset(ctx context.Context) (int, error)
}

// NegotiationPrompt is the structured context handed to the decision oracle.
type NegotiationPrompt struct {
	AgentID     string
	Role        Role
	Description string
	Services    []string
	Pricing     map[string]float64
	History     []NegotiationMessage // bounded window, oldest first
	Incoming    string
}

// DecisionOracle turns a negotiation prompt into a structured decision.
type DecisionOracle interface {
	Decide(ctx context.Context, prompt NegotiationPrompt) (*Decision, error)
}

// OpeningComposer writes an opening line for a negotiation from both profiles.
type OpeningComposer interface {
	ComposeOpening(ctx context.Context, self, counterpart *AgentProfile, role Role) (string, error)
}
