// Package negotiation runs turn-based negotiations between marketplace
// agents, with each reply decided by a decision oracle.
package negotiation

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"agent-market/internal/domain"
	"agent-market/internal/infra/tracer"
)

// Defaults and fixed texts.
const (
	DefaultHistoryWindow = 5
	DefaultFallbackPrice = 250
	DefaultBuyerSuffix   = "_buyer"

	DefaultOpening      = "I'm interested in your offering."
	SmartOpeningDefault = "I'm interested in your offering and would like to discuss pricing."

	fallbackParseMessage = "I'm interested in discussing this further."
	fallbackErrorMessage = "I'm having trouble processing your request right now."
)

// Deps holds injected dependencies for the negotiation engine.
type Deps struct {
	Registry domain.AgentRegistry
	Sessions domain.NegotiationStore
	Oracle   domain.DecisionOracle
	Opener   domain.OpeningComposer // optional, nil = smart opening uses the fixed default
	Roles    domain.RoleResolver    // optional, nil = suffix convention
	Logger   *slog.Logger

	HistoryWindow int
	FallbackPrice float64
	// OpenCompletes lets a terminal first reply complete the session in Open.
	OpenCompletes bool
	NewID         func(time.Time) string // optional, nil = ULID
	Now           func() time.Time       // optional, nil = time.Now
}

// Engine opens and advances negotiation sessions.
type Engine struct {
	deps  Deps
	locks *sessionLocks
}

// NewEngine creates a negotiation engine, filling unset settings with defaults.
func NewEngine(deps Deps) *Engine {
	if deps.Roles == nil {
		deps.Roles = domain.SuffixRoleResolver{Suffix: DefaultBuyerSuffix}
	}
	if deps.HistoryWindow <= 0 {
		deps.HistoryWindow = DefaultHistoryWindow
	}
	if deps.FallbackPrice == 0 {
		deps.FallbackPrice = DefaultFallbackPrice
	}
	if deps.NewID == nil {
		deps.NewID = newULID
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{deps: deps, locks: newSessionLocks()}
}

// Monotonic entropy is shared so IDs minted in the same millisecond differ.
var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

func newULID(t time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), ulidEntropy).String()
}

// OpenRequest starts a negotiation. AgentID is the agent that answers the
// opening message; CounterpartID is who sent it.
type OpenRequest struct {
	AgentID       string
	CounterpartID string // optional, empty = unknown
	Message       string // optional, empty = default or composed opening
	Smart         bool   // compose the opening from both profiles when Message is empty
}

// Result is a session after a turn together with the decision that produced the turn.
type Result struct {
	Session  *domain.NegotiationSession `json:"session"`
	Decision *domain.Decision           `json:"decision"`
}

// Open creates a session holding the opening message and the agent's
// first reply. The session stays active whatever the reply's action
// unless OpenCompletes is set.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (_ *Result, err error) {
	ctx, span := tracer.StartSpan(ctx, "negotiation.open",
		trace.WithAttributes(
			tracer.StringAttr("agent.id", req.AgentID),
			tracer.BoolAttr("negotiation.smart", req.Smart),
		),
	)
	defer func() { tracer.Finish(span, err) }()

	if strings.TrimSpace(req.AgentID) == "" {
		return nil, domain.NewDomainError("Negotiation.Open", domain.ErrInvalidInput, "agent_id is required")
	}
	agent, err := e.deps.Registry.Get(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	role := e.deps.Roles.Resolve(agent)

	counterpartID := req.CounterpartID
	if counterpartID == "" {
		counterpartID = domain.UnknownCounterpart
	}

	now := e.deps.Now().UTC()
	sess := &domain.NegotiationSession{
		SessionID:    e.deps.NewID(now),
		Participants: [2]string{req.AgentID, counterpartID},
		Status:       domain.SessionActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	span.SetAttributes(tracer.StringAttr("session.id", sess.SessionID))

	opening := req.Message
	if opening == "" {
		opening = e.opening(ctx, req, agent, role)
	}

	decision := e.decide(ctx, sess.SessionID, domain.NegotiationPrompt{
		AgentID:     agent.AgentID,
		Role:        role,
		Description: agent.Description,
		Services:    agent.Services,
		Pricing:     agent.Pricing,
		Incoming:    opening,
	})

	sess.Append(now,
		domain.NegotiationMessage{Role: domain.RoleInitiator, Content: opening},
		domain.NegotiationMessage{Role: role, Content: decision.Message},
	)
	if e.deps.OpenCompletes && decision.Action.Terminal() {
		sess.Complete()
	}

	if err := e.deps.Sessions.Put(ctx, sess); err != nil {
		return nil, domain.Classify(domain.ErrStoreFailed, err)
	}

	e.deps.Logger.Info("negotiation opened",
		"session_id", sess.SessionID,
		"agent_id", agent.AgentID,
		"counterpart_id", counterpartID,
		"action", decision.Action,
	)
	return &Result{Session: sess, Decision: decision}, nil
}

// opening picks the first message when the caller supplied none.
func (e *Engine) opening(ctx context.Context, req OpenRequest, agent *domain.AgentProfile, role domain.Role) string {
	if !req.Smart {
		return DefaultOpening
	}
	if e.deps.Opener == nil {
		return SmartOpeningDefault
	}

	counterpart := &domain.AgentProfile{AgentID: domain.UnknownCounterpart}
	if req.CounterpartID != "" {
		p, err := e.deps.Registry.Get(ctx, req.CounterpartID)
		switch {
		case err == nil:
			counterpart = p
		case errors.Is(err, domain.ErrNotFound):
			counterpart = &domain.AgentProfile{AgentID: req.CounterpartID}
		default:
			e.deps.Logger.Warn("counterpart lookup failed", "counterpart_id", req.CounterpartID, "error", err)
			counterpart = &domain.AgentProfile{AgentID: req.CounterpartID}
		}
	}

	// The opening is written by the counterpart, so it takes the other role.
	text, err := e.deps.Opener.ComposeOpening(ctx, counterpart, agent, opposite(role))
	if err != nil {
		e.deps.Logger.Warn("smart opening fallback", "agent_id", agent.AgentID, "cause", err)
		return SmartOpeningDefault
	}
	return text
}

// AdvanceRequest carries one incoming message into an existing session.
type AdvanceRequest struct {
	SessionID string
	AgentID   string // agent that answers the message
	Message   string
}

// Advance appends the incoming message and the agent's reply, completing
// the session when the reply accepts or rejects. Completed sessions
// cannot be advanced.
func (e *Engine) Advance(ctx context.Context, req AdvanceRequest) (_ *Result, err error) {
	ctx, span := tracer.StartSpan(ctx, "negotiation.advance",
		trace.WithAttributes(
			tracer.StringAttr("session.id", req.SessionID),
			tracer.StringAttr("agent.id", req.AgentID),
		),
	)
	defer func() { tracer.Finish(span, err) }()

	switch {
	case strings.TrimSpace(req.SessionID) == "":
		return nil, domain.NewDomainError("Negotiation.Advance", domain.ErrInvalidInput, "session_id is required")
	case strings.TrimSpace(req.AgentID) == "":
		return nil, domain.NewDomainError("Negotiation.Advance", domain.ErrInvalidInput, "agent_id is required")
	case strings.TrimSpace(req.Message) == "":
		return nil, domain.NewDomainError("Negotiation.Advance", domain.ErrInvalidInput, "message is required")
	}

	release, err := e.locks.acquire(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	agent, err := e.deps.Registry.Get(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	sess, err := e.deps.Sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.SessionCompleted {
		return nil, domain.NewSubSystemError("negotiation", "Negotiation.Advance", domain.ErrSessionClosed, req.SessionID)
	}

	role := e.deps.Roles.Resolve(agent)
	decision := e.decide(ctx, sess.SessionID, domain.NegotiationPrompt{
		AgentID:     agent.AgentID,
		Role:        role,
		Description: agent.Description,
		Services:    agent.Services,
		Pricing:     agent.Pricing,
		History:     sess.Recent(e.deps.HistoryWindow),
		Incoming:    req.Message,
	})

	sess.Append(e.deps.Now().UTC(),
		domain.NegotiationMessage{Role: domain.RoleCounterpart, Content: req.Message},
		domain.NegotiationMessage{Role: role, Content: decision.Message},
	)
	if decision.Action.Terminal() {
		sess.Complete()
	}

	if err := e.deps.Sessions.Put(ctx, sess); err != nil {
		return nil, domain.Classify(domain.ErrStoreFailed, err)
	}

	span.SetAttributes(tracer.StringAttr("decision.action", string(decision.Action)))
	e.deps.Logger.Info("negotiation advanced",
		"session_id", sess.SessionID,
		"agent_id", agent.AgentID,
		"action", decision.Action,
		"status", sess.Status,
	)
	return &Result{Session: sess, Decision: decision}, nil
}

// Session returns the stored session.
func (e *Engine) Session(ctx context.Context, sessionID string) (*domain.NegotiationSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.NewDomainError("Negotiation.Session", domain.ErrInvalidInput, "session_id is required")
	}
	return e.deps.Sessions.Get(ctx, sessionID)
}

// decide asks the oracle and substitutes a fixed counter-offer when it
// fails. The substitution is logged and flagged on the decision.
func (e *Engine) decide(ctx context.Context, sessionID string, prompt domain.NegotiationPrompt) *domain.Decision {
	d, err := e.deps.Oracle.Decide(ctx, prompt)
	if err == nil {
		return d
	}

	fb := &domain.Decision{
		Action:   domain.ActionCounter,
		Price:    e.deps.FallbackPrice,
		Fallback: true,
	}
	if errors.Is(err, domain.ErrMalformedDecision) {
		fb.Message = fallbackParseMessage
		fb.Reasoning = "Fallback response"
	} else {
		fb.Message = fallbackErrorMessage
		fb.Reasoning = "Error: " + err.Error()
	}

	e.deps.Logger.Warn("decision oracle fallback",
		"session_id", sessionID,
		"agent_id", prompt.AgentID,
		"cause", err,
	)
	return fb
}

func opposite(r domain.Role) domain.Role {
	if r == domain.RoleBuyer {
		return domain.RoleSeller
	}
	return domain.RoleBuyer
}
