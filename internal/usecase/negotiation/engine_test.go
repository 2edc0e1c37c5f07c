package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/domain"
)

// --- Mocks ---

type mockRegistry struct {
	domain.AgentRegistry // unused methods panic
	profiles             map[string]*domain.AgentProfile
}

func (r *mockRegistry) Get(_ context.Context, id string) (*domain.AgentProfile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return nil, domain.NewSubSystemError("agent", "mockRegistry.Get", domain.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

type mockSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.NegotiationSession
	puts     int
	putErr   error
}

func newMockSessions() *mockSessions {
	return &mockSessions{sessions: make(map[string]domain.NegotiationSession)}
}

func (s *mockSessions) Get(_ context.Context, id string) (*domain.NegotiationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.NewSubSystemError("negotiation", "mockSessions.Get", domain.ErrNotFound, id)
	}
	sess.Messages = append([]domain.NegotiationMessage(nil), sess.Messages...)
	return &sess, nil
}

func (s *mockSessions) Put(_ context.Context, sess *domain.NegotiationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	cp := *sess
	cp.Messages = append([]domain.NegotiationMessage(nil), sess.Messages...)
	s.sessions[sess.SessionID] = cp
	return nil
}

func (s *mockSessions) Reset(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.sessions)
	s.sessions = make(map[string]domain.NegotiationSession)
	return n, nil
}

type mockOracle struct {
	mu       sync.Mutex
	decideFn func(domain.NegotiationPrompt) (*domain.Decision, error)
	prompts  []domain.NegotiationPrompt
}

func (m *mockOracle) Decide(_ context.Context, p domain.NegotiationPrompt) (*domain.Decision, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, p)
	m.mu.Unlock()
	return m.decideFn(p)
}

func (m *mockOracle) last() domain.NegotiationPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[len(m.prompts)-1]
}

func respond(action domain.Action, price float64, msg string) func(domain.NegotiationPrompt) (*domain.Decision, error) {
	return func(domain.NegotiationPrompt) (*domain.Decision, error) {
		return &domain.Decision{Message: msg, Action: action, Price: price, Reasoning: "test"}, nil
	}
}

type mockOpener struct {
	composeFn func(self, counterpart *domain.AgentProfile, role domain.Role) (string, error)
}

func (m *mockOpener) ComposeOpening(_ context.Context, self, counterpart *domain.AgentProfile, role domain.Role) (string, error) {
	return m.composeFn(self, counterpart, role)
}

type fixture struct {
	engine   *Engine
	oracle   *mockOracle
	sessions *mockSessions
}

func newFixture(t *testing.T, deps Deps) *fixture {
	t.Helper()
	f := &fixture{
		oracle:   &mockOracle{decideFn: respond(domain.ActionCounter, 260, "I could do 260.")},
		sessions: newMockSessions(),
	}
	if deps.Registry == nil {
		deps.Registry = &mockRegistry{profiles: map[string]*domain.AgentProfile{
			"V":       {AgentID: "V", Description: "Two hockey tickets", Pricing: map[string]float64{"per_ticket": 275}, Status: domain.AgentActive},
			"U_buyer": {AgentID: "U_buyer", Description: "Hockey fan", Pricing: map[string]float64{"max": 240}, Status: domain.AgentActive},
		}}
	}
	deps.Sessions = f.sessions
	deps.Oracle = f.oracle
	deps.Logger = slog.Default()
	seq := 0
	deps.NewID = func(time.Time) string {
		seq++
		return fmt.Sprintf("sess-%d", seq)
	}
	f.engine = NewEngine(deps)
	return f
}

// --- Tests ---

func TestOpenCreatesActiveSessionWithTwoMessages(t *testing.T) {
	f := newFixture(t, Deps{})

	res, err := f.engine.Open(context.Background(), OpenRequest{
		AgentID:       "V",
		CounterpartID: "U_buyer",
		Message:       "Interested in your tickets",
	})
	require.NoError(t, err)

	sess := res.Session
	assert.Equal(t, "sess-1", sess.SessionID)
	assert.Equal(t, domain.SessionActive, sess.Status)
	assert.Equal(t, [2]string{"V", "U_buyer"}, sess.Participants)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, domain.RoleInitiator, sess.Messages[0].Role)
	assert.Equal(t, "Interested in your tickets", sess.Messages[0].Content)
	assert.Equal(t, domain.RoleSeller, sess.Messages[1].Role)
	assert.Equal(t, "I could do 260.", sess.Messages[1].Content)

	p := f.oracle.last()
	assert.Equal(t, domain.RoleSeller, p.Role)
	assert.Empty(t, p.History)
	assert.Equal(t, "Interested in your tickets", p.Incoming)

	stored, err := f.sessions.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2)
}

func TestOpenTerminalReplyStaysActiveByDefault(t *testing.T) {
	f := newFixture(t, Deps{})
	f.oracle.decideFn = respond(domain.ActionAccept, 275, "Deal.")

	res, err := f.engine.Open(context.Background(), OpenRequest{AgentID: "V", Message: "275?"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, res.Session.Status)
	assert.Equal(t, domain.ActionAccept, res.Decision.Action)
	assert.Equal(t, domain.UnknownCounterpart, res.Session.Participants[1])
}

func TestOpenCompletesWhenConfigured(t *testing.T) {
	f := newFixture(t, Deps{OpenCompletes: true})
	f.oracle.decideFn = respond(domain.ActionReject, 0, "No thanks.")

	res, err := f.engine.Open(context.Background(), OpenRequest{AgentID: "V", Message: "10?"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, res.Session.Status)
}

func TestOpenDefaultOpening(t *testing.T) {
	f := newFixture(t, Deps{})

	res, err := f.engine.Open(context.Background(), OpenRequest{AgentID: "V"})
	require.NoError(t, err)
	assert.Equal(t, DefaultOpening, res.Session.Messages[0].Content)
}

func TestOpenSmartComposesFromCounterpart(t *testing.T) {
	var gotSelf, gotOther *domain.AgentProfile
	var gotRole domain.Role
	opener := &mockOpener{composeFn: func(self, counterpart *domain.AgentProfile, role domain.Role) (string, error) {
		gotSelf, gotOther, gotRole = self, counterpart, role
		return "Your section 108 seats look great, would 220 work?", nil
	}}
	f := newFixture(t, Deps{Opener: opener})

	res, err := f.engine.Open(context.Background(), OpenRequest{AgentID: "V", CounterpartID: "U_buyer", Smart: true})
	require.NoError(t, err)
	assert.Equal(t, "Your section 108 seats look great, would 220 work?", res.Session.Messages[0].Content)
	assert.Equal(t, "U_buyer", gotSelf.AgentID)
	assert.Equal(t, "V", gotOther.AgentID)
	assert.Equal(t, domain.RoleBuyer, gotRole)
}

func TestOpenSmartFallsBackToDefault(t *testing.T) {
	opener := &mockOpener{composeFn: func(self, _ *domain.AgentProfile, _ domain.Role) (string, error) {
		assert.Equal(t, "ghost", self.AgentID, "unknown counterpart becomes a placeholder")
		return "", fmt.Errorf("%w: throttled", domain.ErrOracleFailed)
	}}
	f := newFixture(t, Deps{Opener: opener})

	res, err := f.engine.Open(context.Background(), OpenRequest{AgentID: "V", CounterpartID: "ghost", Smart: true})
	require.NoError(t, err)
	assert.Equal(t, SmartOpeningDefault, res.Session.Messages[0].Content)
}

func TestOpenUnknownAgent(t *testing.T) {
	f := newFixture(t, Deps{})

	_, err := f.engine.Open(context.Background(), OpenRequest{AgentID: "nobody", Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, domain.CodeAgentNotFound, domain.ErrorCodeOf(err))
	assert.Zero(t, f.sessions.puts)
}

func TestOpenStoreFailure(t *testing.T) {
	f := newFixture(t, Deps{})
	f.sessions.putErr = errors.New("disk full")

	_, err := f.engine.Open(context.Background(), OpenRequest{AgentID: "V", Message: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreFailed))
}

func TestAdvanceAcceptCompletesSession(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()

	opened, err := f.engine.Open(ctx, OpenRequest{AgentID: "V", CounterpartID: "U_buyer", Message: "Interested in your tickets"})
	require.NoError(t, err)
	before := append([]domain.NegotiationMessage(nil), opened.Session.Messages...)

	f.oracle.decideFn = respond(domain.ActionAccept, 250, "Deal at 250.")
	res, err := f.engine.Advance(ctx, AdvanceRequest{SessionID: opened.Session.SessionID, AgentID: "V", Message: "How about 250?"})
	require.NoError(t, err)

	sess := res.Session
	assert.Equal(t, domain.SessionCompleted, sess.Status)
	require.Len(t, sess.Messages, 4)
	assert.Equal(t, before, sess.Messages[:2], "earlier messages are never modified")
	assert.Equal(t, domain.RoleCounterpart, sess.Messages[2].Role)
	assert.Equal(t, "How about 250?", sess.Messages[2].Content)
	assert.Equal(t, domain.RoleSeller, sess.Messages[3].Role)
	assert.Equal(t, "Deal at 250.", sess.Messages[3].Content)
	assert.Equal(t, domain.ActionAccept, res.Decision.Action)

	stored, err := f.sessions.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, stored.Status)
	assert.Len(t, stored.Messages, 4)
}

func TestAdvanceCounterStaysActive(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()

	opened, err := f.engine.Open(ctx, OpenRequest{AgentID: "V", Message: "hi"})
	require.NoError(t, err)

	res, err := f.engine.Advance(ctx, AdvanceRequest{SessionID: opened.Session.SessionID, AgentID: "V", Message: "200?"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, res.Session.Status)
	assert.Len(t, res.Session.Messages, 4)
}

func TestAdvanceHistoryWindow(t *testing.T) {
	f := newFixture(t, Deps{HistoryWindow: 3})
	ctx := context.Background()

	opened, err := f.engine.Open(ctx, OpenRequest{AgentID: "V", Message: "m0"})
	require.NoError(t, err)
	id := opened.Session.SessionID

	_, err = f.engine.Advance(ctx, AdvanceRequest{SessionID: id, AgentID: "V", Message: "m2"})
	require.NoError(t, err)
	_, err = f.engine.Advance(ctx, AdvanceRequest{SessionID: id, AgentID: "V", Message: "m4"})
	require.NoError(t, err)

	p := f.oracle.last()
	require.Len(t, p.History, 3)
	assert.Equal(t, "I could do 260.", p.History[0].Content)
	assert.Equal(t, "m2", p.History[1].Content)
	assert.Equal(t, "I could do 260.", p.History[2].Content)
	assert.Equal(t, "m4", p.Incoming)
}

func TestAdvanceBuyerRoleFromSuffix(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()

	opened, err := f.engine.Open(ctx, OpenRequest{AgentID: "U_buyer", Message: "Tickets for 275"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleBuyer, opened.Session.Messages[1].Role)
	assert.Equal(t, domain.RoleBuyer, f.oracle.last().Role)
}

func TestAdvanceUnknownSessionCreatesNothing(t *testing.T) {
	f := newFixture(t, Deps{})

	_, err := f.engine.Advance(context.Background(), AdvanceRequest{SessionID: "missing", AgentID: "V", Message: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, domain.CodeSessionNotFound, domain.ErrorCodeOf(err))
	assert.Zero(t, f.sessions.puts)
	assert.Empty(t, f.sessions.sessions)
}

func TestAdvanceUnknownAgent(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()

	opened, err := f.engine.Open(ctx, OpenRequest{AgentID: "V", Message: "hi"})
	require.NoError(t, err)

	_, err = f.engine.Advance(ctx, AdvanceRequest{SessionID: opened.Session.SessionID, AgentID: "ghost", Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, domain.CodeAgentNotFound, domain.ErrorCodeOf(err))
}

func TestAdvanceCompletedSessionIsClosed(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()

	opened, err := f.engine.Open(ctx, OpenRequest{AgentID: "V", Message: "hi"})
	require.NoError(t, err)
	id := opened.Session.SessionID

	f.oracle.decideFn = respond(domain.ActionReject, 0, "No.")
	_, err = f.engine.Advance(ctx, AdvanceRequest{SessionID: id, AgentID: "V", Message: "10?"})
	require.NoError(t, err)

	_, err = f.engine.Advance(ctx, AdvanceRequest{SessionID: id, AgentID: "V", Message: "20?"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSessionClosed))
	assert.Equal(t, domain.CodeSessionClosed, domain.ErrorCodeOf(err))

	stored, err := f.sessions.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 4)
	assert.Equal(t, domain.SessionCompleted, stored.Status)
}

func TestAdvanceFallbackOnMalformedDecision(t *testing.T) {
	f := newFixture(t, Deps{FallbackPrice: 199})
	ctx := context.Background()

	opened, err := f.engine.Open(ctx, OpenRequest{AgentID: "V", Message: "hi"})
	require.NoError(t, err)

	f.oracle.decideFn = func(domain.NegotiationPrompt) (*domain.Decision, error) {
		return nil, fmt.Errorf("%w: %w: no JSON", domain.ErrOracleFailed, domain.ErrMalformedDecision)
	}
	res, err := f.engine.Advance(ctx, AdvanceRequest{SessionID: opened.Session.SessionID, AgentID: "V", Message: "200?"})
	require.NoError(t, err)

	d := res.Decision
	assert.True(t, d.Fallback)
	assert.Equal(t, domain.ActionCounter, d.Action)
	assert.InDelta(t, 199, d.Price, 1e-9)
	assert.Equal(t, fallbackParseMessage, d.Message)
	assert.Equal(t, "Fallback response", d.Reasoning)
	assert.Equal(t, domain.SessionActive, res.Session.Status)
	assert.Equal(t, fallbackParseMessage, res.Session.Messages[3].Content)
}

func TestAdvanceFallbackOnOracleError(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()

	opened, err := f.engine.Open(ctx, OpenRequest{AgentID: "V", Message: "hi"})
	require.NoError(t, err)

	f.oracle.decideFn = func(domain.NegotiationPrompt) (*domain.Decision, error) {
		return nil, fmt.Errorf("%w: %w", domain.ErrOracleFailed, context.DeadlineExceeded)
	}
	res, err := f.engine.Advance(ctx, AdvanceRequest{SessionID: opened.Session.SessionID, AgentID: "V", Message: "200?"})
	require.NoError(t, err)

	d := res.Decision
	assert.True(t, d.Fallback)
	assert.Equal(t, fallbackErrorMessage, d.Message)
	assert.InDelta(t, DefaultFallbackPrice, d.Price, 1e-9)
	assert.Contains(t, d.Reasoning, "Error: ")
}

func TestAdvanceValidation(t *testing.T) {
	f := newFixture(t, Deps{})

	for _, req := range []AdvanceRequest{
		{AgentID: "V", Message: "hi"},
		{SessionID: "s", Message: "hi"},
		{SessionID: "s", AgentID: "V"},
	} {
		_, err := f.engine.Advance(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	}
}

func TestConcurrentAdvancesAppendEveryTurn(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()

	opened, err := f.engine.Open(ctx, OpenRequest{AgentID: "V", Message: "hi"})
	require.NoError(t, err)
	id := opened.Session.SessionID

	const turns = 10
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Advance(ctx, AdvanceRequest{SessionID: id, AgentID: "V", Message: fmt.Sprintf("offer %d", i)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.engine.Session(ctx, id)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2+2*turns)
}

func TestExplicitRoleOverridesSuffix(t *testing.T) {
	registry := &mockRegistry{profiles: map[string]*domain.AgentProfile{
		"procurement": {AgentID: "procurement", Role: domain.RoleBuyer, Status: domain.AgentActive},
	}}
	f := newFixture(t, Deps{Registry: registry})

	res, err := f.engine.Open(context.Background(), OpenRequest{AgentID: "procurement", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleBuyer, res.Session.Messages[1].Role)
}

func TestNewULIDUniqueWithinOneTick(t *testing.T) {
	tick := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- newULID(tick)
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestOpenSameInstantGetsDistinctSessions(t *testing.T) {
	sessions := newMockSessions()
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(Deps{
		Registry: &mockRegistry{profiles: map[string]*domain.AgentProfile{
			"V": {AgentID: "V", Status: domain.AgentActive},
		}},
		Sessions: sessions,
		Oracle:   &mockOracle{decideFn: respond(domain.ActionCounter, 260, "I could do 260.")},
		Logger:   slog.Default(),
		Now:      func() time.Time { return frozen },
	})
	ctx := context.Background()

	first, err := engine.Open(ctx, OpenRequest{AgentID: "V", Message: "first"})
	require.NoError(t, err)
	second, err := engine.Open(ctx, OpenRequest{AgentID: "V", Message: "second"})
	require.NoError(t, err)
	require.NotEqual(t, first.Session.SessionID, second.Session.SessionID)

	stored, err := sessions.Get(ctx, first.Session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Messages[0].Content)
}
