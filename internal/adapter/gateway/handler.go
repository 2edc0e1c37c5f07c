package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agent-market/internal/domain"
	"agent-market/internal/usecase/admin"
	"agent-market/internal/usecase/matching"
	"agent-market/internal/usecase/negotiation"
)

// Marketplace is the matching surface served by the gateway.
type Marketplace interface {
	Register(ctx context.Context, req matching.RegisterRequest) (*matching.RegisterResult, error)
	Create(ctx context.Context, req matching.CreateRequest) (*matching.CreateResult, error)
	FindMatches(ctx context.Context, req matching.FindRequest) (*matching.FindResult, error)
	Deactivate(ctx context.Context, agentID string) error
	Agent(ctx context.Context, agentID string) (*domain.AgentProfile, error)
}

// Negotiator is the negotiation surface served by the gateway.
type Negotiator interface {
	Open(ctx context.Context, req negotiation.OpenRequest) (*negotiation.Result, error)
	Advance(ctx context.Context, req negotiation.AdvanceRequest) (*negotiation.Result, error)
	Session(ctx context.Context, sessionID string) (*domain.NegotiationSession, error)
}

// Resetter wipes the marketplace.
type Resetter interface {
	Reset(ctx context.Context) (*admin.ResetResult, error)
}

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Market      Marketplace
	Negotiation Negotiator
	Admin       Resetter // can be nil (reset disabled)
	Logger      *slog.Logger
}

// RPC method names.
const (
	MethodRegister    = "market.register"
	MethodCreate      = "market.create"
	MethodGetAgent    = "market.get"
	MethodDeactivate  = "market.deactivate"
	MethodFindMatches = "market.find_matches"
	MethodOpen        = "negotiation.open"
	MethodOpenSmart   = "negotiation.open_smart"
	MethodAdvance     = "negotiation.advance"
	MethodGetSession  = "negotiation.get"
	MethodReset       = "admin.reset"
)

// RegisterDefaultHandlers registers all RPC handlers on the server.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	s.RegisterHandler(MethodRegister, registerHandler(deps))
	s.RegisterHandler(MethodCreate, createHandler(deps))
	s.RegisterHandler(MethodGetAgent, getAgentHandler(deps))
	s.RegisterHandler(MethodDeactivate, deactivateHandler(deps))
	s.RegisterHandler(MethodFindMatches, findMatchesHandler(deps))
	s.RegisterHandler(MethodOpen, openHandler(deps, false))
	s.RegisterHandler(MethodOpenSmart, openHandler(deps, true))
	s.RegisterHandler(MethodAdvance, advanceHandler(deps))
	s.RegisterHandler(MethodGetSession, getSessionHandler(deps))
	if deps.Admin != nil {
		s.RegisterHandler(MethodReset, requireAdmin(resetHandler(deps)))
	}
}

func requireAdmin(handler RPCHandler) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		if !client.Admin {
			return nil, domain.ErrForbidden
		}
		return handler(ctx, client, payload)
	}
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return domain.ErrRPCInvalidPayload
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
	}
	return nil
}

// --- market ---

type registerRequest struct {
	AgentID     string             `json:"agent_id"`
	Description string             `json:"description"`
	Services    []string           `json:"services"`
	Pricing     map[string]float64 `json:"pricing"`
	Role        domain.Role        `json:"role"`
}

func registerHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req registerRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		res, err := deps.Market.Register(ctx, matching.RegisterRequest{
			AgentID:     req.AgentID,
			Description: req.Description,
			Services:    req.Services,
			Pricing:     req.Pricing,
			Role:        req.Role,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
}

type createRequest struct {
	AgentID     string      `json:"agent_id"`
	Description string      `json:"description"`
	Role        domain.Role `json:"role"`
}

func createHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req createRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		res, err := deps.Market.Create(ctx, matching.CreateRequest{
			AgentID:     req.AgentID,
			Description: req.Description,
			Role:        req.Role,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
}

type agentRequest struct {
	AgentID string `json:"agent_id"`
}

func getAgentHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req agentRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		profile, err := deps.Market.Agent(ctx, req.AgentID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(profile)
	}
}

func deactivateHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req agentRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		if err := deps.Market.Deactivate(ctx, req.AgentID); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"agent_id": req.AgentID, "status": string(domain.AgentInactive)})
	}
}

type findMatchesRequest struct {
	AgentID    string `json:"agent_id"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func findMatchesHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req findMatchesRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		res, err := deps.Market.FindMatches(ctx, matching.FindRequest{
			AgentID:    req.AgentID,
			Query:      req.Query,
			MaxResults: req.MaxResults,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
}

// --- negotiation ---

type openRequest struct {
	AgentID       string `json:"agent_id"`
	CounterpartID string `json:"counterpart_id"`
	Message       string `json:"message"`
}

func openHandler(deps HandlerDeps, smart bool) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req openRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		res, err := deps.Negotiation.Open(ctx, negotiation.OpenRequest{
			AgentID:       req.AgentID,
			CounterpartID: req.CounterpartID,
			Message:       req.Message,
			Smart:         smart,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
}

type advanceRequest struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	Message   string `json:"message"`
}

func advanceHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req advanceRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		res, err := deps.Negotiation.Advance(ctx, negotiation.AdvanceRequest{
			SessionID: req.SessionID,
			AgentID:   req.AgentID,
			Message:   req.Message,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func getSessionHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		sess, err := deps.Negotiation.Session(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sess)
	}
}

// --- admin ---

func resetHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		res, err := deps.Admin.Reset(ctx)
		if err != nil {
			return nil, err
		}
		deps.Logger.Warn("admin reset via gateway", "client", client.Name)
		return json.Marshal(res)
	}
}

// --- HTTP ---

// maxBodyBytes bounds HTTP request bodies.
const maxBodyBytes = 1 << 20

var (
	marketActions = map[string]string{
		"register":     MethodRegister,
		"create":       MethodCreate,
		"get":          MethodGetAgent,
		"deactivate":   MethodDeactivate,
		"find_matches": MethodFindMatches,
	}
	negotiationActions = map[string]string{
		"initiate":       MethodOpen,
		"initiate_smart": MethodOpenSmart,
		"negotiate":      MethodAdvance,
		"get":            MethodGetSession,
	}
)

// RegisterRESTHandlers registers the HTTP JSON endpoints. Action endpoints
// take {"action": "...", ...fields} and dispatch to the matching RPC method.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) {
	s.RegisterHTTPRoute("POST /api/v1/market", s.authenticated(actionHandler(s, marketActions)))
	s.RegisterHTTPRoute("POST /api/v1/negotiations", s.authenticated(actionHandler(s, negotiationActions)))
	if deps.Admin != nil {
		s.RegisterHTTPRoute("POST /api/v1/admin/reset", s.authenticated(methodHandler(s, MethodReset)))
	}
	s.RegisterHTTPRoute("GET /healthz", healthHandler(s.metrics.start))
	s.RegisterHTTPRoute("GET /metrics", s.authenticated(metricsHandler(s.metrics)))
}

type clientKey struct{}

// authenticated resolves the bearer token (header or ?token=) to a client.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		client, err := s.auth.Authenticate(token)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, client)))
	}
}

func clientFrom(ctx context.Context) *ClientInfo {
	if c, ok := ctx.Value(clientKey{}).(*ClientInfo); ok {
		return c
	}
	return &ClientInfo{Name: "anonymous"}
}

func actionHandler(s *Server, actions map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err))
			return
		}
		var head struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(body, &head); err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err))
			return
		}
		method, ok := actions[head.Action]
		if !ok {
			writeError(w, domain.NewDomainError("gateway.action", domain.ErrInvalidInput, fmt.Sprintf("unknown action %q", head.Action)))
			return
		}

		result, err := s.call(r.Context(), clientFrom(r.Context()), method, body)
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, result)
	}
}

func methodHandler(s *Server, method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.call(r.Context(), clientFrom(r.Context()), method, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		writeResult(w, result)
	}
}

func healthHandler(start time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		result, _ := json.Marshal(map[string]any{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(start).Seconds()),
		})
		writeResult(w, result)
	}
}
