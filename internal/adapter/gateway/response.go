package gateway

import (
	"encoding/json"
	"net/http"

	"agent-market/internal/domain"
)

// envelope is the body of every HTTP JSON response.
type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// statusFor maps an error to its HTTP status through its error code.
func statusFor(err error) int {
	switch domain.ErrorCodeOf(err) {
	case domain.CodeInvalidInput, domain.CodeRPCInvalidPayload, domain.CodeDimensionMismatch:
		return http.StatusBadRequest
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeNotFound, domain.CodeAgentNotFound, domain.CodeSessionNotFound, domain.CodeRPCMethodNotFound:
		return http.StatusNotFound
	case domain.CodeSessionClosed, domain.CodeVersionConflict, domain.CodeDuplicate:
		return http.StatusConflict
	case domain.CodeEmbeddingFailed, domain.CodeOracleFailed, domain.CodeExtractionFailed, domain.CodeProviderError,
		domain.CodeProviderUnavail, domain.CodeRateLimit, domain.CodeAuthInvalid, domain.CodeContextOverflow:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeResult(w http.ResponseWriter, result json.RawMessage) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Result: result})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), envelope{
		Error: err.Error(),
		Code:  string(domain.ErrorCodeOf(err)),
	})
}

// RejectRateLimited writes the response for a request over the gateway rate limit.
func RejectRateLimited(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, envelope{
		Error: "rate limit exceeded",
		Code:  string(domain.CodeRateLimit),
	})
}
