package domain

import (
	"context"
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the marketplace core.
var (
	ErrEmbeddingFailed   = fmt.Errorf("embedding generation failed")
	ErrOracleFailed      = fmt.Errorf("decision oracle failed")
	ErrMalformedDecision = fmt.Errorf("decision output malformed")
	ErrExtractionFailed  = fmt.Errorf("profile extraction failed")
	ErrStoreFailed       = fmt.Errorf("store operation failed")
	ErrDimensionMismatch = fmt.Errorf("vector dimension mismatch")
	ErrCorruptIndex      = fmt.Errorf("corrupt vector index")
	ErrVersionConflict   = fmt.Errorf("blob version conflict")
	ErrBlobNotFound      = fmt.Errorf("blob not found")
	ErrSessionClosed     = fmt.Errorf("negotiation session is completed")
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")

	// Provider errors surfaced by LLM and embedding backends.
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrProviderUnavail = fmt.Errorf("provider unavailable")

	// Gateway errors.
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
	ErrUnauthorized      = fmt.Errorf("gateway authentication failed")
	ErrForbidden         = fmt.Errorf("permission denied")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Matching.Register")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "agent", "negotiation"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Classify wraps err with the failure sentinel kind unless err already
// carries it. A context deadline is reported as the same kind: oracle
// timeouts are failures of the oracle, not a separate case.
func Classify(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %w", kind, ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrVersionConflict)
}

// ErrorCode is a machine-parseable error category for monitoring and API responses.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeEmbeddingFailed   ErrorCode = "EMBEDDING_FAILED"
	CodeOracleFailed      ErrorCode = "ORACLE_FAILED"
	CodeExtractionFailed  ErrorCode = "EXTRACTION_FAILED"
	CodeStoreFailed       ErrorCode = "STORE_FAILED"
	CodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
	CodeCorruptIndex      ErrorCode = "CORRUPT_INDEX"
	CodeVersionConflict   ErrorCode = "VERSION_CONFLICT"
	CodeBlobNotFound      ErrorCode = "BLOB_NOT_FOUND"
	CodeSessionClosed     ErrorCode = "SESSION_CLOSED"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeContextOverflow   ErrorCode = "CONTEXT_OVERFLOW"
	CodeProviderUnavail   ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeRPCMethodNotFound ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeForbidden         ErrorCode = "FORBIDDEN"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeAgentNotFound   ErrorCode = "AGENT_NOT_FOUND"
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"

	// Category error codes: fallback codes when no subsystem-specific code matches.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrEmbeddingFailed:   CodeEmbeddingFailed,
	ErrOracleFailed:      CodeOracleFailed,
	ErrExtractionFailed:  CodeExtractionFailed,
	ErrStoreFailed:       CodeStoreFailed,
	ErrDimensionMismatch: CodeDimensionMismatch,
	ErrCorruptIndex:      CodeCorruptIndex,
	ErrVersionConflict:   CodeVersionConflict,
	ErrBlobNotFound:      CodeBlobNotFound,
	ErrSessionClosed:     CodeSessionClosed,
	ErrConfigLoad:        CodeConfigLoad,
	ErrRateLimit:         CodeRateLimit,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrContextOverflow:   CodeContextOverflow,
	ErrProviderUnavail:   CodeProviderUnavail,
	ErrRPCMethodNotFound: CodeRPCMethodNotFound,
	ErrRPCInvalidPayload: CodeRPCInvalidPayload,
	ErrUnauthorized:      CodeUnauthorized,
	ErrForbidden:         CodeForbidden,
}

// codePriority lists the sentinels checked when walking a wrapped chain.
// Failure kinds come before their causes so that an embedding timeout
// reports EMBEDDING_FAILED rather than TIMEOUT.
var codePriority = []error{
	ErrEmbeddingFailed,
	ErrOracleFailed,
	ErrExtractionFailed,
	ErrStoreFailed,
	ErrDimensionMismatch,
	ErrCorruptIndex,
	ErrVersionConflict,
	ErrSessionClosed,
	ErrConfigLoad,
	ErrBlobNotFound,
	ErrRPCMethodNotFound,
	ErrRPCInvalidPayload,
	ErrUnauthorized,
	ErrForbidden,
	ErrRateLimit,
	ErrAuthInvalid,
	ErrContextOverflow,
	ErrProviderUnavail,
	ErrNotFound,
	ErrDuplicate,
	ErrInvalidInput,
	ErrTimeout,
	ErrProviderError,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"agent":       CodeAgentNotFound,
		"negotiation": CodeSessionNotFound,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	for _, sentinel := range codePriority {
		if errors.Is(e.Err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}
