package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Category sentinels.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the generation gateway.
var (
	ErrConfigMissing       = fmt.Errorf("required credential not configured")
	ErrModelLoading        = fmt.Errorf("model is loading")
	ErrRateLimit           = fmt.Errorf("rate limit exceeded")
	ErrMalformedResponse   = fmt.Errorf("malformed provider response")
	ErrUnreachable         = fmt.Errorf("provider unreachable")
	ErrCircuitOpen         = fmt.Errorf("circuit open")
	ErrCandidatesExhausted = fmt.Errorf("all candidate models failed")
	ErrCatalogInvalid      = fmt.Errorf("model catalog invalid")
	ErrConfigLoad          = fmt.Errorf("failed to load configuration")
	ErrAuthInvalid         = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Gateway.GenerateForBot")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
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

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CandidateFailure records why one candidate model was abandoned.
type CandidateFailure struct {
	ModelID string
	Reason  string
}

// ExhaustionError is returned when every candidate model for a bot identity failed.
// It is the only provider-side error that reaches callers of the gateway.
type ExhaustionError struct {
	BotIdentity string
	Tried       int
	Failures    []CandidateFailure
}

func (e *ExhaustionError) Error() string {
	msg := fmt.Sprintf("all %d candidate models failed for bot %q", e.Tried, e.BotIdentity)
	if len(e.Failures) == 0 {
		return msg
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.ModelID+": "+f.Reason)
	}
	return msg + ": [" + strings.Join(parts, "; ") + "]"
}

func (e *ExhaustionError) Unwrap() error { return ErrCandidatesExhausted }

// IsRetryableError reports whether err is a transient provider error that may
// succeed on a single retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrModelLoading)
}

// ErrorCode is a machine-parseable error category for monitoring and API responses.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeProviderError       ErrorCode = "PROVIDER_ERROR"
	CodeConfigMissing       ErrorCode = "CONFIG_MISSING"
	CodeModelLoading        ErrorCode = "MODEL_LOADING"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeMalformedResponse   ErrorCode = "MALFORMED_RESPONSE"
	CodeUnreachable         ErrorCode = "UNREACHABLE"
	CodeCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
	CodeCandidatesExhausted ErrorCode = "CANDIDATES_EXHAUSTED"
	CodeCatalogInvalid      ErrorCode = "CATALOG_INVALID"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeCanceled            ErrorCode = "CANCELED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:            CodeNotFound,
	ErrInvalidInput:        CodeInvalidInput,
	ErrProviderError:       CodeProviderError,
	ErrConfigMissing:       CodeConfigMissing,
	ErrModelLoading:        CodeModelLoading,
	ErrRateLimit:           CodeRateLimit,
	ErrMalformedResponse:   CodeMalformedResponse,
	ErrUnreachable:         CodeUnreachable,
	ErrCircuitOpen:         CodeCircuitOpen,
	ErrCandidatesExhausted: CodeCandidatesExhausted,
	ErrCatalogInvalid:      CodeCatalogInvalid,
	ErrConfigLoad:          CodeConfigLoad,
	ErrAuthInvalid:         CodeAuthInvalid,
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
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	if errors.Is(err, ErrCandidatesExhausted) {
		return CodeCandidatesExhausted
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCanceled
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
