package domain

import (
	"fmt"
	"time"
)

// ProviderKind identifies the protocol family a backend model is reached through.
type ProviderKind string

const (
	ProviderGenericInference ProviderKind = "generic-inference"
	ProviderChatGenerative   ProviderKind = "chat-generative"
	ProviderControlProtocol  ProviderKind = "control-protocol"
)

// Valid reports whether k is one of the known provider kinds.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderGenericInference, ProviderChatGenerative, ProviderControlProtocol:
		return true
	default:
		return false
	}
}

// ModelDescriptor is the immutable configuration of one callable backend model.
type ModelDescriptor struct {
	ID              string       `json:"id" yaml:"id"`
	DisplayName     string       `json:"display_name" yaml:"display_name"`
	Provider        ProviderKind `json:"provider" yaml:"provider"`
	BackendModelID  string       `json:"backend_model_id" yaml:"backend_model_id"`
	MaxOutputTokens int          `json:"max_output_tokens" yaml:"max_output_tokens"`
	Temperature     float64      `json:"temperature" yaml:"temperature"`
	Priority        int          `json:"priority" yaml:"priority"`

	// Descriptive only; the gateway never reads these.
	UseCases    []string `json:"use_cases,omitempty" yaml:"use_cases,omitempty"`
	Strengths   []string `json:"strengths,omitempty" yaml:"strengths,omitempty"`
	Limitations []string `json:"limitations,omitempty" yaml:"limitations,omitempty"`
}

// GenerationRequest is a single prompt addressed to a bot identity.
type GenerationRequest struct {
	RequestID   string
	BotIdentity string
	Prompt      string
	TaskTag     string
}

// GenerationResult is the text produced by the first candidate model that succeeded.
type GenerationResult struct {
	Text            string `json:"text"`
	ModelUsed       string `json:"model_used"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// EstimateTokens approximates the token count of text as len(text)/4.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// NewGenerationResult builds a result for text produced by backendModelID.
func NewGenerationResult(text, backendModelID string) GenerationResult {
	return GenerationResult{
		Text:            text,
		ModelUsed:       backendModelID,
		EstimatedTokens: EstimateTokens(text),
	}
}

// OutcomeKind discriminates AttemptOutcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomePermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomePermanent:
		return "permanent"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// AttemptOutcome is the result of one adapter invocation. Exactly one of the
// variants is populated, selected by Kind:
//
//	OutcomeSuccess   -> Result
//	OutcomeRetryable -> Err (reason) and Wait
//	OutcomePermanent -> Err (reason)
type AttemptOutcome struct {
	Kind   OutcomeKind
	Result GenerationResult
	Err    error
	Wait   time.Duration
}

// Succeeded returns a success outcome.
func Succeeded(result GenerationResult) AttemptOutcome {
	return AttemptOutcome{Kind: OutcomeSuccess, Result: result}
}

// Retryable returns a transient failure that may be retried once after wait.
func Retryable(reason error, wait time.Duration) AttemptOutcome {
	return AttemptOutcome{Kind: OutcomeRetryable, Err: reason, Wait: wait}
}

// Permanent returns a failure that advances the gateway to the next candidate.
func Permanent(reason error) AttemptOutcome {
	return AttemptOutcome{Kind: OutcomePermanent, Err: reason}
}

// OK reports whether the outcome is a success.
func (o AttemptOutcome) OK() bool { return o.Kind == OutcomeSuccess }

// Reason returns a printable failure reason, or "" on success.
func (o AttemptOutcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
