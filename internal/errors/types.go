package errors

import (
	"errors"
	"fmt"
	"net"
)

// Kind classifies agent errors for propagation policy decisions.
type Kind string

const (
	// KindConfig - missing api key / model / base url; never recovered.
	KindConfig Kind = "config"
	// KindTransport - network failure reaching the LLM; retried once.
	KindTransport Kind = "transport"
	// KindUpstream - non-2xx from the LLM provider; not retried.
	KindUpstream Kind = "upstream"
	// KindPlanParse - planner output was not valid plan JSON.
	KindPlanParse Kind = "plan_parse"
	// KindMissingSkill - a plan referenced a skill absent from the registry.
	KindMissingSkill Kind = "missing_skill"
	// KindSkillTimeout - a skill invocation exceeded its deadline.
	KindSkillTimeout Kind = "skill_timeout"
	// KindSkillRuntime - a skill reported success=false.
	KindSkillRuntime Kind = "skill_runtime"
	// KindReviewExhausted - max review rounds reached with failures remaining.
	KindReviewExhausted Kind = "review_exhausted"
	// KindCancelled - the user stopped generation mid-turn.
	KindCancelled Kind = "cancelled"
)

// AgentError carries a Kind so call sites can branch on classification
// without string matching.
type AgentError struct {
	Kind    Kind
	Err     error
	Message string // user-facing message, may be empty
}

func (e *AgentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and optional user-facing message.
func New(kind Kind, err error, message string) *AgentError {
	return &AgentError{Kind: kind, Err: err, Message: message}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, format string, args ...any) *AgentError {
	return &AgentError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the call site should retry once. Only
// transport-level failures qualify; upstream rejections never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, KindTransport) {
		return true
	}
	if Is(err, KindUpstream) || Is(err, KindConfig) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
