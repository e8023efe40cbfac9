package provider

import "fmt"

// FailureKind classifies a failed provider call.
type FailureKind string

const (
	// FailureTimeout means the workflow did not respond within the call
	// timeout. Transient, retryable.
	FailureTimeout FailureKind = "timeout"
	// FailureUnreachable covers transport failures and provider-side 5xx
	// responses. Transient, retryable.
	FailureUnreachable FailureKind = "unreachable"
	// FailureInvalidResponse means the provider answered but the payload
	// failed schema validation or the request was rejected outright.
	// Treated as a data problem, never retried.
	FailureInvalidResponse FailureKind = "invalid_response"
)

// CallError is the typed failure of one provider call. It is carried inside
// the Result rather than returned, so the pipeline can proceed with the
// sibling provider's result.
type CallError struct {
	Provider string
	Kind     FailureKind
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider %s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
func (e *CallError) Transient() bool {
	return e.Kind == FailureTimeout || e.Kind == FailureUnreachable
}
