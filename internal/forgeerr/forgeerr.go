// Package forgeerr defines the closed error taxonomy used across the
// orchestration engine. Each kind carries a stable machine-readable
// code so the HTTP front-end can map errors to status codes without
// string matching.
package forgeerr

import "fmt"

// Code identifies an error kind for machine consumption (logs, HTTP
// responses, metrics).
type Code string

const (
	CodeValidation       Code = "validation_error"
	CodeInferenceTimeout Code = "inference_timeout"
	CodeInferenceUnreach Code = "inference_unreachable"
	CodeInferenceBackend Code = "inference_backend"
	CodeDecomposition    Code = "decomposition_error"
	CodePersonaStore     Code = "persona_store_error"
	CodeState            Code = "state_error"
	CodeCancelled        Code = "cancelled"
	CodeWorkflowTimeout  Code = "workflow_timeout"
)

// Error is the common shape for every sentinel error kind below. Code
// is stable across releases; Message is human-readable; Err, when set,
// is the wrapped cause.
type Error struct {
	Kind    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Code reports the stable machine-readable code for this error.
func (e *Error) Code() Code { return e.Kind }

func newErr(kind Code, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// ValidationError marks a rejected request body. Never retried. HTTP 400.
func ValidationError(msg string) *Error { return newErr(CodeValidation, msg, nil) }

// InferenceTimeout marks an inference call that exceeded its deadline.
func InferenceTimeout(msg string, err error) *Error { return newErr(CodeInferenceTimeout, msg, err) }

// InferenceUnreachable marks a connection failure to the inference backend.
func InferenceUnreachable(msg string, err error) *Error {
	return newErr(CodeInferenceUnreach, msg, err)
}

// InferenceBackend marks a non-2xx response from the inference backend.
func InferenceBackend(msg string, err error) *Error { return newErr(CodeInferenceBackend, msg, err) }

// DecompositionError marks a cyclic dependency or empty decomposition.
// The workflow fails before dispatch. HTTP 422.
func DecompositionError(msg string) *Error { return newErr(CodeDecomposition, msg, nil) }

// PersonaStoreError marks an fsync or parse failure in the persona store.
func PersonaStoreError(msg string, err error) *Error { return newErr(CodePersonaStore, msg, err) }

// StateError marks an illegal state-machine transition. Always a bug.
func StateError(msg string) *Error { return newErr(CodeState, msg, nil) }

// Cancelled marks a workflow terminated by cancellation.
func Cancelled(msg string) *Error { return newErr(CodeCancelled, msg, nil) }

// WorkflowTimeout marks a workflow terminated by the per-workflow timeout.
func WorkflowTimeout(msg string) *Error { return newErr(CodeWorkflowTimeout, msg, nil) }

// As reports whether err (or one it wraps) is a *Error, returning it.
func As(err error) (*Error, bool) {
	var fe *Error
	ok := asError(err, &fe)
	return fe, ok
}

// asError is a thin wrapper so callers don't need to import "errors"
// just to use forgeerr.As.
func asError(err error, target **Error) bool {
	for err != nil {
		if fe, ok := err.(*Error); ok {
			*target = fe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
