package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable classification surfaced to callers. The human
// message may vary; the kind never does.
type ErrorKind string

const (
	// KindGenerationFailure means a text-generation provider call failed.
	KindGenerationFailure ErrorKind = "generation_failure"
	// KindParseFailure means provider output was not well-formed after all
	// permitted attempts.
	KindParseFailure ErrorKind = "parse_failure"
	// KindQuotaExceeded means the quota collaborator refused the request
	// before any generation side effect occurred.
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	// KindAdmissionRejected means the per-user concurrent session cap was hit.
	KindAdmissionRejected ErrorKind = "admission_rejected"
	// KindPersistenceFailure means a store write failed.
	KindPersistenceFailure ErrorKind = "persistence_failure"
)

// EngineError is the structured error returned across the engine boundary.
type EngineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewEngineError builds a classified error wrapping an underlying cause.
func NewEngineError(kind ErrorKind, cause error, format string, args ...interface{}) *EngineError {
	return &EngineError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// KindOf extracts the error kind, or empty string for unclassified errors.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
