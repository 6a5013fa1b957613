package remote

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a remote lifecycle failure
type Kind int

const (
	// KindValidation - bad or missing input, nothing touched yet
	KindValidation Kind = iota

	// KindConflict - name or target already exists
	KindConflict

	// KindUnsupportedType - remote type unknown or not implemented
	KindUnsupportedType

	// KindNotFound - the named remote does not exist
	KindNotFound

	// KindToolMissing - the rclone binary is not installed
	KindToolMissing

	// KindToolFailure - rclone returned non-zero, message already translated
	KindToolFailure

	// KindPathNotAllowed - local path outside the configured allow list
	KindPathNotAllowed

	// KindPhysicalMove - filesystem or cloud-level move/purge failed
	KindPhysicalMove

	// KindInternal - persistence or share-link failure after the mutation
	KindInternal
)

// RestoreOutcome reports what happened to the saga compensation
type RestoreOutcome int

const (
	// RestoreNotNeeded - no destructive step had run yet
	RestoreNotNeeded RestoreOutcome = iota

	// RestoreSucceeded - the previous configuration was put back
	RestoreSucceeded

	// RestoreFailed - compensation failed, manual recovery required
	RestoreFailed
)

// Error is the error type surfaced by every orchestrator operation.
// Restore carries the saga outcome and Aux the compensator failures,
// so the caller always sees both the original fault and the recovery state.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Restore RestoreOutcome
	Aux     []string
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	for _, aux := range e.Aux {
		sb.WriteString("; ")
		sb.WriteString(aux)
	}
	switch e.Restore {
	case RestoreSucceeded:
		sb.WriteString(" (previous configuration restored)")
	case RestoreFailed:
		sb.WriteString(" (RESTORE FAILED: manual recovery required)")
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode mappa il kind sullo status HTTP da usare nella risposta
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation, KindConflict, KindUnsupportedType, KindToolFailure, KindPathNotAllowed:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
