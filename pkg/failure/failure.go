// Package failure classifies extraction errors so callers can decide whether
// to retry, report to the user, or treat the failure as an internal bug.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure
type Kind string

const (
	// KindValidation is a bad configuration or query detected locally
	KindValidation Kind = "validation"
	// KindTransient is a remote or network error worth retrying
	KindTransient Kind = "transient"
	// KindPermanent is a remote rejection that will not change on retry
	KindPermanent Kind = "permanent"
	// KindNotFound means the remote side says the requested data does not exist
	KindNotFound Kind = "not_found"
	// KindExpiredSession means the session token is no longer accepted
	KindExpiredSession Kind = "expired_session"
	// KindAuth means the credentials were rejected
	KindAuth Kind = "auth"
	// KindPartial means some batches of a job failed while others succeeded
	KindPartial Kind = "partial"
	// KindSchemaCorruption means non-empty slices disagree on their header
	KindSchemaCorruption Kind = "schema_corruption"
	// KindExhausted means a transient error persisted past the retry budget
	KindExhausted Kind = "retry_exhausted"
	// KindInternal is anything unexpected
	KindInternal Kind = "internal"
)

// Error is a classified error. Op names the operation that failed, Code
// carries the remote diagnostic code when there is one.
type Error struct {
	Kind    Kind
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}

	if e.Op == "" {
		return msg
	}

	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation returns a validation error naming the offending parameter
func Validation(param, message string) *Error {
	return &Error{Kind: KindValidation, Op: param, Message: message}
}

// KindOf returns the kind of the first classified error in err's chain,
// or KindInternal when there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return KindInternal
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether retrying the failed call may succeed
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// IsUserError reports whether the failure is something the user can fix
// through configuration, query text or credentials.
func IsUserError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindPermanent, KindAuth, KindExpiredSession, KindSchemaCorruption, KindPartial:
		return true
	default:
		return false
	}
}

// ExitCode maps an error to the process exit status
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	if IsUserError(err) {
		return 1
	}

	return 2
}
