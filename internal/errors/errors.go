package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors used to classify failures across the engine. Errors are
// tagged with Mark so callers can branch on the class without depending on
// the concrete error chain.
var (
	ErrValidation         = errors.New("validation_error")
	ErrNotFound           = errors.New("not_found")
	ErrAlreadyExists      = errors.New("already_exists")
	ErrConflict           = errors.New("revision_conflict")
	ErrDatabase           = errors.New("database_error")
	ErrInternal           = errors.New("internal_error")
	ErrSystem             = errors.New("system_error")
	ErrHTTPClient         = errors.New("http_client_error")
	ErrInvalidAggregation = errors.New("invalid_aggregation_value")
	ErrUpstreamLookup     = errors.New("upstream_lookup_failure")
)

// InternalError is the builder used throughout the codebase to construct
// errors with a user-facing hint and structured details. A builder is
// finalized with Mark which classifies it against one of the sentinels.
type InternalError struct {
	cause   error
	hint    string
	details map[string]interface{}
}

// NewError starts a builder from a plain message.
func NewError(msg string) *InternalError {
	return &InternalError{cause: errors.New(msg)}
}

// NewErrorf starts a builder from a formatted message.
func NewErrorf(format string, args ...interface{}) *InternalError {
	return &InternalError{cause: errors.Newf(format, args...)}
}

// WithError starts a builder wrapping an existing error.
func WithError(err error) *InternalError {
	return &InternalError{cause: err}
}

func (e *InternalError) Error() string {
	return e.cause.Error()
}

func (e *InternalError) Unwrap() error {
	return e.cause
}

// WithHint attaches a human-readable hint surfaced in API responses.
func (e *InternalError) WithHint(hint string) *InternalError {
	e.hint = hint
	return e
}

// WithHintf attaches a formatted hint.
func (e *InternalError) WithHintf(format string, args ...interface{}) *InternalError {
	e.hint = fmt.Sprintf(format, args...)
	return e
}

// WithReportableDetails attaches structured details safe to return to clients.
func (e *InternalError) WithReportableDetails(details map[string]interface{}) *InternalError {
	e.details = details
	return e
}

// Mark finalizes the builder, classifying it against the given sentinel.
func (e *InternalError) Mark(ref error) error {
	return errors.Mark(e, ref)
}

// Hint extracts the hint from the nearest InternalError in the chain.
func Hint(err error) string {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie.hint
	}
	return ""
}

// Details extracts reportable details from the nearest InternalError.
func Details(err error) map[string]interface{} {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie.details
	}
	return nil
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

func IsInvalidAggregation(err error) bool {
	return errors.Is(err, ErrInvalidAggregation)
}

func IsUpstreamLookup(err error) bool {
	return errors.Is(err, ErrUpstreamLookup)
}

// Is re-exports errors.Is so callers don't need two errors imports.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As re-exports errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
