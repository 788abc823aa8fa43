package types

import "fmt"

// ErrorCode enumerates the dependency-specific rejection codes spec §7 names
// numerically; the rest are represented by their Kind alone.
type ErrorCode int

const (
	ErrCodeVMRefNotFound           ErrorCode = 300
	ErrCodeVMVolumeNotFound        ErrorCode = 301
	ErrCodeVMUpdateNotAllowed      ErrorCode = 302
	ErrCodeVMUpdateWrongVersion    ErrorCode = 303
	ErrCodeVMVolumeParentTooLarge  ErrorCode = 304
)

// Kind is the coarse error classification spec §7 dispatches retry policy on.
type Kind string

const (
	KindInvalidMessageFormat       Kind = "InvalidMessageFormat"
	KindInvalidSignature           Kind = "InvalidSignature"
	KindInvalidContent             Kind = "InvalidContent"
	KindContentCurrentlyUnavailable Kind = "ContentCurrentlyUnavailable"
	KindMessageContentUnavailable  Kind = "MessageContentUnavailable"
	KindPermissionDenied           Kind = "PermissionDenied"
	KindStoreRefNotFound           Kind = "STORE_REF_NOT_FOUND"
	KindStoreCannotUpdateWithRef   Kind = "STORE_CANNOT_UPDATE_STORE_WITH_REF"
	KindFileUnavailable            Kind = "FILE_UNAVAILABLE"
)

// ProcessingError is the typed error every content handler and pipeline stage
// returns. Transient() decides the retry-vs-reject split of spec §7.
type ProcessingError struct {
	Kind      Kind
	Code      ErrorCode
	Message   string
	Details   map[string]any
	transient bool
}

func (e *ProcessingError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// Transient reports whether the pipeline should retry (incrementing
// PendingMessage.Retries) rather than reject immediately (spec §7).
func (e *ProcessingError) Transient() bool { return e.transient }

// NewPermanent builds a non-retryable ProcessingError.
func NewPermanent(kind Kind, message string) *ProcessingError {
	return &ProcessingError{Kind: kind, Message: message}
}

// NewPermanentWithCode builds a non-retryable ProcessingError carrying one of
// the numeric dependency codes.
func NewPermanentWithCode(kind Kind, code ErrorCode, message string) *ProcessingError {
	return &ProcessingError{Kind: kind, Code: code, Message: message}
}

// NewTransient builds a retryable ProcessingError (network/timeout/DB
// contention).
func NewTransient(kind Kind, message string) *ProcessingError {
	return &ProcessingError{Kind: kind, Message: message, transient: true}
}

// WithDetails attaches structured detail to an error and returns it, for
// chaining at the call site.
func (e *ProcessingError) WithDetails(d map[string]any) *ProcessingError {
	e.Details = d
	return e
}

// AsProcessingError extracts a *ProcessingError from err, if any.
func AsProcessingError(err error) (*ProcessingError, bool) {
	pe, ok := err.(*ProcessingError)
	return pe, ok
}
