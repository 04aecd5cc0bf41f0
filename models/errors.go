package models

import (
	"errors"
	"fmt"
)

// Error kinds used in API responses and internal error handling.
const (
	KindLeaseExpired      = "lease_expired"
	KindInvalidToken      = "invalid_token"
	KindNotFound          = "not_found"
	KindPoolExhausted     = "pool_exhausted"
	KindSendTimeout       = "send_timeout"
	KindResponseStopped   = "response_stopped"
	KindResponseEmpty     = "response_empty"
	KindPasteVerification = "paste_verification_failed"
	KindDriverError       = "driver_error"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// PoolError is the internal error type carrying an error kind.
// It implements the error interface and supports error wrapping via Unwrap.
type PoolError struct {
	Kind    string
	Message string
	Err     error // wrapped original error
}

func (e *PoolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PoolError) Unwrap() error {
	return e.Err
}

// NewPoolError creates a new PoolError.
func NewPoolError(kind, message string, err error) *PoolError {
	return &PoolError{Kind: kind, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *PoolError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Error: e.Kind, Detail: e.Message}
}

// KindOf extracts the error kind from any error. Errors that are not
// PoolErrors count as driver errors.
func KindOf(err error) string {
	var pe *PoolError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindDriverError
}
