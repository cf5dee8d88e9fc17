package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the caller-visible error shape. Services construct these for
// failures that map 1:1 to HTTP statuses; everything else stays an internal
// error and surfaces as a 500 at the boundary.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// As unwraps err into an *Error, or nil when it is not one.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

const (
	CodeValidation           = "validation_failed"
	CodeUnauthorized         = "unauthorized"
	CodeQuotaExceeded        = "quota_exceeded"
	CodeModelAccessDenied    = "model_access_denied"
	CodeConversationNotFound = "conversation_not_found"
	CodeBatchTooLarge        = "batch_too_large"
	CodeNotFound             = "not_found"
)

func Validation(err error) *Error {
	return New(http.StatusBadRequest, CodeValidation, err)
}

func Unauthorized(err error) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, err)
}

// QuotaKind reports which limit was exhausted.
type QuotaKind string

const (
	QuotaDaily   QuotaKind = "daily"
	QuotaMonthly QuotaKind = "monthly"
)

// QuotaError carries the exhausted limit kind alongside the API status.
type QuotaError struct {
	API  Error
	Kind QuotaKind
}

func (e *QuotaError) Error() string { return e.API.Error() }

func (e *QuotaError) Unwrap() error { return e.API.Err }

// As lets errors.As(err, **Error) see through a QuotaError, so the HTTP
// boundary maps it to a status without knowing about quota kinds.
func (e *QuotaError) As(target any) bool {
	if p, ok := target.(**Error); ok {
		*p = &e.API
		return true
	}
	return false
}

func QuotaExceeded(kind QuotaKind) *QuotaError {
	return &QuotaError{
		API: Error{
			Status: http.StatusTooManyRequests,
			Code:   CodeQuotaExceeded,
			Err:    fmt.Errorf("%s message limit reached", kind),
		},
		Kind: kind,
	}
}

func ModelAccessDenied(modelID string) *Error {
	return New(http.StatusForbidden, CodeModelAccessDenied, fmt.Errorf("model %s requires a user-provided API key", modelID))
}

func ConversationNotFound(id string) *Error {
	return New(http.StatusNotFound, CodeConversationNotFound, fmt.Errorf("conversation %s not found", id))
}

func BatchTooLarge(size, max int) *Error {
	return New(http.StatusBadRequest, CodeBatchTooLarge, fmt.Errorf("batch of %d messages exceeds limit of %d", size, max))
}

func NotFound(what string) *Error {
	return New(http.StatusNotFound, CodeNotFound, fmt.Errorf("%s not found", what))
}
