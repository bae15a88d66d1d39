package app

import (
	"errors"
	"fmt"

	"ebookstore/pkg/domain"
)

var (
	ErrBookNotFound    = errors.New("book not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrRequestNotFound = errors.New("download request not found")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrStorage wraps object storage failures surfaced to callers.
	ErrStorage = errors.New("storage failure")

	ErrUserNotApproved = errors.New("account is awaiting admin approval")
	// ErrRequestClosed is returned when a request already reached the other
	// terminal state.
	ErrRequestClosed = errors.New("download request already closed")

	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is shown to end users for both unknown email and
	// wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidResetToken  = errors.New("password reset token is invalid or has expired")
	ErrMailFailure        = errors.New("email could not be sent")
)

// DuplicateRequestError is returned when the user already holds a request on
// the book. Status is the existing request's status.
type DuplicateRequestError struct {
	Request domain.DownloadRequest
	Status  domain.RequestStatus
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("download already requested (status: %s)", e.Status)
}

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Field + " is required"
}

func missing(field string) error {
	return &ValidationError{Field: field}
}
