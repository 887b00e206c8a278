package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced post or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is returned when no credentials were available for a call.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCredentialsInvalid is returned when a platform rejected our
	// credentials. Retrying with the same credentials will not help.
	ErrCredentialsInvalid = errors.New("credentials invalid")

	// ErrDelivery is returned for any other platform or network failure.
	ErrDelivery = errors.New("delivery failed")

	// ErrUnavailable is returned when an optional collaborator is not configured.
	ErrUnavailable = errors.New("unavailable")
)

// DeliveryError wraps a failed call to a platform.
type DeliveryError struct {
	Platform   Platform
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery failed (status %d): %v", e.Platform, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s delivery failed: %v", e.Platform, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// ErrorKind names the taxonomy bucket of err for logs and API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrCredentialsInvalid):
		return "CredentialsInvalid"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrDelivery):
		return "DeliveryError"
	case errors.Is(err, ErrUnavailable):
		return "Unavailable"
	default:
		return "InternalError"
	}
}
