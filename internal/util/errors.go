package util

import (
	"errors"
	"fmt"
)

// Error kinds mirror how the request layer maps engine failures to
// status codes. Match with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrExternalService = errors.New("external service error")
)

var (
	ErrLectureNotFound    = fmt.Errorf("lecture %w", ErrNotFound)
	ErrQuestionNotFound   = fmt.Errorf("question %w", ErrNotFound)
	ErrAllocationNotFound = fmt.Errorf("allocation %w", ErrNotFound)
	ErrInvalidWallet      = fmt.Errorf("%w: invalid address", ErrValidation)
	ErrSyncInProgress     = fmt.Errorf("%w: another sync is in progress", ErrValidation)
)

func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

func Configurationf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConfiguration)
}

func ExternalServicef(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrExternalService)
}
