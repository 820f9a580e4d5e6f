package lib

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidSubscription = fmt.Errorf("%w: subscription has no push endpoint", ErrValidation)
	ErrUnauthorized        = errors.New("no owner identity: sign in or supply a device id")
	ErrNotConfigured       = errors.New("push delivery is not configured")
	ErrStoreUnavailable    = errors.New("subscription store unavailable")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
