package threat

import (
	"errors"
	"fmt"
)

// Error taxonomy for the scoring path. Only ErrInput is ever surfaced to
// callers; every other class is absorbed and recorded in verdict metadata.
var (
	ErrInput           = errors.New("invalid input")
	ErrProviderTimeout = errors.New("provider timeout")
	ErrProviderFailure = errors.New("provider failure")
	ErrParse           = errors.New("malformed response payload")
)

// NewInputError wraps a caller-visible validation failure.
func NewInputError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInput, msg)
}

// IsInputError reports whether err belongs to the caller-visible class.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInput)
}
