package history

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers classify with errors.Is.
var (
	// ErrInvalidArgument is rejected input: unknown zone, inverted range, bad settings
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTagNotFound is returned by queries for a tag without history
	ErrTagNotFound = errors.New("tag not found")

	// ErrInvariantViolation is an internal-consistency fault detected at write time
	ErrInvariantViolation = errors.New("history invariant violation")

	// ErrTransient is a storage failure after which the whole debounce may be retried
	ErrTransient = errors.New("transient storage failure")
)

// Specific input errors
var (
	ErrUnknownZone      = fmt.Errorf("%w: unknown zone", ErrInvalidArgument)
	ErrStaleObservation = fmt.Errorf("%w: observation older than the open interval", ErrInvalidArgument)
	ErrSettingMissing   = fmt.Errorf("%w: setting missing", ErrInvalidArgument)
	ErrInvalidSetting   = fmt.Errorf("%w: setting must be a positive duration", ErrInvalidArgument)
)

// Specific store faults
var (
	ErrOpenIntervalExists = fmt.Errorf("%w: tag already has an open interval", ErrInvariantViolation)
	ErrOverlap            = fmt.Errorf("%w: interval overlaps existing history", ErrInvariantViolation)
	ErrAlreadyClosed      = fmt.Errorf("%w: interval already closed", ErrInvariantViolation)
	ErrNotClosed          = fmt.Errorf("%w: interval is not closed", ErrInvariantViolation)
	ErrInvertedInterval   = fmt.Errorf("%w: end before start", ErrInvariantViolation)
	ErrIntervalNotFound   = fmt.Errorf("%w: interval not found", ErrInvariantViolation)
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether a failed debounce may be replayed as a whole
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
