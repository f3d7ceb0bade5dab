package errors

import "errors"

// Sentinels for domain errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("service unavailable")

	// Configuration errors. Campaigns carrying either of these never
	// transition to active; they are validated at activation time.
	ErrInvalidFunnelGraph = errors.New("invalid funnel graph")
	ErrInvalidAllocation  = errors.New("invalid traffic allocation")

	// ErrInsufficientData is informational: a significance computation
	// declined to conclude because an arm is below its minimum sample size.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrTransport marks dialer/gateway infrastructure failures. These are
	// never business outcomes and never consume a call attempt.
	ErrTransport = errors.New("transport failure")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
