package domain

import "errors"

// Domain errors
var (
	ErrPlayerNotFound   = errors.New("player not found")
	ErrInvalidResult    = errors.New("invalid game result")
	ErrDuplicateMatch   = errors.New("match already processed")
	ErrPlayerBusy       = errors.New("player record locked, retry later")
	ErrStoreUnavailable = errors.New("player store unavailable")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInternalError    = errors.New("internal server error")
)

// IsRetryable reports whether the caller may resubmit after a backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPlayerBusy) || errors.Is(err, ErrStoreUnavailable)
}

// IsValidation reports whether the submission itself was malformed and must
// not be retried.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidResult) || errors.Is(err, ErrInvalidRequest)
}
