package push

import "errors"

var (
	// ErrNoDisplayer is returned when a push arrives and nothing can show it.
	ErrNoDisplayer = errors.New("no notification displayer configured")
	// ErrDisplayUnavailable is returned when every displayer failed with a
	// temporary error and retries ran out.
	ErrDisplayUnavailable = errors.New("notification display temporarily unavailable")
)

// IsRetryable reports whether a displayer error is temporary. Errors that do
// not classify themselves are treated as permanent.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}
