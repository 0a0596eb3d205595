package outbox

import (
	"errors"
	"fmt"
)

// Queue errors.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrMaxRetries        = errors.New("max retries exceeded")
)

// SendError is returned by a Transport when the upstream answered but did
// not accept the message (non-2xx).
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream rejected message: status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream rejected message: status %d: %s", e.StatusCode, e.Body)
}
