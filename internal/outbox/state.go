package outbox

import "fmt"

// State is the replay state of a queued message.
type State string

// Message states. Sent and FailedTerminal are terminal: the durable record
// is removed when either is reached.
const (
	StatePending         State = "pending"
	StateSending         State = "sending"
	StateFailedRetryable State = "failed_retryable"
	StateFailedTerminal  State = "failed_terminal"
	StateSent            State = "sent"
)

// Event drives a state transition.
type Event string

// Transition events.
const (
	EventSend      Event = "send"
	EventSucceeded Event = "succeeded"
	EventFailed    Event = "failed"
	EventRequeue   Event = "requeue"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateSent || s == StateFailedTerminal
}

// Transition is the replay state machine. retryCount is the number of
// failed attempts so far; the returned count includes the current event.
// A failure that brings the count to maxRetries is terminal.
func Transition(s State, e Event, retryCount, maxRetries int) (State, int, error) {
	switch {
	case s == StatePending && e == EventSend:
		return StateSending, retryCount, nil
	case s == StateSending && e == EventSucceeded:
		return StateSent, retryCount, nil
	case s == StateSending && e == EventFailed:
		retryCount++
		if retryCount < maxRetries {
			return StateFailedRetryable, retryCount, nil
		}
		return StateFailedTerminal, retryCount, nil
	case s == StateFailedRetryable && e == EventRequeue:
		return StatePending, retryCount, nil
	}
	return s, retryCount, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}
