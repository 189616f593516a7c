package domain

import "time"

type AttemptOutcome string

const (
	AttemptDelivered   AttemptOutcome = "delivered"
	AttemptFailed      AttemptOutcome = "failed"
	AttemptRescheduled AttemptOutcome = "rescheduled"
)

// ValidAttemptOutcome reports whether o is a recognized attempt outcome.
func ValidAttemptOutcome(o AttemptOutcome) bool {
	return o == AttemptDelivered || o == AttemptFailed || o == AttemptRescheduled
}

// StatusAfter returns the delivery status implied by the attempt outcome:
// a rescheduled attempt re-queues the delivery as pending.
func (o AttemptOutcome) StatusAfter() DeliveryStatus {
	switch o {
	case AttemptDelivered:
		return DeliveryDelivered
	case AttemptFailed:
		return DeliveryFailed
	default:
		return DeliveryPending
	}
}

// Immutable record of one try at completing a delivery. Attempt numbers for a
// given delivery are 1-based, strictly increasing and gapless.
type DeliveryAttempt struct {
	ID            string
	DeliveryID    string
	Number        int
	Outcome       AttemptOutcome
	FailureReason string
	Notes         string
	DriverID      string
	CreatedAt     time.Time
}
