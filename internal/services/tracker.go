package services

import (
	"courier-routing-service/internal/domain"
	"fmt"
)

// DefaultMaxAttempts is the number of recorded attempts after which a
// delivery can no longer be rescheduled and stays terminally failed.
const DefaultMaxAttempts = 3

// AttemptTracker decides the attempt row and resulting delivery status for a
// recorded attempt outcome. It owns the retry policy but performs no writes;
// the store applies its plan atomically.
type AttemptTracker struct {
	MaxAttempts int
}

func NewAttemptTracker(maxAttempts int) *AttemptTracker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &AttemptTracker{MaxAttempts: maxAttempts}
}

// Decide evaluates the policy against a delivery's current status and
// recorded attempt count, returning the status the outcome implies.
//
// Delivered deliveries accept no further attempts. A delivery that has failed
// and exhausted the attempt budget requires manual intervention. A
// rescheduled outcome on the final allowed attempt converts to a permanent
// failure instead of re-queueing.
//
// The store re-runs this against the row's locked state inside the attempt
// transaction, so a concurrent attempt cannot bypass the budget.
func (t *AttemptTracker) Decide(
	current domain.DeliveryStatus,
	attempts int,
	outcome domain.AttemptOutcome,
) (domain.DeliveryStatus, error) {
	if !domain.ValidAttemptOutcome(outcome) {
		return "", fmt.Errorf("unknown outcome %q: %w", outcome, domain.ErrValidation)
	}
	if current == domain.DeliveryDelivered {
		return "", fmt.Errorf("already delivered: %w", domain.ErrConflict)
	}
	if current == domain.DeliveryFailed && attempts >= t.MaxAttempts {
		return "", fmt.Errorf("exhausted %d attempts: %w", t.MaxAttempts, domain.ErrConflict)
	}

	status := outcome.StatusAfter()
	if outcome == domain.AttemptRescheduled && attempts+1 >= t.MaxAttempts {
		status = domain.DeliveryFailed
	}

	return status, nil
}

// Plan validates the outcome against the delivery's in-memory state and
// returns the attempt to append plus the delivery status it implies.
func (t *AttemptTracker) Plan(
	d *domain.Delivery,
	outcome domain.AttemptOutcome,
	failureReason string,
	notes string,
	driverID string,
) (domain.DeliveryAttempt, domain.DeliveryStatus, error) {
	var none domain.DeliveryAttempt

	if d == nil {
		return none, "", fmt.Errorf("plan attempt: delivery is nil: %w", domain.ErrValidation)
	}

	status, err := t.Decide(d.Status, d.AttemptCount, outcome)
	if err != nil {
		return none, "", fmt.Errorf("plan attempt: delivery %s: %w", d.ID, err)
	}

	attempt := domain.DeliveryAttempt{
		DeliveryID:    d.ID,
		Number:        d.AttemptCount + 1,
		Outcome:       outcome,
		FailureReason: failureReason,
		Notes:         notes,
		DriverID:      driverID,
	}

	return attempt, status, nil
}
