package domain

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryInTransit DeliveryStatus = "in_transit"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// ValidDeliveryStatus reports whether s is one of the four delivery statuses.
func ValidDeliveryStatus(s DeliveryStatus) bool {
	switch s {
	case DeliveryPending, DeliveryInTransit, DeliveryDelivered, DeliveryFailed:
		return true
	}
	return false
}

// CanTransition reports whether a delivery may move from one status to
// another. Delivered is terminal; failed deliveries may only be re-queued to
// pending via a rescheduled attempt.
func CanTransition(from, to DeliveryStatus) bool {
	if from == to {
		return false
	}

	switch from {
	case DeliveryPending:
		return to == DeliveryInTransit || to == DeliveryDelivered || to == DeliveryFailed
	case DeliveryInTransit:
		return to == DeliveryDelivered || to == DeliveryFailed || to == DeliveryPending
	case DeliveryFailed:
		return to == DeliveryPending
	case DeliveryDelivered:
		return false
	}
	return false
}

// Represents a single package's scheduled drop-off, linked to a route,
// customer, and package. AttemptCount only increases; the per-attempt history
// lives in DeliveryAttempt rows.
type Delivery struct {
	ID                  string
	RouteID             *string
	PackageID           string
	CustomerID          string
	AddressLine1        string
	City                string
	ZipCode             string
	Zone                string // free-text area label, sequencing key only
	Priority            int    // higher = more urgent; defaults to 1
	WindowStart         *time.Time
	WindowEnd           *time.Time
	AttemptCount        int
	Status              DeliveryStatus
	SpecialInstructions string
	Notes               string
	Proof               json.RawMessage // opaque signature/photo payload
	ActualDeliveryTime  *time.Time
	TrackingNumber      string // denormalized from the package
	CustomerName        string // denormalized from the customer
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Terminal reports whether the delivery has reached a state that normally
// accepts no further attempts.
func (d *Delivery) Terminal() bool {
	return d.Status == DeliveryDelivered || d.Status == DeliveryFailed
}
