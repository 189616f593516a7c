package ports

import (
	"context"
	"courier-routing-service/internal/domain"
	"encoding/json"
	"time"
)

// Fields for a new route row. Date is a calendar date; the time component is
// discarded by the store.
type NewRoute struct {
	Name             string
	Date             time.Time
	DriverID         *string
	EstimatedMinutes *int
}

// Fields for a new delivery row attached to a route.
type NewDelivery struct {
	PackageID           string
	RouteID             string
	CustomerID          string
	AddressLine1        string
	City                string
	ZipCode             string
	Zone                string
	Priority            int
	WindowStart         *time.Time
	WindowEnd           *time.Time
	SpecialInstructions string
}

// Partial field patch for a delivery status update. Nil members are left
// untouched.
type DeliveryStatusPatch struct {
	Status             domain.DeliveryStatus
	Notes              *string
	Proof              json.RawMessage
	ActualDeliveryTime *time.Time
}

// AttemptDecision evaluates the retry policy against a delivery's status and
// attempt count as read under the store's row lock, returning the status the
// attempt implies or an error rejecting the attempt.
type AttemptDecision func(current domain.DeliveryStatus, attempts int) (domain.DeliveryStatus, error)

// Port: the persistence collaborator for all routing data. Implementations
// enforce row-level constraints (driver double-booking, gapless attempt
// numbering) so callers never need client-side coordination.
type RouteStore interface {
	// Load the full working set for a service date: routes with driver
	// display names, all deliveries with package/customer denormalization,
	// and active driver assignments.
	FetchWorkingSet(ctx context.Context, date time.Time) (*domain.WorkingSet, error)

	InsertRoute(ctx context.Context, row NewRoute) (*domain.Route, error)
	UpdateRouteDriver(ctx context.Context, routeID, driverID string) error
	UpdateRouteOrder(ctx context.Context, routeID string, order []string) error

	InsertDelivery(ctx context.Context, row NewDelivery) (*domain.Delivery, error)
	PatchDeliveryStatus(ctx context.Context, deliveryID string, patch DeliveryStatusPatch) error

	// Append an attempt row and apply the resulting delivery patch in a
	// single transaction. The attempt number and the decision are both
	// evaluated against the delivery row under its lock; the number and
	// status in the returned attempt are authoritative.
	RecordAttempt(ctx context.Context, attempt domain.DeliveryAttempt, decide AttemptDecision) (*domain.DeliveryAttempt, error)

	// Narrow single-row reloads used by the live change listener.
	GetRoute(ctx context.Context, id string) (*domain.Route, error)
	GetDelivery(ctx context.Context, id string) (*domain.Delivery, error)
}
