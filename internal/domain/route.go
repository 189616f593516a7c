package domain

import "time"

// Represents a named, dated collection of deliveries assigned to at most one
// driver. The Order field is the cached result of sequencing and exists for
// display purposes only; the authoritative route linkage lives on each
// Delivery's RouteID.
type Route struct {
	ID               string
	Name             string
	Date             time.Time // calendar date, time component ignored
	DriverID         *string
	DriverName       string // denormalized from the driver's profile
	EstimatedMinutes *int
	Order            []string // delivery ids in optimized visiting order
	Deliveries       []*Delivery
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DateKey returns the route's service date in YYYY-MM-DD form.
func (r *Route) DateKey() string { return r.Date.Format(time.DateOnly) }
