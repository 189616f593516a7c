package domain

import "time"

const (
	DriverActive   = "active"
	DriverInactive = "inactive"
)

// Links a user to vehicle and license metadata. Routes reference the
// underlying user id, not the assignment row.
type DriverAssignment struct {
	ID            string
	UserID        string
	DriverName    string // denormalized from the user's profile
	Status        string
	VehicleType   string
	LicenseNumber string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
