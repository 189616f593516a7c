package domain

import "time"

// The full routing picture for one service date: all routes with their
// attached deliveries, the flat delivery list, and the active drivers.
// This is what the repository holds in memory and mirrors to the snapshot
// cache.
type WorkingSet struct {
	Date       time.Time
	Routes     []*Route
	Deliveries []*Delivery
	Drivers    []*DriverAssignment
	FetchedAt  time.Time
}

// FindRoute returns the route with the given id, or nil.
func (w *WorkingSet) FindRoute(id string) *Route {
	for _, r := range w.Routes {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// FindDelivery returns the delivery with the given id, or nil.
func (w *WorkingSet) FindDelivery(id string) *Delivery {
	for _, d := range w.Deliveries {
		if d.ID == id {
			return d
		}
	}
	return nil
}
