package cache

import (
	"courier-routing-service/internal/domain"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Routes are cached without their attached deliveries; the flat delivery list
// is the single cached copy and attachment is rebuilt on load. This keeps the
// merge-by-id strategy working per entity instead of per aggregate.

func encodeRoute(r *domain.Route) ([]byte, error) {
	shallow := *r
	shallow.Deliveries = nil
	return json.Marshal(&shallow)
}

func decodeRoute(raw []byte) (*domain.Route, error) {
	var r domain.Route
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode cached route: %w", err)
	}
	return &r, nil
}

func decodeDelivery(raw []byte) (*domain.Delivery, error) {
	var d domain.Delivery
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode cached delivery: %w", err)
	}
	return &d, nil
}

func decodeDriver(raw []byte) (*domain.DriverAssignment, error) {
	var da domain.DriverAssignment
	if err := json.Unmarshal(raw, &da); err != nil {
		return nil, fmt.Errorf("decode cached driver: %w", err)
	}
	return &da, nil
}

// Restore creation order and route attachment after loading entities from an
// unordered id-keyed store.
func normalizeWorkingSet(ws *domain.WorkingSet) {
	sort.Slice(ws.Routes, func(i, j int) bool {
		return ws.Routes[i].CreatedAt.Before(ws.Routes[j].CreatedAt)
	})
	sort.Slice(ws.Deliveries, func(i, j int) bool {
		return ws.Deliveries[i].CreatedAt.Before(ws.Deliveries[j].CreatedAt)
	})
	sort.Slice(ws.Drivers, func(i, j int) bool {
		return ws.Drivers[i].CreatedAt.Before(ws.Drivers[j].CreatedAt)
	})

	byRoute := make(map[string][]*domain.Delivery)
	for _, d := range ws.Deliveries {
		if d.RouteID != nil {
			byRoute[*d.RouteID] = append(byRoute[*d.RouteID], d)
		}
	}
	for _, r := range ws.Routes {
		r.Deliveries = byRoute[r.ID]
		if r.Deliveries == nil {
			r.Deliveries = []*domain.Delivery{}
		}
	}
}

type snapshotMeta struct {
	Date      string    `json:"date"`
	FetchedAt time.Time `json:"fetched_at"`
}
