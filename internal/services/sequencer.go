package services

import (
	"cmp"
	"courier-routing-service/internal/domain"
	"slices"
	"strings"
)

// SequenceDeliveries computes a visiting order for a set of deliveries.
//
// The order is a stable sort by zone label ascending (lexicographic), then by
// priority descending within a zone. This zone/priority heuristic is the
// documented contract; it is not a travel-distance optimization.
func SequenceDeliveries(deliveries []*domain.Delivery) []string {
	sorted := slices.Clone(deliveries)

	slices.SortStableFunc(sorted, func(a, b *domain.Delivery) int {
		if c := strings.Compare(a.Zone, b.Zone); c != 0 {
			return c
		}
		// Higher priority first within the same zone.
		return cmp.Compare(b.Priority, a.Priority)
	})

	ids := make([]string, 0, len(sorted))
	for _, d := range sorted {
		ids = append(ids, d.ID)
	}

	return ids
}
