package services

import (
	"courier-routing-service/internal/domain"
	"slices"
	"testing"
)

func TestSequenceDeliveriesZoneThenPriority(t *testing.T) {
	// build test data
	d1 := &domain.Delivery{ID: "d1", Zone: "A", Priority: 3}
	d2 := &domain.Delivery{ID: "d2", Zone: "A", Priority: 5}
	d3 := &domain.Delivery{ID: "d3", Zone: "B", Priority: 1}

	order := SequenceDeliveries([]*domain.Delivery{d1, d2, d3})

	want := []string{"d2", "d1", "d3"}
	if !slices.Equal(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestSequenceDeliveriesIsStableWithinTies(t *testing.T) {
	d1 := &domain.Delivery{ID: "d1", Zone: "A", Priority: 2}
	d2 := &domain.Delivery{ID: "d2", Zone: "A", Priority: 2}
	d3 := &domain.Delivery{ID: "d3", Zone: "A", Priority: 2}

	order := SequenceDeliveries([]*domain.Delivery{d1, d2, d3})

	want := []string{"d1", "d2", "d3"}
	if !slices.Equal(order, want) {
		t.Fatalf("ties must keep input order: got %v, want %v", order, want)
	}
}

func TestSequenceDeliveriesResultOrdering(t *testing.T) {
	deliveries := []*domain.Delivery{
		{ID: "d1", Zone: "C", Priority: 1},
		{ID: "d2", Zone: "A", Priority: 1},
		{ID: "d3", Zone: "B", Priority: 9},
		{ID: "d4", Zone: "A", Priority: 7},
		{ID: "d5", Zone: "B", Priority: 2},
	}

	byID := make(map[string]*domain.Delivery, len(deliveries))
	for _, d := range deliveries {
		byID[d.ID] = d
	}

	order := SequenceDeliveries(deliveries)
	if len(order) != len(deliveries) {
		t.Fatalf("expected %d ids, got %d", len(deliveries), len(order))
	}

	// Mapped back to records, zones must be non-decreasing and priority
	// non-increasing within equal zones.
	for i := 1; i < len(order); i++ {
		prev, cur := byID[order[i-1]], byID[order[i]]
		if prev.Zone > cur.Zone {
			t.Fatalf("zone decreased at position %d: %q -> %q", i, prev.Zone, cur.Zone)
		}
		if prev.Zone == cur.Zone && prev.Priority < cur.Priority {
			t.Fatalf("priority increased within zone %q at position %d", cur.Zone, i)
		}
	}

	if SequenceDeliveries(nil) == nil {
		t.Fatal("empty input must yield an empty, non-nil order")
	}
}
