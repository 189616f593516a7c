package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to DeliveryStatus
		want     bool
	}{
		{DeliveryPending, DeliveryInTransit, true},
		{DeliveryPending, DeliveryDelivered, true},
		{DeliveryPending, DeliveryFailed, true},
		{DeliveryInTransit, DeliveryDelivered, true},
		{DeliveryInTransit, DeliveryFailed, true},
		{DeliveryInTransit, DeliveryPending, true},
		{DeliveryFailed, DeliveryPending, true},
		{DeliveryFailed, DeliveryInTransit, false},
		{DeliveryDelivered, DeliveryPending, false},
		{DeliveryDelivered, DeliveryFailed, false},
		{DeliveryDelivered, DeliveryInTransit, false},
		{DeliveryPending, DeliveryPending, false},
	}

	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestAttemptOutcomeStatusAfter(t *testing.T) {
	if got := AttemptDelivered.StatusAfter(); got != DeliveryDelivered {
		t.Errorf("delivered outcome maps to %s", got)
	}
	if got := AttemptFailed.StatusAfter(); got != DeliveryFailed {
		t.Errorf("failed outcome maps to %s", got)
	}
	if got := AttemptRescheduled.StatusAfter(); got != DeliveryPending {
		t.Errorf("rescheduled outcome maps to %s", got)
	}
}
