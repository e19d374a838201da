package latency

import (
	"testing"

	"github.com/pikki622/hftbacktest/pkg/quant"
)

func TestConstant(t *testing.T) {
	m := Constant{Feed: 50, Entry: 100, Response: 150}

	cases := []struct {
		role Role
		want quant.Timestamp
	}{
		{RoleFeed, 50},
		{RoleOrderEntry, 100},
		{RoleOrderResponse, 150},
	}
	for _, c := range cases {
		if got := m.Latency(c.role, 1_000_000); got != c.want {
			t.Errorf("%s: got %d, want %d", c.role, got, c.want)
		}
	}

	// Observe is a no-op for constant models.
	m.Observe(9999)
	if got := m.Latency(RoleOrderEntry, 0); got != 100 {
		t.Errorf("constant latency changed after Observe: %d", got)
	}
}

func TestFeedDerivedFloorBeforeObservation(t *testing.T) {
	m := NewFeedDerived(2.0, 10)
	if got := m.Latency(RoleOrderEntry, 0); got != 10 {
		t.Errorf("expected floor 10 before any observation, got %d", got)
	}
}

func TestFeedDerivedTracksObservations(t *testing.T) {
	m := NewFeedDerived(2.0, 10)
	m.Observe(100)

	if got := m.Latency(RoleFeed, 0); got != 100 {
		t.Errorf("feed latency = %d, want 100", got)
	}
	if got := m.Latency(RoleOrderEntry, 0); got != 200 {
		t.Errorf("entry latency = %d, want 200", got)
	}
	if got := m.Latency(RoleOrderResponse, 0); got != 200 {
		t.Errorf("response latency = %d, want 200", got)
	}

	// Non-positive observations are ignored.
	m.Observe(0)
	m.Observe(-5)
	if got := m.Latency(RoleFeed, 0); got != 100 {
		t.Errorf("observation should not regress to %d", got)
	}
}

func TestFeedDerivedAsymmetricMultipliers(t *testing.T) {
	m := &FeedDerived{EntryMul: 1.5, ResponseMul: 3.0, Floor: 1}
	m.Observe(100)
	if got := m.Latency(RoleOrderEntry, 0); got != 150 {
		t.Errorf("entry = %d, want 150", got)
	}
	if got := m.Latency(RoleOrderResponse, 0); got != 300 {
		t.Errorf("response = %d, want 300", got)
	}
}
