package engine

import (
	"testing"

	"github.com/pikki622/hftbacktest/internal/data"
	"github.com/pikki622/hftbacktest/internal/domain"
	"github.com/pikki622/hftbacktest/internal/latency"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

func feedEvent(local quant.Timestamp, seq uint64) domain.MarketEvent {
	return domain.MarketEvent{
		Kind:    domain.EventDepth,
		Side:    domain.SideBuy,
		Price:   100_000000,
		Qty:     1_000000,
		ExchTS:  local - 10,
		LocalTS: local,
		Seq:     seq,
	}
}

func TestSchedulerMergeOrder(t *testing.T) {
	events := []domain.MarketEvent{feedEvent(100, 1), feedEvent(300, 2)}
	s := newScheduler(0, data.FromSlice(events), latency.Constant{})

	var got []quant.Timestamp
	var kinds []entryKind
	s.dispatch = func(e schedEntry) error {
		got = append(got, e.arrival)
		kinds = append(kinds, e.kind)
		return nil
	}

	// An enqueued order request lands between the two feed events.
	s.enqueue(entryOrderReq, prioOrderReq, 200, 1, 0)

	ok, err := s.elapse(250)
	if err != nil || !ok {
		t.Fatalf("elapse: ok=%v err=%v", ok, err)
	}
	if s.now() != 250 {
		t.Errorf("clock = %d, want 250", s.now())
	}
	want := []quant.Timestamp{100, 200}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("dispatch order = %v, want %v", got, want)
	}
	if kinds[0] != entryFeed || kinds[1] != entryOrderReq {
		t.Errorf("dispatch kinds = %v", kinds)
	}
}

func TestSchedulerTieBreakFeedBeforeOrder(t *testing.T) {
	// Equal arrival timestamps resolve by fixed stream priority: the feed
	// event must apply before an order request at the same instant.
	events := []domain.MarketEvent{feedEvent(200, 1)}
	s := newScheduler(0, data.FromSlice(events), latency.Constant{})

	var kinds []entryKind
	s.dispatch = func(e schedEntry) error {
		kinds = append(kinds, e.kind)
		return nil
	}
	s.enqueue(entryOrderReq, prioOrderReq, 200, 1, 0)

	if ok, err := s.elapse(200); err != nil || !ok {
		t.Fatalf("elapse: ok=%v err=%v", ok, err)
	}
	if len(kinds) != 2 || kinds[0] != entryFeed || kinds[1] != entryOrderReq {
		t.Errorf("tie-break violated: %v", kinds)
	}
}

func TestSchedulerTieBreakBySequence(t *testing.T) {
	s := newScheduler(0, data.FromSlice(nil), latency.Constant{})

	var ids []int64
	s.dispatch = func(e schedEntry) error {
		ids = append(ids, e.orderID)
		return nil
	}
	s.enqueue(entryOrderReq, prioOrderReq, 100, 7, 0)
	s.enqueue(entryOrderReq, prioOrderReq, 100, 8, 0)
	s.enqueue(entryOrderReq, prioOrderReq, 100, 9, 0)

	for i := 0; i < 3; i++ {
		if ok, err := s.step(); err != nil || !ok {
			t.Fatalf("step %d: ok=%v err=%v", i, ok, err)
		}
	}
	if len(ids) != 3 || ids[0] != 7 || ids[1] != 8 || ids[2] != 9 {
		t.Errorf("same-instant entries must apply in enqueue order: %v", ids)
	}
}

func TestSchedulerExhaustion(t *testing.T) {
	events := []domain.MarketEvent{feedEvent(100, 1)}
	s := newScheduler(0, data.FromSlice(events), latency.Constant{})

	n := 0
	s.dispatch = func(schedEntry) error { n++; return nil }

	ok, err := s.elapse(1000)
	if err != nil {
		t.Fatalf("elapse: %v", err)
	}
	if ok {
		t.Error("elapse must return false when the feed ends inside the window")
	}
	if n != 1 {
		t.Errorf("dispatched %d events, want 1", n)
	}

	// A second elapse on the exhausted source mutates nothing further.
	clock := s.now()
	ok, err = s.elapse(1000)
	if ok || err != nil {
		t.Errorf("exhausted elapse: ok=%v err=%v", ok, err)
	}
	if s.now() != clock || n != 1 {
		t.Errorf("exhausted elapse mutated state: clock=%d n=%d", s.now(), n)
	}
}

func TestSchedulerFeedLatencyStamping(t *testing.T) {
	// Events without a recorded local timestamp get exch_ts + feed latency.
	ev := domain.MarketEvent{Kind: domain.EventDepth, Side: domain.SideBuy, Price: 1, Qty: 1, ExchTS: 500, Seq: 1}
	s := newScheduler(0, data.FromSlice([]domain.MarketEvent{ev}), latency.Constant{Feed: 75})

	var arrival quant.Timestamp
	s.dispatch = func(e schedEntry) error {
		arrival = e.arrival
		if e.ev.LocalTS != 575 {
			t.Errorf("event local ts = %d, want 575", e.ev.LocalTS)
		}
		return nil
	}
	if ok, err := s.elapse(600); err != nil || !ok {
		t.Fatalf("elapse: ok=%v err=%v", ok, err)
	}
	if arrival != 575 {
		t.Errorf("arrival = %d, want 575", arrival)
	}
}

func TestSchedulerNonMonotonicFeedIsFatal(t *testing.T) {
	events := []domain.MarketEvent{feedEvent(300, 1), feedEvent(200, 2)}
	s := newScheduler(0, data.FromSlice(events), latency.Constant{})
	s.dispatch = func(schedEntry) error { return nil }

	_, err := s.elapse(1000)
	if !domain.IsProtocol(err) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestSchedulerLookAheadIsFatal(t *testing.T) {
	// A recorded local timestamp before the exchange timestamp would let
	// the strategy see the future.
	ev := domain.MarketEvent{Kind: domain.EventDepth, Side: domain.SideBuy, Price: 1, Qty: 1, ExchTS: 500, LocalTS: 400, Seq: 1}
	s := newScheduler(0, data.FromSlice([]domain.MarketEvent{ev}), latency.Constant{})
	s.dispatch = func(schedEntry) error { return nil }

	_, err := s.elapse(1000)
	if !domain.IsProtocol(err) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestWaitForStopsAtPredicate(t *testing.T) {
	events := []domain.MarketEvent{feedEvent(100, 1), feedEvent(200, 2), feedEvent(300, 3)}
	s := newScheduler(0, data.FromSlice(events), latency.Constant{})

	n := 0
	s.dispatch = func(schedEntry) error { n++; return nil }

	ok, err := s.waitFor(func() bool { return n == 2 })
	if err != nil || !ok {
		t.Fatalf("waitFor: ok=%v err=%v", ok, err)
	}
	if s.now() != 200 {
		t.Errorf("clock = %d, want 200", s.now())
	}

	// Predicate that never holds drains the feed and reports exhaustion.
	ok, err = s.waitFor(func() bool { return false })
	if err != nil {
		t.Fatalf("waitFor: %v", err)
	}
	if ok {
		t.Error("waitFor must return false on exhaustion")
	}
}
