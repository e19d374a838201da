// Package engine contains the deterministic replay core: the event
// scheduler, the order matching state machine, the account state, and the
// Backtest facade strategies drive.
//
// Everything here is single-threaded by construction. The logical overlap
// of latency-delayed streams is realized as one merge-ordered priority
// queue, never as parallel execution; each Backtest instance owns all of
// its state, so independent instances can run concurrently in one process.
package engine

import (
	"container/heap"

	"github.com/pikki622/hftbacktest/internal/data"
	"github.com/pikki622/hftbacktest/internal/domain"
	"github.com/pikki622/hftbacktest/internal/latency"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

// Fixed stream priorities break arrival-time ties deterministically:
// market data first, then order requests, responses, expiries.
const (
	prioFeed int8 = iota
	prioOrderReq
	prioOrderResp
	prioExpiry
)

type entryKind int8

const (
	entryFeed      entryKind = iota + 1
	entryOrderReq            // order request arriving at the exchange
	entryOrderResp           // submit/reject response arriving back locally
	entryCancelAck           // cancel acknowledgment arriving back locally
	entryExpiry              // resting order lifetime elapsed
)

// schedEntry is one pending event plus its computed local arrival time.
// Ordered by (arrival, stream priority, sequence) for reproducible replay.
type schedEntry struct {
	arrival quant.Timestamp
	prio    int8
	seq     uint64
	kind    entryKind
	ev      domain.MarketEvent // entryFeed only
	orderID int64              // order lifecycle entries only
	gen     uint64             // order generation, guards against id reuse
}

func (a schedEntry) before(b schedEntry) bool {
	if a.arrival != b.arrival {
		return a.arrival < b.arrival
	}
	if a.prio != b.prio {
		return a.prio < b.prio
	}
	return a.seq < b.seq
}

type entryHeap []schedEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(schedEntry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// scheduler merges the latency-shifted streams into one globally ordered
// sequence and drives the monotonic virtual clock.
type scheduler struct {
	clock quant.Timestamp

	reader data.Reader
	model  latency.Model

	queue entryHeap
	seq   uint64

	// peek holds the next feed event, already latency-stamped, so the
	// reader stays lazy while the merge can always see its head.
	peek      *schedEntry
	lastFeed  quant.Timestamp
	exhausted bool

	// dispatch applies one due event; wired to the matching engine.
	dispatch func(schedEntry) error
}

func newScheduler(start quant.Timestamp, reader data.Reader, model latency.Model) *scheduler {
	s := &scheduler{clock: start, reader: reader, model: model}
	heap.Init(&s.queue)
	return s
}

func (s *scheduler) now() quant.Timestamp { return s.clock }

// enqueue inserts a latency-shifted entry, stamping the tie-break sequence.
func (s *scheduler) enqueue(kind entryKind, prio int8, arrival quant.Timestamp, orderID int64, gen uint64) {
	s.seq++
	heap.Push(&s.queue, schedEntry{
		arrival: arrival,
		prio:    prio,
		seq:     s.seq,
		kind:    kind,
		orderID: orderID,
		gen:     gen,
	})
}

// refillPeek pulls the next feed event and stamps its local arrival time.
// Returns false once the source is exhausted.
func (s *scheduler) refillPeek() (bool, error) {
	if s.peek != nil {
		return true, nil
	}
	if s.exhausted {
		return false, nil
	}
	ev, err := s.reader.Next()
	if err == domain.ErrExhausted {
		s.exhausted = true
		return false, nil
	}
	if err != nil {
		return false, err
	}

	arrival := ev.LocalTS
	if arrival == 0 {
		arrival = ev.ExchTS + s.model.Latency(latency.RoleFeed, ev.ExchTS)
	}
	if arrival < ev.ExchTS {
		return false, domain.NewProtocolError("feed",
			"look-ahead: local arrival %d before exchange time %d (seq %d)", arrival, ev.ExchTS, ev.Seq)
	}
	if arrival < s.lastFeed {
		return false, domain.NewProtocolError("feed",
			"non-monotonic local timestamp: %d after %d (seq %d)", arrival, s.lastFeed, ev.Seq)
	}
	s.lastFeed = arrival
	s.model.Observe(arrival - ev.ExchTS)

	ev.LocalTS = arrival
	s.seq++
	s.peek = &schedEntry{arrival: arrival, prio: prioFeed, seq: s.seq, kind: entryFeed, ev: ev}
	return true, nil
}

// next returns the earliest pending entry across the feed and the queue
// without removing it. ok is false when both are drained.
func (s *scheduler) next() (schedEntry, bool, error) {
	if _, err := s.refillPeek(); err != nil {
		return schedEntry{}, false, err
	}
	hasQueue := s.queue.Len() > 0
	switch {
	case s.peek == nil && !hasQueue:
		return schedEntry{}, false, nil
	case s.peek == nil:
		return s.queue[0], true, nil
	case !hasQueue:
		return *s.peek, true, nil
	case s.peek.before(s.queue[0]):
		return *s.peek, true, nil
	default:
		return s.queue[0], true, nil
	}
}

func (s *scheduler) pop(e schedEntry) {
	if s.peek != nil && e.kind == entryFeed && e.seq == s.peek.seq {
		s.peek = nil
		return
	}
	heap.Pop(&s.queue)
}

// step applies exactly one pending event and advances the clock to its
// arrival time. ok is false when every source is drained.
func (s *scheduler) step() (bool, error) {
	e, ok, err := s.next()
	if err != nil || !ok {
		return false, err
	}
	if s.exhausted {
		return false, nil
	}
	s.pop(e)
	s.clock = e.arrival
	return true, s.dispatch(e)
}

// elapse advances the virtual clock by delta, applying every event with an
// arrival time inside the window in scheduler order. Returns false once the
// feed is exhausted before the window closes: the normal end of a backtest.
func (s *scheduler) elapse(delta quant.Timestamp) (bool, error) {
	target := s.clock + delta
	for {
		e, ok, err := s.next()
		if err != nil {
			return false, err
		}
		if s.exhausted {
			// Own-order round trips cannot outlive the recorded data.
			return false, nil
		}
		if !ok || e.arrival > target {
			s.clock = target
			return true, nil
		}
		s.pop(e)
		s.clock = e.arrival
		if err := s.dispatch(e); err != nil {
			return false, err
		}
	}
}

// waitFor advances event by event, unbounded by time, until pred holds.
// Returns false on exhaustion before the predicate is satisfied.
func (s *scheduler) waitFor(pred func() bool) (bool, error) {
	for !pred() {
		ok, err := s.step()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
