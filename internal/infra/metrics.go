package infra

import (
	"sync/atomic"
	"time"
)

// Metrics counts replay progress without external dependencies. Atomic
// operations so a monitoring goroutine can observe a running backtest.
type Metrics struct {
	// Counters
	eventsReplayed atomic.Uint64
	depthUpdates   atomic.Uint64
	tradePrints    atomic.Uint64
	ordersFilled   atomic.Uint64
	errorsTotal    atomic.Uint64

	startNs atomic.Int64
}

// NewMetrics returns a metrics instance with the wall clock started.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.startNs.Store(time.Now().UnixNano())
	return m
}

// RecordDepth records one replayed depth or snapshot row. Nil-safe.
func (m *Metrics) RecordDepth() {
	if m == nil {
		return
	}
	m.eventsReplayed.Add(1)
	m.depthUpdates.Add(1)
}

// RecordTrade records one replayed trade print. Nil-safe.
func (m *Metrics) RecordTrade() {
	if m == nil {
		return
	}
	m.eventsReplayed.Add(1)
	m.tradePrints.Add(1)
}

// RecordFill records one executed fill. Nil-safe.
func (m *Metrics) RecordFill() {
	if m == nil {
		return
	}
	m.ordersFilled.Add(1)
}

// RecordError records an error occurrence. Nil-safe.
func (m *Metrics) RecordError() {
	if m == nil {
		return
	}
	m.errorsTotal.Add(1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsReplayed uint64
	DepthUpdates   uint64
	TradePrints    uint64
	OrdersFilled   uint64
	ErrorsTotal    uint64
	EventsPerSec   float64 // wall-clock replay throughput
	Timestamp      time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	now := time.Now()
	events := m.eventsReplayed.Load()

	var perSec float64
	if elapsed := now.UnixNano() - m.startNs.Load(); elapsed > 0 {
		perSec = float64(events) / (float64(elapsed) / float64(time.Second))
	}

	return MetricsSnapshot{
		EventsReplayed: events,
		DepthUpdates:   m.depthUpdates.Load(),
		TradePrints:    m.tradePrints.Load(),
		OrdersFilled:   m.ordersFilled.Load(),
		ErrorsTotal:    m.errorsTotal.Load(),
		EventsPerSec:   perSec,
		Timestamp:      now,
	}
}

// Reset clears all metrics and restarts the wall clock.
func (m *Metrics) Reset() {
	m.eventsReplayed.Store(0)
	m.depthUpdates.Store(0)
	m.tradePrints.Store(0)
	m.ordersFilled.Store(0)
	m.errorsTotal.Store(0)
	m.startNs.Store(time.Now().UnixNano())
}
