// Package latency maps exchange-side event timestamps to strategy-visible
// local timestamps, one model instance per backtest.
package latency

import "github.com/pikki622/hftbacktest/pkg/quant"

// Role identifies which latency-shifted stream a message travels on.
type Role int8

const (
	// RoleFeed is market data flowing from the exchange to the strategy.
	RoleFeed Role = iota
	// RoleOrderEntry is an order action flowing to the exchange.
	RoleOrderEntry
	// RoleOrderResponse is an acknowledgment flowing back from the exchange.
	RoleOrderResponse
)

func (r Role) String() string {
	switch r {
	case RoleFeed:
		return "FEED"
	case RoleOrderEntry:
		return "ORDER_ENTRY"
	case RoleOrderResponse:
		return "ORDER_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Model computes the one-way delay for a message leaving at ts on a stream
// role. Implementations have no side effects on engine state; Observe only
// feeds measured feed latencies back into sampling models.
type Model interface {
	// Latency returns the delay added to ts; never negative.
	Latency(role Role, ts quant.Timestamp) quant.Timestamp
	// Observe reports one measured feed delay (local - exchange) so models
	// that derive order latency from feed latency can track it.
	Observe(feedDelay quant.Timestamp)
}

// Constant applies fixed one-way delays per role.
type Constant struct {
	Feed     quant.Timestamp
	Entry    quant.Timestamp
	Response quant.Timestamp
}

func (c Constant) Latency(role Role, _ quant.Timestamp) quant.Timestamp {
	switch role {
	case RoleFeed:
		return c.Feed
	case RoleOrderEntry:
		return c.Entry
	default:
		return c.Response
	}
}

func (c Constant) Observe(quant.Timestamp) {}

// FeedDerived models order latency as a multiple of the most recently
// observed feed delay, the assumption being that order traffic rides the
// same network path as market data. Until the first observation it falls
// back to the configured floor.
type FeedDerived struct {
	// EntryMul and ResponseMul scale the observed feed delay.
	EntryMul    float64
	ResponseMul float64
	// Floor is the minimum one-way delay for every role.
	Floor quant.Timestamp

	observed quant.Timestamp
}

// NewFeedDerived creates a model with both multipliers set to mul.
func NewFeedDerived(mul float64, floor quant.Timestamp) *FeedDerived {
	return &FeedDerived{EntryMul: mul, ResponseMul: mul, Floor: floor}
}

func (f *FeedDerived) Latency(role Role, _ quant.Timestamp) quant.Timestamp {
	var d quant.Timestamp
	switch role {
	case RoleFeed:
		d = f.observed
	case RoleOrderEntry:
		d = quant.Timestamp(f.EntryMul * float64(f.observed))
	default:
		d = quant.Timestamp(f.ResponseMul * float64(f.observed))
	}
	if d < f.Floor {
		return f.Floor
	}
	return d
}

func (f *FeedDerived) Observe(feedDelay quant.Timestamp) {
	if feedDelay > 0 {
		f.observed = feedDelay
	}
}
