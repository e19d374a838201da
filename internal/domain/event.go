package domain

import "github.com/pikki622/hftbacktest/pkg/quant"

// EventKind tags the variant of a MarketEvent.
type EventKind int8

const (
	// EventDepth is an incremental change to the resting qty at a price level.
	EventDepth EventKind = iota + 1
	// EventTrade is a trade print. Depth already reflects the post-trade
	// state via the accompanying depth updates.
	EventTrade
	// EventSnapshot is one entry of a full-depth book snapshot.
	EventSnapshot
)

func (k EventKind) String() string {
	switch k {
	case EventDepth:
		return "DEPTH"
	case EventTrade:
		return "TRADE"
	case EventSnapshot:
		return "SNAPSHOT"
	default:
		return "UNKNOWN"
	}
}

// MarketEvent is one normalized record of the replayed feed. Immutable once
// created; the reader stamps ExchTS/LocalTS/Seq and nothing mutates it after.
type MarketEvent struct {
	Kind    EventKind
	Side    Side
	Price   quant.Price
	Qty     quant.Qty
	ExchTS  quant.Timestamp // exchange-side event time
	LocalTS quant.Timestamp // local arrival time; 0 if the capture has none
	Seq     uint64          // position within the feed, tie-break key
}

// SnapshotEntry is one (side, price, qty) row of a full-depth snapshot.
type SnapshotEntry struct {
	Side  Side
	Price quant.Price
	Qty   quant.Qty
}

// Snapshot is a full-depth book state valid at a single instant, used to
// bootstrap replay before any incremental update is applied.
type Snapshot struct {
	Timestamp quant.Timestamp
	Entries   []SnapshotEntry
}
