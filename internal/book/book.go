// Package book reconstructs a single instrument's order book from a
// full-depth snapshot followed by incremental depth updates.
package book

import (
	"fmt"

	"github.com/tidwall/btree"

	"github.com/pikki622/hftbacktest/internal/domain"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

// Level is one aggregated price level of the reconstructed book.
type Level struct {
	Price quant.Price
	Qty   quant.Qty
}

// OrderBook is a mutable per-side price ladder. Levels are kept sorted by
// price; zero-qty levels are removed. It must be seeded from a snapshot
// before any incremental update; an update preceding the snapshot is a
// protocol error.
type OrderBook struct {
	bids *btree.Map[quant.Price, quant.Qty]
	asks *btree.Map[quant.Price, quant.Qty]

	seeded     bool
	snapshotTS quant.Timestamp

	lastTradePrice quant.Price
	lastTradeTS    quant.Timestamp
}

// New creates an empty, unseeded book.
func New() *OrderBook {
	return &OrderBook{
		bids: btree.NewMap[quant.Price, quant.Qty](64),
		asks: btree.NewMap[quant.Price, quant.Qty](64),
	}
}

// Seeded reports whether a snapshot has been applied.
func (b *OrderBook) Seeded() bool { return b.seeded }

// SnapshotTS returns the timestamp of the most recent snapshot.
func (b *OrderBook) SnapshotTS() quant.Timestamp { return b.snapshotTS }

// ApplySnapshot replaces the entire book with a full-depth snapshot. It may
// arrive mid-run as a book rebuild; both ladders are reset first.
func (b *OrderBook) ApplySnapshot(snap domain.Snapshot) error {
	b.bids = btree.NewMap[quant.Price, quant.Qty](64)
	b.asks = btree.NewMap[quant.Price, quant.Qty](64)
	for _, e := range snap.Entries {
		if e.Qty < 0 {
			return domain.NewProtocolError("snapshot", "negative qty %d at price %s", e.Qty, e.Price)
		}
		if e.Qty == 0 {
			continue
		}
		switch e.Side {
		case domain.SideBuy:
			b.bids.Set(e.Price, e.Qty)
		case domain.SideSell:
			b.asks.Set(e.Price, e.Qty)
		default:
			return domain.NewProtocolError("snapshot", "unknown side %d at price %s", e.Side, e.Price)
		}
	}
	b.seeded = true
	b.snapshotTS = snap.Timestamp
	if bid, okBid := b.BestBid(); okBid {
		if ask, okAsk := b.BestAsk(); okAsk && bid >= ask {
			return domain.NewProtocolError("snapshot", "crossed book: bid %s >= ask %s", bid, ask)
		}
	}
	return nil
}

// ApplyDepth sets the resting qty at a price level; qty == 0 removes it.
func (b *OrderBook) ApplyDepth(side domain.Side, price quant.Price, qty quant.Qty) error {
	if !b.seeded {
		return domain.NewProtocolError("depth", "incremental update before snapshot at price %s", price)
	}
	if qty < 0 {
		panic(fmt.Sprintf("BOOK_NEGATIVE_QTY: side=%s price=%s qty=%d", side, price, qty))
	}

	var ladder *btree.Map[quant.Price, quant.Qty]
	switch side {
	case domain.SideBuy:
		ladder = b.bids
	case domain.SideSell:
		ladder = b.asks
	default:
		return domain.NewProtocolError("depth", "unknown side %d at price %s", side, price)
	}

	if qty == 0 {
		ladder.Delete(price)
		return nil
	}
	ladder.Set(price, qty)
	return nil
}

// ApplySnapshotRow applies one in-stream snapshot entry: an unconditional
// level set. The first row marks the book seeded, so captures may
// bootstrap entirely from in-stream snapshot rows.
func (b *OrderBook) ApplySnapshotRow(side domain.Side, price quant.Price, qty quant.Qty) error {
	b.seeded = true
	return b.ApplyDepth(side, price, qty)
}

// ApplyTrade records a trade print. Informational only: depth already
// reflects the post-trade state via the accompanying depth updates.
func (b *OrderBook) ApplyTrade(price quant.Price, ts quant.Timestamp) error {
	if !b.seeded {
		return domain.NewProtocolError("trade", "trade before snapshot at price %s", price)
	}
	b.lastTradePrice = price
	b.lastTradeTS = ts
	return nil
}

// BestBid returns the highest bid, or false while that side is unwarmed.
func (b *OrderBook) BestBid() (quant.Price, bool) {
	p, _, ok := b.bids.Max()
	return p, ok
}

// BestAsk returns the lowest ask, or false while that side is unwarmed.
func (b *OrderBook) BestAsk() (quant.Price, bool) {
	p, _, ok := b.asks.Min()
	return p, ok
}

// MidPrice returns (bid+ask)/2, or false while either side is unwarmed.
func (b *OrderBook) MidPrice() (quant.Price, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// LastTrade returns the most recent trade print.
func (b *OrderBook) LastTrade() (quant.Price, quant.Timestamp) {
	return b.lastTradePrice, b.lastTradeTS
}

// BidDepth returns the number of populated bid levels.
func (b *OrderBook) BidDepth() int { return b.bids.Len() }

// AskDepth returns the number of populated ask levels.
func (b *OrderBook) AskDepth() int { return b.asks.Len() }

// QtyAt returns the resting qty at a price, zero if the level is absent.
func (b *OrderBook) QtyAt(side domain.Side, price quant.Price) quant.Qty {
	var q quant.Qty
	var ok bool
	if side == domain.SideBuy {
		q, ok = b.bids.Get(price)
	} else {
		q, ok = b.asks.Get(price)
	}
	if !ok {
		return 0
	}
	return q
}

// BidLevels returns bid levels best-first (descending price), at most depth
// entries; depth <= 0 returns all.
func (b *OrderBook) BidLevels(depth int) []Level {
	levels := make([]Level, 0, b.bids.Len())
	b.bids.Reverse(func(p quant.Price, q quant.Qty) bool {
		levels = append(levels, Level{Price: p, Qty: q})
		return depth <= 0 || len(levels) < depth
	})
	return levels
}

// AskLevels returns ask levels best-first (ascending price), at most depth
// entries; depth <= 0 returns all.
func (b *OrderBook) AskLevels(depth int) []Level {
	levels := make([]Level, 0, b.asks.Len())
	b.asks.Scan(func(p quant.Price, q quant.Qty) bool {
		levels = append(levels, Level{Price: p, Qty: q})
		return depth <= 0 || len(levels) < depth
	})
	return levels
}
