package engine

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/pikki622/hftbacktest/internal/book"
	"github.com/pikki622/hftbacktest/internal/domain"
	"github.com/pikki622/hftbacktest/internal/infra"
	"github.com/pikki622/hftbacktest/internal/latency"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

// FillPolicy decides what happens when a trade print merely touches a
// resting order's price instead of trading through it.
type FillPolicy int8

const (
	// FillPolicyTouch fills min(trade qty * queue ratio, remaining) on a
	// print at exactly the order's price. The ratio stands in for the
	// order's unknown queue position.
	FillPolicyTouch FillPolicy = iota
	// FillPolicyCross fills only on prints strictly through the order's
	// price; touches never fill. The conservative bound.
	FillPolicyCross
)

// Fill is one executed fill, reported to the recorder hook.
type Fill struct {
	OrderID int64
	Side    domain.Side
	Price   quant.Price
	Qty     quant.Qty
	Maker   bool
	Fee     decimal.Decimal
	LocalTS quant.Timestamp
}

// proc is the order lifecycle state machine: it applies feed events to the
// book, decides fills against resting interest, and walks orders through
// New -> Active -> {PartiallyFilled -> Filled | Canceled | Rejected | Expired}.
type proc struct {
	book  *book.OrderBook
	acct  *AccountState
	sched *scheduler
	model latency.Model
	log   *slog.Logger

	tick        quant.Price
	lot         quant.Qty
	policy      FillPolicy
	queueRatio  decimal.Decimal
	expireAfter quant.Timestamp // 0 = resting orders never expire

	orders map[int64]*domain.Order
	// orderIDs preserves insertion order so fill scans are deterministic;
	// map iteration order would break bit-reproducibility.
	orderIDs []int64
	// gen counts submissions so a reused order id never inherits queued
	// lifecycle events from an earlier order under the same id.
	gen uint64

	onFill  func(Fill)
	metrics *infra.Metrics // nil disables counting
}

func newProc(b *book.OrderBook, acct *AccountState, sched *scheduler, model latency.Model, log *slog.Logger) *proc {
	return &proc{
		book:   b,
		acct:   acct,
		sched:  sched,
		model:  model,
		log:    log,
		orders: make(map[int64]*domain.Order),
	}
}

// dispatch applies one scheduled event. Wired as the scheduler's handler.
func (p *proc) dispatch(e schedEntry) error {
	switch e.kind {
	case entryFeed:
		return p.applyFeed(e.ev)
	case entryOrderReq:
		return p.arriveOrder(e.orderID, e.arrival)
	case entryOrderResp:
		return p.arriveResponse(e.orderID, e.arrival)
	case entryCancelAck:
		return p.arriveCancelAck(e.orderID, e.gen, e.arrival)
	case entryExpiry:
		return p.expire(e.orderID, e.gen, e.arrival)
	default:
		panic(fmt.Sprintf("SCHED_UNKNOWN_ENTRY_KIND: %d", e.kind))
	}
}

func (p *proc) applyFeed(ev domain.MarketEvent) error {
	switch ev.Kind {
	case domain.EventDepth:
		p.metrics.RecordDepth()
		return p.book.ApplyDepth(ev.Side, ev.Price, ev.Qty)
	case domain.EventSnapshot:
		p.metrics.RecordDepth()
		return p.book.ApplySnapshotRow(ev.Side, ev.Price, ev.Qty)
	case domain.EventTrade:
		p.metrics.RecordTrade()
		if err := p.book.ApplyTrade(ev.Price, ev.LocalTS); err != nil {
			return err
		}
		p.matchTrade(ev)
		return nil
	default:
		return domain.NewProtocolError("feed", "unknown event kind %d (seq %d)", ev.Kind, ev.Seq)
	}
}

// submit validates a new order and schedules its request toward the
// exchange. Validation failures are synchronous; exchange-side outcomes
// (post-only rejection) surface later as order-state transitions.
func (p *proc) submit(id int64, side domain.Side, price quant.Price, qty quant.Qty, tif domain.TimeInForce) error {
	if _, exists := p.orders[id]; exists {
		return domain.NewValidationError("order_id", "duplicate order id %d", id)
	}
	if !price.Aligned(p.tick) {
		return domain.NewValidationError("price", "price %s not aligned to tick size %s", price, p.tick)
	}
	if qty <= 0 {
		return domain.NewValidationError("qty", "qty must be positive, got %s", qty)
	}
	if !qty.Aligned(p.lot) {
		return domain.NewValidationError("qty", "qty %s not aligned to lot size %s", qty, p.lot)
	}

	now := p.sched.now()
	p.gen++
	o := &domain.Order{
		ID:            id,
		Gen:           p.gen,
		Side:          side,
		Price:         price,
		Qty:           qty,
		TIF:           tif,
		Status:        domain.OrderStatusNew,
		SubmitTS:      now,
		AwaitResponse: true,
	}
	p.orders[id] = o
	p.orderIDs = append(p.orderIDs, id)

	p.sched.enqueue(entryOrderReq, prioOrderReq, now+p.model.Latency(latency.RoleOrderEntry, now), id, o.Gen)
	p.log.Debug("order submitted",
		slog.Int64("order_id", id),
		slog.String("side", side.String()),
		slog.String("price", price.String()),
		slog.String("qty", qty.String()),
		slog.String("tif", tif.String()))
	return nil
}

// cancel schedules a cancel round trip. A cancel does not retract the
// order immediately: it incurs its own latency and may lose the race to an
// earlier-arriving fill.
func (p *proc) cancel(id int64) error {
	o, ok := p.orders[id]
	if !ok {
		return domain.NewValidationError("order_id", "unknown order id %d", id)
	}
	if !o.Cancellable() {
		return domain.NewValidationError("order_id", "order %d not cancellable (status %s)", id, o.Status)
	}

	now := p.sched.now()
	o.PendingCancel = true
	o.AwaitResponse = true
	ack := now + p.model.Latency(latency.RoleOrderEntry, now) + p.model.Latency(latency.RoleOrderResponse, now)
	p.sched.enqueue(entryCancelAck, prioOrderResp, ack, id, o.Gen)
	p.log.Debug("cancel requested", slog.Int64("order_id", id))
	return nil
}

// arriveOrder is the order request reaching the exchange: the post-only
// crossing decision, immediate taker execution for GTC, and activation of
// the remainder as resting maker interest.
func (p *proc) arriveOrder(id int64, ts quant.Timestamp) error {
	o := p.orders[id]
	if o == nil || o.Status != domain.OrderStatusNew {
		panic(fmt.Sprintf("MATCH_BAD_ORDER_ARRIVAL: id=%d", id))
	}
	o.ExchTS = ts

	crossing := p.wouldCross(o)
	switch {
	case crossing && o.TIF == domain.TIFGTX:
		// Post-only orders never execute as taker.
		o.Status = domain.OrderStatusRejected
	case crossing:
		p.takerExecute(o, ts)
	default:
		o.Status = domain.OrderStatusActive
	}

	if o.IsOpen() && p.expireAfter > 0 {
		p.sched.enqueue(entryExpiry, prioExpiry, ts+p.expireAfter, id, o.Gen)
	}
	p.sched.enqueue(entryOrderResp, prioOrderResp, ts+p.model.Latency(latency.RoleOrderResponse, ts), id, o.Gen)
	return nil
}

// wouldCross reports whether the order would immediately trade against the
// resting opposite best.
func (p *proc) wouldCross(o *domain.Order) bool {
	if o.Side == domain.SideBuy {
		ask, ok := p.book.BestAsk()
		return ok && o.Price >= ask
	}
	bid, ok := p.book.BestBid()
	return ok && o.Price <= bid
}

// takerExecute fills a crossing GTC order against displayed depth, best
// price first, up to its limit. The replayed depth stream still owns the
// book, so consumed liquidity is not deducted here; the next depth updates
// reflect it. Any remainder rests as maker interest.
func (p *proc) takerExecute(o *domain.Order, ts quant.Timestamp) {
	var levels []book.Level
	if o.Side == domain.SideBuy {
		levels = p.book.AskLevels(0)
	} else {
		levels = p.book.BidLevels(0)
	}

	for _, lv := range levels {
		if o.LeavesQty() <= 0 {
			break
		}
		if o.Side == domain.SideBuy && lv.Price > o.Price {
			break
		}
		if o.Side == domain.SideSell && lv.Price < o.Price {
			break
		}
		qty := o.LeavesQty()
		if lv.Qty < qty {
			qty = lv.Qty
		}
		p.fill(o, lv.Price, qty, false, ts)
	}

	if o.Status == domain.OrderStatusNew {
		// Crossed but displayed depth was empty past the limit.
		o.Status = domain.OrderStatusActive
	}
}

func (p *proc) arriveResponse(id int64, ts quant.Timestamp) error {
	o := p.orders[id]
	if o == nil {
		return nil // cleared while the response was in flight
	}
	o.AwaitResponse = false
	o.ResponseTS = ts
	return nil
}

// arriveCancelAck resolves the cancel race strictly by local arrival
// order: a fill applied before this ack wins and the order stays Filled.
func (p *proc) arriveCancelAck(id int64, gen uint64, ts quant.Timestamp) error {
	o := p.orders[id]
	if o == nil || o.Gen != gen {
		return nil
	}
	o.PendingCancel = false
	o.AwaitResponse = false
	o.ResponseTS = ts
	if !o.Status.Terminal() {
		o.Status = domain.OrderStatusCanceled
		p.log.Debug("order canceled", slog.Int64("order_id", id))
	}
	return nil
}

// expire matches the queued entry against the order's generation: an
// expiry scheduled for a cleared order must not fire against a new order
// submitted under the same id.
func (p *proc) expire(id int64, gen uint64, ts quant.Timestamp) error {
	o := p.orders[id]
	if o == nil || o.Gen != gen || o.Status.Terminal() {
		return nil
	}
	o.Status = domain.OrderStatusExpired
	o.ResponseTS = ts
	p.log.Debug("order expired", slog.Int64("order_id", id))
	return nil
}

// matchTrade checks every resting order against one trade print. Prints
// strictly through an order's price fill the full remainder; prints at
// exactly its price fill per the configured policy.
func (p *proc) matchTrade(ev domain.MarketEvent) {
	for _, id := range p.orderIDs {
		o := p.orders[id]
		if o == nil || !o.IsOpen() {
			continue
		}

		var through, touch bool
		if o.Side == domain.SideBuy {
			through = ev.Price < o.Price
			touch = ev.Price == o.Price
		} else {
			through = ev.Price > o.Price
			touch = ev.Price == o.Price
		}

		switch {
		case through:
			p.fill(o, o.Price, o.LeavesQty(), true, ev.LocalTS)
		case touch && p.policy == FillPolicyTouch:
			qty := p.touchQty(ev.Qty, o.LeavesQty())
			if qty > 0 {
				p.fill(o, o.Price, qty, true, ev.LocalTS)
			}
		}
	}
}

// touchQty scales the print size by the queue ratio, aligns down to the
// lot size, and caps at the remaining quantity.
func (p *proc) touchQty(tradeQty, remaining quant.Qty) quant.Qty {
	scaled := tradeQty.Decimal().Mul(p.queueRatio)
	qty := quant.QtyFromDecimal(scaled)
	if p.lot > 0 {
		qty -= qty % p.lot
	}
	if qty > remaining {
		qty = remaining
	}
	return qty
}

// fill books one execution and advances the order state machine.
func (p *proc) fill(o *domain.Order, price quant.Price, qty quant.Qty, maker bool, ts quant.Timestamp) {
	if qty <= 0 {
		return
	}
	exec := quant.Qty(quant.SafeAdd(int64(o.ExecQty), int64(qty)))
	if exec > o.Qty {
		panic(fmt.Sprintf("MATCH_OVERFILL: order=%d exec=%d qty=%d", o.ID, exec, o.Qty))
	}
	o.ExecQty = exec
	o.LastPrice = price
	o.Maker = maker
	if o.ExecQty == o.Qty {
		o.Status = domain.OrderStatusFilled
	} else {
		o.Status = domain.OrderStatusPartiallyFilled
	}

	fee := p.acct.applyFill(o.Side, price, qty, maker)
	p.metrics.RecordFill()
	if p.onFill != nil {
		p.onFill(Fill{
			OrderID: o.ID,
			Side:    o.Side,
			Price:   price,
			Qty:     qty,
			Maker:   maker,
			Fee:     fee,
			LocalTS: ts,
		})
	}
	p.log.Debug("order filled",
		slog.Int64("order_id", o.ID),
		slog.String("price", price.String()),
		slog.String("qty", qty.String()),
		slog.Bool("maker", maker),
		slog.String("status", o.Status.String()))
}

// clearInactive removes terminal orders from the strategy-visible set.
// Historical account state is untouched.
func (p *proc) clearInactive() {
	kept := p.orderIDs[:0]
	for _, id := range p.orderIDs {
		o := p.orders[id]
		if o != nil && o.Status.Terminal() && !o.AwaitResponse {
			delete(p.orders, id)
			continue
		}
		kept = append(kept, id)
	}
	p.orderIDs = kept
}

// snapshotOrders returns read-only copies of the visible orders.
func (p *proc) snapshotOrders() map[int64]domain.Order {
	out := make(map[int64]domain.Order, len(p.orders))
	for id, o := range p.orders {
		out[id] = *o
	}
	return out
}
