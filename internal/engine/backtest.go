package engine

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/pikki622/hftbacktest/internal/book"
	"github.com/pikki622/hftbacktest/internal/data"
	"github.com/pikki622/hftbacktest/internal/domain"
	"github.com/pikki622/hftbacktest/internal/infra"
	"github.com/pikki622/hftbacktest/internal/latency"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

// Params is the engine configuration for one backtest run.
type Params struct {
	TickSize quant.Price
	LotSize  quant.Qty

	AssetType domain.AssetType
	MakerFee  decimal.Decimal // negative = rebate
	TakerFee  decimal.Decimal

	FillPolicy FillPolicy
	// QueueRatio scales touch fills under FillPolicyTouch; (0,1].
	QueueRatio decimal.Decimal
	// ExpireAfter expires resting orders after this many microseconds at
	// the exchange; 0 disables expiry.
	ExpireAfter quant.Timestamp
}

func (p Params) validate() error {
	if p.TickSize <= 0 {
		return domain.NewValidationError("tick_size", "must be positive, got %s", p.TickSize)
	}
	if p.LotSize <= 0 {
		return domain.NewValidationError("lot_size", "must be positive, got %s", p.LotSize)
	}
	if p.FillPolicy == FillPolicyTouch {
		if p.QueueRatio.LessThanOrEqual(decimal.Zero) || p.QueueRatio.GreaterThan(decimal.NewFromInt(1)) {
			return domain.NewValidationError("queue_ratio", "must be in (0,1], got %s", p.QueueRatio)
		}
	}
	if p.ExpireAfter < 0 {
		return domain.NewValidationError("expire_after", "must be non-negative, got %d", p.ExpireAfter)
	}
	return nil
}

// Backtest is the single entry point strategies drive: a synchronous
// stepping interface over the reconstructed market state and the
// strategy's own simulated account. It owns every component; all mutation
// flows through its operations, one event at a time.
type Backtest struct {
	params Params
	book   *book.OrderBook
	sched  *scheduler
	acct   *AccountState
	proc   *proc
	log    *slog.Logger

	terminated bool
	err        error
}

// New builds a backtest from a bootstrap snapshot, a normalized event
// reader and a latency model. The virtual clock starts at the snapshot
// timestamp. Passing a zero-value snapshot leaves the book unseeded; the
// event stream must then begin with in-stream snapshot rows.
func New(params Params, snapshot domain.Snapshot, reader data.Reader, model latency.Model, log *slog.Logger) (*Backtest, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	b := book.New()
	if len(snapshot.Entries) > 0 {
		if err := b.ApplySnapshot(snapshot); err != nil {
			return nil, err
		}
	}

	sched := newScheduler(snapshot.Timestamp, reader, model)
	acct := newAccountState(params.AssetType, params.MakerFee, params.TakerFee)

	p := newProc(b, acct, sched, model, log)
	p.tick = params.TickSize
	p.lot = params.LotSize
	p.policy = params.FillPolicy
	p.queueRatio = params.QueueRatio
	p.expireAfter = params.ExpireAfter
	sched.dispatch = p.dispatch

	return &Backtest{
		params: params,
		book:   b,
		sched:  sched,
		acct:   acct,
		proc:   p,
		log:    log,
	}, nil
}

// OnFill registers a hook invoked synchronously for every fill, in event
// order. Used by the run recorder; may be nil.
func (bt *Backtest) OnFill(f func(Fill)) { bt.proc.onFill = f }

// SetMetrics attaches a replay metrics collector; nil disables counting.
func (bt *Backtest) SetMetrics(m *infra.Metrics) { bt.proc.metrics = m }

// Run reports whether the backtest can still make progress. False once
// the data is exhausted or a protocol error aborted the run.
func (bt *Backtest) Run() bool { return !bt.terminated }

// Err returns the protocol error that aborted the run, if any.
func (bt *Backtest) Err() error { return bt.err }

// Elapse advances the virtual clock by delta microseconds, applying every
// event due in the window. False means the data is exhausted: the normal
// end of a backtest, not an error.
func (bt *Backtest) Elapse(delta quant.Timestamp) (bool, error) {
	if bt.terminated {
		return false, bt.err
	}
	if delta < 0 {
		return false, domain.NewValidationError("delta", "must be non-negative, got %d", delta)
	}
	ok, err := bt.sched.elapse(delta)
	return bt.finish(ok, err)
}

// WaitOrderResponse advances event by event, unbounded by time, until no
// request for the order is in flight. False on data exhaustion.
func (bt *Backtest) WaitOrderResponse(id int64) (bool, error) {
	if bt.terminated {
		return false, bt.err
	}
	if _, ok := bt.proc.orders[id]; !ok {
		return false, domain.NewValidationError("order_id", "unknown order id %d", id)
	}
	ok, err := bt.sched.waitFor(func() bool {
		o := bt.proc.orders[id]
		return o == nil || !o.AwaitResponse
	})
	return bt.finish(ok, err)
}

func (bt *Backtest) finish(ok bool, err error) (bool, error) {
	if err != nil {
		bt.terminated = true
		bt.err = err
		bt.proc.metrics.RecordError()
		bt.log.Error("backtest aborted", slog.Any("error", err))
		return false, err
	}
	if !ok {
		bt.terminated = true
	}
	return ok, nil
}

// SubmitBuyOrder submits a limit buy. The request travels through order
// entry latency; until then the order is New and awaiting its response.
func (bt *Backtest) SubmitBuyOrder(id int64, price quant.Price, qty quant.Qty, tif domain.TimeInForce) error {
	return bt.proc.submit(id, domain.SideBuy, price, qty, tif)
}

// SubmitSellOrder submits a limit sell.
func (bt *Backtest) SubmitSellOrder(id int64, price quant.Price, qty quant.Qty, tif domain.TimeInForce) error {
	return bt.proc.submit(id, domain.SideSell, price, qty, tif)
}

// Cancel requests cancellation of an open order. The cancel incurs its own
// round-trip latency and may lose the race to an earlier fill.
func (bt *Backtest) Cancel(id int64) error { return bt.proc.cancel(id) }

// ClearInactiveOrders drops terminal orders from the visible set.
func (bt *Backtest) ClearInactiveOrders() { bt.proc.clearInactive() }

// Orders returns read-only copies of the visible orders keyed by id.
func (bt *Backtest) Orders() map[int64]domain.Order { return bt.proc.snapshotOrders() }

// Order returns a copy of one order.
func (bt *Backtest) Order(id int64) (domain.Order, bool) {
	o, ok := bt.proc.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Position returns the signed position in base units.
func (bt *Backtest) Position() quant.Qty { return bt.acct.Position() }

// Balance returns the cash balance, net of fees.
func (bt *Backtest) Balance() decimal.Decimal { return bt.acct.Balance() }

// Fee returns the cumulative fee paid.
func (bt *Backtest) Fee() decimal.Decimal { return bt.acct.Fee() }

// Equity values the account at the current mid price.
func (bt *Backtest) Equity() decimal.Decimal {
	mid, ok := bt.book.MidPrice()
	if !ok {
		mid = 0
	}
	return bt.acct.Equity(mid)
}

// BestBid returns the reconstructed best bid, or false while unwarmed.
func (bt *Backtest) BestBid() (quant.Price, bool) { return bt.book.BestBid() }

// BestAsk returns the reconstructed best ask, or false while unwarmed.
func (bt *Backtest) BestAsk() (quant.Price, bool) { return bt.book.BestAsk() }

// MidPrice returns the book mid, or false while either side is unwarmed.
func (bt *Backtest) MidPrice() (quant.Price, bool) { return bt.book.MidPrice() }

// Depth exposes the aggregated ladder, best-first, for diagnostics.
func (bt *Backtest) Depth(n int) (bids, asks []book.Level) {
	return bt.book.BidLevels(n), bt.book.AskLevels(n)
}

// LocalTimestamp returns the current virtual local time in microseconds.
func (bt *Backtest) LocalTimestamp() quant.Timestamp { return bt.sched.now() }

// TickSize returns the configured price increment.
func (bt *Backtest) TickSize() quant.Price { return bt.params.TickSize }

// LotSize returns the configured quantity increment.
func (bt *Backtest) LotSize() quant.Qty { return bt.params.LotSize }
