package strategy

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/pikki622/hftbacktest/internal/domain"
	"github.com/pikki622/hftbacktest/internal/engine"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

// MarketMaker quotes both sides of the book around a skewed fair value.
// Each cycle it elapses one interval, reprices mid minus an inventory
// skew, cancels stale quotes and posts new post-only quotes at
// fair +/- half-spread. Quotes use the price tick index as the order id:
// there is at most one live order per price, so ids never collide.
type MarketMaker struct {
	halfSpread quant.Price
	orderQty   quant.Qty
	maxPos     quant.Qty       // quoting pauses on the long/short side past this
	skew       decimal.Decimal // price units per unit of position
	interval   quant.Timestamp
	log        *slog.Logger

	// Sample, when set, is called once per cycle with the current virtual
	// time, equity and position. Wired to the run recorder.
	Sample func(ts quant.Timestamp, equity decimal.Decimal, position quant.Qty)
}

func NewMarketMaker(halfSpread quant.Price, orderQty, maxPos quant.Qty, skew decimal.Decimal, interval quant.Timestamp, log *slog.Logger) *MarketMaker {
	if log == nil {
		log = slog.Default()
	}
	return &MarketMaker{
		halfSpread: halfSpread,
		orderQty:   orderQty,
		maxPos:     maxPos,
		skew:       skew,
		interval:   interval,
		log:        log,
	}
}

// Run steps the backtest until the data is exhausted.
func (m *MarketMaker) Run(bt *engine.Backtest) error {
	tick := bt.TickSize()
	lot := bt.LotSize()
	qty := alignDown(m.orderQty, lot)
	if qty <= 0 {
		return domain.NewValidationError("order_qty", "order qty %s below lot size %s", m.orderQty, lot)
	}

	for bt.Run() {
		ok, err := bt.Elapse(m.interval)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		bt.ClearInactiveOrders()

		bid, okBid := bt.BestBid()
		ask, okAsk := bt.BestAsk()
		if !okBid || !okAsk {
			continue
		}

		pos := bt.Position()
		mid := quant.Price((int64(bid) + int64(ask)) / 2)
		// Inventory skew shifts the fair value against the position.
		fair := mid - quant.PriceFromDecimal(m.skew.Mul(pos.Decimal()))

		newBidTick := roundTick(fair-m.halfSpread, tick)
		newAskTick := roundTick(fair+m.halfSpread, tick)
		newBid := quant.Price(newBidTick) * tick
		newAsk := quant.Price(newAskTick) * tick

		updateBid := pos < m.maxPos
		updateAsk := pos > -m.maxPos
		lastID := int64(-1)

		// Sorted so the cancel sequence is reproducible run to run.
		orders := bt.Orders()
		ids := make([]int64, 0, len(orders))
		for id := range orders {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			o := orders[id]
			switch o.Side {
			case domain.SideBuy:
				if int64(o.Price/tick) == newBidTick {
					updateBid = false
				} else if o.Cancellable() {
					if err := bt.Cancel(o.ID); err != nil {
						return err
					}
					lastID = o.ID
				}
			case domain.SideSell:
				if int64(o.Price/tick) == newAskTick {
					updateAsk = false
				} else if o.Cancellable() {
					if err := bt.Cancel(o.ID); err != nil {
						return err
					}
					lastID = o.ID
				}
			}
		}

		if updateBid {
			if err := m.quote(bt, newBidTick, newBid, qty, domain.SideBuy); err != nil {
				return err
			}
			lastID = newBidTick
		}
		if updateAsk {
			if err := m.quote(bt, newAskTick, newAsk, qty, domain.SideSell); err != nil {
				return err
			}
			lastID = newAskTick
		}

		// Requests for this cycle went out together; wait for the last
		// response before the next repricing decision.
		if lastID >= 0 {
			ok, err := bt.WaitOrderResponse(lastID)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}

		if m.Sample != nil {
			m.Sample(bt.LocalTimestamp(), bt.Equity(), pos)
		}
		m.log.Debug("quote cycle",
			slog.Int64("ts", int64(bt.LocalTimestamp())),
			slog.String("mid", mid.String()),
			slog.String("position", pos.String()),
			slog.String("equity", bt.Equity().String()))
	}
	return bt.Err()
}

// quote submits one post-only order keyed by its tick index. An id
// collision means a live order already sits at that price, which only
// happens when a just-canceled order has not acked yet; skip the quote
// and retry next cycle.
func (m *MarketMaker) quote(bt *engine.Backtest, id int64, price quant.Price, qty quant.Qty, side domain.Side) error {
	var err error
	if side == domain.SideBuy {
		err = bt.SubmitBuyOrder(id, price, qty, domain.TIFGTX)
	} else {
		err = bt.SubmitSellOrder(id, price, qty, domain.TIFGTX)
	}
	if domain.IsValidation(err) {
		m.log.Debug("quote skipped", slog.Int64("order_id", id), slog.Any("reason", err))
		return nil
	}
	return err
}

// roundTick returns the nearest tick index for a price.
func roundTick(p, tick quant.Price) int64 {
	if p >= 0 {
		return (int64(p) + int64(tick)/2) / int64(tick)
	}
	return (int64(p) - int64(tick)/2) / int64(tick)
}

// alignDown truncates q to a multiple of the lot size.
func alignDown(q, lot quant.Qty) quant.Qty {
	if lot <= 0 {
		return q
	}
	return q - q%lot
}
