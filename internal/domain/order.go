package domain

import "github.com/pikki622/hftbacktest/pkg/quant"

// Order is the full lifecycle record of one strategy order.
// Owned exclusively by the matching engine; the controller hands out copies.
type Order struct {
	ID int64
	// Gen distinguishes successive orders submitted under a reused id.
	// Lifecycle events queued for an earlier life of the id carry the old
	// generation and are dropped instead of acting on the new order.
	Gen   uint64
	Side  Side
	Price quant.Price
	Qty   quant.Qty
	TIF   TimeInForce

	Status    OrderStatus
	ExecQty   quant.Qty // cumulative filled quantity, never exceeds Qty
	LastPrice quant.Price
	Maker     bool // true when the last fill was as resting maker interest

	SubmitTS   quant.Timestamp // local submission time
	ExchTS     quant.Timestamp // exchange acknowledgment time, 0 until acked
	ResponseTS quant.Timestamp // local arrival of the latest response

	// PendingCancel is set while a cancel request is in flight; a second
	// cancel for the same order is a validation error until it lands.
	PendingCancel bool
	// AwaitResponse is set while any request for this order is in flight.
	AwaitResponse bool
}

// LeavesQty returns the quantity still open.
func (o *Order) LeavesQty() quant.Qty {
	return o.Qty - o.ExecQty
}

// IsOpen reports whether the order can still fill.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusActive || o.Status == OrderStatusPartiallyFilled
}

// Cancellable reports whether a cancel request may be issued now. Orders with
// a request already in flight cannot be canceled again until it resolves.
func (o *Order) Cancellable() bool {
	return o.IsOpen() && !o.PendingCancel && !o.AwaitResponse
}
