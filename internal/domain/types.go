package domain

// Side is the direction of an order or trade.
type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = -1
)

// Sign returns +1 for buys and -1 for sells, used directly in account math.
func (s Side) Sign() int64 { return int64(s) }

// Opposite returns the other side of the book.
func (s Side) Opposite() Side { return -s }

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus int8

const (
	OrderStatusNone OrderStatus = iota
	OrderStatusNew
	OrderStatusActive
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
	OrderStatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "NEW"
	case OrderStatusActive:
		return "ACTIVE"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusExpired:
		return "EXPIRED"
	default:
		return "NONE"
	}
}

// Terminal reports whether the order can never change state again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// TimeInForce selects the order's execution constraint.
type TimeInForce int8

const (
	// TIFGTC rests until filled or canceled.
	TIFGTC TimeInForce = iota
	// TIFGTX (post-only) is rejected instead of ever executing as taker.
	TIFGTX
)

func (t TimeInForce) String() string {
	if t == TIFGTX {
		return "GTX"
	}
	return "GTC"
}

// AssetType selects how a fill's trade value is denominated.
type AssetType int8

const (
	// AssetLinear values a fill as price*qty in the quote currency.
	AssetLinear AssetType = iota
	// AssetInverse values a fill as qty/price in the base currency.
	AssetInverse
)

func (a AssetType) String() string {
	if a == AssetInverse {
		return "INVERSE"
	}
	return "LINEAR"
}
