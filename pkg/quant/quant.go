// Package quant provides the fixed-point numeric kernel used across the
// engine hotpath. All prices and quantities are strictly int64 micros;
// decimal.Decimal appears only at the boundaries (config, fees, reporting).
package quant

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the fixed-point denominator: 1 unit == Scale micros.
const Scale = 1_000_000

// Price is a price in micros (1e-6 of the quote unit).
type Price int64

// Qty is a quantity in micros (1e-6 of the base unit).
type Qty int64

// Timestamp is a point in time in microseconds. The engine never interprets
// the epoch; only differences and ordering matter.
type Timestamp int64

var scaleDec = decimal.New(1, 6)

// PriceFromDecimal converts a decimal price to micros, truncating below 1e-6.
func PriceFromDecimal(d decimal.Decimal) Price {
	return Price(d.Mul(scaleDec).IntPart())
}

// QtyFromDecimal converts a decimal quantity to micros, truncating below 1e-6.
func QtyFromDecimal(d decimal.Decimal) Qty {
	return Qty(d.Mul(scaleDec).IntPart())
}

// Decimal returns the price as an exact decimal.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -6)
}

// Decimal returns the quantity as an exact decimal.
func (q Qty) Decimal() decimal.Decimal {
	return decimal.New(int64(q), -6)
}

func (p Price) String() string { return p.Decimal().String() }
func (q Qty) String() string   { return q.Decimal().String() }

// Aligned reports whether p is a whole multiple of the tick size.
func (p Price) Aligned(tick Price) bool {
	return tick > 0 && p%tick == 0
}

// Aligned reports whether q is a whole multiple of the lot size.
func (q Qty) Aligned(lot Qty) bool {
	return lot > 0 && q%lot == 0
}

// SafeAdd adds two int64 values and panics on overflow. Overflow in the
// hotpath means corrupted arithmetic; halting beats silently wrong fills.
func SafeAdd(a, b int64) int64 {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		panic(fmt.Sprintf("QUANT_OVERFLOW_ADD: %d + %d", a, b))
	}
	return c
}

// SafeSub subtracts b from a and panics on overflow.
func SafeSub(a, b int64) int64 {
	c := a - b
	if (b < 0 && c < a) || (b > 0 && c > a) {
		panic(fmt.Sprintf("QUANT_OVERFLOW_SUB: %d - %d", a, b))
	}
	return c
}

// SafeMulDiv computes a*b/div through an exact wide intermediate, so the
// product may exceed int64 as long as the quotient fits. The quotient
// truncates toward zero. Panics when div is not positive or the result
// overflows int64.
func SafeMulDiv(a, b, div int64) int64 {
	if div <= 0 {
		panic(fmt.Sprintf("QUANT_MULDIV_BAD_DIVISOR: %d", div))
	}
	d := decimal.NewFromInt(a).Mul(decimal.NewFromInt(b)).
		Div(decimal.NewFromInt(div)).Truncate(0)
	if d.GreaterThan(maxInt64Dec) || d.LessThan(minInt64Dec) {
		panic(fmt.Sprintf("QUANT_OVERFLOW_MULDIV: %d * %d / %d", a, b, div))
	}
	return d.IntPart()
}

var (
	maxInt64Dec = decimal.NewFromInt(1<<63 - 1)
	minInt64Dec = decimal.NewFromInt(-1 << 63)
)

// Notional returns the exact trade value of qty at price in the quote unit.
// Computed in decimal to avoid the micros*micros overflow range entirely.
func Notional(p Price, q Qty) decimal.Decimal {
	return p.Decimal().Mul(q.Decimal())
}

// InverseNotional returns qty/price, the trade value of an inverse contract
// denominated in the base unit. Panics on a zero price: an inverse fill at
// price zero has no defined value.
func InverseNotional(p Price, q Qty) decimal.Decimal {
	if p == 0 {
		panic("QUANT_INVERSE_ZERO_PRICE")
	}
	return q.Decimal().Div(p.Decimal())
}
