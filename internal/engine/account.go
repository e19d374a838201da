package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pikki622/hftbacktest/internal/domain"
	"github.com/pikki622/hftbacktest/pkg/quant"
)

// AccountState tracks position, balance and fee accrual. It is mutated
// synchronously and exclusively by the matching engine at fill time.
type AccountState struct {
	assetType domain.AssetType
	makerFee  decimal.Decimal // rate; negative means a rebate
	takerFee  decimal.Decimal

	position quant.Qty
	balance  decimal.Decimal
	fee      decimal.Decimal
}

func newAccountState(assetType domain.AssetType, makerFee, takerFee decimal.Decimal) *AccountState {
	return &AccountState{assetType: assetType, makerFee: makerFee, takerFee: takerFee}
}

// Position returns the signed position in base units (micros).
func (a *AccountState) Position() quant.Qty { return a.position }

// Balance returns the cash balance, net of fees.
func (a *AccountState) Balance() decimal.Decimal { return a.balance }

// Fee returns the cumulative fee paid (negative when rebates dominate).
func (a *AccountState) Fee() decimal.Decimal { return a.fee }

// notional returns the trade value of qty at price: price*qty in the quote
// unit for linear contracts, qty/price in the base unit for inverse.
func (a *AccountState) notional(price quant.Price, qty quant.Qty) decimal.Decimal {
	if a.assetType == domain.AssetInverse {
		return quant.InverseNotional(price, qty)
	}
	return quant.Notional(price, qty)
}

// applyFill books one fill:
//
//	fee      = notional * rate        (maker or taker rate)
//	balance += -sign * notional - fee
//	position += sign * qty
func (a *AccountState) applyFill(side domain.Side, price quant.Price, qty quant.Qty, maker bool) decimal.Decimal {
	if qty <= 0 {
		panic(fmt.Sprintf("ACCOUNT_NON_POSITIVE_FILL: side=%s price=%s qty=%d", side, price, qty))
	}

	notional := a.notional(price, qty)
	rate := a.takerFee
	if maker {
		rate = a.makerFee
	}
	fee := notional.Mul(rate)

	sign := decimal.NewFromInt(side.Sign())
	a.balance = a.balance.Sub(sign.Mul(notional)).Sub(fee)
	a.fee = a.fee.Add(fee)
	a.position = quant.Qty(quant.SafeAdd(int64(a.position), side.Sign()*int64(qty)))
	return fee
}

// Equity values the account at the given mark price: balance plus the
// position marked at mid (position*mid for linear, position/mid for
// inverse contracts).
func (a *AccountState) Equity(mid quant.Price) decimal.Decimal {
	if a.position == 0 || mid == 0 {
		return a.balance
	}
	if a.assetType == domain.AssetInverse {
		return a.balance.Add(a.position.Decimal().Div(mid.Decimal()))
	}
	return a.balance.Add(a.position.Decimal().Mul(mid.Decimal()))
}
