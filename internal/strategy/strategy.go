// Package strategy contains trading strategies driving the backtest
// stepping API, plus the built-in market maker.
package strategy

import (
	"github.com/pikki622/hftbacktest/internal/engine"
)

// Strategy drives one backtest from start to exhaustion. Run owns the
// stepping loop; it returns nil on normal data exhaustion and an error
// only when the run aborted.
type Strategy interface {
	Run(bt *engine.Backtest) error
}
