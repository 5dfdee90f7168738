// Package valuation marks positions to market and attributes profit over
// trailing windows.
//
// All functions are pure: they read only their arguments and the supplied
// now. Oracle overflow, missing contracts and liquidated positions degrade to
// zero contributions instead of errors.
package valuation

import (
	"math"

	"github.com/atmx/valuation-engine/internal/aggregate"
	"github.com/atmx/valuation-engine/internal/model"
)

// PayoutOracle returns what a bet pays under a resolution mode. It may
// return non-finite values for extreme pools.
type PayoutOracle interface {
	Payout(c *model.Contract, b *model.Bet, mode model.Resolution) float64
}

// MetricsOracle computes realized accounting for a batch of trades.
type MetricsOracle interface {
	BetMetrics(c *model.Contract, bets []model.Bet) model.BetMetrics
}

// Oracle bundles the collaborators the engine consumes.
type Oracle interface {
	PayoutOracle
	MetricsOracle
}

// Engine values positions using an Oracle.
type Engine struct {
	oracle Oracle
}

// NewEngine creates an engine backed by oracle.
func NewEngine(oracle Oracle) *Engine {
	return &Engine{oracle: oracle}
}

// finiteOrZero maps NaN and ±Inf to 0.
func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ValuePosition marks bets to market at live odds, net of loans. Bets whose
// contract is missing or resolved, and liquidated bets, contribute 0.
func (e *Engine) ValuePosition(bets []model.Bet, contractsByID map[string]*model.Contract) float64 {
	return aggregate.SumBy(bets, func(b model.Bet) float64 {
		c, ok := contractsByID[b.ContractID]
		if !ok || c == nil || c.IsResolved {
			return 0
		}
		if b.Liquidated() {
			return 0
		}
		return finiteOrZero(e.oracle.Payout(c, &b, model.ResolutionMarket) - b.Loan())
	})
}

// ValuePositionAtProbability values every unliquidated bet at a single
// probability p: YES shares are worth p, NO shares 1-p. This ignores
// per-bet pricing and is meant for historical snapshots where the pool at
// the time is unknown.
func ValuePositionAtProbability(bets []model.Bet, c *model.Contract, p float64) float64 {
	if c == nil {
		return 0
	}
	return aggregate.SumBy(bets, func(b model.Bet) float64 {
		if b.Liquidated() {
			return 0
		}
		betP := p
		if b.Outcome != model.OutcomeYes {
			betP = 1 - p
		}
		return finiteOrZero(betP * b.Shares)
	})
}
