// Package elasticity estimates the price impact of a hypothetical trade.
//
// For a constant-product market the estimate is the spread between the
// probability after a YES buy and after a NO buy of the same size, both
// simulated against the resting limit-order book. Parimutuel markets return
// the probability a fresh position of twice the size would reach.
package elasticity

import (
	"math"
	"sort"

	"github.com/atmx/valuation-engine/internal/aggregate"
	"github.com/atmx/valuation-engine/internal/cpmm"
	"github.com/atmx/valuation-engine/internal/dpm"
	"github.com/atmx/valuation-engine/internal/model"
)

// DefaultTradeSize is the trade amount used when quoting elasticity.
const DefaultTradeSize = 50

// unlimitedBalance is the balance assumed for every resting-order owner.
const unlimitedBalance = 1<<53 - 1

// Pricer simulates constant-product trades.
type Pricer interface {
	SimulateBet(
		outcome model.Outcome,
		amount float64,
		c *model.Contract,
		limitProb *float64,
		orders []model.LimitBet,
		balances map[string]float64,
	) cpmm.BetInfo
	Probability(pool model.Pool, p float64) float64
}

// Parimutuel simulates multi-outcome parimutuel trades.
type Parimutuel interface {
	SimulateMultiBet(outcome model.Outcome, amount float64, c *model.Contract) dpm.BetInfo
}

// Estimator computes elasticity using the given simulators.
type Estimator struct {
	pricer     Pricer
	parimutuel Parimutuel
}

// NewEstimator creates an Estimator.
func NewEstimator(pricer Pricer, parimutuel Parimutuel) *Estimator {
	return &Estimator{pricer: pricer, parimutuel: parimutuel}
}

// Default returns an Estimator backed by the cpmm and dpm packages.
func Default() *Estimator {
	return NewEstimator(cpmm.MarketMaker{}, dpm.Simulator{})
}

// Elasticity returns the price impact of a trade of tradeSize on c given its
// unfilled limit orders. Unknown mechanisms return 0. The caller's slice is
// not reordered.
func (e *Estimator) Elasticity(unfilled []model.LimitBet, c *model.Contract, tradeSize float64) float64 {
	switch c.Mechanism {
	case model.MechanismCPMM:
		return e.binaryCPMM(unfilled, c, tradeSize)
	case model.MechanismDPM:
		return clampProb(e.parimutuel.SimulateMultiBet("", 2*tradeSize, c).ProbAfter)
	default:
		return 0
	}
}

func (e *Estimator) binaryCPMM(unfilled []model.LimitBet, c *model.Contract, tradeSize float64) float64 {
	sorted := make([]model.LimitBet, len(unfilled))
	copy(sorted, unfilled)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedTime.Before(sorted[j].CreatedTime)
	})

	balances := make(map[string]float64)
	for _, id := range aggregate.Uniq(sorted, func(l model.LimitBet) string { return l.UserID }) {
		balances[id] = unlimitedBalance
	}

	return e.spread(c, sorted, balances, tradeSize)
}

// spread simulates both sides and clamps overflow to the bounds the AMM
// saturates toward: 1 on the YES side, 0 on the NO side.
func (e *Estimator) spread(c *model.Contract, orders []model.LimitBet, balances map[string]float64, tradeSize float64) float64 {
	yes := e.pricer.SimulateBet(model.OutcomeYes, tradeSize, c, nil, orders, balances)
	resultYes := e.pricer.Probability(yes.NewPool, yes.NewP)

	no := e.pricer.SimulateBet(model.OutcomeNo, tradeSize, c, nil, orders, balances)
	resultNo := e.pricer.Probability(no.NewPool, no.NewP)

	if math.IsNaN(resultYes) || math.IsInf(resultYes, 0) {
		resultYes = 1
	}
	if math.IsNaN(resultNo) || math.IsInf(resultNo, 0) {
		resultNo = 0
	}
	return resultYes - resultNo
}

// clampProb bounds a probability to [0, 1]. NaN, from an empty share
// supply, maps to 0.
func clampProb(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}

// FromAnte estimates elasticity for a fresh binary market seeded with ante on
// each side at p = 0.5 and an empty order book.
func (e *Estimator) FromAnte(ante, tradeSize float64) float64 {
	c := &model.Contract{
		Mechanism:   model.MechanismCPMM,
		OutcomeType: model.OutcomeTypeBinary,
		Pool:        model.Pool{model.OutcomeYes: ante, model.OutcomeNo: ante},
		P:           0.5,
	}
	return e.spread(c, nil, map[string]float64{}, tradeSize)
}
