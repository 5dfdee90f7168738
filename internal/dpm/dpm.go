// Package dpm implements the dynamic parimutuel market ("dpm-2").
//
// Each outcome has a share supply s_i. The probability of outcome i is
//
//	s_i^2 / Σ s_j^2
//
// and buying amount b of outcome i issues
//
//	sqrt(b^2 + s_i^2 + 2b*sqrt(Σ s_j^2)) - s_i
//
// new shares. Winners split the pool pro rata to their shares.
package dpm

import (
	"math"

	"github.com/atmx/valuation-engine/internal/model"
)

func squareSum(totalShares map[model.Outcome]float64) float64 {
	var sum float64
	for _, s := range totalShares {
		sum += s * s
	}
	return sum
}

// Probability returns the implied probability of outcome.
func Probability(totalShares map[model.Outcome]float64, outcome model.Outcome) float64 {
	s := totalShares[outcome]
	return s * s / squareSum(totalShares)
}

// Shares returns how many shares a purchase of amount on outcome issues.
func Shares(totalShares map[model.Outcome]float64, amount float64, outcome model.Outcome) float64 {
	s := totalShares[outcome]
	c := 2 * amount * math.Sqrt(squareSum(totalShares))
	return math.Sqrt(amount*amount+s*s+c) - s
}

// BetInfo is the result of a simulated parimutuel purchase.
type BetInfo struct {
	Shares         float64                   `json:"shares"`
	NewTotalShares map[model.Outcome]float64 `json:"new_total_shares"`
	NewPool        model.Pool                `json:"new_pool"`
	ProbBefore     float64                   `json:"prob_before"`
	ProbAfter      float64                   `json:"prob_after"`
}

// Simulator runs parimutuel purchases without touching the contract.
// The zero value is ready to use.
type Simulator struct{}

// SimulateMultiBet buys amount of outcome. The outcome need not exist yet:
// an unseen label starts with zero shares, which is how callers estimate the
// weight a fresh position of that size would carry.
func (Simulator) SimulateMultiBet(outcome model.Outcome, amount float64, c *model.Contract) BetInfo {
	shares := Shares(c.TotalShares, amount, outcome)

	next := make(map[model.Outcome]float64, len(c.TotalShares)+1)
	for o, s := range c.TotalShares {
		next[o] = s
	}
	next[outcome] += shares

	pool := c.Pool.Clone()
	pool[outcome] += amount

	return BetInfo{
		Shares:         shares,
		NewTotalShares: next,
		NewPool:        pool,
		ProbBefore:     Probability(c.TotalShares, outcome),
		ProbAfter:      Probability(next, outcome),
	}
}

// MarketPayout values shares of outcome at live odds: each outcome's claim
// on the pool is weighted by its probability.
func MarketPayout(c *model.Contract, outcome model.Outcome, shares float64) float64 {
	var weighted float64
	for o, s := range c.TotalShares {
		weighted += Probability(c.TotalShares, o) * s
	}
	return Probability(c.TotalShares, outcome) * shares / weighted * c.Pool.Total()
}

// ResolvedPayout pays shares of outcome if winner is that outcome.
func ResolvedPayout(c *model.Contract, outcome, winner model.Outcome, shares float64) float64 {
	if outcome != winner {
		return 0
	}
	return shares / c.TotalShares[winner] * c.Pool.Total()
}
