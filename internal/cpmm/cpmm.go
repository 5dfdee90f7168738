// Package cpmm implements the constant-product market maker ("cpmm-1") used
// to price binary markets.
//
// The pool holds YES and NO reserves (y, n) and a weighting parameter p.
// Trades move along the curve
//
//	y^p * n^(1-p) = k
//
// and the implied YES probability is
//
//	prob = p*n / ((1-p)*y + p*n)
//
// The maker is stateless: pools are passed in and new pools returned. Results
// are not clamped. Near saturation the power terms overflow and callers see
// ±Inf or NaN, which they are expected to guard against.
package cpmm

import (
	"math"

	"github.com/atmx/valuation-engine/internal/model"
)

// Probability returns the implied YES probability of a pool.
func Probability(pool model.Pool, p float64) float64 {
	y, n := pool[model.OutcomeYes], pool[model.OutcomeNo]
	return p * n / ((1-p)*y + p*n)
}

// constant returns k = y^p * n^(1-p).
func constant(pool model.Pool, p float64) float64 {
	y, n := pool[model.OutcomeYes], pool[model.OutcomeNo]
	return math.Pow(y, p) * math.Pow(n, 1-p)
}

// Shares returns the number of outcome shares an AMM purchase of amount buys.
func Shares(pool model.Pool, p, amount float64, outcome model.Outcome) float64 {
	y, n := pool[model.OutcomeYes], pool[model.OutcomeNo]
	k := constant(pool, p)
	if outcome == model.OutcomeYes {
		return y + amount - math.Pow(k*math.Pow(n+amount, p-1), 1/p)
	}
	return n + amount - math.Pow(k*math.Pow(y+amount, -p), 1/(1-p))
}

// Buy returns the pool after an AMM purchase of amount on outcome, together
// with the shares received. The amount is added to both reserves and the
// shares leave the bought side.
func Buy(pool model.Pool, p, amount float64, outcome model.Outcome) (model.Pool, float64) {
	shares := Shares(pool, p, amount, outcome)
	next := pool.Clone()
	next[model.OutcomeYes] += amount
	next[model.OutcomeNo] += amount
	next[outcome] -= shares
	return next, shares
}

// AmountToProb returns how much must be bought on outcome to move the YES
// probability to prob. Probabilities outside (0, 1) are unreachable and
// return +Inf.
//
// With r = p*(1-prob) / ((1-p)*prob) the post-trade pool satisfies y' = r*n':
//
//	YES: n' = k * r^-p,    amount = n' - n
//	NO:  y' = k * r^(1-p), amount = y' - y
func AmountToProb(pool model.Pool, p, prob float64, outcome model.Outcome) float64 {
	if prob <= 0 || prob >= 1 || math.IsNaN(prob) {
		return math.Inf(1)
	}
	y, n := pool[model.OutcomeYes], pool[model.OutcomeNo]
	k := constant(pool, p)
	r := p * (1 - prob) / ((1 - p) * prob)
	if outcome == model.OutcomeYes {
		return k*math.Pow(r, -p) - n
	}
	return k*math.Pow(r, 1-p) - y
}
