// Package payout values individual bets and accounts for batches of trades.
// It dispatches on the contract mechanism to the cpmm and dpm pricing code.
package payout

import (
	"math"
	"sort"

	"github.com/atmx/valuation-engine/internal/cpmm"
	"github.com/atmx/valuation-engine/internal/dpm"
	"github.com/atmx/valuation-engine/internal/model"
)

// shareEpsilon is the share balance below which a position counts as closed.
const shareEpsilon = 1e-7

// Calculator is the payout and trade-metrics oracle. The zero value is ready
// to use.
type Calculator struct{}

// Payout returns what bet pays under mode. Results are not guarded: extreme
// pools can yield ±Inf or NaN.
func (Calculator) Payout(c *model.Contract, b *model.Bet, mode model.Resolution) float64 {
	if mode == model.ResolutionCancel {
		return b.Amount
	}
	switch c.Mechanism {
	case model.MechanismCPMM:
		return cpmmPayout(c, b, mode)
	case model.MechanismDPM:
		if mode == model.ResolutionMarket {
			return dpm.MarketPayout(c, b.Outcome, b.Shares)
		}
		return dpm.ResolvedPayout(c, b.Outcome, model.Outcome(mode), b.Shares)
	}
	return 0
}

func cpmmPayout(c *model.Contract, b *model.Bet, mode model.Resolution) float64 {
	if mode != model.ResolutionMarket {
		if model.Outcome(mode) == b.Outcome {
			return b.Shares
		}
		return 0
	}
	prob := cpmm.Probability(c.Pool, cpmmP(c))
	if c.ResolutionProbability != nil {
		prob = *c.ResolutionProbability
	}
	if b.Outcome == model.OutcomeYes {
		return prob * b.Shares
	}
	return (1 - prob) * b.Shares
}

func cpmmP(c *model.Contract) float64 {
	if c.P == 0 {
		return 0.5
	}
	return c.P
}

// BetMetrics is the realized accounting for bets in c.
//
// Profit is payout + sale proceeds + redemptions - total bought, where
// payout uses the resolution when the contract has one and market odds
// otherwise. Invested is the cost basis still at risk: average-cost for
// constant-product contracts, net amount for the rest.
func (calc Calculator) BetMetrics(c *model.Contract, bets []model.Bet) model.BetMetrics {
	var totalInvested, payout, loan, saleValue, redeemed float64
	totalShares := make(map[model.Outcome]float64)

	mode := model.ResolutionMarket
	if c.Resolution != "" {
		mode = c.Resolution
	}

	for i := range bets {
		b := &bets[i]
		totalShares[b.Outcome] += b.Shares

		switch {
		case b.IsSold:
			totalInvested += b.Amount
		case b.Sale != nil:
			saleValue += b.Sale.Amount
		default:
			switch {
			case b.IsRedemption:
				redeemed -= b.Amount
			case b.Amount > 0:
				totalInvested += b.Amount
			default:
				// Constant-product sells are negative-amount bets.
				saleValue -= b.Amount
			}
			loan += b.Loan()
			payout += calc.Payout(c, b, mode)
		}
	}

	profit := payout + saleValue + redeemed - totalInvested
	profitPercent := 0.0
	if totalInvested != 0 {
		profitPercent = profit / totalInvested * 100
	}

	invested := netInvested(bets)
	if c.Mechanism == model.MechanismCPMM {
		invested = averageCostInvested(bets)
	}

	hasShares := false
	for _, s := range totalShares {
		if math.Abs(s) > shareEpsilon {
			hasShares = true
			break
		}
	}

	return model.BetMetrics{
		Invested:      invested,
		Loan:          loan,
		Payout:        payout,
		Profit:        profit,
		ProfitPercent: profitPercent,
		TotalShares:   totalShares,
		HasShares:     hasShares,
	}
}

// averageCostInvested replays trades in time order. Buys add their cost;
// sells remove cost at the running average price per share.
func averageCostInvested(bets []model.Bet) float64 {
	sorted := make([]model.Bet, len(bets))
	copy(sorted, bets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedTime.Before(sorted[j].CreatedTime)
	})

	shares := make(map[model.Outcome]float64)
	spent := make(map[model.Outcome]float64)
	for _, b := range sorted {
		switch {
		case b.Amount > 0:
			shares[b.Outcome] += b.Shares
			spent[b.Outcome] += b.Amount
		case b.Amount < 0:
			avg := 0.0
			if shares[b.Outcome] != 0 {
				avg = spent[b.Outcome] / shares[b.Outcome]
			}
			shares[b.Outcome] += b.Shares
			spent[b.Outcome] += b.Shares * avg
		}
	}

	var total float64
	for _, v := range spent {
		total += v
	}
	return total
}

// netInvested is the amount still committed to unsold parimutuel bets.
func netInvested(bets []model.Bet) float64 {
	var total float64
	for i := range bets {
		b := &bets[i]
		if b.Liquidated() {
			continue
		}
		total += b.Amount
	}
	return total
}
