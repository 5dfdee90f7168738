// Package rollup aggregates valuation and trading activity into
// daily/weekly/monthly/all-time figures. Every entry point that depends on
// time takes an explicit now so that all windows of one rollup share a
// single instant.
package rollup

import (
	"math"
	"time"

	"github.com/atmx/valuation-engine/internal/aggregate"
	"github.com/atmx/valuation-engine/internal/model"
)

// Valuer marks bets to market at live odds.
type Valuer interface {
	ValuePosition(bets []model.Bet, contractsByID map[string]*model.Contract) float64
}

// NewPortfolioSnapshot values the user's current bets and stamps the result
// with now.
func NewPortfolioSnapshot(
	v Valuer,
	user model.User,
	contractsByID map[string]*model.Contract,
	currentBets []model.Bet,
	now time.Time,
) model.PortfolioMetrics {
	return model.PortfolioMetrics{
		UserID:          user.ID,
		InvestmentValue: v.ValuePosition(currentBets, contractsByID),
		Balance:         user.Balance,
		TotalDeposits:   user.TotalDeposits,
		Timestamp:       now,
	}
}

// PortfolioProfit is investment value plus balance minus deposits.
func PortfolioProfit(s model.PortfolioMetrics) float64 {
	return s.InvestmentValue + s.Balance - s.TotalDeposits
}

// ProfitDelta is the profit earned since prior. With no prior snapshot the
// whole current profit is attributed to the window.
func ProfitDelta(prior *model.PortfolioMetrics, currentProfit float64) float64 {
	if prior == nil {
		return currentProfit
	}
	return currentProfit - PortfolioProfit(*prior)
}

// ProfitByWindow compares a new snapshot against the prior snapshot of each
// window.
func ProfitByWindow(history model.PortfolioHistory, current model.PortfolioMetrics) model.WindowTotals {
	allTime := PortfolioProfit(current)
	return model.WindowTotals{
		Daily:   ProfitDelta(history.Day, allTime),
		Weekly:  ProfitDelta(history.Week, allTime),
		Monthly: ProfitDelta(history.Month, allTime),
		AllTime: allTime,
	}
}

// totalPool sums the reserves of contracts created at or after start.
func totalPool(contracts []model.Contract, start time.Time) float64 {
	return aggregate.SumBy(contracts, func(c model.Contract) float64 {
		if c.CreatedTime.Before(start) {
			return 0
		}
		return c.Pool.Total()
	})
}

// CreatorVolume sums the pool reserves of markets the user created within
// each window, a proxy for the stakes those markets attracted.
func CreatorVolume(userContracts []model.Contract, now time.Time) model.WindowTotals {
	return model.WindowTotals{
		Daily:   totalPool(userContracts, model.WindowDay.Start(now)),
		Weekly:  totalPool(userContracts, model.WindowWeek.Start(now)),
		Monthly: totalPool(userContracts, model.WindowMonth.Start(now)),
		AllTime: totalPool(userContracts, model.WindowAllTime.Start(now)),
	}
}

// CreatorTraders sums each contract's own windowed unique-trader counters.
func CreatorTraders(userContracts []model.Contract) model.TraderCounts {
	var out model.TraderCounts
	for i := range userContracts {
		c := &userContracts[i]
		out.Daily += c.UniqueBettors(model.WindowDay)
		out.Weekly += c.UniqueBettors(model.WindowWeek)
		out.Monthly += c.UniqueBettors(model.WindowMonth)
		out.AllTime += c.UniqueBettors(model.WindowAllTime)
	}
	return out
}

// MarketVolume is the absolute traded amount after since, excluding
// redemptions and antes.
func MarketVolume(contractBets []model.Bet, since time.Time) float64 {
	return aggregate.SumBy(contractBets, func(b model.Bet) float64 {
		if !b.CreatedTime.After(since) || b.IsRedemption || b.IsAnte {
			return 0
		}
		return math.Abs(b.Amount)
	})
}

// ProbabilityChange is how far the probability moved since the given time.
// descendingBets must be sorted newest first. The reference point is the
// newest bet placed before since; if every bet is inside the window, the
// oldest bet's probBefore is used.
func ProbabilityChange(currentProb float64, descendingBets []model.Bet, since time.Time) float64 {
	if len(descendingBets) == 0 {
		return 0
	}
	for i := range descendingBets {
		if descendingBets[i].CreatedTime.Before(since) {
			return currentProb - descendingBets[i].ProbAfter
		}
	}
	oldest, _ := aggregate.Last(descendingBets)
	return currentProb - oldest.ProbBefore
}
