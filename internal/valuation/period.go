package valuation

import (
	"sort"
	"time"

	"github.com/atmx/valuation-engine/internal/aggregate"
	"github.com/atmx/valuation-engine/internal/model"
)

// PeriodProfit attributes profit in c over window w ending at now.
//
// Bets placed before the window are valued at the window-start probability
// (prob - probChanges[w]) and again at the current probability; the
// difference is the price-movement profit of the pre-existing position.
// Bets placed inside the window contribute their realized profit and
// invested amount from the metrics oracle.
func (e *Engine) PeriodProfit(c *model.Contract, bets []model.Bet, w model.Window, now time.Time) model.PeriodMetrics {
	from := w.Start(now)
	previous, recent := aggregate.Partition(bets, func(b model.Bet) bool {
		return b.CreatedTime.Before(from)
	})

	prevProb := c.Prob - c.ProbChanges.For(w)
	prevValue := ValuePositionAtProbability(previous, c, prevProb)
	// Value re-prices the previous bets, not the recent ones.
	value := ValuePositionAtProbability(previous, c, c.Prob)

	recentMetrics := e.oracle.BetMetrics(c, recent)

	profit := value - prevValue + recentMetrics.Profit
	invested := prevValue + recentMetrics.Invested
	profitPercent := 0.0
	if invested != 0 {
		profitPercent = 100 * (profit / invested)
	}

	return model.PeriodMetrics{
		Profit:        profit,
		ProfitPercent: profitPercent,
		Invested:      invested,
		PrevValue:     prevValue,
		Value:         value,
	}
}

// MetricsByContract computes current metrics for every contract a user has
// bets in, plus a day/week/month breakdown for binary constant-product
// contracts. Contracts missing from contractsByID are skipped. Results are
// ordered by contract ID.
func (e *Engine) MetricsByContract(
	betsByContract map[string][]model.Bet,
	contractsByID map[string]*model.Contract,
	now time.Time,
) []model.ContractMetrics {
	ids := make([]string, 0, len(betsByContract))
	for id := range betsByContract {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]model.ContractMetrics, 0, len(ids))
	for _, id := range ids {
		c, ok := contractsByID[id]
		if !ok || c == nil {
			continue
		}
		bets := betsByContract[id]
		cm := model.ContractMetrics{
			ContractID: id,
			BetMetrics: e.oracle.BetMetrics(c, bets),
		}
		if c.IsBinaryCPMM() {
			cm.From = make(map[model.Window]model.PeriodMetrics, len(model.PeriodWindows))
			for _, w := range model.PeriodWindows {
				cm.From[w] = e.PeriodProfit(c, bets, w, now)
			}
		}
		out = append(out, cm)
	}
	return out
}
