package cpmm

import (
	"math"
	"sort"

	"github.com/atmx/valuation-engine/internal/model"
)

// epsilon is the smallest amount still worth matching.
const epsilon = 1e-9

// Fill is one leg of a taker order: either an AMM purchase or a match
// against a resting limit order.
type Fill struct {
	MatchedBetID string  `json:"matched_bet_id,omitempty"` // empty for AMM fills
	Amount       float64 `json:"amount"`
	Shares       float64 `json:"shares"`
}

// BetInfo is the outcome of a simulated taker order.
type BetInfo struct {
	NewPool   model.Pool `json:"new_pool"`
	NewP      float64    `json:"new_p"`
	Shares    float64    `json:"shares"`
	Amount    float64    `json:"amount"` // amount actually spent
	Fills     []Fill     `json:"fills"`
	ProbAfter float64    `json:"prob_after"`
}

// MarketMaker simulates taker orders against a contract's pool and resting
// limit-order book. The zero value is ready to use.
type MarketMaker struct{}

// Probability implements the pricing oracle's pool-to-probability mapping.
func (MarketMaker) Probability(pool model.Pool, p float64) float64 {
	return Probability(pool, p)
}

// SimulateBet fills a buy of amount on outcome without touching the real
// market. Resting orders on the opposite side are matched at their own limit
// probability once the AMM price reaches it, cheapest price first and
// earliest createdTime among equal prices. Each maker is bounded by the
// unfilled part of the order and by its balance; makers with no balance entry
// are skipped. A non-nil limitProb caps how far the taker moves the price.
func (MarketMaker) SimulateBet(
	outcome model.Outcome,
	amount float64,
	c *model.Contract,
	limitProb *float64,
	orders []model.LimitBet,
	balances map[string]float64,
) BetInfo {
	p := c.P
	if p == 0 {
		p = 0.5
	}
	pool := c.Pool.Clone()
	makers := matchable(outcome, orders, limitProb)
	remaining := make(map[string]float64, len(balances))
	for id, bal := range balances {
		remaining[id] = bal
	}

	info := BetInfo{NewP: p}
	left := amount

	for left > epsilon {
		prob := Probability(pool, p)

		target := math.NaN()
		var maker *model.LimitBet
		for len(makers) > 0 {
			m := makers[0]
			if m.Remaining() > epsilon && remaining[m.UserID] > epsilon {
				maker = &m
				target = m.LimitProb
				break
			}
			makers = makers[1:]
		}
		if limitProb != nil && (maker == nil || beyond(outcome, target, *limitProb)) {
			maker = nil
			target = *limitProb
		}

		if math.IsNaN(target) {
			// No maker and no limit: the AMM takes the rest.
			pool = info.buyAMM(pool, p, left, outcome)
			left = 0
			break
		}

		needed := 0.0
		if beyond(outcome, target, prob) {
			needed = AmountToProb(pool, p, target, outcome)
		}
		if needed >= left || math.IsNaN(needed) {
			pool = info.buyAMM(pool, p, left, outcome)
			left = 0
			break
		}
		if needed > epsilon {
			pool = info.buyAMM(pool, p, needed, outcome)
			left -= needed
		}
		if maker == nil {
			// Reached the taker's own limit.
			break
		}

		left -= info.matchMaker(maker, outcome, left, remaining)
		makers = makers[1:]
	}

	info.NewPool = pool
	info.ProbAfter = Probability(pool, p)
	return info
}

// buyAMM records an AMM leg and returns the new pool.
func (b *BetInfo) buyAMM(pool model.Pool, p, amount float64, outcome model.Outcome) model.Pool {
	next, shares := Buy(pool, p, amount, outcome)
	b.Fills = append(b.Fills, Fill{Amount: amount, Shares: shares})
	b.Shares += shares
	b.Amount += amount
	return next
}

// matchMaker fills up to left against m at its limit probability and returns
// the taker amount spent. Matches do not move the pool.
func (b *BetInfo) matchMaker(m *model.LimitBet, outcome model.Outcome, left float64, balances map[string]float64) float64 {
	takerPrice := m.LimitProb
	if outcome == model.OutcomeNo {
		takerPrice = 1 - m.LimitProb
	}
	makerPrice := 1 - takerPrice

	shares := left / takerPrice
	makerCost := shares * makerPrice
	capacity := math.Min(m.Remaining(), balances[m.UserID])
	if makerCost > capacity {
		makerCost = capacity
		shares = capacity / makerPrice
	}
	spent := shares * takerPrice
	balances[m.UserID] -= makerCost

	b.Fills = append(b.Fills, Fill{MatchedBetID: m.ID, Amount: spent, Shares: shares})
	b.Shares += shares
	b.Amount += spent
	return spent
}

// beyond reports whether target lies further in the taker's direction than
// from. A YES taker pushes the price up, a NO taker pushes it down.
func beyond(outcome model.Outcome, target, from float64) bool {
	if outcome == model.OutcomeYes {
		return target > from
	}
	return target < from
}

// matchable returns the opposite-side orders a taker can reach, best price
// first. The sort is stable so the caller's createdTime order breaks ties.
func matchable(outcome model.Outcome, orders []model.LimitBet, limitProb *float64) []model.LimitBet {
	var out []model.LimitBet
	for _, o := range orders {
		if o.Outcome == outcome || o.LimitProb <= 0 || o.LimitProb >= 1 {
			continue
		}
		if limitProb != nil && beyond(outcome, o.LimitProb, *limitProb) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if outcome == model.OutcomeYes {
			return out[i].LimitProb < out[j].LimitProb
		}
		return out[i].LimitProb > out[j].LimitProb
	})
	return out
}
