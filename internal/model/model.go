// Package model defines the core domain types shared across the valuation
// engine. Records are read-only snapshots: the engines never mutate them.
//
// Money and probabilities are float64 because the pricing oracles can
// overflow to ±Inf or NaN near saturation and the engines must be able to see
// and clamp that. Exact decimal handling happens at the storage boundary.
package model

import (
	"time"
)

// Outcome is a market outcome label.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Opposite returns the other side of a binary outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Bet is an immutable record of an executed order.
type Bet struct {
	ID           string    `json:"id" db:"id"`
	ContractID   string    `json:"contract_id" db:"contract_id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Outcome      Outcome   `json:"outcome" db:"outcome"`
	Amount       float64   `json:"amount" db:"amount"` // signed cost: +buy, -sell
	Shares       float64   `json:"shares" db:"shares"`
	ProbBefore   float64   `json:"prob_before" db:"prob_before"`
	ProbAfter    float64   `json:"prob_after" db:"prob_after"`
	CreatedTime  time.Time `json:"created_time" db:"created_time"`
	LoanAmount   *float64  `json:"loan_amount,omitempty" db:"loan_amount"`
	IsSold       bool      `json:"is_sold,omitempty" db:"is_sold"`
	Sale         *Sale     `json:"sale,omitempty"`
	IsRedemption bool      `json:"is_redemption,omitempty" db:"is_redemption"`
	IsAnte       bool      `json:"is_ante,omitempty" db:"is_ante"`
}

// Sale records the liquidation of a bet.
type Sale struct {
	Amount float64 `json:"amount"`
	BetID  string  `json:"bet_id"`
}

// Loan returns the outstanding loan against the bet, 0 when absent.
func (b *Bet) Loan() float64 {
	if b.LoanAmount == nil {
		return 0
	}
	return *b.LoanAmount
}

// Liquidated reports whether the position was fully or partially sold.
func (b *Bet) Liquidated() bool {
	return b.IsSold || b.Sale != nil
}

// LimitBet is a resting order that has not been fully matched.
// Amount is what has been filled so far; OrderAmount is the total the maker
// committed at LimitProb.
type LimitBet struct {
	ID          string    `json:"id" db:"id"`
	ContractID  string    `json:"contract_id" db:"contract_id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Outcome     Outcome   `json:"outcome" db:"outcome"`
	Amount      float64   `json:"amount" db:"amount"`
	OrderAmount float64   `json:"order_amount" db:"order_amount"`
	LimitProb   float64   `json:"limit_prob" db:"limit_prob"`
	CreatedTime time.Time `json:"created_time" db:"created_time"`
}

// Remaining returns the unfilled part of the order.
func (l *LimitBet) Remaining() float64 {
	r := l.OrderAmount - l.Amount
	if r < 0 {
		return 0
	}
	return r
}

// Pool maps each outcome to its reserve quantity. All reserves are >= 0.
type Pool map[Outcome]float64

// Total returns the sum of all reserves.
func (p Pool) Total() float64 {
	var total float64
	for _, v := range p {
		total += v
	}
	return total
}

// Clone returns an independent copy of the pool.
func (p Pool) Clone() Pool {
	out := make(Pool, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// OutcomeType is the shape of the question a contract asks.
type OutcomeType string

const (
	OutcomeTypeBinary         OutcomeType = "BINARY"
	OutcomeTypeFreeResponse   OutcomeType = "FREE_RESPONSE"
	OutcomeTypeMultipleChoice OutcomeType = "MULTIPLE_CHOICE"
	OutcomeTypePseudoNumeric  OutcomeType = "PSEUDO_NUMERIC"
)

// ProbChanges holds the probability delta of a contract over each window.
type ProbChanges struct {
	Day   float64 `json:"day"`
	Week  float64 `json:"week"`
	Month float64 `json:"month"`
}

// For returns the delta for w, 0 for unknown windows.
func (p ProbChanges) For(w Window) float64 {
	switch w {
	case WindowDay:
		return p.Day
	case WindowWeek:
		return p.Week
	case WindowMonth:
		return p.Month
	}
	return 0
}

// Contract is a snapshot of one market.
type Contract struct {
	ID          string      `json:"id" db:"id"`
	CreatorID   string      `json:"creator_id" db:"creator_id"`
	Mechanism   Mechanism   `json:"mechanism" db:"mechanism"`
	OutcomeType OutcomeType `json:"outcome_type" db:"outcome_type"`
	Pool        Pool        `json:"pool"`
	// P is the constant-product weighting parameter; 0.5 for a symmetric pool.
	P float64 `json:"p" db:"p"`
	// Prob is the current implied probability. Only meaningful for binary cpmm-1.
	Prob        float64     `json:"prob" db:"prob"`
	ProbChanges ProbChanges `json:"prob_changes"`
	// TotalShares is the per-outcome share supply of a parimutuel contract.
	TotalShares           map[Outcome]float64 `json:"total_shares,omitempty"`
	CreatedTime           time.Time           `json:"created_time" db:"created_time"`
	IsResolved            bool                `json:"is_resolved" db:"is_resolved"`
	Resolution            Resolution          `json:"resolution,omitempty" db:"resolution"`
	ResolutionProbability *float64            `json:"resolution_probability,omitempty" db:"resolution_probability"`

	UniqueBettorCount   *int `json:"unique_bettor_count,omitempty" db:"unique_bettor_count"`
	UniqueBettors24h    *int `json:"unique_bettors_24h,omitempty" db:"unique_bettors_24h"`
	UniqueBettors7Days  *int `json:"unique_bettors_7d,omitempty" db:"unique_bettors_7d"`
	UniqueBettors30Days *int `json:"unique_bettors_30d,omitempty" db:"unique_bettors_30d"`
}

// IsBinaryCPMM reports whether the contract supports window accounting.
func (c *Contract) IsBinaryCPMM() bool {
	return c.Mechanism == MechanismCPMM && c.OutcomeType == OutcomeTypeBinary
}

// UniqueBettors returns the precomputed trader counter for w. WindowAllTime
// reads UniqueBettorCount. Absent counters count as 0.
func (c *Contract) UniqueBettors(w Window) int {
	var v *int
	switch w {
	case WindowDay:
		v = c.UniqueBettors24h
	case WindowWeek:
		v = c.UniqueBettors7Days
	case WindowMonth:
		v = c.UniqueBettors30Days
	case WindowAllTime:
		v = c.UniqueBettorCount
	}
	if v == nil {
		return 0
	}
	return *v
}

// User carries the account figures a portfolio snapshot needs.
type User struct {
	ID            string  `json:"id" db:"id"`
	Balance       float64 `json:"balance" db:"balance"`
	TotalDeposits float64 `json:"total_deposits" db:"total_deposits"`
}

// PortfolioMetrics is a timestamped valuation snapshot for one user.
// Timestamps are strictly increasing across snapshots of the same user.
type PortfolioMetrics struct {
	UserID          string    `json:"user_id" db:"user_id"`
	InvestmentValue float64   `json:"investment_value" db:"investment_value"`
	Balance         float64   `json:"balance" db:"balance"`
	TotalDeposits   float64   `json:"total_deposits" db:"total_deposits"`
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
}

// PortfolioHistory holds the prior snapshots closest to each window start.
// A nil entry means no snapshot exists that far back.
type PortfolioHistory struct {
	Current *PortfolioMetrics
	Day     *PortfolioMetrics
	Week    *PortfolioMetrics
	Month   *PortfolioMetrics
}

// BetMetrics is the realized accounting of a batch of trades in one contract.
type BetMetrics struct {
	Invested      float64             `json:"invested"`
	Loan          float64             `json:"loan"`
	Payout        float64             `json:"payout"`
	Profit        float64             `json:"profit"`
	ProfitPercent float64             `json:"profit_percent"`
	TotalShares   map[Outcome]float64 `json:"total_shares"`
	HasShares     bool                `json:"has_shares"`
}

// PeriodMetrics is the profit attribution of one contract over one window.
type PeriodMetrics struct {
	Profit        float64 `json:"profit"`
	ProfitPercent float64 `json:"profit_percent"`
	Invested      float64 `json:"invested"`
	PrevValue     float64 `json:"prev_value"`
	Value         float64 `json:"value"`
}

// ContractMetrics is the per-(user, contract) decomposition of a portfolio.
// From is set only for binary constant-product contracts.
type ContractMetrics struct {
	ContractID string `json:"contract_id"`
	BetMetrics
	From map[Window]PeriodMetrics `json:"from,omitempty"`
}

// WindowTotals is a money figure rolled up over each trailing window.
type WindowTotals struct {
	Daily   float64 `json:"daily"`
	Weekly  float64 `json:"weekly"`
	Monthly float64 `json:"monthly"`
	AllTime float64 `json:"all_time"`
}

// TraderCounts is a trader counter rolled up over each trailing window.
type TraderCounts struct {
	Daily   int `json:"daily"`
	Weekly  int `json:"weekly"`
	Monthly int `json:"monthly"`
	AllTime int `json:"all_time"`
}
