// Package portfolio provides the HTTP handlers and orchestration that feed
// stored users, bets and contracts through the valuation engines:
// portfolio snapshots, per-contract metrics, creator stats, market activity
// and elasticity quotes.
//
// Engines compute in float64; money leaving the API is rounded to cents with
// shopspring/decimal.
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/valuation-engine/internal/aggregate"
	"github.com/atmx/valuation-engine/internal/elasticity"
	"github.com/atmx/valuation-engine/internal/metrics"
	"github.com/atmx/valuation-engine/internal/model"
	"github.com/atmx/valuation-engine/internal/payout"
	"github.com/atmx/valuation-engine/internal/rollup"
	"github.com/atmx/valuation-engine/internal/store"
	"github.com/atmx/valuation-engine/internal/valuation"
)

// ErrInvalidInput marks requests rejected before touching the store.
var ErrInvalidInput = errors.New("invalid input")

// Service wires the store to the valuation, rollup and elasticity engines.
type Service struct {
	store     store.Store
	engine    *valuation.Engine
	estimator *elasticity.Estimator
	tradeSize float64
	wsHub     *WSHub // optional WebSocket hub for snapshot broadcasts
	now       func() time.Time
}

// NewService creates a new portfolio service. Pass nil for hub if WebSocket
// broadcasting is not needed; tradeSize <= 0 selects the default quote size.
func NewService(st store.Store, hub *WSHub, tradeSize float64) *Service {
	if tradeSize <= 0 {
		tradeSize = elasticity.DefaultTradeSize
	}
	return &Service{
		store:     st,
		engine:    valuation.NewEngine(observedOracle{payout.Calculator{}}),
		estimator: elasticity.Default(),
		tradeSize: tradeSize,
		wsHub:     hub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// observedOracle counts non-finite payouts before the engine zeroes them.
type observedOracle struct {
	payout.Calculator
}

func (o observedOracle) Payout(c *model.Contract, b *model.Bet, mode model.Resolution) float64 {
	v := o.Calculator.Payout(c, b, mode)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		metrics.NonFinitePayouts.Inc()
	}
	return v
}

// --- Results ---

// Money is a cent-rounded monetary amount.
type Money = decimal.Decimal

func money(v float64) Money {
	return decimal.NewFromFloat(finite(v)).Round(2)
}

// Snapshot is a valued portfolio plus its profit over each window.
type Snapshot struct {
	Metrics model.PortfolioMetrics `json:"-"`
	Profit  model.WindowTotals     `json:"-"`
}

type moneyTotals struct {
	Daily   Money `json:"daily"`
	Weekly  Money `json:"weekly"`
	Monthly Money `json:"monthly"`
	AllTime Money `json:"all_time"`
}

// MarshalJSON renders the snapshot with cent-rounded money.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		UserID          string      `json:"user_id"`
		InvestmentValue Money       `json:"investment_value"`
		Balance         Money       `json:"balance"`
		TotalDeposits   Money       `json:"total_deposits"`
		Timestamp       time.Time   `json:"timestamp"`
		Profit          moneyTotals `json:"profit"`
	}{
		UserID:          s.Metrics.UserID,
		InvestmentValue: money(s.Metrics.InvestmentValue),
		Balance:         money(s.Metrics.Balance),
		TotalDeposits:   money(s.Metrics.TotalDeposits),
		Timestamp:       s.Metrics.Timestamp,
		Profit: moneyTotals{
			Daily:   money(s.Profit.Daily),
			Weekly:  money(s.Profit.Weekly),
			Monthly: money(s.Profit.Monthly),
			AllTime: money(s.Profit.AllTime),
		},
	})
}

// CreatorStats summarizes the markets a user created.
type CreatorStats struct {
	CreatorID string             `json:"creator_id"`
	Volume    model.WindowTotals `json:"volume"`
	Traders   model.TraderCounts `json:"traders"`
}

// MarketActivity is a contract's traded volume and probability movement per
// window.
type MarketActivity struct {
	ContractID string             `json:"contract_id"`
	Prob       float64            `json:"prob"`
	Volume     model.WindowTotals `json:"volume"`
	ProbChange model.ProbChanges  `json:"prob_change"`
}

// Quote is the expected price impact of a trade.
type Quote struct {
	ContractID string          `json:"contract_id"`
	Mechanism  model.Mechanism `json:"mechanism"`
	TradeSize  float64         `json:"trade_size"`
	Elasticity float64         `json:"elasticity"`
}

// --- Operations ---

// loadPortfolio fetches a user with their bets and every contract those
// bets reference.
func (s *Service) loadPortfolio(ctx context.Context, userID string) (*model.User, []model.Bet, map[string]*model.Contract, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	bets, err := s.store.GetBetsByUser(ctx, userID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("get bets for %s: %w", userID, err)
	}
	ids := aggregate.Uniq(bets, func(b model.Bet) string { return b.ContractID })
	contracts, err := s.store.GetContracts(ctx, ids)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("get contracts for %s: %w", userID, err)
	}
	return user, bets, contracts, nil
}

// Evaluate values a user's portfolio at now against their stored snapshot
// history without persisting anything.
func (s *Service) Evaluate(ctx context.Context, userID string, now time.Time) (*Snapshot, error) {
	user, bets, contracts, err := s.loadPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	current := rollup.NewPortfolioSnapshot(s.engine, *user, contracts, bets, now)

	history, err := store.PortfolioHistory(ctx, s.store, userID, now)
	if err != nil {
		return nil, fmt.Errorf("load snapshot history for %s: %w", userID, err)
	}
	return &Snapshot{
		Metrics: current,
		Profit:  rollup.ProfitByWindow(history, current),
	}, nil
}

// TakeSnapshot evaluates a user's portfolio at now, stores it, and
// broadcasts it to WebSocket clients.
func (s *Service) TakeSnapshot(ctx context.Context, userID string, now time.Time) (*Snapshot, error) {
	snap, err := s.Evaluate(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertPortfolioMetrics(ctx, &snap.Metrics); err != nil {
		return nil, fmt.Errorf("store snapshot for %s: %w", userID, err)
	}

	slog.Info("snapshot stored",
		"user_id", userID,
		"investment_value", snap.Metrics.InvestmentValue,
		"profit_all_time", snap.Profit.AllTime,
		"timestamp", now,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(snapshotMessage(snap))
	}
	return snap, nil
}

// ContractMetrics returns the user's metrics in every contract they bet on.
func (s *Service) ContractMetrics(ctx context.Context, userID string, now time.Time) ([]model.ContractMetrics, error) {
	bets, err := s.store.GetBetsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get bets for %s: %w", userID, err)
	}
	byContract := aggregate.GroupBy(bets, func(b model.Bet) string { return b.ContractID })
	ids := make([]string, 0, len(byContract))
	for id := range byContract {
		ids = append(ids, id)
	}
	contracts, err := s.store.GetContracts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get contracts for %s: %w", userID, err)
	}
	cms := s.engine.MetricsByContract(byContract, contracts, now)
	for i := range cms {
		clampContractMetrics(&cms[i])
	}
	return cms, nil
}

// finite maps NaN and ±Inf to 0.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// clampContractMetrics zeroes non-finite figures so the response always
// encodes.
func clampContractMetrics(cm *model.ContractMetrics) {
	cm.Invested = finite(cm.Invested)
	cm.Loan = finite(cm.Loan)
	cm.Payout = finite(cm.Payout)
	cm.Profit = finite(cm.Profit)
	cm.ProfitPercent = finite(cm.ProfitPercent)
	for o, v := range cm.TotalShares {
		cm.TotalShares[o] = finite(v)
	}
	for w, pm := range cm.From {
		cm.From[w] = model.PeriodMetrics{
			Profit:        finite(pm.Profit),
			ProfitPercent: finite(pm.ProfitPercent),
			Invested:      finite(pm.Invested),
			PrevValue:     finite(pm.PrevValue),
			Value:         finite(pm.Value),
		}
	}
}

// CreatorStats rolls up the volume and traders of every market a user
// created.
func (s *Service) CreatorStats(ctx context.Context, creatorID string, now time.Time) (*CreatorStats, error) {
	contracts, err := s.store.ListContractsByCreator(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("list contracts by %s: %w", creatorID, err)
	}
	return &CreatorStats{
		CreatorID: creatorID,
		Volume:    rollup.CreatorVolume(contracts, now),
		Traders:   rollup.CreatorTraders(contracts),
	}, nil
}

// MarketActivity computes a contract's windowed volume and probability
// change from its bet history.
func (s *Service) MarketActivity(ctx context.Context, contractID string, now time.Time) (*MarketActivity, error) {
	c, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("get contract %s: %w", contractID, err)
	}
	bets, err := s.store.GetBetsByContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("get bets for contract %s: %w", contractID, err)
	}

	return &MarketActivity{
		ContractID: contractID,
		Prob:       c.Prob,
		Volume: model.WindowTotals{
			Daily:   rollup.MarketVolume(bets, model.WindowDay.Start(now)),
			Weekly:  rollup.MarketVolume(bets, model.WindowWeek.Start(now)),
			Monthly: rollup.MarketVolume(bets, model.WindowMonth.Start(now)),
			AllTime: rollup.MarketVolume(bets, model.WindowAllTime.Start(now)),
		},
		ProbChange: model.ProbChanges{
			Day:   rollup.ProbabilityChange(c.Prob, bets, model.WindowDay.Start(now)),
			Week:  rollup.ProbabilityChange(c.Prob, bets, model.WindowWeek.Start(now)),
			Month: rollup.ProbabilityChange(c.Prob, bets, model.WindowMonth.Start(now)),
		},
	}, nil
}

// QuoteElasticity estimates the price impact of a trade of size on a
// contract given its resting orders. size <= 0 uses the service default.
func (s *Service) QuoteElasticity(ctx context.Context, contractID string, size float64) (*Quote, error) {
	if size <= 0 {
		size = s.tradeSize
	}
	c, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("get contract %s: %w", contractID, err)
	}
	orders, err := s.store.GetUnfilledLimitBets(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("get limit orders for %s: %w", contractID, err)
	}

	metrics.ElasticityQuotes.WithLabelValues(c.Mechanism.String()).Inc()
	return &Quote{
		ContractID: contractID,
		Mechanism:  c.Mechanism,
		TradeSize:  size,
		Elasticity: s.estimator.Elasticity(orders, c, size),
	}, nil
}
