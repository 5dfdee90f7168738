// Package store defines the persistence interface the valuation service reads
// from. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/valuation-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrStaleSnapshot is returned when a portfolio snapshot is not newer than
// the user's latest one.
var ErrStaleSnapshot = errors.New("store: snapshot not newer than latest")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Users ---

	// PutUser inserts or replaces a user's account figures.
	PutUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user's account figures.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// ListUserIDs returns every user that holds bets.
	ListUserIDs(ctx context.Context) ([]string, error)

	// --- Contracts ---

	// PutContract inserts or replaces a contract snapshot.
	PutContract(ctx context.Context, c *model.Contract) error

	// GetContract retrieves a contract by ID.
	GetContract(ctx context.Context, id string) (*model.Contract, error)

	// GetContracts returns the contracts with the given IDs keyed by ID.
	// Unknown IDs are absent from the result.
	GetContracts(ctx context.Context, ids []string) (map[string]*model.Contract, error)

	// ListContractsByCreator returns the contracts a user created.
	ListContractsByCreator(ctx context.Context, creatorID string) ([]model.Contract, error)

	// --- Bets ---

	// InsertBet appends an executed bet.
	InsertBet(ctx context.Context, b *model.Bet) error

	// GetBetsByUser returns a user's bets, oldest first.
	GetBetsByUser(ctx context.Context, userID string) ([]model.Bet, error)

	// GetBetsByContract returns a contract's bets, newest first.
	GetBetsByContract(ctx context.Context, contractID string) ([]model.Bet, error)

	// --- Limit orders ---

	// InsertLimitBet adds a resting order.
	InsertLimitBet(ctx context.Context, l *model.LimitBet) error

	// GetUnfilledLimitBets returns resting orders with an unfilled remainder.
	GetUnfilledLimitBets(ctx context.Context, contractID string) ([]model.LimitBet, error)

	// --- Portfolio snapshots ---

	// InsertPortfolioMetrics appends a snapshot. Timestamps must increase
	// per user; otherwise ErrStaleSnapshot is returned.
	InsertPortfolioMetrics(ctx context.Context, m *model.PortfolioMetrics) error

	// GetPortfolioMetricsBefore returns the newest snapshot of a user taken at
	// or before t, or ErrNotFound.
	GetPortfolioMetricsBefore(ctx context.Context, userID string, t time.Time) (*model.PortfolioMetrics, error)
}

// PortfolioHistory loads the prior snapshots closest to each window start.
// Missing snapshots are left nil.
func PortfolioHistory(ctx context.Context, st Store, userID string, now time.Time) (model.PortfolioHistory, error) {
	var h model.PortfolioHistory
	slots := []struct {
		at  time.Time
		dst **model.PortfolioMetrics
	}{
		{now, &h.Current},
		{model.WindowDay.Start(now), &h.Day},
		{model.WindowWeek.Start(now), &h.Week},
		{model.WindowMonth.Start(now), &h.Month},
	}
	for _, s := range slots {
		m, err := st.GetPortfolioMetricsBefore(ctx, userID, s.at)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return h, err
		}
		*s.dst = m
	}
	return h, nil
}
