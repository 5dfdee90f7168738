package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atmx/valuation-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	contracts map[string]*model.Contract
	bets      []model.Bet
	limitBets []model.LimitBet
	snapshots map[string][]model.PortfolioMetrics // userID → ascending timestamps
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		contracts: make(map[string]*model.Contract),
		snapshots: make(map[string][]model.PortfolioMetrics),
	}
}

func (s *MemoryStore) PutUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *u
	s.users[u.ID] = &copy
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, b := range s.bets {
		if !seen[b.UserID] {
			seen[b.UserID] = true
			ids = append(ids, b.UserID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) PutContract(_ context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *c
	copy.Pool = c.Pool.Clone()
	s.contracts[c.ID] = &copy
	return nil
}

func (s *MemoryStore) GetContract(_ context.Context, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	copy := *c
	copy.Pool = c.Pool.Clone()
	return &copy, nil
}

func (s *MemoryStore) GetContracts(_ context.Context, ids []string) (map[string]*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*model.Contract, len(ids))
	for _, id := range ids {
		if c, ok := s.contracts[id]; ok {
			copy := *c
			copy.Pool = c.Pool.Clone()
			out[id] = &copy
		}
	}
	return out, nil
}

func (s *MemoryStore) ListContractsByCreator(_ context.Context, creatorID string) ([]model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Contract
	for _, c := range s.contracts {
		if c.CreatorID == creatorID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTime.Before(out[j].CreatedTime) })
	return out, nil
}

func (s *MemoryStore) InsertBet(_ context.Context, b *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bets = append(s.bets, *b)
	return nil
}

func (s *MemoryStore) GetBetsByUser(_ context.Context, userID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.UserID == userID {
			result = append(result, b)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedTime.Before(result[j].CreatedTime) })
	return result, nil
}

func (s *MemoryStore) GetBetsByContract(_ context.Context, contractID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.ContractID == contractID {
			result = append(result, b)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedTime.After(result[j].CreatedTime) })
	return result, nil
}

func (s *MemoryStore) InsertLimitBet(_ context.Context, l *model.LimitBet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.limitBets = append(s.limitBets, *l)
	return nil
}

func (s *MemoryStore) GetUnfilledLimitBets(_ context.Context, contractID string) ([]model.LimitBet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LimitBet
	for _, l := range s.limitBets {
		if l.ContractID == contractID && l.Remaining() > 0 {
			result = append(result, l)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertPortfolioMetrics(_ context.Context, m *model.PortfolioMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.snapshots[m.UserID]
	if n := len(history); n > 0 && !m.Timestamp.After(history[n-1].Timestamp) {
		return fmt.Errorf("snapshot for %s at %s (latest %s): %w",
			m.UserID, m.Timestamp.Format(time.RFC3339), history[n-1].Timestamp.Format(time.RFC3339), ErrStaleSnapshot)
	}
	s.snapshots[m.UserID] = append(history, *m)
	return nil
}

func (s *MemoryStore) GetPortfolioMetricsBefore(_ context.Context, userID string, t time.Time) (*model.PortfolioMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.snapshots[userID]
	// First snapshot strictly after t; the one before it is the answer.
	i := sort.Search(len(history), func(i int) bool { return history[i].Timestamp.After(t) })
	if i == 0 {
		return nil, fmt.Errorf("snapshot for %s before %s: %w", userID, t.Format(time.RFC3339), ErrNotFound)
	}
	m := history[i-1]
	return &m, nil
}
