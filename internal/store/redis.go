package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/valuation-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for contracts, users and each user's latest portfolio snapshot. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) PutUser(ctx context.Context, u *model.User) error {
	if err := s.primary.PutUser(ctx, u); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(u.ID))
	return nil
}

func (s *CachedStore) PutContract(ctx context.Context, c *model.Contract) error {
	if err := s.primary.PutContract(ctx, c); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, contractKey(c.ID))
	return nil
}

// InsertPortfolioMetrics stores the snapshot and caches it as the user's
// latest.
func (s *CachedStore) InsertPortfolioMetrics(ctx context.Context, m *model.PortfolioMetrics) error {
	if err := s.primary.InsertPortfolioMetrics(ctx, m); err != nil {
		s.rdb.Del(ctx, latestSnapshotKey(m.UserID))
		return err
	}
	s.cache(ctx, latestSnapshotKey(m.UserID), m)
	return nil
}

// --- Read-through (check cache first) ---

// GetPortfolioMetricsBefore answers from the cached latest snapshot when it
// is at or before t. Older lookups go to the primary.
func (s *CachedStore) GetPortfolioMetricsBefore(ctx context.Context, userID string, t time.Time) (*model.PortfolioMetrics, error) {
	data, err := s.rdb.Get(ctx, latestSnapshotKey(userID)).Bytes()
	if err == nil {
		var m model.PortfolioMetrics
		if json.Unmarshal(data, &m) == nil && !m.Timestamp.After(t) {
			return &m, nil
		}
	}
	return s.primary.GetPortfolioMetricsBefore(ctx, userID, t)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	data, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if err == nil {
		var u model.User
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}

	u, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, userKey(id), u)
	return u, nil
}

func (s *CachedStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	data, err := s.rdb.Get(ctx, contractKey(id)).Bytes()
	if err == nil {
		var c model.Contract
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, contractKey(id), c)
	return c, nil
}

// GetContracts serves what it can from one MGET and loads the rest from the
// primary in a single call.
func (s *CachedStore) GetContracts(ctx context.Context, ids []string) (map[string]*model.Contract, error) {
	out := make(map[string]*model.Contract, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = contractKey(id)
	}

	var missing []string
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		missing = ids
	} else {
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			var c model.Contract
			if json.Unmarshal([]byte(str), &c) != nil {
				missing = append(missing, ids[i])
				continue
			}
			out[ids[i]] = &c
		}
	}

	if len(missing) == 0 {
		return out, nil
	}
	loaded, err := s.primary.GetContracts(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, c := range loaded {
		out[id] = c
		s.cache(ctx, contractKey(id), c)
	}
	return out, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListUserIDs(ctx context.Context) ([]string, error) {
	return s.primary.ListUserIDs(ctx)
}

func (s *CachedStore) ListContractsByCreator(ctx context.Context, creatorID string) ([]model.Contract, error) {
	return s.primary.ListContractsByCreator(ctx, creatorID)
}

func (s *CachedStore) InsertBet(ctx context.Context, b *model.Bet) error {
	return s.primary.InsertBet(ctx, b)
}

func (s *CachedStore) GetBetsByUser(ctx context.Context, userID string) ([]model.Bet, error) {
	return s.primary.GetBetsByUser(ctx, userID)
}

func (s *CachedStore) GetBetsByContract(ctx context.Context, contractID string) ([]model.Bet, error) {
	return s.primary.GetBetsByContract(ctx, contractID)
}

func (s *CachedStore) InsertLimitBet(ctx context.Context, l *model.LimitBet) error {
	return s.primary.InsertLimitBet(ctx, l)
}

func (s *CachedStore) GetUnfilledLimitBets(ctx context.Context, contractID string) ([]model.LimitBet, error) {
	return s.primary.GetUnfilledLimitBets(ctx, contractID)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func contractKey(id string) string { return fmt.Sprintf("contract:%s", id) }
func userKey(id string) string     { return fmt.Sprintf("user:%s", id) }

func latestSnapshotKey(userID string) string {
	return fmt.Sprintf("portfolio:%s:latest", userID)
}
