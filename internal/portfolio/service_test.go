package portfolio_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/valuation-engine/internal/model"
	"github.com/atmx/valuation-engine/internal/portfolio"
	"github.com/atmx/valuation-engine/internal/store"
)

var now = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc    *portfolio.Service
	ms     *store.MemoryStore
	router chi.Router
	clock  *time.Time
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	clock := now
	svc := portfolio.NewService(ms, nil, 0).WithClock(func() time.Time { return clock })

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	return &testEnv{svc: svc, ms: ms, router: r, clock: &clock}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// seedPortfolio stores a user holding 20 YES shares in an even binary market.
func seedPortfolio(t *testing.T, ms *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ms.PutUser(ctx, &model.User{ID: "u1", Balance: 1000, TotalDeposits: 1000}))
	require.NoError(t, ms.PutContract(ctx, &model.Contract{
		ID:          "c1",
		CreatorID:   "alice",
		Mechanism:   model.MechanismCPMM,
		OutcomeType: model.OutcomeTypeBinary,
		Pool:        model.Pool{model.OutcomeYes: 100, model.OutcomeNo: 100},
		P:           0.5,
		Prob:        0.5,
		ProbChanges: model.ProbChanges{Day: 0.1, Week: 0.2, Month: 0.3},
		CreatedTime: now.Add(-3 * model.Day),
	}))
	require.NoError(t, ms.InsertBet(ctx, &model.Bet{
		ID: "ante", ContractID: "c1", UserID: "alice", Outcome: model.OutcomeYes,
		Amount: 100, Shares: 100, ProbBefore: 0.5, ProbAfter: 0.5,
		CreatedTime: now.Add(-3 * model.Day), IsAnte: true,
	}))
	require.NoError(t, ms.InsertBet(ctx, &model.Bet{
		ID: "b1", ContractID: "c1", UserID: "u1", Outcome: model.OutcomeYes,
		Amount: 10, Shares: 20, ProbBefore: 0.5, ProbAfter: 0.52,
		CreatedTime: now.Add(-2 * model.Day),
	}))
}

// --- Portfolio snapshots ---

func TestGetPortfolio_ValuesWithoutStoring(t *testing.T) {
	env := newTestEnv(t)
	seedPortfolio(t, env.ms)

	w := env.do(t, http.MethodGet, "/api/v1/users/u1/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, "u1", resp["user_id"])
	assert.Equal(t, "10", resp["investment_value"])
	profit := resp["profit"].(map[string]any)
	assert.Equal(t, "10", profit["all_time"])
	assert.Equal(t, "10", profit["daily"], "no prior snapshot attributes all profit to the window")

	_, err := env.ms.GetPortfolioMetricsBefore(context.Background(), "u1", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetPortfolio_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/users/ghost/portfolio", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSnapshot_DeltaAgainstPriorDay(t *testing.T) {
	env := newTestEnv(t)
	seedPortfolio(t, env.ms)

	w := env.do(t, http.MethodPost, "/api/v1/users/u1/snapshots", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Same instant again violates increasing timestamps.
	w = env.do(t, http.MethodPost, "/api/v1/users/u1/snapshots", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Two days later the market has moved to 0.8.
	*env.clock = now.Add(2 * model.Day)
	require.NoError(t, env.ms.PutContract(context.Background(), &model.Contract{
		ID:          "c1",
		CreatorID:   "alice",
		Mechanism:   model.MechanismCPMM,
		OutcomeType: model.OutcomeTypeBinary,
		Pool:        model.Pool{model.OutcomeYes: 50, model.OutcomeNo: 200},
		P:           0.5,
		Prob:        0.8,
		CreatedTime: now.Add(-3 * model.Day),
	}))

	w = env.do(t, http.MethodPost, "/api/v1/users/u1/snapshots", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, "16", resp["investment_value"])
	profit := resp["profit"].(map[string]any)
	assert.Equal(t, "16", profit["all_time"])
	assert.Equal(t, "6", profit["daily"])
	assert.Equal(t, "16", profit["weekly"], "the first snapshot is newer than the week start")
}

// --- Contract metrics ---

func TestGetContractMetrics(t *testing.T) {
	env := newTestEnv(t)
	seedPortfolio(t, env.ms)

	w := env.do(t, http.MethodGet, "/api/v1/users/u1/contract-metrics", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var cms []model.ContractMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cms))
	require.Len(t, cms, 1)

	cm := cms[0]
	assert.Equal(t, "c1", cm.ContractID)
	assert.InDelta(t, 10, cm.Invested, 1e-9)
	assert.InDelta(t, 0, cm.Profit, 1e-9)
	assert.Len(t, cm.From, 3)

	// The bet predates the day window: it is re-priced from 0.4 to 0.5.
	day := cm.From[model.WindowDay]
	assert.InDelta(t, 8, day.PrevValue, 1e-9)
	assert.InDelta(t, 10, day.Value, 1e-9)
	assert.InDelta(t, 2, day.Profit, 1e-9)
	assert.InDelta(t, 25, day.ProfitPercent, 1e-9)
}

func TestGetContractMetrics_NonFiniteFiguresAreZeroed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	// Stored directly: the ingestion route rejects an empty cpmm-1 pool.
	require.NoError(t, env.ms.PutContract(ctx, &model.Contract{
		ID:          "c1",
		Mechanism:   model.MechanismCPMM,
		OutcomeType: model.OutcomeTypeBinary,
		Pool:        model.Pool{},
		P:           0.5,
		CreatedTime: now.Add(-3 * model.Day),
	}))
	require.NoError(t, env.ms.InsertBet(ctx, &model.Bet{
		ID: "b1", ContractID: "c1", UserID: "u1", Outcome: model.OutcomeYes,
		Amount: 10, Shares: 20, CreatedTime: now.Add(-2 * model.Day),
	}))

	w := env.do(t, http.MethodGet, "/api/v1/users/u1/contract-metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.String())

	var cms []model.ContractMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cms), w.Body.String())
	require.Len(t, cms, 1)
	assert.Equal(t, 0.0, cms[0].Payout)
	assert.Equal(t, 0.0, cms[0].Profit)
	assert.Equal(t, 0.0, cms[0].ProfitPercent)
}

// --- Creator stats and market activity ---

func TestGetCreatorStats(t *testing.T) {
	env := newTestEnv(t)
	seedPortfolio(t, env.ms)

	w := env.do(t, http.MethodGet, "/api/v1/creators/alice/stats", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stats portfolio.CreatorStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 0.0, stats.Volume.Daily)
	assert.Equal(t, 200.0, stats.Volume.Weekly)
	assert.Equal(t, 200.0, stats.Volume.AllTime)
	assert.Equal(t, 0, stats.Traders.AllTime)
}

func TestGetMarketActivity(t *testing.T) {
	env := newTestEnv(t)
	seedPortfolio(t, env.ms)

	w := env.do(t, http.MethodGet, "/api/v1/contracts/c1/activity", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var act portfolio.MarketActivity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &act))
	assert.Equal(t, 0.0, act.Volume.Daily)
	assert.Equal(t, 10.0, act.Volume.Weekly, "ante is excluded")
	assert.InDelta(t, -0.02, act.ProbChange.Day, 1e-9)
	assert.InDelta(t, 0, act.ProbChange.Week, 1e-9)

	w = env.do(t, http.MethodGet, "/api/v1/contracts/missing/activity", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Elasticity ---

func TestGetElasticity(t *testing.T) {
	env := newTestEnv(t)
	seedPortfolio(t, env.ms)

	w := env.do(t, http.MethodGet, "/api/v1/contracts/c1/elasticity", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var q portfolio.Quote
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	assert.Equal(t, model.MechanismCPMM, q.Mechanism)
	assert.Equal(t, 50.0, q.TradeSize)
	assert.Greater(t, q.Elasticity, 0.0)
	assert.Less(t, q.Elasticity, 1.0)

	w = env.do(t, http.MethodGet, "/api/v1/contracts/c1/elasticity?size=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bigger portfolio.Quote
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bigger))
	assert.Greater(t, bigger.Elasticity, q.Elasticity)

	w = env.do(t, http.MethodGet, "/api/v1/contracts/c1/elasticity?size=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Ingestion ---

func TestIngestion(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/contracts/c9", map[string]any{
		"creator_id":   "bob",
		"mechanism":    "cpmm-1",
		"outcome_type": "BINARY",
		"pool":         map[string]float64{"YES": 40, "NO": 60},
		"p":            0.5,
		"prob":         0.6,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	c, err := env.ms.GetContract(context.Background(), "c9")
	require.NoError(t, err)
	assert.Equal(t, model.MechanismCPMM, c.Mechanism)
	assert.Equal(t, now, c.CreatedTime)

	w = env.do(t, http.MethodPut, "/api/v1/contracts/c9", map[string]any{
		"mechanism": "cpmm-1",
		"pool":      map[string]float64{"YES": -1},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/v1/contracts/c9", map[string]any{
		"mechanism": "cpmm-1",
		"pool":      map[string]float64{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "cpmm-1 needs both reserves")

	w = env.do(t, http.MethodPut, "/api/v1/contracts/c9", map[string]any{
		"mechanism": "cpmm-1",
		"pool":      map[string]float64{"YES": 10, "NO": 0},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/bets", map[string]any{
		"contract_id": "c9", "user_id": "u2", "outcome": "NO", "amount": 5, "shares": 9,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, decode(t, w)["id"])

	w = env.do(t, http.MethodPost, "/api/v1/bets", map[string]any{"contract_id": "c9"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/limit-bets", map[string]any{
		"contract_id": "c9", "user_id": "u3", "outcome": "YES", "order_amount": 20, "limit_prob": 0.55,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	orders, err := env.ms.GetUnfilledLimitBets(context.Background(), "c9")
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	w = env.do(t, http.MethodPost, "/api/v1/limit-bets", map[string]any{
		"contract_id": "c9", "user_id": "u3", "outcome": "YES", "order_amount": 20, "limit_prob": 1.5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/bets", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "error"))
}

func TestPutUser_EnablesValuationOfIngestedBets(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/contracts/c9", map[string]any{
		"mechanism":    "cpmm-1",
		"outcome_type": "BINARY",
		"pool":         map[string]float64{"YES": 40, "NO": 60},
		"p":            0.5,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/v1/bets", map[string]any{
		"contract_id": "c9", "user_id": "u1", "outcome": "YES", "amount": 5, "shares": 10,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Bets alone do not create the account.
	w = env.do(t, http.MethodGet, "/api/v1/users/u1/portfolio", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPut, "/api/v1/users/u1", map[string]any{
		"balance": 100, "total_deposits": 100,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "u1", decode(t, w)["id"])

	w = env.do(t, http.MethodGet, "/api/v1/users/u1/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "6", resp["investment_value"])
	assert.Equal(t, "100", resp["balance"])

	w = env.do(t, http.MethodPost, "/api/v1/users/u1/snapshots", nil)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/v1/users/u1", "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
