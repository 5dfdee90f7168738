package elasticity

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/valuation-engine/internal/cpmm"
	"github.com/atmx/valuation-engine/internal/dpm"
	"github.com/atmx/valuation-engine/internal/model"
)

func binary(y, n float64) *model.Contract {
	return &model.Contract{
		ID:          "c1",
		Mechanism:   model.MechanismCPMM,
		OutcomeType: model.OutcomeTypeBinary,
		Pool:        model.Pool{model.OutcomeYes: y, model.OutcomeNo: n},
		P:           0.5,
		Prob:        cpmm.Probability(model.Pool{model.OutcomeYes: y, model.OutcomeNo: n}, 0.5),
	}
}

func TestElasticity_SymmetricPoolEmptyBook(t *testing.T) {
	e := Default()
	got := e.Elasticity(nil, binary(100, 100), DefaultTradeSize)

	yes := 150.0 / (10000.0/150.0 + 150.0)
	assert.InDelta(t, yes-(1-yes), got, 1e-9)
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 1.0)
}

func TestElasticity_RestingOrdersNarrowSpread(t *testing.T) {
	e := Default()
	c := binary(100, 100)
	book := []model.LimitBet{
		{ID: "ask", UserID: "m1", Outcome: model.OutcomeNo, OrderAmount: 500, LimitProb: 0.55, CreatedTime: time.Unix(2, 0)},
		{ID: "bid", UserID: "m2", Outcome: model.OutcomeYes, OrderAmount: 500, LimitProb: 0.45, CreatedTime: time.Unix(1, 0)},
	}

	withBook := e.Elasticity(book, c, DefaultTradeSize)
	withoutBook := e.Elasticity(nil, c, DefaultTradeSize)

	// Both makers hold the price at their limits.
	assert.InDelta(t, 0.10, withBook, 1e-6)
	assert.Less(t, withBook, withoutBook)
	assert.Equal(t, "ask", book[0].ID, "caller's order book must not be reordered")
}

func TestElasticity_Parimutuel(t *testing.T) {
	e := Default()
	c := &model.Contract{
		Mechanism:   model.MechanismDPM,
		Pool:        model.Pool{"A": 30, "B": 40},
		TotalShares: map[model.Outcome]float64{"A": 3, "B": 4},
	}
	want := dpm.Simulator{}.SimulateMultiBet("", 100, c).ProbAfter
	assert.InDelta(t, want, e.Elasticity(nil, c, 50), 1e-12)
}

func TestElasticity_ParimutuelWithoutSharesIsZero(t *testing.T) {
	e := Default()
	c := &model.Contract{Mechanism: model.MechanismDPM}
	assert.Equal(t, 0.0, e.Elasticity(nil, c, 0))
}

func TestElasticity_UnknownMechanismIsZero(t *testing.T) {
	e := Default()
	c := binary(100, 100)
	c.Mechanism = model.MechanismUnknown
	assert.Equal(t, 0.0, e.Elasticity(nil, c, DefaultTradeSize))
}

// overflowPricer always reports a saturated, non-finite probability.
type overflowPricer struct {
	balances []map[string]float64
}

func (o *overflowPricer) SimulateBet(_ model.Outcome, _ float64, c *model.Contract, _ *float64, _ []model.LimitBet, balances map[string]float64) cpmm.BetInfo {
	o.balances = append(o.balances, balances)
	return cpmm.BetInfo{NewPool: c.Pool, NewP: c.P}
}

func (o *overflowPricer) Probability(model.Pool, float64) float64 {
	return math.NaN()
}

func TestElasticity_OverflowClampsToBounds(t *testing.T) {
	pricer := &overflowPricer{}
	e := NewEstimator(pricer, dpm.Simulator{})
	book := []model.LimitBet{{UserID: "m1"}, {UserID: "m2"}, {UserID: "m1"}}

	assert.Equal(t, 1.0, e.Elasticity(book, binary(100, 100), DefaultTradeSize))

	require.Len(t, pricer.balances, 2)
	assert.Len(t, pricer.balances[0], 2)
	assert.Equal(t, float64(unlimitedBalance), pricer.balances[0]["m1"])
}

func TestFromAnte_MatchesEmptyMarket(t *testing.T) {
	e := Default()
	assert.InDelta(t, e.Elasticity(nil, binary(100, 100), 50), e.FromAnte(100, 50), 1e-12)
}

func TestFromAnte_DeeperAnteIsLessElastic(t *testing.T) {
	e := Default()
	assert.Greater(t, e.FromAnte(50, 50), e.FromAnte(500, 50))
}

func TestElasticity_MonotonicInTradeSize(t *testing.T) {
	e := Default()
	properties := gopter.NewProperties(nil)

	properties.Property("larger trades never narrow the spread", prop.ForAll(
		func(y, n, small, extra float64) bool {
			c := binary(y, n)
			a := e.Elasticity(nil, c, small)
			b := e.Elasticity(nil, c, small+extra)
			return math.Abs(b) >= math.Abs(a)-1e-9
		},
		gen.Float64Range(10, 10000),
		gen.Float64Range(10, 10000),
		gen.Float64Range(1, 500),
		gen.Float64Range(0, 500),
	))

	properties.TestingRun(t)
}
