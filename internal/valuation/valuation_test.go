package valuation

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/valuation-engine/internal/model"
	"github.com/atmx/valuation-engine/internal/payout"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stubOracle returns fixed values so tests can pin oracle behavior.
type stubOracle struct {
	payout  float64
	metrics model.BetMetrics
	calls   [][]model.Bet
}

func (s *stubOracle) Payout(*model.Contract, *model.Bet, model.Resolution) float64 {
	return s.payout
}

func (s *stubOracle) BetMetrics(_ *model.Contract, bets []model.Bet) model.BetMetrics {
	s.calls = append(s.calls, bets)
	return s.metrics
}

func binary(prob float64) *model.Contract {
	return &model.Contract{
		ID:          "c1",
		Mechanism:   model.MechanismCPMM,
		OutcomeType: model.OutcomeTypeBinary,
		Pool:        model.Pool{model.OutcomeYes: 100, model.OutcomeNo: 100},
		P:           0.5,
		Prob:        prob,
		ProbChanges: model.ProbChanges{Day: 0.1, Week: -0.2, Month: 0.3},
	}
}

func ago(d time.Duration) time.Time {
	return now.Add(-d)
}

// --- ValuePosition ---

func TestValuePosition_SumsPayoutNetOfLoan(t *testing.T) {
	e := NewEngine(payout.Calculator{})
	loan := 2.0
	contracts := map[string]*model.Contract{"c1": binary(0.5)}
	bets := []model.Bet{
		{ContractID: "c1", Outcome: model.OutcomeYes, Shares: 10, LoanAmount: &loan},
		{ContractID: "c1", Outcome: model.OutcomeNo, Shares: 4},
	}
	// Pool 100/100 is at 0.5: 5 - 2 + 2.
	assert.InDelta(t, 5.0, e.ValuePosition(bets, contracts), 1e-12)
}

func TestValuePosition_ZeroContributions(t *testing.T) {
	e := NewEngine(&stubOracle{payout: 10})
	resolved := binary(0.5)
	resolved.IsResolved = true
	contracts := map[string]*model.Contract{"open": binary(0.5), "resolved": resolved}

	tests := []struct {
		name string
		bet  model.Bet
	}{
		{"missing contract", model.Bet{ContractID: "gone", Shares: 1}},
		{"resolved contract", model.Bet{ContractID: "resolved", Shares: 1}},
		{"sold", model.Bet{ContractID: "open", Shares: 1, IsSold: true}},
		{"sale", model.Bet{ContractID: "open", Shares: 1, Sale: &model.Sale{Amount: 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0.0, e.ValuePosition([]model.Bet{tt.bet}, contracts))
		})
	}
}

func TestValuePosition_NonFiniteOracleIsZero(t *testing.T) {
	contracts := map[string]*model.Contract{"c1": binary(0.5)}
	bets := []model.Bet{{ContractID: "c1", Shares: 1}}
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		e := NewEngine(&stubOracle{payout: v})
		assert.Equal(t, 0.0, e.ValuePosition(bets, contracts))
	}
}

func TestValuePosition_NilContractEntryIsMissing(t *testing.T) {
	e := NewEngine(&stubOracle{payout: 10})
	contracts := map[string]*model.Contract{"c1": nil}
	assert.Equal(t, 0.0, e.ValuePosition([]model.Bet{{ContractID: "c1"}}, contracts))
}

// --- ValuePositionAtProbability ---

func TestValuePositionAtProbability(t *testing.T) {
	bets := []model.Bet{
		{Outcome: model.OutcomeYes, Shares: 10},
		{Outcome: model.OutcomeNo, Shares: 10},
		{Outcome: model.OutcomeYes, Shares: 100, IsSold: true},
	}
	assert.InDelta(t, 3.0+7.0, ValuePositionAtProbability(bets, binary(0.3), 0.3), 1e-12)
}

func TestValuePositionAtProbability_NonFiniteIsZero(t *testing.T) {
	bets := []model.Bet{{Outcome: model.OutcomeYes, Shares: math.Inf(1)}}
	assert.Equal(t, 0.0, ValuePositionAtProbability(bets, binary(0.5), 0.5))
	assert.Equal(t, 0.0, ValuePositionAtProbability(bets, nil, 0.5))
}

// --- PeriodProfit ---

func TestPeriodProfit_SplitsAtWindowStart(t *testing.T) {
	oracle := &stubOracle{metrics: model.BetMetrics{Profit: 1.5, Invested: 4}}
	e := NewEngine(oracle)
	c := binary(0.6)
	bets := []model.Bet{
		{ID: "old", Outcome: model.OutcomeYes, Shares: 10, CreatedTime: ago(48 * time.Hour)},
		{ID: "new", Outcome: model.OutcomeYes, Shares: 5, CreatedTime: ago(time.Hour)},
	}

	m := e.PeriodProfit(c, bets, model.WindowDay, now)

	require.Len(t, oracle.calls, 1)
	require.Len(t, oracle.calls[0], 1)
	assert.Equal(t, "new", oracle.calls[0][0].ID)

	// prevProb = 0.6 - 0.1 = 0.5
	assert.InDelta(t, 5.0, m.PrevValue, 1e-12)
	assert.InDelta(t, 6.0, m.Value, 1e-12)
	assert.InDelta(t, 6.0-5.0+1.5, m.Profit, 1e-12)
	assert.InDelta(t, 5.0+4.0, m.Invested, 1e-12)
	assert.InDelta(t, 100*2.5/9.0, m.ProfitPercent, 1e-9)
}

func TestPeriodProfit_BetAtWindowStartIsRecent(t *testing.T) {
	oracle := &stubOracle{}
	e := NewEngine(oracle)
	bets := []model.Bet{{ID: "edge", Outcome: model.OutcomeYes, Shares: 1, CreatedTime: ago(7 * model.Day)}}

	m := e.PeriodProfit(binary(0.5), bets, model.WindowWeek, now)
	assert.Equal(t, 0.0, m.PrevValue)
	require.Len(t, oracle.calls[0], 1)
}

func TestPeriodProfit_ZeroInvested(t *testing.T) {
	e := NewEngine(&stubOracle{metrics: model.BetMetrics{Profit: 3}})
	m := e.PeriodProfit(binary(0.5), nil, model.WindowMonth, now)
	assert.Equal(t, 0.0, m.Invested)
	assert.Equal(t, 0.0, m.ProfitPercent)
	assert.Equal(t, 3.0, m.Profit)
}

// --- MetricsByContract ---

func TestMetricsByContract_WindowsOnlyForBinaryCPMM(t *testing.T) {
	e := NewEngine(payout.Calculator{})
	dpmContract := &model.Contract{
		ID:          "d1",
		Mechanism:   model.MechanismDPM,
		OutcomeType: model.OutcomeTypeFreeResponse,
		Pool:        model.Pool{"A": 10},
		TotalShares: map[model.Outcome]float64{"A": 10},
	}
	multi := binary(0.5)
	multi.ID = "m1"
	multi.OutcomeType = model.OutcomeTypeMultipleChoice

	contracts := map[string]*model.Contract{"c1": binary(0.5), "d1": dpmContract, "m1": multi}
	betsByContract := map[string][]model.Bet{
		"d1":      {{ContractID: "d1", Outcome: "A", Amount: 10, Shares: 10, CreatedTime: ago(time.Hour)}},
		"c1":      {{ContractID: "c1", Outcome: model.OutcomeYes, Amount: 5, Shares: 10, CreatedTime: ago(time.Hour)}},
		"m1":      {{ContractID: "m1", Outcome: model.OutcomeYes, Amount: 5, Shares: 10, CreatedTime: ago(time.Hour)}},
		"missing": {{ContractID: "missing", Amount: 1}},
	}

	out := e.MetricsByContract(betsByContract, contracts, now)

	require.Len(t, out, 3)
	assert.Equal(t, []string{"c1", "d1", "m1"}, []string{out[0].ContractID, out[1].ContractID, out[2].ContractID})
	assert.Len(t, out[0].From, 3)
	assert.Contains(t, out[0].From, model.WindowDay)
	assert.Nil(t, out[1].From)
	assert.Nil(t, out[2].From)
	assert.InDelta(t, 5.0, out[0].Invested, 1e-12)
}

// --- Properties ---

func genBet() gopter.Gen {
	return gopter.CombineGens(
		gen.Bool(),
		gen.Float64Range(0, 1000),
		gen.IntRange(0, 60),
		gen.Bool(),
	).Map(func(v []interface{}) model.Bet {
		outcome := model.OutcomeNo
		if v[0].(bool) {
			outcome = model.OutcomeYes
		}
		return model.Bet{
			ContractID:  "c1",
			Outcome:     outcome,
			Amount:      v[1].(float64) / 2,
			Shares:      v[1].(float64),
			CreatedTime: ago(time.Duration(v[2].(int)) * model.Day),
			IsSold:      v[3].(bool),
		}
	})
}

func TestProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	e := NewEngine(payout.Calculator{})
	windows := gen.OneConstOf(model.WindowDay, model.WindowWeek, model.WindowMonth)

	properties.Property("sold bets contribute nothing", prop.ForAll(
		func(b model.Bet) bool {
			b.IsSold = true
			contracts := map[string]*model.Contract{"c1": binary(0.5)}
			return e.ValuePosition([]model.Bet{b}, contracts) == 0 &&
				ValuePositionAtProbability([]model.Bet{b}, binary(0.5), 0.7) == 0
		},
		genBet(),
	))

	properties.Property("resolved contracts contribute nothing", prop.ForAll(
		func(bets []model.Bet) bool {
			c := binary(0.5)
			c.IsResolved = true
			return e.ValuePosition(bets, map[string]*model.Contract{"c1": c}) == 0
		},
		gen.SliceOf(genBet()),
	))

	properties.Property("profit identity holds for every partition", prop.ForAll(
		func(bets []model.Bet, w interface{}) bool {
			win := w.(model.Window)
			c := binary(0.55)
			m := e.PeriodProfit(c, bets, win, now)

			from := win.Start(now)
			var recent []model.Bet
			for _, b := range bets {
				if !b.CreatedTime.Before(from) {
					recent = append(recent, b)
				}
			}
			recentProfit := payout.Calculator{}.BetMetrics(c, recent).Profit
			return m.Profit == m.Value-m.PrevValue+recentProfit
		},
		gen.SliceOf(genBet()),
		windows,
	))

	properties.Property("profit percent is zero when nothing is invested", prop.ForAll(
		func(bets []model.Bet, w interface{}) bool {
			m := e.PeriodProfit(binary(0.5), bets, w.(model.Window), now)
			return m.Invested != 0 || m.ProfitPercent == 0
		},
		gen.SliceOf(genBet()),
		windows,
	))

	properties.TestingRun(t)
}
