package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/valuation-engine/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision and
// cross the wire as text.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// num renders a float as a NUMERIC literal.
func num(f float64) string {
	return decimal.NewFromFloat(f).String()
}

// optNum renders an optional float; nil stays NULL.
func optNum(f *float64) *string {
	if f == nil {
		return nil
	}
	s := num(*f)
	return &s
}

// parseNum reads a NUMERIC rendered as text.
func parseNum(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func parseOptNum(s *string) *float64 {
	if s == nil {
		return nil
	}
	f := parseNum(*s)
	return &f
}

func wrapNoRows(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// --- Users ---

func (s *PostgresStore) PutUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, balance, total_deposits)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET
		     balance = EXCLUDED.balance, total_deposits = EXCLUDED.total_deposits`,
		u.ID, num(u.Balance), num(u.TotalDeposits),
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance, deposits string

	err := s.pool.QueryRow(ctx,
		`SELECT id, balance::TEXT, total_deposits::TEXT FROM users WHERE id = $1`, id).
		Scan(&u.ID, &balance, &deposits)
	if err != nil {
		return nil, wrapNoRows(err, "get user "+id)
	}
	u.Balance = parseNum(balance)
	u.TotalDeposits = parseNum(deposits)
	return &u, nil
}

func (s *PostgresStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM bets ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Contracts ---

const contractColumns = `id, creator_id, mechanism, outcome_type, pool, p::TEXT, prob::TEXT,
	prob_changes, total_shares, created_time, is_resolved, resolution,
	resolution_probability::TEXT, unique_bettor_count, unique_bettors_24h,
	unique_bettors_7d, unique_bettors_30d`

func (s *PostgresStore) PutContract(ctx context.Context, c *model.Contract) error {
	pool, err := json.Marshal(c.Pool)
	if err != nil {
		return err
	}
	changes, err := json.Marshal(c.ProbChanges)
	if err != nil {
		return err
	}
	var totalShares []byte
	if c.TotalShares != nil {
		if totalShares, err = json.Marshal(c.TotalShares); err != nil {
			return err
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO contracts (id, creator_id, mechanism, outcome_type, pool, p, prob,
		                        prob_changes, total_shares, created_time, is_resolved, resolution,
		                        resolution_probability, unique_bettor_count, unique_bettors_24h,
		                        unique_bettors_7d, unique_bettors_30d)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11, $12,
		         $13::NUMERIC, $14, $15, $16, $17)
		 ON CONFLICT (id) DO UPDATE SET
		     pool = EXCLUDED.pool, p = EXCLUDED.p, prob = EXCLUDED.prob,
		     prob_changes = EXCLUDED.prob_changes, total_shares = EXCLUDED.total_shares,
		     is_resolved = EXCLUDED.is_resolved, resolution = EXCLUDED.resolution,
		     resolution_probability = EXCLUDED.resolution_probability,
		     unique_bettor_count = EXCLUDED.unique_bettor_count,
		     unique_bettors_24h = EXCLUDED.unique_bettors_24h,
		     unique_bettors_7d = EXCLUDED.unique_bettors_7d,
		     unique_bettors_30d = EXCLUDED.unique_bettors_30d`,
		c.ID, c.CreatorID, c.Mechanism.String(), string(c.OutcomeType), pool,
		num(c.P), num(c.Prob), changes, totalShares, c.CreatedTime, c.IsResolved,
		string(c.Resolution), optNum(c.ResolutionProbability),
		c.UniqueBettorCount, c.UniqueBettors24h, c.UniqueBettors7Days, c.UniqueBettors30Days,
	)
	return err
}

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id)
	c, err := scanContract(row)
	if err != nil {
		return nil, wrapNoRows(err, "get contract "+id)
	}
	return c, nil
}

func (s *PostgresStore) GetContracts(ctx context.Context, ids []string) (map[string]*model.Contract, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*model.Contract, len(ids))
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListContractsByCreator(ctx context.Context, creatorID string) ([]model.Contract, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE creator_id = $1 ORDER BY created_time`, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContract(row rowScanner) (*model.Contract, error) {
	var c model.Contract
	var mechanism, outcomeType, resolution, p, prob string
	var pool, changes, totalShares []byte
	var resolutionProb *string

	if err := row.Scan(&c.ID, &c.CreatorID, &mechanism, &outcomeType, &pool, &p, &prob,
		&changes, &totalShares, &c.CreatedTime, &c.IsResolved, &resolution,
		&resolutionProb, &c.UniqueBettorCount, &c.UniqueBettors24h,
		&c.UniqueBettors7Days, &c.UniqueBettors30Days); err != nil {
		return nil, err
	}

	c.Mechanism = model.ParseMechanism(mechanism)
	c.OutcomeType = model.OutcomeType(outcomeType)
	c.Resolution = model.Resolution(resolution)
	c.P = parseNum(p)
	c.Prob = parseNum(prob)
	c.ResolutionProbability = parseOptNum(resolutionProb)

	if err := json.Unmarshal(pool, &c.Pool); err != nil {
		return nil, fmt.Errorf("contract %s pool: %w", c.ID, err)
	}
	if err := json.Unmarshal(changes, &c.ProbChanges); err != nil {
		return nil, fmt.Errorf("contract %s prob changes: %w", c.ID, err)
	}
	if len(totalShares) > 0 {
		if err := json.Unmarshal(totalShares, &c.TotalShares); err != nil {
			return nil, fmt.Errorf("contract %s total shares: %w", c.ID, err)
		}
	}
	return &c, nil
}

// --- Bets ---

const betColumns = `id, contract_id, user_id, outcome, amount::TEXT, shares::TEXT,
	prob_before::TEXT, prob_after::TEXT, created_time, loan_amount::TEXT, is_sold,
	sale_amount::TEXT, sale_bet_id, is_redemption, is_ante`

func (s *PostgresStore) InsertBet(ctx context.Context, b *model.Bet) error {
	var saleAmount *string
	var saleBetID *string
	if b.Sale != nil {
		saleAmount = optNum(&b.Sale.Amount)
		saleBetID = &b.Sale.BetID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bets (id, contract_id, user_id, outcome, amount, shares, prob_before,
		                   prob_after, created_time, loan_amount, is_sold, sale_amount,
		                   sale_bet_id, is_redemption, is_ante)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9,
		         $10::NUMERIC, $11, $12::NUMERIC, $13, $14, $15)`,
		b.ID, b.ContractID, b.UserID, string(b.Outcome),
		num(b.Amount), num(b.Shares), num(b.ProbBefore), num(b.ProbAfter),
		b.CreatedTime, optNum(b.LoanAmount), b.IsSold, saleAmount, saleBetID,
		b.IsRedemption, b.IsAnte,
	)
	return err
}

func (s *PostgresStore) GetBetsByUser(ctx context.Context, userID string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE user_id = $1 ORDER BY created_time`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBets(rows)
}

func (s *PostgresStore) GetBetsByContract(ctx context.Context, contractID string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE contract_id = $1 ORDER BY created_time DESC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBets(rows)
}

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanBets(rows pgxRows) ([]model.Bet, error) {
	var bets []model.Bet
	for rows.Next() {
		var b model.Bet
		var outcome, amount, shares, probBefore, probAfter string
		var loan, saleAmount, saleBetID *string

		if err := rows.Scan(&b.ID, &b.ContractID, &b.UserID, &outcome, &amount, &shares,
			&probBefore, &probAfter, &b.CreatedTime, &loan, &b.IsSold,
			&saleAmount, &saleBetID, &b.IsRedemption, &b.IsAnte); err != nil {
			return nil, err
		}

		b.Outcome = model.Outcome(outcome)
		b.Amount = parseNum(amount)
		b.Shares = parseNum(shares)
		b.ProbBefore = parseNum(probBefore)
		b.ProbAfter = parseNum(probAfter)
		b.LoanAmount = parseOptNum(loan)
		if saleAmount != nil {
			b.Sale = &model.Sale{Amount: parseNum(*saleAmount)}
			if saleBetID != nil {
				b.Sale.BetID = *saleBetID
			}
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// --- Limit orders ---

func (s *PostgresStore) InsertLimitBet(ctx context.Context, l *model.LimitBet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO limit_bets (id, contract_id, user_id, outcome, amount, order_amount, limit_prob, created_time)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		l.ID, l.ContractID, l.UserID, string(l.Outcome),
		num(l.Amount), num(l.OrderAmount), num(l.LimitProb), l.CreatedTime,
	)
	return err
}

func (s *PostgresStore) GetUnfilledLimitBets(ctx context.Context, contractID string) ([]model.LimitBet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, contract_id, user_id, outcome, amount::TEXT, order_amount::TEXT,
		        limit_prob::TEXT, created_time
		 FROM limit_bets
		 WHERE contract_id = $1 AND amount < order_amount
		 ORDER BY created_time`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LimitBet
	for rows.Next() {
		var l model.LimitBet
		var outcome, amount, orderAmount, limitProb string
		if err := rows.Scan(&l.ID, &l.ContractID, &l.UserID, &outcome,
			&amount, &orderAmount, &limitProb, &l.CreatedTime); err != nil {
			return nil, err
		}
		l.Outcome = model.Outcome(outcome)
		l.Amount = parseNum(amount)
		l.OrderAmount = parseNum(orderAmount)
		l.LimitProb = parseNum(limitProb)
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Portfolio snapshots ---

func (s *PostgresStore) InsertPortfolioMetrics(ctx context.Context, m *model.PortfolioMetrics) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO portfolio_metrics (id, user_id, investment_value, balance, total_deposits, timestamp)
		 SELECT $1::UUID, $2::TEXT, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::TIMESTAMPTZ
		 WHERE NOT EXISTS (
		     SELECT 1 FROM portfolio_metrics WHERE user_id = $2 AND timestamp >= $6
		 )`,
		uuid.New().String(), m.UserID, num(m.InvestmentValue), num(m.Balance), num(m.TotalDeposits), m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot for %s: %w", m.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("snapshot for %s at %s: %w",
			m.UserID, m.Timestamp.Format(time.RFC3339), ErrStaleSnapshot)
	}
	return nil
}

func (s *PostgresStore) GetPortfolioMetricsBefore(ctx context.Context, userID string, t time.Time) (*model.PortfolioMetrics, error) {
	var m model.PortfolioMetrics
	var value, balance, deposits string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, investment_value::TEXT, balance::TEXT, total_deposits::TEXT, timestamp
		 FROM portfolio_metrics
		 WHERE user_id = $1 AND timestamp <= $2
		 ORDER BY timestamp DESC LIMIT 1`, userID, t).
		Scan(&m.UserID, &value, &balance, &deposits, &m.Timestamp)
	if err != nil {
		return nil, wrapNoRows(err, "get snapshot for "+userID)
	}

	m.InvestmentValue = parseNum(value)
	m.Balance = parseNum(balance)
	m.TotalDeposits = parseNum(deposits)
	return &m, nil
}
