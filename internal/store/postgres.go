package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predictex/exchange-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// fill lists and resolutions are JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const marketColumns = `id, creator_id, question, mechanism, status,
	pool_yes::TEXT, pool_no::TEXT, p::TEXT, subsidy_pool::TEXT, total_liquidity::TEXT,
	creator_fee::TEXT, platform_fee::TEXT, liquidity_fee::TEXT,
	created_at, resolved_at, resolution`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	resolution, err := marshalResolution(m.Resolution)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO markets (id, creator_id, question, mechanism, status,
		     pool_yes, pool_no, p, subsidy_pool, total_liquidity,
		     creator_fee, platform_fee, liquidity_fee,
		     created_at, resolved_at, resolution)
		 VALUES ($1, $2, $3, $4, $5,
		     $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		     $11::NUMERIC, $12::NUMERIC, $13::NUMERIC,
		     $14, $15, $16)`,
		m.ID, m.CreatorID, m.Question, m.Mechanism, m.Status,
		m.PoolYes.String(), m.PoolNo.String(), m.P.String(),
		m.SubsidyPool.String(), m.TotalLiquidity.String(),
		m.CollectedFees.Creator.String(), m.CollectedFees.Platform.String(),
		m.CollectedFees.Liquidity.String(),
		m.CreatedAt, m.ResolvedAt, resolution,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	resolution, err := marshalResolution(m.Resolution)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE markets
		 SET status = $2,
		     pool_yes = $3::NUMERIC, pool_no = $4::NUMERIC, p = $5::NUMERIC,
		     subsidy_pool = $6::NUMERIC, total_liquidity = $7::NUMERIC,
		     creator_fee = $8::NUMERIC, platform_fee = $9::NUMERIC, liquidity_fee = $10::NUMERIC,
		     resolved_at = $11, resolution = $12
		 WHERE id = $1`,
		m.ID, m.Status,
		m.PoolYes.String(), m.PoolNo.String(), m.P.String(),
		m.SubsidyPool.String(), m.TotalLiquidity.String(),
		m.CollectedFees.Creator.String(), m.CollectedFees.Platform.String(),
		m.CollectedFees.Liquidity.String(),
		m.ResolvedAt, resolution,
	)
	return err
}

func (s *PostgresStore) CreateAnswers(ctx context.Context, answers []*model.Answer) error {
	for _, a := range answers {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO answers (id, market_id, index, text, pool_yes, pool_no, prob, total_liquidity, created_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
			a.ID, a.MarketID, a.Index, a.Text,
			a.PoolYes.String(), a.PoolNo.String(), a.Prob.String(),
			a.TotalLiquidity.String(), a.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetAnswers(ctx context.Context, marketID string) ([]model.Answer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, index, text,
		        pool_yes::TEXT, pool_no::TEXT, prob::TEXT, total_liquidity::TEXT, created_at
		 FROM answers WHERE market_id = $1 ORDER BY index`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		var poolYes, poolNo, prob, totalLiq string
		if err := rows.Scan(&a.ID, &a.MarketID, &a.Index, &a.Text,
			&poolYes, &poolNo, &prob, &totalLiq, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.PoolYes, _ = decimal.NewFromString(poolYes)
		a.PoolNo, _ = decimal.NewFromString(poolNo)
		a.Prob, _ = decimal.NewFromString(prob)
		a.TotalLiquidity, _ = decimal.NewFromString(totalLiq)
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func (s *PostgresStore) UpdateAnswer(ctx context.Context, a *model.Answer) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE answers
		 SET pool_yes = $2::NUMERIC, pool_no = $3::NUMERIC, prob = $4::NUMERIC,
		     total_liquidity = $5::NUMERIC
		 WHERE id = $1`,
		a.ID, a.PoolYes.String(), a.PoolNo.String(), a.Prob.String(),
		a.TotalLiquidity.String(),
	)
	return err
}

const betColumns = `id, user_id, market_id, answer_id, outcome,
	order_amount::TEXT, amount::TEXT, shares::TEXT, limit_prob::TEXT,
	prob_before::TEXT, prob_after::TEXT, fills,
	creator_fee::TEXT, platform_fee::TEXT, liquidity_fee::TEXT,
	is_filled, is_cancelled, is_redemption, is_ante, expires_at, created_at`

func (s *PostgresStore) InsertBet(ctx context.Context, b *model.Bet) error {
	fills, err := json.Marshal(b.Fills)
	if err != nil {
		return err
	}
	var limitProb *string
	if b.LimitProb != nil {
		v := b.LimitProb.String()
		limitProb = &v
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO bets (id, user_id, market_id, answer_id, outcome,
		     order_amount, amount, shares, limit_prob,
		     prob_before, prob_after, fills,
		     creator_fee, platform_fee, liquidity_fee,
		     is_filled, is_cancelled, is_redemption, is_ante, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5,
		     $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		     $10::NUMERIC, $11::NUMERIC, $12,
		     $13::NUMERIC, $14::NUMERIC, $15::NUMERIC,
		     $16, $17, $18, $19, $20, $21)`,
		b.ID, b.UserID, b.MarketID, b.AnswerID, b.Outcome,
		b.OrderAmount.String(), b.Amount.String(), b.Shares.String(), limitProb,
		b.ProbBefore.String(), b.ProbAfter.String(), fills,
		b.Fees.Creator.String(), b.Fees.Platform.String(), b.Fees.Liquidity.String(),
		b.IsFilled, b.IsCancelled, b.IsRedemption, b.IsAnte, b.ExpiresAt, b.CreatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateBet(ctx context.Context, b *model.Bet) error {
	fills, err := json.Marshal(b.Fills)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE bets
		 SET amount = $2::NUMERIC, shares = $3::NUMERIC, fills = $4,
		     creator_fee = $5::NUMERIC, platform_fee = $6::NUMERIC, liquidity_fee = $7::NUMERIC,
		     is_filled = $8, is_cancelled = $9
		 WHERE id = $1`,
		b.ID, b.Amount.String(), b.Shares.String(), fills,
		b.Fees.Creator.String(), b.Fees.Platform.String(), b.Fees.Liquidity.String(),
		b.IsFilled, b.IsCancelled,
	)
	return err
}

func (s *PostgresStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bets, err := scanBets(rows)
	if err != nil {
		return nil, err
	}
	if len(bets) == 0 {
		return nil, fmt.Errorf("bet %s: %w", id, ErrNotFound)
	}
	return &bets[0], nil
}

func (s *PostgresStore) GetBetsByMarket(ctx context.Context, marketID string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBets(rows)
}

func (s *PostgresStore) GetBetsByUser(ctx context.Context, userID string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBets(rows)
}

func (s *PostgresStore) GetOpenLimitBets(ctx context.Context, marketID string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+`
		 FROM bets
		 WHERE market_id = $1 AND limit_prob IS NOT NULL
		   AND NOT is_filled AND NOT is_cancelled
		 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBets(rows)
}

func (s *PostgresStore) InsertLiquidityProvision(ctx context.Context, lp *model.LiquidityProvision) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO liquidity_provisions (id, user_id, market_id, amount, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		lp.ID, lp.UserID, lp.MarketID, lp.Amount.String(), lp.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetLiquidityProvisions(ctx context.Context, marketID string) ([]model.LiquidityProvision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market_id, amount::TEXT, created_at
		 FROM liquidity_provisions WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var provisions []model.LiquidityProvision
	for rows.Next() {
		var lp model.LiquidityProvision
		var amount string
		if err := rows.Scan(&lp.ID, &lp.UserID, &lp.MarketID, &amount, &lp.CreatedAt); err != nil {
			return nil, err
		}
		lp.Amount, _ = decimal.NewFromString(amount)
		provisions = append(provisions, lp)
	}
	return provisions, rows.Err()
}

func (s *PostgresStore) GetBalances(ctx context.Context, userIDs []string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, balance::TEXT FROM balances WHERE user_id = ANY($1)`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make(map[string]decimal.Decimal, len(userIDs))
	for rows.Next() {
		var userID, balance string
		if err := rows.Scan(&userID, &balance); err != nil {
			return nil, err
		}
		balances[userID], _ = decimal.NewFromString(balance)
	}
	return balances, rows.Err()
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balances (user_id, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_id) DO UPDATE SET balance = balances.balance + EXCLUDED.balance`,
		userID, delta.String(),
	)
	return err
}

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanMarket(row pgxRow) (*model.Market, error) {
	var m model.Market
	var poolYes, poolNo, p, subsidy, totalLiq string
	var creatorFee, platformFee, liquidityFee string
	var resolution []byte

	if err := row.Scan(&m.ID, &m.CreatorID, &m.Question, &m.Mechanism, &m.Status,
		&poolYes, &poolNo, &p, &subsidy, &totalLiq,
		&creatorFee, &platformFee, &liquidityFee,
		&m.CreatedAt, &m.ResolvedAt, &resolution); err != nil {
		return nil, err
	}

	m.PoolYes, _ = decimal.NewFromString(poolYes)
	m.PoolNo, _ = decimal.NewFromString(poolNo)
	m.P, _ = decimal.NewFromString(p)
	m.SubsidyPool, _ = decimal.NewFromString(subsidy)
	m.TotalLiquidity, _ = decimal.NewFromString(totalLiq)
	m.CollectedFees.Creator, _ = decimal.NewFromString(creatorFee)
	m.CollectedFees.Platform, _ = decimal.NewFromString(platformFee)
	m.CollectedFees.Liquidity, _ = decimal.NewFromString(liquidityFee)

	if len(resolution) > 0 {
		var res model.Resolution
		if err := json.Unmarshal(resolution, &res); err != nil {
			return nil, err
		}
		m.Resolution = &res
	}
	return &m, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanBets(rows pgxRows) ([]model.Bet, error) {
	var bets []model.Bet
	for rows.Next() {
		var b model.Bet
		var orderAmount, amount, shares string
		var limitProb *string
		var probBefore, probAfter string
		var fills []byte
		var creatorFee, platformFee, liquidityFee string

		if err := rows.Scan(&b.ID, &b.UserID, &b.MarketID, &b.AnswerID, &b.Outcome,
			&orderAmount, &amount, &shares, &limitProb,
			&probBefore, &probAfter, &fills,
			&creatorFee, &platformFee, &liquidityFee,
			&b.IsFilled, &b.IsCancelled, &b.IsRedemption, &b.IsAnte,
			&b.ExpiresAt, &b.CreatedAt); err != nil {
			return nil, err
		}

		b.OrderAmount, _ = decimal.NewFromString(orderAmount)
		b.Amount, _ = decimal.NewFromString(amount)
		b.Shares, _ = decimal.NewFromString(shares)
		if limitProb != nil {
			lp, _ := decimal.NewFromString(*limitProb)
			b.LimitProb = &lp
		}
		b.ProbBefore, _ = decimal.NewFromString(probBefore)
		b.ProbAfter, _ = decimal.NewFromString(probAfter)
		b.Fees.Creator, _ = decimal.NewFromString(creatorFee)
		b.Fees.Platform, _ = decimal.NewFromString(platformFee)
		b.Fees.Liquidity, _ = decimal.NewFromString(liquidityFee)
		if len(fills) > 0 {
			if err := json.Unmarshal(fills, &b.Fills); err != nil {
				return nil, err
			}
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

func marshalResolution(res *model.Resolution) ([]byte, error) {
	if res == nil {
		return nil, nil
	}
	return json.Marshal(res)
}
