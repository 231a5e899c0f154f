package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/finance/internal/model"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, username, hash, cash, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		a.UserID, a.Username, a.PasswordHash, a.Cash.String(), a.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrUsernameTaken, a.Username)
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return s.getAccount(ctx, `WHERE user_id = $1`, userID)
}

func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.getAccount(ctx, `WHERE username = $1`, username)
}

func (s *PostgresStore) getAccount(ctx context.Context, where string, arg string) (*model.Account, error) {
	var a model.Account
	var cash string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, username, hash, cash::TEXT, created_at
		 FROM accounts `+where, arg).
		Scan(&a.UserID, &a.Username, &a.PasswordHash, &cash, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", arg, err)
	}

	a.Cash, err = decimal.NewFromString(cash)
	if err != nil {
		return nil, fmt.Errorf("get account %s: parse cash: %w", arg, err)
	}
	return &a, nil
}

func (s *PostgresStore) GetCash(ctx context.Context, userID string) (decimal.Decimal, error) {
	var cash string
	err := s.pool.QueryRow(ctx,
		`SELECT cash::TEXT FROM accounts WHERE user_id = $1`, userID).Scan(&cash)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get cash %s: %w", userID, err)
	}
	return decimal.NewFromString(cash)
}

// AdjustCash applies delta in a single conditional UPDATE, so concurrent
// adjustments on the same row serialize on the row lock.
func (s *PostgresStore) AdjustCash(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var cash string
	err := s.pool.QueryRow(ctx,
		`UPDATE accounts SET cash = cash + $2::NUMERIC
		 WHERE user_id = $1 AND cash + $2::NUMERIC >= 0
		 RETURNING cash::TEXT`,
		userID, delta.String()).Scan(&cash)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the account is missing or the guard rejected the update.
		current, gerr := s.GetCash(ctx, userID)
		if gerr != nil {
			return decimal.Zero, gerr
		}
		return current, fmt.Errorf("%w: balance %s, delta %s", ErrNegativeBalance, current, delta)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjust cash %s: %w", userID, err)
	}
	return decimal.NewFromString(cash)
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, t *model.Transaction) error {
	return insertTransaction(ctx, s.pool, t)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, shares, price::TEXT, timestamp
		 FROM transactions WHERE user_id = $1
		 ORDER BY timestamp DESC, seq DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol,
		        SUM(shares)::BIGINT AS total_shares,
		        (ARRAY_AGG(price::TEXT ORDER BY timestamp DESC, seq DESC))[1] AS last_price
		 FROM transactions
		 WHERE user_id = $1
		 GROUP BY symbol
		 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p := model.Position{UserID: userID}
		var lastPrice string
		if err := rows.Scan(&p.Symbol, &p.Shares, &lastPrice); err != nil {
			return nil, err
		}
		p.LastPrice, err = decimal.NewFromString(lastPrice)
		if err != nil {
			return nil, fmt.Errorf("positions %s: parse price: %w", userID, err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ApplyTrade locks the account row, re-checks cash and position, then
// updates cash and appends the transaction in one database transaction.
func (s *PostgresStore) ApplyTrade(ctx context.Context, t *model.Transaction) (decimal.Decimal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin trade: %w", err)
	}
	defer tx.Rollback(ctx)

	var cashS string
	err = tx.QueryRow(ctx,
		`SELECT cash::TEXT FROM accounts WHERE user_id = $1 FOR UPDATE`, t.UserID).Scan(&cashS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotFound, t.UserID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock account %s: %w", t.UserID, err)
	}
	cash, err := decimal.NewFromString(cashS)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock account %s: parse cash: %w", t.UserID, err)
	}

	if t.Shares < 0 {
		var held int64
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(shares), 0)::BIGINT FROM transactions
			 WHERE user_id = $1 AND symbol = $2`, t.UserID, t.Symbol).Scan(&held)
		if err != nil {
			return cash, fmt.Errorf("position %s/%s: %w", t.UserID, t.Symbol, err)
		}
		if held+t.Shares < 0 {
			return cash, fmt.Errorf("%w: %s holds %d, selling %d",
				ErrNegativePosition, t.Symbol, held, -t.Shares)
		}
	}

	next := cash.Sub(t.Amount())
	if next.IsNegative() {
		return cash, fmt.Errorf("%w: balance %s, cost %s", ErrNegativeBalance, cash, t.Amount())
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET cash = $2::NUMERIC WHERE user_id = $1`,
		t.UserID, next.String()); err != nil {
		return cash, fmt.Errorf("update cash %s: %w", t.UserID, err)
	}
	if err := insertTransaction(ctx, tx, t); err != nil {
		return cash, fmt.Errorf("append transaction: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return cash, fmt.Errorf("commit trade: %w", err)
	}
	return next, nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertTransaction(ctx context.Context, db execer, t *model.Transaction) error {
	_, err := db.Exec(ctx,
		`INSERT INTO transactions (id, user_id, symbol, shares, price, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		t.ID, t.UserID, t.Symbol, t.Shares, t.Price.String(), t.Timestamp,
	)
	return err
}

// pgxRows is the subset of pgx.Rows used by scanTransactions.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTransactions(rows pgxRows) ([]model.Transaction, error) {
	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var priceS string

		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Shares, &priceS, &t.Timestamp); err != nil {
			return nil, err
		}

		price, err := decimal.NewFromString(priceS)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: parse price: %w", t.ID, err)
		}
		t.Price = price
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
