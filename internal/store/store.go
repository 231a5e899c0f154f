// Package store defines the persistence interface for the trading service.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/papertrade/finance/internal/model"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an account does not exist.
	ErrNotFound = errors.New("store: account not found")

	// ErrUsernameTaken is returned when registering a duplicate username.
	ErrUsernameTaken = errors.New("store: username already exists")

	// ErrNegativeBalance is returned when a cash adjustment would drive
	// the balance below zero. No mutation takes place.
	ErrNegativeBalance = errors.New("store: cash balance would go negative")

	// ErrNegativePosition is returned when a transaction would drive a
	// position below zero shares. No mutation takes place.
	ErrNegativePosition = errors.New("store: position would go negative")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount retrieves an account by user ID.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// GetAccountByUsername retrieves an account by its login name.
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)

	// GetCash returns the account's current cash balance.
	GetCash(ctx context.Context, userID string) (decimal.Decimal, error)

	// AdjustCash applies delta atomically and returns the new balance.
	// Fails with ErrNegativeBalance rather than letting cash go below zero.
	AdjustCash(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)

	// --- Immutable transaction log ---

	// AppendTransaction appends an immutable trade record.
	AppendTransaction(ctx context.Context, txn *model.Transaction) error

	// ListTransactions returns all trades for a user, most recent first.
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)

	// --- Position queries ---

	// GetUserPositions computes aggregate positions from the log,
	// including symbols whose total is zero, sorted by symbol.
	GetUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Trade execution ---

	// ApplyTrade debits txn.Amount() from the account and appends txn
	// as one atomic unit, returning the new cash balance. It re-checks
	// both invariants inside that unit: ErrNegativeBalance if cash would
	// go negative, ErrNegativePosition if the symbol's total would.
	ApplyTrade(ctx context.Context, txn *model.Transaction) (decimal.Decimal, error)
}
