package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/finance/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for derived positions. Every write to the log goes to the primary
// store first, then bumps the user's position version and drops the cached
// entry in one MULTI. A reader only fills the cache if the version did not
// move between its WATCH and its SET, so a snapshot taken before a trade
// can never be written back after that trade's invalidation. Cash is never
// cached since trade validation must read the authoritative value.
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

func (s *CachedStore) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := s.primary.AppendTransaction(ctx, txn); err != nil {
		return err
	}
	s.invalidate(ctx, txn.UserID)
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, txn *model.Transaction) (decimal.Decimal, error) {
	cash, err := s.primary.ApplyTrade(ctx, txn)
	if err != nil {
		return cash, err
	}
	s.invalidate(ctx, txn.UserID)
	return cash, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	// Cache miss. The snapshot is read under WATCH of the version key.
	var (
		positions  []model.Position
		primaryErr error
		fetched    bool
	)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		positions, primaryErr = s.primary.GetUserPositions(ctx, userID)
		fetched = true
		if primaryErr != nil {
			return primaryErr
		}
		data, err := json.Marshal(positions)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, positionsKey(userID), data, s.ttl)
			return nil
		})
		return err
	}, versionKey(userID))

	switch {
	case !fetched:
		// Redis unreachable before the snapshot was taken.
		return s.primary.GetUserPositions(ctx, userID)
	case primaryErr != nil:
		return nil, primaryErr
	case errors.Is(err, redis.TxFailedErr):
		slog.Debug("position cache fill skipped, log changed", "user", userID)
	case err != nil:
		slog.Warn("position cache fill failed", "user", userID, "err", err)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.primary.CreateAccount(ctx, a)
}

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, userID)
}

func (s *CachedStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.primary.GetAccountByUsername(ctx, username)
}

func (s *CachedStore) GetCash(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.primary.GetCash(ctx, userID)
}

func (s *CachedStore) AdjustCash(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	return s.primary.AdjustCash(ctx, userID, delta)
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) invalidate(ctx context.Context, userID string) {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(userID))
		pipe.Del(ctx, positionsKey(userID))
		return nil
	})
	if err != nil {
		// A stale entry expires after ttl; trade validation never reads it.
		slog.Warn("position cache invalidation failed", "user", userID, "err", err)
	}
}

func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }

func versionKey(uid string) string { return fmt.Sprintf("positions:ver:%s", uid) }
