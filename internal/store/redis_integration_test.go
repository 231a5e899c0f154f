//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/finance/internal/model"
	"github.com/papertrade/finance/internal/store"
	"github.com/papertrade/finance/internal/testing/containers"
)

// snapshotHookStore runs afterSnapshot once, right after the first
// position snapshot has been read from the wrapped store.
type snapshotHookStore struct {
	*store.MemoryStore
	once          sync.Once
	afterSnapshot func()
}

func (s *snapshotHookStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	positions, err := s.MemoryStore.GetUserPositions(ctx, userID)
	if err == nil && s.afterSnapshot != nil {
		s.once.Do(s.afterSnapshot)
	}
	return positions, err
}

func buy(userID, id, sym string, shares int64, price int64) *model.Transaction {
	return &model.Transaction{
		ID: id, UserID: userID, Symbol: sym, Shares: shares,
		Price: decimal.NewFromInt(price), Timestamp: time.Now(),
	}
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	rdb := containers.Redis(ctx, t)
	ttl := 30 * time.Second

	t.Run("miss fills cache with ttl", func(t *testing.T) {
		mem := store.NewMemoryStore()
		createAccount(ctx, t, mem, "miss", 10000)
		if _, err := mem.ApplyTrade(ctx, buy("miss", "miss-t1", "AAPL", 10, 150)); err != nil {
			t.Fatalf("seed trade: %v", err)
		}
		cs := store.NewCachedStore(mem, rdb, ttl)

		positions, err := cs.GetUserPositions(ctx, "miss")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(positions) != 1 || positions[0].Shares != 10 {
			t.Errorf("expected AAPL 10, got %+v", positions)
		}

		left, err := rdb.TTL(ctx, "positions:miss").Result()
		if err != nil {
			t.Fatalf("ttl: %v", err)
		}
		if left <= 0 || left > ttl {
			t.Errorf("expected ttl in (0, %s], got %s", ttl, left)
		}
	})

	t.Run("hit serves cached positions", func(t *testing.T) {
		mem := store.NewMemoryStore()
		createAccount(ctx, t, mem, "hit", 10000)
		cs := store.NewCachedStore(mem, rdb, ttl)

		if _, err := cs.ApplyTrade(ctx, buy("hit", "hit-t1", "AAPL", 10, 150)); err != nil {
			t.Fatalf("trade: %v", err)
		}
		if _, err := cs.GetUserPositions(ctx, "hit"); err != nil {
			t.Fatalf("fill: %v", err)
		}

		// Written around the cache, so only a hit returns the old total.
		if err := mem.AppendTransaction(ctx, buy("hit", "hit-t2", "AAPL", 5, 150)); err != nil {
			t.Fatalf("append: %v", err)
		}
		positions, err := cs.GetUserPositions(ctx, "hit")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(positions) != 1 || positions[0].Shares != 10 {
			t.Errorf("expected cached AAPL 10, got %+v", positions)
		}
		if !positions[0].LastPrice.Equal(decimal.NewFromInt(150)) {
			t.Errorf("expected last price 150 to survive the cache, got %s", positions[0].LastPrice)
		}
	})

	t.Run("trade invalidates cached positions", func(t *testing.T) {
		mem := store.NewMemoryStore()
		createAccount(ctx, t, mem, "inv", 10000)
		cs := store.NewCachedStore(mem, rdb, ttl)

		if _, err := cs.GetUserPositions(ctx, "inv"); err != nil {
			t.Fatalf("fill: %v", err)
		}
		if _, err := cs.ApplyTrade(ctx, buy("inv", "inv-t1", "MSFT", 2, 400)); err != nil {
			t.Fatalf("trade: %v", err)
		}
		if n, _ := rdb.Exists(ctx, "positions:inv").Result(); n != 0 {
			t.Error("expected cached positions to be dropped after the trade")
		}

		positions, err := cs.GetUserPositions(ctx, "inv")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(positions) != 1 || positions[0].Symbol != "MSFT" || positions[0].Shares != 2 {
			t.Errorf("expected MSFT 2, got %+v", positions)
		}
	})

	t.Run("trade during fill is not overwritten", func(t *testing.T) {
		hooked := &snapshotHookStore{MemoryStore: store.NewMemoryStore()}
		createAccount(ctx, t, hooked, "race", 10000)
		cs := store.NewCachedStore(hooked, rdb, ttl)

		// The trade commits after the reader's snapshot but before its
		// cache write.
		hooked.afterSnapshot = func() {
			cash, err := cs.ApplyTrade(ctx, buy("race", "race-t1", "AAPL", 10, 150))
			if err != nil {
				t.Errorf("trade: %v", err)
			}
			if !cash.Equal(decimal.NewFromInt(8500)) {
				t.Errorf("expected 8500 after trade, got %s", cash)
			}
		}

		if _, err := cs.GetUserPositions(ctx, "race"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n, _ := rdb.Exists(ctx, "positions:race").Result(); n != 0 {
			raw, _ := rdb.Get(ctx, "positions:race").Result()
			t.Errorf("pre-trade snapshot was cached after invalidation: %s", raw)
		}

		positions, err := cs.GetUserPositions(ctx, "race")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(positions) != 1 || positions[0].Shares != 10 {
			t.Errorf("expected AAPL 10 after the trade, got %+v", positions)
		}
	})
}
