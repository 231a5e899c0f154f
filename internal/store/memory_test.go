package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/finance/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedAccount(t *testing.T, s *MemoryStore, id string, cash float64) {
	t.Helper()
	err := s.CreateAccount(context.Background(), &model.Account{
		UserID:    id,
		Username:  "name-" + id,
		Cash:      d(cash),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func TestCreateAccount_DuplicateUsername(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "u1", 100)

	err := s.CreateAccount(context.Background(), &model.Account{UserID: "u2", Username: "name-u1"})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetAccount(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetAccountByUsername(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound by username, got %v", err)
	}
	if _, err := s.GetCash(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for cash, got %v", err)
	}
}

func TestAdjustCash_RejectsNegative(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "u1", 100)
	ctx := context.Background()

	cash, err := s.AdjustCash(ctx, "u1", d(-40))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cash.Equal(d(60)) {
		t.Errorf("expected 60, got %s", cash)
	}

	_, err = s.AdjustCash(ctx, "u1", d(-60.01))
	if !errors.Is(err, ErrNegativeBalance) {
		t.Errorf("expected ErrNegativeBalance, got %v", err)
	}
	got, _ := s.GetCash(ctx, "u1")
	if !got.Equal(d(60)) {
		t.Errorf("balance changed after rejected adjustment: %s", got)
	}
}

func TestAdjustCash_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "u1", 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AdjustCash(ctx, "u1", d(-7)); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 14 {
		t.Errorf("expected 14 accepted debits of 7 from 100, got %d", accepted)
	}
	cash, _ := s.GetCash(ctx, "u1")
	if !cash.Equal(d(2)) {
		t.Errorf("expected remaining cash 2, got %s", cash)
	}
}

func TestApplyTrade_BuyAndSell(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "u1", 10000)
	ctx := context.Background()

	cash, err := s.ApplyTrade(ctx, &model.Transaction{
		ID: "t1", UserID: "u1", Symbol: "AAPL", Shares: 10, Price: d(150), Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if !cash.Equal(d(8500)) {
		t.Errorf("expected 8500 after buy, got %s", cash)
	}

	cash, err = s.ApplyTrade(ctx, &model.Transaction{
		ID: "t2", UserID: "u1", Symbol: "AAPL", Shares: -4, Price: d(150), Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if !cash.Equal(d(9100)) {
		t.Errorf("expected 9100 after sell, got %s", cash)
	}

	positions, _ := s.GetUserPositions(ctx, "u1")
	if len(positions) != 1 || positions[0].Shares != 6 {
		t.Errorf("expected AAPL 6, got %+v", positions)
	}
}

func TestApplyTrade_InsufficientCashLeavesNoTrace(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "u1", 100)
	ctx := context.Background()

	_, err := s.ApplyTrade(ctx, &model.Transaction{
		ID: "t1", UserID: "u1", Symbol: "AAPL", Shares: 1, Price: d(150), Timestamp: time.Now(),
	})
	if !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}

	txns, _ := s.ListTransactions(ctx, "u1")
	if len(txns) != 0 {
		t.Errorf("expected no transactions, got %d", len(txns))
	}
	cash, _ := s.GetCash(ctx, "u1")
	if !cash.Equal(d(100)) {
		t.Errorf("expected cash unchanged at 100, got %s", cash)
	}
}

func TestApplyTrade_Oversell(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "u1", 1000)
	ctx := context.Background()

	s.ApplyTrade(ctx, &model.Transaction{
		ID: "t1", UserID: "u1", Symbol: "AAPL", Shares: 2, Price: d(100), Timestamp: time.Now(),
	})

	_, err := s.ApplyTrade(ctx, &model.Transaction{
		ID: "t2", UserID: "u1", Symbol: "AAPL", Shares: -3, Price: d(100), Timestamp: time.Now(),
	})
	if !errors.Is(err, ErrNegativePosition) {
		t.Fatalf("expected ErrNegativePosition, got %v", err)
	}
	cash, _ := s.GetCash(ctx, "u1")
	if !cash.Equal(d(800)) {
		t.Errorf("expected cash 800, got %s", cash)
	}
}

func TestApplyTrade_UnknownAccount(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.ApplyTrade(context.Background(), &model.Transaction{
		UserID: "ghost", Symbol: "AAPL", Shares: 1, Price: d(1),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListTransactions_MostRecentFirst(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "u1", 1000)
	seedAccount(t, s, "u2", 1000)
	ctx := context.Background()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.AppendTransaction(ctx, &model.Transaction{ID: "a", UserID: "u1", Symbol: "AAPL", Shares: 1, Price: d(1), Timestamp: t0})
	s.AppendTransaction(ctx, &model.Transaction{ID: "b", UserID: "u2", Symbol: "AAPL", Shares: 1, Price: d(1), Timestamp: t0})
	s.AppendTransaction(ctx, &model.Transaction{ID: "c", UserID: "u1", Symbol: "MSFT", Shares: 1, Price: d(1), Timestamp: t0.Add(time.Hour)})
	s.AppendTransaction(ctx, &model.Transaction{ID: "d", UserID: "u1", Symbol: "MSFT", Shares: 1, Price: d(1), Timestamp: t0.Add(time.Hour)})

	txns, err := s.ListTransactions(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ids []string
	for _, tx := range txns {
		ids = append(ids, tx.ID)
	}
	want := []string{"d", "c", "a"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}
