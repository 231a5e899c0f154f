package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/papertrade/finance/internal/model"
	"github.com/shopspring/decimal"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	accounts   map[string]*model.Account
	byUsername map[string]string // username → user ID
	ledger     []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[string]*model.Account),
		byUsername: make(map[string]string),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[a.Username]; ok {
		return fmt.Errorf("%w: %s", ErrUsernameTaken, a.Username)
	}
	if a.Cash.IsNegative() {
		return fmt.Errorf("%w: starting cash %s", ErrNegativeBalance, a.Cash)
	}

	// Store a copy to avoid external mutation.
	copy := *a
	s.accounts[a.UserID] = &copy
	s.byUsername[a.Username] = a.UserID
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetAccountByUsername(_ context.Context, username string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	copy := *s.accounts[id]
	return &copy, nil
}

func (s *MemoryStore) GetCash(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return a.Cash, nil
}

func (s *MemoryStore) AdjustCash(_ context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.adjustLocked(userID, delta)
}

func (s *MemoryStore) adjustLocked(userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	a, ok := s.accounts[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	next := a.Cash.Add(delta)
	if next.IsNegative() {
		return a.Cash, fmt.Errorf("%w: balance %s, delta %s", ErrNegativeBalance, a.Cash, delta)
	}
	a.Cash = next
	return next, nil
}

func (s *MemoryStore) AppendTransaction(_ context.Context, txn *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *txn)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk backwards so that entries with equal timestamps keep
	// latest-appended-first order through the stable sort.
	var result []model.Transaction
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].UserID == userID {
			result = append(result, s.ledger[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result, nil
}

// GetUserPositions aggregates the user's ledger entries into positions.
func (s *MemoryStore) GetUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return model.Aggregate(userID, s.userLedgerLocked(userID)), nil
}

func (s *MemoryStore) userLedgerLocked(userID string) []model.Transaction {
	var txns []model.Transaction
	for _, t := range s.ledger {
		if t.UserID == userID {
			txns = append(txns, t)
		}
	}
	return txns
}

// ApplyTrade checks both invariants and applies the cash change and the
// log append under a single write lock.
func (s *MemoryStore) ApplyTrade(_ context.Context, txn *model.Transaction) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[txn.UserID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotFound, txn.UserID)
	}

	if txn.Shares < 0 {
		var held int64
		for _, t := range s.ledger {
			if t.UserID == txn.UserID && t.Symbol == txn.Symbol {
				held += t.Shares
			}
		}
		if held+txn.Shares < 0 {
			return a.Cash, fmt.Errorf("%w: %s holds %d, selling %d",
				ErrNegativePosition, txn.Symbol, held, -txn.Shares)
		}
	}

	cash, err := s.adjustLocked(txn.UserID, txn.Amount().Neg())
	if err != nil {
		return cash, err
	}
	s.ledger = append(s.ledger, *txn)
	return cash, nil
}
