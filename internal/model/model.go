// Package model defines the core domain types shared across the service.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's identity and available cash.
// Cash is mutated only by trade execution and must never go negative.
type Account struct {
	UserID       string          `json:"user_id" db:"user_id"`
	Username     string          `json:"username" db:"username"`
	PasswordHash string          `json:"-" db:"hash"`
	Cash         decimal.Decimal `json:"cash" db:"cash"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Transaction is an immutable record of a trade execution.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Shares    int64           `json:"shares" db:"shares"` // signed: +buy, -sell
	Price     decimal.Decimal `json:"price" db:"price"`   // per share at time of trade
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Amount is the signed cash outflow of the transaction: positive for a
// buy, negative for a sell.
func (t Transaction) Amount() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Shares))
}

// Side returns "BUY" or "SELL".
func (t Transaction) Side() string {
	if t.Shares < 0 {
		return "SELL"
	}
	return "BUY"
}

// Position is a user's net holding in one symbol, derived from the
// transaction log. It is never stored.
type Position struct {
	UserID    string          `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Shares    int64           `json:"shares"`
	LastPrice decimal.Decimal `json:"last_price"`      // price of the latest transaction
	Price     decimal.Decimal `json:"price,omitempty"` // current quote, set when valued
	Value     decimal.Decimal `json:"value,omitempty"` // Price × Shares
}

// Portfolio is the on-demand valuation of a user's cash and holdings.
type Portfolio struct {
	UserID        string          `json:"user_id"`
	Cash          decimal.Decimal `json:"cash"`
	Positions     []Position      `json:"positions"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	Total         decimal.Decimal `json:"total"`
	Stale         bool            `json:"stale"` // some positions valued at last known price
}

// Quote is a current market price for a symbol.
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name,omitempty"`
	Price  decimal.Decimal `json:"price"`
}

// Aggregate groups transactions by symbol and sums share counts. The
// result is sorted by symbol and includes symbols whose total is zero.
// Input order does not matter for the totals; LastPrice is taken from the
// transaction with the latest timestamp.
func Aggregate(userID string, txns []Transaction) []Position {
	type agg struct {
		shares int64
		last   time.Time
		price  decimal.Decimal
		seen   bool
	}

	bySymbol := make(map[string]*agg)
	for _, t := range txns {
		a, ok := bySymbol[t.Symbol]
		if !ok {
			a = &agg{}
			bySymbol[t.Symbol] = a
		}
		a.shares += t.Shares
		if !a.seen || !t.Timestamp.Before(a.last) {
			a.last = t.Timestamp
			a.price = t.Price
			a.seen = true
		}
	}

	positions := make([]Position, 0, len(bySymbol))
	for sym, a := range bySymbol {
		positions = append(positions, Position{
			UserID:    userID,
			Symbol:    sym,
			Shares:    a.shares,
			LastPrice: a.price,
		})
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions
}
