// Package quote resolves current stock prices.
//
// The Provider interface is consumed by the ledger; implementations
// include an HTTP JSON client, a Redis read-through cache, and a static
// in-memory table for tests and offline development.
package quote

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/papertrade/finance/internal/model"
)

var (
	// ErrNotFound is returned when the provider does not know the symbol.
	ErrNotFound = errors.New("quote: symbol not found")

	// ErrUnavailable is returned when the provider could not be reached
	// or answered with something unusable.
	ErrUnavailable = errors.New("quote: provider unavailable")
)

// Provider looks up the current price for an uppercase ticker symbol.
// A returned quote always has a positive price.
type Provider interface {
	Lookup(ctx context.Context, symbol string) (*model.Quote, error)
}

// StaticProvider serves quotes from an in-memory table.
type StaticProvider struct {
	mu     sync.RWMutex
	quotes map[string]model.Quote
	err    error
}

// NewStaticProvider creates a provider seeded with symbol → price.
func NewStaticProvider(prices map[string]decimal.Decimal) *StaticProvider {
	p := &StaticProvider{quotes: make(map[string]model.Quote)}
	for sym, price := range prices {
		p.Set(sym, price)
	}
	return p
}

// Set adds or replaces the price for symbol.
func (p *StaticProvider) Set(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sym := strings.ToUpper(symbol)
	p.quotes[sym] = model.Quote{Symbol: sym, Name: sym, Price: price}
}

// Remove forgets symbol so that later lookups return ErrNotFound.
func (p *StaticProvider) Remove(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.quotes, strings.ToUpper(symbol))
}

// Fail makes every lookup return err until called again with nil.
func (p *StaticProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *StaticProvider) Lookup(_ context.Context, symbol string) (*model.Quote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.err != nil {
		return nil, p.err
	}
	q, ok := p.quotes[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	return &q, nil
}
