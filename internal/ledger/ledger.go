// Package ledger executes simulated buy and sell trades against a user's
// cash balance and share positions, and values portfolios.
//
// Positions are never stored: they are recomputed from the append-only
// transaction log. Each trade validates before any mutation and then
// applies the cash change and the log append as one atomic store call.
// Trades for the same user are serialized; different users run in parallel.
//
// All monetary values use shopspring/decimal, never float64.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papertrade/finance/internal/metrics"
	"github.com/papertrade/finance/internal/model"
	"github.com/papertrade/finance/internal/quote"
	"github.com/papertrade/finance/internal/store"
	"github.com/papertrade/finance/internal/symbol"
)

var (
	// ErrInvalidInput is returned for a malformed request: empty or
	// invalid symbol, or a share count that is not a positive integer.
	ErrInvalidInput = errors.New("ledger: invalid input")

	// ErrUnknownSymbol is returned when the quote provider does not know
	// the symbol.
	ErrUnknownSymbol = errors.New("ledger: unknown symbol")

	// ErrQuoteUnavailable is returned when a price cannot currently be
	// resolved.
	ErrQuoteUnavailable = errors.New("ledger: quote unavailable")

	// ErrInsufficientFunds is returned when a buy costs more than the
	// available cash.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientShares is returned when a sell exceeds the position.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")

	// ErrUnknownAccount is returned when the user has no account.
	ErrUnknownAccount = errors.New("ledger: unknown account")

	// ErrStorage wraps any Account Store or Transaction Log failure.
	ErrStorage = errors.New("ledger: storage error")
)

// Valuation selects how GetPortfolioValue prices a held symbol whose
// quote cannot be resolved.
type Valuation int

const (
	// ValuationLive fails with ErrQuoteUnavailable.
	ValuationLive Valuation = iota
	// ValuationLastKnown uses the price of the latest transaction in
	// that symbol and marks the portfolio stale.
	ValuationLastKnown
)

// PositionFilter selects which positions GetPositions yields.
type PositionFilter int

const (
	// AllPositions includes symbols whose total is zero.
	AllPositions PositionFilter = iota
	// HeldPositions yields only strictly positive totals (sell-eligible).
	HeldPositions
)

// Notifier is told about every accepted trade after it has been applied.
type Notifier interface {
	TradeExecuted(ctx context.Context, txn model.Transaction, cash decimal.Decimal)
}

// Execution is the outcome of an accepted trade.
type Execution struct {
	Transaction model.Transaction `json:"transaction"`
	Total       decimal.Decimal   `json:"total"` // unsigned cost or proceeds
	Cash        decimal.Decimal   `json:"cash"`  // balance after the trade
}

// Engine validates and executes trades. It is safe for concurrent use.
type Engine struct {
	store     store.Store
	quotes    quote.Provider
	locks     *accountLocks
	valuation Valuation
	notifier  Notifier
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithValuation sets the portfolio valuation policy.
func WithValuation(v Valuation) Option {
	return func(e *Engine) { e.valuation = v }
}

// WithNotifier registers a sink for accepted trades.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the transaction timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a ledger engine over st, pricing trades with quotes.
func NewEngine(st store.Store, quotes quote.Provider, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		quotes: quotes,
		locks:  newAccountLocks(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseShares parses a share count entered by a user. Only plain
// positive base-10 integers are accepted.
func ParseShares(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: missing share count", ErrInvalidInput)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: share count must be a positive integer, got %q", ErrInvalidInput, s)
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: share count must be a positive integer, got %q", ErrInvalidInput, s)
	}
	return n, nil
}

// ExecuteBuy buys shares of sym for userID at the current quoted price.
func (e *Engine) ExecuteBuy(ctx context.Context, userID, sym string, shares int64) (*Execution, error) {
	const side = "BUY"
	start := time.Now()

	sym, err := validate(userID, sym, shares)
	if err != nil {
		return nil, e.reject(side, userID, sym, err)
	}

	unlock := e.locks.lock(userID)
	defer unlock()

	q, err := e.lookup(ctx, sym)
	if err != nil {
		return nil, e.reject(side, userID, sym, err)
	}

	cost := q.Price.Mul(decimal.NewFromInt(shares))
	cash, err := e.store.GetCash(ctx, userID)
	if err != nil {
		return nil, e.reject(side, userID, sym, storageErr(err))
	}
	if cash.LessThan(cost) {
		return nil, e.reject(side, userID, sym,
			fmt.Errorf("%w: cost %s exceeds cash %s", ErrInsufficientFunds, cost, cash))
	}

	exec, err := e.apply(ctx, userID, sym, shares, q.Price)
	if err != nil {
		return nil, e.reject(side, userID, sym, err)
	}
	e.accepted(ctx, side, exec, start)
	return exec, nil
}

// ExecuteSell sells shares of sym for userID at the current quoted price.
// The position is checked against the transaction log before the quote is
// fetched, so an oversell is reported even for an unresolvable symbol.
func (e *Engine) ExecuteSell(ctx context.Context, userID, sym string, shares int64) (*Execution, error) {
	const side = "SELL"
	start := time.Now()

	sym, err := validate(userID, sym, shares)
	if err != nil {
		return nil, e.reject(side, userID, sym, err)
	}

	unlock := e.locks.lock(userID)
	defer unlock()

	held, err := e.holding(ctx, userID, sym)
	if err != nil {
		return nil, e.reject(side, userID, sym, err)
	}
	if shares > held {
		return nil, e.reject(side, userID, sym,
			fmt.Errorf("%w: selling %d %s, holding %d", ErrInsufficientShares, shares, sym, held))
	}

	q, err := e.lookup(ctx, sym)
	if err != nil {
		return nil, e.reject(side, userID, sym, err)
	}

	exec, err := e.apply(ctx, userID, sym, -shares, q.Price)
	if err != nil {
		return nil, e.reject(side, userID, sym, err)
	}
	e.accepted(ctx, side, exec, start)
	return exec, nil
}

// GetPositions aggregates the user's transaction log by symbol. The
// returned sequence is finite and ordered by symbol; it can be ranged
// over any number of times.
func (e *Engine) GetPositions(ctx context.Context, userID string, filter PositionFilter) (iter.Seq[model.Position], error) {
	positions, err := e.store.GetUserPositions(ctx, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	return func(yield func(model.Position) bool) {
		for _, p := range positions {
			if filter == HeldPositions && p.Shares <= 0 {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}, nil
}

// GetPortfolioValue values cash plus every strictly positive position at
// its current quote. Cash and positions are read as one consistent
// snapshot; quotes are fetched after the snapshot is taken.
func (e *Engine) GetPortfolioValue(ctx context.Context, userID string) (*model.Portfolio, error) {
	unlock := e.locks.lock(userID)
	cash, err := e.store.GetCash(ctx, userID)
	if err != nil {
		unlock()
		return nil, storageErr(err)
	}
	held, err := e.GetPositions(ctx, userID, HeldPositions)
	unlock()
	if err != nil {
		return nil, err
	}

	pf := &model.Portfolio{
		UserID:        userID,
		Cash:          cash,
		Positions:     []model.Position{},
		HoldingsValue: decimal.Zero,
	}
	for p := range held {
		q, err := e.lookup(ctx, p.Symbol)
		switch {
		case err == nil:
			p.Price = q.Price
		case e.valuation == ValuationLastKnown:
			slog.Warn("valuing at last known price", "user", userID, "symbol", p.Symbol, "err", err)
			p.Price = p.LastPrice
			pf.Stale = true
		default:
			if errors.Is(err, ErrUnknownSymbol) {
				err = fmt.Errorf("%w: %s no longer resolves", ErrQuoteUnavailable, p.Symbol)
			}
			return nil, err
		}
		p.Value = p.Price.Mul(decimal.NewFromInt(p.Shares))
		pf.HoldingsValue = pf.HoldingsValue.Add(p.Value)
		pf.Positions = append(pf.Positions, p)
	}
	pf.Total = pf.Cash.Add(pf.HoldingsValue)
	return pf, nil
}

// Quote resolves the current price for a user-entered symbol.
func (e *Engine) Quote(ctx context.Context, raw string) (*model.Quote, error) {
	sym, err := symbol.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return e.lookup(ctx, sym)
}

// History returns the user's transactions, most recent first.
func (e *Engine) History(ctx context.Context, userID string) ([]model.Transaction, error) {
	txns, err := e.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	return txns, nil
}

// Account returns the user's account record.
func (e *Engine) Account(ctx context.Context, userID string) (*model.Account, error) {
	acct, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	return acct, nil
}

// --- internals ---

func validate(userID, raw string, shares int64) (string, error) {
	if userID == "" {
		return raw, fmt.Errorf("%w: missing user", ErrInvalidInput)
	}
	sym, err := symbol.Parse(raw)
	if err != nil {
		return raw, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if shares <= 0 {
		return sym, fmt.Errorf("%w: share count must be positive, got %d", ErrInvalidInput, shares)
	}
	return sym, nil
}

// lookup resolves a normalized symbol and maps provider errors.
func (e *Engine) lookup(ctx context.Context, sym string) (*model.Quote, error) {
	q, err := e.quotes.Lookup(ctx, sym)
	switch {
	case errors.Is(err, quote.ErrNotFound):
		metrics.QuoteLookups.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, sym)
	case err != nil:
		metrics.QuoteLookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrQuoteUnavailable, sym, err)
	case q == nil || !q.Price.IsPositive():
		metrics.QuoteLookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s: no positive price", ErrQuoteUnavailable, sym)
	}
	metrics.QuoteLookups.WithLabelValues("ok").Inc()
	return q, nil
}

// holding sums the transaction log for one symbol.
func (e *Engine) holding(ctx context.Context, userID, sym string) (int64, error) {
	txns, err := e.store.ListTransactions(ctx, userID)
	if err != nil {
		return 0, storageErr(err)
	}
	var total int64
	for _, t := range txns {
		if t.Symbol == sym {
			total += t.Shares
		}
	}
	return total, nil
}

// apply records a signed trade through the store's atomic unit.
func (e *Engine) apply(ctx context.Context, userID, sym string, shares int64, price decimal.Decimal) (*Execution, error) {
	txn := model.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Symbol:    sym,
		Shares:    shares,
		Price:     price,
		Timestamp: e.now(),
	}

	cash, err := e.store.ApplyTrade(ctx, &txn)
	switch {
	case errors.Is(err, store.ErrNegativeBalance):
		return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case errors.Is(err, store.ErrNegativePosition):
		return nil, fmt.Errorf("%w: %v", ErrInsufficientShares, err)
	case err != nil:
		return nil, storageErr(err)
	}

	return &Execution{
		Transaction: txn,
		Total:       txn.Amount().Abs(),
		Cash:        cash,
	}, nil
}

func storageErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrUnknownAccount, err)
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

func (e *Engine) reject(side, userID, sym string, err error) error {
	metrics.TradeRejections.WithLabelValues(side, Reason(err)).Inc()
	level := slog.LevelInfo
	if errors.Is(err, ErrStorage) {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, "trade rejected",
		"side", side, "user", userID, "symbol", sym, "err", err)
	return err
}

func (e *Engine) accepted(ctx context.Context, side string, exec *Execution, start time.Time) {
	txn := exec.Transaction
	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	shares := txn.Shares
	if shares < 0 {
		shares = -shares
	}
	metrics.SharesTraded.WithLabelValues(txn.Symbol, side).Add(float64(shares))

	slog.Info("trade executed",
		"trade_id", txn.ID,
		"side", side,
		"user", txn.UserID,
		"symbol", txn.Symbol,
		"shares", shares,
		"price", txn.Price.String(),
		"total", exec.Total.String(),
		"cash", exec.Cash.String(),
	)

	if e.notifier != nil {
		e.notifier.TradeExecuted(ctx, txn, exec.Cash)
	}
}

// Reason returns a short metric/log label for a ledger error kind.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnknownSymbol):
		return "unknown_symbol"
	case errors.Is(err, ErrQuoteUnavailable):
		return "quote_unavailable"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrUnknownAccount):
		return "unknown_account"
	default:
		return "storage"
	}
}
