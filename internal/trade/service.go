// Package trade provides the HTTP handlers for the paper-trading API:
// registration and login, quotes, buying and selling, holdings, portfolio
// valuation and history.
//
// Handlers are thin: trading rules live in the ledger package, and every
// handler acts on the user id that auth.Middleware put in the context.
// Money is encoded as decimal strings with a sibling "_display" field.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/finance/internal/auth"
	"github.com/papertrade/finance/internal/ledger"
	"github.com/papertrade/finance/internal/model"
	"github.com/papertrade/finance/internal/usd"
)

const avatarBaseURL = "https://avatar.iran.liara.run/public/"

// Service serves the trading API.
type Service struct {
	ledger *ledger.Engine
	auth   *auth.Service
}

// NewService creates a new trade service.
func NewService(eng *ledger.Engine, authSvc *auth.Service) *Service {
	return &Service{ledger: eng, auth: authSvc}
}

// --- Request/Response types ---

// RegisterRequest is the JSON body for POST /register.
type RegisterRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Confirmation string `json:"confirmation"`
}

// LoginRequest is the JSON body for POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionResponse is returned from register and login.
type SessionResponse struct {
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	Cash        decimal.Decimal `json:"cash"`
	CashDisplay string          `json:"cash_display"`
	Token       string          `json:"token"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// TradeRequest is the JSON body for POST /buy and POST /sell. Shares may
// be sent as a JSON number or a numeric string.
type TradeRequest struct {
	Symbol string      `json:"symbol"`
	Shares json.Number `json:"shares"`
}

// TradeResponse is returned from an accepted buy or sell.
type TradeResponse struct {
	TradeID      string          `json:"trade_id"`
	Side         string          `json:"side"`
	Symbol       string          `json:"symbol"`
	Shares       int64           `json:"shares"`
	Price        decimal.Decimal `json:"price"`
	PriceDisplay string          `json:"price_display"`
	Total        decimal.Decimal `json:"total"`
	TotalDisplay string          `json:"total_display"`
	Cash         decimal.Decimal `json:"cash"`
	CashDisplay  string          `json:"cash_display"`
	Timestamp    time.Time       `json:"timestamp"`
}

// QuoteResponse is returned from GET /quote.
type QuoteResponse struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	PriceDisplay string          `json:"price_display"`
}

// Holding is one sell-eligible position.
type Holding struct {
	Symbol string `json:"symbol"`
	Shares int64  `json:"shares"`
}

// PositionResponse is one valued position in the portfolio.
type PositionResponse struct {
	Symbol       string          `json:"symbol"`
	Shares       int64           `json:"shares"`
	Price        decimal.Decimal `json:"price"`
	PriceDisplay string          `json:"price_display"`
	Value        decimal.Decimal `json:"value"`
	ValueDisplay string          `json:"value_display"`
}

// PortfolioResponse is returned from GET /portfolio.
type PortfolioResponse struct {
	Cash                 decimal.Decimal    `json:"cash"`
	CashDisplay          string             `json:"cash_display"`
	Positions            []PositionResponse `json:"positions"`
	HoldingsValue        decimal.Decimal    `json:"holdings_value"`
	HoldingsValueDisplay string             `json:"holdings_value_display"`
	Total                decimal.Decimal    `json:"total"`
	TotalDisplay         string             `json:"total_display"`
	Stale                bool               `json:"stale"`
}

// HistoryEntry is one transaction in GET /history.
type HistoryEntry struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Shares       int64           `json:"shares"` // signed
	Price        decimal.Decimal `json:"price"`
	PriceDisplay string          `json:"price_display"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ProfileResponse is returned from GET /profile.
type ProfileResponse struct {
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	Cash        decimal.Decimal `json:"cash"`
	CashDisplay string          `json:"cash_display"`
	AvatarURL   string          `json:"avatar_url"`
	CreatedAt   time.Time       `json:"created_at"`
}

// --- Session handlers ---

// Register handles POST /api/v1/register
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	acct, sess, err := s.auth.Register(r.Context(), req.Username, req.Password, req.Confirmation)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	http.SetCookie(w, auth.SessionCookie(sess))
	writeJSON(w, http.StatusCreated, newSessionResponse(acct, sess))
}

// Login handles POST /api/v1/login
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Any previous session on this client ends here.
	if old := auth.TokenFromRequest(r); old != "" {
		s.auth.Logout(r.Context(), old)
	}

	acct, sess, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	http.SetCookie(w, auth.SessionCookie(sess))
	writeJSON(w, http.StatusOK, newSessionResponse(acct, sess))
}

// Logout handles POST /api/v1/logout
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), auth.TokenFromRequest(r)); err != nil {
		slog.Error("logout failed", "err", err)
		writeError(w, "failed to end session", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, auth.ClearCookie())
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// --- Trading handlers ---

// GetQuote handles GET /api/v1/quote?symbol=
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.ledger.Quote(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{
		Symbol:       q.Symbol,
		Name:         q.Name,
		Price:        q.Price,
		PriceDisplay: usd.Format(q.Price),
	})
}

// Buy handles POST /api/v1/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, s.ledger.ExecuteBuy)
}

// Sell handles POST /api/v1/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, s.ledger.ExecuteSell)
}

func (s *Service) execute(w http.ResponseWriter, r *http.Request,
	run func(ctx context.Context, userID, symbol string, shares int64) (*ledger.Execution, error)) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, auth.ErrUnauthenticated.Error(), http.StatusUnauthorized)
		return
	}

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	shares, err := ledger.ParseShares(req.Shares.String())
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	exec, err := run(r.Context(), userID, req.Symbol, shares)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	txn := exec.Transaction
	writeJSON(w, http.StatusOK, TradeResponse{
		TradeID:      txn.ID,
		Side:         txn.Side(),
		Symbol:       txn.Symbol,
		Shares:       shares,
		Price:        txn.Price,
		PriceDisplay: usd.Format(txn.Price),
		Total:        exec.Total,
		TotalDisplay: usd.Format(exec.Total),
		Cash:         exec.Cash,
		CashDisplay:  usd.Format(exec.Cash),
		Timestamp:    txn.Timestamp,
	})
}

// GetHoldings handles GET /api/v1/holdings
// Returns the symbols the user can sell, with share counts.
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, auth.ErrUnauthenticated.Error(), http.StatusUnauthorized)
		return
	}

	held, err := s.ledger.GetPositions(r.Context(), userID, ledger.HeldPositions)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	holdings := []Holding{}
	for p := range held {
		holdings = append(holdings, Holding{Symbol: p.Symbol, Shares: p.Shares})
	}
	writeJSON(w, http.StatusOK, holdings)
}

// GetPortfolio handles GET /api/v1/portfolio
// Values cash plus every held position at its current quote.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, auth.ErrUnauthenticated.Error(), http.StatusUnauthorized)
		return
	}

	pf, err := s.ledger.GetPortfolioValue(r.Context(), userID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	resp := PortfolioResponse{
		Cash:                 pf.Cash,
		CashDisplay:          usd.Format(pf.Cash),
		Positions:            make([]PositionResponse, 0, len(pf.Positions)),
		HoldingsValue:        pf.HoldingsValue,
		HoldingsValueDisplay: usd.Format(pf.HoldingsValue),
		Total:                pf.Total,
		TotalDisplay:         usd.Format(pf.Total),
		Stale:                pf.Stale,
	}
	for _, p := range pf.Positions {
		resp.Positions = append(resp.Positions, PositionResponse{
			Symbol:       p.Symbol,
			Shares:       p.Shares,
			Price:        p.Price,
			PriceDisplay: usd.Format(p.Price),
			Value:        p.Value,
			ValueDisplay: usd.Format(p.Value),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetHistory handles GET /api/v1/history
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, auth.ErrUnauthenticated.Error(), http.StatusUnauthorized)
		return
	}

	txns, err := s.ledger.History(r.Context(), userID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	entries := make([]HistoryEntry, 0, len(txns))
	for _, t := range txns {
		entries = append(entries, newHistoryEntry(t))
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetProfile handles GET /api/v1/profile
func (s *Service) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, auth.ErrUnauthenticated.Error(), http.StatusUnauthorized)
		return
	}

	acct, err := s.ledger.Account(r.Context(), userID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{
		UserID:      acct.UserID,
		Username:    acct.Username,
		Cash:        acct.Cash,
		CashDisplay: usd.Format(acct.Cash),
		AvatarURL:   avatarBaseURL + url.PathEscape(acct.Username),
		CreatedAt:   acct.CreatedAt,
	})
}

// NoCache marks every response as uncacheable.
func NoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Expires", "0")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// CORS allows browser calls from the listed origins only. Credentials are
// allowed because sessions ride on a cookie, so the matching origin is
// echoed back rather than a wildcard. With no origins it sets nothing.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !allowed[origin] {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- helpers ---

func newSessionResponse(acct *model.Account, sess *auth.Session) SessionResponse {
	return SessionResponse{
		UserID:      acct.UserID,
		Username:    acct.Username,
		Cash:        acct.Cash,
		CashDisplay: usd.Format(acct.Cash),
		Token:       sess.Token,
		ExpiresAt:   sess.ExpiresAt,
	}
}

func newHistoryEntry(t model.Transaction) HistoryEntry {
	return HistoryEntry{
		ID:           t.ID,
		Symbol:       t.Symbol,
		Side:         t.Side(),
		Shares:       t.Shares,
		Price:        t.Price,
		PriceDisplay: usd.Format(t.Price),
		Timestamp:    t.Timestamp,
	}
}

// ledgerStatus maps a ledger error kind to an HTTP status.
func ledgerStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnknownSymbol):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrQuoteUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientShares):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrUnknownAccount):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	status := ledgerStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Storage details stay in the logs.
		msg = ledger.ErrStorage.Error()
	}
	writeError(w, msg, status)
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrUsernameTaken):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, auth.ErrBadCredentials):
		writeError(w, err.Error(), http.StatusForbidden)
	default:
		slog.Error("auth request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
