package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/finance/internal/model"
)

// maxBody bounds how much of a quote response is read.
const maxBody = 1 << 20

// HTTPProvider fetches quotes from a JSON endpoint of the form
// GET {baseURL}?symbol=AAPL[&token=KEY], answering
// {"symbol": "AAPL", "companyName": "Apple Inc", "latestPrice": 189.84}.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a provider. Each lookup is bounded by timeout
// in addition to the caller's context.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type quoteResponse struct {
	Symbol      string          `json:"symbol"`
	CompanyName string          `json:"companyName"`
	LatestPrice decimal.Decimal `json:"latestPrice"`
}

func (p *HTTPProvider) Lookup(ctx context.Context, symbol string) (*model.Quote, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base url: %v", ErrUnavailable, err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	if p.apiKey != "" {
		q.Set("token", p.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s answered %s", ErrUnavailable, u.Host, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	// Some endpoints answer 200 with a literal null for unknown symbols.
	if string(body) == "null" || len(body) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if !qr.LatestPrice.IsPositive() {
		return nil, fmt.Errorf("%w: %s has no price", ErrNotFound, symbol)
	}

	sym := qr.Symbol
	if sym == "" {
		sym = symbol
	}
	return &model.Quote{
		Symbol: sym,
		Name:   qr.CompanyName,
		Price:  qr.LatestPrice,
	}, nil
}
