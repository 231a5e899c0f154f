//go:build integration

package quote_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/finance/internal/quote"
	"github.com/papertrade/finance/internal/testing/containers"
)

func TestCachedProvider(t *testing.T) {
	ctx := context.Background()
	rdb := containers.Redis(ctx, t)

	t.Run("hit until ttl expires", func(t *testing.T) {
		upstream := quote.NewStaticProvider(map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(150)})
		p := quote.NewCachedProvider(upstream, rdb, time.Second)

		q, err := p.Lookup(ctx, "AAPL")
		if err != nil || !q.Price.Equal(decimal.NewFromInt(150)) {
			t.Fatalf("expected AAPL 150, got %+v, %v", q, err)
		}

		upstream.Set("AAPL", decimal.NewFromInt(160))
		q, err = p.Lookup(ctx, "AAPL")
		if err != nil || !q.Price.Equal(decimal.NewFromInt(150)) {
			t.Errorf("expected cached AAPL 150, got %+v, %v", q, err)
		}

		time.Sleep(1500 * time.Millisecond)
		q, err = p.Lookup(ctx, "AAPL")
		if err != nil || !q.Price.Equal(decimal.NewFromInt(160)) {
			t.Errorf("expected AAPL 160 after expiry, got %+v, %v", q, err)
		}
	})

	t.Run("failures are not cached", func(t *testing.T) {
		upstream := quote.NewStaticProvider(map[string]decimal.Decimal{})
		p := quote.NewCachedProvider(upstream, rdb, time.Minute)

		if _, err := p.Lookup(ctx, "MSFT"); !errors.Is(err, quote.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if n, _ := rdb.Exists(ctx, "quote:MSFT").Result(); n != 0 {
			t.Error("expected no cache entry for a missing symbol")
		}

		upstream.Fail(quote.ErrUnavailable)
		if _, err := p.Lookup(ctx, "MSFT"); !errors.Is(err, quote.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
		upstream.Fail(nil)

		upstream.Set("MSFT", decimal.NewFromInt(400))
		q, err := p.Lookup(ctx, "MSFT")
		if err != nil || !q.Price.Equal(decimal.NewFromInt(400)) {
			t.Errorf("expected MSFT 400 once listed, got %+v, %v", q, err)
		}
	})
}
