package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/finance/internal/model"
)

// CachedProvider wraps a Provider with a Redis read-through cache. Only
// successful lookups are cached; misses and failures always reach the
// upstream provider.
type CachedProvider struct {
	upstream Provider
	rdb      *redis.Client
	ttl      time.Duration
}

// NewCachedProvider creates a cached wrapper around upstream.
func NewCachedProvider(upstream Provider, rdb *redis.Client, ttl time.Duration) *CachedProvider {
	return &CachedProvider{upstream: upstream, rdb: rdb, ttl: ttl}
}

func (p *CachedProvider) Lookup(ctx context.Context, symbol string) (*model.Quote, error) {
	data, err := p.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err == nil {
		var q model.Quote
		if json.Unmarshal(data, &q) == nil && q.Price.IsPositive() {
			return &q, nil
		}
	}

	q, err := p.upstream.Lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(q); err == nil {
		p.rdb.Set(ctx, quoteKey(symbol), data, p.ttl)
	}
	return q, nil
}

func quoteKey(symbol string) string { return fmt.Sprintf("quote:%s", symbol) }
