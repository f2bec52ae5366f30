package market

import (
	"context"
	"time"

	"perpbot/internal/signal"
	"perpbot/pkg/cache"
)

// CachedSource serves prices from the stream-fed cache when they are fresh
// enough and falls back to the wrapped source otherwise. Candle lookups
// always go through.
type CachedSource struct {
	inner  Source
	prices *cache.PriceCache
	maxAge time.Duration
}

// NewCachedSource wraps inner with the given cache. maxAge bounds how stale
// a cached price may be before a REST lookup happens instead.
func NewCachedSource(inner Source, prices *cache.PriceCache, maxAge time.Duration) *CachedSource {
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return &CachedSource{inner: inner, prices: prices, maxAge: maxAge}
}

func (s *CachedSource) Price(ctx context.Context, asset string) (float64, error) {
	if price, ok := s.prices.GetFresh(asset, s.maxAge); ok {
		return price, nil
	}
	price, err := s.inner.Price(ctx, asset)
	if err != nil {
		return 0, err
	}
	s.prices.Set(asset, price)
	return price, nil
}

func (s *CachedSource) Candles(ctx context.Context, asset, interval string, limit int) ([]signal.Candle, error) {
	return s.inner.Candles(ctx, asset, interval, limit)
}
