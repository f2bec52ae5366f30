package market

import (
	"context"
	"testing"
	"time"

	"perpbot/internal/signal"
	"perpbot/pkg/cache"
)

type countingSource struct {
	price float64
	calls int
}

func (s *countingSource) Price(ctx context.Context, asset string) (float64, error) {
	s.calls++
	return s.price, nil
}

func (s *countingSource) Candles(ctx context.Context, asset, interval string, limit int) ([]signal.Candle, error) {
	return nil, nil
}

func TestCachedSourcePrefersFreshTicks(t *testing.T) {
	inner := &countingSource{price: 123}
	prices := cache.NewPriceCache()
	src := NewCachedSource(inner, prices, time.Minute)

	prices.Set("BTCUSDT", 100)

	got, err := src.Price(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if got != 100 {
		t.Fatalf("price = %v, want cached 100", got)
	}
	if inner.calls != 0 {
		t.Fatalf("inner source called %d times, want 0", inner.calls)
	}
}

func TestCachedSourceFallsBackOnMiss(t *testing.T) {
	inner := &countingSource{price: 123}
	prices := cache.NewPriceCache()
	src := NewCachedSource(inner, prices, time.Minute)

	got, err := src.Price(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if got != 123 || inner.calls != 1 {
		t.Fatalf("got %v after %d calls, want 123 after 1", got, inner.calls)
	}

	// The fallback result is cached for the next lookup.
	if _, err := src.Price(context.Background(), "ETHUSDT"); err != nil {
		t.Fatalf("Price: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("inner source called %d times, want 1", inner.calls)
	}
}

func TestPriceCacheFreshness(t *testing.T) {
	prices := cache.NewPriceCache()
	prices.Set("BTCUSDT", 100)

	if _, ok := prices.GetFresh("BTCUSDT", time.Minute); !ok {
		t.Fatal("fresh entry should be served")
	}
	if _, ok := prices.GetFresh("BTCUSDT", 0); ok {
		t.Fatal("zero max age must never serve")
	}
	if n := prices.Cleanup(0); n != 1 {
		t.Fatalf("Cleanup removed %d, want 1", n)
	}
	if prices.Len() != 0 {
		t.Fatalf("Len = %d, want 0", prices.Len())
	}
}
