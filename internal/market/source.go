// Package market supplies OHLC history and live prices to the trading loop.
package market

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"perpbot/internal/signal"
)

// Source provides candle history and spot-check prices for one venue.
type Source interface {
	Candles(ctx context.Context, asset, interval string, limit int) ([]signal.Candle, error)
	Price(ctx context.Context, asset string) (float64, error)
}

const sourceAttempts = 3

// BinanceSource fetches market data from Binance USD-M futures endpoints.
// Fetches are retried with jittered backoff before the error is surfaced as
// transient to the caller.
type BinanceSource struct {
	client *futures.Client
}

// NewBinanceSource builds a market-data source. Public endpoints only, so
// empty credentials are fine.
func NewBinanceSource(apiKey, apiSecret string, testnet bool) *BinanceSource {
	if testnet {
		futures.UseTestnet = true
	}
	return &BinanceSource{client: futures.NewClient(apiKey, apiSecret)}
}

// Candles fetches the most recent klines for asset.
func (s *BinanceSource) Candles(ctx context.Context, asset, interval string, limit int) ([]signal.Candle, error) {
	var klines []*futures.Kline
	err := retry(ctx, func() error {
		var err error
		klines, err = s.client.NewKlinesService().
			Symbol(asset).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s %s: %w", asset, interval, err)
	}

	out := make([]signal.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := candleFromKline(k)
		if err != nil {
			log.Printf("[market] skipping malformed kline %s: %v", asset, err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func candleFromKline(k *futures.Kline) (signal.Candle, error) {
	var vals [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return signal.Candle{}, fmt.Errorf("field %q: %w", s, err)
		}
		vals[i] = f
	}
	return signal.Candle{
		OpenTime: time.UnixMilli(k.OpenTime),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}

// Price fetches the current mark price for asset.
func (s *BinanceSource) Price(ctx context.Context, asset string) (float64, error) {
	var prices []*futures.SymbolPrice
	err := retry(ctx, func() error {
		var err error
		prices, err = s.client.NewListPricesService().Symbol(asset).Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetch price %s: %w", asset, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price data for %s", asset)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed price %q for %s: %w", prices[0].Price, asset, err)
	}
	return price, nil
}

func retry(ctx context.Context, fn func() error) error {
	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 2 * time.Second, Jitter: true}
	var err error
	for attempt := 0; attempt < sourceAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return err
}
