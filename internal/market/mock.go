package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"perpbot/internal/events"
	"perpbot/internal/signal"
)

// MockSource generates a random-walk price series for paper trading and
// local development. It implements Source and can optionally publish ticks
// to the event bus.
type MockSource struct {
	mu    sync.Mutex
	price float64
	step  float64
	rng   *rand.Rand
}

// NewMockSource builds a mock source starting at startPrice.
func NewMockSource(startPrice, step float64) *MockSource {
	if startPrice <= 0 {
		startPrice = 100
	}
	if step <= 0 {
		step = 0.5
	}
	return &MockSource{
		price: startPrice,
		step:  step,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Price advances the walk one step and returns the new price.
func (m *MockSource) Price(ctx context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price += (m.rng.Float64()*2 - 1) * m.step
	if m.price < m.step {
		m.price = m.step
	}
	return m.price, nil
}

// Candles synthesizes a walk of limit bars ending at the current price.
func (m *MockSource) Candles(ctx context.Context, asset, interval string, limit int) ([]signal.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]signal.Candle, limit)
	price := m.price
	now := time.Now()
	for i := limit - 1; i >= 0; i-- {
		out[i] = signal.Candle{
			OpenTime: now.Add(time.Duration(i-limit) * time.Minute),
			Open:     price,
			High:     price + m.step/2,
			Low:      price - m.step/2,
			Close:    price,
			Volume:   m.rng.Float64() * 100,
		}
		price += (m.rng.Float64()*2 - 1) * m.step
	}
	return out, nil
}

// StartTicker publishes a tick to the bus every interval until ctx ends.
func (m *MockSource) StartTicker(ctx context.Context, bus *events.Bus, asset string, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				price, _ := m.Price(ctx, asset)
				bus.Publish(events.EventPriceTick, events.PriceTick{Asset: asset, Price: price, Time: time.Now()})
			}
		}
	}()
}
