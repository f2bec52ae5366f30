package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"perpbot/internal/events"
	"perpbot/pkg/cache"
)

// Stream subscribes to the public kline websocket and publishes close
// prices to the event bus. It reconnects with backoff until the context is
// cancelled; the trading loop does not depend on it, so gaps are harmless.
type Stream struct {
	bus      *events.Bus
	asset    string
	interval string
	url      string
	dialer   *websocket.Dialer
	prices   *cache.PriceCache
}

// NewStream builds a kline stream publisher; testnet toggles the host.
func NewStream(bus *events.Bus, asset, interval string, testnet bool) *Stream {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	stream := fmt.Sprintf("%s@kline_%s", strings.ToLower(asset), interval)
	u := url.URL{Scheme: "wss", Host: host, Path: "/ws/" + stream}
	return &Stream{
		bus:      bus,
		asset:    asset,
		interval: interval,
		url:      u.String(),
		dialer:   websocket.DefaultDialer,
	}
}

// WithPriceCache makes the stream record every tick into prices.
func (s *Stream) WithPriceCache(prices *cache.PriceCache) *Stream {
	s.prices = prices
	return s
}

// Start runs the stream until ctx is cancelled.
func (s *Stream) Start(ctx context.Context) {
	go func() {
		b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Jitter: true}
		for {
			if err := s.run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[market] stream %s: %v", s.asset, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.Duration()):
			}
		}
	}()
}

func (s *Stream) run(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial kline ws: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return fmt.Errorf("read kline ws: %w", err)
		}

		tick, err := parseKlineTick(msg)
		if err != nil {
			log.Printf("[market] kline parse: %v", err)
			continue
		}
		if s.prices != nil {
			s.prices.Set(tick.Asset, tick.Price)
		}
		s.bus.Publish(events.EventPriceTick, tick)
	}
}

func parseKlineTick(msg []byte) (events.PriceTick, error) {
	var payload struct {
		EventTime int64 `json:"E"`
		Kline     struct {
			Symbol string `json:"s"`
			Close  string `json:"c"`
		} `json:"k"`
	}
	if err := json.Unmarshal(msg, &payload); err != nil {
		return events.PriceTick{}, err
	}
	price, err := strconv.ParseFloat(payload.Kline.Close, 64)
	if err != nil {
		return events.PriceTick{}, fmt.Errorf("close price %q: %w", payload.Kline.Close, err)
	}
	return events.PriceTick{
		Asset: payload.Kline.Symbol,
		Price: price,
		Time:  time.UnixMilli(payload.EventTime),
	}, nil
}
