package gateway

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"perpbot/internal/risk"
)

const fetchAttempts = 3

// FuturesGateway drives a real Binance USD-M futures account. Requests pass
// through a shared rate limiter so polling loops stay inside venue limits.
type FuturesGateway struct {
	client  *futures.Client
	limiter *rate.Limiter

	mu     sync.Mutex
	limits map[string]SymbolLimits
}

// NewFuturesGateway builds a live gateway. testnet switches go-binance to
// the futures testnet endpoints.
func NewFuturesGateway(apiKey, apiSecret string, testnet bool) *FuturesGateway {
	if testnet {
		futures.UseTestnet = true
	}
	return &FuturesGateway{
		client:  futures.NewClient(apiKey, apiSecret),
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		limits:  make(map[string]SymbolLimits),
	}
}

// FetchPositions returns non-flat venue positions. Transient fetch errors
// are retried with backoff; malformed rows are skipped with a warning.
func (g *FuturesGateway) FetchPositions(ctx context.Context) ([]Position, error) {
	b := &backoff.Backoff{Min: 250 * time.Millisecond, Max: 2 * time.Second, Jitter: true}

	var risks []*futures.PositionRisk
	var err error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if err = g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		risks, err = g.client.NewGetPositionRiskService().Do(ctx)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	out := make([]Position, 0, len(risks))
	for _, r := range risks {
		amt, aerr := strconv.ParseFloat(r.PositionAmt, 64)
		entry, eerr := strconv.ParseFloat(r.EntryPrice, 64)
		if aerr != nil || eerr != nil || r.Symbol == "" {
			log.Printf("[gateway] skipping malformed position row: %+v", r)
			continue
		}
		if amt == 0 {
			continue
		}
		side := risk.SideLong
		if amt < 0 {
			side = risk.SideShort
		}
		out = append(out, Position{
			Asset:      r.Symbol,
			Side:       side,
			Size:       math.Abs(amt),
			EntryPrice: entry,
		})
	}
	return out, nil
}

// PlaceMarketOrder sends a MARKET order and reports the average fill.
func (g *FuturesGateway) PlaceMarketOrder(ctx context.Context, asset string, side risk.Side, size float64) (*Fill, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	orderSide := futures.SideTypeBuy
	if side == risk.SideShort {
		orderSide = futures.SideTypeSell
	}
	res, err := g.client.NewCreateOrderService().
		Symbol(asset).
		Side(orderSide).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(size, 'f', -1, 64)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
	return fillFromResponse(res, asset, side, size)
}

// fillFromResponse converts an accepted order response into a Fill. A
// malformed average price is an error, not a zero fill price; the order
// executed, so the caller must treat it as transient and reconcile.
func fillFromResponse(res *futures.CreateOrderResponse, asset string, side risk.Side, size float64) (*Fill, error) {
	price, err := strconv.ParseFloat(res.AvgPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("order %d: malformed avg price %q: %v", res.OrderID, res.AvgPrice, err)
	}
	filled, err := strconv.ParseFloat(res.ExecutedQuantity, 64)
	if err != nil || filled == 0 {
		filled = size
	}
	return &Fill{
		OrderID: strconv.FormatInt(res.OrderID, 10),
		Asset:   asset,
		Side:    side,
		Price:   price,
		Size:    filled,
		Time:    time.Now(),
	}, nil
}

// AccountSummary reports USDT wallet balances from the futures account.
func (g *FuturesGateway) AccountSummary(ctx context.Context) (*AccountSummary, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	acct, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("account summary: %w", err)
	}

	total, terr := strconv.ParseFloat(acct.TotalWalletBalance, 64)
	avail, aerr := strconv.ParseFloat(acct.AvailableBalance, 64)
	if terr != nil || aerr != nil {
		return nil, fmt.Errorf("malformed account balances %q/%q", acct.TotalWalletBalance, acct.AvailableBalance)
	}
	used := total - avail
	if used < 0 {
		used = 0
	}
	return &AccountSummary{TotalCapital: total, AvailableCapital: avail, UsedCapital: used}, nil
}

// SymbolLimits fetches and caches the LOT_SIZE filter for asset.
func (g *FuturesGateway) SymbolLimits(ctx context.Context, asset string) (*SymbolLimits, error) {
	g.mu.Lock()
	if l, ok := g.limits[asset]; ok {
		g.mu.Unlock()
		return &l, nil
	}
	g.mu.Unlock()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != asset {
			continue
		}
		f := s.LotSizeFilter()
		if f == nil {
			break
		}
		minQty, _ := strconv.ParseFloat(f.MinQuantity, 64)
		step, _ := strconv.ParseFloat(f.StepSize, 64)
		l := SymbolLimits{MinOrderSize: minQty, StepSize: step}
		g.mu.Lock()
		g.limits[asset] = l
		g.mu.Unlock()
		return &l, nil
	}
	return nil, fmt.Errorf("no lot size filter for %s", asset)
}
