package gateway

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"perpbot/internal/risk"
)

// PriceFunc supplies the current mark price for an asset.
type PriceFunc func(ctx context.Context, asset string) (float64, error)

// PaperGateway simulates a one-way-mode futures account in memory. Market
// orders fill immediately at the supplied mark price; opposite-side orders
// net against the open position and realize P/L into the wallet balance.
type PaperGateway struct {
	mu        sync.RWMutex
	balance   float64
	positions map[string]*Position
	limits    SymbolLimits
	price     PriceFunc
}

// NewPaperGateway builds a paper venue with the given starting balance.
func NewPaperGateway(initialBalance float64, limits SymbolLimits, price PriceFunc) *PaperGateway {
	return &PaperGateway{
		balance:   initialBalance,
		positions: make(map[string]*Position),
		limits:    limits,
		price:     price,
	}
}

// FetchPositions returns the simulated open positions.
func (g *PaperGateway) FetchPositions(ctx context.Context) ([]Position, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Position, 0, len(g.positions))
	for _, p := range g.positions {
		out = append(out, *p)
	}
	return out, nil
}

// PlaceMarketOrder fills at the current mark price. Same-side orders grow
// the position at a volume-weighted entry; opposite-side orders reduce it,
// flipping when the order exceeds the open size.
func (g *PaperGateway) PlaceMarketOrder(ctx context.Context, asset string, side risk.Side, size float64) (*Fill, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: unknown side %q", ErrOrderRejected, side)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %v", ErrOrderRejected, size)
	}

	price, err := g.price(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("paper fill price: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[asset]
	switch {
	case !ok:
		g.positions[asset] = &Position{Asset: asset, Side: side, Size: size, EntryPrice: price}
	case pos.Side == side:
		total := pos.Size + size
		pos.EntryPrice = (pos.EntryPrice*pos.Size + price*size) / total
		pos.Size = total
	default:
		closed := min(size, pos.Size)
		pnl := closed * (price - pos.EntryPrice)
		if pos.Side == risk.SideShort {
			pnl = -pnl
		}
		g.balance += pnl
		log.Printf("[paper] %s reduce %.6f @ %.2f pnl=%.2f", asset, closed, price, pnl)

		switch remainder := size - pos.Size; {
		case remainder > 0:
			g.positions[asset] = &Position{Asset: asset, Side: side, Size: remainder, EntryPrice: price}
		case pos.Size-closed > 0:
			pos.Size -= closed
		default:
			delete(g.positions, asset)
		}
	}

	return &Fill{
		OrderID: uuid.NewString(),
		Asset:   asset,
		Side:    side,
		Price:   price,
		Size:    size,
		Time:    time.Now(),
	}, nil
}

// AccountSummary reports the simulated wallet.
func (g *PaperGateway) AccountSummary(ctx context.Context) (*AccountSummary, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var used float64
	for _, p := range g.positions {
		used += p.Size * p.EntryPrice
	}
	avail := g.balance - used
	if avail < 0 {
		avail = 0
	}
	return &AccountSummary{TotalCapital: g.balance, AvailableCapital: avail, UsedCapital: used}, nil
}

// SymbolLimits returns the configured simulated limits.
func (g *PaperGateway) SymbolLimits(ctx context.Context, asset string) (*SymbolLimits, error) {
	l := g.limits
	return &l, nil
}
