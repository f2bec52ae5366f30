// Package gateway abstracts the futures venue: order placement, account
// state, and the raw open-position list used for reconciliation.
package gateway

import (
	"context"
	"errors"
	"time"

	"perpbot/internal/risk"
)

// ErrOrderRejected is returned when the venue refuses an order. The caller
// must leave position and capital state untouched.
var ErrOrderRejected = errors.New("order rejected by venue")

// Position is a venue-reported open position, the reconciliation ground
// truth.
type Position struct {
	Asset      string    `json:"asset"`
	Side       risk.Side `json:"side"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
}

// Fill is the outcome of a successfully placed market order.
type Fill struct {
	OrderID string    `json:"order_id"`
	Asset   string    `json:"asset"`
	Side    risk.Side `json:"side"`
	Price   float64   `json:"price"`
	Size    float64   `json:"size"`
	Time    time.Time `json:"time"`
}

// AccountSummary mirrors the venue's view of account equity.
type AccountSummary struct {
	TotalCapital     float64 `json:"total_capital"`
	AvailableCapital float64 `json:"available_capital"`
	UsedCapital      float64 `json:"used_capital"`
}

// SymbolLimits carries the venue's order-size constraints for an asset.
type SymbolLimits struct {
	MinOrderSize float64 `json:"min_order_size"`
	StepSize     float64 `json:"step_size"`
}

// ExchangeGateway is the venue contract the trading core depends on.
// FetchPositions must tolerate and skip malformed venue entries.
type ExchangeGateway interface {
	FetchPositions(ctx context.Context) ([]Position, error)
	PlaceMarketOrder(ctx context.Context, asset string, side risk.Side, size float64) (*Fill, error)
	AccountSummary(ctx context.Context) (*AccountSummary, error)
	SymbolLimits(ctx context.Context, asset string) (*SymbolLimits, error)
}
