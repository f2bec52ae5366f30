package risk

import "fmt"

// Side identifies position direction.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Opposite returns the closing side for s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// CloseReason explains why a position should be (or was) closed.
type CloseReason string

const (
	ReasonNone         CloseReason = ""
	ReasonStopLoss     CloseReason = "STOP_LOSS"
	ReasonTakeProfit   CloseReason = "TAKE_PROFIT"
	ReasonTrailingStop CloseReason = "TRAILING_STOP"
	ReasonManual       CloseReason = "MANUAL"
)

// Levels holds the per-position risk-control state. TrailingLevelPnL is nil
// until the trailing stop arms; once set it only ever moves upward.
type Levels struct {
	StopLossPrice           float64  `json:"stop_loss_price"`
	TakeProfitPrice         float64  `json:"take_profit_price"`
	TrailingActivationPrice float64  `json:"trailing_activation_price"`
	TrailingActive          bool     `json:"trailing_active"`
	TrailingLevelPnL        *float64 `json:"trailing_level_pnl,omitempty"`
}

// Params defines the percentage risk parameters. All percentages are
// expressed as leveraged operation P/L, not raw price change.
type Params struct {
	StopLossPct           float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct         float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	TrailingActivationPct float64 `json:"trailing_activation_pct" yaml:"trailing_activation_pct"`
	TrailingDistancePct   float64 `json:"trailing_distance_pct" yaml:"trailing_distance_pct"`
	Leverage              float64 `json:"leverage" yaml:"leverage"`
}

// DefaultParams returns the stock risk configuration.
func DefaultParams() Params {
	return Params{
		StopLossPct:           1.25,
		TakeProfitPct:         2.5,
		TrailingActivationPct: 1.5,
		TrailingDistancePct:   1.5,
		Leverage:              5,
	}
}

// Validate rejects parameter sets the engine cannot operate with.
func (p Params) Validate() error {
	if p.Leverage <= 0 {
		return fmt.Errorf("leverage must be positive, got %v", p.Leverage)
	}
	if p.StopLossPct <= 0 {
		return fmt.Errorf("stop_loss_pct must be positive, got %v", p.StopLossPct)
	}
	if p.TakeProfitPct <= 0 {
		return fmt.Errorf("take_profit_pct must be positive, got %v", p.TakeProfitPct)
	}
	if p.TrailingActivationPct <= 0 {
		return fmt.Errorf("trailing_activation_pct must be positive, got %v", p.TrailingActivationPct)
	}
	if p.TrailingDistancePct <= 0 {
		return fmt.Errorf("trailing_distance_pct must be positive, got %v", p.TrailingDistancePct)
	}
	return nil
}
