// Package risk converts configured percentage risk parameters into absolute
// price triggers under leverage and evaluates live breach conditions.
package risk

import (
	"log"
	"sync"
)

// Engine computes and evaluates risk trigger levels. Safe for concurrent use;
// parameter updates are expected only while the trading loop is stopped.
type Engine struct {
	mu     sync.RWMutex
	params Params
}

// NewEngine builds an engine with the given parameters.
func NewEngine(p Params) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{params: p}, nil
}

// Params returns a snapshot of the current parameters.
func (e *Engine) Params() Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

// UpdateParams replaces the parameter set after validation.
func (e *Engine) UpdateParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.params = p
	e.mu.Unlock()
	log.Printf("[risk] params updated: sl=%.2f%% tp=%.2f%% trail=%.2f%%/%.2f%% lev=%.0fx",
		p.StopLossPct, p.TakeProfitPct, p.TrailingActivationPct, p.TrailingDistancePct, p.Leverage)
	return nil
}

// PriceFromOperationPnL returns the price at which a position opened at
// entry reaches the given leveraged P/L percentage. The required raw price
// move is pnlPct/leverage; signed, so a negative pnlPct yields a loss price.
func PriceFromOperationPnL(entry float64, side Side, pnlPct, leverage float64) float64 {
	change := pnlPct / leverage
	if side == SideLong {
		return entry * (1 + change/100)
	}
	return entry * (1 - change/100)
}

// OperationPnLPct returns the leveraged P/L percentage of a position opened
// at entry and marked at current.
func OperationPnLPct(entry, current float64, side Side, leverage float64) float64 {
	var raw float64
	if side == SideLong {
		raw = (current/entry - 1) * 100
	} else {
		raw = (entry/current - 1) * 100
	}
	return raw * leverage
}

// NewLevels computes the initial trigger levels for a freshly opened
// position. The trailing stop starts disarmed.
func (e *Engine) NewLevels(entry float64, side Side) Levels {
	p := e.Params()
	return Levels{
		StopLossPrice:           PriceFromOperationPnL(entry, side, -p.StopLossPct, p.Leverage),
		TakeProfitPrice:         PriceFromOperationPnL(entry, side, p.TakeProfitPct, p.Leverage),
		TrailingActivationPrice: PriceFromOperationPnL(entry, side, p.TrailingActivationPct, p.Leverage),
	}
}

// CheckTriggers evaluates lv against the current price and reports whether
// the position must be closed. Hard limits are checked before the trailing
// ratchet: stop loss, then take profit, then trailing. Mutates lv when the
// trailing stop arms or ratchets.
func (e *Engine) CheckTriggers(lv *Levels, entry, current float64, side Side) (bool, CloseReason) {
	p := e.Params()
	pnl := OperationPnLPct(entry, current, side, p.Leverage)

	if pnl <= -p.StopLossPct {
		return true, ReasonStopLoss
	}
	if pnl >= p.TakeProfitPct {
		return true, ReasonTakeProfit
	}

	if !lv.TrailingActive {
		if pnl >= p.TrailingActivationPct {
			level := pnl - p.TrailingDistancePct
			lv.TrailingActive = true
			lv.TrailingLevelPnL = &level
			log.Printf("[risk] trailing stop armed at pnl=%.2f%% level=%.2f%%", pnl, level)
		}
		return false, ReasonNone
	}

	// Armed: ratchet upward only, then test the floor.
	if candidate := pnl - p.TrailingDistancePct; lv.TrailingLevelPnL == nil || candidate > *lv.TrailingLevelPnL {
		lv.TrailingLevelPnL = &candidate
	}
	if lv.TrailingLevelPnL != nil && pnl <= *lv.TrailingLevelPnL {
		return true, ReasonTrailingStop
	}
	return false, ReasonNone
}
