package risk

import (
	"math"
	"testing"
)

func newTestEngine(t *testing.T, p Params) *Engine {
	t.Helper()
	e, err := NewEngine(p)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestPriceFromOperationPnLRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		side     Side
		pnlPct   float64
		leverage float64
	}{
		{"long gain", 100, SideLong, 2.5, 5},
		{"long loss", 100, SideLong, -1.25, 5},
		{"short gain", 43250.5, SideShort, 3.0, 10},
		{"short loss", 43250.5, SideShort, -2.0, 10},
		{"leverage 1", 250, SideLong, 5, 1},
		{"tiny pct", 0.0731, SideShort, 0.1, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price := PriceFromOperationPnL(tt.entry, tt.side, tt.pnlPct, tt.leverage)
			got := OperationPnLPct(tt.entry, price, tt.side, tt.leverage)
			if math.Abs(got-tt.pnlPct) > 1e-6 {
				t.Fatalf("round trip: want %.6f, got %.6f (price=%.6f)", tt.pnlPct, got, price)
			}
		})
	}
}

func TestOperationPnLPct(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		current  float64
		side     Side
		leverage float64
		want     float64
	}{
		{"long up 1pct at 5x", 100, 101, SideLong, 5, 5},
		{"long down 1pct at 5x", 100, 99, SideLong, 5, -5},
		{"short down 1pct at 5x", 100, 99, SideShort, 5, (100.0/99 - 1) * 100 * 5},
		{"flat", 100, 100, SideShort, 7, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OperationPnLPct(tt.entry, tt.current, tt.side, tt.leverage)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("want %.9f, got %.9f", tt.want, got)
			}
		})
	}
}

func TestNewLevelsStopScenario(t *testing.T) {
	// entry=100 LONG at 5x with 1.25% stop loss: stop price 99.6875.
	e := newTestEngine(t, Params{
		StopLossPct:           1.25,
		TakeProfitPct:         2.5,
		TrailingActivationPct: 1.5,
		TrailingDistancePct:   1.5,
		Leverage:              5,
	})
	lv := e.NewLevels(100, SideLong)
	if math.Abs(lv.StopLossPrice-99.6875) > 1e-9 {
		t.Fatalf("stop loss price: want 99.6875, got %v", lv.StopLossPrice)
	}
	if lv.TrailingActive || lv.TrailingLevelPnL != nil {
		t.Fatalf("trailing must start disarmed: %+v", lv)
	}

	close, reason := e.CheckTriggers(&lv, 100, 99.68, SideLong)
	if !close || reason != ReasonStopLoss {
		t.Fatalf("at 99.68 want STOP_LOSS close, got close=%v reason=%q", close, reason)
	}
}

func TestCheckTriggersOrdering(t *testing.T) {
	e := newTestEngine(t, DefaultParams())

	tests := []struct {
		name    string
		side    Side
		current float64
		close   bool
		reason  CloseReason
	}{
		{"long stop", SideLong, 99.0, true, ReasonStopLoss},
		{"long take profit", SideLong, 100.6, true, ReasonTakeProfit},
		{"long hold", SideLong, 100.1, false, ReasonNone},
		{"short stop", SideShort, 101.0, true, ReasonStopLoss},
		{"short take profit", SideShort, 99.4, true, ReasonTakeProfit},
		{"short hold", SideShort, 99.9, false, ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lv := e.NewLevels(100, tt.side)
			close, reason := e.CheckTriggers(&lv, 100, tt.current, tt.side)
			if close != tt.close || reason != tt.reason {
				t.Fatalf("want close=%v reason=%q, got close=%v reason=%q", tt.close, tt.reason, close, reason)
			}
		})
	}
}

func TestTrailingStopArmsOnceAndRatchets(t *testing.T) {
	e := newTestEngine(t, Params{
		StopLossPct:           5,
		TakeProfitPct:         50,
		TrailingActivationPct: 1.5,
		TrailingDistancePct:   1.5,
		Leverage:              5,
	})
	lv := e.NewLevels(100, SideLong)

	// Below activation: nothing happens.
	if close, _ := e.CheckTriggers(&lv, 100, 100.1, SideLong); close || lv.TrailingActive {
		t.Fatalf("must not arm below activation: %+v", lv)
	}

	// Crosses activation (pnl=2.5%): arms, no close this cycle.
	close, _ := e.CheckTriggers(&lv, 100, 100.5, SideLong)
	if close {
		t.Fatal("arming cycle must not close")
	}
	if !lv.TrailingActive || lv.TrailingLevelPnL == nil {
		t.Fatalf("trailing must be armed: %+v", lv)
	}
	if got := *lv.TrailingLevelPnL; math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("armed level: want 1.0, got %v", got)
	}

	// Rising pnl samples: level must never decrease.
	prev := *lv.TrailingLevelPnL
	for _, price := range []float64{100.6, 100.8, 101.2, 101.5} {
		if close, _ := e.CheckTriggers(&lv, 100, price, SideLong); close {
			t.Fatalf("rising price must not close at %v", price)
		}
		if *lv.TrailingLevelPnL < prev {
			t.Fatalf("trailing level decreased: %v -> %v", prev, *lv.TrailingLevelPnL)
		}
		prev = *lv.TrailingLevelPnL
	}

	// Pullback below the ratcheted level closes with TRAILING_STOP.
	// Level is now 7.5-1.5=6.0 pnl pct; price 101.1 -> pnl 5.5.
	close, reason := e.CheckTriggers(&lv, 100, 101.1, SideLong)
	if !close || reason != ReasonTrailingStop {
		t.Fatalf("want TRAILING_STOP close, got close=%v reason=%q", close, reason)
	}
	if *lv.TrailingLevelPnL < prev {
		t.Fatalf("pullback must not relax level: %v -> %v", prev, *lv.TrailingLevelPnL)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{"defaults ok", func(*Params) {}, false},
		{"zero leverage", func(p *Params) { p.Leverage = 0 }, true},
		{"negative stop", func(p *Params) { p.StopLossPct = -1 }, true},
		{"zero take profit", func(p *Params) { p.TakeProfitPct = 0 }, true},
		{"zero trailing distance", func(p *Params) { p.TrailingDistancePct = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}
