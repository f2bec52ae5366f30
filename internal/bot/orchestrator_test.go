package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"perpbot/internal/events"
	"perpbot/internal/gateway"
	"perpbot/internal/ledger"
	"perpbot/internal/monitor"
	"perpbot/internal/risk"
	"perpbot/internal/signal"
)

type fakeGateway struct {
	mu        sync.Mutex
	positions []gateway.Position
	orders    []placedOrder
	summary   gateway.AccountSummary
	limits    gateway.SymbolLimits
	fillPrice float64
	orderErr  error
}

type placedOrder struct {
	asset string
	side  risk.Side
	size  float64
}

func (f *fakeGateway) FetchPositions(ctx context.Context) ([]gateway.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Position, len(f.positions))
	copy(out, f.positions)
	return out, nil
}

func (f *fakeGateway) PlaceMarketOrder(ctx context.Context, asset string, side risk.Side, size float64) (*gateway.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.orders = append(f.orders, placedOrder{asset: asset, side: side, size: size})

	// Net against the venue position like a one-way futures account.
	for i, p := range f.positions {
		if p.Asset == asset && p.Side != side {
			f.positions = append(f.positions[:i], f.positions[i+1:]...)
			break
		}
	}
	return &gateway.Fill{OrderID: "t-1", Asset: asset, Side: side, Price: f.fillPrice, Size: size, Time: time.Now()}, nil
}

func (f *fakeGateway) AccountSummary(ctx context.Context) (*gateway.AccountSummary, error) {
	s := f.summary
	return &s, nil
}

func (f *fakeGateway) SymbolLimits(ctx context.Context, asset string) (*gateway.SymbolLimits, error) {
	l := f.limits
	return &l, nil
}

func (f *fakeGateway) placedOrders() []placedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]placedOrder, len(f.orders))
	copy(out, f.orders)
	return out
}

type fakeSource struct {
	price   float64
	candles []signal.Candle
}

func (f *fakeSource) Price(ctx context.Context, asset string) (float64, error) {
	return f.price, nil
}

func (f *fakeSource) Candles(ctx context.Context, asset, interval string, limit int) ([]signal.Candle, error) {
	return f.candles, nil
}

type fakeGenerator struct {
	result signal.Result
}

func (f *fakeGenerator) Analyze(candles []signal.Candle) (*signal.Result, error) {
	r := f.result
	return &r, nil
}

func flatCandles(n int, close float64) []signal.Candle {
	out := make([]signal.Candle, n)
	for i := range out {
		out[i] = signal.Candle{Close: close, Open: close, High: close, Low: close}
	}
	return out
}

func newTestBot(t *testing.T, gw *fakeGateway, src *fakeSource, gen *fakeGenerator) (*Orchestrator, *ledger.Ledger) {
	t.Helper()
	engine, err := risk.NewEngine(risk.DefaultParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	book := ledger.New(gw, ledger.DefaultConfig())
	o, err := New(Config{Asset: "BTCUSDT"}, Deps{
		Engine:  engine,
		Ledger:  book,
		Gateway: gw,
		Market:  src,
		Signals: gen,
		Bus:     events.NewBus(),
		Metrics: monitor.NewSystemMetrics(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, book
}

func TestStartStopIdempotent(t *testing.T) {
	gw := &fakeGateway{summary: gateway.AccountSummary{TotalCapital: 1000}, fillPrice: 100, limits: gateway.SymbolLimits{MinOrderSize: 0.001, StepSize: 0.001}}
	src := &fakeSource{price: 100, candles: flatCandles(30, 100)}
	gen := &fakeGenerator{result: signal.Result{Action: signal.ActionNone, Reason: "quiet"}}
	o, _ := newTestBot(t, gw, src, gen)

	if o.Running() {
		t.Fatal("must start stopped")
	}
	o.Start()
	o.Start() // warned no-op
	if !o.Running() {
		t.Fatal("should be running")
	}

	o.Stop()
	if o.Running() {
		t.Fatal("should be stopped")
	}
	o.Stop() // warned no-op
}

func TestMonitoringClosesTriggeredPosition(t *testing.T) {
	// Venue shows a LONG from 100; price at 99 is -5% at 5x leverage,
	// past the 1.25% stop.
	gw := &fakeGateway{
		positions: []gateway.Position{{Asset: "BTCUSDT", Side: risk.SideLong, Size: 0.5, EntryPrice: 100}},
		summary:   gateway.AccountSummary{TotalCapital: 1000},
		fillPrice: 99,
	}
	src := &fakeSource{price: 99}
	gen := &fakeGenerator{}
	o, book := newTestBot(t, gw, src, gen)

	o.RunCycle(context.Background())

	orders := gw.placedOrders()
	if len(orders) != 1 {
		t.Fatalf("want 1 closing order, got %d", len(orders))
	}
	if orders[0].side != risk.SideShort || orders[0].size != 0.5 {
		t.Fatalf("close must be opposite side full size: %+v", orders[0])
	}
	if len(book.Positions()) != 0 {
		t.Fatalf("ledger should be flat: %+v", book.Positions())
	}
	if book.ReservedCapital() != 0 {
		t.Fatalf("reserved should be freed, got %v", book.ReservedCapital())
	}
	if o.State() != StateMonitoring {
		t.Fatalf("cycle state: %v", o.State())
	}
}

func TestSeekingOpensOnBuySignal(t *testing.T) {
	gw := &fakeGateway{
		summary:   gateway.AccountSummary{TotalCapital: 10000},
		fillPrice: 100,
		limits:    gateway.SymbolLimits{MinOrderSize: 0.001, StepSize: 0.001},
	}
	src := &fakeSource{price: 100, candles: flatCandles(30, 100)}
	gen := &fakeGenerator{result: signal.Result{Action: signal.ActionBuy, Reason: "oversold"}}
	o, book := newTestBot(t, gw, src, gen)

	o.RunCycle(context.Background())

	orders := gw.placedOrders()
	if len(orders) != 1 {
		t.Fatalf("want 1 opening order, got %d", len(orders))
	}
	// available 10000 at 5x leverage over price 100.
	if orders[0].side != risk.SideLong || orders[0].size != 500 {
		t.Fatalf("unexpected order: %+v", orders[0])
	}

	pos, ok := book.Position("BTCUSDT")
	if !ok {
		t.Fatal("position should be registered")
	}
	if pos.Levels.StopLossPrice == 0 || pos.Levels.TakeProfitPrice == 0 {
		t.Fatalf("risk levels must be set on open: %+v", pos.Levels)
	}
	if o.State() != StateMonitoring {
		t.Fatalf("open must transition to monitoring, got %v", o.State())
	}
}

func TestSeekingSkipsInvalidSize(t *testing.T) {
	gw := &fakeGateway{
		summary:   gateway.AccountSummary{TotalCapital: 1}, // 5x over price 100 -> size 0.05
		fillPrice: 100,
		limits:    gateway.SymbolLimits{MinOrderSize: 0.1, StepSize: 0.001},
	}
	src := &fakeSource{price: 100, candles: flatCandles(30, 100)}
	gen := &fakeGenerator{result: signal.Result{Action: signal.ActionBuy, Reason: "oversold"}}
	o, book := newTestBot(t, gw, src, gen)

	o.RunCycle(context.Background())

	if len(gw.placedOrders()) != 0 {
		t.Fatalf("no order must be sent for an invalid size: %+v", gw.placedOrders())
	}
	if len(book.Positions()) != 0 {
		t.Fatal("ledger must stay flat")
	}
	if o.Status().LastError == "" {
		t.Fatal("status should surface the invalid-size skip")
	}
}

func TestRejectedOrderLeavesStateUntouched(t *testing.T) {
	gw := &fakeGateway{
		summary:   gateway.AccountSummary{TotalCapital: 10000},
		fillPrice: 100,
		limits:    gateway.SymbolLimits{MinOrderSize: 0.001, StepSize: 0.001},
		orderErr:  gateway.ErrOrderRejected,
	}
	src := &fakeSource{price: 100, candles: flatCandles(30, 100)}
	gen := &fakeGenerator{result: signal.Result{Action: signal.ActionSell, Reason: "overbought"}}
	o, book := newTestBot(t, gw, src, gen)

	o.RunCycle(context.Background())

	if len(book.Positions()) != 0 || book.ReservedCapital() != 0 {
		t.Fatalf("rejected order must not register anything: %+v reserved=%v", book.Positions(), book.ReservedCapital())
	}
}

func TestManualClose(t *testing.T) {
	gw := &fakeGateway{
		positions: []gateway.Position{{Asset: "BTCUSDT", Side: risk.SideShort, Size: 0.2, EntryPrice: 100}},
		summary:   gateway.AccountSummary{TotalCapital: 1000},
		fillPrice: 100,
	}
	src := &fakeSource{price: 100}
	gen := &fakeGenerator{}
	o, book := newTestBot(t, gw, src, gen)

	if err := o.ManualClose(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("ManualClose: %v", err)
	}
	if len(book.Positions()) != 0 {
		t.Fatal("position should be closed")
	}
	orders := gw.placedOrders()
	if len(orders) != 1 || orders[0].side != risk.SideLong {
		t.Fatalf("short close must buy back: %+v", orders)
	}

	if err := o.ManualClose(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("second manual close must fail")
	}
}

func TestSetIntervalsFloorAndRunningGuard(t *testing.T) {
	gw := &fakeGateway{summary: gateway.AccountSummary{TotalCapital: 1000}, fillPrice: 100}
	src := &fakeSource{price: 100, candles: flatCandles(30, 100)}
	gen := &fakeGenerator{result: signal.Result{Action: signal.ActionNone}}
	o, _ := newTestBot(t, gw, src, gen)

	if err := o.SetIntervals(time.Second, time.Second); err != nil {
		t.Fatalf("SetIntervals: %v", err)
	}
	st := o.Status()
	if st.PositionCheckInterval != MinPollInterval.String() || st.AnalysisInterval != MinPollInterval.String() {
		t.Fatalf("intervals must be floored to %s: %+v", MinPollInterval, st)
	}

	o.Start()
	defer o.Stop()
	if err := o.SetIntervals(time.Minute, time.Minute); err == nil {
		t.Fatal("interval change while running must be rejected")
	}
	if err := o.UpdateRiskParams(risk.DefaultParams()); err == nil {
		t.Fatal("risk param change while running must be rejected")
	}
}
