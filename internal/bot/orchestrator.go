// Package bot drives the open/monitor/close state machine. A single worker
// goroutine alternates between monitoring open positions and seeking a new
// entry signal; every position-affecting write funnels through it.
package bot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"perpbot/internal/events"
	"perpbot/internal/gateway"
	"perpbot/internal/ledger"
	"perpbot/internal/market"
	"perpbot/internal/monitor"
	"perpbot/internal/risk"
	"perpbot/internal/signal"
	"perpbot/pkg/db"
)

// State is the loop's steady state for the configured asset.
type State string

const (
	StateIdle       State = "IDLE"
	StateMonitoring State = "MONITORING"
	StateSeeking    State = "SEEKING"
)

// MinPollInterval bounds polling aggressiveness against venue rate limits.
const MinPollInterval = 10 * time.Second

// Config tunes the trading loop.
type Config struct {
	Asset                 string
	CandleInterval        string
	CandleLimit           int
	PositionCheckInterval time.Duration
	AnalysisInterval      time.Duration
	ErrorCooldown         time.Duration
	StopTimeout           time.Duration
	InstanceID            string
}

func (c *Config) normalize() {
	if c.Asset == "" {
		c.Asset = "BTCUSDT"
	}
	if c.CandleInterval == "" {
		c.CandleInterval = "1m"
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 100
	}
	if c.PositionCheckInterval == 0 {
		c.PositionCheckInterval = 30 * time.Second
	}
	if c.AnalysisInterval == 0 {
		c.AnalysisInterval = 30 * time.Second
	}
	if c.PositionCheckInterval < MinPollInterval {
		c.PositionCheckInterval = MinPollInterval
	}
	if c.AnalysisInterval < MinPollInterval {
		c.AnalysisInterval = MinPollInterval
	}
	if c.ErrorCooldown <= 0 {
		c.ErrorCooldown = 30 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
}

// Deps wires the orchestrator's collaborators. Store and Metrics are
// optional; everything else is required.
type Deps struct {
	Engine  *risk.Engine
	Ledger  *ledger.Ledger
	Gateway gateway.ExchangeGateway
	Market  market.Source
	Signals signal.Generator
	Bus     *events.Bus
	Store   *db.Database
	Metrics *monitor.SystemMetrics
}

// Orchestrator owns the trading loop.
type Orchestrator struct {
	cfg     Config
	engine  *risk.Engine
	book    *ledger.Ledger
	gw      gateway.ExchangeGateway
	source  market.Source
	gen     signal.Generator
	bus     *events.Bus
	store   *db.Database
	metrics *monitor.SystemMetrics

	// tradeMu serializes the cycle body with manual closes so all
	// position-affecting writes stay single-threaded.
	tradeMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	state   State
	lastErr string
}

// New builds an orchestrator. The configuration is normalized: intervals
// get the 10s floor and zero values fall back to defaults.
func New(cfg Config, d Deps) (*Orchestrator, error) {
	cfg.normalize()
	if d.Engine == nil || d.Ledger == nil || d.Gateway == nil || d.Market == nil || d.Signals == nil || d.Bus == nil {
		return nil, fmt.Errorf("orchestrator: missing required dependency")
	}
	if d.Metrics == nil {
		d.Metrics = monitor.NewSystemMetrics()
	}
	return &Orchestrator{
		cfg:     cfg,
		engine:  d.Engine,
		book:    d.Ledger,
		gw:      d.Gateway,
		source:  d.Market,
		gen:     d.Signals,
		bus:     d.Bus,
		store:   d.Store,
		metrics: d.Metrics,
		state:   StateIdle,
	}, nil
}

// Start launches the worker goroutine. Starting an already running bot is
// a warned no-op.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		log.Printf("[bot] start ignored: already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true
	o.state = StateSeeking

	go o.run(ctx, o.done)
	o.bus.Publish(events.EventBotState, events.StateChange{Running: true, State: string(StateSeeking)})
	log.Printf("[bot] started: asset=%s check=%s analysis=%s", o.cfg.Asset, o.cfg.PositionCheckInterval, o.cfg.AnalysisInterval)
}

// Stop requests cooperative shutdown and waits up to StopTimeout for the
// worker to exit. On timeout the worker reference is dropped regardless;
// shutdown is best effort, not a forceful kill. Stopping a stopped bot is
// a warned no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		log.Printf("[bot] stop ignored: not running")
		return
	}
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(o.cfg.StopTimeout):
		log.Printf("[bot] worker did not exit within %s, detaching", o.cfg.StopTimeout)
	}

	o.mu.Lock()
	o.running = false
	o.cancel = nil
	o.done = nil
	o.state = StateIdle
	o.mu.Unlock()

	o.bus.Publish(events.EventBotState, events.StateChange{Running: false, State: string(StateIdle)})
	log.Printf("[bot] stopped")
}

// Running reports whether the worker is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// State returns the loop's current steady state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	changed := o.state != s
	o.state = s
	o.mu.Unlock()
	if changed {
		o.bus.Publish(events.EventBotState, events.StateChange{Running: true, State: string(s)})
	}
}

func (o *Orchestrator) setLastErr(err error) {
	o.mu.Lock()
	if err != nil {
		o.lastErr = err.Error()
	} else {
		o.lastErr = ""
	}
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		delay := o.RunCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// RunCycle executes one loop iteration and returns the delay before the
// next one. Errors never escape: every failure degrades to a logged skip
// with the error cooldown. Exported for tests; the worker calls it in a
// loop.
func (o *Orchestrator) RunCycle(ctx context.Context) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[bot] cycle panic: %v", r)
			o.metrics.IncrementErrors()
			delay = o.cfg.ErrorCooldown
		}
	}()

	o.tradeMu.Lock()
	defer o.tradeMu.Unlock()

	timer := monitor.NewTimer(o.metrics.CycleLatency)
	defer timer.Stop()
	o.metrics.IncrementCycles()

	o.syncCapital(ctx)

	report, err := o.book.Refresh(ctx)
	if err != nil {
		o.failCycle(transientErr("reconcile", err))
		return o.cfg.ErrorCooldown
	}
	o.persistReport(ctx, report)

	if len(o.book.Positions()) > 0 {
		o.setState(StateMonitoring)
		if err := o.monitorPositions(ctx); err != nil {
			o.failCycle(err)
			return o.cfg.ErrorCooldown
		}
		o.setLastErr(nil)
		return o.cfg.PositionCheckInterval
	}

	o.setState(StateSeeking)
	if err := o.seek(ctx); err != nil {
		if IsTransient(err) {
			o.failCycle(err)
			return o.cfg.ErrorCooldown
		}
		// Rejected orders and invalid sizes are skips, not retries.
		log.Printf("[bot] signal skipped: %v", err)
		o.setLastErr(err)
		return o.cfg.AnalysisInterval
	}
	o.setLastErr(nil)
	return o.cfg.AnalysisInterval
}

func (o *Orchestrator) failCycle(err error) {
	log.Printf("[bot] cycle error: %v", err)
	o.setLastErr(err)
	o.metrics.IncrementErrors()
}

func (o *Orchestrator) syncCapital(ctx context.Context) {
	summary, err := o.gw.AccountSummary(ctx)
	if err != nil {
		log.Printf("[bot] account sync failed, keeping last equity: %v", err)
		return
	}
	o.book.SetTotalCapital(summary.TotalCapital)
}

func (o *Orchestrator) persistReport(ctx context.Context, report *ledger.Report) {
	if !report.HasDiffs() && report.Skipped == 0 {
		return
	}
	o.bus.Publish(events.EventReconciled, report)
	if o.store == nil {
		return
	}
	err := o.store.InsertReconciliation(ctx, len(report.Adopted), len(report.Removed), report.Skipped,
		report.ReservedBefore, report.ReservedAfter)
	if err != nil {
		log.Printf("[bot] persist reconciliation: %v", err)
	}
}

func (o *Orchestrator) monitorPositions(ctx context.Context) error {
	timer := monitor.NewTimer(o.metrics.FetchLatency)
	price, err := o.source.Price(ctx, o.cfg.Asset)
	timer.Stop()
	if err != nil {
		return transientErr("fetch price", err)
	}

	for _, pos := range o.book.Positions() {
		if pos.Asset != o.cfg.Asset {
			// Adopted exposure on another asset; reconciled but not managed.
			continue
		}

		if pos.Untracked {
			lv := o.engine.NewLevels(pos.EntryPrice, pos.Side)
			o.book.SetLevels(pos.Asset, lv)
			pos.Levels = lv
			pos.Untracked = false
			log.Printf("[bot] computed protection for adopted %s position: sl=%.2f tp=%.2f", pos.Asset, lv.StopLossPrice, lv.TakeProfitPrice)
		}

		lv := pos.Levels
		shouldClose, reason := o.engine.CheckTriggers(&lv, pos.EntryPrice, price, pos.Side)
		o.book.UpdateLevels(pos.Asset, lv)
		if !shouldClose {
			continue
		}
		if err := o.closePosition(ctx, pos, reason); err != nil {
			log.Printf("[bot] close %s failed, will retry next cycle: %v", pos.Asset, err)
		}
	}
	return nil
}

func (o *Orchestrator) closePosition(ctx context.Context, pos *ledger.Position, reason risk.CloseReason) error {
	timer := monitor.NewTimer(o.metrics.OrderLatency)
	fill, err := o.gw.PlaceMarketOrder(ctx, pos.Asset, pos.Side.Opposite(), pos.Size)
	timer.Stop()
	if err != nil {
		o.metrics.IncrementOrdersFailed()
		return rejectedErr("close order", err)
	}
	o.metrics.IncrementOrdersPlaced()

	pnl := (fill.Price - pos.EntryPrice) * pos.Size
	if pos.Side == risk.SideShort {
		pnl = -pnl
	}
	pnlPct := risk.OperationPnLPct(pos.EntryPrice, fill.Price, pos.Side, o.engine.Params().Leverage)

	if _, err := o.book.RegisterClose(pos.Asset, pnl); err != nil {
		log.Printf("[bot] register close %s: %v", pos.Asset, err)
	}
	o.metrics.IncrementCloses(string(reason))

	op := db.Operation{
		ID:              uuid.NewString(),
		InstanceID:      o.cfg.InstanceID,
		Kind:            db.OpClose,
		Asset:           pos.Asset,
		Side:            string(pos.Side),
		Size:            pos.Size,
		Price:           fill.Price,
		Capital:         pos.CapitalUsed,
		PnL:             pnl,
		PnLPct:          pnlPct,
		Reason:          string(reason),
		EntryPrice:      pos.EntryPrice,
		DurationSeconds: time.Since(pos.EntryTime).Seconds(),
	}
	o.recordOperation(ctx, op)
	if o.store != nil {
		if err := o.store.DeletePosition(ctx, pos.Asset); err != nil {
			log.Printf("[bot] delete position snapshot: %v", err)
		}
	}
	o.bus.Publish(events.EventPositionClosed, events.PositionClosed{
		Asset: pos.Asset, Side: string(pos.Side), Size: pos.Size,
		ExitPrice: fill.Price, RealizedPnL: pnl, PnLPct: pnlPct, Reason: string(reason),
	})
	return nil
}

func (o *Orchestrator) seek(ctx context.Context) error {
	timer := monitor.NewTimer(o.metrics.FetchLatency)
	candles, err := o.source.Candles(ctx, o.cfg.Asset, o.cfg.CandleInterval, o.cfg.CandleLimit)
	timer.Stop()
	if err != nil {
		return transientErr("fetch candles", err)
	}

	res, err := o.gen.Analyze(candles)
	if err != nil {
		return transientErr("analyze", err)
	}
	if res.Action == signal.ActionNone {
		return nil
	}
	o.metrics.IncrementSignals()
	o.bus.Publish(events.EventSignal, res)
	log.Printf("[bot] %s signal: %s", res.Action, res.Reason)

	// Fresh venue check right before committing capital; fails safe.
	if o.book.HasOpenPosition(ctx, o.cfg.Asset) {
		log.Printf("[bot] position already open for %s, skipping signal", o.cfg.Asset)
		return nil
	}

	price := candles[len(candles)-1].Close
	available := o.book.AvailableCapital()
	if available <= 0 {
		return invalidErr("position size", fmt.Errorf("no available capital"))
	}
	size := available * o.engine.Params().Leverage / price

	limits, err := o.gw.SymbolLimits(ctx, o.cfg.Asset)
	if err != nil {
		return transientErr("symbol limits", err)
	}
	size, err = gateway.NormalizeSize(size, *limits)
	if err != nil {
		return invalidErr("position size", err)
	}

	side := risk.SideLong
	if res.Action == signal.ActionSell {
		side = risk.SideShort
	}

	timer = monitor.NewTimer(o.metrics.OrderLatency)
	fill, err := o.gw.PlaceMarketOrder(ctx, o.cfg.Asset, side, size)
	timer.Stop()
	if err != nil {
		o.metrics.IncrementOrdersFailed()
		return rejectedErr("open order", err)
	}
	o.metrics.IncrementOrdersPlaced()

	pos, err := o.book.RegisterOpen(o.cfg.Asset, side, fill.Size, fill.Price, fill.Time)
	if err != nil {
		return invalidErr("register open", err)
	}
	lv := o.engine.NewLevels(fill.Price, side)
	o.book.SetLevels(pos.Asset, lv)
	o.metrics.IncrementOpens()

	op := db.Operation{
		ID:         uuid.NewString(),
		InstanceID: o.cfg.InstanceID,
		Kind:       db.OpOpen,
		Asset:      pos.Asset,
		Side:       string(side),
		Size:       fill.Size,
		Price:      fill.Price,
		Capital:    pos.CapitalUsed,
	}
	o.recordOperation(ctx, op)
	if o.store != nil {
		if err := o.store.UpsertPosition(ctx, pos.Asset, string(side), pos.Size, pos.EntryPrice, pos.CapitalUsed, pos.EntryTime); err != nil {
			log.Printf("[bot] persist position snapshot: %v", err)
		}
	}
	o.bus.Publish(events.EventPositionOpened, events.PositionOpened{
		Asset: pos.Asset, Side: string(side), Size: pos.Size,
		EntryPrice: pos.EntryPrice, CapitalUsed: pos.CapitalUsed,
	})
	o.setState(StateMonitoring)
	return nil
}

func (o *Orchestrator) recordOperation(ctx context.Context, op db.Operation) {
	log.Printf("[ops] %s", op.Line())
	if o.store == nil {
		return
	}
	if err := o.store.InsertOperation(ctx, op); err != nil {
		log.Printf("[bot] persist operation: %v", err)
	}
}

// ManualClose closes the tracked position for asset at market, funneled
// through the same lock as the trading cycle.
func (o *Orchestrator) ManualClose(ctx context.Context, asset string) error {
	o.tradeMu.Lock()
	defer o.tradeMu.Unlock()

	if _, err := o.book.Refresh(ctx); err != nil {
		return transientErr("reconcile", err)
	}
	pos, ok := o.book.Position(asset)
	if !ok {
		return invalidErr("manual close", fmt.Errorf("no tracked position for %s", asset))
	}
	return o.closePosition(ctx, pos, risk.ReasonManual)
}

// SetIntervals reconfigures the polling intervals. The bot must be stopped
// first so the worker never runs against partially-applied parameters.
func (o *Orchestrator) SetIntervals(check, analysis time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("stop the bot before changing intervals")
	}
	if check < MinPollInterval {
		check = MinPollInterval
	}
	if analysis < MinPollInterval {
		analysis = MinPollInterval
	}
	o.cfg.PositionCheckInterval = check
	o.cfg.AnalysisInterval = analysis
	return nil
}

// UpdateRiskParams replaces the risk parameters. Requires the bot stopped.
func (o *Orchestrator) UpdateRiskParams(p risk.Params) error {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	if running {
		return fmt.Errorf("stop the bot before changing risk parameters")
	}
	return o.engine.UpdateParams(p)
}

// Status is an eventually-consistent snapshot for the API.
type Status struct {
	Running               bool               `json:"running"`
	State                 State              `json:"state"`
	Asset                 string             `json:"asset"`
	InstanceID            string             `json:"instance_id,omitempty"`
	TotalCapital          float64            `json:"total_capital"`
	ReservedCapital       float64            `json:"reserved_capital"`
	AvailableCapital      float64            `json:"available_capital"`
	UtilizationPct        float64            `json:"utilization_pct"`
	Positions             []*ledger.Position `json:"positions"`
	RiskParams            risk.Params        `json:"risk_params"`
	PositionCheckInterval string             `json:"position_check_interval"`
	AnalysisInterval      string             `json:"analysis_interval"`
	LastError             string             `json:"last_error,omitempty"`
}

// Status returns the current snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	running := o.running
	state := o.state
	lastErr := o.lastErr
	check := o.cfg.PositionCheckInterval
	analysis := o.cfg.AnalysisInterval
	o.mu.Unlock()

	return Status{
		Running:               running,
		State:                 state,
		Asset:                 o.cfg.Asset,
		InstanceID:            o.cfg.InstanceID,
		TotalCapital:          o.book.TotalCapital(),
		ReservedCapital:       o.book.ReservedCapital(),
		AvailableCapital:      o.book.AvailableCapital(),
		UtilizationPct:        o.book.Utilization(),
		Positions:             o.book.Positions(),
		RiskParams:            o.engine.Params(),
		PositionCheckInterval: check.String(),
		AnalysisInterval:      analysis.String(),
		LastError:             lastErr,
	}
}
