// Package ledger is the authoritative-but-reconcilable record of the bot's
// open positions and reserved capital. The venue's raw position list is the
// ground truth; the ledger adopts and discards entries to match it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"perpbot/internal/gateway"
	"perpbot/internal/risk"
)

// Positions are keyed by asset: at most one tracked position per asset.
// Side and size are attributes, not identity.

// ErrPositionExists is returned by RegisterOpen when the asset already has
// a tracked position.
var ErrPositionExists = errors.New("position already tracked for asset")

// PositionSource supplies venue ground truth for reconciliation.
type PositionSource interface {
	FetchPositions(ctx context.Context) ([]gateway.Position, error)
}

// Position is a bot-tracked open exposure.
type Position struct {
	Asset       string      `json:"asset"`
	Side        risk.Side   `json:"side"`
	Size        float64     `json:"size"`
	EntryPrice  float64     `json:"entry_price"`
	CapitalUsed float64     `json:"capital_used"`
	EntryTime   time.Time   `json:"entry_time"`
	Untracked   bool        `json:"untracked"` // adopted from the venue, no risk levels yet
	Levels      risk.Levels `json:"levels"`
}

// Report summarizes one reconciliation pass.
type Report struct {
	Timestamp      time.Time `json:"timestamp"`
	Adopted        []string  `json:"adopted,omitempty"`
	Removed        []string  `json:"removed,omitempty"`
	Skipped        int       `json:"skipped,omitempty"`
	ReservedBefore float64   `json:"reserved_before"`
	ReservedAfter  float64   `json:"reserved_after"`
}

// HasDiffs reports whether the pass changed the tracked set.
func (r *Report) HasDiffs() bool {
	return len(r.Adopted) > 0 || len(r.Removed) > 0
}

// Config tunes capital accounting.
type Config struct {
	CapitalCap     float64 // hard ceiling on deployable capital per cycle
	UtilizationPct float64 // 1-100, scales available capital
	Materiality    float64 // log threshold for reserved-capital moves, quote units
}

// DefaultConfig returns the stock capital configuration.
func DefaultConfig() Config {
	return Config{CapitalCap: 10000, UtilizationPct: 100, Materiality: 1.0}
}

// Ledger tracks open positions and the capital reserved against them.
// Mutations are expected from the single trading worker; reads from the API
// are eventually-consistent snapshots guarded by the mutex.
type Ledger struct {
	mu     sync.RWMutex
	source PositionSource

	capitalCap     float64
	utilizationPct float64
	materiality    float64

	totalCapital    float64
	reservedCapital float64
	positions       map[string]*Position
}

// New builds a ledger over the given position source.
func New(source PositionSource, cfg Config) *Ledger {
	if cfg.CapitalCap <= 0 {
		cfg.CapitalCap = DefaultConfig().CapitalCap
	}
	if cfg.Materiality <= 0 {
		cfg.Materiality = DefaultConfig().Materiality
	}
	l := &Ledger{
		source:      source,
		capitalCap:  cfg.CapitalCap,
		materiality: cfg.Materiality,
		positions:   make(map[string]*Position),
	}
	l.SetUtilization(cfg.UtilizationPct)
	return l
}

// SetTotalCapital records the venue-reported account equity.
func (l *Ledger) SetTotalCapital(total float64) {
	l.mu.Lock()
	l.totalCapital = total
	l.mu.Unlock()
}

// SetUtilization sets the capital utilization percentage, clamped to 1-100.
func (l *Ledger) SetUtilization(pct float64) {
	if pct < 1 {
		pct = 1
	}
	if pct > 100 {
		pct = 100
	}
	l.mu.Lock()
	l.utilizationPct = pct
	l.mu.Unlock()
}

// Utilization returns the current utilization percentage.
func (l *Ledger) Utilization() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.utilizationPct
}

// Reconcile aligns the tracked set with the venue's raw position list.
// Unknown external positions are adopted with entry time now and no risk
// levels; tracked positions absent from the list are removed. Reserved
// capital is then recomputed as the exact sum over the external list, never
// incrementally. Malformed entries are skipped with a warning.
func (l *Ledger) Reconcile(raw []gateway.Position) *Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	report := &Report{Timestamp: time.Now(), ReservedBefore: l.reservedCapital}

	external := make(map[string]gateway.Position, len(raw))
	for _, p := range raw {
		if p.Asset == "" || !p.Side.Valid() || p.Size <= 0 || p.EntryPrice <= 0 {
			log.Printf("[ledger] skipping malformed venue position: %+v", p)
			report.Skipped++
			continue
		}
		external[p.Asset] = p
	}

	for asset, ext := range external {
		pos, ok := l.positions[asset]
		if !ok {
			l.positions[asset] = &Position{
				Asset:       asset,
				Side:        ext.Side,
				Size:        ext.Size,
				EntryPrice:  ext.EntryPrice,
				CapitalUsed: ext.Size * ext.EntryPrice,
				EntryTime:   time.Now(), // true entry time unknown
				Untracked:   true,
			}
			report.Adopted = append(report.Adopted, asset)
			log.Printf("[ledger] adopted external %s %s size=%.6f entry=%.2f (untracked, no protection)",
				asset, ext.Side, ext.Size, ext.EntryPrice)
			continue
		}
		// Venue truth wins for side, size and entry.
		pos.Side = ext.Side
		pos.Size = ext.Size
		pos.EntryPrice = ext.EntryPrice
		pos.CapitalUsed = ext.Size * ext.EntryPrice
	}

	for asset := range l.positions {
		if _, ok := external[asset]; !ok {
			delete(l.positions, asset)
			report.Removed = append(report.Removed, asset)
			log.Printf("[ledger] %s no longer open on venue, dropping tracked position", asset)
		}
	}

	var reserved float64
	for _, ext := range external {
		reserved += ext.Size * ext.EntryPrice
	}
	l.reservedCapital = reserved
	report.ReservedAfter = reserved

	if delta := math.Abs(report.ReservedAfter - report.ReservedBefore); delta > l.materiality {
		log.Printf("[ledger] reserved capital %.2f -> %.2f", report.ReservedBefore, report.ReservedAfter)
	}
	return report
}

// Refresh fetches venue positions and reconciles against them.
func (l *Ledger) Refresh(ctx context.Context) (*Report, error) {
	raw, err := l.source.FetchPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch venue positions: %w", err)
	}
	return l.Reconcile(raw), nil
}

// RegisterOpen creates and stores a new tracked position and reserves its
// capital. Returns ErrPositionExists without touching reserved capital when
// the asset already has one.
func (l *Ledger) RegisterOpen(asset string, side risk.Side, size, entryPrice float64, at time.Time) (*Position, error) {
	if size <= 0 || entryPrice <= 0 {
		return nil, fmt.Errorf("invalid open %s size=%v entry=%v", asset, size, entryPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.positions[asset]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionExists, asset)
	}

	pos := &Position{
		Asset:       asset,
		Side:        side,
		Size:        size,
		EntryPrice:  entryPrice,
		CapitalUsed: size * entryPrice,
		EntryTime:   at,
	}
	l.positions[asset] = pos
	l.reservedCapital += pos.CapitalUsed
	return snapshot(pos), nil
}

// SetLevels attaches computed risk levels to a tracked position and clears
// its untracked flag.
func (l *Ledger) SetLevels(asset string, levels risk.Levels) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[asset]
	if !ok {
		return false
	}
	pos.Levels = levels
	pos.Untracked = false
	return true
}

// UpdateLevels stores trailing-state mutations made during trigger checks.
func (l *Ledger) UpdateLevels(asset string, levels risk.Levels) {
	l.mu.Lock()
	if pos, ok := l.positions[asset]; ok {
		pos.Levels = levels
	}
	l.mu.Unlock()
}

// RegisterClose removes the tracked position and frees its reserved
// capital, clamping reserved to a zero floor. Returns the capital freed.
func (l *Ledger) RegisterClose(asset string, realizedPnL float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[asset]
	if !ok {
		return 0, fmt.Errorf("no tracked position for %s", asset)
	}
	delete(l.positions, asset)

	freed := pos.CapitalUsed
	l.reservedCapital -= freed
	if l.reservedCapital < 0 {
		l.reservedCapital = 0
	}
	log.Printf("[ledger] closed %s pnl=%.2f freed=%.2f reserved=%.2f", asset, realizedPnL, freed, l.reservedCapital)
	return freed, nil
}

// AvailableCapital returns the capital deployable for a new position:
// min(total - reserved, cap) scaled by utilization, never negative.
func (l *Ledger) AvailableCapital() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	free := l.totalCapital - l.reservedCapital
	if free > l.capitalCap {
		free = l.capitalCap
	}
	free *= l.utilizationPct / 100
	if free < 0 {
		return 0
	}
	return free
}

// HasOpenPosition reconciles against fresh venue state and reports whether
// the asset has a tracked position. On fetch failure it fails safe and
// returns true so callers never double exposure on stale data.
func (l *Ledger) HasOpenPosition(ctx context.Context, asset string) bool {
	if _, err := l.Refresh(ctx); err != nil {
		log.Printf("[ledger] position check for %s failed, assuming open: %v", asset, err)
		return true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[asset]
	return ok
}

// Position returns a snapshot of the tracked position for asset.
func (l *Ledger) Position(asset string) (*Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[asset]
	if !ok {
		return nil, false
	}
	return snapshot(pos), true
}

// Positions returns snapshots of all tracked positions.
func (l *Ledger) Positions() []*Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, snapshot(pos))
	}
	return out
}

// ReservedCapital returns the capital committed to open positions.
func (l *Ledger) ReservedCapital() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reservedCapital
}

// TotalCapital returns the last synced account equity.
func (l *Ledger) TotalCapital() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalCapital
}

func snapshot(p *Position) *Position {
	cp := *p
	return &cp
}
