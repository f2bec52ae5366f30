package ledger

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"perpbot/internal/gateway"
	"perpbot/internal/risk"
)

type fakeSource struct {
	positions []gateway.Position
	err       error
}

func (f *fakeSource) FetchPositions(ctx context.Context) ([]gateway.Position, error) {
	return f.positions, f.err
}

func TestReconcileRecomputesReserved(t *testing.T) {
	src := &fakeSource{}
	l := New(src, DefaultConfig())

	raw := []gateway.Position{
		{Asset: "BTCUSDT", Side: risk.SideLong, Size: 0.05, EntryPrice: 40000},
		{Asset: "ETHUSDT", Side: risk.SideShort, Size: 1.5, EntryPrice: 2000},
	}
	report := l.Reconcile(raw)

	if len(report.Adopted) != 2 {
		t.Fatalf("both venue positions should be adopted: %+v", report)
	}
	want := 0.05*40000 + 1.5*2000
	if math.Abs(l.ReservedCapital()-want) > 1e-9 {
		t.Fatalf("reserved: want %v, got %v", want, l.ReservedCapital())
	}

	pos, ok := l.Position("BTCUSDT")
	if !ok || !pos.Untracked {
		t.Fatalf("adopted position must be flagged untracked: %+v", pos)
	}

	// Same list again: no diffs, reserved unchanged.
	report = l.Reconcile(raw)
	if report.HasDiffs() {
		t.Fatalf("second pass must be a no-op: %+v", report)
	}
	if math.Abs(l.ReservedCapital()-want) > 1e-9 {
		t.Fatalf("reserved drifted: want %v, got %v", want, l.ReservedCapital())
	}
}

func TestReconcileRemovesStalePositions(t *testing.T) {
	l := New(&fakeSource{}, DefaultConfig())
	if _, err := l.RegisterOpen("BTCUSDT", risk.SideLong, 0.1, 40000, time.Now()); err != nil {
		t.Fatalf("open: %v", err)
	}

	report := l.Reconcile(nil)
	if len(report.Removed) != 1 || report.Removed[0] != "BTCUSDT" {
		t.Fatalf("tracked position should be removed: %+v", report)
	}
	if l.ReservedCapital() != 0 {
		t.Fatalf("reserved must be recomputed to 0, got %v", l.ReservedCapital())
	}
	if _, ok := l.Position("BTCUSDT"); ok {
		t.Fatal("position should be gone")
	}
}

func TestReconcileSkipsMalformedEntries(t *testing.T) {
	l := New(&fakeSource{}, DefaultConfig())
	report := l.Reconcile([]gateway.Position{
		{Asset: "", Side: risk.SideLong, Size: 1, EntryPrice: 100},
		{Asset: "BTCUSDT", Side: risk.Side("??"), Size: 1, EntryPrice: 100},
		{Asset: "BTCUSDT", Side: risk.SideLong, Size: -1, EntryPrice: 100},
		{Asset: "BTCUSDT", Side: risk.SideLong, Size: 0.1, EntryPrice: 100},
	})
	if report.Skipped != 3 {
		t.Fatalf("want 3 skipped, got %d", report.Skipped)
	}
	if len(report.Adopted) != 1 {
		t.Fatalf("valid entry should still be adopted: %+v", report)
	}
	if math.Abs(l.ReservedCapital()-10) > 1e-9 {
		t.Fatalf("reserved: want 10, got %v", l.ReservedCapital())
	}
}

func TestRegisterOpenSinglePositionRule(t *testing.T) {
	l := New(&fakeSource{}, DefaultConfig())

	if _, err := l.RegisterOpen("BTCUSDT", risk.SideLong, 0.1, 40000, time.Now()); err != nil {
		t.Fatalf("first open: %v", err)
	}
	before := l.ReservedCapital()

	_, err := l.RegisterOpen("BTCUSDT", risk.SideShort, 0.2, 41000, time.Now())
	if !errors.Is(err, ErrPositionExists) {
		t.Fatalf("want ErrPositionExists, got %v", err)
	}
	if l.ReservedCapital() != before {
		t.Fatalf("failed open must not move reserved: %v -> %v", before, l.ReservedCapital())
	}
}

func TestAvailableCapital(t *testing.T) {
	tests := []struct {
		name     string
		total    float64
		reserved float64
		util     float64
		want     float64
	}{
		{"cap binds", 12000, 0, 100, 10000},
		{"free below cap", 8000, 3000, 100, 5000},
		{"utilization scales", 12000, 0, 50, 5000},
		{"reserved exceeds total", 1000, 5000, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(&fakeSource{}, Config{CapitalCap: 10000, UtilizationPct: tt.util})
			l.SetTotalCapital(tt.total)
			if tt.reserved > 0 {
				l.Reconcile([]gateway.Position{
					{Asset: "BTCUSDT", Side: risk.SideLong, Size: 1, EntryPrice: tt.reserved},
				})
			}
			if got := l.AvailableCapital(); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("want %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRegisterCloseClampsReserved(t *testing.T) {
	l := New(&fakeSource{}, DefaultConfig())
	if _, err := l.RegisterOpen("BTCUSDT", risk.SideLong, 0.1, 40000, time.Now()); err != nil {
		t.Fatalf("open: %v", err)
	}

	freed, err := l.RegisterClose("BTCUSDT", 25)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if math.Abs(freed-4000) > 1e-9 {
		t.Fatalf("freed: want 4000, got %v", freed)
	}
	if l.ReservedCapital() != 0 {
		t.Fatalf("reserved should be 0, got %v", l.ReservedCapital())
	}

	if _, err := l.RegisterClose("BTCUSDT", 0); err == nil {
		t.Fatal("double close must fail")
	}
}

func TestHasOpenPositionFailsSafe(t *testing.T) {
	src := &fakeSource{err: errors.New("venue down")}
	l := New(src, DefaultConfig())

	if !l.HasOpenPosition(context.Background(), "BTCUSDT") {
		t.Fatal("fetch failure must report true to avoid doubling exposure")
	}

	src.err = nil
	src.positions = nil
	if l.HasOpenPosition(context.Background(), "BTCUSDT") {
		t.Fatal("flat venue must report false")
	}

	src.positions = []gateway.Position{{Asset: "BTCUSDT", Side: risk.SideLong, Size: 0.1, EntryPrice: 40000}}
	if !l.HasOpenPosition(context.Background(), "BTCUSDT") {
		t.Fatal("venue position must report true")
	}
}

func TestSetUtilizationClamps(t *testing.T) {
	l := New(&fakeSource{}, DefaultConfig())
	l.SetUtilization(0)
	if got := l.Utilization(); got != 1 {
		t.Fatalf("want clamp to 1, got %v", got)
	}
	l.SetUtilization(250)
	if got := l.Utilization(); got != 100 {
		t.Fatalf("want clamp to 100, got %v", got)
	}
}
