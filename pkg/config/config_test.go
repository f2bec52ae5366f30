package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAPER_TRADING", "")
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.Asset != "BTCUSDT" {
		t.Errorf("Asset = %s", cfg.Asset)
	}
	if !cfg.PaperTrading {
		t.Error("paper trading must default on")
	}
}

func TestLoadRejectsLiveWithoutKeys(t *testing.T) {
	t.Setenv("PAPER_TRADING", "false")
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("live trading without API keys must fail validation")
	}
}

func TestLoadParamsMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadParams(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	def := DefaultParams()
	if p.Risk != def.Risk {
		t.Errorf("risk params = %+v, want defaults", p.Risk)
	}
	if p.Intervals.Analysis != "30s" {
		t.Errorf("analysis interval = %s", p.Intervals.Analysis)
	}
}

func TestLoadParamsOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	content := []byte(`
risk:
  stop_loss_pct: 2.0
intervals:
  analysis: 1m
capital:
  utilization_pct: 50
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	p, err := LoadParams(path)
	if err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	if p.Risk.StopLossPct != 2.0 {
		t.Errorf("StopLossPct = %v, want 2.0", p.Risk.StopLossPct)
	}
	// Untouched fields keep their defaults.
	if p.Risk.TakeProfitPct != DefaultParams().Risk.TakeProfitPct {
		t.Errorf("TakeProfitPct = %v, want default", p.Risk.TakeProfitPct)
	}
	d, err := p.AnalysisInterval()
	if err != nil {
		t.Fatalf("AnalysisInterval: %v", err)
	}
	if d.String() != "1m0s" {
		t.Errorf("analysis = %s", d)
	}
	if p.LedgerConfig().UtilizationPct != 50 {
		t.Errorf("UtilizationPct = %v", p.LedgerConfig().UtilizationPct)
	}
}

func TestLoadParamsRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	content := []byte(`
risk:
  stop_loss_pct: -1
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadParams(path); err == nil {
		t.Fatal("negative stop loss must fail validation")
	}
}
