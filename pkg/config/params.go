package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"perpbot/internal/ledger"
	"perpbot/internal/risk"
	"perpbot/internal/signal"
)

// Params are the strategy parameters loaded from the YAML file named by
// PARAMS_FILE. A missing file yields the defaults; a malformed one is an
// error.
type Params struct {
	Risk    risk.Params   `yaml:"risk"`
	Signal  signal.Config `yaml:"signal"`
	Capital CapitalParams `yaml:"capital"`

	Intervals IntervalParams `yaml:"intervals"`
}

// CapitalParams tunes capital accounting.
type CapitalParams struct {
	Cap            float64 `yaml:"cap"`
	UtilizationPct float64 `yaml:"utilization_pct"`
	Materiality    float64 `yaml:"materiality"`
}

// IntervalParams holds loop polling intervals as duration strings.
type IntervalParams struct {
	PositionCheck string `yaml:"position_check"`
	Analysis      string `yaml:"analysis"`
}

// DefaultParams returns the stock strategy parameters.
func DefaultParams() Params {
	lc := ledger.DefaultConfig()
	return Params{
		Risk:   risk.DefaultParams(),
		Signal: signal.DefaultConfig(),
		Capital: CapitalParams{
			Cap:            lc.CapitalCap,
			UtilizationPct: lc.UtilizationPct,
			Materiality:    lc.Materiality,
		},
		Intervals: IntervalParams{
			PositionCheck: "30s",
			Analysis:      "30s",
		},
	}
}

// LoadParams reads path and overlays it on the defaults. A missing file is
// not an error; the defaults apply as-is.
func LoadParams(path string) (*Params, error) {
	p := DefaultParams()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &p, nil
		}
		return nil, fmt.Errorf("read params file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse params file %s: %w", path, err)
	}

	if err := p.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("params file %s: %w", path, err)
	}
	if _, err := p.PositionCheckInterval(); err != nil {
		return nil, fmt.Errorf("params file %s: %w", path, err)
	}
	if _, err := p.AnalysisInterval(); err != nil {
		return nil, fmt.Errorf("params file %s: %w", path, err)
	}
	return &p, nil
}

// PositionCheckInterval parses the position check interval.
func (p *Params) PositionCheckInterval() (time.Duration, error) {
	return time.ParseDuration(p.Intervals.PositionCheck)
}

// AnalysisInterval parses the analysis interval.
func (p *Params) AnalysisInterval() (time.Duration, error) {
	return time.ParseDuration(p.Intervals.Analysis)
}

// LedgerConfig maps the capital section onto the ledger configuration.
func (p *Params) LedgerConfig() ledger.Config {
	return ledger.Config{
		CapitalCap:     p.Capital.Cap,
		UtilizationPct: p.Capital.UtilizationPct,
		Materiality:    p.Capital.Materiality,
	}
}
