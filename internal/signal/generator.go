// Package signal derives entry signals from OHLC data. The stock generator
// combines RSI with Bollinger bands and a band-width volatility filter:
// entries are only taken when the market is neither dead flat nor violent.
package signal

import (
	"fmt"
	"time"
)

// Action is the discriminated trade signal.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionNone Action = "none"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Result is the outcome of one analysis pass.
type Result struct {
	Action     Action             `json:"action"`
	Reason     string             `json:"reason"`
	Indicators map[string]float64 `json:"indicators"`
}

// Generator consumes an OHLC sequence and produces a trade signal.
type Generator interface {
	Analyze(candles []Candle) (*Result, error)
}

// Config tunes the technical generator.
type Config struct {
	RSIPeriod    int     `yaml:"rsi_period"`
	BandPeriod   int     `yaml:"band_period"`
	BandStdDev   float64 `yaml:"band_std_dev"`
	RSIBuyMin    float64 `yaml:"rsi_buy_min"`
	RSIBuyMax    float64 `yaml:"rsi_buy_max"`
	RSISellMin   float64 `yaml:"rsi_sell_min"`
	RSISellMax   float64 `yaml:"rsi_sell_max"`
	BandWidthMin float64 `yaml:"band_width_min"`
	BandWidthMax float64 `yaml:"band_width_max"`
}

// DefaultConfig returns the stock generator tuning.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:    14,
		BandPeriod:   20,
		BandStdDev:   2.0,
		RSIBuyMin:    15,
		RSIBuyMax:    35,
		RSISellMin:   65,
		RSISellMax:   85,
		BandWidthMin: 0.01,
		BandWidthMax: 0.08,
	}
}

// Technical is the RSI + Bollinger generator.
type Technical struct {
	cfg Config
}

// NewTechnical builds a generator with the given tuning.
func NewTechnical(cfg Config) *Technical {
	if cfg.RSIPeriod <= 0 {
		cfg = DefaultConfig()
	}
	return &Technical{cfg: cfg}
}

// Analyze evaluates the candle sequence and returns a buy, sell or none
// signal with a human-readable reason and the computed indicator values.
func (t *Technical) Analyze(candles []Candle) (*Result, error) {
	need := t.cfg.BandPeriod
	if t.cfg.RSIPeriod+1 > need {
		need = t.cfg.RSIPeriod + 1
	}
	if len(candles) < need {
		return nil, fmt.Errorf("need %d candles, got %d", need, len(candles))
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	last := closes[len(closes)-1]

	rsi := RSI(closes, t.cfg.RSIPeriod)
	bands := Bollinger(closes, t.cfg.BandPeriod, t.cfg.BandStdDev)

	res := &Result{
		Action: ActionNone,
		Reason: "no setup",
		Indicators: map[string]float64{
			"rsi":        rsi,
			"band_upper": bands.Upper,
			"band_mid":   bands.Middle,
			"band_lower": bands.Lower,
			"band_width": bands.Width,
			"close":      last,
		},
	}

	widthOK := bands.Width >= t.cfg.BandWidthMin && bands.Width <= t.cfg.BandWidthMax
	if !widthOK {
		res.Reason = fmt.Sprintf("band width %.4f outside [%.4f, %.4f]", bands.Width, t.cfg.BandWidthMin, t.cfg.BandWidthMax)
		return res, nil
	}

	switch {
	case rsi >= t.cfg.RSIBuyMin && rsi <= t.cfg.RSIBuyMax && last <= bands.Lower:
		res.Action = ActionBuy
		res.Reason = fmt.Sprintf("oversold: rsi=%.1f close=%.2f <= lower band %.2f", rsi, last, bands.Lower)
	case rsi >= t.cfg.RSISellMin && rsi <= t.cfg.RSISellMax && last >= bands.Upper:
		res.Action = ActionSell
		res.Reason = fmt.Sprintf("overbought: rsi=%.1f close=%.2f >= upper band %.2f", rsi, last, bands.Upper)
	}
	return res, nil
}
