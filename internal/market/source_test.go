package market

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"
)

func TestCandleFromKline(t *testing.T) {
	good := &futures.Kline{
		OpenTime: 1700000000000,
		Open:     "100", High: "110", Low: "95", Close: "105", Volume: "12.5",
	}
	c, err := candleFromKline(good)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Open != 100 || c.High != 110 || c.Low != 95 || c.Close != 105 || c.Volume != 12.5 {
		t.Fatalf("unexpected candle %+v", c)
	}

	tests := []struct {
		name string
		k    *futures.Kline
	}{
		{"bad close", &futures.Kline{Open: "100", High: "110", Low: "95", Close: "n/a", Volume: "1"}},
		{"empty open", &futures.Kline{Open: "", High: "110", Low: "95", Close: "105", Volume: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := candleFromKline(tt.k); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}
