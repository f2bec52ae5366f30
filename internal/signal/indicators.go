package signal

import "math"

// SMA calculates the simple moving average over the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// StdDev calculates the population standard deviation over the last period
// values around their mean.
func StdDev(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	mean := SMA(values, period)
	variance := 0.0
	for i := len(values) - period; i < len(values); i++ {
		d := values[i] - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(period))
}

// RSI computes the Relative Strength Index over the last period changes,
// averaged without Wilder smoothing.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}

// Bands holds a Bollinger band snapshot. Width is the band spread relative
// to the moving average, used as a volatility filter.
type Bands struct {
	Middle float64
	Upper  float64
	Lower  float64
	Width  float64
}

// Bollinger computes bands over the last period values with the given
// standard-deviation multiplier.
func Bollinger(values []float64, period int, numStdDev float64) Bands {
	ma := SMA(values, period)
	if ma == 0 {
		return Bands{}
	}
	sd := StdDev(values, period)
	b := Bands{
		Middle: ma,
		Upper:  ma + numStdDev*sd,
		Lower:  ma - numStdDev*sd,
	}
	b.Width = (b.Upper - b.Lower) / b.Middle
	return b
}
