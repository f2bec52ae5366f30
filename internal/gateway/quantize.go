package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NormalizeSize rounds size down to the venue's step grid and validates it
// against the minimum order size. Returns an error when the adjusted size
// would be zero or below the minimum; no order should be sent in that case.
func NormalizeSize(size float64, limits SymbolLimits) (float64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("invalid size %v", size)
	}

	d := decimal.NewFromFloat(size)
	if limits.StepSize > 0 {
		step := decimal.NewFromFloat(limits.StepSize)
		d = d.Div(step).Floor().Mul(step)
	}

	adjusted, _ := d.Float64()
	if adjusted <= 0 {
		return 0, fmt.Errorf("size %v rounds to zero at step %v", size, limits.StepSize)
	}
	if limits.MinOrderSize > 0 && adjusted < limits.MinOrderSize {
		return 0, fmt.Errorf("size %v below venue minimum %v", adjusted, limits.MinOrderSize)
	}
	return adjusted, nil
}
