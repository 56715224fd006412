package metric

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// MaxDecimalDigits caps the fractional digits Format renders.
const MaxDecimalDigits = 20

// Format renders value truncated toward zero at decimalDigits fractional digits,
// followed by unit. decimalDigits <= 0 truncates to an integer. Trailing zeros
// are dropped, so Format(1.5, 2, "ms") is "1.5ms" and Format(1.999, 2, "") is "1.99".
func Format(value float64, decimalDigits int, unit string) string {
	return truncate(value, decimalDigits) + unit
}

func truncate(value float64, digits int) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	digits = max(0, min(digits, MaxDecimalDigits))
	d := decimal.NewFromFloat(value).Truncate(int32(digits))
	if d.IsZero() {
		return "0"
	}
	return d.String()
}
