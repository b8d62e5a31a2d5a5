package stellar

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// StroopsPerUnit is the fixed scale of every Stellar asset amount.
const StroopsPerUnit = 10_000_000

var stroopScale = decimal.NewFromInt(StroopsPerUnit)

// ParseStroops converts a Horizon decimal amount such as "12.5000000" into stroops.
func ParseStroops(amount string) (int64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	scaled := d.Mul(stroopScale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than 7 decimal places", amount)
	}
	return scaled.IntPart(), nil
}

// FormatStroops renders stroops the way Horizon prints amounts.
func FormatStroops(stroops int64) string {
	return decimal.New(stroops, -7).StringFixed(7)
}
