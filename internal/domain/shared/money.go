package shared

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount in integer minor units. All accumulation happens in Cents;
// decimal values only exist at the display boundary.
type Cents = int64

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a display amount such as "25.50" into minor units.
// More than two decimal places is rejected rather than rounded.
func ParseAmount(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal display amount into minor units.
func FromDecimal(d decimal.Decimal) (Cents, error) {
	minor := d.Mul(hundred)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, d.String())
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d.String())
	}
	return minor.IntPart(), nil
}

// ToDecimal converts minor units to a decimal display amount.
func ToDecimal(c Cents) decimal.Decimal {
	return decimal.New(c, -2)
}

// FormatAmount renders minor units with exactly two decimal places.
func FormatAmount(c Cents) string {
	return ToDecimal(c).StringFixed(2)
}

// RequirePositive rejects zero and negative amounts.
func RequirePositive(c Cents) error {
	if c <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, FormatAmount(c))
	}
	return nil
}
