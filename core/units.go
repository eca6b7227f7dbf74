package core

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const etherDecimals int32 = 18 // 1 ether = 10^18 wei

var maxWei = decimal.NewFromUint64(math.MaxUint64)

// ParseEther converts a decimal ether string ("0.05") to wei. Amounts in the
// encrypted domain are 64-bit, so values above ~18.44 ether are rejected, as
// are negative values and precision finer than one wei.
func ParseEther(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse ether amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("ether amount %q is negative", s)
	}

	wei := d.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return 0, fmt.Errorf("ether amount %q has more than %d decimals", s, etherDecimals)
	}
	if wei.GreaterThan(maxWei) {
		return 0, fmt.Errorf("ether amount %q exceeds the 64-bit wei range", s)
	}
	return wei.BigInt().Uint64(), nil
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei uint64) string {
	return decimal.NewFromUint64(wei).Shift(-etherDecimals).String()
}

// MeetsFloor reports whether amount is at least floor.
func MeetsFloor(amount, floor uint64) bool {
	return amount >= floor
}
