package transfer

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/veriteos/tokenflow/types"
)

// TokenDecimals is the token's fixed decimal precision.
const TokenDecimals int32 = 18

// ToBaseUnits converts a user-entered display amount into base units scaled
// by 10^decimals. Empty, non-numeric, zero and negative inputs fail, and so
// does anything with more fractional digits than the token carries: precision
// is never silently truncated.
func ToBaseUnits(amount string, decimals int32) (*big.Int, error) {
	if amount == "" {
		return nil, types.NewError(types.ErrInvalidAmount, "amount is empty", nil)
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidAmount, "amount is not a valid decimal", err)
	}
	if !d.IsPositive() {
		return nil, types.NewError(types.ErrInvalidAmount, "amount must be positive", nil)
	}

	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, types.NewError(types.ErrInvalidAmount, "amount has more precision than the token supports", nil)
	}
	return scaled.BigInt(), nil
}

// FromBaseUnits renders base units back as a display amount at the token's
// fixed precision, the inverse of ToBaseUnits.
func FromBaseUnits(v *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(v, -decimals).StringFixed(decimals)
}
