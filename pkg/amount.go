package tipjar

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenAmount is an amount in display units (e.g. 5.25 SURGE).
// Always decimal, never a binary float.
type TokenAmount = decimal.Decimal

var ZeroAmount = decimal.Zero

// ToRaw converts a display amount into the token's smallest unit.
// ok is false when the amount has more fractional digits than the token
// supports, i.e. it cannot be represented exactly on-chain.
func ToRaw(amount TokenAmount, decimals int32) (raw *big.Int, ok bool) {
	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, false
	}
	return shifted.BigInt(), true
}

// FromRaw converts a smallest-unit integer into display units.
func FromRaw(raw *big.Int, decimals int32) TokenAmount {
	if raw == nil {
		return ZeroAmount
	}
	return decimal.NewFromBigInt(raw, -decimals)
}
