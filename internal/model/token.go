package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token is an ERC20 identified by address with its decimal exponent.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol,omitempty"`
	Decimals uint8          `json:"decimals"`
}

// ToUnits converts a human amount into the token's smallest integer unit.
// The conversion is exact: amounts with more fractional digits than the
// token supports are rejected rather than rounded.
func ToUnits(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("negative amount: %s", amount.String())
	}
	shifted := amount.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %s exceeds %d decimals", amount.String(), decimals)
	}
	return shifted.BigInt(), nil
}

// FromUnits converts smallest units back into a human amount.
func FromUnits(units *big.Int, decimals uint8) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -int32(decimals))
}

// AddressKey is the canonical lowercase hex form used for map keys.
func AddressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
