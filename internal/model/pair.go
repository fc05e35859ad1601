package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Pair is a directed trading pair.
type Pair struct {
	TokenIn  common.Address `json:"token_in"`
	TokenOut common.Address `json:"token_out"`
}

// Key is the direction-independent identifier used for thresholds and breakers.
func (p Pair) Key() string {
	return PairKey(p.TokenIn, p.TokenOut)
}

func (p Pair) String() string {
	return p.TokenIn.Hex() + ":" + p.TokenOut.Hex()
}

// PairKey sorts the lowercase addresses and joins them with "/".
func PairKey(a, b common.Address) string {
	x, y := AddressKey(a), AddressKey(b)
	if y < x {
		x, y = y, x
	}
	return x + "/" + y
}

// ParsePair reads "0xIn:0xOut" or "0xIn/0xOut".
func ParsePair(input string) (Pair, error) {
	input = strings.TrimSpace(input)
	sep := ":"
	if !strings.Contains(input, sep) {
		sep = "/"
	}
	parts := strings.Split(input, sep)
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("invalid pair %q", input)
	}
	in, out := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if !common.IsHexAddress(in) || !common.IsHexAddress(out) {
		return Pair{}, fmt.Errorf("invalid pair address in %q", input)
	}
	pair := Pair{TokenIn: common.HexToAddress(in), TokenOut: common.HexToAddress(out)}
	if pair.TokenIn == pair.TokenOut {
		return Pair{}, fmt.Errorf("pair %q trades a token for itself", input)
	}
	return pair, nil
}

// Request is one trading opportunity to evaluate.
type Request struct {
	Pair     Pair     `json:"pair"`
	AmountIn *big.Int `json:"amount_in"`
}
