package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call is one contract invocation produced for a plan.
type Call struct {
	Target   common.Address `json:"target"`
	Data     []byte         `json:"data"`
	Value    *big.Int       `json:"value,omitempty"`
	GasLimit uint64         `json:"gas_limit"`
	Label    string         `json:"label,omitempty"`
}
