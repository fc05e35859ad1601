package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Quote is the output of one pool for one input amount in one direction.
// MarginalPrice is output smallest units per input smallest unit near zero size.
type Quote struct {
	PoolID        string          `json:"pool_id"`
	TokenIn       common.Address  `json:"token_in"`
	TokenOut      common.Address  `json:"token_out"`
	AmountIn      *big.Int        `json:"amount_in"`
	AmountOut     *big.Int        `json:"amount_out"`
	MarginalPrice decimal.Decimal `json:"marginal_price"`
}
