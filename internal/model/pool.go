package model

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Protocol tags the pricing model of a pool.
type Protocol string

const (
	ProtocolConstantProduct Protocol = "constant_product"
	ProtocolConcentrated    Protocol = "concentrated"
	ProtocolStableSwap      Protocol = "stable_swap"
	ProtocolWeighted        Protocol = "weighted"
)

// Protocols lists every supported variant.
var Protocols = []Protocol{
	ProtocolConstantProduct,
	ProtocolConcentrated,
	ProtocolStableSwap,
	ProtocolWeighted,
}

// ParseProtocol accepts the canonical tag and a few common aliases.
func ParseProtocol(input string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "constant_product", "v2", "uniswap_v2", "pair":
		return ProtocolConstantProduct, nil
	case "concentrated", "v3", "uniswap_v3", "clmm":
		return ProtocolConcentrated, nil
	case "stable_swap", "stable", "curve":
		return ProtocolStableSwap, nil
	case "weighted", "balancer":
		return ProtocolWeighted, nil
	default:
		return "", fmt.Errorf("unknown protocol: %s", input)
	}
}

// PoolRef is the configured identity of a pool. Its tradable state is
// fetched fresh every cycle.
type PoolRef struct {
	ID       string         `json:"id"`
	Protocol Protocol       `json:"protocol"`
	Address  common.Address `json:"address"`
	Tokens   []Token        `json:"tokens"`
	// Router receives swap calls for this pool; stable pools are their own router.
	Router common.Address `json:"router,omitempty"`
	// Weighted pools are addressed through a vault by a 32-byte pool id.
	VaultPoolID common.Hash    `json:"vault_pool_id,omitempty"`
	Vault       common.Address `json:"vault,omitempty"`
	// Fee applied when the pool does not expose one on-chain.
	FeePips uint32 `json:"fee_pips,omitempty"`
}

// Pool is a state snapshot of one pool. FeePips is parts per million.
type Pool struct {
	ID        string         `json:"id"`
	Protocol  Protocol       `json:"protocol"`
	Address   common.Address `json:"address"`
	Tokens    []Token        `json:"tokens"`
	FeePips   uint32         `json:"fee_pips"`
	FetchedAt time.Time      `json:"fetched_at"`

	Reserves      []*big.Int        `json:"reserves,omitempty"`
	SqrtPriceX96  *big.Int          `json:"sqrt_price_x96,omitempty"`
	Liquidity     *big.Int          `json:"liquidity,omitempty"`
	Amplification *big.Int          `json:"amplification,omitempty"`
	Weights       []decimal.Decimal `json:"weights,omitempty"`
}

// IndexOf returns the position of token in the pool, or -1.
func (p Pool) IndexOf(token common.Address) int {
	for i, t := range p.Tokens {
		if t.Address == token {
			return i
		}
	}
	return -1
}

// Ref returns the configured identity of the snapshot.
func (p Pool) Ref() PoolRef {
	return PoolRef{ID: p.ID, Protocol: p.Protocol, Address: p.Address, Tokens: p.Tokens, FeePips: p.FeePips}
}
