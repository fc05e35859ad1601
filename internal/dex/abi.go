package dex

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const pairABIJSON = `[
  {
    "inputs": [],
    "name": "getReserves",
    "outputs": [
      {"internalType": "uint112", "name": "reserve0", "type": "uint112"},
      {"internalType": "uint112", "name": "reserve1", "type": "uint112"},
      {"internalType": "uint32", "name": "blockTimestampLast", "type": "uint32"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

const v3PoolABIJSON = `[
  {
    "inputs": [],
    "name": "fee",
    "outputs": [{"internalType": "uint24", "name": "", "type": "uint24"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "liquidity",
    "outputs": [{"internalType": "uint128", "name": "", "type": "uint128"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "slot0",
    "outputs": [
      {"internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
      {"internalType": "int24", "name": "tick", "type": "int24"},
      {"internalType": "uint16", "name": "observationIndex", "type": "uint16"},
      {"internalType": "uint16", "name": "observationCardinality", "type": "uint16"},
      {"internalType": "uint16", "name": "observationCardinalityNext", "type": "uint16"},
      {"internalType": "uint8", "name": "feeProtocol", "type": "uint8"},
      {"internalType": "bool", "name": "unlocked", "type": "bool"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

const stablePoolABIJSON = `[
  {"inputs": [], "name": "A", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "fee", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "i", "type": "uint256"}], "name": "balances", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {
    "inputs": [
      {"name": "i", "type": "int128"},
      {"name": "j", "type": "int128"},
      {"name": "dx", "type": "uint256"},
      {"name": "min_dy", "type": "uint256"}
    ],
    "name": "exchange",
    "outputs": [{"type": "uint256"}],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

const weightedPoolABIJSON = `[
  {"inputs": [], "name": "getNormalizedWeights", "outputs": [{"type": "uint256[]"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "getSwapFeePercentage", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const vaultABIJSON = `[
  {
    "inputs": [{"name": "poolId", "type": "bytes32"}],
    "name": "getPoolTokens",
    "outputs": [
      {"name": "tokens", "type": "address[]"},
      {"name": "balances", "type": "uint256[]"},
      {"name": "lastChangeBlock", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {
        "components": [
          {"name": "poolId", "type": "bytes32"},
          {"name": "kind", "type": "uint8"},
          {"name": "assetIn", "type": "address"},
          {"name": "assetOut", "type": "address"},
          {"name": "amount", "type": "uint256"},
          {"name": "userData", "type": "bytes"}
        ],
        "name": "singleSwap",
        "type": "tuple"
      },
      {
        "components": [
          {"name": "sender", "type": "address"},
          {"name": "fromInternalBalance", "type": "bool"},
          {"name": "recipient", "type": "address"},
          {"name": "toInternalBalance", "type": "bool"}
        ],
        "name": "funds",
        "type": "tuple"
      },
      {"name": "limit", "type": "uint256"},
      {"name": "deadline", "type": "uint256"}
    ],
    "name": "swap",
    "outputs": [{"name": "amountCalculated", "type": "uint256"}],
    "stateMutability": "payable",
    "type": "function"
  }
]`

const v2RouterABIJSON = `[
  {
    "inputs": [
      {"name": "amountIn", "type": "uint256"},
      {"name": "amountOutMin", "type": "uint256"},
      {"name": "path", "type": "address[]"},
      {"name": "to", "type": "address"},
      {"name": "deadline", "type": "uint256"}
    ],
    "name": "swapExactTokensForTokens",
    "outputs": [{"name": "amounts", "type": "uint256[]"}],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

const v3RouterABIJSON = `[
  {
    "inputs": [
      {
        "components": [
          {"name": "tokenIn", "type": "address"},
          {"name": "tokenOut", "type": "address"},
          {"name": "fee", "type": "uint24"},
          {"name": "recipient", "type": "address"},
          {"name": "deadline", "type": "uint256"},
          {"name": "amountIn", "type": "uint256"},
          {"name": "amountOutMinimum", "type": "uint256"},
          {"name": "sqrtPriceLimitX96", "type": "uint160"}
        ],
        "name": "params",
        "type": "tuple"
      }
    ],
    "name": "exactInputSingle",
    "outputs": [{"name": "amountOut", "type": "uint256"}],
    "stateMutability": "payable",
    "type": "function"
  }
]`

// lazyABI parses its JSON once on first use.
type lazyABI struct {
	json   string
	once   sync.Once
	parsed abi.ABI
	err    error
}

func (l *lazyABI) get() (abi.ABI, error) {
	l.once.Do(func() {
		l.parsed, l.err = abi.JSON(strings.NewReader(l.json))
	})
	return l.parsed, l.err
}

var (
	pairABI         = &lazyABI{json: pairABIJSON}
	v3PoolABI       = &lazyABI{json: v3PoolABIJSON}
	stablePoolABI   = &lazyABI{json: stablePoolABIJSON}
	weightedPoolABI = &lazyABI{json: weightedPoolABIJSON}
	vaultABI        = &lazyABI{json: vaultABIJSON}
	v2RouterABI     = &lazyABI{json: v2RouterABIJSON}
	v3RouterABI     = &lazyABI{json: v3RouterABIJSON}
)
