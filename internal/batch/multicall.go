package batch

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const multicallABIJSON = `[
  {
    "inputs": [
      {
        "components": [
          {"name": "target", "type": "address"},
          {"name": "allowFailure", "type": "bool"},
          {"name": "callData", "type": "bytes"}
        ],
        "name": "calls",
        "type": "tuple[]"
      }
    ],
    "name": "aggregate3",
    "outputs": [
      {
        "components": [
          {"name": "success", "type": "bool"},
          {"name": "returnData", "type": "bytes"}
        ],
        "name": "returnData",
        "type": "tuple[]"
      }
    ],
    "stateMutability": "payable",
    "type": "function"
  }
]`

var multicallABI = sync.OnceValues(func() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(multicallABIJSON))
})

// call3 mirrors the Multicall3 Call3 struct.
type call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// result mirrors the Multicall3 Result struct.
type result struct {
	Success    bool
	ReturnData []byte
}
