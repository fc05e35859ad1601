package submit

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// OutputDecoder extracts the final output amount from call return data.
type OutputDecoder func(ret []byte) (*big.Int, error)

// Simulator predicts a transaction's output against a recent snapshot.
type Simulator interface {
	SimulateOutput(ctx context.Context, from common.Address, tx *types.Transaction, decode OutputDecoder) (*big.Int, error)
}

// Caller runs read-only calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ForkSimulator eth_calls transactions against a fork or archive node at
// its latest block.
type ForkSimulator struct {
	caller Caller
}

func NewForkSimulator(caller Caller) *ForkSimulator {
	return &ForkSimulator{caller: caller}
}

func (s *ForkSimulator) SimulateOutput(ctx context.Context, from common.Address, tx *types.Transaction, decode OutputDecoder) (*big.Int, error) {
	ret, err := s.caller.CallContract(ctx, CallMsg(from, tx), nil)
	if err != nil {
		return nil, fmt.Errorf("simulate: %w", err)
	}
	out, err := decode(ret)
	if err != nil {
		return nil, fmt.Errorf("decode simulation: %w", err)
	}
	return out, nil
}

// CallMsg mirrors tx as an eth_call from sender.
func CallMsg(from common.Address, tx *types.Transaction) ethereum.CallMsg {
	return ethereum.CallMsg{
		From:      from,
		To:        tx.To(),
		Gas:       tx.Gas(),
		GasFeeCap: tx.GasFeeCap(),
		GasTipCap: tx.GasTipCap(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	}
}
