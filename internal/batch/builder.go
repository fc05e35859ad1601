package batch

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"swaprouter/internal/model"
)

// Reorder strategies applied to bundles before encoding.
const (
	ReorderNone    = "none"
	ReorderGasDesc = "gas-desc"
	ReorderSizeAsc = "size-asc"
)

// Bundle is a group of calls that must stay contiguous and in order.
// Bundles in the same stage are independent of each other and may be
// reordered; stages always execute in ascending order.
type Bundle struct {
	Label string
	Stage int
	Calls []model.Call
}

func (b Bundle) gas() uint64 {
	var total uint64
	for _, call := range b.Calls {
		total += call.GasLimit
	}
	return total
}

func (b Bundle) size() int {
	total := 0
	for _, call := range b.Calls {
		total += len(call.Data)
	}
	return total
}

// Payload is one atomic multicall transaction.
type Payload struct {
	Target   common.Address
	Data     []byte
	Calls    []model.Call
	GasLimit uint64
}

// Builder merges bundles into a Multicall3 aggregate3 payload. Every call is
// encoded with allowFailure=false so any failing call reverts the batch.
type Builder struct {
	Target   common.Address
	Strategy string
	BaseGas  uint64
}

// Build orders the bundles and encodes the merged payload.
func (b *Builder) Build(bundles []Bundle) (Payload, error) {
	if b.Target == (common.Address{}) {
		return Payload{}, &model.ConfigError{Field: "multicall", Reason: "batch target not configured"}
	}
	ordered, err := Reorder(bundles, b.Strategy)
	if err != nil {
		return Payload{}, err
	}

	var (
		calls   []model.Call
		encoded []call3
		gasSum  uint64
	)
	for _, bundle := range ordered {
		for _, call := range bundle.Calls {
			if call.Value != nil && call.Value.Sign() != 0 {
				return Payload{}, fmt.Errorf("batch call %s carries value", call.Label)
			}
			calls = append(calls, cloneCall(call))
			encoded = append(encoded, call3{Target: call.Target, CallData: call.Data})
			gasSum += call.GasLimit
		}
	}
	if len(calls) == 0 {
		return Payload{}, fmt.Errorf("empty batch")
	}

	parsed, err := multicallABI()
	if err != nil {
		return Payload{}, err
	}
	data, err := parsed.Pack("aggregate3", encoded)
	if err != nil {
		return Payload{}, fmt.Errorf("pack aggregate3: %w", err)
	}

	gasLimit := b.BaseGas * uint64(len(calls))
	if gasSum > gasLimit {
		gasLimit = gasSum
	}
	if gasLimit < b.BaseGas {
		gasLimit = b.BaseGas
	}
	return Payload{Target: b.Target, Data: data, Calls: calls, GasLimit: gasLimit}, nil
}

// Reorder returns the bundles sorted by stage and then by strategy. The
// sort is stable and never splits a bundle.
func Reorder(bundles []Bundle, strategy string) ([]Bundle, error) {
	out := make([]Bundle, len(bundles))
	copy(out, bundles)

	var less func(a, b Bundle) bool
	switch strategy {
	case "", ReorderNone:
	case ReorderGasDesc:
		less = func(a, b Bundle) bool { return a.gas() > b.gas() }
	case ReorderSizeAsc:
		less = func(a, b Bundle) bool { return a.size() < b.size() }
	default:
		return nil, &model.ConfigError{Field: "reorder", Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		if less == nil {
			return false
		}
		return less(out[i], out[j])
	})
	return out, nil
}

// Caller runs read-only calls against chain state.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Preflight eth_calls the payload from sender and returns each call's return
// data. Any failing call reverts the whole call.
func Preflight(ctx context.Context, caller Caller, from common.Address, payload Payload) ([][]byte, error) {
	ret, err := caller.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &payload.Target,
		Gas:  payload.GasLimit,
		Data: payload.Data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("batch preflight: %w", err)
	}

	results, err := DecodeResults(ret)
	if err != nil {
		return nil, err
	}
	if len(results) != len(payload.Calls) {
		return nil, fmt.Errorf("batch preflight returned %d results for %d calls", len(results), len(payload.Calls))
	}
	for i, r := range results {
		if r == nil {
			return nil, fmt.Errorf("batch call %d (%s) failed: %w", i, payload.Calls[i].Label, model.ErrRevert)
		}
	}
	return results, nil
}

// DecodeResults unpacks aggregate3 return data. Failed calls map to nil.
func DecodeResults(ret []byte) ([][]byte, error) {
	parsed, err := multicallABI()
	if err != nil {
		return nil, err
	}
	values, err := parsed.Unpack("aggregate3", ret)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate3 result: %w", err)
	}
	var results []result
	if err := parsed.Methods["aggregate3"].Outputs.Copy(&results, values); err != nil {
		return nil, fmt.Errorf("copy aggregate3 result: %w", err)
	}
	out := make([][]byte, len(results))
	for i, r := range results {
		if r.Success {
			out[i] = append([]byte{}, r.ReturnData...)
		}
	}
	return out, nil
}

func cloneCall(call model.Call) model.Call {
	out := call
	out.Data = append([]byte(nil), call.Data...)
	if call.Value != nil {
		out.Value = new(big.Int).Set(call.Value)
	}
	return out
}
