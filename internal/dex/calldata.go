package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"swaprouter/internal/model"
)

// SwapParams are the per-hop economic bounds of an encoded swap.
type SwapParams struct {
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Recipient    common.Address
	// Sender funds vault swaps; zero means Recipient.
	Sender   common.Address
	Deadline *big.Int
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

type singleSwap struct {
	PoolId   [32]byte
	Kind     uint8
	AssetIn  common.Address
	AssetOut common.Address
	Amount   *big.Int
	UserData []byte
}

type fundManagement struct {
	Sender              common.Address
	FromInternalBalance bool
	Recipient           common.Address
	ToInternalBalance   bool
}

// Spender returns the contract that pulls input tokens for ref's swaps.
func Spender(ref model.PoolRef) common.Address {
	switch ref.Protocol {
	case model.ProtocolStableSwap:
		if ref.Router != (common.Address{}) {
			return ref.Router
		}
		return ref.Address
	case model.ProtocolWeighted:
		return ref.Vault
	default:
		return ref.Router
	}
}

// EncodeSwap builds the swap call for one hop.
func EncodeSwap(ref model.PoolRef, hop model.Hop, params SwapParams) (model.Call, error) {
	target := Spender(ref)
	if target == (common.Address{}) {
		return model.Call{}, fmt.Errorf("pool %s has no router configured", ref.ID)
	}
	minOut := params.MinAmountOut
	if minOut == nil {
		minOut = new(big.Int)
	}

	var (
		data []byte
		err  error
	)
	switch ref.Protocol {
	case model.ProtocolConstantProduct:
		parsed, perr := v2RouterABI.get()
		if perr != nil {
			return model.Call{}, fmt.Errorf("parse router abi: %w", perr)
		}
		path := []common.Address{hop.TokenIn, hop.TokenOut}
		data, err = parsed.Pack("swapExactTokensForTokens", params.AmountIn, minOut, path, params.Recipient, params.Deadline)
	case model.ProtocolConcentrated:
		parsed, perr := v3RouterABI.get()
		if perr != nil {
			return model.Call{}, fmt.Errorf("parse router abi: %w", perr)
		}
		data, err = parsed.Pack("exactInputSingle", exactInputSingleParams{
			TokenIn:           hop.TokenIn,
			TokenOut:          hop.TokenOut,
			Fee:               new(big.Int).SetUint64(uint64(ref.FeePips)),
			Recipient:         params.Recipient,
			Deadline:          params.Deadline,
			AmountIn:          params.AmountIn,
			AmountOutMinimum:  minOut,
			SqrtPriceLimitX96: new(big.Int),
		})
	case model.ProtocolStableSwap:
		parsed, perr := stablePoolABI.get()
		if perr != nil {
			return model.Call{}, fmt.Errorf("parse stable pool abi: %w", perr)
		}
		i, j := indexOf(ref.Tokens, hop.TokenIn), indexOf(ref.Tokens, hop.TokenOut)
		if i < 0 || j < 0 {
			return model.Call{}, fmt.Errorf("pool %s does not trade hop tokens", ref.ID)
		}
		data, err = parsed.Pack("exchange", big.NewInt(int64(i)), big.NewInt(int64(j)), params.AmountIn, minOut)
	case model.ProtocolWeighted:
		parsed, perr := vaultABI.get()
		if perr != nil {
			return model.Call{}, fmt.Errorf("parse vault abi: %w", perr)
		}
		sender := params.Sender
		if sender == (common.Address{}) {
			sender = params.Recipient
		}
		data, err = parsed.Pack("swap",
			singleSwap{
				PoolId:   ref.VaultPoolID,
				Kind:     0,
				AssetIn:  hop.TokenIn,
				AssetOut: hop.TokenOut,
				Amount:   params.AmountIn,
				UserData: []byte{},
			},
			fundManagement{Sender: sender, Recipient: params.Recipient},
			minOut,
			params.Deadline,
		)
	default:
		return model.Call{}, fmt.Errorf("unsupported protocol %q", ref.Protocol)
	}
	if err != nil {
		return model.Call{}, fmt.Errorf("encode swap for pool %s: %w", ref.ID, err)
	}

	return model.Call{
		Target: target,
		Data:   data,
		Label:  fmt.Sprintf("swap:%s", ref.ID),
	}, nil
}

// EncodeApprove builds an ERC20 approve call.
func EncodeApprove(token, spender common.Address, amount *big.Int) (model.Call, error) {
	parsed, err := erc20ABIString.get()
	if err != nil {
		return model.Call{}, fmt.Errorf("parse erc20 abi: %w", err)
	}
	data, err := parsed.Pack("approve", spender, amount)
	if err != nil {
		return model.Call{}, fmt.Errorf("encode approve: %w", err)
	}
	return model.Call{Target: token, Data: data, Label: "approve:" + model.AddressKey(token)}, nil
}

// DecodeSwapOutput reads the output amount returned by a swap call.
func DecodeSwapOutput(protocol model.Protocol, ret []byte) (*big.Int, error) {
	var (
		method string
		lazy   *lazyABI
	)
	switch protocol {
	case model.ProtocolConstantProduct:
		method, lazy = "swapExactTokensForTokens", v2RouterABI
	case model.ProtocolConcentrated:
		method, lazy = "exactInputSingle", v3RouterABI
	case model.ProtocolStableSwap:
		method, lazy = "exchange", stablePoolABI
	case model.ProtocolWeighted:
		method, lazy = "swap", vaultABI
	default:
		return nil, fmt.Errorf("unsupported protocol %q", protocol)
	}
	parsed, err := lazy.get()
	if err != nil {
		return nil, err
	}
	values, err := parsed.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	if amounts, ok := values[0].([]*big.Int); ok {
		if len(amounts) == 0 {
			return nil, fmt.Errorf("unpack %s: empty amounts", method)
		}
		return amounts[len(amounts)-1], nil
	}
	return asBigInt(values[0])
}

func indexOf(tokens []model.Token, addr common.Address) int {
	for i, token := range tokens {
		if token.Address == addr {
			return i
		}
	}
	return -1
}
