package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swaprouter/internal/model"
)

// PoolConfig is one configured pool. State fields are optional; when set
// the pool is served from configuration instead of chain reads.
type PoolConfig struct {
	ID          string   `mapstructure:"id"`
	Protocol    string   `mapstructure:"protocol"`
	Address     string   `mapstructure:"address"`
	Tokens      []string `mapstructure:"tokens"`
	Router      string   `mapstructure:"router"`
	Vault       string   `mapstructure:"vault"`
	VaultPoolID string   `mapstructure:"vault-pool-id"`
	FeePips     uint32   `mapstructure:"fee-pips"`

	Reserves      []string `mapstructure:"reserves"`
	SqrtPriceX96  string   `mapstructure:"sqrt-price-x96"`
	Liquidity     string   `mapstructure:"liquidity"`
	Amplification string   `mapstructure:"amplification"`
	Weights       []string `mapstructure:"weights"`
}

// Ref resolves the pool identity. Token decimals must be configured for
// every pool token.
func (p PoolConfig) Ref(decimals map[common.Address]uint8) (model.PoolRef, error) {
	protocol, err := model.ParseProtocol(p.Protocol)
	if err != nil {
		return model.PoolRef{}, err
	}
	if !common.IsHexAddress(p.Address) {
		return model.PoolRef{}, fmt.Errorf("invalid pool address %q", p.Address)
	}
	if len(p.Tokens) < 2 {
		return model.PoolRef{}, fmt.Errorf("pool %s needs at least two tokens", p.Address)
	}
	if protocol != model.ProtocolStableSwap && protocol != model.ProtocolWeighted && len(p.Tokens) != 2 {
		return model.PoolRef{}, fmt.Errorf("%s pool %s trades exactly two tokens", protocol, p.Address)
	}

	ref := model.PoolRef{
		ID:       strings.TrimSpace(p.ID),
		Protocol: protocol,
		Address:  common.HexToAddress(p.Address),
		FeePips:  p.FeePips,
	}
	if ref.ID == "" {
		ref.ID = model.AddressKey(ref.Address)
	}
	for _, raw := range p.Tokens {
		if !common.IsHexAddress(raw) {
			return model.PoolRef{}, fmt.Errorf("invalid token address %q", raw)
		}
		addr := common.HexToAddress(raw)
		dec, ok := decimals[addr]
		if !ok {
			return model.PoolRef{}, fmt.Errorf("missing decimals for token %s", addr.Hex())
		}
		ref.Tokens = append(ref.Tokens, model.Token{Address: addr, Decimals: dec})
	}
	if p.Router != "" {
		if !common.IsHexAddress(p.Router) {
			return model.PoolRef{}, fmt.Errorf("invalid router address %q", p.Router)
		}
		ref.Router = common.HexToAddress(p.Router)
	}
	if protocol == model.ProtocolWeighted {
		if !common.IsHexAddress(p.Vault) {
			return model.PoolRef{}, fmt.Errorf("weighted pool %s needs a vault", p.Address)
		}
		ref.Vault = common.HexToAddress(p.Vault)
		ref.VaultPoolID = common.HexToHash(p.VaultPoolID)
	}
	return ref, nil
}

// HasState reports whether the pool carries static state.
func (p PoolConfig) HasState() bool {
	return len(p.Reserves) > 0 || p.SqrtPriceX96 != ""
}

// State builds a pool snapshot from the configured state.
func (p PoolConfig) State(ref model.PoolRef) (model.Pool, error) {
	pool := model.Pool{
		ID:        ref.ID,
		Protocol:  ref.Protocol,
		Address:   ref.Address,
		Tokens:    ref.Tokens,
		FeePips:   ref.FeePips,
		FetchedAt: time.Now().UTC(),
	}
	for _, raw := range p.Reserves {
		reserve, err := parseBigInt("reserve", raw)
		if err != nil {
			return model.Pool{}, err
		}
		pool.Reserves = append(pool.Reserves, reserve)
	}
	var err error
	if pool.SqrtPriceX96, err = parseBigInt("sqrt-price-x96", p.SqrtPriceX96); err != nil {
		return model.Pool{}, err
	}
	if pool.Liquidity, err = parseBigInt("liquidity", p.Liquidity); err != nil {
		return model.Pool{}, err
	}
	if pool.Amplification, err = parseBigInt("amplification", p.Amplification); err != nil {
		return model.Pool{}, err
	}
	for _, raw := range p.Weights {
		weight, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return model.Pool{}, fmt.Errorf("invalid weight %q", raw)
		}
		pool.Weights = append(pool.Weights, weight)
	}
	if len(pool.Reserves) > 0 && len(pool.Reserves) != len(pool.Tokens) {
		return model.Pool{}, fmt.Errorf("pool %s has %d reserves for %d tokens", ref.ID, len(pool.Reserves), len(pool.Tokens))
	}
	if len(pool.Weights) > 0 && len(pool.Weights) != len(pool.Tokens) {
		return model.Pool{}, fmt.Errorf("pool %s has %d weights for %d tokens", ref.ID, len(pool.Weights), len(pool.Tokens))
	}
	return pool, nil
}
