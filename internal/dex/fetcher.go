package dex

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"swaprouter/internal/model"
)

const (
	defaultPairFeePips = 3000
	// stable pools report fees on a 1e10 scale, weighted pools on 1e18.
	stableFeeScale   = 10_000
	weightedFeeScale = 1_000_000_000_000
)

// StateFetcher loads the current tradable state of a pool.
type StateFetcher interface {
	FetchPool(ctx context.Context, ref model.PoolRef) (model.Pool, error)
}

// OnChainFetcher reads pool state through eth_call.
type OnChainFetcher struct {
	caller Caller
	logger *zap.Logger
}

func NewOnChainFetcher(caller Caller, logger *zap.Logger) *OnChainFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OnChainFetcher{caller: caller, logger: logger}
}

// FetchPool dispatches on the pool's protocol tag.
func (f *OnChainFetcher) FetchPool(ctx context.Context, ref model.PoolRef) (model.Pool, error) {
	if f.caller == nil {
		return model.Pool{}, fmt.Errorf("chain client is nil")
	}
	pool := model.Pool{
		ID:       ref.ID,
		Protocol: ref.Protocol,
		Address:  ref.Address,
		Tokens:   ref.Tokens,
		FeePips:  ref.FeePips,
	}

	var err error
	switch ref.Protocol {
	case model.ProtocolConstantProduct:
		err = f.fetchPair(ctx, ref, &pool)
	case model.ProtocolConcentrated:
		err = f.fetchConcentrated(ctx, ref, &pool)
	case model.ProtocolStableSwap:
		err = f.fetchStable(ctx, ref, &pool)
	case model.ProtocolWeighted:
		err = f.fetchWeighted(ctx, ref, &pool)
	default:
		err = fmt.Errorf("unsupported protocol %q", ref.Protocol)
	}
	if err != nil {
		return model.Pool{}, fmt.Errorf("fetch pool %s: %w", ref.ID, err)
	}
	pool.FetchedAt = time.Now().UTC()
	return pool, nil
}

func (f *OnChainFetcher) fetchPair(ctx context.Context, ref model.PoolRef, pool *model.Pool) error {
	parsed, err := pairABI.get()
	if err != nil {
		return fmt.Errorf("parse pair abi: %w", err)
	}
	values, err := callMethod(ctx, f.caller, ref.Address, parsed, "getReserves", nil)
	if err != nil {
		return err
	}
	if len(values) < 2 {
		return fmt.Errorf("getReserves: short result")
	}
	reserve0, err := asBigInt(values[0])
	if err != nil {
		return fmt.Errorf("reserve0: %w", err)
	}
	reserve1, err := asBigInt(values[1])
	if err != nil {
		return fmt.Errorf("reserve1: %w", err)
	}
	pool.Reserves = []*big.Int{reserve0, reserve1}
	if pool.FeePips == 0 {
		pool.FeePips = defaultPairFeePips
	}
	return nil
}

func (f *OnChainFetcher) fetchConcentrated(ctx context.Context, ref model.PoolRef, pool *model.Pool) error {
	parsed, err := v3PoolABI.get()
	if err != nil {
		return fmt.Errorf("parse pool abi: %w", err)
	}

	values, err := callMethod(ctx, f.caller, ref.Address, parsed, "slot0", nil)
	if err != nil {
		return err
	}
	if pool.SqrtPriceX96, err = asBigInt(values[0]); err != nil {
		return fmt.Errorf("slot0: %w", err)
	}

	values, err = callMethod(ctx, f.caller, ref.Address, parsed, "liquidity", nil)
	if err != nil {
		return err
	}
	if pool.Liquidity, err = asBigInt(values[0]); err != nil {
		return fmt.Errorf("liquidity: %w", err)
	}

	values, err = callMethod(ctx, f.caller, ref.Address, parsed, "fee", nil)
	if err != nil {
		return err
	}
	fee, err := asBigInt(values[0])
	if err != nil {
		return fmt.Errorf("fee: %w", err)
	}
	pool.FeePips = uint32(fee.Uint64())
	return nil
}

func (f *OnChainFetcher) fetchStable(ctx context.Context, ref model.PoolRef, pool *model.Pool) error {
	parsed, err := stablePoolABI.get()
	if err != nil {
		return fmt.Errorf("parse stable pool abi: %w", err)
	}

	values, err := callMethod(ctx, f.caller, ref.Address, parsed, "A", nil)
	if err != nil {
		return err
	}
	if pool.Amplification, err = asBigInt(values[0]); err != nil {
		return fmt.Errorf("A: %w", err)
	}

	values, err = callMethod(ctx, f.caller, ref.Address, parsed, "fee", nil)
	if err != nil {
		return err
	}
	fee, err := asBigInt(values[0])
	if err != nil {
		return fmt.Errorf("fee: %w", err)
	}
	pool.FeePips = uint32(fee.Quo(fee, big.NewInt(stableFeeScale)).Uint64())

	pool.Reserves = make([]*big.Int, len(ref.Tokens))
	for i := range ref.Tokens {
		values, err := callMethod(ctx, f.caller, ref.Address, parsed, "balances", nil, big.NewInt(int64(i)))
		if err != nil {
			return err
		}
		if pool.Reserves[i], err = asBigInt(values[0]); err != nil {
			return fmt.Errorf("balances(%d): %w", i, err)
		}
	}
	return nil
}

func (f *OnChainFetcher) fetchWeighted(ctx context.Context, ref model.PoolRef, pool *model.Pool) error {
	vault, err := vaultABI.get()
	if err != nil {
		return fmt.Errorf("parse vault abi: %w", err)
	}
	poolABI, err := weightedPoolABI.get()
	if err != nil {
		return fmt.Errorf("parse weighted pool abi: %w", err)
	}

	values, err := callMethod(ctx, f.caller, ref.Vault, vault, "getPoolTokens", nil, [32]byte(ref.VaultPoolID))
	if err != nil {
		return err
	}
	if len(values) < 2 {
		return fmt.Errorf("getPoolTokens: short result")
	}
	tokens, ok := values[0].([]common.Address)
	if !ok {
		return fmt.Errorf("getPoolTokens: unsupported tokens type %T", values[0])
	}
	balances, ok := values[1].([]*big.Int)
	if !ok || len(balances) != len(tokens) {
		return fmt.Errorf("getPoolTokens: unsupported balances type %T", values[1])
	}

	values, err = callMethod(ctx, f.caller, ref.Address, poolABI, "getNormalizedWeights", nil)
	if err != nil {
		return err
	}
	rawWeights, ok := values[0].([]*big.Int)
	if !ok || len(rawWeights) != len(tokens) {
		return fmt.Errorf("getNormalizedWeights: unsupported type %T", values[0])
	}

	values, err = callMethod(ctx, f.caller, ref.Address, poolABI, "getSwapFeePercentage", nil)
	if err != nil {
		return err
	}
	fee, err := asBigInt(values[0])
	if err != nil {
		return fmt.Errorf("swap fee: %w", err)
	}
	pool.FeePips = uint32(fee.Quo(fee, big.NewInt(weightedFeeScale)).Uint64())

	// Vault order may differ from configured order.
	pool.Reserves = make([]*big.Int, len(ref.Tokens))
	pool.Weights = make([]decimal.Decimal, len(ref.Tokens))
	for i, token := range ref.Tokens {
		found := false
		for k, addr := range tokens {
			if addr != token.Address {
				continue
			}
			pool.Reserves[i] = new(big.Int).Set(balances[k])
			pool.Weights[i] = decimal.NewFromBigInt(rawWeights[k], -18)
			found = true
			break
		}
		if !found {
			return fmt.Errorf("token %s not registered in vault pool", token.Address.Hex())
		}
	}
	return nil
}

// StaticFetcher serves configured pool state.
type StaticFetcher struct {
	mu    sync.RWMutex
	pools map[string]model.Pool
}

func NewStaticFetcher(pools map[string]model.Pool) *StaticFetcher {
	copied := make(map[string]model.Pool, len(pools))
	for id, pool := range pools {
		copied[id] = pool
	}
	return &StaticFetcher{pools: copied}
}

// Set replaces the state served for a pool.
func (f *StaticFetcher) Set(pool model.Pool) {
	f.mu.Lock()
	f.pools[pool.ID] = pool
	f.mu.Unlock()
}

func (f *StaticFetcher) FetchPool(ctx context.Context, ref model.PoolRef) (model.Pool, error) {
	if err := ctx.Err(); err != nil {
		return model.Pool{}, err
	}
	f.mu.RLock()
	pool, ok := f.pools[ref.ID]
	f.mu.RUnlock()
	if !ok {
		return model.Pool{}, unavailable(ref.ID, "no static state configured")
	}
	pool.FetchedAt = time.Now().UTC()
	return pool, nil
}
