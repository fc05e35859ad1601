package dex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"swaprouter/internal/model"
)

// fakeCaller answers eth_call by 4-byte selector.
type fakeCaller struct {
	responses map[string][]byte
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	resp, ok := f.responses[string(msg.Data[:4])]
	if !ok {
		return nil, fmt.Errorf("unexpected selector %x", msg.Data[:4])
	}
	return resp, nil
}

func packOutputs(t *testing.T, parsed abi.ABI, method string, values ...interface{}) (string, []byte) {
	t.Helper()
	m, ok := parsed.Methods[method]
	if !ok {
		t.Fatalf("missing method %s", method)
	}
	out, err := m.Outputs.Pack(values...)
	if err != nil {
		t.Fatalf("pack %s: %v", method, err)
	}
	return string(m.ID), out
}

func TestOnChainFetcherPair(t *testing.T) {
	parsed, err := pairABI.get()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	selector, resp := packOutputs(t, parsed, "getReserves", big.NewInt(5000), big.NewInt(7000), uint32(1))
	fetcher := NewOnChainFetcher(&fakeCaller{responses: map[string][]byte{selector: resp}}, nil)

	ref := model.PoolRef{
		ID:       "pair",
		Protocol: model.ProtocolConstantProduct,
		Address:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Tokens:   []model.Token{tokenA, tokenB},
	}
	pool, err := fetcher.FetchPool(context.Background(), ref)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if pool.Reserves[0].Int64() != 5000 || pool.Reserves[1].Int64() != 7000 {
		t.Fatalf("reserves mismatch: %v", pool.Reserves)
	}
	if pool.FeePips != defaultPairFeePips {
		t.Fatalf("fee mismatch: %d", pool.FeePips)
	}
	if pool.FetchedAt.IsZero() {
		t.Fatalf("expected fetch timestamp")
	}
}

func TestOnChainFetcherConcentrated(t *testing.T) {
	parsed, err := v3PoolABI.get()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	responses := map[string][]byte{}
	selector, resp := packOutputs(t, parsed, "slot0", new(big.Int).Set(q96), big.NewInt(0), uint16(0), uint16(1), uint16(1), uint8(0), true)
	responses[selector] = resp
	selector, resp = packOutputs(t, parsed, "liquidity", big.NewInt(1_000_000))
	responses[selector] = resp
	selector, resp = packOutputs(t, parsed, "fee", big.NewInt(500))
	responses[selector] = resp

	fetcher := NewOnChainFetcher(&fakeCaller{responses: responses}, nil)
	pool, err := fetcher.FetchPool(context.Background(), model.PoolRef{
		ID:       "v3",
		Protocol: model.ProtocolConcentrated,
		Tokens:   []model.Token{tokenA, tokenD},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if pool.SqrtPriceX96.Cmp(q96) != 0 || pool.Liquidity.Int64() != 1_000_000 || pool.FeePips != 500 {
		t.Fatalf("pool mismatch: %+v", pool)
	}
}

func TestOnChainFetcherCallFailure(t *testing.T) {
	fetcher := NewOnChainFetcher(&fakeCaller{responses: map[string][]byte{}}, nil)
	_, err := fetcher.FetchPool(context.Background(), model.PoolRef{ID: "broken", Protocol: model.ProtocolStableSwap, Tokens: []model.Token{tokenB, tokenD}})
	if err == nil {
		t.Fatalf("expected fetch error")
	}
}

func TestStaticFetcher(t *testing.T) {
	fetcher := NewStaticFetcher(map[string]model.Pool{"ab-v2": pairPool(3000)})

	pool, err := fetcher.FetchPool(context.Background(), model.PoolRef{ID: "ab-v2"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if pool.FetchedAt.IsZero() {
		t.Fatalf("expected fetch timestamp")
	}

	if _, err := fetcher.FetchPool(context.Background(), model.PoolRef{ID: "missing"}); !errors.Is(err, model.ErrQuoteUnavailable) {
		t.Fatalf("expected quote unavailable, got %v", err)
	}
}

func TestEncodeSwapRoundTripsOutput(t *testing.T) {
	router := common.HexToAddress("0x9999999999999999999999999999999999999999")
	ref := model.PoolRef{ID: "ab-v2", Protocol: model.ProtocolConstantProduct, Tokens: []model.Token{tokenA, tokenB}, Router: router}
	hop := model.Hop{PoolID: "ab-v2", TokenIn: tokenA.Address, TokenOut: tokenB.Address}

	call, err := EncodeSwap(ref, hop, SwapParams{
		AmountIn:     units(1, 18),
		MinAmountOut: units(995, 6),
		Recipient:    common.HexToAddress("0x7777777777777777777777777777777777777777"),
		Deadline:     big.NewInt(1_700_000_000),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if call.Target != router {
		t.Fatalf("target mismatch: %s", call.Target.Hex())
	}
	parsed, _ := v2RouterABI.get()
	if !bytes.Equal(call.Data[:4], parsed.Methods["swapExactTokensForTokens"].ID) {
		t.Fatalf("selector mismatch: %x", call.Data[:4])
	}

	ret, err := parsed.Methods["swapExactTokensForTokens"].Outputs.Pack([]*big.Int{units(1, 18), units(1000, 6)})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	out, err := DecodeSwapOutput(model.ProtocolConstantProduct, ret)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Cmp(units(1000, 6)) != 0 {
		t.Fatalf("output mismatch: %s", out)
	}
}

func TestEncodeSwapAllProtocols(t *testing.T) {
	router := common.HexToAddress("0x9999999999999999999999999999999999999999")
	params := SwapParams{AmountIn: big.NewInt(1000), MinAmountOut: big.NewInt(1), Deadline: big.NewInt(1)}
	refs := []model.PoolRef{
		{ID: "v3", Protocol: model.ProtocolConcentrated, Tokens: []model.Token{tokenA, tokenD}, Router: router, FeePips: 500},
		{ID: "stable", Protocol: model.ProtocolStableSwap, Address: router, Tokens: []model.Token{tokenA, tokenD}},
		{ID: "weighted", Protocol: model.ProtocolWeighted, Vault: router, Tokens: []model.Token{tokenA, tokenD}},
	}
	for _, ref := range refs {
		hop := model.Hop{PoolID: ref.ID, TokenIn: tokenA.Address, TokenOut: tokenD.Address}
		call, err := EncodeSwap(ref, hop, params)
		if err != nil {
			t.Fatalf("encode %s: %v", ref.ID, err)
		}
		if call.Target != router || len(call.Data) < 4 {
			t.Fatalf("call mismatch for %s: %+v", ref.ID, call)
		}
	}

	missing := model.PoolRef{ID: "norouter", Protocol: model.ProtocolConstantProduct, Tokens: []model.Token{tokenA, tokenD}}
	if _, err := EncodeSwap(missing, model.Hop{TokenIn: tokenA.Address, TokenOut: tokenD.Address}, params); err == nil {
		t.Fatalf("expected error without router")
	}
}

func TestVerifyDecimals(t *testing.T) {
	parsed, err := erc20ABIString.get()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	decSel, decResp := packOutputs(t, parsed, "decimals", uint8(6))
	symSel, symResp := packOutputs(t, parsed, "symbol", "USDC")
	caller := &fakeCaller{responses: map[string][]byte{decSel: decResp, symSel: symResp}}
	token := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	cache := NewTokenMetaCache()
	if err := VerifyDecimals(context.Background(), caller, cache, map[common.Address]uint8{token: 6}, nil); err != nil {
		t.Fatalf("verify: %v", err)
	}
	meta, ok := cache.Get(token)
	if !ok || meta.Symbol != "USDC" || meta.Decimals != 6 {
		t.Fatalf("unexpected cached meta: %+v", meta)
	}

	err = VerifyDecimals(context.Background(), caller, NewTokenMetaCache(), map[common.Address]uint8{token: 18}, nil)
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
