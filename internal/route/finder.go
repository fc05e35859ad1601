package route

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"swaprouter/internal/aggregate"
	"swaprouter/internal/dex"
	"swaprouter/internal/model"
	"swaprouter/internal/risk"
)

// Finder searches simple paths up to MaxHops and picks the route with the
// highest output net of gas.
type Finder struct {
	MaxHops int
	Gas     GasEstimator
	// Threshold abandons partial paths whose impact already exceeds it.
	// Zero disables pruning.
	Threshold decimal.Decimal
	Logger    *zap.Logger
}

// Stats describes one search.
type Stats struct {
	Tokens     int
	Candidates int
	Pruned     int
	Quotes     int
	MemoHits   int
}

type memoKey struct {
	pool     string
	tokenIn  common.Address
	tokenOut common.Address
	amount   string
}

type search struct {
	finder   *Finder
	snap     *aggregate.Snapshot
	graph    *Graph
	tokenOut common.Address
	amountIn *big.Int

	memo       map[memoKey]model.Quote
	usedPools  map[string]bool
	usedTokens map[common.Address]bool
	best       *model.Route
	stats      Stats
	ctx        context.Context
}

// Find returns the best route from tokenIn to tokenOut for amountIn.
func (f *Finder) Find(ctx context.Context, snap *aggregate.Snapshot, tokenIn, tokenOut common.Address, amountIn *big.Int) (model.Route, error) {
	route, _, err := f.FindWithStats(ctx, snap, tokenIn, tokenOut, amountIn)
	return route, err
}

// FindWithStats is Find plus search counters.
func (f *Finder) FindWithStats(ctx context.Context, snap *aggregate.Snapshot, tokenIn, tokenOut common.Address, amountIn *big.Int) (model.Route, Stats, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return model.Route{}, Stats{}, fmt.Errorf("amount in must be positive")
	}
	if tokenIn == tokenOut {
		return model.Route{}, Stats{}, fmt.Errorf("token in equals token out")
	}
	maxHops := f.MaxHops
	if maxHops <= 0 {
		maxHops = 1
	}

	s := &search{
		finder:     f,
		snap:       snap,
		graph:      NewGraph(snap),
		tokenOut:   tokenOut,
		amountIn:   amountIn,
		memo:       make(map[memoKey]model.Quote),
		usedPools:  make(map[string]bool),
		usedTokens: map[common.Address]bool{tokenIn: true},
		ctx:        ctx,
	}
	s.stats.Tokens = s.graph.Tokens()
	s.walk(tokenIn, amountIn, nil, maxHops)
	if err := ctx.Err(); err != nil {
		return model.Route{}, s.stats, err
	}
	if s.best == nil {
		return model.Route{}, s.stats, fmt.Errorf("%s -> %s: %w", tokenIn.Hex(), tokenOut.Hex(), model.ErrNoRouteFound)
	}

	f.logger().Debug("route selected",
		zap.String("route", s.best.Describe()),
		zap.String("amount_out", s.best.AmountOut.String()),
		zap.String("gas_cost", s.best.GasCost.String()),
		zap.Int("tokens", s.stats.Tokens),
		zap.Int("candidates", s.stats.Candidates),
		zap.Int("pruned", s.stats.Pruned),
		zap.Int("quotes", s.stats.Quotes),
		zap.Int("memo_hits", s.stats.MemoHits),
	)
	return *s.best, s.stats, nil
}

// walk extends the path ending at token. Hops are simulated in order: each
// hop's output is the next hop's input.
func (s *search) walk(token common.Address, amount *big.Int, hops []model.Hop, remaining int) {
	if remaining == 0 || s.ctx.Err() != nil {
		return
	}
	for _, edge := range s.graph.From(token) {
		if s.usedPools[edge.PoolID] || s.usedTokens[edge.TokenOut] {
			continue
		}
		quote, err := s.quote(edge, token, amount)
		if err != nil {
			s.finder.logger().Debug("hop quote failed", zap.String("pool", edge.PoolID), zap.Error(err))
			continue
		}
		if quote.AmountOut.Sign() <= 0 {
			continue
		}

		pool := s.snap.Pools[edge.PoolID]
		hop := model.Hop{
			PoolID:        edge.PoolID,
			Protocol:      pool.Protocol,
			Pool:          pool.Address,
			TokenIn:       token,
			TokenOut:      edge.TokenOut,
			AmountIn:      new(big.Int).Set(amount),
			AmountOut:     quote.AmountOut,
			MarginalPrice: quote.MarginalPrice,
		}
		path := make([]model.Hop, len(hops), len(hops)+1)
		copy(path, hops)
		path = append(path, hop)

		if edge.TokenOut == s.tokenOut {
			s.consider(path)
			continue
		}
		if remaining == 1 {
			continue
		}
		// Complete paths are never pruned here so the validator can
		// reject them with a recorded reason.
		if s.finder.Threshold.IsPositive() && risk.PartialImpact(path).GreaterThan(s.finder.Threshold) {
			s.stats.Pruned++
			continue
		}

		s.usedPools[edge.PoolID] = true
		s.usedTokens[edge.TokenOut] = true
		s.walk(edge.TokenOut, quote.AmountOut, path, remaining-1)
		delete(s.usedPools, edge.PoolID)
		delete(s.usedTokens, edge.TokenOut)
	}
}

func (s *search) quote(edge Edge, tokenIn common.Address, amount *big.Int) (model.Quote, error) {
	key := memoKey{pool: edge.PoolID, tokenIn: tokenIn, tokenOut: edge.TokenOut, amount: amount.String()}
	if q, ok := s.memo[key]; ok {
		s.stats.MemoHits++
		return q, nil
	}
	adapter, ok := s.snap.Adapters[edge.PoolID]
	if !ok {
		return model.Quote{}, fmt.Errorf("pool %s: %w", edge.PoolID, model.ErrQuoteUnavailable)
	}
	q, err := adapter.Quote(tokenIn, edge.TokenOut, amount)
	if err != nil {
		return model.Quote{}, err
	}
	s.stats.Quotes++
	s.memo[key] = q
	return q, nil
}

func (s *search) consider(hops []model.Hop) {
	candidate := model.Route{
		Hops:      hops,
		AmountIn:  new(big.Int).Set(s.amountIn),
		AmountOut: new(big.Int).Set(hops[len(hops)-1].AmountOut),
	}
	candidate.GasCost = new(big.Int)
	if s.finder.Gas != nil {
		candidate.GasCost = s.finder.Gas.GasCost(candidate)
	}
	s.stats.Candidates++
	if s.best == nil || Better(candidate, *s.best) {
		s.best = &candidate
	}
}

// Better orders candidates: higher net output, then fewer hops, then the
// lexicographically smaller pool id sequence.
func Better(a, b model.Route) bool {
	if cmp := a.Net().Cmp(b.Net()); cmp != 0 {
		return cmp > 0
	}
	if a.HopCount() != b.HopCount() {
		return a.HopCount() < b.HopCount()
	}
	idsA, idsB := a.PoolIDs(), b.PoolIDs()
	for i := 0; i < len(idsA) && i < len(idsB); i++ {
		if idsA[i] != idsB[i] {
			return idsA[i] < idsB[i]
		}
	}
	return len(idsA) < len(idsB)
}

// Simulate re-quotes route hop by hop against adapters, feeding each
// output into the next hop.
func Simulate(route model.Route, adapters map[string]dex.Adapter) (model.Route, error) {
	out := route.Clone()
	amount := new(big.Int).Set(route.AmountIn)
	for i, hop := range out.Hops {
		adapter, ok := adapters[hop.PoolID]
		if !ok {
			return model.Route{}, fmt.Errorf("pool %s: %w", hop.PoolID, model.ErrQuoteUnavailable)
		}
		q, err := adapter.Quote(hop.TokenIn, hop.TokenOut, amount)
		if err != nil {
			return model.Route{}, err
		}
		out.Hops[i].AmountIn = new(big.Int).Set(amount)
		out.Hops[i].AmountOut = q.AmountOut
		out.Hops[i].MarginalPrice = q.MarginalPrice
		amount = q.AmountOut
	}
	out.AmountOut = new(big.Int).Set(amount)
	return out, nil
}

func (f *Finder) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}
