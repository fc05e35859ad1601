package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Hop is one swap leg of a route.
type Hop struct {
	PoolID        string          `json:"pool_id"`
	Protocol      Protocol        `json:"protocol"`
	Pool          common.Address  `json:"pool"`
	TokenIn       common.Address  `json:"token_in"`
	TokenOut      common.Address  `json:"token_out"`
	AmountIn      *big.Int        `json:"amount_in"`
	AmountOut     *big.Int        `json:"amount_out"`
	MarginalPrice decimal.Decimal `json:"marginal_price"`
}

// Route is an ordered sequence of hops. GasCost is denominated in the
// output token's smallest units.
type Route struct {
	Hops      []Hop    `json:"hops"`
	AmountIn  *big.Int `json:"amount_in"`
	AmountOut *big.Int `json:"amount_out"`
	GasCost   *big.Int `json:"gas_cost"`
}

// HopCount returns the number of hops.
func (r Route) HopCount() int {
	return len(r.Hops)
}

// PoolIDs returns the ordered pool identifiers.
func (r Route) PoolIDs() []string {
	ids := make([]string, len(r.Hops))
	for i, hop := range r.Hops {
		ids[i] = hop.PoolID
	}
	return ids
}

// TokenIn returns the first hop's input token.
func (r Route) TokenIn() common.Address {
	if len(r.Hops) == 0 {
		return common.Address{}
	}
	return r.Hops[0].TokenIn
}

// TokenOut returns the last hop's output token.
func (r Route) TokenOut() common.Address {
	if len(r.Hops) == 0 {
		return common.Address{}
	}
	return r.Hops[len(r.Hops)-1].TokenOut
}

// Net is the quoted output minus the estimated gas cost.
func (r Route) Net() *big.Int {
	out := new(big.Int)
	if r.AmountOut != nil {
		out.Set(r.AmountOut)
	}
	if r.GasCost != nil {
		out.Sub(out, r.GasCost)
	}
	return out
}

// Validate checks hop continuity and amount chaining.
func (r Route) Validate() error {
	if len(r.Hops) == 0 {
		return fmt.Errorf("route has no hops")
	}
	for i := 0; i+1 < len(r.Hops); i++ {
		if r.Hops[i].TokenOut != r.Hops[i+1].TokenIn {
			return fmt.Errorf("hop %d output %s does not match hop %d input %s",
				i, r.Hops[i].TokenOut.Hex(), i+1, r.Hops[i+1].TokenIn.Hex())
		}
		if r.Hops[i].AmountOut == nil || r.Hops[i+1].AmountIn == nil ||
			r.Hops[i].AmountOut.Cmp(r.Hops[i+1].AmountIn) != 0 {
			return fmt.Errorf("hop %d output amount does not feed hop %d", i, i+1)
		}
	}
	return nil
}

// Describe renders the route as "pool:tokenIn->tokenOut" legs.
func (r Route) Describe() string {
	parts := make([]string, len(r.Hops))
	for i, hop := range r.Hops {
		parts[i] = fmt.Sprintf("%s:%s->%s", hop.PoolID, shortHex(hop.TokenIn), shortHex(hop.TokenOut))
	}
	return strings.Join(parts, " | ")
}

// Clone returns a deep copy.
func (r Route) Clone() Route {
	out := Route{
		Hops:      make([]Hop, len(r.Hops)),
		AmountIn:  cloneInt(r.AmountIn),
		AmountOut: cloneInt(r.AmountOut),
		GasCost:   cloneInt(r.GasCost),
	}
	for i, hop := range r.Hops {
		hop.AmountIn = cloneInt(hop.AmountIn)
		hop.AmountOut = cloneInt(hop.AmountOut)
		out.Hops[i] = hop
	}
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func shortHex(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + ".." + hex[len(hex)-4:]
}
