package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Channel selects how a signed transaction is delivered.
type Channel string

const (
	ChannelPublic    Channel = "public"
	ChannelProtected Channel = "protected"
)

// GasParams carries EIP-1559 fee fields for a plan.
type GasParams struct {
	GasLimit             uint64   `json:"gas_limit"`
	MaxFeePerGas         *big.Int `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *big.Int `json:"max_priority_fee_per_gas,omitempty"`
}

// Refund is relay redistribution metadata. It is never netted into output.
type Refund struct {
	Recipient common.Address `json:"recipient"`
	Percent   int            `json:"percent"`
}

// ExecutionPlan is a validated route with its economic bounds. Plans are
// immutable: accessors return copies and a changed market produces a new plan.
type ExecutionPlan struct {
	id          string
	pair        Pair
	route       Route
	minOutput   *big.Int
	tolerance   decimal.Decimal
	priceImpact decimal.Decimal
	channel     Channel
	batched     bool
	gas         GasParams
	refund      *Refund
	generation  uint64
	createdAt   time.Time
}

// PlanParams is the input to NewExecutionPlan.
type PlanParams struct {
	Pair        Pair
	Route       Route
	MinOutput   *big.Int
	Tolerance   decimal.Decimal
	PriceImpact decimal.Decimal
	Channel     Channel
	Batched     bool
	Gas         GasParams
	Refund      *Refund
	Generation  uint64
	CreatedAt   time.Time
}

// NewExecutionPlan deep-copies params into a fresh plan with a new id.
func NewExecutionPlan(p PlanParams) *ExecutionPlan {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	plan := &ExecutionPlan{
		id:          uuid.NewString(),
		pair:        p.Pair,
		route:       p.Route.Clone(),
		minOutput:   cloneInt(p.MinOutput),
		tolerance:   p.Tolerance,
		priceImpact: p.PriceImpact,
		channel:     p.Channel,
		batched:     p.Batched,
		gas:         cloneGas(p.Gas),
		generation:  p.Generation,
		createdAt:   created,
	}
	if p.Refund != nil {
		refund := *p.Refund
		plan.refund = &refund
	}
	return plan
}

func (p *ExecutionPlan) ID() string { return p.id }
func (p *ExecutionPlan) Pair() Pair { return p.pair }
func (p *ExecutionPlan) Route() Route { return p.route.Clone() }
func (p *ExecutionPlan) MinOutput() *big.Int { return cloneInt(p.minOutput) }
func (p *ExecutionPlan) Tolerance() decimal.Decimal { return p.tolerance }
func (p *ExecutionPlan) PriceImpact() decimal.Decimal { return p.priceImpact }
func (p *ExecutionPlan) Channel() Channel { return p.channel }
func (p *ExecutionPlan) Batched() bool { return p.batched }
func (p *ExecutionPlan) Gas() GasParams { return cloneGas(p.gas) }
func (p *ExecutionPlan) Generation() uint64 { return p.generation }
func (p *ExecutionPlan) CreatedAt() time.Time { return p.createdAt }

// Refund returns a copy of the refund metadata, if any.
func (p *ExecutionPlan) Refund() *Refund {
	if p.refund == nil {
		return nil
	}
	refund := *p.refund
	return &refund
}

// QuotedOutput is the route's cumulative output.
func (p *ExecutionPlan) QuotedOutput() *big.Int {
	return cloneInt(p.route.AmountOut)
}

// PlanView is the serializable form of a plan for audit records.
type PlanView struct {
	ID          string          `json:"id"`
	Pair        Pair            `json:"pair"`
	Route       Route           `json:"route"`
	MinOutput   *big.Int        `json:"min_output,omitempty"`
	Tolerance   decimal.Decimal `json:"tolerance"`
	PriceImpact decimal.Decimal `json:"price_impact"`
	Channel     Channel         `json:"channel,omitempty"`
	Batched     bool            `json:"batched"`
	Gas         GasParams       `json:"gas"`
	Refund      *Refund         `json:"refund,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// View returns a snapshot of the plan safe to serialize.
func (p *ExecutionPlan) View() *PlanView {
	if p == nil {
		return nil
	}
	return &PlanView{
		ID:          p.id,
		Pair:        p.pair,
		Route:       p.route.Clone(),
		MinOutput:   cloneInt(p.minOutput),
		Tolerance:   p.tolerance,
		PriceImpact: p.priceImpact,
		Channel:     p.channel,
		Batched:     p.batched,
		Gas:         cloneGas(p.gas),
		Refund:      p.Refund(),
		CreatedAt:   p.createdAt,
	}
}

func cloneGas(g GasParams) GasParams {
	return GasParams{
		GasLimit:             g.GasLimit,
		MaxFeePerGas:         cloneInt(g.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneInt(g.MaxPriorityFeePerGas),
	}
}
