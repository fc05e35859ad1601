package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"swaprouter/internal/aggregate"
	"swaprouter/internal/audit"
	"swaprouter/internal/config"
	"swaprouter/internal/model"
	"swaprouter/internal/risk"
	"swaprouter/internal/route"
)

const approveGas = 60_000

type cycle struct {
	id      string
	pair    model.Pair
	state   model.CycleState
	plan    *model.ExecutionPlan
	outcome model.TransactionOutcome
}

func (e *Engine) newCycle(pair model.Pair) *cycle {
	id := uuid.NewString()
	return &cycle{
		id:    id,
		pair:  pair,
		state: model.StateQuoting,
		outcome: model.TransactionOutcome{
			CycleID:   id,
			Pair:      pair,
			State:     model.StateQuoting,
			StartedAt: e.now(),
		},
	}
}

func (e *Engine) advance(c *cycle, next model.CycleState) {
	if _, err := c.state.Transition(next); err != nil {
		e.logger.Error("illegal cycle transition", zap.String("cycle_id", c.id), zap.Error(err))
	}
	c.state = next
	c.outcome.State = next
}

// Quote runs quoting and validation without submitting. The returned plan
// is nil unless the cycle reached APPROVED; otherwise the outcome explains
// why.
func (e *Engine) Quote(ctx context.Context, req model.Request) (*model.ExecutionPlan, model.TransactionOutcome, error) {
	c := e.newCycle(req.Pair)
	cfg, pools := e.config()
	plan, err := e.plan(ctx, c, cfg, pools, req)
	return plan, c.outcome, err
}

// Execute drives one opportunity from quoting to a terminal outcome. Only
// configuration errors and exhausted submission retries are returned as
// errors; every other result is described by the outcome.
func (e *Engine) Execute(ctx context.Context, req model.Request) (model.TransactionOutcome, error) {
	c := e.newCycle(req.Pair)
	cfg, pools := e.config()
	if e.deps.Selector == nil || e.deps.Chain == nil {
		err := &model.ConfigError{Field: "signer-url", Reason: "execution needs a signer and an rpc endpoint"}
		return e.finish(ctx, c, model.StateFailed, model.OutcomeRejected, err.Error()), err
	}

	plan, err := e.plan(ctx, c, cfg, pools, req)
	if plan == nil {
		return c.outcome, err
	}

	if cfg.Recheck {
		if done := e.recheck(ctx, c, pools); done {
			return c.outcome, ctx.Err()
		}
	}
	if current := e.currentGeneration(req.Pair.Key()); current != plan.Generation() {
		reason := fmt.Sprintf("%s: generation %d replaced by %d", model.ErrPlanSuperseded, plan.Generation(), current)
		return e.finish(ctx, c, model.StateRejected, model.OutcomeCancelled, reason), nil
	}

	sends, err := e.buildSends(ctx, cfg, pools, plan)
	if err != nil {
		if errors.Is(err, model.ErrConfiguration) {
			return e.finish(ctx, c, model.StateRejected, model.OutcomeRejected, err.Error()), err
		}
		e.auditRejected(ctx, c, "preflight", err.Error())
		return e.finish(ctx, c, model.StateRejected, model.OutcomeRejected, err.Error()), nil
	}

	e.advance(c, model.StateSubmitting)
	return e.submitPlan(ctx, c, cfg, sends)
}

func (e *Engine) plan(ctx context.Context, c *cycle, cfg config.Config, pools map[string]model.PoolRef, req model.Request) (*model.ExecutionPlan, error) {
	pair := req.Pair
	if err := cfg.ValidatePair(pair); err != nil {
		e.finish(ctx, c, model.StateFailed, model.OutcomeRejected, err.Error())
		return nil, err
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		err := &model.ConfigError{Field: "amount-in", Reason: "must be positive"}
		e.finish(ctx, c, model.StateFailed, model.OutcomeRejected, err.Error())
		return nil, err
	}
	if err := e.deps.Validator.Check(pair); err != nil {
		e.finish(ctx, c, model.StateRejected, model.OutcomeRejected, err.Error())
		return nil, nil
	}
	generation := e.nextGeneration(pair.Key())

	snap, err := e.deps.Quoter.Collect(ctx, sortedRefs(pools))
	if err != nil {
		e.finish(ctx, c, model.StateFailed, model.OutcomeCancelled, err.Error())
		return nil, err
	}
	e.auditExclusions(ctx, snap)

	gas, gasPrice, err := e.fees(ctx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			e.finish(ctx, c, model.StateFailed, model.OutcomeCancelled, err.Error())
			return nil, ctx.Err()
		}
		e.finish(ctx, c, model.StateFailed, model.OutcomeFailedToSubmit, err.Error())
		return nil, err
	}

	threshold, _ := e.deps.Validator.Threshold(pair.Key())
	finder := &route.Finder{
		MaxHops:   cfg.MaxHops,
		Gas:       GasModel(cfg).WithGasPrice(gasPrice),
		Threshold: threshold,
		Logger:    e.logger,
	}
	best, stats, err := finder.FindWithStats(ctx, snap, pair.TokenIn, pair.TokenOut, req.AmountIn)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNoRouteFound):
			status := model.OutcomeNoRoute
			if len(snap.Adapters) == 0 && len(snap.Excluded) > 0 {
				status = model.OutcomeQuoteUnavailable
			}
			e.finish(ctx, c, model.StateFailed, status, err.Error())
			return nil, nil
		default:
			e.finish(ctx, c, model.StateFailed, model.OutcomeCancelled, err.Error())
			return nil, err
		}
	}
	e.logger.Debug("route selected",
		zap.String("cycle_id", c.id),
		zap.String("route", best.Describe()),
		zap.String("amount_out", best.AmountOut.String()),
		zap.String("gas_cost", best.GasCost.String()),
		zap.Int("candidates", stats.Candidates),
		zap.Int("pruned", stats.Pruned),
		zap.Int("memo_hits", stats.MemoHits),
	)

	e.advance(c, model.StateValidating)
	minOutput, tolerance, err := e.deps.Guard.MinOutput(ctx, best)
	if err != nil {
		e.finish(ctx, c, model.StateRejected, model.OutcomeRejected, err.Error())
		return nil, nil
	}

	channel := model.ChannelPublic
	if e.deps.Selector != nil {
		channel = e.deps.Selector.Channel()
	}
	batched := cfg.Batching
	gas.GasLimit = GasModel(cfg).GasUnits(best.HopCount()) + approveGas*uint64(best.HopCount())

	plan := model.NewExecutionPlan(model.PlanParams{
		Pair:        pair,
		Route:       best,
		MinOutput:   minOutput,
		Tolerance:   tolerance,
		PriceImpact: risk.PriceImpact(best),
		Channel:     channel,
		Batched:     batched,
		Gas:         gas,
		Refund:      refundFor(cfg, channel),
		Generation:  generation,
		CreatedAt:   e.now(),
	})
	c.plan = plan
	c.outcome.PlanID = plan.ID()

	if _, err := e.deps.Validator.Validate(ctx, plan); err != nil {
		e.finish(ctx, c, model.StateRejected, model.OutcomeRejected, err.Error())
		return nil, nil
	}
	e.advance(c, model.StateApproved)
	return plan, nil
}

// recheck re-reads the route's pools and rejects the plan when the fresh
// output falls below its minimum. It reports whether the cycle finished.
func (e *Engine) recheck(ctx context.Context, c *cycle, pools map[string]model.PoolRef) bool {
	planned := c.plan.Route()
	refs := make([]model.PoolRef, 0, len(planned.Hops))
	for _, hop := range planned.Hops {
		refs = append(refs, pools[hop.PoolID])
	}

	adapters, err := e.deps.Quoter.Requote(ctx, refs)
	if err != nil {
		e.finish(ctx, c, model.StateRejected, model.OutcomeQuoteUnavailable, fmt.Sprintf("recheck: %v", err))
		return true
	}
	fresh, err := route.Simulate(planned, adapters)
	if err != nil {
		e.finish(ctx, c, model.StateRejected, model.OutcomeQuoteUnavailable, fmt.Sprintf("recheck: %v", err))
		return true
	}
	if err := e.deps.Guard.Recheck(c.plan.QuotedOutput(), fresh.AmountOut, c.plan.MinOutput()); err != nil {
		e.auditRejected(ctx, c, "slippage", err.Error())
		e.finish(ctx, c, model.StateRejected, model.OutcomeRejected, err.Error())
		return true
	}
	return false
}

// fees reads EIP-1559 fee data with retries: maxFee = 2*baseFee + tip.
func (e *Engine) fees(ctx context.Context, cfg config.Config) (model.GasParams, *big.Int, error) {
	if e.deps.Chain == nil {
		return model.GasParams{}, new(big.Int), nil
	}
	var (
		tip     *big.Int
		baseFee *big.Int
	)
	_, err := withRetry(ctx, cfg.MaxRetries, cfg.RetryBackoff, notCancelled, func(ctx context.Context) error {
		header, err := e.deps.Chain.HeaderByNumber(ctx, nil)
		if err != nil {
			e.logger.Warn("fee data fetch failed", zap.Error(err))
			return err
		}
		tip, err = e.deps.Chain.SuggestGasTipCap(ctx)
		if err != nil {
			e.logger.Warn("gas tip fetch failed", zap.Error(err))
			return err
		}
		baseFee = header.BaseFee
		if baseFee == nil {
			baseFee = new(big.Int)
		}
		return nil
	})
	if err != nil {
		return model.GasParams{}, nil, model.SubmissionError("fee data", err)
	}

	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	return model.GasParams{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}, new(big.Int).Add(baseFee, tip), nil
}

func (e *Engine) finish(ctx context.Context, c *cycle, state model.CycleState, status model.OutcomeStatus, reason string) model.TransactionOutcome {
	e.advance(c, state)
	out := &c.outcome
	out.Status = status
	out.Reason = reason
	out.FinishedAt = e.now()
	if c.plan != nil {
		out.PlanID = c.plan.ID()
		out.Channel = c.plan.Channel()
		out.QuotedOutput = c.plan.QuotedOutput()
		out.MinOutput = c.plan.MinOutput()
		out.Plan = c.plan.View()
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.CycleFinished(c.pair.Key(), string(state))
		e.deps.Metrics.Outcome(string(status), string(out.Channel))
	}

	fields := []zap.Field{
		zap.String("cycle_id", c.id),
		zap.String("pair", c.pair.String()),
		zap.String("state", string(state)),
		zap.String("status", string(status)),
		zap.Duration("elapsed", out.FinishedAt.Sub(out.StartedAt)),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	if out.TxHash != (common.Hash{}) {
		fields = append(fields, zap.String("tx_hash", out.TxHash.Hex()))
	}
	switch status {
	case model.OutcomeConfirmed, model.OutcomeNoRoute:
		e.logger.Info("cycle finished", fields...)
	case model.OutcomeReverted, model.OutcomeFailedToSubmit:
		e.logger.Error("cycle finished", fields...)
	default:
		e.logger.Warn("cycle finished", fields...)
	}

	if c.plan != nil {
		outcome := *out
		record := model.AuditRecord{
			Kind:    model.AuditExecution,
			Type:    string(status),
			Status:  string(state),
			Key:     c.pair.Key(),
			Plan:    c.plan.View(),
			Outcome: &outcome,
		}
		if err := e.deps.Sink.Record(ctx, record); err != nil {
			e.logger.Error("audit record failed", zap.String("cycle_id", c.id), zap.Error(err))
		}
	}
	return *out
}

func (e *Engine) auditRejected(ctx context.Context, c *cycle, kind, condition string) {
	rejected := c.plan.Route()
	record := model.AuditRecord{
		Kind:      model.AuditRouteRejected,
		Type:      kind,
		Status:    "rejected",
		Key:       c.pair.Key(),
		Condition: condition,
		Plan:      c.plan.View(),
		Route:     &rejected,
	}
	if err := e.deps.Sink.Record(ctx, record); err != nil {
		e.logger.Error("audit record failed", zap.String("cycle_id", c.id), zap.Error(err))
	}
}

func (e *Engine) auditExclusions(ctx context.Context, snap *aggregate.Snapshot) {
	records := make([]model.AuditRecord, 0, len(snap.Excluded))
	for _, ex := range snap.Excluded {
		records = append(records, model.AuditRecord{
			Kind:      model.AuditPoolExcluded,
			Type:      ex.Code,
			Status:    "excluded",
			Key:       ex.PoolID,
			Condition: ex.Reason,
			Details:   map[string]string{"attempts": fmt.Sprint(ex.Attempts)},
		})
	}
	if err := audit.RecordAll(ctx, e.deps.Sink, records); err != nil {
		e.logger.Error("audit record failed", zap.Int("exclusions", len(records)), zap.Error(err))
	}
}

func refundFor(cfg config.Config, channel model.Channel) *model.Refund {
	if channel != model.ChannelProtected || cfg.RefundPercent <= 0 {
		return nil
	}
	recipient := cfg.RefundRecipient
	if recipient == (common.Address{}) {
		recipient = cfg.From
	}
	return &model.Refund{Recipient: recipient, Percent: cfg.RefundPercent}
}

func sortedRefs(pools map[string]model.PoolRef) []model.PoolRef {
	refs := make([]model.PoolRef, 0, len(pools))
	for _, ref := range pools {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}

func notCancelled(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
