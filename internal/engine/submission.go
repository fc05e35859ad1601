package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"swaprouter/internal/batch"
	"swaprouter/internal/chain"
	"swaprouter/internal/config"
	"swaprouter/internal/dex"
	"swaprouter/internal/model"
	"swaprouter/internal/risk"
	"swaprouter/internal/submit"
)

// send is one transaction of a plan. decode is set on the transaction that
// produces the plan's final output.
type send struct {
	call   model.Call
	decode submit.OutputDecoder
	label  string
}

// buildSends encodes the plan's approvals and swaps, either as one
// multicall payload or as sequential transactions.
func (e *Engine) buildSends(ctx context.Context, cfg config.Config, pools map[string]model.PoolRef, plan *model.ExecutionPlan) ([]send, error) {
	planned := plan.Route()
	from := e.deps.Selector.From()
	deadline := big.NewInt(e.now().Add(cfg.Deadline).Unix())

	var (
		approvals []model.Call
		swaps     []model.Call
	)
	last := len(planned.Hops) - 1
	for i, hop := range planned.Hops {
		ref, ok := pools[hop.PoolID]
		if !ok {
			return nil, &model.ConfigError{Field: "pools", Reason: fmt.Sprintf("pool %s no longer configured", hop.PoolID)}
		}
		approve, err := dex.EncodeApprove(hop.TokenIn, dex.Spender(ref), hop.AmountIn)
		if err != nil {
			return nil, err
		}
		approve.GasLimit = approveGas

		params := dex.SwapParams{
			AmountIn:     hop.AmountIn,
			MinAmountOut: hopMinimum(hop.AmountOut, plan.Tolerance()),
			Recipient:    from,
			Deadline:     deadline,
		}
		if i == last {
			params.MinAmountOut = plan.MinOutput()
		}
		if cfg.Batching {
			// The multicall executor holds intermediate balances.
			params.Sender = cfg.Multicall
			if i != last {
				params.Recipient = cfg.Multicall
			}
		}
		swap, err := dex.EncodeSwap(ref, hop, params)
		if err != nil {
			return nil, err
		}
		swap.GasLimit = cfg.GasPerHop
		if !cfg.Batching {
			swap.GasLimit += cfg.BaseGas
		}
		approvals = append(approvals, approve)
		swaps = append(swaps, swap)
	}
	protocol := pools[planned.Hops[last].PoolID].Protocol

	if !cfg.Batching {
		sends := make([]send, 0, 2*len(swaps))
		for i := range swaps {
			sends = append(sends, send{call: approvals[i], label: approvals[i].Label})
			s := send{call: swaps[i], label: swaps[i].Label}
			if i == last {
				s.decode = func(ret []byte) (*big.Int, error) {
					return dex.DecodeSwapOutput(protocol, ret)
				}
			}
			sends = append(sends, s)
		}
		return sends, nil
	}

	bundles := make([]batch.Bundle, 0, len(approvals)+1)
	for _, approve := range approvals {
		bundles = append(bundles, batch.Bundle{Label: approve.Label, Stage: 0, Calls: []model.Call{approve}})
	}
	bundles = append(bundles, batch.Bundle{Label: "swaps", Stage: 1, Calls: swaps})
	builder := batch.Builder{Target: cfg.Multicall, Strategy: cfg.Reorder, BaseGas: cfg.BaseGas}
	payload, err := builder.Build(bundles)
	if err != nil {
		return nil, err
	}
	if plan.Channel() == model.ChannelPublic {
		if _, err := batch.Preflight(ctx, e.deps.Chain, from, payload); err != nil {
			return nil, err
		}
	}

	e.logger.Debug("batch built",
		zap.String("plan_id", plan.ID()),
		zap.Int("calls", len(payload.Calls)),
		zap.Uint64("gas_limit", payload.GasLimit),
		zap.String("reorder", cfg.Reorder),
	)
	return []send{{
		call: model.Call{
			Target:   payload.Target,
			Data:     payload.Data,
			GasLimit: payload.GasLimit,
			Label:    "multicall",
		},
		label: "multicall",
		decode: func(ret []byte) (*big.Int, error) {
			results, err := batch.DecodeResults(ret)
			if err != nil {
				return nil, err
			}
			if len(results) == 0 || results[len(results)-1] == nil {
				return nil, fmt.Errorf("final swap returned no data")
			}
			return dex.DecodeSwapOutput(protocol, results[len(results)-1])
		},
	}}, nil
}

// submitPlan delivers each send in order, waiting for its receipt before the
// next one.
func (e *Engine) submitPlan(ctx context.Context, c *cycle, cfg config.Config, sends []send) (model.TransactionOutcome, error) {
	for _, s := range sends {
		sub, attempts, err := e.sendWithRetry(ctx, cfg, c.plan, s)
		c.outcome.Attempts += attempts
		if err != nil {
			switch {
			case errors.Is(err, model.ErrSlippageViolation):
				e.auditRejected(ctx, c, "simulation", err.Error())
				return e.finish(ctx, c, model.StateFailed, model.OutcomeRejected, err.Error()), nil
			case errors.Is(err, model.ErrConfiguration):
				return e.finish(ctx, c, model.StateFailed, model.OutcomeRejected, err.Error()), err
			case ctx.Err() != nil:
				return e.finish(ctx, c, model.StateFailed, model.OutcomeCancelled, err.Error()), ctx.Err()
			default:
				return e.finish(ctx, c, model.StateFailed, model.OutcomeFailedToSubmit, err.Error()), err
			}
		}
		c.outcome.TxHash = sub.Tx.Hash()
		e.logger.Info("transaction submitted",
			zap.String("cycle_id", c.id),
			zap.String("label", s.label),
			zap.String("channel", string(sub.Channel)),
			zap.String("tx_hash", sub.Tx.Hash().Hex()),
			zap.Int("attempts", attempts),
		)

		receipt, err := e.awaitReceipt(ctx, cfg, sub.Tx.Hash())
		if err != nil {
			if ctx.Err() != nil {
				return e.finish(ctx, c, model.StateFailed, model.OutcomeCancelled, err.Error()), ctx.Err()
			}
			return e.finish(ctx, c, model.StateTimeout, model.OutcomeTimeout, fmt.Sprintf("no receipt for %s: %v", sub.Tx.Hash().Hex(), err)), nil
		}
		c.outcome.GasUsed += receipt.GasUsed
		if receipt.BlockNumber != nil {
			c.outcome.BlockNumber = receipt.BlockNumber.Uint64()
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			revertErr := &model.RevertError{TxHash: sub.Tx.Hash(), Reason: e.revertReason(ctx, sub.Tx, receipt)}
			e.recordRevert(ctx)
			return e.finish(ctx, c, model.StateFailed, model.OutcomeReverted, revertErr.Error()), nil
		}
	}

	e.deps.Breakers.RecordSuccess()
	return e.finish(ctx, c, model.StateConfirmed, model.OutcomeConfirmed, ""), nil
}

// sendWithRetry signs the send once; retries re-broadcast the same raw
// transaction and nonce.
func (e *Engine) sendWithRetry(ctx context.Context, cfg config.Config, plan *model.ExecutionPlan, s send) (submit.Submission, int, error) {
	selector := e.deps.Selector
	var sub submit.Submission
	attempts, err := withRetry(ctx, cfg.MaxRetries, cfg.RetryBackoff, transient, func(ctx context.Context) error {
		if sub.Tx == nil {
			tx, err := selector.NewTx(ctx, s.call, plan.Gas())
			if err != nil {
				return err
			}
			prepared, err := selector.Prepare(ctx, plan, submit.Unsigned{Tx: tx, Decode: s.decode, Label: s.label})
			if err != nil {
				return err
			}
			sub = prepared
		}
		if _, err := selector.Send(ctx, sub); err != nil {
			if submit.AlreadyDelivered(err) {
				e.logger.Info("transaction already delivered",
					zap.String("plan_id", plan.ID()),
					zap.String("label", s.label),
					zap.String("tx_hash", sub.Tx.Hash().Hex()),
					zap.Error(err),
				)
				return nil
			}
			e.logger.Warn("submission attempt failed",
				zap.String("plan_id", plan.ID()),
				zap.String("label", s.label),
				zap.String("tx_hash", sub.Tx.Hash().Hex()),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
	if err != nil {
		return submit.Submission{}, attempts, err
	}
	return sub, attempts, nil
}

func (e *Engine) awaitReceipt(ctx context.Context, cfg config.Config, hash common.Hash) (*types.Receipt, error) {
	if cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConfirmTimeout)
		defer cancel()
	}
	src := chain.ReceiptFunc(func(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
		receipt, err := e.deps.Chain.TransactionReceipt(ctx, hash)
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			e.logger.Warn("receipt poll failed",
				zap.String("tx_hash", hash.Hex()),
				zap.Error(err),
			)
		}
		return receipt, err
	})
	return chain.PollReceipt(ctx, src, hash, cfg.PollInterval)
}

// revertReason replays tx at the block before its inclusion and decodes the
// Error(string) payload, falling back to the raw call error.
func (e *Engine) revertReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) string {
	var block *big.Int
	if receipt.BlockNumber != nil && receipt.BlockNumber.Sign() > 0 {
		block = new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
	}
	_, err := e.deps.Chain.CallContract(ctx, submit.CallMsg(e.deps.Selector.From(), tx), block)
	if err == nil {
		return ""
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if raw, derr := hexutil.Decode(encoded); derr == nil {
				if reason, uerr := abi.UnpackRevert(raw); uerr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}

func (e *Engine) recordRevert(ctx context.Context) {
	entry, tripped := e.deps.Breakers.RecordRevert()
	if !tripped {
		return
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.BreakerTripped(risk.TypeRevertStreak)
	}
	record := model.AuditRecord{
		Kind:      model.AuditBreakerTrip,
		Type:      risk.TypeRevertStreak,
		Status:    "triggered",
		Key:       entry.Key,
		Condition: entry.Condition,
		Details:   map[string]string{"cooldown": entry.Cooldown.String()},
	}
	if err := e.deps.Sink.Record(ctx, record); err != nil {
		e.logger.Error("audit record failed", zap.String("key", entry.Key), zap.Error(err))
	}
}

// hopMinimum floors out*(1-tolerance) for intermediate hops.
func hopMinimum(out *big.Int, tolerance decimal.Decimal) *big.Int {
	if out == nil {
		return new(big.Int)
	}
	factor := decimal.NewFromInt(1).Sub(tolerance)
	return decimal.NewFromBigInt(out, 0).Mul(factor).Floor().BigInt()
}

func transient(err error) bool {
	return errors.Is(err, model.ErrSubmissionFailure)
}
