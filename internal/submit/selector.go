package submit

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"swaprouter/internal/model"
)

// Backend is the public chain endpoint used for nonces and broadcast.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Config controls channel choice and protected-channel checks.
type Config struct {
	MEVProtection bool
	Simulate      bool
	// Deviation is the largest tolerated relative shortfall of a simulated
	// output against the quoted output.
	Deviation decimal.Decimal
	// BlockWindow bounds how many blocks a private transaction stays valid.
	BlockWindow uint64
}

// Unsigned is a transaction ready for signing. Decode, when set, extracts
// the plan's final output from the transaction's return data.
type Unsigned struct {
	Tx     *types.Transaction
	Decode OutputDecoder
	Label  string
}

// Submission is a signed transaction bound to one channel.
type Submission struct {
	PlanID          string
	Label           string
	Channel         model.Channel
	Tx              *types.Transaction
	Raw             []byte
	MaxBlockNumber  uint64
	Refund          *model.Refund
	SimulatedOutput *big.Int
}

// Selector picks the delivery channel and prepares signed submissions. It
// never changes a plan's economic terms.
type Selector struct {
	cfg     Config
	from    common.Address
	signer  Signer
	backend Backend
	relay   Relay
	sim     Simulator
	logger  *zap.Logger
}

// NewSelector creates a selector. relay and sim may be nil when the
// protected channel or simulation is disabled.
func NewSelector(cfg Config, from common.Address, signer Signer, backend Backend, relay Relay, sim Simulator, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{cfg: cfg, from: from, signer: signer, backend: backend, relay: relay, sim: sim, logger: logger}
}

// From is the sending account.
func (s *Selector) From() common.Address { return s.from }

// Channel is the channel new plans are assigned.
func (s *Selector) Channel() model.Channel {
	if s.cfg.MEVProtection && s.relay != nil {
		return model.ChannelProtected
	}
	return model.ChannelPublic
}

// NewTx builds an unsigned EIP-1559 transaction from call using the plan's
// fee parameters and the account's pending nonce.
func (s *Selector) NewTx(ctx context.Context, call model.Call, gas model.GasParams) (*types.Transaction, error) {
	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return nil, model.SubmissionError("chain id", err)
	}
	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, model.SubmissionError("pending nonce", err)
	}
	gasLimit := call.GasLimit
	if gasLimit == 0 {
		gasLimit = gas.GasLimit
	}
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	to := call.Target
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: orZero(gas.MaxPriorityFeePerGas),
		GasFeeCap: orZero(gas.MaxFeePerGas),
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      call.Data,
	}), nil
}

// Prepare signs tx for the plan's channel. On the protected channel with
// simulation enabled the final output is simulated first; a shortfall
// beyond the configured deviation rejects the plan, while simulation errors
// are logged and ignored.
func (s *Selector) Prepare(ctx context.Context, plan *model.ExecutionPlan, unsigned Unsigned) (Submission, error) {
	sub := Submission{
		PlanID:  plan.ID(),
		Label:   unsigned.Label,
		Channel: plan.Channel(),
		Refund:  plan.Refund(),
	}

	if sub.Channel == model.ChannelProtected {
		if s.relay == nil {
			return Submission{}, &model.ConfigError{Field: "relay-url", Reason: "protected channel without relay"}
		}
		if s.cfg.Simulate && s.sim != nil && unsigned.Decode != nil {
			simulated, err := s.checkSimulation(ctx, plan, unsigned)
			if err != nil {
				return Submission{}, err
			}
			sub.SimulatedOutput = simulated
		}
		if s.cfg.BlockWindow > 0 {
			head, err := s.backend.LatestBlockNumber(ctx)
			if err != nil {
				return Submission{}, model.SubmissionError("latest block", err)
			}
			sub.MaxBlockNumber = head + s.cfg.BlockWindow
		}
	}

	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return Submission{}, model.SubmissionError("chain id", err)
	}
	signed, err := s.signer.SignTx(ctx, s.from, unsigned.Tx, chainID)
	if err != nil {
		return Submission{}, model.SubmissionError("sign", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return Submission{}, fmt.Errorf("encode signed tx: %w", err)
	}
	sub.Tx = signed
	sub.Raw = raw
	return sub, nil
}

func (s *Selector) checkSimulation(ctx context.Context, plan *model.ExecutionPlan, unsigned Unsigned) (*big.Int, error) {
	simulated, err := s.sim.SimulateOutput(ctx, s.from, unsigned.Tx, unsigned.Decode)
	if err != nil {
		s.logger.Warn("pre-submission simulation failed",
			zap.String("plan_id", plan.ID()),
			zap.String("label", unsigned.Label),
			zap.Error(err),
		)
		return nil, nil
	}

	expected := plan.QuotedOutput()
	deviation := Deviation(expected, simulated)
	if deviation.GreaterThan(s.cfg.Deviation) || simulated.Cmp(plan.MinOutput()) < 0 {
		return nil, fmt.Errorf("simulated output %s deviates %s from quoted %s: %w",
			simulated, deviation.StringFixed(6), expected, model.ErrSlippageViolation)
	}
	s.logger.Debug("pre-submission simulation passed",
		zap.String("plan_id", plan.ID()),
		zap.String("simulated_output", simulated.String()),
		zap.String("deviation", deviation.StringFixed(6)),
	)
	return simulated, nil
}

// Send delivers a prepared submission on its channel.
func (s *Selector) Send(ctx context.Context, sub Submission) (common.Hash, error) {
	switch sub.Channel {
	case model.ChannelProtected:
		if s.relay == nil {
			return common.Hash{}, &model.ConfigError{Field: "relay-url", Reason: "protected channel without relay"}
		}
		hash, err := s.relay.SendPrivateTransaction(ctx, PrivateTx{
			Raw:            sub.Raw,
			MaxBlockNumber: sub.MaxBlockNumber,
			Refund:         sub.Refund,
		})
		if err != nil {
			return common.Hash{}, model.SubmissionError("relay send", err)
		}
		if hash == (common.Hash{}) {
			hash = sub.Tx.Hash()
		}
		return hash, nil
	default:
		if err := s.backend.SendTransaction(ctx, sub.Tx); err != nil {
			return common.Hash{}, model.SubmissionError("public send", err)
		}
		return sub.Tx.Hash(), nil
	}
}

// Node and relay messages for a raw transaction that is already pooled or
// whose nonce has been consumed. They arrive as plain strings over JSON-RPC.
var deliveredMessages = []string{"already known", "known transaction", "nonce too low"}

// AlreadyDelivered reports whether a send error means an earlier broadcast
// of the same signed transaction was accepted.
func AlreadyDelivered(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, known := range deliveredMessages {
		if strings.Contains(msg, known) {
			return true
		}
	}
	return false
}

// Deviation is (expected - actual) / expected, zero when actual meets or
// beats expected.
func Deviation(expected, actual *big.Int) decimal.Decimal {
	if expected == nil || expected.Sign() <= 0 || actual == nil || actual.Cmp(expected) >= 0 {
		return decimal.Zero
	}
	diff := new(big.Int).Sub(expected, actual)
	return decimal.NewFromBigInt(diff, 0).DivRound(decimal.NewFromBigInt(expected, 0), 18)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
