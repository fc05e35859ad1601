package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OutcomeStatus is the terminal status of a plan.
type OutcomeStatus string

const (
	OutcomeConfirmed        OutcomeStatus = "confirmed"
	OutcomeReverted         OutcomeStatus = "reverted"
	OutcomeFailedToSubmit   OutcomeStatus = "failed_to_submit"
	OutcomeRejected         OutcomeStatus = "rejected"
	OutcomeTimeout          OutcomeStatus = "timeout"
	OutcomeCancelled        OutcomeStatus = "cancelled"
	OutcomeNoRoute          OutcomeStatus = "no_route"
	OutcomeQuoteUnavailable OutcomeStatus = "quote_unavailable"
)

// TransactionOutcome is the terminal record of one cycle.
type TransactionOutcome struct {
	CycleID      string        `json:"cycle_id"`
	PlanID       string        `json:"plan_id,omitempty"`
	Pair         Pair          `json:"pair"`
	Status       OutcomeStatus `json:"status"`
	State        CycleState    `json:"state"`
	Channel      Channel       `json:"channel,omitempty"`
	TxHash       common.Hash   `json:"tx_hash,omitempty"`
	BlockNumber  uint64        `json:"block_number,omitempty"`
	GasUsed      uint64        `json:"gas_used,omitempty"`
	QuotedOutput *big.Int      `json:"quoted_output,omitempty"`
	MinOutput    *big.Int      `json:"min_output,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Attempts     int           `json:"attempts"`
	Plan         *PlanView     `json:"plan,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}
