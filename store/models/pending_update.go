package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type PendingUpdateState string

const (
	PendingUpdateWaiting              = PendingUpdateState("waiting")
	PendingUpdateSubmitting           = PendingUpdateState("submitting")
	PendingUpdateAwaitingConfirmation = PendingUpdateState("awaiting_confirmation")
)

// PendingUpdate is the single in-flight attempt of a worker for one batch.
type PendingUpdate struct {
	ID             uuid.UUID
	Chain          string
	BatchID        string
	State          PendingUpdateState
	ProposedValues []ProposedValue
	FeePlan        *FeePlan
	DueSince       time.Time
	SubmittedAt    time.Time
	TxHash         *common.Hash
	Nonce          uint64
	Confirmations  uint64
}

type ProposedValue struct {
	FeedID      common.Hash
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime time.Time
}

// FeePlan is what the fee estimator proposed for one submission.
type FeePlan struct {
	TxType   uint8
	GasLimit uint64
	// GasPrice is set for legacy transactions.
	GasPrice *big.Int
	// GasFeeCap and GasTipCap are set for dynamic fee transactions.
	GasFeeCap  *big.Int
	GasTipCap  *big.Int
	Multiplier string
}

// Price returns the bid that matters for comparing plans.
func (p *FeePlan) Price() *big.Int {
	if p.GasFeeCap != nil {
		return p.GasFeeCap
	}
	return p.GasPrice
}

type SubmissionOutcome string

const (
	OutcomeConfirmed  = SubmissionOutcome("confirmed")
	OutcomeTimedOut   = SubmissionOutcome("timed_out")
	OutcomeSuperseded = SubmissionOutcome("superseded")
	OutcomeRejected   = SubmissionOutcome("rejected")
	OutcomeFailed     = SubmissionOutcome("failed")
)

// SubmissionRecord is the terminal outcome of one PendingUpdate.
type SubmissionRecord struct {
	ID       uuid.UUID
	Chain    string
	BatchID  string
	TxHash   *common.Hash
	Outcome  SubmissionOutcome
	Reason   string
	FeePlan  *FeePlan
	Recorded time.Time
}
