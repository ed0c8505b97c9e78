package services

import (
	"fmt"
	"time"

	"relay-backend/internal/relay"
)

// ValidationError a malformed or inconsistent submission, rejected before
// any side effect.
type ValidationError struct {
	ChainID uint64
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.ChainID != 0 {
		return fmt.Sprintf("validation: chain %d: %s", e.ChainID, e.Reason)
	}
	return fmt.Sprintf("validation: %s", e.Reason)
}

// PaymentOption a client-supplied top-up option, shape-validated and echoed
// back on rejection.
type PaymentOption struct {
	ChainID      uint64 `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
	Symbol       string `json:"symbol"`
	Amount       string `json:"amount"`
}

// PaymentRequiredError the floor check failed. Expected and recoverable:
// the caller tops up and retries. No ledger mutation, no relay call.
type PaymentRequiredError struct {
	EstimatedDebit int64
	BalanceBefore  int64
	PostDebit      int64
	Floor          int64
	RequiredTopUp  int64
	SuggestedTopUp int64
	PaymentOptions []PaymentOption
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment required: post-debit %d below floor %d (top up at least %d)",
		e.PostDebit, e.Floor, e.RequiredTopUp)
}

// SubmissionError the relay provider rejected or erred after the ledger was
// debited. The debit is not rolled back; the accounting snapshot and partial
// submission results let the caller reconcile charged-vs-requested.
type SubmissionError struct {
	ChainID             uint64
	Reason              string
	Err                 error
	Accounting          Accounting
	PrioritySubmissions []Submission
	Submissions         []Submission
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("relay submission failed on chain %d: %s", e.ChainID, e.Reason)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// StatusTimeoutError polling ran out of time with the task non-terminal.
// Distinct from StatusFailedError: the transaction might still land.
type StatusTimeoutError struct {
	ChainID uint64
	RelayID string
	Timeout time.Duration
}

func (e *StatusTimeoutError) Error() string {
	return fmt.Sprintf("relay task %s on chain %d not terminal after %s", e.RelayID, e.ChainID, e.Timeout)
}

// StatusFailedError the relay task reached a terminal failure state. The raw
// provider status travels with the error so callers can surface it without
// re-deriving anything.
type StatusFailedError struct {
	ChainID       uint64
	RelayID       string
	State         relay.State
	RawStatus     string
	FailureReason string
}

func (e *StatusFailedError) Error() string {
	return fmt.Sprintf("relay task %s on chain %d terminal state %s (%s): %s",
		e.RelayID, e.ChainID, e.State, e.RawStatus, e.FailureReason)
}
