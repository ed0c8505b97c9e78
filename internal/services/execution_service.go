package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relay-backend/internal/chain"
	"relay-backend/internal/events"
	"relay-backend/internal/metrics"
	"relay-backend/internal/plan"
	"relay-backend/internal/relay"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ExecutionOptions orchestrator tuning. Zero values use defaults.
type ExecutionOptions struct {
	PollInterval time.Duration
	WaitTimeout  time.Duration
	// GasFallback is used when estimation fails: signature-gated execute
	// paths are hard for generic estimators.
	GasFallback uint64
}

func (o ExecutionOptions) withDefaults() ExecutionOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 2 * time.Minute
	}
	if o.GasFallback == 0 {
		o.GasFallback = 1_000_000
	}
	return o
}

// ExecutionService sequences per-chain submission of built plans:
// destination chain synchronous and confirmed first, other chains fanned out
// concurrently and independently.
type ExecutionService struct {
	planner   *plan.Planner
	chains    chain.Reader
	relay     relay.Client
	delegates plan.DelegateResolver
	publisher *events.Publisher
	logger    *logrus.Logger
	opts      ExecutionOptions
}

func NewExecutionService(planner *plan.Planner, chains chain.Reader, relayClient relay.Client, delegates plan.DelegateResolver, publisher *events.Publisher, logger *logrus.Logger, opts ExecutionOptions) *ExecutionService {
	return &ExecutionService{
		planner:   planner,
		chains:    chains,
		relay:     relayClient,
		delegates: delegates,
		publisher: publisher,
		logger:    logger,
		opts:      opts.withDefaults(),
	}
}

// BundleResult outcome of one non-destination chain bundle. Failures are
// reported per bundle and never cancel siblings.
type BundleResult struct {
	ChainID uint64
	RelayID string
	Err     error
}

// ChainCallsResult outcome of a multi-chain submission.
type ChainCallsResult struct {
	DestinationChainID uint64
	DestinationRelayID string
	DestinationStatus  relay.Status
	Others             []BundleResult
}

// ExecuteCalls runs one chain's call bundle end to end: blocking
// initialization check, revert simulation, gas estimation with fallback,
// best-effort fee quote, then asynchronous submission.
func (s *ExecutionService) ExecuteCalls(ctx context.Context, account common.Address, chainID uint64, calls []plan.Call, signer plan.Signer) (string, error) {
	return s.executeCalls(ctx, account, chainID, calls, signer, false)
}

func (s *ExecutionService) executeCalls(ctx context.Context, account common.Address, chainID uint64, calls []plan.Call, signer plan.Signer, synchronous bool) (string, error) {
	// Blocking: the simulation below needs deployed code to run against.
	if _, err := s.EnsureInitializedIfNeeded(ctx, account, chainID, signer, true); err != nil {
		return "", err
	}

	built, err := s.planner.BuildPlan(ctx, plan.PlanRequest{
		Account: account,
		Leaves: []plan.LeafRequest{{
			ChainID: chainID,
			Mode:    plan.ModeImmediate,
			Payload: plan.ExecutePayload{Calls: calls},
		}},
	}, signer)
	if err != nil {
		metrics.PlansBuiltTotal.WithLabelValues(string(plan.PlanStateFailed)).Inc()
		return "", err
	}
	metrics.PlansBuiltTotal.WithLabelValues(string(built.State)).Inc()

	envelope := built.Leaves[0].Envelope
	request := envelope.Request

	// Revert check before anything is billed or submitted.
	if err := s.chains.SimulateCall(ctx, chainID, request.From, request.To, request.Data); err != nil {
		return "", fmt.Errorf("simulation rejected bundle on chain %d: %w", chainID, err)
	}

	gasLimit, err := s.chains.EstimateGas(ctx, chainID, request.From, request.To, request.Data)
	if err != nil {
		gasLimit = s.opts.GasFallback
		s.logger.WithFields(logrus.Fields{
			"chain_id": chainID,
			"fallback": gasLimit,
			"error":    err.Error(),
		}).Warn("Gas estimation failed, using fallback")
	}
	request.GasLimit = gasLimit

	// Display-only; a quote failure never blocks submission.
	if quote, err := s.relay.GetFeeQuote(ctx, chainID, request); err != nil {
		s.logger.WithFields(logrus.Fields{
			"chain_id": chainID,
			"error":    err.Error(),
		}).Debug("Fee quote unavailable")
	} else {
		s.logger.WithFields(logrus.Fields{
			"chain_id":     chainID,
			"total_micros": quote.TotalMicros,
		}).Debug("Fee quote")
	}

	var result relay.SubmitResult
	if synchronous {
		result, err = s.relay.SendTransactionSync(ctx, chainID, request)
	} else {
		result, err = s.relay.SendTransaction(ctx, chainID, request)
	}
	if err != nil {
		metrics.RelaySubmissionFailures.WithLabelValues(fmt.Sprintf("%d", chainID)).Inc()
		return "", &SubmissionError{ChainID: chainID, Reason: err.Error(), Err: err}
	}

	metrics.RelaySubmissionsTotal.WithLabelValues(fmt.Sprintf("%d", chainID), "orchestrated").Inc()
	s.publisher.Submitted(account.Hex(), chainID, result.ID)

	return result.ID, nil
}

// ExecuteChainCalls submits the destination chain synchronously, waits for
// its terminal relay state, then fans the remaining chains out concurrently.
// The destination result is the user-visible "did it work"; sibling failures
// are collected per bundle.
func (s *ExecutionService) ExecuteChainCalls(ctx context.Context, account common.Address, destinationChainID uint64, actions []plan.ChainCalls, signer plan.Signer) (*ChainCallsResult, error) {
	merged := plan.MergeChainActions(actions)

	var destination *plan.ChainCalls
	others := make([]plan.ChainCalls, 0, len(merged))
	for i := range merged {
		if merged[i].ChainID == destinationChainID {
			destination = &merged[i]
			continue
		}
		others = append(others, merged[i])
	}
	if destination == nil {
		return nil, &ValidationError{ChainID: destinationChainID, Reason: "no calls for destination chain"}
	}

	relayID, err := s.executeCalls(ctx, account, destinationChainID, destination.Calls, signer, true)
	if err != nil {
		return nil, err
	}

	status, err := s.WaitForTerminalRelayState(ctx, destinationChainID, relayID, s.opts.WaitTimeout, s.opts.PollInterval)
	if err != nil {
		return nil, err
	}

	result := &ChainCallsResult{
		DestinationChainID: destinationChainID,
		DestinationRelayID: relayID,
		DestinationStatus:  status,
		Others:             make([]BundleResult, len(others)),
	}

	// Remaining chains run independently; one failing bundle must not
	// cancel its siblings.
	var wg sync.WaitGroup
	for i := range others {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bundle := others[i]
			id, err := s.executeCalls(ctx, account, bundle.ChainID, bundle.Calls, signer, false)
			result.Others[i] = BundleResult{ChainID: bundle.ChainID, RelayID: id, Err: err}
			if err != nil {
				s.logger.WithFields(logrus.Fields{
					"chain_id": bundle.ChainID,
					"error":    err.Error(),
				}).Error("Background chain bundle failed")
			}
		}(i)
	}
	wg.Wait()

	return result, nil
}

// EnsureInitializedIfNeeded checks for deployed code and, when absent,
// submits the chain's one-time bootstrap transaction: self-addressed,
// carrying a fresh authorization proof, calldata starting with the
// initialization selector.
func (s *ExecutionService) EnsureInitializedIfNeeded(ctx context.Context, account common.Address, chainID uint64, signer plan.Signer, wait bool) (string, error) {
	code, err := s.chains.GetDeployedCode(ctx, chainID, account)
	if err != nil {
		return "", fmt.Errorf("deployment check on chain %d: %w", chainID, err)
	}
	if len(code) > 0 {
		return "", nil
	}

	nonce, err := s.chains.GetTransactionCount(ctx, chainID, account)
	if err != nil {
		return "", fmt.Errorf("nonce fetch on chain %d: %w", chainID, err)
	}

	delegate, err := s.delegates(chainID)
	if err != nil {
		return "", err
	}
	auth, err := signer.SignAuthorization(ctx, chainID, delegate, nonce)
	if err != nil {
		return "", fmt.Errorf("authorization for chain %d: %w", chainID, err)
	}

	request := plan.RelayTxRequest{
		From:          account,
		To:            account,
		Data:          plan.EncodeInitializeCalldata(nil),
		Authorization: auth,
	}

	result, err := s.relay.SendTransactionSync(ctx, chainID, request)
	if err != nil {
		metrics.RelaySubmissionFailures.WithLabelValues(fmt.Sprintf("%d", chainID)).Inc()
		return "", &SubmissionError{ChainID: chainID, Reason: err.Error(), Err: err}
	}

	metrics.RelaySubmissionsTotal.WithLabelValues(fmt.Sprintf("%d", chainID), "bootstrap").Inc()
	s.publisher.Submitted(account.Hex(), chainID, result.ID)

	s.logger.WithFields(logrus.Fields{
		"chain_id": chainID,
		"account":  account.Hex(),
		"relay_id": result.ID,
	}).Info("Bootstrap transaction submitted")

	if wait {
		if _, err := s.WaitForTerminalRelayState(ctx, chainID, result.ID, s.opts.WaitTimeout, s.opts.PollInterval); err != nil {
			return result.ID, err
		}
	}

	return result.ID, nil
}

// WaitForTerminalRelayState polls until the task is terminal, the timeout
// lapses, or the context is cancelled. The first poll happens immediately so
// a timeout shorter than the interval still gets one look at the provider.
// Pending, waiting and unknown states keep polling; a poll that errors keeps
// polling too, an unfamiliar provider answer is never fatal mid-wait.
func (s *ExecutionService) WaitForTerminalRelayState(ctx context.Context, chainID uint64, relayID string, timeout, interval time.Duration) (relay.Status, error) {
	started := time.Now()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	observe := func(outcome string) {
		metrics.RelayPollDuration.WithLabelValues(fmt.Sprintf("%d", chainID), outcome).
			Observe(time.Since(started).Seconds())
	}

	for {
		status, err := s.relay.GetStatus(ctx, chainID, relayID)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"chain_id": chainID,
				"relay_id": relayID,
				"error":    err.Error(),
			}).Warn("Status poll failed, retrying")
		} else {
			switch status.State {
			case relay.StateExecuted:
				observe("executed")
				s.publisher.Terminal("", chainID, relayID, string(status.State), status.TransactionHash)
				return status, nil
			case relay.StateFailed, relay.StateReverted, relay.StateCancelled:
				observe(string(status.State))
				s.publisher.Terminal("", chainID, relayID, string(status.State), status.TransactionHash)
				return status, &StatusFailedError{
					ChainID:       chainID,
					RelayID:       relayID,
					State:         status.State,
					RawStatus:     status.RawStatus,
					FailureReason: status.FailureReason,
				}
			default:
				// pending, waiting, unknown: keep polling.
			}
		}

		select {
		case <-ctx.Done():
			observe("cancelled")
			return relay.Status{}, ctx.Err()
		case <-deadline.C:
			observe("timeout")
			return relay.Status{}, &StatusTimeoutError{ChainID: chainID, RelayID: relayID, Timeout: timeout}
		case <-ticker.C:
		}
	}
}

// WaitForInclusion waits for a terminal state and resolves the terminal
// block's timestamp for receipt display.
func (s *ExecutionService) WaitForInclusion(ctx context.Context, chainID uint64, relayID string, timeout time.Duration) (relay.Status, time.Time, error) {
	status, err := s.WaitForTerminalRelayState(ctx, chainID, relayID, timeout, s.opts.PollInterval)
	if err != nil {
		return status, time.Time{}, err
	}

	if status.BlockNumber == 0 {
		return status, time.Time{}, nil
	}
	includedAt, err := s.chains.GetBlockTimestamp(ctx, chainID, status.BlockNumber)
	if err != nil {
		// The inclusion already happened; a missing timestamp only degrades
		// the receipt.
		s.logger.WithFields(logrus.Fields{
			"chain_id": chainID,
			"block":    status.BlockNumber,
			"error":    err.Error(),
		}).Warn("Block timestamp lookup failed")
		return status, time.Time{}, nil
	}
	return status, includedAt, nil
}
