package services

import (
	"context"
	"errors"
	"fmt"

	"relay-backend/internal/chain"
	"relay-backend/internal/events"
	"relay-backend/internal/metrics"
	"relay-backend/internal/models"
	"relay-backend/internal/plan"
	"relay-backend/internal/relay"
	"relay-backend/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ChainTx one transaction destined for one chain's relay endpoint.
type ChainTx struct {
	ChainID uint64             `json:"chainId"`
	Request plan.RelayTxRequest `json:"request"`
}

// SubmitRequest a billed relay submission: ordered priority transactions
// relayed synchronously, background transactions relayed without waiting.
type SubmitRequest struct {
	Account        string
	SupportMode    models.SupportMode
	PriorityTxs    []ChainTx
	Txs            []ChainTx
	PaymentOptions []PaymentOption
}

// Accounting the ledger snapshot for one accepted submission.
type Accounting struct {
	EstimatedDebit int64 `json:"estimatedDebit"`
	BalanceBefore  int64 `json:"balanceBefore"`
	BalanceAfter   int64 `json:"balanceAfter"`
}

// Submission one transaction accepted by the relay provider.
type Submission struct {
	ChainID         uint64 `json:"chainId"`
	ID              string `json:"id"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// SubmitResult accounting plus per-transaction submission ids.
type SubmitResult struct {
	Accounting          Accounting   `json:"accounting"`
	PrioritySubmissions []Submission `json:"prioritySubmissions"`
	Submissions         []Submission `json:"submissions"`
}

// GasTankService is the billing boundary in front of the relay provider:
// exemption detection, costing, floor check, optimistic debit, then
// submission. The ledger is debited before any relay call and a later relay
// failure does not roll it back.
type GasTankService struct {
	tanks       repository.GasTankRepository
	submissions repository.SubmissionRepository
	chains      chain.Reader
	relay       relay.Client
	publisher   *events.Publisher
	logger      *logrus.Logger
}

func NewGasTankService(tanks repository.GasTankRepository, submissions repository.SubmissionRepository, chains chain.Reader, relayClient relay.Client, publisher *events.Publisher, logger *logrus.Logger) *GasTankService {
	return &GasTankService{
		tanks:       tanks,
		submissions: submissions,
		chains:      chains,
		relay:       relayClient,
		publisher:   publisher,
		logger:      logger,
	}
}

// billedTx a submitted transaction annotated through the pipeline.
type billedTx struct {
	tx     ChainTx
	kind   models.SubmissionKind
	exempt bool
	quote  int64
}

// Submit runs the full pipeline. Returns *ValidationError for malformed
// requests, *PaymentRequiredError when the floor check fails, and
// *SubmissionError (with accounting and partial results) when the relay
// provider fails after the debit.
func (s *GasTankService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if !common.IsHexAddress(req.Account) {
		metrics.GasTankValidationRejections.Inc()
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid account address %q", req.Account)}
	}
	account := common.HexToAddress(req.Account)

	if len(req.PriorityTxs)+len(req.Txs) == 0 {
		metrics.GasTankValidationRejections.Inc()
		return nil, &ValidationError{Reason: "no transactions submitted"}
	}
	if err := validatePaymentOptions(req.PaymentOptions); err != nil {
		metrics.GasTankValidationRejections.Inc()
		return nil, err
	}

	all := make([]*billedTx, 0, len(req.PriorityTxs)+len(req.Txs))
	for _, tx := range req.PriorityTxs {
		all = append(all, &billedTx{tx: tx, kind: models.SubmissionKindPriority})
	}
	for _, tx := range req.Txs {
		all = append(all, &billedTx{tx: tx, kind: models.SubmissionKindBackground})
	}

	// Exemption detection must precede costing: the bootstrap transaction is
	// never billed, and a stray authorization on an already-initialized
	// chain rejects the whole request.
	if err := s.markExemptions(ctx, account, all); err != nil {
		return nil, err
	}

	estimatedDebit, err := s.cost(ctx, all)
	if err != nil {
		return nil, err
	}

	floor := req.SupportMode.FloorMicros()
	startingCredit := req.SupportMode.StartingCreditMicros()

	tank, err := s.tanks.Get(ctx, req.Account, req.SupportMode, startingCredit)
	if err != nil {
		return nil, fmt.Errorf("load gas tank: %w", err)
	}

	if tank.BalanceMicros-estimatedDebit < floor {
		metrics.GasTankPaymentRequiredTotal.WithLabelValues(string(req.SupportMode)).Inc()
		return nil, paymentRequired(estimatedDebit, tank.BalanceMicros, floor, req.PaymentOptions)
	}

	// Pay-first: the provider is paid regardless of on-chain outcome, so the
	// ledger reflects committed spend. The repository re-checks the floor
	// under the row lock, closing the race between concurrent submissions.
	before, after, err := s.tanks.Debit(ctx, req.Account, req.SupportMode, estimatedDebit, floor, startingCredit)
	if err != nil {
		if errors.Is(err, repository.ErrFloorViolation) {
			metrics.GasTankPaymentRequiredTotal.WithLabelValues(string(req.SupportMode)).Inc()
			return nil, paymentRequired(estimatedDebit, before, floor, req.PaymentOptions)
		}
		return nil, fmt.Errorf("debit gas tank: %w", err)
	}

	metrics.GasTankDebitsTotal.WithLabelValues(string(req.SupportMode)).Inc()
	metrics.GasTankDebitMicros.WithLabelValues(string(req.SupportMode)).Observe(float64(estimatedDebit))

	s.logger.WithFields(logrus.Fields{
		"account":         req.Account,
		"support_mode":    req.SupportMode,
		"estimated_debit": estimatedDebit,
		"balance_after":   after,
	}).Info("💸 Gas tank debited")

	accounting := Accounting{
		EstimatedDebit: estimatedDebit,
		BalanceBefore:  before,
		BalanceAfter:   after,
	}

	result := &SubmitResult{Accounting: accounting}
	for _, b := range all {
		sub, err := s.submitOne(ctx, req, b)
		if err != nil {
			metrics.RelaySubmissionFailures.WithLabelValues(fmt.Sprintf("%d", b.tx.ChainID)).Inc()
			return nil, &SubmissionError{
				ChainID:             b.tx.ChainID,
				Reason:              err.Error(),
				Err:                 err,
				Accounting:          accounting,
				PrioritySubmissions: result.PrioritySubmissions,
				Submissions:         result.Submissions,
			}
		}
		if b.kind == models.SubmissionKindPriority {
			result.PrioritySubmissions = append(result.PrioritySubmissions, sub)
		} else {
			result.Submissions = append(result.Submissions, sub)
		}
	}

	return result, nil
}

// markExemptions groups transactions by chain and applies the bootstrap rule
// per chain: an uninitialized chain must carry exactly one qualifying
// bootstrap transaction, and an initialized chain must carry none.
func (s *GasTankService) markExemptions(ctx context.Context, account common.Address, all []*billedTx) error {
	byChain := make(map[uint64][]*billedTx)
	order := make([]uint64, 0, len(all))
	for _, b := range all {
		if _, seen := byChain[b.tx.ChainID]; !seen {
			order = append(order, b.tx.ChainID)
		}
		byChain[b.tx.ChainID] = append(byChain[b.tx.ChainID], b)
	}

	for _, chainID := range order {
		group := byChain[chainID]

		code, err := s.chains.GetDeployedCode(ctx, chainID, account)
		if err != nil {
			return fmt.Errorf("deployment check on chain %d: %w", chainID, err)
		}
		deployed := len(code) > 0

		var bootstraps []*billedTx
		for _, b := range group {
			isBootstrap, err := qualifiesAsBootstrap(account, b.tx.Request)
			if err != nil {
				metrics.GasTankValidationRejections.Inc()
				return &ValidationError{ChainID: chainID, Reason: err.Error()}
			}
			if b.tx.Request.Authorization != nil && deployed {
				metrics.GasTankValidationRejections.Inc()
				return &ValidationError{ChainID: chainID, Reason: "authorization proof on an already-initialized chain"}
			}
			if isBootstrap {
				bootstraps = append(bootstraps, b)
			}
		}

		if !deployed {
			if len(bootstraps) != 1 {
				metrics.GasTankValidationRejections.Inc()
				return &ValidationError{
					ChainID: chainID,
					Reason:  fmt.Sprintf("uninitialized chain requires exactly one bootstrap transaction, got %d", len(bootstraps)),
				}
			}
			bootstraps[0].exempt = true
		}
	}

	return nil
}

// qualifiesAsBootstrap: self-addressed, authorization signed by the account,
// calldata beginning with the initialization selector. A present but
// unrecoverable or mismatched authorization is an error, not a non-match.
func qualifiesAsBootstrap(account common.Address, req plan.RelayTxRequest) (bool, error) {
	if req.Authorization == nil {
		return false, nil
	}
	authority, err := req.Authorization.Authority()
	if err != nil {
		return false, fmt.Errorf("authorization recovery: %v", err)
	}
	if authority != account {
		return false, fmt.Errorf("authorization signed by %s, expected %s", authority.Hex(), account.Hex())
	}
	return req.From == account && req.To == account && plan.IsInitializeCalldata(req.Data), nil
}

func (s *GasTankService) cost(ctx context.Context, all []*billedTx) (int64, error) {
	var total int64
	for _, b := range all {
		if b.exempt {
			continue
		}
		quote, err := s.relay.GetFeeQuote(ctx, b.tx.ChainID, b.tx.Request)
		if err != nil {
			return 0, fmt.Errorf("fee quote on chain %d: %w", b.tx.ChainID, err)
		}
		b.quote = quote.TotalMicros
		total += quote.TotalMicros
	}
	return total, nil
}

func (s *GasTankService) submitOne(ctx context.Context, req SubmitRequest, b *billedTx) (Submission, error) {
	var (
		result relay.SubmitResult
		err    error
	)
	if b.kind == models.SubmissionKindPriority {
		result, err = s.relay.SendTransactionSync(ctx, b.tx.ChainID, b.tx.Request)
	} else {
		result, err = s.relay.SendTransaction(ctx, b.tx.ChainID, b.tx.Request)
	}
	if err != nil {
		return Submission{}, err
	}

	metrics.RelaySubmissionsTotal.WithLabelValues(fmt.Sprintf("%d", b.tx.ChainID), string(b.kind)).Inc()
	s.publisher.Submitted(req.Account, b.tx.ChainID, result.ID)

	record := &models.SubmissionRecord{
		Account:         req.Account,
		SupportMode:     req.SupportMode,
		ChainID:         b.tx.ChainID,
		RelayID:         result.ID,
		Kind:            b.kind,
		Exempt:          b.exempt,
		DebitMicros:     b.quote,
		TransactionHash: result.TransactionHash,
	}
	if err := s.submissions.Record(ctx, record); err != nil {
		// The relay already accepted the transaction; losing the audit row
		// only degrades reconciliation.
		s.logger.WithFields(logrus.Fields{
			"chain_id": b.tx.ChainID,
			"relay_id": result.ID,
			"error":    err.Error(),
		}).Warn("Failed to persist submission record")
	}

	return Submission{
		ChainID:         b.tx.ChainID,
		ID:              result.ID,
		TransactionHash: result.TransactionHash,
	}, nil
}

func paymentRequired(estimatedDebit, balance, floor int64, options []PaymentOption) *PaymentRequiredError {
	postDebit := balance - estimatedDebit
	required := floor - postDebit
	return &PaymentRequiredError{
		EstimatedDebit: estimatedDebit,
		BalanceBefore:  balance,
		PostDebit:      postDebit,
		Floor:          floor,
		RequiredTopUp:  required,
		SuggestedTopUp: required + estimatedDebit,
		PaymentOptions: options,
	}
}

func validatePaymentOptions(options []PaymentOption) error {
	for i, opt := range options {
		if opt.ChainID == 0 {
			return &ValidationError{Reason: fmt.Sprintf("payment option %d: missing chainId", i)}
		}
		if !common.IsHexAddress(opt.TokenAddress) {
			return &ValidationError{Reason: fmt.Sprintf("payment option %d: invalid token address %q", i, opt.TokenAddress)}
		}
		if opt.Symbol == "" || opt.Amount == "" {
			return &ValidationError{Reason: fmt.Sprintf("payment option %d: symbol and amount are required", i)}
		}
	}
	return nil
}

// Balance reads the ledger row, creating it with the mode's starting credit
// on first read.
func (s *GasTankService) Balance(ctx context.Context, account string, mode models.SupportMode) (*models.GasTank, error) {
	if !common.IsHexAddress(account) {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid account address %q", account)}
	}
	return s.tanks.Get(ctx, account, mode, mode.StartingCreditMicros())
}

// Credit applies a top-up (or, negative, an operator correction).
func (s *GasTankService) Credit(ctx context.Context, account string, mode models.SupportMode, amountMicros int64) (*models.GasTank, error) {
	if !common.IsHexAddress(account) {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid account address %q", account)}
	}
	tank, err := s.tanks.Adjust(ctx, account, mode, amountMicros, mode.StartingCreditMicros())
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"account":      account,
		"support_mode": mode,
		"delta":        amountMicros,
		"balance":      tank.BalanceMicros,
	}).Info("Gas tank credited")
	return tank, nil
}

// History lists recent submission records for an account.
func (s *GasTankService) History(ctx context.Context, account string, limit int) ([]models.SubmissionRecord, error) {
	if !common.IsHexAddress(account) {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid account address %q", account)}
	}
	return s.submissions.ListByAccount(ctx, account, limit)
}
