package dto

import (
	"relay-backend/internal/plan"
	"relay-backend/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ==================== Relay DTOs ====================

// TxRequest wire shape of one relay transaction. Clients send the
// authorization proof under any of three keys: `authorization`,
// `authorizationList` (first entry wins) or `eip7702Auth`.
type TxRequest struct {
	From              common.Address            `json:"from" binding:"required"`
	To                common.Address            `json:"to" binding:"required"`
	Data              hexutil.Bytes             `json:"data"`
	Value             *hexutil.Big              `json:"value,omitempty"`
	GasLimit          uint64                    `json:"gasLimit,omitempty"`
	Authorization     *plan.AuthorizationProof  `json:"authorization,omitempty"`
	AuthorizationList []plan.AuthorizationProof `json:"authorizationList,omitempty"`
	EIP7702Auth       *plan.AuthorizationProof  `json:"eip7702Auth,omitempty"`
}

// ToPlanRequest normalizes the authorization aliases onto the internal shape.
func (r TxRequest) ToPlanRequest() plan.RelayTxRequest {
	auth := r.Authorization
	if auth == nil && len(r.AuthorizationList) > 0 {
		auth = &r.AuthorizationList[0]
	}
	if auth == nil {
		auth = r.EIP7702Auth
	}
	return plan.RelayTxRequest{
		From:          r.From,
		To:            r.To,
		Data:          r.Data,
		Value:         r.Value,
		GasLimit:      r.GasLimit,
		Authorization: auth,
	}
}

// ChainTx one transaction bound to one chain.
type ChainTx struct {
	ChainID uint64    `json:"chainId" binding:"required"`
	Request TxRequest `json:"request" binding:"required"`
}

// SubmitRequest POST /v1/relay/submit body.
type SubmitRequest struct {
	Account        string                   `json:"account" binding:"required"`
	SupportMode    string                   `json:"supportMode" binding:"required"`
	PriorityTxs    []ChainTx                `json:"priorityTxs"`
	Txs            []ChainTx                `json:"txs"`
	PaymentOptions []services.PaymentOption `json:"paymentOptions,omitempty"`
}

// SubmitResponse 200 body.
type SubmitResponse struct {
	OK                  bool                  `json:"ok"`
	Accounting          services.Accounting   `json:"accounting"`
	PrioritySubmissions []services.Submission `json:"prioritySubmissions"`
	Submissions         []services.Submission `json:"submissions"`
}

// PaymentRequiredResponse 402 body.
type PaymentRequiredResponse struct {
	OK             bool                     `json:"ok"`
	Error          string                   `json:"error"`
	EstimatedDebit int64                    `json:"estimatedDebit"`
	Balance        int64                    `json:"balance"`
	PostDebit      int64                    `json:"postDebit"`
	MinimumAllowed int64                    `json:"minimumAllowed"`
	RequiredTopUp  int64                    `json:"requiredTopUp"`
	SuggestedTopUp int64                    `json:"suggestedTopUp"`
	PaymentOptions []services.PaymentOption `json:"paymentOptions"`
}

// SubmissionFailedResponse 502 body. The ledger debit already happened.
type SubmissionFailedResponse struct {
	OK                  bool                  `json:"ok"`
	Error               string                `json:"error"`
	Reason              string                `json:"reason"`
	Accounting          services.Accounting   `json:"accounting"`
	PrioritySubmissions []services.Submission `json:"prioritySubmissions"`
	Submissions         []services.Submission `json:"submissions"`
}

// ErrorResponse 400/401/500 body.
type ErrorResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// StatusResponse GET /v1/relay/status body.
type StatusResponse struct {
	OK      bool         `json:"ok"`
	ChainID uint64       `json:"chainId"`
	Status  StatusDetail `json:"status"`
}

// StatusDetail normalized relay task status.
type StatusDetail struct {
	ID              string `json:"id"`
	State           string `json:"state"`
	RawStatus       string `json:"rawStatus"`
	TransactionHash string `json:"transactionHash,omitempty"`
	BlockNumber     uint64 `json:"blockNumber,omitempty"`
	FailureReason   string `json:"failureReason,omitempty"`
}

// CreditResponse GET /v1/relay/credit body.
type CreditResponse struct {
	OK          bool  `json:"ok"`
	Balance     int64 `json:"balance"`
	Initialized bool  `json:"initialized"`
}

// AdminCreditRequest POST /v1/admin/credit body. TOTP gated.
type AdminCreditRequest struct {
	Account      string `json:"account" binding:"required"`
	SupportMode  string `json:"supportMode" binding:"required"`
	AmountMicros int64  `json:"amountMicros" binding:"required"`
	TOTPCode     string `json:"totpCode" binding:"required"`
}
