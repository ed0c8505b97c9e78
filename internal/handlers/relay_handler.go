package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"relay-backend/internal/dto"
	"relay-backend/internal/models"
	"relay-backend/internal/relay"
	"relay-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RelayHandler the /v1/relay surface: billed submission, status lookup and
// credit balance.
type RelayHandler struct {
	gasTank *services.GasTankService
	relay   relay.Client
	logger  *logrus.Logger
}

func NewRelayHandler(gasTank *services.GasTankService, relayClient relay.Client, logger *logrus.Logger) *RelayHandler {
	return &RelayHandler{gasTank: gasTank, relay: relayClient, logger: logger}
}

// Submit POST /v1/relay/submit
func (h *RelayHandler) Submit(c *gin.Context) {
	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  "bad_request",
			Reason: err.Error(),
		})
		return
	}

	mode, err := models.ParseSupportMode(req.SupportMode)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  "bad_request",
			Reason: err.Error(),
		})
		return
	}

	submit := services.SubmitRequest{
		Account:        req.Account,
		SupportMode:    mode,
		PaymentOptions: req.PaymentOptions,
	}
	for _, tx := range req.PriorityTxs {
		submit.PriorityTxs = append(submit.PriorityTxs, services.ChainTx{
			ChainID: tx.ChainID,
			Request: tx.Request.ToPlanRequest(),
		})
	}
	for _, tx := range req.Txs {
		submit.Txs = append(submit.Txs, services.ChainTx{
			ChainID: tx.ChainID,
			Request: tx.Request.ToPlanRequest(),
		})
	}

	result, err := h.gasTank.Submit(c.Request.Context(), submit)
	if err != nil {
		h.writeSubmitError(c, req.Account, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"account":          req.Account,
		"support_mode":     mode,
		"priority_count":   len(result.PrioritySubmissions),
		"submission_count": len(result.Submissions),
	}).Info("✅ Relay submission accepted")

	c.JSON(http.StatusOK, dto.SubmitResponse{
		OK:                  true,
		Accounting:          result.Accounting,
		PrioritySubmissions: emptyIfNil(result.PrioritySubmissions),
		Submissions:         emptyIfNil(result.Submissions),
	})
}

func (h *RelayHandler) writeSubmitError(c *gin.Context, account string, err error) {
	var validationErr *services.ValidationError
	var paymentErr *services.PaymentRequiredError
	var submissionErr *services.SubmissionError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  "bad_request",
			Reason: validationErr.Error(),
		})

	case errors.As(err, &paymentErr):
		h.logger.WithFields(logrus.Fields{
			"account":         account,
			"estimated_debit": paymentErr.EstimatedDebit,
			"required_top_up": paymentErr.RequiredTopUp,
		}).Info("Relay submission needs top-up")

		options := paymentErr.PaymentOptions
		if options == nil {
			options = []services.PaymentOption{}
		}
		c.JSON(http.StatusPaymentRequired, dto.PaymentRequiredResponse{
			Error:          "payment_required",
			EstimatedDebit: paymentErr.EstimatedDebit,
			Balance:        paymentErr.BalanceBefore,
			PostDebit:      paymentErr.PostDebit,
			MinimumAllowed: paymentErr.Floor,
			RequiredTopUp:  paymentErr.RequiredTopUp,
			SuggestedTopUp: paymentErr.SuggestedTopUp,
			PaymentOptions: options,
		})

	case errors.As(err, &submissionErr):
		h.logger.WithFields(logrus.Fields{
			"account":  account,
			"chain_id": submissionErr.ChainID,
			"error":    submissionErr.Reason,
		}).Error("Relay submission failed after debit")

		c.JSON(http.StatusBadGateway, dto.SubmissionFailedResponse{
			Error:               "relay_submission_failed",
			Reason:              submissionErr.Reason,
			Accounting:          submissionErr.Accounting,
			PrioritySubmissions: emptyIfNil(submissionErr.PrioritySubmissions),
			Submissions:         emptyIfNil(submissionErr.Submissions),
		})

	default:
		h.logger.WithFields(logrus.Fields{
			"account": account,
			"error":   err.Error(),
		}).Error("Relay submission failed")

		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:  "internal_error",
			Reason: err.Error(),
		})
	}
}

// Status GET /v1/relay/status?chainId&id
func (h *RelayHandler) Status(c *gin.Context) {
	chainID, err := strconv.ParseUint(c.Query("chainId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  "bad_request",
			Reason: "chainId must be a positive integer",
		})
		return
	}
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  "bad_request",
			Reason: "id is required",
		})
		return
	}

	status, err := h.relay.GetStatus(c.Request.Context(), chainID, id)
	if err != nil {
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{
			Error:  "relay_status_failed",
			Reason: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.StatusResponse{
		OK:      true,
		ChainID: chainID,
		Status: dto.StatusDetail{
			ID:              status.ID,
			State:           string(status.State),
			RawStatus:       status.RawStatus,
			TransactionHash: status.TransactionHash,
			BlockNumber:     status.BlockNumber,
			FailureReason:   status.FailureReason,
		},
	})
}

// Credit GET /v1/relay/credit?account&supportMode
func (h *RelayHandler) Credit(c *gin.Context) {
	mode, err := models.ParseSupportMode(c.Query("supportMode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  "bad_request",
			Reason: err.Error(),
		})
		return
	}

	tank, err := h.gasTank.Balance(c.Request.Context(), c.Query("account"), mode)
	if err != nil {
		var validationErr *services.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:  "bad_request",
				Reason: validationErr.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:  "internal_error",
			Reason: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.CreditResponse{
		OK:          true,
		Balance:     tank.BalanceMicros,
		Initialized: tank.Initialized,
	})
}

func emptyIfNil(subs []services.Submission) []services.Submission {
	if subs == nil {
		return []services.Submission{}
	}
	return subs
}
