package handlers

import (
	"net/http"

	"relay-backend/internal/dto"
	"relay-backend/internal/models"
	"relay-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
)

// AdminHandler operator endpoints. Every call is gated by a TOTP code on top
// of the bearer credential.
type AdminHandler struct {
	gasTank    *services.GasTankService
	totpSecret string
	logger     *logrus.Logger
}

func NewAdminHandler(gasTank *services.GasTankService, totpSecret string, logger *logrus.Logger) *AdminHandler {
	if totpSecret == "" {
		logger.Warn("⚠️ ADMIN_TOTP_SECRET not set, admin credit endpoint disabled")
	}
	return &AdminHandler{gasTank: gasTank, totpSecret: totpSecret, logger: logger}
}

// Credit POST /v1/admin/credit applies a manual ledger adjustment.
func (h *AdminHandler) Credit(c *gin.Context) {
	if h.totpSecret == "" {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:  "admin_disabled",
			Reason: "admin TOTP secret not configured",
		})
		return
	}

	var req dto.AdminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  "bad_request",
			Reason: err.Error(),
		})
		return
	}

	if !totp.Validate(req.TOTPCode, h.totpSecret) {
		h.logger.WithFields(logrus.Fields{
			"account": req.Account,
			"path":    c.Request.URL.Path,
		}).Warn("Admin credit rejected - invalid TOTP code")

		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error:  "unauthorized",
			Reason: "invalid TOTP code",
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

	tank, err := h.gasTank.Credit(c.Request.Context(), req.Account, mode, req.AmountMicros)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  "bad_request",
			Reason: err.Error(),
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"account":      req.Account,
		"support_mode": mode,
		"delta":        req.AmountMicros,
		"balance":      tank.BalanceMicros,
	}).Info("✅ Admin credit applied")

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"balance":     tank.BalanceMicros,
		"initialized": tank.Initialized,
	})
}
