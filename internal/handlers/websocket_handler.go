package handlers

import (
	"net/http"
	"strconv"
	"time"

	"relay-backend/internal/dto"
	"relay-backend/internal/relay"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WatchHandler streams relay task status over a websocket until the task is
// terminal or the client goes away. Auth happens at the HTTP layer before
// the upgrade.
type WatchHandler struct {
	relay        relay.Client
	pollInterval time.Duration
	logger       *logrus.Logger
	upgrader     websocket.Upgrader
}

func NewWatchHandler(relayClient relay.Client, pollInterval time.Duration, logger *logrus.Logger) *WatchHandler {
	return &WatchHandler{
		relay:        relayClient,
		pollInterval: pollInterval,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced by the CORS layer in front.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Watch GET /v1/relay/watch?chainId&id
func (h *WatchHandler) Watch(c *gin.Context) {
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

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	h.logger.WithFields(logrus.Fields{
		"chain_id": chainID,
		"relay_id": id,
	}).Debug("WebSocket status watch started")

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	var lastState relay.State

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := h.relay.GetStatus(ctx, chainID, id)
		if err != nil {
			// Transient poll failures keep the watch alive.
			h.logger.WithFields(logrus.Fields{
				"chain_id": chainID,
				"relay_id": id,
				"error":    err.Error(),
			}).Debug("Watch poll failed, retrying")
			continue
		}

		if status.State == lastState {
			continue
		}
		lastState = status.State

		update := dto.StatusResponse{
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
		}
		if err := conn.WriteJSON(update); err != nil {
			return
		}

		if status.State.Terminal() {
			return
		}
	}
}
