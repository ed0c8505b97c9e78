package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relay-backend/internal/models"
	"relay-backend/internal/plan"
	"relay-backend/internal/relay"
	"relay-backend/internal/repository"
	"relay-backend/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chainsStub struct{ deployed bool }

func (s chainsStub) GetDeployedCode(context.Context, uint64, common.Address) ([]byte, error) {
	if s.deployed {
		return []byte{0x60}, nil
	}
	return nil, nil
}
func (chainsStub) GetTransactionCount(context.Context, uint64, common.Address) (uint64, error) {
	return 0, nil
}
func (chainsStub) GetBlockTimestamp(context.Context, uint64, uint64) (time.Time, error) {
	return time.Time{}, nil
}
func (chainsStub) SimulateCall(context.Context, uint64, common.Address, common.Address, []byte) error {
	return nil
}
func (chainsStub) EstimateGas(context.Context, uint64, common.Address, common.Address, []byte) (uint64, error) {
	return 21_000, nil
}

type relayStub struct {
	quote int64
	sends int
}

func (s *relayStub) SendTransaction(context.Context, uint64, plan.RelayTxRequest) (relay.SubmitResult, error) {
	s.sends++
	return relay.SubmitResult{ID: fmt.Sprintf("task-%d", s.sends)}, nil
}
func (s *relayStub) SendTransactionSync(ctx context.Context, chainID uint64, req plan.RelayTxRequest) (relay.SubmitResult, error) {
	s.sends++
	return relay.SubmitResult{ID: fmt.Sprintf("task-%d", s.sends), TransactionHash: "0xbeef"}, nil
}
func (s *relayStub) GetStatus(_ context.Context, _ uint64, id string) (relay.Status, error) {
	return relay.Status{ID: id, RawStatus: "EXECUTED", State: relay.StateExecuted}, nil
}
func (s *relayStub) GetFeeQuote(context.Context, uint64, plan.RelayTxRequest) (relay.FeeQuote, error) {
	return relay.FeeQuote{TotalMicros: s.quote}, nil
}

func newHandlerFixture(quote int64) (*gin.Engine, *repository.MemoryGasTankRepository, *relayStub) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	tanks := repository.NewMemoryGasTankRepository()
	relayClient := &relayStub{quote: quote}
	gasTank := services.NewGasTankService(tanks, repository.NewMemorySubmissionRepository(), chainsStub{deployed: true}, relayClient, nil, logger)
	handler := NewRelayHandler(gasTank, relayClient, logger)

	r := gin.New()
	r.POST("/v1/relay/submit", handler.Submit)
	r.GET("/v1/relay/status", handler.Status)
	r.GET("/v1/relay/credit", handler.Credit)
	return r, tanks, relayClient
}

const handlerTestAccount = "0x742d35Cc6634C0532925a3b0F26750C66d78EB66"

func submitBody(account string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"account":     account,
		"supportMode": "LIMITED_TESTNET",
		"priorityTxs": []map[string]interface{}{{
			"chainId": 1,
			"request": map[string]interface{}{
				"from": account,
				"to":   "0x0000000000000000000000000000000000000099",
				"data": "0xabcd",
			},
		}},
	})
	return body
}

func TestSubmitHandlerAccepted(t *testing.T) {
	r, _, _ := newHandlerFixture(2_000_000)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/v1/relay/submit", bytes.NewReader(submitBody(handlerTestAccount)))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		OK         bool `json:"ok"`
		Accounting struct {
			EstimatedDebit int64 `json:"estimatedDebit"`
			BalanceBefore  int64 `json:"balanceBefore"`
			BalanceAfter   int64 `json:"balanceAfter"`
		} `json:"accounting"`
		PrioritySubmissions []struct {
			ChainID uint64 `json:"chainId"`
			ID      string `json:"id"`
		} `json:"prioritySubmissions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.True(t, resp.OK)
	assert.Equal(t, int64(2_000_000), resp.Accounting.EstimatedDebit)
	assert.Equal(t, int64(10_000_000), resp.Accounting.BalanceBefore)
	assert.Equal(t, int64(8_000_000), resp.Accounting.BalanceAfter)
	require.Len(t, resp.PrioritySubmissions, 1)
	assert.Equal(t, uint64(1), resp.PrioritySubmissions[0].ChainID)
}

func TestSubmitHandlerPaymentRequired(t *testing.T) {
	// LIMITED_TESTNET starts with 10_000_000 and floors at -2_000_000, so a
	// 13_000_000 quote is rejected with the structured 402 payload.
	r, _, relayClient := newHandlerFixture(13_000_000)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/v1/relay/submit", bytes.NewReader(submitBody(handlerTestAccount)))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())

	var resp struct {
		OK             bool   `json:"ok"`
		Error          string `json:"error"`
		EstimatedDebit int64  `json:"estimatedDebit"`
		Balance        int64  `json:"balance"`
		PostDebit      int64  `json:"postDebit"`
		MinimumAllowed int64  `json:"minimumAllowed"`
		RequiredTopUp  int64  `json:"requiredTopUp"`
		SuggestedTopUp int64  `json:"suggestedTopUp"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.False(t, resp.OK)
	assert.Equal(t, "payment_required", resp.Error)
	assert.Equal(t, int64(13_000_000), resp.EstimatedDebit)
	assert.Equal(t, int64(10_000_000), resp.Balance)
	assert.Equal(t, int64(-3_000_000), resp.PostDebit)
	assert.Equal(t, int64(-2_000_000), resp.MinimumAllowed)
	assert.Equal(t, int64(1_000_000), resp.RequiredTopUp)
	assert.Equal(t, int64(14_000_000), resp.SuggestedTopUp)

	// No transaction reached the provider.
	assert.Zero(t, relayClient.sends)
}

func TestSubmitHandlerBadSupportMode(t *testing.T) {
	r, _, _ := newHandlerFixture(1)

	body, _ := json.Marshal(map[string]interface{}{
		"account":     handlerTestAccount,
		"supportMode": "UNLIMITED",
		"txs":         []map[string]interface{}{},
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/v1/relay/submit", bytes.NewReader(body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "bad_request", resp.Error)
}

func TestStatusHandler(t *testing.T) {
	r, _, _ := newHandlerFixture(1)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/v1/relay/status?chainId=1&id=task-1", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		OK      bool   `json:"ok"`
		ChainID uint64 `json:"chainId"`
		Status  struct {
			State string `json:"state"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, uint64(1), resp.ChainID)
	assert.Equal(t, "executed", resp.Status.State)
}

func TestStatusHandlerMissingParams(t *testing.T) {
	r, _, _ := newHandlerFixture(1)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/v1/relay/status?chainId=abc&id=x", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/v1/relay/status?chainId=1", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreditHandler(t *testing.T) {
	r, tanks, _ := newHandlerFixture(1)

	_, err := tanks.Adjust(context.Background(), handlerTestAccount, models.SupportModeLimitedTestnet, -4_000_000,
		models.SupportModeLimitedTestnet.StartingCreditMicros())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet,
		"/v1/relay/credit?account="+handlerTestAccount+"&supportMode=LIMITED_TESTNET", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		OK          bool  `json:"ok"`
		Balance     int64 `json:"balance"`
		Initialized bool  `json:"initialized"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, int64(6_000_000), resp.Balance)
	assert.False(t, resp.Initialized)
}
