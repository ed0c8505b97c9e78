package relay

import (
	"context"
	"fmt"
	"sync"

	"relay-backend/internal/plan"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// SubmitResult the provider's acknowledgment of a submitted transaction.
// TransactionHash is only present on synchronous submissions.
type SubmitResult struct {
	ID              string `json:"id"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// FeeQuote the provider's cost estimate for relaying one transaction.
type FeeQuote struct {
	TotalMicros int64  `json:"totalMicros"`
	GasLimit    uint64 `json:"gasLimit"`
}

// Client is the relay provider surface the rest of the system consumes.
type Client interface {
	// SendTransaction submits without waiting for inclusion.
	SendTransaction(ctx context.Context, chainID uint64, req plan.RelayTxRequest) (SubmitResult, error)
	// SendTransactionSync submits and blocks until the provider accepts and
	// broadcasts, returning the transaction hash.
	SendTransactionSync(ctx context.Context, chainID uint64, req plan.RelayTxRequest) (SubmitResult, error)
	GetStatus(ctx context.Context, chainID uint64, id string) (Status, error)
	GetFeeQuote(ctx context.Context, chainID uint64, req plan.RelayTxRequest) (FeeQuote, error)
}

// ProviderClient talks JSON-RPC to one relay endpoint per chain.
type ProviderClient struct {
	endpoint func(chainID uint64) (string, error)
	logger   *logrus.Logger

	mu      sync.Mutex
	clients map[uint64]*rpc.Client
}

func NewProviderClient(endpoint func(chainID uint64) (string, error), logger *logrus.Logger) *ProviderClient {
	return &ProviderClient{
		endpoint: endpoint,
		logger:   logger,
		clients:  make(map[uint64]*rpc.Client),
	}
}

func (c *ProviderClient) client(chainID uint64) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[chainID]; ok {
		return client, nil
	}

	url, err := c.endpoint(chainID)
	if err != nil {
		return nil, err
	}

	client, err := rpc.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial relay provider for chain %d: %w", chainID, err)
	}
	c.clients[chainID] = client
	return client, nil
}

// statusWire is the provider's status payload before normalization.
type statusWire struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     uint64 `json:"blockNumber"`
	FailureReason   string `json:"failureReason"`
}

func (c *ProviderClient) SendTransaction(ctx context.Context, chainID uint64, req plan.RelayTxRequest) (SubmitResult, error) {
	client, err := c.client(chainID)
	if err != nil {
		return SubmitResult{}, err
	}

	var result SubmitResult
	if err := client.CallContext(ctx, &result, "relayer_sendTransaction", req); err != nil {
		return SubmitResult{}, fmt.Errorf("relayer_sendTransaction chain %d: %w", chainID, err)
	}

	c.logger.WithFields(logrus.Fields{
		"chain_id": chainID,
		"relay_id": result.ID,
	}).Debug("Relay transaction submitted")

	return result, nil
}

func (c *ProviderClient) SendTransactionSync(ctx context.Context, chainID uint64, req plan.RelayTxRequest) (SubmitResult, error) {
	client, err := c.client(chainID)
	if err != nil {
		return SubmitResult{}, err
	}

	var result SubmitResult
	if err := client.CallContext(ctx, &result, "relayer_sendTransactionSync", req); err != nil {
		return SubmitResult{}, fmt.Errorf("relayer_sendTransactionSync chain %d: %w", chainID, err)
	}

	c.logger.WithFields(logrus.Fields{
		"chain_id": chainID,
		"relay_id": result.ID,
		"tx_hash":  result.TransactionHash,
	}).Debug("Relay transaction submitted synchronously")

	return result, nil
}

func (c *ProviderClient) GetStatus(ctx context.Context, chainID uint64, id string) (Status, error) {
	client, err := c.client(chainID)
	if err != nil {
		return Status{}, err
	}

	var wire statusWire
	if err := client.CallContext(ctx, &wire, "relayer_getStatus", id); err != nil {
		return Status{}, fmt.Errorf("relayer_getStatus chain %d id %s: %w", chainID, id, err)
	}

	return Status{
		ID:              wire.ID,
		RawStatus:       wire.Status,
		State:           NormalizeStatus(wire.Status),
		TransactionHash: wire.TransactionHash,
		BlockNumber:     wire.BlockNumber,
		FailureReason:   wire.FailureReason,
	}, nil
}

func (c *ProviderClient) GetFeeQuote(ctx context.Context, chainID uint64, req plan.RelayTxRequest) (FeeQuote, error) {
	client, err := c.client(chainID)
	if err != nil {
		return FeeQuote{}, err
	}

	var quote FeeQuote
	if err := client.CallContext(ctx, &quote, "relayer_getFeeQuote", req); err != nil {
		return FeeQuote{}, fmt.Errorf("relayer_getFeeQuote chain %d: %w", chainID, err)
	}
	return quote, nil
}
