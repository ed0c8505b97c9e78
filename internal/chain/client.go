package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"relay-backend/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Reader chain RPC surface consumed by the resolver and the orchestrator.
type Reader interface {
	GetDeployedCode(ctx context.Context, chainID uint64, account common.Address) ([]byte, error)
	GetTransactionCount(ctx context.Context, chainID uint64, account common.Address) (uint64, error)
	GetBlockTimestamp(ctx context.Context, chainID uint64, blockNumber uint64) (time.Time, error)
	SimulateCall(ctx context.Context, chainID uint64, from, to common.Address, data []byte) error
	EstimateGas(ctx context.Context, chainID uint64, from, to common.Address, data []byte) (uint64, error)
}

// Client dials one ethclient per configured chain, lazily.
type Client struct {
	logger *logrus.Logger

	mu      sync.Mutex
	clients map[uint64]*ethclient.Client
}

func NewClient(logger *logrus.Logger) *Client {
	return &Client{
		logger:  logger,
		clients: make(map[uint64]*ethclient.Client),
	}
}

func (c *Client) client(chainID uint64) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[chainID]; ok {
		return client, nil
	}

	chainConfig, err := config.GetChainConfigByID(chainID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, endpoint := range chainConfig.RPCEndpoints {
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			lastErr = err
			c.logger.WithFields(logrus.Fields{
				"chain_id": chainID,
				"endpoint": endpoint,
				"error":    err.Error(),
			}).Warn("RPC endpoint dial failed, trying next")
			continue
		}
		c.clients[chainID] = client
		return client, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no RPC endpoints configured")
	}
	return nil, fmt.Errorf("dial chain %d: %w", chainID, lastErr)
}

func (c *Client) GetDeployedCode(ctx context.Context, chainID uint64, account common.Address) ([]byte, error) {
	client, err := c.client(chainID)
	if err != nil {
		return nil, err
	}
	code, err := client.CodeAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("code at %s on chain %d: %w", account.Hex(), chainID, err)
	}
	return code, nil
}

func (c *Client) GetTransactionCount(ctx context.Context, chainID uint64, account common.Address) (uint64, error) {
	client, err := c.client(chainID)
	if err != nil {
		return 0, err
	}
	nonce, err := client.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, fmt.Errorf("nonce at %s on chain %d: %w", account.Hex(), chainID, err)
	}
	return nonce, nil
}

func (c *Client) GetBlockTimestamp(ctx context.Context, chainID uint64, blockNumber uint64) (time.Time, error) {
	client, err := c.client(chainID)
	if err != nil {
		return time.Time{}, err
	}
	header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, fmt.Errorf("header %d on chain %d: %w", blockNumber, chainID, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (c *Client) SimulateCall(ctx context.Context, chainID uint64, from, to common.Address, data []byte) error {
	client, err := c.client(chainID)
	if err != nil {
		return err
	}
	msg := ethereum.CallMsg{From: from, To: &to, Data: data}
	if _, err := client.CallContract(ctx, msg, nil); err != nil {
		return fmt.Errorf("simulate call on chain %d: %w", chainID, err)
	}
	return nil
}

func (c *Client) EstimateGas(ctx context.Context, chainID uint64, from, to common.Address, data []byte) (uint64, error) {
	client, err := c.client(chainID)
	if err != nil {
		return 0, err
	}
	msg := ethereum.CallMsg{From: from, To: &to, Data: data}
	gas, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("estimate gas on chain %d: %w", chainID, err)
	}
	return gas, nil
}

// DelegateAddress returns the delegate contract configured for a chain.
func DelegateAddress(chainID uint64) (common.Address, error) {
	chainConfig, err := config.GetChainConfigByID(chainID)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(chainConfig.DelegateAddress) {
		return common.Address{}, fmt.Errorf("chain %d has no valid delegate address configured", chainID)
	}
	return common.HexToAddress(chainConfig.DelegateAddress), nil
}

// RelayEndpoint returns the relay provider URL configured for a chain.
func RelayEndpoint(chainID uint64) (string, error) {
	chainConfig, err := config.GetChainConfigByID(chainID)
	if err != nil {
		return "", err
	}
	if chainConfig.RelayURL == "" {
		return "", fmt.Errorf("chain %d has no relay endpoint configured", chainID)
	}
	return chainConfig.RelayURL, nil
}
