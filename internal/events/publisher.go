package events

import (
	"encoding/json"
	"fmt"
	"time"

	"relay-backend/internal/config"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// SubmissionEvent lifecycle notification for downstream consumers.
type SubmissionEvent struct {
	EventID         string    `json:"eventId"`
	Type            string    `json:"type"`
	Account         string    `json:"account"`
	ChainID         uint64    `json:"chainId"`
	RelayID         string    `json:"relayId"`
	State           string    `json:"state,omitempty"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	EventSubmitted = "relay.submitted"
	EventTerminal  = "relay.terminal"
)

// Publisher publishes submission lifecycle events over NATS. A nil Publisher
// is valid and drops everything, so callers never branch on configuration.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *logrus.Logger
}

// NewPublisher connects to NATS when configured; returns nil (disabled)
// when no URL is set.
func NewPublisher(cfg config.NATSConfig, logger *logrus.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		logger.Info("NATS not configured, submission events disabled")
		return nil, nil
	}

	opts := []nats.Option{
		nats.Timeout(time.Duration(max(cfg.Timeout, 5)) * time.Second),
		nats.MaxReconnects(cfg.MaxReconnects),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(time.Duration(cfg.ReconnectWait)*time.Second))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "relay"
	}

	logger.WithFields(logrus.Fields{
		"url":    cfg.URL,
		"prefix": prefix,
	}).Info("✅ NATS submission event publisher connected")

	return &Publisher{conn: conn, prefix: prefix, logger: logger}, nil
}

func (p *Publisher) publish(event SubmissionEvent) {
	if p == nil || p.conn == nil {
		return
	}

	event.EventID = uuid.NewString()
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	subject := fmt.Sprintf("%s.%d.%s", p.prefix, event.ChainID, event.Type)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.WithFields(logrus.Fields{
			"subject": subject,
			"error":   err.Error(),
		}).Warn("Failed to publish submission event")
	}
}

// Submitted announces a transaction handed to the relay provider.
func (p *Publisher) Submitted(account string, chainID uint64, relayID string) {
	p.publish(SubmissionEvent{
		Type:      EventSubmitted,
		Account:   account,
		ChainID:   chainID,
		RelayID:   relayID,
		Timestamp: time.Now().UTC(),
	})
}

// Terminal announces a relay task reaching a terminal state.
func (p *Publisher) Terminal(account string, chainID uint64, relayID, state, txHash string) {
	p.publish(SubmissionEvent{
		Type:            EventTerminal,
		Account:         account,
		ChainID:         chainID,
		RelayID:         relayID,
		State:           state,
		TransactionHash: txHash,
		Timestamp:       time.Now().UTC(),
	})
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
