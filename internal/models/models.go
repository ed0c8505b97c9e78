package models

import (
	"fmt"
	"strings"
	"time"

	"relay-backend/internal/config"
)

// SupportMode operating tier. Each tier carries its own ledger floor and
// starting credit.
type SupportMode string

const (
	SupportModeLimitedTestnet SupportMode = "LIMITED_TESTNET"
	SupportModeLimitedMainnet SupportMode = "LIMITED_MAINNET"
	SupportModeFullMainnet    SupportMode = "FULL_MAINNET"
)

// ParseSupportMode normalizes a client-supplied support mode string.
func ParseSupportMode(raw string) (SupportMode, error) {
	switch SupportMode(strings.ToUpper(strings.TrimSpace(raw))) {
	case SupportModeLimitedTestnet:
		return SupportModeLimitedTestnet, nil
	case SupportModeLimitedMainnet:
		return SupportModeLimitedMainnet, nil
	case SupportModeFullMainnet:
		return SupportModeFullMainnet, nil
	default:
		return "", fmt.Errorf("unknown support mode %q", raw)
	}
}

// configuredMicros looks up a per-mode override from the loaded config.
// Keys match support mode names, compared case-insensitively.
func configuredMicros(overrides map[string]int64, m SupportMode) (int64, bool) {
	for key, value := range overrides {
		if strings.EqualFold(key, string(m)) {
			return value, true
		}
	}
	return 0, false
}

// FloorMicros is the minimum allowed balance after a debit, in micro-USD.
// Negative floors extend credit. The yaml gasTank.floorMicros map overrides
// the compiled default for any mode it names.
func (m SupportMode) FloorMicros() int64 {
	if config.AppConfig != nil {
		if floor, ok := configuredMicros(config.AppConfig.GasTank.FloorMicros, m); ok {
			return floor
		}
	}
	switch m {
	case SupportModeLimitedTestnet:
		return -2_000_000
	case SupportModeLimitedMainnet:
		return -500_000
	default:
		return 0
	}
}

// StartingCreditMicros is the balance a tank is created with on first read.
// The yaml gasTank.startingCreditMicros map overrides the compiled default
// for any mode it names.
func (m SupportMode) StartingCreditMicros() int64 {
	if config.AppConfig != nil {
		if credit, ok := configuredMicros(config.AppConfig.GasTank.StartingCreditMicros, m); ok {
			return credit
		}
	}
	switch m {
	case SupportModeLimitedTestnet:
		return 10_000_000
	case SupportModeLimitedMainnet:
		return 1_000_000
	default:
		return 0
	}
}

// GasTank prepaid relay-cost ledger row, one per (account, support mode).
// Balance is debited optimistically before any relay call and may go
// negative down to the mode's floor.
type GasTank struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	Account       string      `gorm:"type:varchar(42);not null;uniqueIndex:idx_gas_tank_key" json:"account"`
	SupportMode   SupportMode `gorm:"type:varchar(32);not null;uniqueIndex:idx_gas_tank_key" json:"support_mode"`
	BalanceMicros int64       `gorm:"not null" json:"balance_micros"`
	Initialized   bool        `gorm:"not null;default:false" json:"initialized"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (GasTank) TableName() string {
	return "gas_tanks"
}

// StorageKey mirrors the key layout of the original key-value ledger.
func (t *GasTank) StorageKey() string {
	return fmt.Sprintf("gas-tank:%s:%s", t.SupportMode, strings.ToLower(t.Account))
}

// SubmissionKind distinguishes sync priority submissions from background ones.
type SubmissionKind string

const (
	SubmissionKindPriority   SubmissionKind = "priority"
	SubmissionKindBackground SubmissionKind = "background"
)

// SubmissionRecord one accepted relay submission. Written after the debit so
// a later relay failure can be reconciled charged-vs-requested.
type SubmissionRecord struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Account         string         `gorm:"type:varchar(42);not null;index" json:"account"`
	SupportMode     SupportMode    `gorm:"type:varchar(32);not null" json:"support_mode"`
	ChainID         uint64         `gorm:"not null;index" json:"chain_id"`
	RelayID         string         `gorm:"type:varchar(128);index" json:"relay_id"`
	Kind            SubmissionKind `gorm:"type:varchar(16);not null" json:"kind"`
	Exempt          bool           `gorm:"not null;default:false" json:"exempt"`
	DebitMicros     int64          `gorm:"not null" json:"debit_micros"`
	TransactionHash string         `gorm:"type:varchar(66)" json:"transaction_hash"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (SubmissionRecord) TableName() string {
	return "submission_records"
}
