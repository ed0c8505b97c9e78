package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"relay-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrFloorViolation is returned when a debit would push the balance below
// the mode's floor. The ledger is left untouched.
var ErrFloorViolation = errors.New("gas tank: debit would breach floor")

// GasTankRepository durable ledger keyed by (account, support mode).
// Implementations must make Debit atomic per key: two concurrent debits must
// never both observe a balance above floor and jointly push past it.
type GasTankRepository interface {
	// Get reads a tank, lazily creating it with the starting credit.
	Get(ctx context.Context, account string, mode models.SupportMode, startingCredit int64) (*models.GasTank, error)
	// Debit atomically checks the floor and writes the post-debit balance,
	// marking the tank initialized. Returns the balances around the write;
	// on ErrFloorViolation the returned values describe the rejected state.
	Debit(ctx context.Context, account string, mode models.SupportMode, amount, floor, startingCredit int64) (before, after int64, err error)
	// Adjust applies a signed delta without a floor check (admin top-ups).
	Adjust(ctx context.Context, account string, mode models.SupportMode, delta, startingCredit int64) (*models.GasTank, error)
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

// GormGasTankRepository postgres-backed ledger.
type GormGasTankRepository struct {
	db *gorm.DB
}

func NewGormGasTankRepository(db *gorm.DB) *GormGasTankRepository {
	return &GormGasTankRepository{db: db}
}

func (r *GormGasTankRepository) fetchLocked(tx *gorm.DB, account string, mode models.SupportMode, startingCredit int64) (*models.GasTank, error) {
	var tank models.GasTank
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account = ? AND support_mode = ?", account, mode).
		First(&tank).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tank = models.GasTank{
			Account:       account,
			SupportMode:   mode,
			BalanceMicros: startingCredit,
			Initialized:   false,
		}
		if err := tx.Create(&tank).Error; err != nil {
			return nil, fmt.Errorf("create gas tank: %w", err)
		}
		return &tank, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load gas tank: %w", err)
	}
	return &tank, nil
}

func (r *GormGasTankRepository) Get(ctx context.Context, account string, mode models.SupportMode, startingCredit int64) (*models.GasTank, error) {
	account = normalizeAccount(account)

	var result *models.GasTank
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tank, err := r.fetchLocked(tx, account, mode, startingCredit)
		if err != nil {
			return err
		}
		result = tank
		return nil
	})
	return result, err
}

func (r *GormGasTankRepository) Debit(ctx context.Context, account string, mode models.SupportMode, amount, floor, startingCredit int64) (int64, int64, error) {
	account = normalizeAccount(account)

	var before, after int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tank, err := r.fetchLocked(tx, account, mode, startingCredit)
		if err != nil {
			return err
		}

		before = tank.BalanceMicros
		after = before - amount
		if after < floor {
			return ErrFloorViolation
		}

		return tx.Model(tank).Updates(map[string]interface{}{
			"balance_micros": after,
			"initialized":    true,
		}).Error
	})
	return before, after, err
}

func (r *GormGasTankRepository) Adjust(ctx context.Context, account string, mode models.SupportMode, delta, startingCredit int64) (*models.GasTank, error) {
	account = normalizeAccount(account)

	var result *models.GasTank
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tank, err := r.fetchLocked(tx, account, mode, startingCredit)
		if err != nil {
			return err
		}
		tank.BalanceMicros += delta
		if err := tx.Model(tank).Update("balance_micros", tank.BalanceMicros).Error; err != nil {
			return err
		}
		result = tank
		return nil
	})
	return result, err
}
