package repository

import (
	"context"
	"sync"
	"time"

	"relay-backend/internal/models"
)

// MemoryGasTankRepository in-process ledger with the same atomicity
// guarantees as the postgres one. Used in tests and single-node dev runs.
type MemoryGasTankRepository struct {
	mu    sync.Mutex
	tanks map[string]*models.GasTank
}

func NewMemoryGasTankRepository() *MemoryGasTankRepository {
	return &MemoryGasTankRepository{tanks: make(map[string]*models.GasTank)}
}

func (r *MemoryGasTankRepository) key(account string, mode models.SupportMode) string {
	return string(mode) + ":" + normalizeAccount(account)
}

// fetch must run under r.mu.
func (r *MemoryGasTankRepository) fetch(account string, mode models.SupportMode, startingCredit int64) *models.GasTank {
	key := r.key(account, mode)
	if tank, ok := r.tanks[key]; ok {
		return tank
	}
	tank := &models.GasTank{
		Account:       normalizeAccount(account),
		SupportMode:   mode,
		BalanceMicros: startingCredit,
		Initialized:   false,
		CreatedAt:     time.Now(),
	}
	r.tanks[key] = tank
	return tank
}

func (r *MemoryGasTankRepository) Get(_ context.Context, account string, mode models.SupportMode, startingCredit int64) (*models.GasTank, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tank := r.fetch(account, mode, startingCredit)
	snapshot := *tank
	return &snapshot, nil
}

func (r *MemoryGasTankRepository) Debit(_ context.Context, account string, mode models.SupportMode, amount, floor, startingCredit int64) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tank := r.fetch(account, mode, startingCredit)
	before := tank.BalanceMicros
	after := before - amount
	if after < floor {
		return before, after, ErrFloorViolation
	}

	tank.BalanceMicros = after
	tank.Initialized = true
	tank.UpdatedAt = time.Now()
	return before, after, nil
}

func (r *MemoryGasTankRepository) Adjust(_ context.Context, account string, mode models.SupportMode, delta, startingCredit int64) (*models.GasTank, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tank := r.fetch(account, mode, startingCredit)
	tank.BalanceMicros += delta
	tank.UpdatedAt = time.Now()
	snapshot := *tank
	return &snapshot, nil
}
