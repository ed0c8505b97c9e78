package repository

import (
	"context"
	"sync"

	"relay-backend/internal/models"

	"gorm.io/gorm"
)

// SubmissionRepository persists accepted relay submissions for
// charged-vs-requested reconciliation.
type SubmissionRepository interface {
	Record(ctx context.Context, record *models.SubmissionRecord) error
	ListByAccount(ctx context.Context, account string, limit int) ([]models.SubmissionRecord, error)
}

type GormSubmissionRepository struct {
	db *gorm.DB
}

func NewGormSubmissionRepository(db *gorm.DB) *GormSubmissionRepository {
	return &GormSubmissionRepository{db: db}
}

func (r *GormSubmissionRepository) Record(ctx context.Context, record *models.SubmissionRecord) error {
	record.Account = normalizeAccount(record.Account)
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *GormSubmissionRepository) ListByAccount(ctx context.Context, account string, limit int) ([]models.SubmissionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.SubmissionRecord
	err := r.db.WithContext(ctx).
		Where("account = ?", normalizeAccount(account)).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// MemorySubmissionRepository test/dev twin of the gorm repository.
type MemorySubmissionRepository struct {
	mu      sync.Mutex
	records []models.SubmissionRecord
}

func NewMemorySubmissionRepository() *MemorySubmissionRepository {
	return &MemorySubmissionRepository{}
}

func (r *MemorySubmissionRepository) Record(_ context.Context, record *models.SubmissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.Account = normalizeAccount(record.Account)
	record.ID = uint(len(r.records) + 1)
	r.records = append(r.records, *record)
	return nil
}

func (r *MemorySubmissionRepository) ListByAccount(_ context.Context, account string, limit int) ([]models.SubmissionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	account = normalizeAccount(account)
	out := make([]models.SubmissionRecord, 0, limit)
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		if r.records[i].Account == account {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}
