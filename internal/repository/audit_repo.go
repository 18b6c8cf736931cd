package repository

import (
	"context"

	"github.com/damoang/angple-contrib/internal/domain"
	"gorm.io/gorm"
)

// AuditRepository audit log data access
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create writes one audit entry
func (r *AuditRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// List retrieves paginated audit logs, optionally scoped to one resource
func (r *AuditRepository) List(ctx context.Context, resourceID, action string, page, perPage int) ([]domain.AuditLog, int64, error) {
	var logs []domain.AuditLog
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.AuditLog{})
	if resourceID != "" {
		query = query.Where("resource_id = ?", resourceID)
	}
	if action != "" {
		query = query.Where("action = ?", action)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at DESC, id DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&logs).Error

	return logs, total, err
}
