package repository

import (
	"context"
	"errors"
	"time"

	"github.com/damoang/angple-contrib/internal/contrib"
	"github.com/damoang/angple-contrib/internal/domain"
	"gorm.io/gorm"
)

// ContributionRepository contribution data access
type ContributionRepository interface {
	WithTx(tx *gorm.DB) ContributionRepository
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	Create(ctx context.Context, c *domain.Contribution) error
	FindByID(ctx context.Context, id string) (*domain.Contribution, error)
	List(ctx context.Context, filter domain.ContributionFilter) ([]*domain.Contribution, int64, error)
	CountByStatus(ctx context.Context) (*domain.ContributionStats, error)

	// Transition moves a record from t.From to t.To only if its status and
	// version still match. Exactly one of two racing callers succeeds.
	Transition(ctx context.Context, t domain.Transition) error
	SetEntityID(ctx context.Context, id, entityID string) error
}

type contributionRepository struct {
	db *gorm.DB
}

// NewContributionRepository creates a new ContributionRepository
func NewContributionRepository(db *gorm.DB) ContributionRepository {
	return &contributionRepository{db: db}
}

func (r *contributionRepository) WithTx(tx *gorm.DB) ContributionRepository {
	return &contributionRepository{db: tx}
}

func (r *contributionRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func (r *contributionRepository) Create(ctx context.Context, c *domain.Contribution) error {
	if c.Version == 0 {
		c.Version = 1
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *contributionRepository) FindByID(ctx context.Context, id string) (*domain.Contribution, error) {
	var c domain.Contribution
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &contrib.NotFoundError{Resource: "contribution", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *contributionRepository) List(ctx context.Context, filter domain.ContributionFilter) ([]*domain.Contribution, int64, error) {
	var items []*domain.Contribution
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Contribution{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if filter.ContributorID != "" {
		query = query.Where("contributor_id = ?", filter.ContributorID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	err := query.Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(filter.Limit).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *contributionRepository) CountByStatus(ctx context.Context) (*domain.ContributionStats, error) {
	var rows []struct {
		Status domain.ContributionStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&domain.Contribution{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &domain.ContributionStats{}
	for _, row := range rows {
		switch row.Status {
		case domain.StatusPending:
			stats.Pending = row.Count
		case domain.StatusApproved:
			stats.Approved = row.Count
		case domain.StatusRejected:
			stats.Rejected = row.Count
		case domain.StatusWithdrawn:
			stats.Withdrawn = row.Count
		}
	}
	return stats, nil
}

func (r *contributionRepository) Transition(ctx context.Context, t domain.Transition) error {
	updates := map[string]interface{}{
		"status":     t.To,
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now(),
	}
	if t.ReviewerID != "" {
		updates["reviewer_id"] = t.ReviewerID
		updates["reviewed_at"] = t.ReviewedAt
	}
	if t.RejectionReason != "" {
		updates["rejection_reason"] = t.RejectionReason
	}

	result := r.db.WithContext(ctx).Model(&domain.Contribution{}).
		Where("id = ? AND status = ? AND version = ?", t.ID, t.From, t.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	// Lost the race or the caller held a stale copy; report what is there now.
	current, err := r.FindByID(ctx, t.ID)
	if err != nil {
		return err
	}
	from := string(current.Status)
	if current.Status == t.From {
		from = ""
	}
	return &contrib.InvalidStateTransitionError{ID: t.ID, From: from, To: string(t.To)}
}

func (r *contributionRepository) SetEntityID(ctx context.Context, id, entityID string) error {
	return r.db.WithContext(ctx).Model(&domain.Contribution{}).
		Where("id = ?", id).
		UpdateColumn("entity_id", entityID).Error
}
