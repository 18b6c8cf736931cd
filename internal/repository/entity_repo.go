package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/damoang/angple-contrib/internal/contrib"
	"github.com/damoang/angple-contrib/internal/domain"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EntityRepository is the storage side the contribution engine consumes:
// snapshot reads and merge-patch writes.
type EntityRepository interface {
	WithTx(tx *gorm.DB) EntityRepository
	GetEntity(ctx context.Context, entityType, id string) (contrib.Snapshot, error)
	ApplyPatch(ctx context.Context, catalog *contrib.Catalog, id string, patch map[string]any) (contrib.Snapshot, error)
	CreateEntity(ctx context.Context, catalog *contrib.Catalog, data map[string]any) (string, error)
}

// refModels maps catalog reference kinds to their tables
var refModels = map[string]interface{}{
	contrib.RefGenre:  &domain.Genre{},
	contrib.RefStudio: &domain.Studio{},
}

type entityRepository struct {
	db *gorm.DB
}

// NewEntityRepository creates a new EntityRepository
func NewEntityRepository(db *gorm.DB) EntityRepository {
	return &entityRepository{db: db}
}

func (r *entityRepository) WithTx(tx *gorm.DB) EntityRepository {
	return &entityRepository{db: tx}
}

func (r *entityRepository) find(ctx context.Context, entityType, id string) (*domain.Entity, error) {
	var e domain.Entity
	err := r.db.WithContext(ctx).Where("id = ? AND type = ?", id, entityType).First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *entityRepository) GetEntity(ctx context.Context, entityType, id string) (contrib.Snapshot, error) {
	e, err := r.find(ctx, entityType, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &contrib.NotFoundError{Resource: entityType, ID: id}
	}
	if err != nil {
		return nil, err
	}
	return snapshotOf(e), nil
}

// ApplyPatch overwrites only the named fields. The write is guarded by the
// entity version so a concurrent edit surfaces as a PatchApplyError.
func (r *entityRepository) ApplyPatch(ctx context.Context, catalog *contrib.Catalog, id string, patch map[string]any) (contrib.Snapshot, error) {
	entityType := catalog.EntityType()
	e, err := r.find(ctx, entityType, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &contrib.PatchApplyError{EntityType: entityType, EntityID: id, Reason: "entity no longer exists"}
	}
	if err != nil {
		return nil, err
	}

	if err := r.checkReferences(ctx, catalog, id, patch); err != nil {
		return nil, err
	}

	data := datatypes.JSONMap{}
	for k, v := range e.Data {
		data[k] = v
	}
	for field, value := range patch {
		if catalog.IsExcluded(field) {
			return nil, &contrib.PatchApplyError{EntityType: entityType, EntityID: id, Field: field, Reason: "field is not contributable"}
		}
		data[field] = value
	}

	result := r.db.WithContext(ctx).Model(&domain.Entity{}).
		Where("id = ? AND version = ?", e.ID, e.Version).
		Updates(map[string]interface{}{
			"data":    data,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, &contrib.PatchApplyError{EntityType: entityType, EntityID: id, Reason: "write failed", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return nil, &contrib.PatchApplyError{EntityType: entityType, EntityID: id, Reason: "entity was modified concurrently"}
	}

	e.Data = data
	e.Version++
	return snapshotOf(e), nil
}

func (r *entityRepository) CreateEntity(ctx context.Context, catalog *contrib.Catalog, data map[string]any) (string, error) {
	id := uuid.New().String()
	if err := r.checkReferences(ctx, catalog, id, data); err != nil {
		return "", err
	}

	e := &domain.Entity{
		ID:      id,
		Type:    catalog.EntityType(),
		Data:    datatypes.JSONMap(catalog.StripExcluded(data)),
		Version: 1,
	}
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		return "", &contrib.PatchApplyError{EntityType: e.Type, EntityID: id, Reason: "create failed", Err: err}
	}
	return id, nil
}

// checkReferences enforces that id-list fields only point at existing rows.
func (r *entityRepository) checkReferences(ctx context.Context, catalog *contrib.Catalog, id string, patch map[string]any) error {
	for field, value := range patch {
		f, ok := catalog.Lookup(field)
		if !ok || f.Ref == "" || value == nil {
			continue
		}
		model, ok := refModels[f.Ref]
		if !ok {
			return fmt.Errorf("no reference table for %q", f.Ref)
		}

		ids, err := toStringSlice(value)
		if err != nil {
			return &contrib.PatchApplyError{EntityType: catalog.EntityType(), EntityID: id, Field: field, Reason: err.Error()}
		}
		if len(ids) == 0 {
			continue
		}

		var found []string
		if err := r.db.WithContext(ctx).Model(model).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
			return err
		}
		if missing := difference(ids, found); len(missing) > 0 {
			return &contrib.PatchApplyError{
				EntityType: catalog.EntityType(),
				EntityID:   id,
				Field:      field,
				Reason:     fmt.Sprintf("unknown %s ids: %s", f.Ref, strings.Join(missing, ", ")),
			}
		}
	}
	return nil
}

func snapshotOf(e *domain.Entity) contrib.Snapshot {
	s := make(contrib.Snapshot, len(e.Data)+1)
	for k, v := range e.Data {
		s[k] = v
	}
	s["id"] = e.ID
	return s
}

func toStringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of string ids, got element %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of string ids, got %T", value)
	}
}

func difference(want, have []string) []string {
	present := make(map[string]struct{}, len(have))
	for _, h := range have {
		present[h] = struct{}{}
	}
	var missing []string
	for _, w := range want {
		if _, ok := present[w]; !ok {
			missing = append(missing, w)
		}
	}
	sort.Strings(missing)
	return missing
}
