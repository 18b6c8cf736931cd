package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/damoang/angple-contrib/internal/contrib"
	"github.com/damoang/angple-contrib/internal/domain"
	"github.com/damoang/angple-contrib/internal/event"
	"github.com/damoang/angple-contrib/internal/repository"
	"github.com/damoang/angple-contrib/pkg/cache"
	pkglogger "github.com/damoang/angple-contrib/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// MaxNoteLength bounds contributor notes and rejection reasons, in runes
	MaxNoteLength = 1000

	defaultPageSize = 20
	maxPageSize     = 100
)

// ContributionService handles the contribution lifecycle: submit, review
// and the read side of the moderation queue.
type ContributionService struct {
	repo     repository.ContributionRepository
	entities repository.EntityRepository
	catalogs *contrib.Registry
	bus      *event.Bus
	cache    cache.Service // optional, stats only

	now   func() time.Time
	newID func() string
}

// NewContributionService creates a new ContributionService
func NewContributionService(repo repository.ContributionRepository, entities repository.EntityRepository, catalogs *contrib.Registry, bus *event.Bus) *ContributionService {
	return &ContributionService{
		repo:     repo,
		entities: entities,
		catalogs: catalogs,
		bus:      bus,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// SetCache enables the stats cache
func (s *ContributionService) SetCache(c cache.Service) {
	s.cache = c
}

// Submit diffs the proposal against the stored entity and records the
// minimal changeset as a pending contribution.
func (s *ContributionService) Submit(ctx context.Context, actor domain.Actor, req *domain.CreateContributionRequest) (*domain.Contribution, error) {
	if actor.UserID == "" {
		return nil, &contrib.ForbiddenError{Action: "submit"}
	}
	catalog, err := s.catalogs.Catalog(req.EntityType)
	if err != nil {
		return nil, err
	}
	if !req.Action.Valid() {
		return nil, contrib.NewValidationError("action", fmt.Sprintf("must be %q or %q", domain.ActionCreate, domain.ActionUpdate))
	}
	switch req.Action {
	case domain.ActionUpdate:
		if strings.TrimSpace(req.EntityID) == "" {
			return nil, contrib.NewValidationError("entityId", "required for update")
		}
	case domain.ActionCreate:
		if req.EntityID != "" {
			return nil, contrib.NewValidationError("entityId", "must be empty for create")
		}
	}
	if len(req.ProposedPatch) == 0 {
		return nil, contrib.NewValidationError("proposedPatch", "must not be empty")
	}
	if err := validatePatchFields(catalog, req.ProposedPatch); err != nil {
		return nil, err
	}
	note := strings.TrimSpace(req.ContributorNote)
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return nil, contrib.NewValidationError("contributorNote", fmt.Sprintf("must be at most %d characters", MaxNoteLength))
	}

	current := contrib.Snapshot{}
	if req.Action == domain.ActionUpdate {
		current, err = s.entities.GetEntity(ctx, req.EntityType, req.EntityID)
		if err != nil {
			return nil, err
		}
	}

	changes, err := contrib.Diff(current, contrib.Snapshot(req.ProposedPatch), catalog)
	if err != nil {
		return nil, contrib.NewValidationError("proposedPatch", err.Error())
	}
	if len(changes) == 0 {
		return nil, &contrib.EmptyContributionError{EntityType: req.EntityType, EntityID: req.EntityID}
	}

	record := &domain.Contribution{
		ID:              s.newID(),
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		Action:          req.Action,
		ProposedPatch:   datatypes.JSONMap(changes.Patch()),
		ContributorID:   actor.UserID,
		ContributorNote: note,
		Status:          domain.StatusPending,
		Version:         1,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("store contribution: %w", err)
	}

	log := pkglogger.FromContext(ctx)
	log.Info().
		Str("contribution_id", record.ID).
		Str("entity_type", record.EntityType).
		Str("entity_id", record.EntityID).
		Strs("fields", changes.Fields()).
		Msg("contribution submitted")

	s.publish(ctx, event.TopicSubmitted, actor, record, map[string]interface{}{
		"action": string(record.Action),
		"fields": changes.Fields(),
	})
	return record, nil
}

// Approve applies the stored patch to the entity and marks the contribution
// approved. Both happen in one transaction: if the patch cannot be applied
// the contribution stays pending.
func (s *ContributionService) Approve(ctx context.Context, actor domain.Actor, id string) (*domain.Contribution, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(record.Status, domain.StatusApproved) {
		return nil, &contrib.InvalidStateTransitionError{ID: id, From: string(record.Status), To: string(domain.StatusApproved)}
	}
	catalog, err := s.catalogs.Catalog(record.EntityType)
	if err != nil {
		return nil, err
	}

	reviewedAt := s.now()
	patch := map[string]any(record.ProposedPatch)

	err = s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		contributions := s.repo.WithTx(tx)
		if err := contributions.Transition(ctx, domain.Transition{
			ID:         id,
			From:       domain.StatusPending,
			To:         domain.StatusApproved,
			Version:    record.Version,
			ReviewerID: actor.UserID,
			ReviewedAt: reviewedAt,
		}); err != nil {
			return err
		}

		entities := s.entities.WithTx(tx)
		if record.Action == domain.ActionCreate {
			entityID, err := entities.CreateEntity(ctx, catalog, patch)
			if err != nil {
				return err
			}
			record.EntityID = entityID
			return contributions.SetEntityID(ctx, id, entityID)
		}
		_, err := entities.ApplyPatch(ctx, catalog, record.EntityID, patch)
		return err
	})
	if err != nil {
		log := pkglogger.FromContext(ctx)
		log.Warn().Err(err).Str("contribution_id", id).Msg("approve failed")
		return nil, err
	}

	record.Status = domain.StatusApproved
	record.ReviewerID = &actor.UserID
	record.ReviewedAt = &reviewedAt
	record.Version++
	record.UpdatedAt = reviewedAt

	s.publish(ctx, event.TopicApproved, actor, record, map[string]interface{}{
		"action": string(record.Action),
		"fields": contributionFields(record),
	})
	return record, nil
}

// Reject closes a pending contribution with a reviewer-supplied reason.
// The entity is not touched.
func (s *ContributionService) Reject(ctx context.Context, actor domain.Actor, id string, reason string) (*domain.Contribution, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, contrib.NewValidationError("rejectionReason", "required")
	}
	if utf8.RuneCountInString(reason) > MaxNoteLength {
		return nil, contrib.NewValidationError("rejectionReason", fmt.Sprintf("must be at most %d characters", MaxNoteLength))
	}

	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(record.Status, domain.StatusRejected) {
		return nil, &contrib.InvalidStateTransitionError{ID: id, From: string(record.Status), To: string(domain.StatusRejected)}
	}

	reviewedAt := s.now()
	if err := s.repo.Transition(ctx, domain.Transition{
		ID:              id,
		From:            domain.StatusPending,
		To:              domain.StatusRejected,
		Version:         record.Version,
		ReviewerID:      actor.UserID,
		ReviewedAt:      reviewedAt,
		RejectionReason: reason,
	}); err != nil {
		return nil, err
	}

	record.Status = domain.StatusRejected
	record.ReviewerID = &actor.UserID
	record.ReviewedAt = &reviewedAt
	record.RejectionReason = &reason
	record.Version++
	record.UpdatedAt = reviewedAt

	s.publish(ctx, event.TopicRejected, actor, record, map[string]interface{}{
		"reason": reason,
	})
	return record, nil
}

// Withdraw lets a contributor retract their own pending contribution
func (s *ContributionService) Withdraw(ctx context.Context, actor domain.Actor, id string) (*domain.Contribution, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.ContributorID != actor.UserID {
		return nil, &contrib.ForbiddenError{ActorID: actor.UserID, Action: "withdraw"}
	}
	if !domain.CanTransition(record.Status, domain.StatusWithdrawn) {
		return nil, &contrib.InvalidStateTransitionError{ID: id, From: string(record.Status), To: string(domain.StatusWithdrawn)}
	}

	now := s.now()
	if err := s.repo.Transition(ctx, domain.Transition{
		ID:      id,
		From:    domain.StatusPending,
		To:      domain.StatusWithdrawn,
		Version: record.Version,
	}); err != nil {
		return nil, err
	}

	record.Status = domain.StatusWithdrawn
	record.Version++
	record.UpdatedAt = now

	s.publish(ctx, event.TopicWithdrawn, actor, record, nil)
	return record, nil
}

// Get returns one contribution
func (s *ContributionService) Get(ctx context.Context, id string) (*domain.Contribution, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns a filtered page of contributions, newest first
func (s *ContributionService) List(ctx context.Context, filter domain.ContributionFilter) ([]*domain.Contribution, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, contrib.NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.EntityType != "" {
		if _, err := s.catalogs.Catalog(filter.EntityType); err != nil {
			return nil, 0, err
		}
	}
	filter.Page, filter.Limit = NormalizePage(filter.Page, filter.Limit)
	return s.repo.List(ctx, filter)
}

// Stats returns per-status counts, served from cache when available
func (s *ContributionService) Stats(ctx context.Context) (*domain.ContributionStats, error) {
	if s.cache != nil && s.cache.IsAvailable() {
		var cached domain.ContributionStats
		if err := s.cache.GetStats(ctx, &cached); err == nil {
			return &cached, nil
		}
	}

	stats, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetStats(ctx, stats); err != nil {
			log := pkglogger.FromContext(ctx)
			log.Warn().Err(err).Msg("cache warning: failed to set contribution stats")
		}
	}
	return stats, nil
}

// PreviewResult is what a contributor would submit given a set of edits
type PreviewResult struct {
	Changes            contrib.Changeset `json:"changes"`
	ChangedFields      []string          `json:"changedFields"`
	HasChanges         bool              `json:"hasChanges"`
	SelectedCategories []contrib.Category `json:"selectedCategories"`
	EditableFields     []string          `json:"editableFields"`
	Patch              *contrib.Patch    `json:"patch,omitempty"`
	// Blocker explains why Patch could not be built
	Blocker string `json:"blocker,omitempty"`
}

// Preview runs a draft session server-side: it seeds the draft from the
// stored entity, selects the requested categories, applies the edits and
// reports the resulting changeset and patch. Nothing is stored.
func (s *ContributionService) Preview(ctx context.Context, req *domain.PreviewContributionRequest) (*PreviewResult, error) {
	catalog, err := s.catalogs.Catalog(req.EntityType)
	if err != nil {
		return nil, err
	}
	if err := validatePatchFields(catalog, req.ProposedPatch); err != nil {
		return nil, err
	}

	snapshot := contrib.Snapshot{}
	if req.EntityID != "" {
		snapshot, err = s.entities.GetEntity(ctx, req.EntityType, req.EntityID)
		if err != nil {
			return nil, err
		}
	}

	draft := contrib.NewDraft(catalog)
	draft.Initialize(snapshot)
	seen := make(map[string]bool, len(req.Categories))
	for _, name := range req.Categories {
		if seen[name] {
			continue
		}
		seen[name] = true
		if err := draft.ToggleCategory(contrib.Category(name)); err != nil {
			return nil, err
		}
	}
	draft.UpdateFields(req.ProposedPatch)
	draft.SetNote(strings.TrimSpace(req.ContributorNote))

	changes, err := draft.Changeset()
	if err != nil {
		return nil, contrib.NewValidationError("proposedPatch", err.Error())
	}

	result := &PreviewResult{
		Changes:            changes,
		ChangedFields:      changes.Fields(),
		HasChanges:         len(changes) > 0,
		SelectedCategories: draft.SelectedCategories(),
		EditableFields:     draft.EditableFields(),
	}

	patch, err := draft.BuildPatch("")
	var verr *contrib.ValidationError
	switch {
	case err == nil:
		result.Patch = patch
	case errors.As(err, &verr):
		result.Blocker = verr.Message
	default:
		return nil, err
	}
	return result, nil
}

// CatalogCategory groups the editable fields of one category
type CatalogCategory struct {
	Name   contrib.Category `json:"name"`
	Fields []string         `json:"fields"`
}

// CatalogView describes which fields of an entity type can be edited
type CatalogView struct {
	EntityType string            `json:"entityType"`
	Categories []CatalogCategory `json:"categories"`
	Excluded   []string          `json:"excluded"`
}

// Catalog returns the field catalog for entityType
func (s *ContributionService) Catalog(entityType string) (*CatalogView, error) {
	catalog, err := s.catalogs.Catalog(entityType)
	if err != nil {
		return nil, err
	}
	view := &CatalogView{
		EntityType: catalog.EntityType(),
		Excluded:   catalog.ExcludedFields(),
	}
	for _, cat := range contrib.Categories {
		view.Categories = append(view.Categories, CatalogCategory{Name: cat, Fields: catalog.FieldsIn(cat)})
	}
	return view, nil
}

func (s *ContributionService) publish(ctx context.Context, topic string, actor domain.Actor, record *domain.Contribution, payload map[string]interface{}) {
	s.bus.Publish(event.Event{
		Topic:          topic,
		ActorID:        actor.UserID,
		ContributorID:  record.ContributorID,
		ContributionID: record.ID,
		EntityType:     record.EntityType,
		EntityID:       record.EntityID,
		RequestID:      pkglogger.RequestIDFrom(ctx),
		Payload:        payload,
		Timestamp:      s.now(),
	})
}

// validatePatchFields rejects fields the catalog does not know. Excluded
// fields are known and pass; the diff drops them.
func validatePatchFields(catalog *contrib.Catalog, patch map[string]any) error {
	for name := range patch {
		if _, ok := catalog.Lookup(name); !ok {
			return contrib.NewValidationError(name, fmt.Sprintf("unknown field for %s", catalog.EntityType()))
		}
	}
	return nil
}

func contributionFields(c *domain.Contribution) []string {
	fields := make([]string, 0, len(c.ProposedPatch))
	for name := range c.ProposedPatch {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// NormalizePage clamps paging input to page >= 1 and 1 <= limit <= 100
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}
