package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/damoang/angple-contrib/internal/contrib"
	"github.com/damoang/angple-contrib/internal/domain"
	"github.com/damoang/angple-contrib/internal/event"
	"github.com/damoang/angple-contrib/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MockContributionRepository is a mock implementation of ContributionRepository
type MockContributionRepository struct {
	mock.Mock
}

func (m *MockContributionRepository) WithTx(tx *gorm.DB) repository.ContributionRepository {
	return m
}

// Transaction runs fn without a real database; rollback is not simulated
func (m *MockContributionRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (m *MockContributionRepository) Create(ctx context.Context, c *domain.Contribution) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockContributionRepository) FindByID(ctx context.Context, id string) (*domain.Contribution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Contribution), args.Error(1)
}

func (m *MockContributionRepository) List(ctx context.Context, filter domain.ContributionFilter) ([]*domain.Contribution, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*domain.Contribution), args.Get(1).(int64), args.Error(2)
}

func (m *MockContributionRepository) CountByStatus(ctx context.Context) (*domain.ContributionStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ContributionStats), args.Error(1)
}

func (m *MockContributionRepository) Transition(ctx context.Context, t domain.Transition) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockContributionRepository) SetEntityID(ctx context.Context, id, entityID string) error {
	args := m.Called(ctx, id, entityID)
	return args.Error(0)
}

// MockEntityRepository is a mock implementation of EntityRepository
type MockEntityRepository struct {
	mock.Mock
}

func (m *MockEntityRepository) WithTx(tx *gorm.DB) repository.EntityRepository {
	return m
}

func (m *MockEntityRepository) GetEntity(ctx context.Context, entityType, id string) (contrib.Snapshot, error) {
	args := m.Called(ctx, entityType, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(contrib.Snapshot), args.Error(1)
}

func (m *MockEntityRepository) ApplyPatch(ctx context.Context, catalog *contrib.Catalog, id string, patch map[string]any) (contrib.Snapshot, error) {
	args := m.Called(ctx, catalog, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(contrib.Snapshot), args.Error(1)
}

func (m *MockEntityRepository) CreateEntity(ctx context.Context, catalog *contrib.Catalog, data map[string]any) (string, error) {
	args := m.Called(ctx, catalog, data)
	return args.String(0), args.Error(1)
}

var (
	contributor = domain.Actor{UserID: "user-1", Level: 2}
	reviewer    = domain.Actor{UserID: "mod-1", Level: 5}
	fixedNow    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func seriesSnapshot() contrib.Snapshot {
	return contrib.Snapshot{
		"id":       "s1",
		"title":    "Foo",
		"status":   "FINISHED",
		"isLocked": false,
		"genreIds": []any{"g1", "g2"},
	}
}

type serviceFixture struct {
	svc      *ContributionService
	repo     *MockContributionRepository
	entities *MockEntityRepository
	events   *[]event.Event
}

func newFixture() serviceFixture {
	repo := new(MockContributionRepository)
	entities := new(MockEntityRepository)
	bus := event.NewBus()
	var events []event.Event
	bus.SubscribeAll("test", func(e event.Event) { events = append(events, e) })

	svc := NewContributionService(repo, entities, contrib.DefaultRegistry(), bus)
	svc.now = func() time.Time { return fixedNow }
	svc.newID = func() string { return "c-1" }
	return serviceFixture{svc: svc, repo: repo, entities: entities, events: &events}
}

func pending(action domain.ContributionAction, patch map[string]any) *domain.Contribution {
	return &domain.Contribution{
		ID:            "c-1",
		EntityType:    contrib.EntityTypeSeries,
		EntityID:      "s1",
		Action:        action,
		ProposedPatch: datatypes.JSONMap(patch),
		ContributorID: contributor.UserID,
		Status:        domain.StatusPending,
		Version:       1,
	}
}

func TestSubmit_StoresOnlyChangedFields(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.entities.On("GetEntity", ctx, "series", "s1").Return(seriesSnapshot(), nil)
	f.repo.On("Create", ctx, mock.AnythingOfType("*domain.Contribution")).Return(nil)

	proposal := seriesSnapshot()
	proposal["title"] = "Foo (2024)"
	proposal["genreIds"] = []any{"g2", "g1"}
	proposal["isLocked"] = true

	got, err := f.svc.Submit(ctx, contributor, &domain.CreateContributionRequest{
		EntityType:      "series",
		EntityID:        "s1",
		Action:          domain.ActionUpdate,
		ProposedPatch:   proposal,
		ContributorNote: "  year suffix  ",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, datatypes.JSONMap{"title": "Foo (2024)"}, got.ProposedPatch)
	assert.Equal(t, "year suffix", got.ContributorNote)
	assert.Equal(t, "user-1", got.ContributorID)
	require.Len(t, *f.events, 1)
	assert.Equal(t, event.TopicSubmitted, (*f.events)[0].Topic)
	f.repo.AssertExpectations(t)
}

func TestSubmit_ExcludedOnlyIsEmpty(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.entities.On("GetEntity", ctx, "series", "s1").Return(seriesSnapshot(), nil)

	_, err := f.svc.Submit(ctx, contributor, &domain.CreateContributionRequest{
		EntityType:    "series",
		EntityID:      "s1",
		Action:        domain.ActionUpdate,
		ProposedPatch: map[string]any{"isLocked": true},
	})

	assert.ErrorIs(t, err, contrib.ErrEmptyContribution)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	assert.Empty(t, *f.events)
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   domain.CreateContributionRequest
		field string
	}{
		{"unknown entity type", domain.CreateContributionRequest{EntityType: "movie", EntityID: "x", Action: domain.ActionUpdate, ProposedPatch: map[string]any{"title": "a"}}, "entityType"},
		{"bad action", domain.CreateContributionRequest{EntityType: "series", EntityID: "s1", Action: "delete", ProposedPatch: map[string]any{"title": "a"}}, "action"},
		{"update without id", domain.CreateContributionRequest{EntityType: "series", Action: domain.ActionUpdate, ProposedPatch: map[string]any{"title": "a"}}, "entityId"},
		{"create with id", domain.CreateContributionRequest{EntityType: "series", EntityID: "s1", Action: domain.ActionCreate, ProposedPatch: map[string]any{"title": "a"}}, "entityId"},
		{"empty patch", domain.CreateContributionRequest{EntityType: "series", EntityID: "s1", Action: domain.ActionUpdate}, "proposedPatch"},
		{"unknown field", domain.CreateContributionRequest{EntityType: "series", EntityID: "s1", Action: domain.ActionUpdate, ProposedPatch: map[string]any{"rating": 5}}, "rating"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := tt.req
			_, err := f.svc.Submit(context.Background(), contributor, &req)

			var verr *contrib.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestSubmit_EntityNotFound(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.entities.On("GetEntity", ctx, "series", "missing").
		Return(nil, &contrib.NotFoundError{Resource: "series", ID: "missing"})

	_, err := f.svc.Submit(ctx, contributor, &domain.CreateContributionRequest{
		EntityType:    "series",
		EntityID:      "missing",
		Action:        domain.ActionUpdate,
		ProposedPatch: map[string]any{"title": "x"},
	})

	assert.ErrorIs(t, err, contrib.ErrNotFound)
}

func TestSubmit_CreateDiffsAgainstEmpty(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.repo.On("Create", ctx, mock.AnythingOfType("*domain.Contribution")).Return(nil)

	got, err := f.svc.Submit(ctx, contributor, &domain.CreateContributionRequest{
		EntityType:    "series",
		Action:        domain.ActionCreate,
		ProposedPatch: map[string]any{"title": "New Show", "popularity": 9000},
	})

	require.NoError(t, err)
	assert.Equal(t, datatypes.JSONMap{"title": "New Show"}, got.ProposedPatch)
	f.entities.AssertNotCalled(t, "GetEntity", mock.Anything, mock.Anything, mock.Anything)
}

func TestApprove_AppliesPatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	record := pending(domain.ActionUpdate, map[string]any{"title": "Foo (2024)"})
	f.repo.On("FindByID", ctx, "c-1").Return(record, nil)
	f.repo.On("Transition", ctx, domain.Transition{
		ID: "c-1", From: domain.StatusPending, To: domain.StatusApproved,
		Version: 1, ReviewerID: "mod-1", ReviewedAt: fixedNow,
	}).Return(nil)
	f.entities.On("ApplyPatch", ctx, mock.Anything, "s1", map[string]any{"title": "Foo (2024)"}).
		Return(contrib.Snapshot{"id": "s1", "title": "Foo (2024)"}, nil)

	got, err := f.svc.Approve(ctx, reviewer, "c-1")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	require.NotNil(t, got.ReviewerID)
	assert.Equal(t, "mod-1", *got.ReviewerID)
	assert.Equal(t, uint(2), got.Version)
	require.Len(t, *f.events, 1)
	assert.Equal(t, event.TopicApproved, (*f.events)[0].Topic)
	assert.Equal(t, []string{"title"}, (*f.events)[0].Payload["fields"])
	f.entities.AssertExpectations(t)
}

func TestApprove_CreateAction(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	record := pending(domain.ActionCreate, map[string]any{"title": "New Show"})
	record.EntityID = ""
	f.repo.On("FindByID", ctx, "c-1").Return(record, nil)
	f.repo.On("Transition", ctx, mock.AnythingOfType("domain.Transition")).Return(nil)
	f.entities.On("CreateEntity", ctx, mock.Anything, map[string]any{"title": "New Show"}).Return("s-new", nil)
	f.repo.On("SetEntityID", ctx, "c-1", "s-new").Return(nil)

	got, err := f.svc.Approve(ctx, reviewer, "c-1")

	require.NoError(t, err)
	assert.Equal(t, "s-new", got.EntityID)
	f.repo.AssertExpectations(t)
}

func TestApprove_ApplyFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	record := pending(domain.ActionUpdate, map[string]any{"genreIds": []any{"g9"}})
	f.repo.On("FindByID", ctx, "c-1").Return(record, nil)
	f.repo.On("Transition", ctx, mock.AnythingOfType("domain.Transition")).Return(nil)
	f.entities.On("ApplyPatch", ctx, mock.Anything, "s1", mock.Anything).
		Return(nil, &contrib.PatchApplyError{EntityType: "series", EntityID: "s1", Field: "genreIds", Reason: "unknown genre"})

	_, err := f.svc.Approve(ctx, reviewer, "c-1")

	assert.ErrorIs(t, err, contrib.ErrPatchApply)
	assert.Empty(t, *f.events)
}

func TestApprove_NotPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	record := pending(domain.ActionUpdate, map[string]any{"title": "x"})
	record.Status = domain.StatusRejected
	f.repo.On("FindByID", ctx, "c-1").Return(record, nil)

	_, err := f.svc.Approve(ctx, reviewer, "c-1")

	var terr *contrib.InvalidStateTransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "rejected", terr.From)
	f.repo.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything)
}

func TestApprove_LostRace(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.repo.On("FindByID", ctx, "c-1").Return(pending(domain.ActionUpdate, map[string]any{"title": "x"}), nil)
	f.repo.On("Transition", ctx, mock.AnythingOfType("domain.Transition")).
		Return(&contrib.InvalidStateTransitionError{ID: "c-1", From: "approved", To: "approved"})

	_, err := f.svc.Approve(ctx, reviewer, "c-1")

	assert.ErrorIs(t, err, contrib.ErrInvalidStateTransition)
	f.entities.AssertNotCalled(t, "ApplyPatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReject_RequiresReason(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Reject(context.Background(), reviewer, "c-1", "   ")

	assert.ErrorIs(t, err, contrib.ErrValidation)
	f.repo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestReject_Success(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.repo.On("FindByID", ctx, "c-1").Return(pending(domain.ActionUpdate, map[string]any{"title": "x"}), nil)
	f.repo.On("Transition", ctx, domain.Transition{
		ID: "c-1", From: domain.StatusPending, To: domain.StatusRejected,
		Version: 1, ReviewerID: "mod-1", ReviewedAt: fixedNow, RejectionReason: "duplicate",
	}).Return(nil)

	got, err := f.svc.Reject(ctx, reviewer, "c-1", "duplicate")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "duplicate", *got.RejectionReason)
	f.entities.AssertNotCalled(t, "ApplyPatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWithdraw(t *testing.T) {
	t.Run("other user is forbidden", func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()
		f.repo.On("FindByID", ctx, "c-1").Return(pending(domain.ActionUpdate, map[string]any{"title": "x"}), nil)

		_, err := f.svc.Withdraw(ctx, reviewer, "c-1")

		assert.ErrorIs(t, err, contrib.ErrForbidden)
	})

	t.Run("contributor withdraws", func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()
		f.repo.On("FindByID", ctx, "c-1").Return(pending(domain.ActionUpdate, map[string]any{"title": "x"}), nil)
		f.repo.On("Transition", ctx, domain.Transition{
			ID: "c-1", From: domain.StatusPending, To: domain.StatusWithdrawn, Version: 1,
		}).Return(nil)

		got, err := f.svc.Withdraw(ctx, contributor, "c-1")

		require.NoError(t, err)
		assert.Equal(t, domain.StatusWithdrawn, got.Status)
		assert.Equal(t, event.TopicWithdrawn, (*f.events)[0].Topic)
	})
}

func TestList_NormalizesPaging(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.repo.On("List", ctx, domain.ContributionFilter{Status: domain.StatusPending, Page: 1, Limit: 100}).
		Return([]*domain.Contribution{}, int64(0), nil)

	_, _, err := f.svc.List(ctx, domain.ContributionFilter{Status: domain.StatusPending, Page: 0, Limit: 500})

	require.NoError(t, err)
	f.repo.AssertExpectations(t)
}

func TestList_RejectsUnknownStatus(t *testing.T) {
	f := newFixture()

	_, _, err := f.svc.List(context.Background(), domain.ContributionFilter{Status: "merged"})

	assert.ErrorIs(t, err, contrib.ErrValidation)
}

func TestStats_WithoutCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.repo.On("CountByStatus", ctx).Return(&domain.ContributionStats{Pending: 3, Approved: 1}, nil)

	stats, err := f.svc.Stats(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Pending)
}

func TestPreview(t *testing.T) {
	t.Run("builds patch for selected category", func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()
		f.entities.On("GetEntity", ctx, "series", "s1").Return(seriesSnapshot(), nil)

		got, err := f.svc.Preview(ctx, &domain.PreviewContributionRequest{
			EntityType:      "series",
			EntityID:        "s1",
			Categories:      []string{"basic_info", "basic_info"},
			ProposedPatch:   map[string]any{"title": "Foo (2024)", "isLocked": true},
			ContributorNote: "note",
		})

		require.NoError(t, err)
		assert.True(t, got.HasChanges)
		assert.Equal(t, []string{"title"}, got.ChangedFields)
		assert.Equal(t, []contrib.Category{contrib.CategoryBasicInfo}, got.SelectedCategories)
		require.NotNil(t, got.Patch)
		assert.Equal(t, map[string]any{"title": "Foo (2024)"}, got.Patch.ProposedPatch)
		assert.Equal(t, "note", got.Patch.Note)
		assert.Empty(t, got.Blocker)
	})

	t.Run("reports blocker without categories", func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()
		f.entities.On("GetEntity", ctx, "series", "s1").Return(seriesSnapshot(), nil)

		got, err := f.svc.Preview(ctx, &domain.PreviewContributionRequest{
			EntityType:    "series",
			EntityID:      "s1",
			ProposedPatch: map[string]any{"title": "Foo (2024)"},
		})

		require.NoError(t, err)
		assert.True(t, got.HasChanges)
		assert.Nil(t, got.Patch)
		assert.NotEmpty(t, got.Blocker)
	})

	t.Run("unknown category", func(t *testing.T) {
		f := newFixture()

		_, err := f.svc.Preview(context.Background(), &domain.PreviewContributionRequest{
			EntityType: "series",
			Categories: []string{"trivia"},
		})

		assert.ErrorIs(t, err, contrib.ErrValidation)
	})
}

func TestCatalogView(t *testing.T) {
	f := newFixture()

	view, err := f.svc.Catalog("series")

	require.NoError(t, err)
	assert.Equal(t, "series", view.EntityType)
	assert.Len(t, view.Categories, len(contrib.Categories))
	assert.Contains(t, view.Excluded, "isLocked")
	assert.Contains(t, view.Categories[0].Fields, "title")
}
