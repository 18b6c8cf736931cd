package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/damoang/angple-contrib/internal/config"
	"github.com/damoang/angple-contrib/internal/contrib"
	"github.com/damoang/angple-contrib/internal/domain"
	"github.com/damoang/angple-contrib/internal/event"
	"github.com/damoang/angple-contrib/internal/handler"
	"github.com/damoang/angple-contrib/internal/middleware"
	"github.com/damoang/angple-contrib/internal/migration"
	"github.com/damoang/angple-contrib/internal/repository"
	"github.com/damoang/angple-contrib/internal/routes"
	"github.com/damoang/angple-contrib/internal/service"
	"github.com/damoang/angple-contrib/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	seriesID      = "11111111-1111-1111-1111-111111111111"
	contributorID = "user-1"
	otherUserID   = "user-2"
	reviewerID    = "mod-1"
	reviewerLevel = 5
)

// ContributionAPISuite drives the HTTP API against an in-memory SQLite database
type ContributionAPISuite struct {
	suite.Suite
	db         *gorm.DB
	router     *gin.Engine
	jwtManager *jwt.Manager
}

func TestContributionAPISuite(t *testing.T) {
	suite.Run(t, new(ContributionAPISuite))
}

func (s *ContributionAPISuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	// Use SQLite for tests (no external DB dependency)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	s.Require().NoError(err)
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)
	s.db = db

	s.Require().NoError(migration.Run(db))
	s.Require().NoError(db.Create(&domain.Entity{
		ID:   seriesID,
		Type: contrib.EntityTypeSeries,
		Data: datatypes.JSONMap{
			"title":      "Foo",
			"status":     "FINISHED",
			"isLocked":   false,
			"genreIds":   []interface{}{"action", "drama"},
			"popularity": 120,
		},
		Version: 1,
	}).Error)

	cfg := config.Default()
	cfg.Contribution.ReviewerLevel = reviewerLevel
	s.jwtManager = jwt.NewManager("test-secret-key-for-api-tests", time.Hour)

	bus := event.NewBus()
	service.RegisterAuditSubscriber(bus, repository.NewAuditRepository(db))
	svc := service.NewContributionService(
		repository.NewContributionRepository(db),
		repository.NewEntityRepository(db),
		contrib.DefaultRegistry(),
		bus,
	)

	s.router = gin.New()
	s.router.Use(middleware.RequestLogger())
	routes.Setup(s.router, handler.NewContributionHandler(svc), nil, s.jwtManager, nil, &cfg)
}

func (s *ContributionAPISuite) TearDownTest() {
	// let async audit writes drain before closing
	time.Sleep(20 * time.Millisecond)
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *struct {
		Page  int   `json:"page"`
		Limit int   `json:"limit"`
		Total int64 `json:"total"`
	} `json:"meta"`
	Error *struct {
		Code    string      `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details"`
	} `json:"error"`
}

func (s *ContributionAPISuite) token(userID string, level int) string {
	token, err := s.jwtManager.GenerateAccessToken(userID, "", level)
	s.Require().NoError(err)
	return token
}

func (s *ContributionAPISuite) do(method, path, userID string, level int, body interface{}) (*httptest.ResponseRecorder, envelope) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(userID, level))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func (s *ContributionAPISuite) submit(patch map[string]interface{}) domain.Contribution {
	w, env := s.do(http.MethodPost, "/api/v1/contributions", contributorID, 2, map[string]interface{}{
		"entityType":      "series",
		"entityId":        seriesID,
		"action":          "update",
		"proposedPatch":   patch,
		"contributorNote": "fix",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var c domain.Contribution
	s.Require().NoError(json.Unmarshal(env.Data, &c))
	return c
}

func (s *ContributionAPISuite) entityData() datatypes.JSONMap {
	var e domain.Entity
	s.Require().NoError(s.db.Where("id = ?", seriesID).First(&e).Error)
	return e.Data
}

func (s *ContributionAPISuite) contribution(id string) domain.Contribution {
	var c domain.Contribution
	s.Require().NoError(s.db.Where("id = ?", id).First(&c).Error)
	return c
}

// --- Submit ---

func (s *ContributionAPISuite) TestSubmit_RequiresAuth() {
	w, env := s.do(http.MethodPost, "/api/v1/contributions", "", 0, map[string]interface{}{})
	s.Equal(http.StatusUnauthorized, w.Code)
	s.False(env.Success)
}

func (s *ContributionAPISuite) TestSubmit_StoresMinimalPatch() {
	c := s.submit(map[string]interface{}{
		"title":    "Foo (2024)",
		"status":   "FINISHED",
		"genreIds": []string{"drama", "action"},
		"isLocked": true,
	})

	s.Equal(domain.StatusPending, c.Status)
	s.Equal(datatypes.JSONMap{"title": "Foo (2024)"}, c.ProposedPatch)
	s.Equal(contributorID, c.ContributorID)
}

func (s *ContributionAPISuite) TestSubmit_ExcludedOnlyIsRejected() {
	w, env := s.do(http.MethodPost, "/api/v1/contributions", contributorID, 2, map[string]interface{}{
		"entityType":    "series",
		"entityId":      seriesID,
		"action":        "update",
		"proposedPatch": map[string]interface{}{"isLocked": true},
	})

	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("BAD_REQUEST", env.Error.Code)

	var count int64
	s.db.Model(&domain.Contribution{}).Count(&count)
	s.Zero(count)
}

func (s *ContributionAPISuite) TestSubmit_UnchangedNumberIsRejected() {
	s.Require().NoError(s.db.Model(&domain.Entity{}).Where("id = ?", seriesID).
		Update("data", datatypes.JSONMap{"title": "Foo", "episodes": int64(1e15), "seasonYear": 2020}).Error)

	w, env := s.do(http.MethodPost, "/api/v1/contributions", contributorID, 2, map[string]interface{}{
		"entityType":    "series",
		"entityId":      seriesID,
		"action":        "update",
		"proposedPatch": map[string]interface{}{"episodes": 1e15, "seasonYear": 2020.0},
	})

	s.Equal(http.StatusBadRequest, w.Code, w.Body.String())
	s.Equal("BAD_REQUEST", env.Error.Code)
	var count int64
	s.db.Model(&domain.Contribution{}).Count(&count)
	s.Zero(count)
}

func (s *ContributionAPISuite) TestSubmit_UnknownEntity() {
	w, _ := s.do(http.MethodPost, "/api/v1/contributions", contributorID, 2, map[string]interface{}{
		"entityType":    "series",
		"entityId":      "does-not-exist",
		"action":        "update",
		"proposedPatch": map[string]interface{}{"title": "x"},
	})
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *ContributionAPISuite) TestSubmit_BindingValidation() {
	w, env := s.do(http.MethodPost, "/api/v1/contributions", contributorID, 2, map[string]interface{}{
		"entityType":    "series",
		"entityId":      seriesID,
		"action":        "delete",
		"proposedPatch": map[string]interface{}{"title": "x"},
	})

	s.Equal(http.StatusBadRequest, w.Code)
	s.Require().NotNil(env.Error)
	details, ok := env.Error.Details.([]interface{})
	s.Require().True(ok, "details: %v", env.Error.Details)
	s.Equal(map[string]interface{}{"field": "Action", "rule": "oneof"}, details[0])
}

// --- Review ---

func (s *ContributionAPISuite) TestApprove_AppliesOnlyChangedFields() {
	c := s.submit(map[string]interface{}{"title": "Foo (2024)"})

	w, env := s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/approve", reviewerID, reviewerLevel, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var approved domain.Contribution
	s.Require().NoError(json.Unmarshal(env.Data, &approved))
	s.Equal(domain.StatusApproved, approved.Status)
	s.Require().NotNil(approved.ReviewerID)
	s.Equal(reviewerID, *approved.ReviewerID)

	data := s.entityData()
	s.Equal("Foo (2024)", data["title"])
	s.Equal("FINISHED", data["status"])
	s.Equal(false, data["isLocked"])
	s.Equal(json.Number("120"), data["popularity"])

	// terminal
	w, _ = s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/approve", reviewerID, reviewerLevel, nil)
	s.Equal(http.StatusConflict, w.Code)
	w, _ = s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/reject", reviewerID, reviewerLevel, map[string]string{"rejectionReason": "late"})
	s.Equal(http.StatusConflict, w.Code)
}

func (s *ContributionAPISuite) TestApprove_RequiresReviewerLevel() {
	c := s.submit(map[string]interface{}{"title": "Foo (2024)"})

	w, _ := s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/approve", contributorID, reviewerLevel-1, nil)

	s.Equal(http.StatusForbidden, w.Code)
	s.Equal(domain.StatusPending, s.contribution(c.ID).Status)
}

func (s *ContributionAPISuite) TestApprove_UnknownReferenceKeepsPending() {
	c := s.submit(map[string]interface{}{"genreIds": []string{"action", "no-such-genre"}})

	w, env := s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/approve", reviewerID, reviewerLevel, nil)

	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("UNPROCESSABLE_ENTITY", env.Error.Code)
	s.Equal(domain.StatusPending, s.contribution(c.ID).Status)
	s.Equal([]interface{}{"action", "drama"}, s.entityData()["genreIds"])
}

func (s *ContributionAPISuite) TestApprove_Concurrent() {
	c := s.submit(map[string]interface{}{"title": "Foo (2024)"})

	token := s.token(reviewerID, reviewerLevel)
	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/approve", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	s.ElementsMatch([]int{http.StatusOK, http.StatusConflict}, codes)
	var e domain.Entity
	s.Require().NoError(s.db.Where("id = ?", seriesID).First(&e).Error)
	s.Equal(uint(2), e.Version)
}

func (s *ContributionAPISuite) TestReject() {
	c := s.submit(map[string]interface{}{"title": "Foo (2024)"})

	w, _ := s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/reject", reviewerID, reviewerLevel, map[string]string{"rejectionReason": "  "})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(domain.StatusPending, s.contribution(c.ID).Status)

	w, env := s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/reject", reviewerID, reviewerLevel, map[string]string{"rejectionReason": "duplicate"})
	s.Require().Equal(http.StatusOK, w.Code)
	var rejected domain.Contribution
	s.Require().NoError(json.Unmarshal(env.Data, &rejected))
	s.Equal(domain.StatusRejected, rejected.Status)
	s.Require().NotNil(rejected.RejectionReason)
	s.Equal("duplicate", *rejected.RejectionReason)
	s.Equal("Foo", s.entityData()["title"])

	w, _ = s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/approve", reviewerID, reviewerLevel, nil)
	s.Equal(http.StatusConflict, w.Code)
}

func (s *ContributionAPISuite) TestWithdraw() {
	c := s.submit(map[string]interface{}{"title": "Foo (2024)"})

	w, _ := s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/withdraw", otherUserID, 2, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/withdraw", contributorID, 2, nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal(domain.StatusWithdrawn, s.contribution(c.ID).Status)

	w, _ = s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/withdraw", contributorID, 2, nil)
	s.Equal(http.StatusConflict, w.Code)
}

func (s *ContributionAPISuite) TestCreateAction() {
	w, env := s.do(http.MethodPost, "/api/v1/contributions", contributorID, 2, map[string]interface{}{
		"entityType":    "series",
		"action":        "create",
		"proposedPatch": map[string]interface{}{"title": "Brand New", "genreIds": []string{"comedy"}, "popularity": 5},
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var c domain.Contribution
	s.Require().NoError(json.Unmarshal(env.Data, &c))

	w, env = s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/approve", reviewerID, reviewerLevel, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var approved domain.Contribution
	s.Require().NoError(json.Unmarshal(env.Data, &approved))
	s.NotEmpty(approved.EntityID)
	s.Equal(approved.EntityID, s.contribution(c.ID).EntityID)

	var created domain.Entity
	s.Require().NoError(s.db.Where("id = ?", approved.EntityID).First(&created).Error)
	s.Equal("Brand New", created.Data["title"])
	s.NotContains(created.Data, "popularity")
}

// --- Read side ---

func (s *ContributionAPISuite) TestGetAndList() {
	first := s.submit(map[string]interface{}{"title": "Foo (2024)"})
	second := s.submit(map[string]interface{}{"status": "RELEASING"})

	w, _ := s.do(http.MethodGet, "/api/v1/contributions/"+first.ID, contributorID, 2, nil)
	s.Equal(http.StatusOK, w.Code)
	w, _ = s.do(http.MethodGet, "/api/v1/contributions/missing", contributorID, 2, nil)
	s.Equal(http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodPatch, "/api/v1/contributions/"+second.ID+"/reject", reviewerID, reviewerLevel, map[string]string{"rejectionReason": "no"})
	s.Require().Equal(http.StatusOK, w.Code)

	w, env := s.do(http.MethodGet, "/api/v1/contributions?status=pending&entityType=series", reviewerID, reviewerLevel, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var items []domain.Contribution
	s.Require().NoError(json.Unmarshal(env.Data, &items))
	s.Require().Len(items, 1)
	s.Equal(first.ID, items[0].ID)
	s.Equal(int64(1), env.Meta.Total)
	s.Equal(20, env.Meta.Limit)

	w, env = s.do(http.MethodGet, "/api/v1/contributions/mine", contributorID, 2, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(int64(2), env.Meta.Total)

	w, env = s.do(http.MethodGet, "/api/v1/contributions/mine", otherUserID, 2, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(int64(0), env.Meta.Total)

	w, _ = s.do(http.MethodGet, "/api/v1/contributions?status=merged", reviewerID, reviewerLevel, nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ContributionAPISuite) TestStats() {
	s.submit(map[string]interface{}{"title": "Foo (2024)"})

	w, _ := s.do(http.MethodGet, "/api/v1/contributions/stats", contributorID, 2, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w, env := s.do(http.MethodGet, "/api/v1/contributions/stats", reviewerID, reviewerLevel, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var stats domain.ContributionStats
	s.Require().NoError(json.Unmarshal(env.Data, &stats))
	s.Equal(int64(1), stats.Pending)
}

func (s *ContributionAPISuite) TestPreview() {
	w, env := s.do(http.MethodPost, "/api/v1/contributions/preview", contributorID, 2, map[string]interface{}{
		"entityType":    "series",
		"entityId":      seriesID,
		"categories":    []string{"basic_info"},
		"proposedPatch": map[string]interface{}{"title": "Foo (2024)", "popularity": 1},
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var result service.PreviewResult
	s.Require().NoError(json.Unmarshal(env.Data, &result))
	s.True(result.HasChanges)
	s.Equal([]string{"title"}, result.ChangedFields)
	s.Require().NotNil(result.Patch)
	s.Equal(map[string]interface{}{"title": "Foo (2024)"}, result.Patch.ProposedPatch)

	var count int64
	s.db.Model(&domain.Contribution{}).Count(&count)
	s.Zero(count)
}

func (s *ContributionAPISuite) TestCatalog() {
	w, env := s.do(http.MethodGet, "/api/v1/catalog/series", contributorID, 2, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var view service.CatalogView
	s.Require().NoError(json.Unmarshal(env.Data, &view))
	s.Contains(view.Excluded, "isLocked")

	w, _ = s.do(http.MethodGet, "/api/v1/catalog/movie", contributorID, 2, nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ContributionAPISuite) TestAuditTrail() {
	c := s.submit(map[string]interface{}{"title": "Foo (2024)"})
	w, _ := s.do(http.MethodPatch, "/api/v1/contributions/"+c.ID+"/approve", reviewerID, reviewerLevel, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	audit := repository.NewAuditRepository(s.db)
	s.Eventually(func() bool {
		logs, total, err := audit.List(context.Background(), c.ID, "", 1, 10)
		return err == nil && total == 2 && len(logs) == 2
	}, 2*time.Second, 20*time.Millisecond)
}
