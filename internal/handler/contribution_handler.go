package handler

import (
	"errors"
	"net/http"

	"github.com/damoang/angple-contrib/internal/common"
	"github.com/damoang/angple-contrib/internal/contrib"
	"github.com/damoang/angple-contrib/internal/domain"
	"github.com/damoang/angple-contrib/internal/middleware"
	"github.com/damoang/angple-contrib/internal/service"
	"github.com/damoang/angple-contrib/pkg/ginutil"
	pkglogger "github.com/damoang/angple-contrib/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// ContributionHandler handles contribution requests
type ContributionHandler struct {
	service *service.ContributionService
}

// NewContributionHandler creates a new ContributionHandler
func NewContributionHandler(service *service.ContributionService) *ContributionHandler {
	return &ContributionHandler{service: service}
}

// Submit handles POST /api/v1/contributions
// @Summary 기여 제출
// @Description 엔티티 변경 제안을 제출합니다. 실제로 바뀐 필드만 저장됩니다.
// @Tags contributions
// @Accept json
// @Produce json
// @Param request body domain.CreateContributionRequest true "제안 내용"
// @Success 201 {object} common.Response{data=domain.Contribution}
// @Failure 400 {object} common.Response
// @Failure 404 {object} common.Response
// @Failure 429 {object} common.Response
// @Security BearerAuth
// @Router /contributions [post]
func (h *ContributionHandler) Submit(c *gin.Context) {
	var req domain.CreateContributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	record, err := h.service.Submit(c.Request.Context(), middleware.GetActor(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	common.Created(c, record)
}

// List handles GET /api/v1/contributions
// @Summary 기여 목록 조회
// @Tags contributions
// @Produce json
// @Param status query string false "pending, approved, rejected, withdrawn"
// @Param entityType query string false "엔티티 타입"
// @Param entityId query string false "엔티티 ID"
// @Param contributorId query string false "기여자 ID"
// @Param page query int false "페이지 번호"
// @Param limit query int false "페이지당 항목 수 (최대 100)"
// @Success 200 {object} common.Response{data=[]domain.Contribution}
// @Failure 400 {object} common.Response
// @Security BearerAuth
// @Router /contributions [get]
func (h *ContributionHandler) List(c *gin.Context) {
	page, limit := ginutil.PageParams(c)
	h.list(c, domain.ContributionFilter{
		Status:        domain.ContributionStatus(c.Query("status")),
		EntityType:    c.Query("entityType"),
		EntityID:      c.Query("entityId"),
		ContributorID: c.Query("contributorId"),
		Page:          page,
		Limit:         limit,
	})
}

// Mine handles GET /api/v1/contributions/mine
// @Summary 내 기여 목록
// @Tags contributions
// @Produce json
// @Param status query string false "상태 필터"
// @Param page query int false "페이지 번호"
// @Param limit query int false "페이지당 항목 수"
// @Success 200 {object} common.Response{data=[]domain.Contribution}
// @Security BearerAuth
// @Router /contributions/mine [get]
func (h *ContributionHandler) Mine(c *gin.Context) {
	page, limit := ginutil.PageParams(c)
	h.list(c, domain.ContributionFilter{
		Status:        domain.ContributionStatus(c.Query("status")),
		ContributorID: middleware.GetUserID(c),
		Page:          page,
		Limit:         limit,
	})
}

func (h *ContributionHandler) list(c *gin.Context, filter domain.ContributionFilter) {
	items, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	page, limit := service.NormalizePage(filter.Page, filter.Limit)
	common.SuccessWithMeta(c, items, common.NewMeta(page, limit, total))
}

// Get handles GET /api/v1/contributions/:id
// @Summary 기여 상세
// @Tags contributions
// @Produce json
// @Param id path string true "기여 ID"
// @Success 200 {object} common.Response{data=domain.Contribution}
// @Failure 404 {object} common.Response
// @Security BearerAuth
// @Router /contributions/{id} [get]
func (h *ContributionHandler) Get(c *gin.Context) {
	record, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	common.Success(c, record)
}

// Stats handles GET /api/v1/contributions/stats
// @Summary 상태별 기여 수
// @Tags contributions
// @Produce json
// @Success 200 {object} common.Response{data=domain.ContributionStats}
// @Failure 403 {object} common.Response
// @Security BearerAuth
// @Router /contributions/stats [get]
func (h *ContributionHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	common.Success(c, stats)
}

// Preview handles POST /api/v1/contributions/preview
// @Summary 제출 미리보기
// @Description 저장하지 않고 변경 사항과 제출될 패치를 계산합니다
// @Tags contributions
// @Accept json
// @Produce json
// @Param request body domain.PreviewContributionRequest true "편집 내용"
// @Success 200 {object} common.Response{data=service.PreviewResult}
// @Failure 400 {object} common.Response
// @Failure 404 {object} common.Response
// @Security BearerAuth
// @Router /contributions/preview [post]
func (h *ContributionHandler) Preview(c *gin.Context) {
	var req domain.PreviewContributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	result, err := h.service.Preview(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	common.Success(c, result)
}

// Approve handles PATCH /api/v1/contributions/:id/approve
// @Summary 기여 승인
// @Description 패치를 엔티티에 적용하고 승인 처리합니다
// @Tags contributions
// @Produce json
// @Param id path string true "기여 ID"
// @Success 200 {object} common.Response{data=domain.Contribution}
// @Failure 403 {object} common.Response
// @Failure 404 {object} common.Response
// @Failure 409 {object} common.Response
// @Failure 422 {object} common.Response
// @Security BearerAuth
// @Router /contributions/{id}/approve [patch]
func (h *ContributionHandler) Approve(c *gin.Context) {
	record, err := h.service.Approve(c.Request.Context(), middleware.GetActor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	common.Success(c, record)
}

// Reject handles PATCH /api/v1/contributions/:id/reject
// @Summary 기여 반려
// @Tags contributions
// @Accept json
// @Produce json
// @Param id path string true "기여 ID"
// @Param request body domain.RejectContributionRequest true "반려 사유"
// @Success 200 {object} common.Response{data=domain.Contribution}
// @Failure 400 {object} common.Response
// @Failure 404 {object} common.Response
// @Failure 409 {object} common.Response
// @Security BearerAuth
// @Router /contributions/{id}/reject [patch]
func (h *ContributionHandler) Reject(c *gin.Context) {
	var req domain.RejectContributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	record, err := h.service.Reject(c.Request.Context(), middleware.GetActor(c), c.Param("id"), req.RejectionReason)
	if err != nil {
		writeError(c, err)
		return
	}
	common.Success(c, record)
}

// Withdraw handles PATCH /api/v1/contributions/:id/withdraw
// @Summary 기여 철회
// @Tags contributions
// @Produce json
// @Param id path string true "기여 ID"
// @Success 200 {object} common.Response{data=domain.Contribution}
// @Failure 403 {object} common.Response
// @Failure 404 {object} common.Response
// @Failure 409 {object} common.Response
// @Security BearerAuth
// @Router /contributions/{id}/withdraw [patch]
func (h *ContributionHandler) Withdraw(c *gin.Context) {
	record, err := h.service.Withdraw(c.Request.Context(), middleware.GetActor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	common.Success(c, record)
}

// Catalog handles GET /api/v1/catalog/:entityType
// @Summary 필드 카탈로그
// @Description 카테고리별 편집 가능 필드와 제외 필드
// @Tags catalog
// @Produce json
// @Param entityType path string true "엔티티 타입"
// @Success 200 {object} common.Response{data=service.CatalogView}
// @Failure 400 {object} common.Response
// @Security BearerAuth
// @Router /catalog/{entityType} [get]
func (h *ContributionHandler) Catalog(c *gin.Context) {
	view, err := h.service.Catalog(c.Param("entityType"))
	if err != nil {
		writeError(c, err)
		return
	}
	common.Success(c, view)
}

// bindFailed reports a request body that could not be decoded or validated
func bindFailed(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]gin.H, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, gin.H{"field": fe.Field(), "rule": fe.Tag()})
		}
		common.ErrorResponse(c, http.StatusBadRequest, "입력값 검증에 실패했습니다", fields)
		return
	}
	common.ErrorResponse(c, http.StatusBadRequest, "잘못된 요청입니다", err.Error())
}

// writeError maps service errors to HTTP responses
func writeError(c *gin.Context, err error) {
	var (
		verr *contrib.ValidationError
		serr *contrib.InvalidStateTransitionError
		perr *contrib.PatchApplyError
	)
	switch {
	case errors.As(err, &verr):
		common.ErrorResponse(c, http.StatusBadRequest, verr.Error(), gin.H{"field": verr.Field})
	case errors.Is(err, contrib.ErrEmptyContribution):
		common.ErrorResponse(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, contrib.ErrNotFound):
		common.ErrorResponse(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, contrib.ErrForbidden):
		common.ErrorResponse(c, http.StatusForbidden, err.Error(), nil)
	case errors.As(err, &serr):
		common.ErrorResponse(c, http.StatusConflict, serr.Error(), gin.H{"from": serr.From, "to": serr.To})
	case errors.As(err, &perr):
		common.ErrorResponse(c, http.StatusUnprocessableEntity, perr.Error(), gin.H{"field": perr.Field})
	default:
		log := pkglogger.FromContext(c.Request.Context())
		log.Error().Err(err).Str("path", c.FullPath()).Msg("unhandled error")
		common.ErrorResponse(c, http.StatusInternalServerError, "서버 오류가 발생했습니다", nil)
	}
}
