package routes

import (
	"github.com/damoang/angple-contrib/internal/config"
	"github.com/damoang/angple-contrib/internal/handler"
	"github.com/damoang/angple-contrib/internal/middleware"
	"github.com/damoang/angple-contrib/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Setup configures all API routes. redisClient may be nil (no rate limiting)
// and feedHandler may be nil (no live feed).
func Setup(
	router *gin.Engine,
	contributionHandler *handler.ContributionHandler,
	feedHandler *handler.FeedHandler,
	jwtManager *jwt.Manager,
	redisClient *redis.Client,
	cfg *config.Config,
) {
	api := router.Group("/api/v1", middleware.JWTAuth(jwtManager))
	reviewer := middleware.RequireLevel(cfg.Contribution.ReviewerLevel)

	// Contributions (기여)
	contributions := api.Group("/contributions")
	{
		contributions.POST("",
			middleware.RateLimitPerUser(redisClient, cfg.Contribution.SubmitRateLimit, cfg.Contribution.SubmitWindow()),
			contributionHandler.Submit)
		contributions.GET("", contributionHandler.List)
		contributions.GET("/mine", contributionHandler.Mine)
		contributions.GET("/stats", reviewer, contributionHandler.Stats) // 검토자
		contributions.POST("/preview", contributionHandler.Preview)
		if feedHandler != nil {
			contributions.GET("/feed", feedHandler.Connect)
		}
		contributions.GET("/:id", contributionHandler.Get)

		// 검토 (검토자 레벨 이상)
		contributions.PATCH("/:id/approve", reviewer, contributionHandler.Approve)
		contributions.PATCH("/:id/reject", reviewer, contributionHandler.Reject)

		// 기여자 본인
		contributions.PATCH("/:id/withdraw", contributionHandler.Withdraw)
	}

	// Field catalog
	api.GET("/catalog/:entityType", contributionHandler.Catalog)
}
