package middleware

import (
	"net/http"

	"github.com/damoang/angple-contrib/internal/common"
	"github.com/gin-gonic/gin"
)

// RequireLevel checks that the authenticated user has at least minLevel.
// Review routes use the configured reviewer level.
func RequireLevel(minLevel int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUserLevel(c) < minLevel {
			common.AbortWithError(c, http.StatusForbidden, "검토 권한이 필요합니다", common.ErrInsufficientLevel.Error())
			return
		}
		c.Next()
	}
}
