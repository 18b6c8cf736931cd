package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/damoang/angple-contrib/internal/common"
	"github.com/damoang/angple-contrib/internal/domain"
	"github.com/damoang/angple-contrib/pkg/jwt"
	"github.com/gin-gonic/gin"
)

// JWTAuth JWT authentication middleware
func JWTAuth(jwtManager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Extract Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			common.AbortWithError(c, http.StatusUnauthorized, "Missing authorization header", nil)
			return
		}

		// 2. Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			common.AbortWithError(c, http.StatusUnauthorized, "Invalid authorization header format", nil)
			return
		}

		// 3. Verify token
		claims, err := jwtManager.VerifyToken(parts[1])
		if err != nil {
			if errors.Is(err, jwt.ErrExpiredToken) {
				common.AbortWithError(c, http.StatusUnauthorized, "Token expired", common.ErrExpiredToken.Error())
			} else {
				common.AbortWithError(c, http.StatusUnauthorized, "Invalid token", common.ErrInvalidToken.Error())
			}
			return
		}

		// 4. Store user info in context
		c.Set("userID", claims.UserID)
		c.Set("nickname", claims.Nickname)
		c.Set("level", claims.Level)

		c.Next()
	}
}

// GetUserID extracts user ID from context
func GetUserID(c *gin.Context) string {
	userID, exists := c.Get("userID")
	if !exists {
		return ""
	}
	if str, ok := userID.(string); ok {
		return str
	}
	return ""
}

// GetUserLevel extracts user level from context
func GetUserLevel(c *gin.Context) int {
	level, exists := c.Get("level")
	if !exists {
		return 0
	}
	if lvl, ok := level.(int); ok {
		return lvl
	}
	return 0
}

// GetActor returns the authenticated caller
func GetActor(c *gin.Context) domain.Actor {
	return domain.Actor{UserID: GetUserID(c), Level: GetUserLevel(c)}
}
