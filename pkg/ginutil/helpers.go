package ginutil

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// QueryInt extracts an integer from query parameters with default value
func QueryInt(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// PageParams reads page and limit query parameters. Bounds are enforced by
// the service.
func PageParams(c *gin.Context) (page, limit int) {
	return QueryInt(c, "page", 1), QueryInt(c, "limit", 20)
}
