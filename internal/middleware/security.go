package middleware

import (
	"net/http"
	"strings"

	"github.com/damoang/angple-contrib/internal/common"
	"github.com/gin-gonic/gin"
)

// SecurityHeaders adds common security headers to all responses
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// HSTS (only in production)
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// InputSanitizer blocks requests with common XSS/injection patterns in query parameters
func InputSanitizer() gin.HandlerFunc {
	dangerousPatterns := []string{
		"<script",
		"javascript:",
		"onerror=",
		"onload=",
		"eval(",
		"document.cookie",
	}

	return func(c *gin.Context) {
		for _, values := range c.Request.URL.Query() {
			for _, v := range values {
				lower := strings.ToLower(v)
				for _, pattern := range dangerousPatterns {
					if strings.Contains(lower, pattern) {
						common.AbortWithError(c, http.StatusBadRequest, "Potentially dangerous input detected", nil)
						return
					}
				}
			}
		}
		c.Next()
	}
}
