package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response API 표준 응답 형식
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// Meta 페이지네이션 메타
type Meta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

// ErrorInfo error details
type ErrorInfo struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// NewMeta creates Meta with computed totalPages
func NewMeta(page, limit int, total int64) *Meta {
	var totalPages int64
	if limit > 0 {
		totalPages = total / int64(limit)
		if total%int64(limit) > 0 {
			totalPages++
		}
	}
	return &Meta{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

// Success returns a success response
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// SuccessWithMeta returns a success response with pagination
func SuccessWithMeta(c *gin.Context, data interface{}, meta *Meta) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

// Created returns a 201 Created response
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// ErrorResponse returns an error response. details may be nil.
func ErrorResponse(c *gin.Context, status int, message string, details interface{}) {
	c.JSON(status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    getErrorCode(status),
			Message: message,
			Details: details,
		},
	})
}

// AbortWithError writes an error response and stops the handler chain
func AbortWithError(c *gin.Context, status int, message string, details interface{}) {
	ErrorResponse(c, status, message, details)
	c.Abort()
}

// getErrorCode generates error code from HTTP status
func getErrorCode(status int) string {
	switch status {
	case 400:
		return "BAD_REQUEST"
	case 401:
		return "UNAUTHORIZED"
	case 403:
		return "FORBIDDEN"
	case 404:
		return "NOT_FOUND"
	case 409:
		return "CONFLICT"
	case 422:
		return "UNPROCESSABLE_ENTITY"
	case 429:
		return "TOO_MANY_REQUESTS"
	case 500:
		return "INTERNAL_SERVER_ERROR"
	default:
		return "ERROR"
	}
}
