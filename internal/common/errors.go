package common

import "errors"

// Request-level errors raised before the service is reached
var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("expired token")
	ErrInsufficientLevel = errors.New("insufficient member level")
)
