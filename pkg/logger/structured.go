package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var zlog = zerolog.New(os.Stdout).With().Timestamp().Str("service", "angple-contrib").Logger()

// InitStructured initializes the structured zerolog logger.
// level is a zerolog level name; an empty or unknown name means info.
func InitStructured(env, level string) {
	var w io.Writer

	if env == "development" || env == "dev" || env == "local" {
		// Pretty console output for development
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	} else {
		// JSON output for production (machine-readable)
		w = os.Stdout
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	zlog = zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", "angple-contrib").
		Logger()

	zerolog.TimeFieldFormat = time.RFC3339
}

// SetOutput replaces the logger writer (tests)
func SetOutput(w io.Writer) {
	zlog = zlog.Output(w)
}

// GetLogger returns the global zerolog logger
func GetLogger() *zerolog.Logger {
	return &zlog
}

// WithRequestID returns a logger with request_id field
func WithRequestID(requestID string) zerolog.Logger {
	return zlog.With().Str("request_id", requestID).Logger()
}

// Info logs a printf-style message at info level (bootstrap code)
func Info(format string, args ...interface{}) {
	zlog.Info().Msg(fmt.Sprintf(format, args...))
}

// Warn logs a printf-style message at warn level
func Warn(format string, args ...interface{}) {
	zlog.Warn().Msg(fmt.Sprintf(format, args...))
}

// Error logs a printf-style message at error level
func Error(format string, args ...interface{}) {
	zlog.Error().Msg(fmt.Sprintf(format, args...))
}
