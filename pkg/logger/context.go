package logger

import (
	"context"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const RequestIDKey = "X-Request-ID"

type contextKey string

const (
	loggerKey               = "logger"
	ctxLoggerKey contextKey = "logger"
)

// FromContext retrieves the logger from echo.Context with the request ID
func FromContext(c echo.Context) *zap.Logger {
	if logger, ok := c.Get(loggerKey).(*zap.Logger); ok {
		return logger
	}

	requestID, ok := c.Get(RequestIDKey).(string)
	if !ok {
		requestID = c.Request().Header.Get(RequestIDKey)
		if requestID == "" {
			requestID = "unknown"
		}
	}

	return GetLogger().With(zap.String("request_id", requestID))
}

// FromCtx retrieves the logger from a plain context
func FromCtx(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey).(*zap.Logger); ok {
		return logger
	}
	return GetLogger()
}

// WithCtx adds the logger to the context
func WithCtx(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey, logger)
}

// Attach stores logger in both the echo context and the request context
func Attach(c echo.Context, logger *zap.Logger) {
	c.Set(loggerKey, logger)
	c.SetRequest(c.Request().WithContext(WithCtx(c.Request().Context(), logger)))
}

// FromCtxOr returns the logger stored in ctx, or fallback when there is none
func FromCtxOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey).(*zap.Logger); ok {
		return logger
	}
	return fallback
}
