package middleware

import (
	"crm-auth-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const RequestIDKey = logger.RequestIDKey

// RequestIDMiddleware propagates the caller's X-Request-ID or assigns a new one
func RequestIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get(RequestIDKey)
		if requestID == "" {
			requestID = uuid.New().String()
			c.Request().Header.Set(RequestIDKey, requestID)
		}
		c.Set(RequestIDKey, requestID)
		c.Response().Header().Set(RequestIDKey, requestID)
		return next(c)
	}
}
