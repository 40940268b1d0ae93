package handler

import (
	"errors"
	"net/http"

	"crm-auth-service/internal/service"
	"crm-auth-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// bindAndValidate decodes the JSON body into req and validates it; on
// failure the 400 response has already been written and ok is false.
func bindAndValidate(c echo.Context, req interface{}) (ok bool, err error) {
	if err := c.Bind(req); err != nil {
		logger.FromContext(c).Warn("Failed to parse request", zap.Error(err))
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": validationMessage(err)})
	}
	return true, nil
}

// respondError maps service errors to status codes; unknown errors are
// logged and hidden behind a generic 500.
func respondError(c echo.Context, err error) error {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Message})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": service.ErrInvalidCredentials.Error()})
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": service.ErrInvalidOrExpiredToken.Error()})
	case errors.Is(err, service.ErrEmailTaken):
		return c.JSON(http.StatusConflict, echo.Map{"error": service.ErrEmailTaken.Error()})
	case errors.Is(err, service.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": service.ErrUnauthorized.Error()})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": service.ErrForbidden.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "Resource not found"})
	default:
		logger.FromContext(c).Error("Unexpected error", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": service.ErrInternal.Error()})
	}
}
