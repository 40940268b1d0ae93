package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"crm-auth-service/internal/service"
	"crm-auth-service/pkg/jwtutil"
	"crm-auth-service/pkg/logger"
	metrics "crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	ClaimsKey         = "claims"
	UserIDKey         = "user_id"
	OrganizationIDKey = "organization_id"
	RoleKey           = "user_role"
)

// SessionVerifier validates bearer tokens; *service.AuthService satisfies it
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (*jwtutil.UserClaims, error)
}

// AuthMiddleware requires a valid, unrevoked bearer token and stores its
// claims in the echo context
func AuthMiddleware(verifier SessionVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			// Get the Authorization header
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				log.Warn("Missing Authorization header")
				metrics.RecordAuthError("missing_token")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
			}

			// Check if it's a Bearer token
			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				log.Warn("Invalid Authorization header format")
				metrics.RecordAuthError("invalid_auth_format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
			}

			claims, err := verifier.VerifySession(c.Request().Context(), parts[1])
			if errors.Is(err, service.ErrUnauthorized) {
				log.Info("Rejected session token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": service.ErrUnauthorized.Error()})
			}
			if err != nil {
				log.Error("Failed to verify session", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": service.ErrInternal.Error()})
			}

			// Store user info in context for later use
			c.Set(ClaimsKey, claims)
			c.Set(UserIDKey, claims.UserID)
			c.Set(OrganizationIDKey, claims.OrganizationID)
			c.Set(RoleKey, claims.Role)

			logger.Attach(c, log.With(zap.String("user_id", claims.UserID)))

			return next(c)
		}
	}
}

// Claims returns the session claims stored by AuthMiddleware, or nil
func Claims(c echo.Context) *jwtutil.UserClaims {
	claims, _ := c.Get(ClaimsKey).(*jwtutil.UserClaims)
	return claims
}
