package handler

import (
	"github.com/labstack/echo/v4"
)

// Routes bundles what RegisterRoutes needs
type Routes struct {
	ServiceName   string
	Auth          *AuthHandler
	Organizations *OrganizationHandler
	// RequireSession guards bearer-authenticated routes
	RequireSession echo.MiddlewareFunc
	// Throttle limits the credential endpoints; nil disables it
	Throttle echo.MiddlewareFunc
}

// RegisterRoutes mounts the health, metrics, auth and organization routes on e
func RegisterRoutes(e *echo.Echo, r Routes) {
	// Public routes - no authentication required
	e.GET("/health", HealthCheck(r.ServiceName))
	e.GET("/metrics", MetricsHandler)

	var throttle []echo.MiddlewareFunc
	if r.Throttle != nil {
		throttle = append(throttle, r.Throttle)
	}

	auth := e.Group("/api/auth")
	auth.POST("/login", r.Auth.Login, throttle...)
	auth.POST("/register", r.Auth.Register, throttle...)
	auth.POST("/forgot-password", r.Auth.ForgotPassword, throttle...)
	auth.POST("/reset-password", r.Auth.ResetPassword, throttle...)
	auth.GET("/verify-reset-token/:token", r.Auth.VerifyResetToken)

	// Session routes
	auth.GET("/verify", r.Auth.Verify, r.RequireSession)
	auth.GET("/profile", r.Auth.GetProfile, r.RequireSession)
	auth.PATCH("/profile", r.Auth.UpdateProfile, r.RequireSession)
	auth.POST("/change-password", r.Auth.ChangePassword, r.RequireSession)
	auth.POST("/logout", r.Auth.Logout, r.RequireSession)

	org := e.Group("/api/organization", r.RequireSession)
	org.GET("", r.Organizations.Get)
	org.PATCH("", r.Organizations.Update)
}
