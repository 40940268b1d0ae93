package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"crm-auth-service/internal/middleware"
	"crm-auth-service/internal/model"
	"crm-auth-service/internal/service"
	"crm-auth-service/pkg/logger"
	metrics "crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const forgotPasswordMessage = "If an account with that email exists, a password reset link has been sent."

// AuthHandler serves /api/auth
type AuthHandler struct {
	svc        *service.AuthService
	jobTimeout time.Duration
	wg         sync.WaitGroup
}

// NewAuthHandler creates the handler; jobTimeout bounds each background
// password-reset job.
func NewAuthHandler(svc *service.AuthService, jobTimeout time.Duration) *AuthHandler {
	if jobTimeout <= 0 {
		jobTimeout = 15 * time.Second
	}
	return &AuthHandler{svc: svc, jobTimeout: jobTimeout}
}

// Wait blocks until background jobs started by handlers and the service finish
func (h *AuthHandler) Wait() {
	h.wg.Wait()
	h.svc.Wait()
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type registerRequest struct {
	FirstName        string `json:"firstName" validate:"required,max=100"`
	LastName         string `json:"lastName" validate:"required,max=100"`
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required,min=6"`
	OrganizationName string `json:"organizationName" validate:"required,max=150"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6"`
}

type updateProfileRequest struct {
	FirstName   *string                `json:"firstName" validate:"omitempty,min=1,max=100"`
	LastName    *string                `json:"lastName" validate:"omitempty,min=1,max=100"`
	Avatar      *string                `json:"avatar" validate:"omitempty,url"`
	Preferences *model.UserPreferences `json:"preferences"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	res, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	res, err := h.svc.Register(c.Request().Context(), service.RegisterInput{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Email:            req.Email,
		Password:         req.Password,
		OrganizationName: req.OrganizationName,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// ForgotPassword handles POST /api/auth/forgot-password. The generic
// response is written before the account lookup starts, so neither the
// body nor the latency depends on whether the email is registered.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotPasswordRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	log := logger.FromContext(c)
	ctx := logger.WithCtx(context.WithoutCancel(c.Request().Context()), log)
	respErr := c.JSON(http.StatusOK, echo.Map{"message": forgotPasswordMessage})

	h.wg.Add(1)
	metrics.PendingJobsGauge.Inc()
	go func() {
		defer h.wg.Done()
		defer metrics.PendingJobsGauge.Dec()

		ctx, cancel := context.WithTimeout(ctx, h.jobTimeout)
		defer cancel()

		err := h.svc.RequestPasswordReset(ctx, req.Email)
		switch {
		case errors.Is(err, service.ErrEmailDelivery):
			log.Warn("Password reset email not delivered", zap.Error(err))
		case err != nil:
			log.Error("Password reset request failed", zap.Error(err))
		}
	}()

	return respErr
}

// ResetPassword handles POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	if err := h.svc.ResetPassword(c.Request().Context(), req.Token, req.Password); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password has been reset successfully"})
}

// VerifyResetToken handles GET /api/auth/verify-reset-token/:token
func (h *AuthHandler) VerifyResetToken(c echo.Context) error {
	err := h.svc.VerifyResetToken(c.Request().Context(), c.Param("token"))
	if errors.Is(err, service.ErrInvalidOrExpiredToken) {
		return c.JSON(http.StatusBadRequest, echo.Map{"valid": false, "error": err.Error()})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": true})
}

// Verify handles GET /api/auth/verify
func (h *AuthHandler) Verify(c echo.Context) error {
	claims := middleware.Claims(c)
	profile, err := h.svc.Profile(c.Request().Context(), claims.UserID)
	if errors.Is(err, service.ErrNotFound) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "User not found"})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": true, "user": profile.User})
}

// GetProfile handles GET /api/auth/profile
func (h *AuthHandler) GetProfile(c echo.Context) error {
	claims := middleware.Claims(c)
	profile, err := h.svc.Profile(c.Request().Context(), claims.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}

// UpdateProfile handles PATCH /api/auth/profile
func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	var req updateProfileRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	claims := middleware.Claims(c)
	user, err := h.svc.UpdateProfile(c.Request().Context(), claims.UserID, model.ProfileUpdate{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Avatar:      req.Avatar,
		Preferences: req.Preferences,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": user})
}

// ChangePassword handles POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	claims := middleware.Claims(c)
	if err := h.svc.ChangePassword(c.Request().Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password changed successfully"})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(c echo.Context) error {
	if err := h.svc.Logout(c.Request().Context(), middleware.Claims(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Logged out successfully"})
}
