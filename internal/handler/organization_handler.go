package handler

import (
	"net/http"

	"crm-auth-service/internal/middleware"
	"crm-auth-service/internal/model"
	"crm-auth-service/internal/service"

	"github.com/labstack/echo/v4"
)

// OrganizationHandler serves /api/organization for the caller's tenant
type OrganizationHandler struct {
	svc *service.AuthService
}

func NewOrganizationHandler(svc *service.AuthService) *OrganizationHandler {
	return &OrganizationHandler{svc: svc}
}

type updateOrganizationRequest struct {
	Name       *string  `json:"name" validate:"omitempty,min=1,max=150"`
	Currency   *string  `json:"currency" validate:"omitempty,len=3"`
	Timezone   *string  `json:"timezone" validate:"omitempty,max=64"`
	DateFormat *string  `json:"dateFormat" validate:"omitempty,max=32"`
	Industry   *string  `json:"industry" validate:"omitempty,max=100"`
	Features   []string `json:"features" validate:"omitempty,dive,min=1,max=50"`
}

// Get handles GET /api/organization
func (h *OrganizationHandler) Get(c echo.Context) error {
	claims := middleware.Claims(c)
	org, err := h.svc.Organization(c.Request().Context(), claims.OrganizationID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"organization": org})
}

// Update handles PATCH /api/organization
func (h *OrganizationHandler) Update(c echo.Context) error {
	var req updateOrganizationRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	org, err := h.svc.UpdateOrganization(c.Request().Context(), middleware.Claims(c), model.OrganizationUpdate{
		Name:       req.Name,
		Currency:   req.Currency,
		Timezone:   req.Timezone,
		DateFormat: req.DateFormat,
		Industry:   req.Industry,
		Features:   req.Features,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"organization": org})
}
