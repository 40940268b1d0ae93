package handler

import (
	"net/http"
	"time"

	metrics "crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
)

// HealthCheck returns the health endpoint handler for service
func HealthCheck(service string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status":    "ok",
			"service":   service,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// MetricsHandler exposes the Prometheus registry
func MetricsHandler(c echo.Context) error {
	metrics.GetPrometheusHandler().ServeHTTP(c.Response(), c.Request())
	return nil
}
