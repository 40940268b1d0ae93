package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Login counters
	LoginCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_auth_login_total",
			Help: "Total number of login attempts",
		},
	)

	// Registration counters
	RegisterCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_auth_register_total",
			Help: "Total number of user registrations",
		},
	)

	// Password reset lifecycle counter
	PasswordResetCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_auth_password_reset_total",
			Help: "Password reset events by stage",
		},
		[]string{"stage"}, // requested, issued, completed, rejected
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_auth_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"type"},
	)

	// Outbound email counter
	EmailCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_auth_emails_total",
			Help: "Transactional emails by template and result",
		},
		[]string{"template", "result"}, // result: sent, failed, skipped
	)

	// Expired reset tokens removed by the sweeper
	SweptTokensCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_auth_reset_tokens_swept_total",
			Help: "Expired password reset tokens removed by the sweeper",
		},
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_auth_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_auth_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // query, insert, update, delete
	)
)

// Gauge metrics
var (
	// Sessions issued minus sessions logged out since start
	ActiveSessionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crm_auth_active_sessions",
			Help: "Sessions issued minus sessions logged out since process start",
		},
	)

	// Background jobs (mail delivery) still running
	PendingJobsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crm_auth_pending_jobs",
			Help: "Background jobs started after a response was sent and not yet finished",
		},
	)

	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crm_auth_info",
			Help: "Information about the authentication service",
		},
		[]string{"version"},
	)
)

func init() {
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(RegisterCounter)
	prometheus.MustRegister(PasswordResetCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(EmailCounter)
	prometheus.MustRegister(SweptTokensCounter)

	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)

	prometheus.MustRegister(ActiveSessionsGauge)
	prometheus.MustRegister(PendingJobsGauge)
	prometheus.MustRegister(InfoGauge)

	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations; use as
// defer TrackDBOperation("query")()
func TrackDBOperation(operation string) func() {
	startTime := time.Now()
	return func() {
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(time.Since(startTime).Seconds())
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}

// RecordAuthError records an authentication error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordPasswordReset records a password reset lifecycle stage
func RecordPasswordReset(stage string) {
	PasswordResetCounter.With(prometheus.Labels{"stage": stage}).Inc()
}

// RecordEmail records the outcome of a transactional email
func RecordEmail(template, result string) {
	EmailCounter.With(prometheus.Labels{"template": template, "result": result}).Inc()
}
