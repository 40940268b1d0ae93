package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"crm-auth-service/internal/middleware"
	"crm-auth-service/internal/notifier"
	"crm-auth-service/internal/service"
	"crm-auth-service/internal/store"
	"crm-auth-service/pkg/jwtutil"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type captureMailer struct {
	mu     sync.Mutex
	resets map[string]string // email -> token
	count  int
}

func (m *captureMailer) SendPasswordResetEmail(ctx context.Context, email, token, userName string) notifier.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[email] = token
	m.count++
	return notifier.Result{Success: true}
}

func (m *captureMailer) SendWelcomeEmail(ctx context.Context, email, userName string) notifier.Result {
	return notifier.Result{Success: true}
}

func (m *captureMailer) sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *captureMailer) tokenFor(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets[email]
}

type testApp struct {
	e      *echo.Echo
	auth   *AuthHandler
	mailer *captureMailer
	now    time.Time
	mu     sync.Mutex
}

func (a *testApp) clock() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now
}

func (a *testApp) advance(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = a.now.Add(d)
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	app := &testApp{now: time.Now(), mailer: &captureMailer{resets: map[string]string{}}}
	mem := store.NewMemoryStore()

	svc, err := service.NewAuthService(service.Deps{
		Users:       mem.Users(),
		Orgs:        mem.Organizations(),
		Resets:      mem.ResetTokens(),
		Revocations: mem.Revocations(),
		Mailer:      app.mailer,
		JWT:         jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "test", Expiration: time.Hour}).WithClock(app.clock),
		BcryptCost:  bcrypt.MinCost,
		ResetTTL:    time.Hour,
		Now:         app.clock,
	})
	require.NoError(t, err)

	app.auth = NewAuthHandler(svc, time.Second)
	app.e = echo.New()
	app.e.Validator = NewRequestValidator()
	RegisterRoutes(app.e, Routes{
		ServiceName:    "crm-auth-service",
		Auth:           app.auth,
		Organizations:  NewOrganizationHandler(svc),
		RequireSession: middleware.AuthMiddleware(svc),
	})
	t.Cleanup(app.auth.Wait)
	return app
}

func (a *testApp) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(b))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

var acme = map[string]string{
	"firstName":        "A",
	"lastName":         "B",
	"email":            "a@b.com",
	"password":         "secret1",
	"organizationName": "Acme",
}

func (a *testApp) registerAcme(t *testing.T) string {
	t.Helper()
	rec, body := a.do(t, http.MethodPost, "/api/auth/register", "", acme)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["token"].(string)
}

func TestRegister_Scenario(t *testing.T) {
	app := newTestApp(t)
	rec, body := app.do(t, http.MethodPost, "/api/auth/register", "", acme)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, body["token"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "a@b.com", user["email"])
	assert.NotContains(t, rec.Body.String(), "password")
	org := body["organization"].(map[string]interface{})
	assert.Equal(t, "Acme", org["name"])

	rec, body = app.do(t, http.MethodPost, "/api/auth/register", "", acme)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, body["error"])
}

func TestLogin(t *testing.T) {
	app := newTestApp(t)
	app.registerAcme(t)

	rec, body := app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@b.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["token"])
	assert.NotContains(t, rec.Body.String(), "$2a$")

	recWrong, bodyWrong := app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@b.com", "password": "wrong-pass"})
	recUnknown, bodyUnknown := app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "x@b.com", "password": "secret1"})
	assert.Equal(t, http.StatusUnauthorized, recWrong.Code)
	assert.Equal(t, recWrong.Code, recUnknown.Code)
	assert.Equal(t, bodyWrong, bodyUnknown)
	assert.Equal(t, "Invalid credentials", bodyUnknown["error"])
}

func TestLogin_Validation(t *testing.T) {
	app := newTestApp(t)

	rec, body := app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "not-an-email", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Valid email is required", body["error"])

	rec, body = app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@b.com", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Password must be at least 6 characters", body["error"])
}

func TestForgotPassword_NonexistentEmail(t *testing.T) {
	app := newTestApp(t)
	app.registerAcme(t)

	recKnown, bodyKnown := app.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "a@b.com"})
	app.auth.Wait()
	sentForKnown := app.mailer.sent()

	recUnknown, bodyUnknown := app.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "nobody@b.com"})
	app.auth.Wait()

	assert.Equal(t, http.StatusOK, recKnown.Code)
	assert.Equal(t, http.StatusOK, recUnknown.Code)
	assert.Equal(t, bodyKnown, bodyUnknown)
	assert.Equal(t, forgotPasswordMessage, bodyUnknown["message"])
	assert.Equal(t, 1, sentForKnown)
	assert.Equal(t, 1, app.mailer.sent(), "no email for an unknown account")
}

func TestResetPassword_Twice(t *testing.T) {
	app := newTestApp(t)
	app.registerAcme(t)

	app.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "a@b.com"})
	app.auth.Wait()
	token := app.mailer.tokenFor("a@b.com")
	require.NotEmpty(t, token)

	rec, body := app.do(t, http.MethodGet, "/api/auth/verify-reset-token/"+token, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])

	reset := map[string]string{"token": token, "password": "newpass1"}
	rec, _ = app.do(t, http.MethodPost, "/api/auth/reset-password", "", reset)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = app.do(t, http.MethodPost, "/api/auth/reset-password", "", reset)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid or expired reset token", body["error"])

	rec, body = app.do(t, http.MethodGet, "/api/auth/verify-reset-token/"+token, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "Invalid or expired reset token", body["error"])

	rec, _ = app.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "a@b.com", "password": "newpass1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResetPassword_Expired(t *testing.T) {
	app := newTestApp(t)
	app.registerAcme(t)

	app.do(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "a@b.com"})
	app.auth.Wait()
	token := app.mailer.tokenFor("a@b.com")

	app.advance(61 * time.Minute)
	rec, body := app.do(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": token, "password": "newpass1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid or expired reset token", body["error"])
}

func TestSessionRoutes(t *testing.T) {
	app := newTestApp(t)
	token := app.registerAcme(t)

	rec, body := app.do(t, http.MethodGet, "/api/auth/verify", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])

	rec, body = app.do(t, http.MethodGet, "/api/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@b.com", body["user"].(map[string]interface{})["email"])
	assert.NotNil(t, body["organization"])

	rec, body = app.do(t, http.MethodPatch, "/api/auth/profile", token, map[string]interface{}{"firstName": "Ada"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ada", body["user"].(map[string]interface{})["firstName"])

	rec, body = app.do(t, http.MethodPatch, "/api/organization", token, map[string]interface{}{"currency": "EUR"})
	require.Equal(t, http.StatusOK, rec.Code)
	settings := body["organization"].(map[string]interface{})["settings"].(map[string]interface{})
	assert.Equal(t, "EUR", settings["currency"])

	rec, _ = app.do(t, http.MethodPatch, "/api/organization", token, map[string]interface{}{"currency": "EURO"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = app.do(t, http.MethodPost, "/api/auth/change-password", token, map[string]string{"currentPassword": "secret1", "newPassword": "newpass1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = app.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = app.do(t, http.MethodGet, "/api/auth/verify", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, body["error"])

	rec, _ = app.do(t, http.MethodGet, "/api/organization", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	rec, body := app.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "crm-auth-service", body["service"])
	_, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	assert.NoError(t, err)
}

func TestFieldLabel(t *testing.T) {
	assert.Equal(t, "First name", fieldLabel("firstName"))
	assert.Equal(t, "Organization name", fieldLabel("organizationName"))
	assert.Equal(t, "Email", fieldLabel("email"))
}
