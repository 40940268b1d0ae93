// Package session is the client side of the auth API: an HTTP client, a
// persisted token, and a Store that tracks who is signed in.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// User is the public user projection returned by the server
type User struct {
	ID             string                 `json:"id"`
	Email          string                 `json:"email"`
	FirstName      string                 `json:"firstName"`
	LastName       string                 `json:"lastName"`
	OrganizationID string                 `json:"organizationId"`
	Role           string                 `json:"role"`
	Preferences    map[string]interface{} `json:"preferences,omitempty"`
	Avatar         string                 `json:"avatar,omitempty"`
	LastLoginAt    *time.Time             `json:"lastLoginAt,omitempty"`
}

// Organization is the tenant of the signed-in user
type Organization struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Slug      string                 `json:"slug"`
	Plan      string                 `json:"plan"`
	Settings  map[string]interface{} `json:"settings,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// AuthResponse is returned by login and registration
type AuthResponse struct {
	Token        string        `json:"token"`
	User         *User         `json:"user"`
	Organization *Organization `json:"organization"`
}

// RegisterRequest creates a tenant and its first user
type RegisterRequest struct {
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	OrganizationName string `json:"organizationName"`
}

// APIError is a non-2xx response. Error returns the server's message
// unchanged so callers can match on it.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Client calls the auth API
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client whose every request is bounded by timeout
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err != nil || errResp.Error == "" {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Login exchanges credentials for a session token
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var out AuthResponse
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns its first session
func (c *Client) Register(ctx context.Context, r RegisterRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", "", r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify checks a session token and returns its user
func (c *Client) Verify(ctx context.Context, token string) (*User, error) {
	var out struct {
		Valid bool  `json:"valid"`
		User  *User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/verify", token, nil, &out); err != nil {
		return nil, err
	}
	if !out.Valid {
		return nil, &APIError{Status: http.StatusUnauthorized, Message: "invalid or expired token"}
	}
	return out.User, nil
}

// Profile fetches the user and organization behind a session token
func (c *Client) Profile(ctx context.Context, token string) (*User, *Organization, error) {
	var out struct {
		User         *User         `json:"user"`
		Organization *Organization `json:"organization"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/profile", token, nil, &out); err != nil {
		return nil, nil, err
	}
	return out.User, out.Organization, nil
}

// Logout revokes a session token on the server
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// ForgotPassword asks for a reset link; the reply is the same whether or not the account exists
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	var out messageResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": email}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// ResetPassword sets a new password with a reset token
func (c *Client) ResetPassword(ctx context.Context, resetToken, password string) (string, error) {
	var out messageResponse
	in := map[string]string{"token": resetToken, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/reset-password", "", in, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// VerifyResetToken reports whether a reset token can still be used
func (c *Client) VerifyResetToken(ctx context.Context, resetToken string) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	err := c.do(ctx, http.MethodGet, "/api/auth/verify-reset-token/"+url.PathEscape(resetToken), "", nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out.Valid, nil
}
