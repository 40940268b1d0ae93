package jwtutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var (
	ErrNotConfigured = errors.New("JWT configuration not provided")
	ErrInvalidToken  = errors.New("invalid token")
)

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey string
	Expiration time.Duration
}

// Subject is the identity a session token is issued for
type Subject struct {
	UserID         string
	Email          string
	OrganizationID string
	Role           string
}

// UserClaims represents the JWT claims for user authentication
type UserClaims struct {
	Email          string `json:"email"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id,omitempty"`
	Role           string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTUtil is a utility for JWT token operations
type JWTUtil struct {
	config *JWTConfig
	now    func() time.Time
}

// NewJWTUtil creates a new JWT utility with the given configuration
func NewJWTUtil(config *JWTConfig) *JWTUtil {
	return &JWTUtil{config: config, now: time.Now}
}

// WithClock returns a copy of the utility that reads time from now.
func (j *JWTUtil) WithClock(now func() time.Time) *JWTUtil {
	return &JWTUtil{config: j.config, now: now}
}

// Expiration returns the configured token lifetime
func (j *JWTUtil) Expiration() time.Duration {
	if j.config == nil {
		return 0
	}
	return j.config.Expiration
}

// GenerateToken creates a signed token for the subject
func (j *JWTUtil) GenerateToken(s Subject) (string, *UserClaims, error) {
	if j.config == nil || j.config.SigningKey == "" {
		return "", nil, ErrNotConfigured
	}

	now := j.now()
	claims := &UserClaims{
		Email:          s.Email,
		UserID:         s.UserID,
		OrganizationID: s.OrganizationID,
		Role:           s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.Expiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(j.config.SigningKey))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ValidateToken validates and parses the JWT token
func (j *JWTUtil) ValidateToken(tokenString string) (*UserClaims, error) {
	if j.config == nil || j.config.SigningKey == "" {
		return nil, ErrNotConfigured
	}

	// expiry is checked against j.now below rather than the package-level jwt.TimeFunc
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(
		tokenString,
		&UserClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(j.config.SigningKey), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(j.now(), true) {
		return nil, fmt.Errorf("%w: token is expired", ErrInvalidToken)
	}
	return claims, nil
}
