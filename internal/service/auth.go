// Package service orchestrates authentication: credentials, registration,
// session tokens, password reset and the account/organization settings
// reachable from a session.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crm-auth-service/internal/model"
	"crm-auth-service/internal/notifier"
	"crm-auth-service/internal/store"
	"crm-auth-service/pkg/jwtutil"
	"crm-auth-service/pkg/logger"
	metrics "crm-auth-service/prometheus"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

const (
	minPasswordLen    = 6
	slugAttempts      = 5
	welcomeJobTimeout = 30 * time.Second
)

// Mailer sends the transactional emails of the auth flow
type Mailer interface {
	SendPasswordResetEmail(ctx context.Context, email, token, userName string) notifier.Result
	SendWelcomeEmail(ctx context.Context, email, userName string) notifier.Result
}

// Deps are the collaborators of AuthService
type Deps struct {
	Users       store.UserStore
	Orgs        store.OrganizationStore
	Resets      store.ResetTokenStore
	Revocations store.RevocationStore
	Mailer      Mailer
	JWT         *jwtutil.JWTUtil
	Logger      *zap.Logger
	BcryptCost  int
	ResetTTL    time.Duration
	Now         func() time.Time
}

// AuthService implements the auth use cases on top of the stores
type AuthService struct {
	users       store.UserStore
	orgs        store.OrganizationStore
	resets      store.ResetTokenStore
	revocations store.RevocationStore
	mailer      Mailer
	jwt         *jwtutil.JWTUtil
	log         *zap.Logger
	cost        int
	resetTTL    time.Duration
	now         func() time.Time

	// compared against for unknown emails so both login failures cost a bcrypt round
	dummyHash []byte
	wg        sync.WaitGroup
}

// AuthResult is returned by login and registration
type AuthResult struct {
	Token        string              `json:"token"`
	User         model.PublicUser    `json:"user"`
	Organization *model.Organization `json:"organization"`
}

// ProfileResult is the user and organization behind a session
type ProfileResult struct {
	User         model.PublicUser    `json:"user"`
	Organization *model.Organization `json:"organization"`
}

// RegisterInput is a new tenant with its first user
type RegisterInput struct {
	FirstName        string
	LastName         string
	Email            string
	Password         string
	OrganizationName string
}

// NewAuthService wires the service. A zero BcryptCost means bcrypt.DefaultCost,
// a zero ResetTTL means one hour.
func NewAuthService(d Deps) (*AuthService, error) {
	if d.Users == nil || d.Orgs == nil || d.Resets == nil || d.Revocations == nil {
		return nil, errors.New("auth service: stores are required")
	}
	if d.JWT == nil {
		return nil, jwtutil.ErrNotConfigured
	}
	s := &AuthService{
		users:       d.Users,
		orgs:        d.Orgs,
		resets:      d.Resets,
		revocations: d.Revocations,
		mailer:      d.Mailer,
		jwt:         d.JWT,
		log:         d.Logger,
		cost:        d.BcryptCost,
		resetTTL:    d.ResetTTL,
		now:         d.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.resetTTL <= 0 {
		s.resetTTL = time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.cost)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// logFor prefers the request-scoped logger carried by ctx
func (s *AuthService) logFor(ctx context.Context) *zap.Logger {
	return logger.FromCtxOr(ctx, s.log)
}

// Wait blocks until background jobs started by the service have finished
func (s *AuthService) Wait() {
	s.wg.Wait()
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *AuthService) issue(user *model.User, org *model.Organization) (*AuthResult, error) {
	token, _, err := s.jwt.GenerateToken(jwtutil.Subject{
		UserID:         user.ID,
		Email:          user.Email,
		OrganizationID: user.OrganizationID,
		Role:           user.Role,
	})
	if err != nil {
		metrics.RecordAuthError("token_generation_failed")
		return nil, fmt.Errorf("generate token: %w", err)
	}
	metrics.ActiveSessionsGauge.Inc()
	return &AuthResult{Token: token, User: user.Public(), Organization: org}, nil
}

// Login checks credentials and issues a session token. Unknown emails and
// wrong passwords fail with the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	metrics.LoginCounter.Inc()
	email = model.NormalizeEmail(email)
	log := s.logFor(ctx).With(zap.String("email", email))

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		log.Info("Login failed, user not found")
		metrics.RecordAuthError("user_not_found")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		log.Info("Login failed, invalid password")
		metrics.RecordAuthError("invalid_password")
		return nil, ErrInvalidCredentials
	}

	org, err := s.orgs.FindByID(ctx, user.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("find organization: %w", err)
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		log.Warn("Failed to record last login", zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	res, err := s.issue(user, org)
	if err != nil {
		return nil, err
	}
	log.Info("User logged in", zap.String("user_id", user.ID), zap.String("organization_id", org.ID))
	return res, nil
}

// Register creates an organization and its first (admin) user, then sends
// a welcome email in the background.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = model.NormalizeEmail(in.Email)
	in.OrganizationName = strings.TrimSpace(in.OrganizationName)
	if len(in.Password) < minPasswordLen {
		return nil, invalid("Password must be at least 6 characters")
	}
	if in.OrganizationName == "" {
		return nil, invalid("Organization name is required")
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	slug := slugify(in.OrganizationName)
	var user *model.User
	var org *model.Organization
	for attempt := 0; ; attempt++ {
		org = &model.Organization{
			Name:     in.OrganizationName,
			Slug:     slug,
			Plan:     model.PlanFree,
			Settings: datatypes.NewJSONType(model.DefaultOrganizationSettings()),
		}
		user = &model.User{
			Email:       in.Email,
			Password:    hash,
			FirstName:   strings.TrimSpace(in.FirstName),
			LastName:    strings.TrimSpace(in.LastName),
			Role:        model.RoleAdmin,
			Preferences: datatypes.NewJSONType(model.UserPreferences{Notifications: true}),
		}

		err = s.users.CreateWithOrganization(ctx, user, org)
		if errors.Is(err, store.ErrSlugTaken) && attempt < slugAttempts {
			slug = withSuffix(slugify(in.OrganizationName))
			continue
		}
		break
	}
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		metrics.RecordAuthError("email_taken")
		return nil, ErrEmailTaken
	case err != nil:
		return nil, fmt.Errorf("create user: %w", err)
	}

	metrics.RegisterCounter.Inc()
	s.logFor(ctx).Info("User registered",
		zap.String("user_id", user.ID),
		zap.String("email", user.Email),
		zap.String("organization_id", org.ID),
		zap.String("slug", org.Slug))

	res, err := s.issue(user, org)
	if err != nil {
		return nil, err
	}

	if s.mailer != nil {
		email, name := user.Email, user.FullName()
		s.background(ctx, welcomeJobTimeout, func(ctx context.Context) {
			if r := s.mailer.SendWelcomeEmail(ctx, email, name); !r.Success {
				s.logFor(ctx).Warn("Welcome email not delivered", zap.String("email", email), zap.String("reason", r.Error))
			}
		})
	}
	return res, nil
}

// background runs fn after the caller returns, detached from its
// cancellation but bounded by timeout.
func (s *AuthService) background(ctx context.Context, timeout time.Duration, fn func(ctx context.Context)) {
	s.wg.Add(1)
	metrics.PendingJobsGauge.Inc()
	go func() {
		defer s.wg.Done()
		defer metrics.PendingJobsGauge.Dec()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		fn(ctx)
	}()
}

// RequestPasswordReset issues a reset token for email when an account exists
// and mails the link. It never reveals to the caller whether the account
// exists; a nil error is returned for unknown emails.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	metrics.RecordPasswordReset("requested")
	email = model.NormalizeEmail(email)
	log := s.logFor(ctx).With(zap.String("email", email))

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("Password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}

	token, hash, err := model.GenerateResetToken()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	now := s.now()
	rec := &model.PasswordReset{
		TokenHash: hash,
		Email:     user.Email,
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	if err := s.resets.Save(ctx, rec); err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}
	metrics.RecordPasswordReset("issued")
	log.Info("Password reset token issued", zap.Time("expires_at", rec.ExpiresAt))

	if s.mailer == nil {
		return fmt.Errorf("%w: no mailer", ErrEmailDelivery)
	}
	if r := s.mailer.SendPasswordResetEmail(ctx, user.Email, token, user.FullName()); !r.Success {
		return fmt.Errorf("%w: %s", ErrEmailDelivery, r.Error)
	}
	return nil
}

// ResetPassword consumes a reset token and sets a new password. A token
// works at most once and never after it expires.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) error {
	if len(password) < minPasswordLen {
		return invalid("Password must be at least 6 characters")
	}
	if token == "" {
		metrics.RecordPasswordReset("rejected")
		return ErrInvalidOrExpiredToken
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return err
	}

	rec, err := s.resets.Consume(ctx, model.HashResetToken(token))
	if errors.Is(err, store.ErrNotFound) {
		metrics.RecordPasswordReset("rejected")
		return ErrInvalidOrExpiredToken
	}
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	if rec.IsExpired(s.now()) {
		metrics.RecordPasswordReset("rejected")
		s.logFor(ctx).Info("Expired reset token presented", zap.String("email", rec.Email))
		return ErrInvalidOrExpiredToken
	}

	user, err := s.users.FindByEmail(ctx, rec.Email)
	if errors.Is(err, store.ErrNotFound) {
		metrics.RecordPasswordReset("rejected")
		return ErrInvalidOrExpiredToken
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.restoreResetToken(ctx, rec)
		return fmt.Errorf("update password: %w", err)
	}

	metrics.RecordPasswordReset("completed")
	s.logFor(ctx).Info("Password reset completed", zap.String("user_id", user.ID))
	return nil
}

// restoreResetToken puts back a consumed token whose password update failed,
// so the emailed link can be used again
func (s *AuthService) restoreResetToken(ctx context.Context, rec *model.PasswordReset) {
	if rec.IsExpired(s.now()) {
		return
	}
	if err := s.resets.Save(ctx, rec); err != nil {
		s.logFor(ctx).Error("Failed to restore reset token", zap.String("email", rec.Email), zap.Error(err))
	}
}

// VerifyResetToken reports whether token is outstanding and unexpired
// without consuming it. Expired records are deleted on sight.
func (s *AuthService) VerifyResetToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidOrExpiredToken
	}
	hash := model.HashResetToken(token)
	rec, err := s.resets.Get(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidOrExpiredToken
	}
	if err != nil {
		return fmt.Errorf("get reset token: %w", err)
	}
	if rec.IsExpired(s.now()) {
		if err := s.resets.Delete(ctx, hash); err != nil {
			s.logFor(ctx).Warn("Failed to delete expired reset token", zap.Error(err))
		}
		return ErrInvalidOrExpiredToken
	}
	return nil
}

// VerifySession validates a bearer token: signature, expiry and revocation
func (s *AuthService) VerifySession(ctx context.Context, token string) (*jwtutil.UserClaims, error) {
	claims, err := s.jwt.ValidateToken(token)
	if err != nil {
		metrics.RecordAuthError("invalid_token")
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		metrics.RecordAuthError("revoked_token")
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Profile loads the user and organization behind a session
func (s *AuthService) Profile(ctx context.Context, userID string) (*ProfileResult, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	org, err := s.orgs.FindByID(ctx, user.OrganizationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find organization: %w", err)
	}
	return &ProfileResult{User: user.Public(), Organization: org}, nil
}

// UpdateProfile applies a partial profile update
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.PublicUser, error) {
	if update.FirstName != nil && strings.TrimSpace(*update.FirstName) == "" {
		return nil, invalid("First name cannot be empty")
	}
	if update.LastName != nil && strings.TrimSpace(*update.LastName) == "" {
		return nil, invalid("Last name cannot be empty")
	}
	user, err := s.users.UpdateProfile(ctx, userID, update)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	pub := user.Public()
	return &pub, nil
}

// ChangePassword replaces the password after checking the current one
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	if len(next) < minPasswordLen {
		return invalid("Password must be at least 6 characters")
	}
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(current)); err != nil {
		metrics.RecordAuthError("invalid_password")
		return invalid("Current password is incorrect")
	}
	hash, err := s.hashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.logFor(ctx).Info("Password changed", zap.String("user_id", user.ID))
	return nil
}

// Logout revokes the session token until it would have expired anyway
func (s *AuthService) Logout(ctx context.Context, claims *jwtutil.UserClaims) error {
	if claims == nil || claims.ID == "" {
		return ErrUnauthorized
	}
	expiresAt := s.now().Add(s.jwt.Expiration())
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := s.revocations.Revoke(ctx, claims.ID, expiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	metrics.ActiveSessionsGauge.Dec()
	s.logFor(ctx).Info("User logged out", zap.String("user_id", claims.UserID))
	return nil
}

// Organization loads a tenant
func (s *AuthService) Organization(ctx context.Context, orgID string) (*model.Organization, error) {
	org, err := s.orgs.FindByID(ctx, orgID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find organization: %w", err)
	}
	return org, nil
}

// UpdateOrganization applies a partial settings update; admins only
func (s *AuthService) UpdateOrganization(ctx context.Context, claims *jwtutil.UserClaims, update model.OrganizationUpdate) (*model.Organization, error) {
	if claims.Role != model.RoleAdmin {
		return nil, ErrForbidden
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, invalid("Organization name cannot be empty")
	}
	org, err := s.orgs.Update(ctx, claims.OrganizationID, update)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update organization: %w", err)
	}
	s.logFor(ctx).Info("Organization updated", zap.String("organization_id", org.ID), zap.String("user_id", claims.UserID))
	return org, nil
}

// SweepExpiredResetTokens removes reset tokens past their expiry
func (s *AuthService) SweepExpiredResetTokens(ctx context.Context) (int64, error) {
	n, err := s.resets.DeleteExpired(ctx, s.now())
	if err != nil {
		return n, fmt.Errorf("delete expired reset tokens: %w", err)
	}
	metrics.SweptTokensCounter.Add(float64(n))
	return n, nil
}
