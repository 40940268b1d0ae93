package store

import (
	"context"
	"sync"
	"time"

	"crm-auth-service/internal/model"

	"github.com/google/uuid"
)

// MemoryStore implements UserStore, OrganizationStore, ResetTokenStore and
// RevocationStore on maps guarded by a single mutex.
type MemoryStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	users   map[string]*model.User // by id
	byEmail map[string]string      // email -> id
	orgs    map[string]*model.Organization
	slugs   map[string]string
	resets  map[string]*model.PasswordReset
	revoked map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		users:   make(map[string]*model.User),
		byEmail: make(map[string]string),
		orgs:    make(map[string]*model.Organization),
		slugs:   make(map[string]string),
		resets:  make(map[string]*model.PasswordReset),
		revoked: make(map[string]time.Time),
	}
}

// Users returns the store as a UserStore
func (m *MemoryStore) Users() UserStore { return memoryUsers{m} }

// Organizations returns the store as an OrganizationStore
func (m *MemoryStore) Organizations() OrganizationStore { return memoryOrgs{m} }

// ResetTokens returns the store as a ResetTokenStore
func (m *MemoryStore) ResetTokens() ResetTokenStore { return memoryResets{m} }

// Revocations returns the store as a RevocationStore
func (m *MemoryStore) Revocations() RevocationStore { return memoryRevocations{m} }

type memoryUsers struct{ m *MemoryStore }

func (s memoryUsers) CreateWithOrganization(ctx context.Context, user *model.User, org *model.Organization) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	email := model.NormalizeEmail(user.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrEmailTaken
	}
	if _, ok := m.slugs[org.Slug]; ok {
		return ErrSlugTaken
	}

	now := m.now()
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	org.CreatedAt, org.UpdatedAt = now, now

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = email
	user.OrganizationID = org.ID
	user.CreatedAt, user.UpdatedAt = now, now

	o := *org
	u := *user
	m.orgs[o.ID] = &o
	m.slugs[o.Slug] = o.ID
	m.users[u.ID] = &u
	m.byEmail[email] = u.ID
	return nil
}

func (s memoryUsers) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	m := s.m
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[model.NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := *m.users[id]
	return &u, nil
}

func (s memoryUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	m := s.m
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s memoryUsers) UpdatePassword(ctx context.Context, id, hash string) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Password = hash
	u.UpdatedAt = m.now()
	return nil
}

func (s memoryUsers) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	update.Apply(u)
	u.UpdatedAt = m.now()
	cp := *u
	return &cp, nil
}

func (s memoryUsers) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

type memoryOrgs struct{ m *MemoryStore }

func (s memoryOrgs) FindByID(ctx context.Context, id string) (*model.Organization, error) {
	m := s.m
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s memoryOrgs) Update(ctx context.Context, id string, update model.OrganizationUpdate) (*model.Organization, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	update.Apply(o)
	o.UpdatedAt = m.now()
	cp := *o
	return &cp, nil
}

type memoryResets struct{ m *MemoryStore }

func (s memoryResets) Save(ctx context.Context, rec *model.PasswordReset) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for hash, r := range m.resets {
		if r.Email == rec.Email {
			delete(m.resets, hash)
		}
	}
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.resets[cp.TokenHash] = &cp
	return nil
}

func (s memoryResets) Get(ctx context.Context, hash string) (*model.PasswordReset, error) {
	m := s.m
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.resets[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s memoryResets) Consume(ctx context.Context, hash string) (*model.PasswordReset, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.resets[hash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.resets, hash)
	return r, nil
}

func (s memoryResets) Delete(ctx context.Context, hash string) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.resets, hash)
	return nil
}

func (s memoryResets) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for hash, r := range m.resets {
		if r.IsExpired(now) {
			delete(m.resets, hash)
			n++
		}
	}
	for jti, exp := range m.revoked {
		if !now.Before(exp) {
			delete(m.revoked, jti)
		}
	}
	return n, nil
}

type memoryRevocations struct{ m *MemoryStore }

func (s memoryRevocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	m.revoked[jti] = expiresAt
	return nil
}

func (s memoryRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	m := s.m
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.revoked[jti]
	return ok && m.now().Before(exp), nil
}
