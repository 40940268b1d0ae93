package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrStale is returned when a response arrived after a newer operation
	// (or ClearAuth) had already started; the response was discarded.
	ErrStale = errors.New("session: superseded by a newer operation")
	// ErrNotAuthenticated is returned by RequireAuth for anonymous sessions
	ErrNotAuthenticated = errors.New("session: not authenticated")
)

// API is the subset of the auth API the Store needs; *Client satisfies it
type API interface {
	Login(ctx context.Context, email, password string) (*AuthResponse, error)
	Register(ctx context.Context, r RegisterRequest) (*AuthResponse, error)
	Verify(ctx context.Context, token string) (*User, error)
	Profile(ctx context.Context, token string) (*User, *Organization, error)
	Logout(ctx context.Context, token string) error
}

// State is a snapshot of the session
type State struct {
	User            *User
	Organization    *Organization
	Token           string
	IsAuthenticated bool
	IsLoading       bool
	IsInitialized   bool
}

// UserPatch is a shallow update of the cached user; nil fields are unchanged
type UserPatch struct {
	FirstName   *string
	LastName    *string
	Avatar      *string
	Preferences map[string]interface{}
}

// OrganizationPatch is a shallow update of the cached organization
type OrganizationPatch struct {
	Name     *string
	Plan     *string
	Settings map[string]interface{}
}

// Store holds the signed-in user, organization and token. Every operation
// that talks to the server takes a generation number when it starts; its
// result is applied only if no newer operation or ClearAuth began since.
type Store struct {
	api     API
	storage TokenStorage
	log     *zap.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	subs     map[chan State]struct{}
	initDone chan struct{}
	initOnce sync.Once
}

// NewStore creates an uninitialized store; call InitializeAuth once at startup
func NewStore(api API, storage TokenStorage, log *zap.Logger) *Store {
	if storage == nil {
		storage = &MemoryStorage{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		api:      api,
		storage:  storage,
		log:      log.Named("session"),
		subs:     make(map[chan State]struct{}),
		initDone: make(chan struct{}),
	}
}

// State returns a copy of the current session
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	st := s.state
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	if st.Organization != nil {
		o := *st.Organization
		st.Organization = &o
	}
	return st
}

// Subscribe delivers a snapshot after every change. Slow receivers miss
// intermediate states. Call the returned func to unsubscribe.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 8)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notifyLocked() {
	snap := s.snapshotLocked()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Store) markInitializedLocked() {
	s.state.IsInitialized = true
	s.initOnce.Do(func() { close(s.initDone) })
}

// begin starts a server-bound operation and returns its generation
func (s *Store) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.state.IsLoading = true
	s.notifyLocked()
	return s.gen
}

// fail clears the loading flag if gen is still current
func (s *Store) fail(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.state.IsLoading = false
	s.notifyLocked()
}

func (s *Store) setAuthLocked(user *User, org *Organization, token string) error {
	if err := s.storage.Save(token); err != nil {
		s.state.IsLoading = false
		s.notifyLocked()
		return err
	}
	s.state = State{
		User:            user,
		Organization:    org,
		Token:           token,
		IsAuthenticated: true,
	}
	s.markInitializedLocked()
	s.notifyLocked()
	return nil
}

func (s *Store) clearLocked() {
	if err := s.storage.Clear(); err != nil {
		s.log.Warn("Failed to remove stored token", zap.Error(err))
	}
	s.state = State{}
	s.markInitializedLocked()
	s.notifyLocked()
}

// applyAuth stores a successful login/registration unless gen is stale
func (s *Store) applyAuth(gen uint64, res *AuthResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return ErrStale
	}
	return s.setAuthLocked(res.User, res.Organization, res.Token)
}

// Login signs in. Server errors are returned unchanged.
func (s *Store) Login(ctx context.Context, email, password string) error {
	gen := s.begin()
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		s.fail(gen)
		return err
	}
	return s.applyAuth(gen, res)
}

// Register creates an account and signs in. Server errors are returned unchanged.
func (s *Store) Register(ctx context.Context, r RegisterRequest) error {
	gen := s.begin()
	res, err := s.api.Register(ctx, r)
	if err != nil {
		s.fail(gen)
		return err
	}
	return s.applyAuth(gen, res)
}

// SetAuth installs a session, persisting only the token. Operations in
// flight become stale.
func (s *Store) SetAuth(user *User, org *Organization, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.setAuthLocked(user, org, token)
}

// ClearAuth forgets the session and the stored token. IsInitialized stays
// true. Operations in flight become stale.
func (s *Store) ClearAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.clearLocked()
}

// Logout clears the session locally, then revokes the token on the server.
// A token that was persisted but never loaded is revoked too. The server
// call is best effort.
func (s *Store) Logout(ctx context.Context) {
	token := s.State().Token
	if token == "" {
		stored, err := s.storage.Load()
		if err != nil {
			s.log.Warn("Failed to read stored token", zap.Error(err))
		}
		token = stored
	}
	s.ClearAuth()
	if token == "" {
		return
	}
	if err := s.api.Logout(ctx, token); err != nil {
		s.log.Debug("Server logout failed", zap.Error(err))
	}
}

// InitializeAuth restores the session from the stored token: the token is
// verified and the profile refreshed from the server. Any failure discards
// the token. The store is initialized when this returns, whatever the
// outcome; the returned error explains a discarded token.
func (s *Store) InitializeAuth(ctx context.Context) error {
	gen := s.begin()

	token, err := s.storage.Load()
	if err != nil || token == "" {
		s.clearIfCurrent(gen)
		return err
	}

	if _, err := s.api.Verify(ctx, token); err != nil {
		s.log.Info("Stored session rejected", zap.Error(err))
		s.clearIfCurrent(gen)
		return err
	}
	user, org, err := s.api.Profile(ctx, token)
	if err != nil {
		s.log.Info("Failed to load profile for stored session", zap.Error(err))
		s.clearIfCurrent(gen)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		s.markInitializedLocked()
		s.notifyLocked()
		return ErrStale
	}
	s.state = State{
		User:            user,
		Organization:    org,
		Token:           token,
		IsAuthenticated: true,
	}
	s.markInitializedLocked()
	s.notifyLocked()
	return nil
}

func (s *Store) clearIfCurrent(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		s.markInitializedLocked()
		s.notifyLocked()
		return
	}
	s.clearLocked()
}

// UpdateUser merges patch into the cached user; it reports false when no
// user is loaded
func (s *Store) UpdateUser(patch UserPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.User == nil {
		return false
	}
	u := *s.state.User
	if patch.FirstName != nil {
		u.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		u.LastName = *patch.LastName
	}
	if patch.Avatar != nil {
		u.Avatar = *patch.Avatar
	}
	if patch.Preferences != nil {
		u.Preferences = patch.Preferences
	}
	s.state.User = &u
	s.notifyLocked()
	return true
}

// UpdateOrganization merges patch into the cached organization; it reports
// false when no organization is loaded
func (s *Store) UpdateOrganization(patch OrganizationPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Organization == nil {
		return false
	}
	o := *s.state.Organization
	if patch.Name != nil {
		o.Name = *patch.Name
	}
	if patch.Plan != nil {
		o.Plan = *patch.Plan
	}
	if patch.Settings != nil {
		o.Settings = patch.Settings
	}
	s.state.Organization = &o
	s.notifyLocked()
	return true
}

// WaitInitialized blocks until the first InitializeAuth, SetAuth or
// ClearAuth has completed
func (s *Store) WaitInitialized(ctx context.Context) error {
	select {
	case <-s.initDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequireAuth gates protected content: it waits for initialization and
// fails with ErrNotAuthenticated for anonymous sessions
func (s *Store) RequireAuth(ctx context.Context) (State, error) {
	if err := s.WaitInitialized(ctx); err != nil {
		return State{}, err
	}
	st := s.State()
	if !st.IsAuthenticated {
		return st, ErrNotAuthenticated
	}
	return st, nil
}
