package session

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu        sync.Mutex
	login     func(ctx context.Context, email, password string) (*AuthResponse, error)
	verifyErr error
	user      *User
	org       *Organization
	logouts   []string
}

func (f *fakeAPI) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	return f.login(ctx, email, password)
}

func (f *fakeAPI) Register(ctx context.Context, r RegisterRequest) (*AuthResponse, error) {
	return f.login(ctx, r.Email, r.Password)
}

func (f *fakeAPI) Verify(ctx context.Context, token string) (*User, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.user, nil
}

func (f *fakeAPI) Profile(ctx context.Context, token string) (*User, *Organization, error) {
	return f.user, f.org, nil
}

func (f *fakeAPI) Logout(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, token)
	return nil
}

func okLogin(ctx context.Context, email, password string) (*AuthResponse, error) {
	return &AuthResponse{
		Token:        "tok-" + email,
		User:         &User{ID: "u1", Email: email, FirstName: "A"},
		Organization: &Organization{ID: "o1", Name: "Acme"},
	}, nil
}

type failingStorage struct {
	MemoryStorage
	saveErr error
}

func (f *failingStorage) Save(token string) error {
	return f.saveErr
}

func TestInitializeAuth_NoToken(t *testing.T) {
	s := NewStore(&fakeAPI{}, &MemoryStorage{}, nil)
	require.NoError(t, s.InitializeAuth(context.Background()))

	st := s.State()
	assert.False(t, st.IsAuthenticated)
	assert.True(t, st.IsInitialized)
	assert.False(t, st.IsLoading)
}

func TestInitializeAuth_RejectedToken(t *testing.T) {
	storage := &MemoryStorage{}
	require.NoError(t, storage.Save("old"))
	api := &fakeAPI{verifyErr: &APIError{Status: http.StatusUnauthorized, Message: "invalid or expired token"}}
	s := NewStore(api, storage, nil)

	err := s.InitializeAuth(context.Background())
	assert.Error(t, err)

	st := s.State()
	assert.False(t, st.IsAuthenticated)
	assert.True(t, st.IsInitialized)
	token, _ := storage.Load()
	assert.Empty(t, token, "rejected token must be discarded")
}

func TestInitializeAuth_RestoresSession(t *testing.T) {
	storage := &MemoryStorage{}
	require.NoError(t, storage.Save("good"))
	api := &fakeAPI{user: &User{ID: "u1"}, org: &Organization{ID: "o1"}}
	s := NewStore(api, storage, nil)

	require.NoError(t, s.InitializeAuth(context.Background()))
	st, err := s.RequireAuth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good", st.Token)
	assert.Equal(t, "u1", st.User.ID)
	assert.Equal(t, "o1", st.Organization.ID)
}

func TestSetAuthThenLogout_ReturnsToInitialShape(t *testing.T) {
	storage := &MemoryStorage{}
	api := &fakeAPI{}
	s := NewStore(api, storage, nil)
	initial := s.State()

	require.NoError(t, s.SetAuth(&User{ID: "u1"}, &Organization{ID: "o1"}, "tok"))
	token, _ := storage.Load()
	assert.Equal(t, "tok", token)
	assert.True(t, s.State().IsAuthenticated)

	s.Logout(context.Background())

	want := initial
	want.IsInitialized = true
	assert.Equal(t, want, s.State())
	token, _ = storage.Load()
	assert.Empty(t, token)
	assert.Equal(t, []string{"tok"}, api.logouts)
}

func TestLogin_ServerErrorReturnedUnchanged(t *testing.T) {
	apiErr := &APIError{Status: http.StatusUnauthorized, Message: "Invalid credentials"}
	api := &fakeAPI{login: func(ctx context.Context, email, password string) (*AuthResponse, error) {
		return nil, apiErr
	}}
	s := NewStore(api, nil, nil)

	err := s.Login(context.Background(), "a@b.com", "wrong")
	assert.Same(t, apiErr, err)
	assert.Equal(t, "Invalid credentials", err.Error())
	assert.False(t, s.State().IsLoading)
	assert.False(t, s.State().IsAuthenticated)
}

func TestLogin_LateResponseAfterClearIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	api := &fakeAPI{login: func(ctx context.Context, email, password string) (*AuthResponse, error) {
		close(started)
		<-release
		return okLogin(ctx, email, password)
	}}
	storage := &MemoryStorage{}
	s := NewStore(api, storage, nil)

	errc := make(chan error, 1)
	go func() { errc <- s.Login(context.Background(), "a@b.com", "secret1") }()

	<-started
	s.ClearAuth()
	close(release)

	assert.ErrorIs(t, <-errc, ErrStale)
	st := s.State()
	assert.False(t, st.IsAuthenticated)
	assert.True(t, st.IsInitialized)
	token, _ := storage.Load()
	assert.Empty(t, token)
}

func TestLogin_NewerCallWins(t *testing.T) {
	releaseFirst := make(chan struct{})
	firstStarted := make(chan struct{})
	api := &fakeAPI{login: func(ctx context.Context, email, password string) (*AuthResponse, error) {
		if email == "first@b.com" {
			close(firstStarted)
			<-releaseFirst
		}
		return okLogin(ctx, email, password)
	}}
	s := NewStore(api, nil, nil)

	errc := make(chan error, 1)
	go func() { errc <- s.Login(context.Background(), "first@b.com", "secret1") }()
	<-firstStarted

	require.NoError(t, s.Login(context.Background(), "second@b.com", "secret1"))
	close(releaseFirst)

	assert.ErrorIs(t, <-errc, ErrStale)
	assert.Equal(t, "second@b.com", s.State().User.Email)
}

func TestRequireAuth_WaitsForInitialization(t *testing.T) {
	s := NewStore(&fakeAPI{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.RequireAuth(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		_, err := s.RequireAuth(context.Background())
		done <- err
	}()
	require.NoError(t, s.InitializeAuth(context.Background()))
	assert.ErrorIs(t, <-done, ErrNotAuthenticated)
}

func TestUpdateUserAndOrganization(t *testing.T) {
	s := NewStore(&fakeAPI{}, nil, nil)
	name := "Ada"
	assert.False(t, s.UpdateUser(UserPatch{FirstName: &name}), "no-op without a user")
	assert.False(t, s.UpdateOrganization(OrganizationPatch{Name: &name}))

	require.NoError(t, s.SetAuth(&User{ID: "u1", FirstName: "A", LastName: "B"}, &Organization{ID: "o1", Name: "Acme"}, "tok"))
	assert.True(t, s.UpdateUser(UserPatch{FirstName: &name}))
	org := "Acme Ltd"
	assert.True(t, s.UpdateOrganization(OrganizationPatch{Name: &org, Settings: map[string]interface{}{"currency": "EUR"}}))

	st := s.State()
	assert.Equal(t, "Ada", st.User.FirstName)
	assert.Equal(t, "B", st.User.LastName)
	assert.Equal(t, "Acme Ltd", st.Organization.Name)
	assert.Equal(t, "EUR", st.Organization.Settings["currency"])
}

func TestSubscribe(t *testing.T) {
	s := NewStore(&fakeAPI{}, nil, nil)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.SetAuth(&User{ID: "u1"}, nil, "tok"))
	select {
	case st := <-ch:
		assert.True(t, st.IsAuthenticated)
	case <-time.After(time.Second):
		t.Fatal("no state delivered")
	}
}

func TestFileStorage(t *testing.T) {
	fs := FileStorage{Path: filepath.Join(t.TempDir(), "crm", "session")}

	token, err := fs.Load()
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, fs.Save("tok"))
	token, err = fs.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	require.NoError(t, fs.Clear())
	require.NoError(t, fs.Clear())
	token, err = fs.Load()
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestAPIError(t *testing.T) {
	var err error = &APIError{Status: 409, Message: "An account with this email already exists"}
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 409, apiErr.Status)
	assert.Equal(t, "An account with this email already exists", err.Error())
}

func TestLogin_StorageFailureClearsLoading(t *testing.T) {
	storage := &failingStorage{saveErr: errors.New("disk full")}
	s := NewStore(&fakeAPI{login: okLogin}, storage, nil)

	err := s.Login(context.Background(), "a@b.com", "secret1")
	assert.EqualError(t, err, "disk full")

	st := s.State()
	assert.False(t, st.IsLoading)
	assert.False(t, st.IsAuthenticated)
	assert.Nil(t, st.User)
}

func TestLogout_RevokesPersistedToken(t *testing.T) {
	storage := &MemoryStorage{}
	require.NoError(t, storage.Save("persisted-token"))
	api := &fakeAPI{}
	s := NewStore(api, storage, nil)

	s.Logout(context.Background())

	assert.Equal(t, []string{"persisted-token"}, api.logouts)
	token, _ := storage.Load()
	assert.Empty(t, token)
	assert.True(t, s.State().IsInitialized)
}

func TestLogout_WithoutAnyToken(t *testing.T) {
	api := &fakeAPI{}
	s := NewStore(api, &MemoryStorage{}, nil)

	s.Logout(context.Background())
	assert.Empty(t, api.logouts)
}
