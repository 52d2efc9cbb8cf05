package user

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	appErrors "ephemeral-chat/pkg/errors"
	"ephemeral-chat/pkg/logger"
)

type fakeStore struct {
	users      map[string]*User
	lastActive map[string]*time.Time
	createErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*User{}, lastActive: map[string]*time.Time{}}
}

func (f *fakeStore) CreateUser(_ context.Context, u *User) (*User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	u.ID = "u-" + u.Username
	f.users[u.Username] = u
	return u, nil
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (*User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeStore) SearchUsers(_ context.Context, q string) ([]User, error) {
	var out []User
	for _, u := range f.users {
		if strings.Contains(u.Username, q) {
			out = append(out, User{ID: u.ID, Username: u.Username})
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateUserActivity(_ context.Context, userID string, at time.Time) error {
	f.lastActive[userID] = &at
	return nil
}

func (f *fakeStore) GetLastActive(_ context.Context, userID string) (*time.Time, error) {
	at, ok := f.lastActive[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return at, nil
}

var now = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func newService(store *fakeStore) *Service {
	s := NewService(store, "test-secret", time.Hour, 2*time.Minute, logger.Discard())
	s.now = func() time.Time { return now }
	return s
}

func TestRegisterAndLogin(t *testing.T) {
	s := newService(newFakeStore())
	res, err := s.Register(context.Background(), &RegisterRequest{Username: " alice ", Password: "secret1"})
	require.NoError(t, err)
	require.Equal(t, "u-alice", res.ID)
	require.Equal(t, "alice", res.Username)

	s.now = time.Now
	login, err := s.Login(context.Background(), &RegisterRequest{Username: "alice", Password: "secret1"})
	require.NoError(t, err)
	require.Equal(t, "u-alice", login.ID)

	id, name, err := s.ValidateToken(login.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "u-alice", id)
	require.Equal(t, "alice", name)
}

func TestRegister_Validation(t *testing.T) {
	s := newService(newFakeStore())
	_, err := s.Register(context.Background(), &RegisterRequest{Username: "", Password: "secret1"})
	require.Equal(t, appErrors.CodeValidation, appErrors.CodeOf(err))
	_, err = s.Register(context.Background(), &RegisterRequest{Username: "bob", Password: "123"})
	require.Equal(t, appErrors.CodeValidation, appErrors.CodeOf(err))

	store := newFakeStore()
	store.createErr = errors.New("duplicate key")
	_, err = newService(store).Register(context.Background(), &RegisterRequest{Username: "bob", Password: "secret1"})
	require.Equal(t, appErrors.CodePersist, appErrors.CodeOf(err))
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := newService(newFakeStore())
	_, err := s.Register(context.Background(), &RegisterRequest{Username: "alice", Password: "secret1"})
	require.NoError(t, err)

	_, err = s.Login(context.Background(), &RegisterRequest{Username: "alice", Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(context.Background(), &RegisterRequest{Username: "nobody", Password: "secret1"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_RejectsForeignTokens(t *testing.T) {
	s := newService(newFakeStore())
	s.now = time.Now
	_, err := s.Register(context.Background(), &RegisterRequest{Username: "alice", Password: "secret1"})
	require.NoError(t, err)
	login, err := s.Login(context.Background(), &RegisterRequest{Username: "alice", Password: "secret1"})
	require.NoError(t, err)

	other := NewService(newFakeStore(), "other-secret", time.Hour, time.Minute, logger.Discard())
	_, _, err = other.ValidateToken(login.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, _, err = s.ValidateToken("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestPresence(t *testing.T) {
	store := newFakeStore()
	s := newService(store)

	require.NoError(t, s.UpdateUserActivity(context.Background(), "u-1", now.Add(-time.Minute)))
	p, err := s.Presence(context.Background(), "u-1")
	require.NoError(t, err)
	require.True(t, p.Online)

	require.NoError(t, s.UpdateUserActivity(context.Background(), "u-2", now.Add(-10*time.Minute)))
	p, err = s.Presence(context.Background(), "u-2")
	require.NoError(t, err)
	require.False(t, p.Online)
	require.Equal(t, now.Add(-10*time.Minute), *p.LastActiveAt)

	_, err = s.Presence(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestHandler_GetPresence(t *testing.T) {
	const (
		known   = "5b1f0c1e-8f7a-4c53-9a41-0d6f2b7e9c11"
		unknown = "9e8d7c6b-5a49-4382-b1a0-f9e8d7c6b5a4"
	)
	store := newFakeStore()
	s := newService(store)
	require.NoError(t, s.UpdateUserActivity(context.Background(), known, now))

	r := chi.NewRouter()
	r.Get("/api/users/{id}/presence", NewHandler(s).GetPresence)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/"+known+"/presence", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"online":true`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/"+unknown+"/presence", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_GetPresence_RejectsMalformedID(t *testing.T) {
	store := newFakeStore()
	s := newService(store)
	require.NoError(t, s.UpdateUserActivity(context.Background(), "not-a-uuid", now))

	r := chi.NewRouter()
	r.Get("/api/users/{id}/presence", NewHandler(s).GetPresence)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/not-a-uuid/presence", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "id must be a user id")
}

func TestHandler_RegisterAndLogin(t *testing.T) {
	h := NewHandler(newService(newFakeStore()))

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"username":"alice","password":"secret1"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"alice","password":"nope"}`)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"alice","password":"secret1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "access_token")

	rec = httptest.NewRecorder()
	h.SearchUsers(rec, httptest.NewRequest(http.MethodGet, "/api/users/search?q=zzz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}
