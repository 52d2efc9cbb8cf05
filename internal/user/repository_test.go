package user

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func TestCreateUser(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users (username, password) VALUES ($1, $2) RETURNING id")).
		WithArgs("alice", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u-1"))

	u, err := repo.CreateUser(context.Background(), &User{Username: "alice", Password: "hash"})
	require.NoError(t, err)
	require.Equal(t, "u-1", u.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByUsername_NotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, password FROM users WHERE username = $1")).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetUserByUsername(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestSearchUsers(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username FROM users WHERE username ILIKE $1")).
		WithArgs("%al%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).AddRow("u-1", "alice").AddRow("u-2", "sal"))

	users, err := repo.SearchUsers(context.Background(), "al")
	require.NoError(t, err)
	require.Equal(t, []User{{ID: "u-1", Username: "alice"}, {ID: "u-2", Username: "sal"}}, users)
}

func TestUpdateUserActivity(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_active_at = $2")).
		WithArgs("u-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateUserActivity(context.Background(), "u-1", at))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_active_at = $2")).
		WithArgs("u-1", at).
		WillReturnError(errors.New("conn closed"))
	err := repo.UpdateUserActivity(context.Background(), "u-1", at)
	require.ErrorContains(t, err, "userRepo.UpdateUserActivity")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLastActive(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta("SELECT last_active_at FROM users WHERE id = $1")

	mock.ExpectQuery(query).WithArgs("u-1").WillReturnRows(sqlmock.NewRows([]string{"last_active_at"}).AddRow(at))
	got, err := repo.GetLastActive(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, at, *got)

	mock.ExpectQuery(query).WithArgs("u-2").WillReturnRows(sqlmock.NewRows([]string{"last_active_at"}).AddRow(nil))
	got, err = repo.GetLastActive(context.Background(), "u-2")
	require.NoError(t, err)
	require.Nil(t, got)

	mock.ExpectQuery(query).WithArgs("u-3").WillReturnError(sql.ErrNoRows)
	_, err = repo.GetLastActive(context.Background(), "u-3")
	require.ErrorIs(t, err, ErrUserNotFound)
}
