package user

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	appErrors "ephemeral-chat/pkg/errors"
)

var ErrUserNotFound = appErrors.NotFound("user not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	query := "INSERT INTO users (username, password) VALUES ($1, $2) RETURNING id"

	if err := r.db.QueryRowContext(ctx, query, user.Username, user.Password).Scan(&user.ID); err != nil {
		return nil, errors.Wrap(err, "userRepo.CreateUser")
	}
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := "SELECT id, username, password FROM users WHERE username = $1"

	err := r.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "userRepo.GetUserByUsername")
	}
	return u, nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	q := `SELECT id, username FROM users WHERE username ILIKE $1 ORDER BY username LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%")
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.SearchUsers")
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, errors.Wrap(err, "userRepo.SearchUsers")
		}
		users = append(users, u)
	}
	return users, errors.Wrap(rows.Err(), "userRepo.SearchUsers")
}

// UpdateUserActivity stamps last_active_at. Stamps never move backwards.
func (r *Repository) UpdateUserActivity(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE users SET last_active_at = $2
		WHERE id = $1 AND (last_active_at IS NULL OR last_active_at < $2)`

	if _, err := r.db.ExecContext(ctx, query, userID, at); err != nil {
		return errors.Wrap(err, "userRepo.UpdateUserActivity")
	}
	return nil
}

func (r *Repository) GetLastActive(ctx context.Context, userID string) (*time.Time, error) {
	var at sql.NullTime
	err := r.db.QueryRowContext(ctx, "SELECT last_active_at FROM users WHERE id = $1", userID).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "userRepo.GetLastActive")
	}
	if !at.Valid {
		return nil, nil
	}
	t := at.Time.UTC()
	return &t, nil
}
