package user

import "time"

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Password     string     `json:"-"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          string `json:"id"`
	Username    string `json:"username"`
}

// Presence is what a peer sees of a user's activity.
type Presence struct {
	UserID       string     `json:"user_id"`
	Online       bool       `json:"online"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}
