package user

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	appErrors "ephemeral-chat/pkg/errors"
)

const issuer = "ephemeral-chat"

var (
	ErrInvalidCredentials = appErrors.Unauthorized("invalid credentials")
	ErrInvalidToken       = appErrors.Unauthorized("invalid token")
)

type store interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	SearchUsers(ctx context.Context, query string) ([]User, error)
	UpdateUserActivity(ctx context.Context, userID string, at time.Time) error
	GetLastActive(ctx context.Context, userID string) (*time.Time, error)
}

type Service struct {
	repo        store
	jwtSecret   string
	tokenTTL    time.Duration
	onlineAfter time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

type MyJWTClaims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// NewService builds the identity service. A user counts as online while
// their last activity stamp is younger than onlineAfter.
func NewService(repo store, secret string, tokenTTL, onlineAfter time.Duration, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		jwtSecret:   secret,
		tokenTTL:    tokenTTL,
		onlineAfter: onlineAfter,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || len(username) > 50 {
		return nil, appErrors.Validation("username must be 1 to 50 characters")
	}
	if len(req.Password) < 6 {
		return nil, appErrors.Validation("password must be at least 6 characters")
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(appErrors.CodeInternal, "password hashing failed", err)
	}

	u := &User{Username: username, Password: string(hashedPwd)}
	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		s.logger.Error("user registration failed", "username", username, "err", err)
		return nil, appErrors.ErrPersistFailed("registration", err)
	}
	return &RegisterResponse{ID: u.ID, Username: u.Username}, nil
}

func (s *Service) Login(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, appErrors.ErrPersistFailed("login", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:       u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			ExpiresAt: jwt.NewNumericDate(s.now().Add(s.tokenTTL)),
		},
	})
	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, appErrors.Wrap(appErrors.CodeInternal, "token signing failed", err)
	}

	return &LoginResponse{AccessToken: ss, ID: u.ID, Username: u.Username}, nil
}

// ValidateToken returns the user id and username carried by a token.
func (s *Service) ValidateToken(tokenString string) (string, string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))

	if err != nil || !token.Valid || claims.ID == "" {
		return "", "", ErrInvalidToken
	}
	return claims.ID, claims.Username, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	users, err := s.repo.SearchUsers(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, appErrors.ErrPersistFailed("user search", err)
	}
	return users, nil
}

// UpdateUserActivity records that userID was active at at.
func (s *Service) UpdateUserActivity(ctx context.Context, userID string, at time.Time) error {
	return s.repo.UpdateUserActivity(ctx, userID, at)
}

func (s *Service) Presence(ctx context.Context, userID string) (Presence, error) {
	at, err := s.repo.GetLastActive(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Presence{}, err
		}
		return Presence{}, appErrors.ErrPersistFailed("presence lookup", err)
	}
	p := Presence{UserID: userID, LastActiveAt: at}
	if at != nil {
		p.Online = s.now().Sub(*at) < s.onlineAfter
	}
	return p, nil
}
