package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/repository"

	"go.uber.org/zap"
)

const minPasswordLen = 8

// AuthService accounts; every successful sign-in produces a session
type AuthService interface {
	Register(ctx context.Context, email, password string) (*AuthResponse, error)
	Login(ctx context.Context, email, password string) (*AuthResponse, error)
	Logout(ctx context.Context, token string) error
	Me(ctx context.Context, userID string) (*domain.User, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*AuthResponse, error)
	UpdateAvatar(ctx context.Context, userID string, avatarKey *string) (*domain.User, error)
}

// AuthResponse Token is shown once
type AuthResponse struct {
	Token     string       `json:"token"`
	User      *domain.User `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type authService struct {
	users    repository.UsersRepository
	sessions SessionService
	logger   *zap.Logger
}

func NewAuthService(users repository.UsersRepository, sessions SessionService, logger *zap.Logger) AuthService {
	return &authService{users: users, sessions: sessions, logger: logger}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// publicUser drops avatar keys that are no longer offered
func publicUser(u *domain.User) *domain.User {
	out := *u
	if out.AvatarKey != nil && !domain.IsAvatarKey(*out.AvatarKey) {
		out.AvatarKey = nil
	}
	return &out
}

func (s *authService) issue(ctx context.Context, u *domain.User) (*AuthResponse, error) {
	sess, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{
		Token:     sess.Token,
		User:      publicUser(u),
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

func (s *authService) Register(ctx context.Context, email, password string) (*AuthResponse, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, invalid("Valid email is required")
	}
	if len(password) < minPasswordLen {
		return nil, invalid("Password must be at least 8 characters")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u, err := s.users.Create(ctx, email, hash)
	if errors.Is(err, repository.ErrConflict) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("User registered", zap.String("user_id", u.ID))
	return s.issue(ctx, u)
}

func (s *authService) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, invalid("email and password are required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !VerifyPassword(password, u.PasswordHash) {
		s.logger.Warn("User login failed", zap.String("user_id", u.ID), zap.String("reason", "invalid_password"))
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, u)
}

func (s *authService) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

func (s *authService) Me(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return publicUser(u), nil
}

// ChangePassword revokes every session of the user and issues a fresh one
func (s *authService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*AuthResponse, error) {
	if currentPassword == "" || newPassword == "" {
		return nil, invalid("current_password and new_password are required")
	}
	if len(newPassword) < minPasswordLen {
		return nil, invalid("Password must be at least 8 characters")
	}
	if newPassword == currentPassword {
		return nil, invalid("New password must be different")
	}

	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !VerifyPassword(currentPassword, u.PasswordHash) {
		return nil, ErrInvalidCurrentPassword
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return nil, fmt.Errorf("update password: %w", err)
	}
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return nil, err
	}

	s.logger.Info("Password changed, sessions revoked", zap.String("user_id", userID))
	return s.issue(ctx, u)
}

// ParseAvatarKey nil, "" and "default" reset the avatar; anything else must be known
func ParseAvatarKey(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, invalid("Invalid avatar_key")
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "default" {
		return nil, nil
	}
	if !domain.IsAvatarKey(s) {
		return nil, invalid("Invalid avatar_key")
	}
	return &s, nil
}

func (s *authService) UpdateAvatar(ctx context.Context, userID string, avatarKey *string) (*domain.User, error) {
	u, err := s.users.UpdateAvatar(ctx, userID, avatarKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update avatar: %w", err)
	}
	return publicUser(u), nil
}
