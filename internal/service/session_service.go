package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/repository"

	"go.uber.org/zap"
)

const touchTimeout = 2 * time.Second

// Session a freshly issued bearer token; Token is shown once
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionService session directory: opaque bearer token -> user, TTL expiry
type SessionService interface {
	Create(ctx context.Context, userID string) (*Session, error)
	Resolve(ctx context.Context, token string) (*domain.SessionUser, error)
	Revoke(ctx context.Context, token string) error
	RevokeAll(ctx context.Context, userID string) error
}

type sessionService struct {
	repo   repository.SessionsRepository
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewSessionService(repo repository.SessionsRepository, ttl time.Duration, logger *zap.Logger) SessionService {
	return &sessionService{repo: repo, ttl: ttl, now: time.Now, logger: logger}
}

func (s *sessionService) Create(ctx context.Context, userID string) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(s.ttl).UTC()
	if err := s.repo.Create(ctx, hashToken(token), userID, expiresAt); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Session{Token: token, ExpiresAt: expiresAt}, nil
}

// Resolve returns ErrUnauthorized for unknown or expired tokens. last_used_at
// is touched in the background and its failure ignored.
func (s *sessionService) Resolve(ctx context.Context, token string) (*domain.SessionUser, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	hash := hashToken(token)
	user, err := s.repo.Lookup(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	go func() {
		tctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := s.repo.Touch(tctx, hash); err != nil {
			s.logger.Debug("Session touch failed", zap.Error(err))
		}
	}()
	return user, nil
}

func (s *sessionService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.repo.Delete(ctx, hashToken(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *sessionService) RevokeAll(ctx context.Context, userID string) error {
	if err := s.repo.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("delete sessions of user: %w", err)
	}
	return nil
}
