package service

import (
	"context"
	"errors"
	"fmt"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/events"
	"wisefido-iotcore/internal/repository"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// NotificationService the notifications feed of a user
type NotificationService interface {
	List(ctx context.Context, ownerUserID string, q repository.ListNotificationsQuery) ([]domain.Notification, error)
	Create(ctx context.Context, n domain.NewNotification) (*domain.Notification, error)
	MarkRead(ctx context.Context, ownerUserID string, id int64) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, ownerUserID string) error
}

type notificationService struct {
	repo      repository.NotificationsRepository
	publisher events.Publisher
}

func NewNotificationService(repo repository.NotificationsRepository, publisher events.Publisher) NotificationService {
	return &notificationService{repo: repo, publisher: publisher}
}

// ClampLimit 0 means the default; anything else is clamped to 1..200
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return defaultNotificationLimit
	case limit < 1:
		return 1
	case limit > maxNotificationLimit:
		return maxNotificationLimit
	}
	return limit
}

func (s *notificationService) List(ctx context.Context, ownerUserID string, q repository.ListNotificationsQuery) ([]domain.Notification, error) {
	q.Limit = ClampLimit(q.Limit)
	if q.BeforeID < 0 {
		q.BeforeID = 0
	}
	list, err := s.repo.List(ctx, ownerUserID, q)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// Create stores a user-authored notification and pushes it to the owner's viewers
func (s *notificationService) Create(ctx context.Context, n domain.NewNotification) (*domain.Notification, error) {
	if n.Title == "" || n.Body == "" {
		return nil, invalid("title and body are required")
	}
	if n.Type == "" {
		n.Type = domain.NotificationTypeSystem
	}
	out, err := s.repo.Insert(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	s.publisher.Notification(*out)
	return out, nil
}

func (s *notificationService) MarkRead(ctx context.Context, ownerUserID string, id int64) (*domain.Notification, error) {
	n, err := s.repo.MarkRead(ctx, id, ownerUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, ownerUserID string) error {
	if _, err := s.repo.MarkAllRead(ctx, ownerUserID); err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}
