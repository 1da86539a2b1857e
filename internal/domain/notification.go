package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NotificationStatus tracks delivery, not read state.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is a durable record of one event delivered (or attempted)
// to an account, independent of whether a live subscriber was connected.
type Notification struct {
	ID        uuid.UUID          `json:"id"`
	AccountID uuid.UUID          `json:"accountId"`
	Type      string             `json:"type"`
	Title     string             `json:"title"`
	Body      string             `json:"body"`
	Data      map[string]any     `json:"data,omitempty"`
	Status    NotificationStatus `json:"status"`
	SentAt    *time.Time         `json:"sentAt,omitempty"`
	ReadAt    *time.Time         `json:"readAt,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// NotificationRepository is the persistence contract backing NotificationHub.
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Notification, error)
	CountUnread(ctx context.Context, accountID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, id uuid.UUID, accountID uuid.UUID) error
	MarkAllRead(ctx context.Context, accountID uuid.UUID) (int64, error)
}
