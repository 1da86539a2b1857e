package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/store"
)

// NotificationRepository implements domain.NotificationRepository.
type NotificationRepository struct {
	store *store.Store
}

func NewNotificationRepository(s *store.Store) *NotificationRepository {
	return &NotificationRepository{store: s}
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	var dataJSON []byte
	if n.Data != nil {
		var err error
		dataJSON, err = json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("marshal notification data: %w", err)
		}
	}

	_, err := r.store.Pool.Exec(ctx, `
		INSERT INTO notifications (
			id, account_id, type, title, body, data, status, sent_at, read_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, n.ID, n.AccountID, n.Type, n.Title, n.Body, dataJSON, n.Status, n.SentAt, n.ReadAt, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.Notification, error) {
	rows, err := r.store.Pool.Query(ctx, `
		SELECT id, account_id, type, title, body, data, status, sent_at, read_at, created_at
		FROM notifications
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		n := &domain.Notification{}
		var dataJSON []byte
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Type, &n.Title, &n.Body, &dataJSON, &n.Status, &n.SentAt, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &n.Data); err != nil {
				return nil, fmt.Errorf("unmarshal notification data: %w", err)
			}
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *NotificationRepository) CountUnread(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	err := r.store.Pool.QueryRow(ctx, `
		SELECT count(*) FROM notifications WHERE account_id = $1 AND read_at IS NULL
	`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id uuid.UUID, accountID uuid.UUID) error {
	tag, err := r.store.Pool.Exec(ctx, `
		UPDATE notifications SET read_at = now()
		WHERE id = $1 AND account_id = $2 AND read_at IS NULL
	`, id, accountID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, accountID uuid.UUID) (int64, error) {
	tag, err := r.store.Pool.Exec(ctx, `
		UPDATE notifications SET read_at = now()
		WHERE account_id = $1 AND read_at IS NULL
	`, accountID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}
