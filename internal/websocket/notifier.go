package websocket

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fortuna-lending/loan-engine/internal/domain"
)

// Notifier persists a Notification before pushing it live, so a
// subscriber connecting after the fact can still retrieve it from
// history. Operator fan-out enumerates every role=operator account and
// continues past individual delivery failures.
type Notifier struct {
	hub        *Hub
	notifs     domain.NotificationRepository
	accounts   domain.AccountRepository
}

func NewNotifier(hub *Hub, notifs domain.NotificationRepository, accounts domain.AccountRepository) *Notifier {
	return &Notifier{hub: hub, notifs: notifs, accounts: accounts}
}

// Send persists a Notification for accountID and pushes it if the
// account has a live subscriber.
func (n *Notifier) Send(ctx context.Context, accountID uuid.UUID, notifType, title, body string, data map[string]any, evt Event) error {
	now := time.Now().UTC()
	record := &domain.Notification{
		ID:        uuid.New(),
		AccountID: accountID,
		Type:      notifType,
		Title:     title,
		Body:      body,
		Data:      data,
		Status:    domain.NotificationSent,
		SentAt:    &now,
		CreatedAt: now,
	}
	if err := n.notifs.Create(ctx, record); err != nil {
		return err
	}

	n.hub.Broadcast(accountID, evt)
	return nil
}

// NotifyOperators delivers one notification to every operator account,
// continuing past individual failures instead of aborting the fan-out.
func (n *Notifier) NotifyOperators(ctx context.Context, notifType, title, body string, data map[string]any, evt Event) {
	operators, err := n.accounts.ListByRole(ctx, domain.RoleOperator)
	if err != nil {
		log.Error().Err(err).Msg("failed to list operators for notification fan-out")
		return
	}
	for _, op := range operators {
		if err := n.Send(ctx, op.ID, notifType, title, body, data, evt); err != nil {
			log.Warn().Err(err).Str("operator_id", op.ID.String()).Msg("failed to notify operator")
		}
	}
}

// IsOnline reports whether accountID has a live subscriber.
func (n *Notifier) IsOnline(accountID uuid.UUID) bool {
	return n.hub.IsOnline(accountID)
}

// PushRead broadcasts that one notification was marked read, for clients
// keeping a live unread badge in sync without refetching the list.
func (n *Notifier) PushRead(accountID uuid.UUID, notificationID uuid.UUID) {
	n.hub.Broadcast(accountID, NotificationRead(notificationID))
}

// PushAllRead broadcasts that every notification for accountID was marked
// read in one batch.
func (n *Notifier) PushAllRead(accountID uuid.UUID) {
	n.hub.Broadcast(accountID, NotificationsAllRead())
}
