package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event (created, updated, ...)
type EventType string

const (
	EventTypeCreated  EventType = "created"
	EventTypeUpdated  EventType = "updated"
	EventTypeApproved EventType = "approved"
	EventTypeRejected EventType = "rejected"
)

// EntityType represents the type of entity the event is about
type EntityType string

const (
	EntityTypeLoan         EntityType = "loan"
	EntityTypePayment      EntityType = "payment"
	EntityTypeInstallment  EntityType = "installment"
	EntityTypeNotification EntityType = "notification"
)

// Additional event types specific to the lending lifecycle
const (
	EventTypeSubmitted      EventType = "submitted"
	EventTypeUnderReview    EventType = "under_review"
	EventTypeDisbursed      EventType = "disbursed"
	EventTypeCompleted      EventType = "completed"
	EventTypeDefaulted      EventType = "defaulted"
	EventTypeReceived       EventType = "received"
	EventTypeFailed         EventType = "failed"
	EventTypeRefunded       EventType = "refunded"
	EventTypeProofSubmitted EventType = "proof_submitted"
	EventTypeProofVerified  EventType = "proof_verified"
	EventTypeRead           EventType = "read"
	EventTypeAllRead        EventType = "all_read"
)

// Event represents a WebSocket event message sent to clients
// Format: { type, entity, payload, timestamp }
type Event struct {
	Type      string      `json:"type"`      // Combined type e.g. "loan.disbursed"
	Entity    EntityType  `json:"entity"`    // Entity type e.g. "loan"
	Payload   interface{} `json:"payload"`   // Full entity data
	Timestamp time.Time   `json:"timestamp"` // Event timestamp
}

// NewEvent creates a new event with the given type, entity, and payload
func NewEvent(eventType EventType, entityType EntityType, payload interface{}) Event {
	return Event{
		Type:      fmt.Sprintf("%s.%s", entityType, eventType),
		Entity:    entityType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON serializes the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LoanSubmitted creates a loan.submitted event.
func LoanSubmitted(payload interface{}) Event {
	return NewEvent(EventTypeSubmitted, EntityTypeLoan, payload)
}

// LoanUnderReview creates a loan.under_review event.
func LoanUnderReview(payload interface{}) Event {
	return NewEvent(EventTypeUnderReview, EntityTypeLoan, payload)
}

// LoanApproved creates a loan.approved event.
func LoanApproved(payload interface{}) Event {
	return NewEvent(EventTypeApproved, EntityTypeLoan, payload)
}

// LoanRejected creates a loan.rejected event.
func LoanRejected(payload interface{}) Event {
	return NewEvent(EventTypeRejected, EntityTypeLoan, payload)
}

// LoanDisbursed creates a loan.disbursed event.
func LoanDisbursed(payload interface{}) Event {
	return NewEvent(EventTypeDisbursed, EntityTypeLoan, payload)
}

// LoanCompleted creates a loan.completed event.
func LoanCompleted(payload interface{}) Event {
	return NewEvent(EventTypeCompleted, EntityTypeLoan, payload)
}

// LoanDefaulted creates a loan.defaulted event.
func LoanDefaulted(payload interface{}) Event {
	return NewEvent(EventTypeDefaulted, EntityTypeLoan, payload)
}

// PaymentReceived creates a payment.received event.
func PaymentReceived(payload interface{}) Event {
	return NewEvent(EventTypeReceived, EntityTypePayment, payload)
}

// PaymentFailed creates a payment.failed event.
func PaymentFailed(payload interface{}) Event {
	return NewEvent(EventTypeFailed, EntityTypePayment, payload)
}

// PaymentRefunded creates a payment.refunded event.
func PaymentRefunded(payload interface{}) Event {
	return NewEvent(EventTypeRefunded, EntityTypePayment, payload)
}

// PaymentProofSubmitted creates a payment.proof_submitted event.
func PaymentProofSubmitted(payload interface{}) Event {
	return NewEvent(EventTypeProofSubmitted, EntityTypePayment, payload)
}

// PaymentProofVerified creates a payment.proof_verified event.
func PaymentProofVerified(payload interface{}) Event {
	return NewEvent(EventTypeProofVerified, EntityTypePayment, payload)
}

// NotificationCreated creates a notification.created event.
func NotificationCreated(payload interface{}) Event {
	return NewEvent(EventTypeCreated, EntityTypeNotification, payload)
}

// NotificationRead creates a notification.read event, carrying the id of
// the notification that was marked read.
func NotificationRead(notificationID interface{}) Event {
	return NewEvent(EventTypeRead, EntityTypeNotification, notificationID)
}

// NotificationsAllRead creates a notification.all_read event with no
// payload beyond the account's own event stream : the client is expected
// to refetch its unread count.
func NotificationsAllRead() Event {
	return NewEvent(EventTypeAllRead, EntityTypeNotification, nil)
}
