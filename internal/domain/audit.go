package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one append-only record of a state change. EntityType/EntityID
// identify the affected row; PreviousSnapshot/NewSnapshot are opaque JSON
// captured by the caller, typically a marshaled domain struct.
type AuditEntry struct {
	ID               uuid.UUID       `json:"id"`
	EntityType       string          `json:"entityType"`
	EntityID         uuid.UUID       `json:"entityId"`
	Action           string          `json:"action"`
	Actor            uuid.UUID       `json:"actor"`
	PreviousSnapshot []byte          `json:"previousSnapshot,omitempty"`
	NewSnapshot      []byte          `json:"newSnapshot,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// AuditRepository appends entries; there is deliberately no update or delete.
type AuditRepository interface {
	Append(ctx context.Context, tx Tx, entry *AuditEntry) error
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*AuditEntry, error)
}
