// Package audit appends the immutable change log every protocol in
// internal/engine writes to alongside its domain mutation.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/store"
)

// Log implements domain.AuditRepository against Postgres.
type Log struct {
	store *store.Store
}

func New(s *store.Store) *Log {
	return &Log{store: s}
}

// Append inserts entry as a new row; there is no corresponding update.
func (l *Log) Append(ctx context.Context, tx domain.Tx, entry *domain.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := l.store.Q(tx).Exec(ctx, `
		INSERT INTO audit_entries
			(id, entity_type, entity_id, action, actor, previous_snapshot, new_snapshot, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.EntityType, entry.EntityID, entry.Action, entry.Actor,
		entry.PreviousSnapshot, entry.NewSnapshot, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListByEntity returns every entry recorded for one entity, oldest first.
func (l *Log) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*domain.AuditEntry, error) {
	rows, err := l.store.Pool.Query(ctx, `
		SELECT id, entity_type, entity_id, action, actor, previous_snapshot, new_snapshot, timestamp
		FROM audit_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY timestamp ASC
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		e := &domain.AuditEntry{}
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.Actor,
			&e.PreviousSnapshot, &e.NewSnapshot, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Snapshot marshals v to JSON for storage as a previous/new snapshot,
// swallowing marshal errors into a nil snapshot since audit capture must
// never block the transaction it is observing.
func Snapshot(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
