package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fundline/outreach/internal/domain"
)

// EventRepo implements store.EventStore against PostgreSQL. The primary
// key on source_event_id makes redelivered provider events no-ops.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed engagement event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) Append(ctx context.Context, ev domain.EngagementEvent) (bool, error) {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal event metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO engagement_events (source_event_id, item_id, kind, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_event_id) DO NOTHING
	`, ev.SourceEventID, ev.ItemID, string(ev.Kind), ev.Timestamp, metadata)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *EventRepo) ListByItem(ctx context.Context, itemID string) ([]domain.EngagementEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source_event_id, item_id, kind, occurred_at, metadata
		FROM engagement_events
		WHERE item_id = $1
		ORDER BY occurred_at ASC, source_event_id ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.EngagementEvent
	for rows.Next() {
		var ev domain.EngagementEvent
		var kind string
		var metadata []byte
		if err := rows.Scan(&ev.SourceEventID, &ev.ItemID, &kind, &ev.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = domain.EngagementKind(kind)
		if err := unmarshalJSONB(metadata, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
