package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/store"
)

// SendRepo implements store.SendHistory against PostgreSQL. One row per
// idempotency key; a second Record with the same key is rejected so a
// confirmed send is never repeated.
type SendRepo struct{ db *sql.DB }

// NewSendRepo creates a Postgres-backed send history repository.
func NewSendRepo(db *sql.DB) *SendRepo { return &SendRepo{db: db} }

func (r *SendRepo) Lookup(ctx context.Context, key string) (*domain.DispatchRecord, error) {
	var rec domain.DispatchRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT idempotency_key, draft_version, message_id, sent_at
		FROM send_history WHERE idempotency_key = $1
	`, key).Scan(&rec.IdempotencyKey, &rec.DraftVersion, &rec.MessageID, &rec.SentAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup send: %w", err)
	}
	return &rec, nil
}

func (r *SendRepo) Record(ctx context.Context, itemID string, rec domain.DispatchRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO send_history (idempotency_key, item_id, draft_version, message_id, sent_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.IdempotencyKey, itemID, rec.DraftVersion, rec.MessageID, rec.SentAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	return nil
}
