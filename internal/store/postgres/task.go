package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/store"
)

// TaskRepo implements store.TaskStore against PostgreSQL. A partial
// unique index on (item_id) WHERE status = 'pending' enforces the
// one-pending-task-per-item rule at the schema level.
type TaskRepo struct{ db *sql.DB }

// NewTaskRepo creates a Postgres-backed follow-up task repository.
func NewTaskRepo(db *sql.DB) *TaskRepo { return &TaskRepo{db: db} }

func (r *TaskRepo) Save(ctx context.Context, task *domain.FollowUpTask) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO followup_tasks (id, item_id, scheduled_at, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			scheduled_at = EXCLUDED.scheduled_at,
			reason = EXCLUDED.reason,
			status = EXCLUDED.status
	`, task.ID, task.ItemID, task.ScheduledAt, string(task.Reason), string(task.Status), task.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (r *TaskRepo) Pending(ctx context.Context, itemID string) (*domain.FollowUpTask, error) {
	task, err := scanTask(r.db.QueryRowContext(ctx, `
		SELECT id, item_id, scheduled_at, reason, status, created_at
		FROM followup_tasks
		WHERE item_id = $1 AND status = 'pending'
	`, itemID))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending task: %w", err)
	}
	return task, nil
}

func (r *TaskRepo) Due(ctx context.Context, now time.Time, limit int) ([]*domain.FollowUpTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, item_id, scheduled_at, reason, status, created_at
		FROM followup_tasks
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	defer rows.Close()

	var out []*domain.FollowUpTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*domain.FollowUpTask, error) {
	var t domain.FollowUpTask
	var reason, status string
	if err := row.Scan(&t.ID, &t.ItemID, &t.ScheduledAt, &reason, &status, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Reason = domain.FollowUpReason(reason)
	t.Status = domain.FollowUpStatus(status)
	return &t, nil
}
