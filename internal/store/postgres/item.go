package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/store"
)

const itemColumns = `id, campaign_id, investor_id, state, fail_reason, investor_version,
	score, drafts, dispatches, engagement, transitions, stage_attempts,
	follow_ups, created_at, updated_at`

// ItemRepo implements store.ItemStore against PostgreSQL.
type ItemRepo struct{ db *sql.DB }

// NewItemRepo creates a Postgres-backed outreach item repository.
func NewItemRepo(db *sql.DB) *ItemRepo { return &ItemRepo{db: db} }

func (r *ItemRepo) Create(ctx context.Context, item *domain.OutreachItem) error {
	doc, err := marshalItemDoc(item)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO outreach_items
			(id, campaign_id, investor_id, state, fail_reason, investor_version,
			 score, drafts, dispatches, engagement, transitions, stage_attempts,
			 follow_ups, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, item.ID, item.CampaignID, item.InvestorID, string(item.State), item.FailReason,
		item.InvestorVersion, doc.score, doc.drafts, doc.dispatches, doc.engagement,
		doc.transitions, doc.attempts, item.FollowUps, item.CreatedAt, item.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create item: %w", err)
	}
	return nil
}

func (r *ItemRepo) Get(ctx context.Context, id string) (*domain.OutreachItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM outreach_items WHERE id = $1
	`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (r *ItemRepo) Update(ctx context.Context, item *domain.OutreachItem) error {
	doc, err := marshalItemDoc(item)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outreach_items SET
			state = $2, fail_reason = $3, investor_version = $4,
			score = $5, drafts = $6, dispatches = $7, engagement = $8,
			transitions = $9, stage_attempts = $10, follow_ups = $11, updated_at = $12
		WHERE id = $1
	`, item.ID, string(item.State), item.FailReason, item.InvestorVersion,
		doc.score, doc.drafts, doc.dispatches, doc.engagement, doc.transitions,
		doc.attempts, item.FollowUps, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *ItemRepo) List(ctx context.Context, f store.ItemFilter) ([]*domain.OutreachItem, error) {
	q := sq.Select(itemColumns).From("outreach_items").PlaceholderFormat(sq.Dollar)
	if f.CampaignID != "" {
		q = q.Where(sq.Eq{"campaign_id": f.CampaignID})
	}
	if f.InvestorID != "" {
		q = q.Where(sq.Eq{"investor_id": f.InvestorID})
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, s := range f.States {
			states[i] = string(s)
		}
		q = q.Where(sq.Eq{"state": states})
	}
	q = q.OrderBy("created_at ASC", "id ASC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []*domain.OutreachItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

type itemDoc struct {
	score       interface{}
	drafts      []byte
	dispatches  []byte
	engagement  []byte
	transitions []byte
	attempts    []byte
}

func marshalItemDoc(item *domain.OutreachItem) (*itemDoc, error) {
	doc := &itemDoc{}
	var err error
	if item.Score != nil {
		var b []byte
		if b, err = json.Marshal(item.Score); err != nil {
			return nil, fmt.Errorf("marshal score: %w", err)
		}
		doc.score = b
	}
	if doc.drafts, err = json.Marshal(item.Drafts); err != nil {
		return nil, fmt.Errorf("marshal drafts: %w", err)
	}
	if doc.dispatches, err = json.Marshal(item.Dispatches); err != nil {
		return nil, fmt.Errorf("marshal dispatches: %w", err)
	}
	if doc.engagement, err = json.Marshal(item.Engagement); err != nil {
		return nil, fmt.Errorf("marshal engagement: %w", err)
	}
	if doc.transitions, err = json.Marshal(item.Transitions); err != nil {
		return nil, fmt.Errorf("marshal transitions: %w", err)
	}
	if doc.attempts, err = json.Marshal(item.StageAttempts); err != nil {
		return nil, fmt.Errorf("marshal stage attempts: %w", err)
	}
	return doc, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*domain.OutreachItem, error) {
	var it domain.OutreachItem
	var state string
	var score, drafts, dispatches, engagement, transitions, attempts []byte
	err := row.Scan(&it.ID, &it.CampaignID, &it.InvestorID, &state, &it.FailReason,
		&it.InvestorVersion, &score, &drafts, &dispatches, &engagement,
		&transitions, &attempts, &it.FollowUps, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.State = domain.ItemState(state)
	if len(score) > 0 {
		it.Score = &domain.MatchScore{}
		if err := unmarshalJSONB(score, it.Score); err != nil {
			return nil, fmt.Errorf("decode score: %w", err)
		}
	}
	if err := unmarshalJSONB(drafts, &it.Drafts); err != nil {
		return nil, fmt.Errorf("decode drafts: %w", err)
	}
	if err := unmarshalJSONB(dispatches, &it.Dispatches); err != nil {
		return nil, fmt.Errorf("decode dispatches: %w", err)
	}
	if err := unmarshalJSONB(engagement, &it.Engagement); err != nil {
		return nil, fmt.Errorf("decode engagement: %w", err)
	}
	if err := unmarshalJSONB(transitions, &it.Transitions); err != nil {
		return nil, fmt.Errorf("decode transitions: %w", err)
	}
	if err := unmarshalJSONB(attempts, &it.StageAttempts); err != nil {
		return nil, fmt.Errorf("decode stage attempts: %w", err)
	}
	return &it, nil
}
