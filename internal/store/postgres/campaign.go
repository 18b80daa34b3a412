package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/store"
)

// CampaignRepo implements store.CampaignStore against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	company, config, counters, err := marshalCampaignDoc(c)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, status, company, config, counters, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.Name, string(c.Status), company, config, counters, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, status, company, config, counters, created_at, updated_at
		FROM campaigns WHERE id = $1
	`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) Update(ctx context.Context, c *domain.Campaign) error {
	company, config, counters, err := marshalCampaignDoc(c)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET name = $2, status = $3, company = $4, config = $5,
			counters = $6, updated_at = $7
		WHERE id = $1
	`, c.ID, c.Name, string(c.Status), company, config, counters, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) List(ctx context.Context) ([]*domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, status, company, config, counters, created_at, updated_at
		FROM campaigns ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func marshalCampaignDoc(c *domain.Campaign) (company, config, counters []byte, err error) {
	if company, err = json.Marshal(c.Company); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal company: %w", err)
	}
	if config, err = json.Marshal(c.Config); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal config: %w", err)
	}
	if counters, err = json.Marshal(c.Counters); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal counters: %w", err)
	}
	return company, config, counters, nil
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var status string
	var company, config, counters []byte
	err := row.Scan(&c.ID, &c.Name, &status, &company, &config, &counters, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CampaignStatus(status)
	if err := unmarshalJSONB(company, &c.Company); err != nil {
		return nil, fmt.Errorf("decode company: %w", err)
	}
	if err := unmarshalJSONB(config, &c.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := unmarshalJSONB(counters, &c.Counters); err != nil {
		return nil, fmt.Errorf("decode counters: %w", err)
	}
	return &c, nil
}
