package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/store"
)

// ProfileRepo implements store.ProfileStore against PostgreSQL.
// Profiles are append-only: every enrichment run inserts a new version row.
type ProfileRepo struct{ db *sql.DB }

// NewProfileRepo creates a Postgres-backed profile repository.
func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{db: db} }

func (r *ProfileRepo) Latest(ctx context.Context, investorID string) (*domain.InvestorProfile, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT version, profile FROM investor_profiles
		WHERE investor_id = $1
		ORDER BY version DESC LIMIT 1
	`, investorID))
}

func (r *ProfileRepo) Version(ctx context.Context, investorID string, version int) (*domain.InvestorProfile, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT version, profile FROM investor_profiles
		WHERE investor_id = $1 AND version = $2
	`, investorID, version))
}

func (r *ProfileRepo) Append(ctx context.Context, p *domain.InvestorProfile) (*domain.InvestorProfile, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append profile: %w", err)
	}
	defer tx.Rollback()

	stored := *p
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM investor_profiles WHERE investor_id = $1
	`, p.InvestorID).Scan(&stored.Version); err != nil {
		return nil, fmt.Errorf("next profile version: %w", err)
	}

	body, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO investor_profiles (investor_id, version, profile) VALUES ($1, $2, $3)
	`, stored.InvestorID, stored.Version, body); err != nil {
		return nil, fmt.Errorf("append profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append profile: %w", err)
	}
	return &stored, nil
}

func (r *ProfileRepo) scanOne(row *sql.Row) (*domain.InvestorProfile, error) {
	var version int
	var body []byte
	err := row.Scan(&version, &body)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	var p domain.InvestorProfile
	if err := unmarshalJSONB(body, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	p.Version = version
	return &p, nil
}
