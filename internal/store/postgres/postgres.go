// Package postgres implements the store interfaces against PostgreSQL.
// Aggregate documents (profiles, drafts, score rationale, transitions)
// live in JSONB columns; fields the pipeline filters on are real columns.
package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/fundline/outreach/internal/store"
)

// Open connects to Postgres and verifies the connection.
func Open(url string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewBundle wires Postgres-backed repositories into the standard store set.
func NewBundle(db *sql.DB) store.Bundle {
	return store.Bundle{
		Profiles:  NewProfileRepo(db),
		Items:     NewItemRepo(db),
		Campaigns: NewCampaignRepo(db),
		Events:    NewEventRepo(db),
		Tasks:     NewTaskRepo(db),
		Sends:     NewSendRepo(db),
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func unmarshalJSONB(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
