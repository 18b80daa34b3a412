// Package store defines persistence for pipeline state. Two backends
// implement it: Postgres for deployments and an in-memory store for
// single-process runs and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fundline/outreach/internal/domain"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a uniqueness rule would be violated.
	ErrDuplicate = errors.New("store: duplicate")
)

// ProfileStore holds append-only investor profile snapshots.
type ProfileStore interface {
	// Latest returns the highest version for an investor.
	Latest(ctx context.Context, investorID string) (*domain.InvestorProfile, error)
	// Version returns one specific snapshot.
	Version(ctx context.Context, investorID string, version int) (*domain.InvestorProfile, error)
	// Append writes p as the next version and returns the stored
	// snapshot with its assigned version.
	Append(ctx context.Context, p *domain.InvestorProfile) (*domain.InvestorProfile, error)
}

// ItemFilter narrows List queries.
type ItemFilter struct {
	CampaignID string
	InvestorID string
	States     []domain.ItemState
	Limit      int
	Offset     int
}

// ItemStore holds outreach items. One investor appears at most once per
// campaign; Create enforces that with ErrDuplicate.
type ItemStore interface {
	Create(ctx context.Context, item *domain.OutreachItem) error
	Get(ctx context.Context, id string) (*domain.OutreachItem, error)
	Update(ctx context.Context, item *domain.OutreachItem) error
	List(ctx context.Context, f ItemFilter) ([]*domain.OutreachItem, error)
}

// CampaignStore holds campaigns.
type CampaignStore interface {
	Create(ctx context.Context, c *domain.Campaign) error
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	Update(ctx context.Context, c *domain.Campaign) error
	List(ctx context.Context) ([]*domain.Campaign, error)
}

// EventStore holds engagement events keyed by provider event id.
type EventStore interface {
	// Append stores ev and reports whether it was new. Redelivered
	// events return false with no error.
	Append(ctx context.Context, ev domain.EngagementEvent) (bool, error)
	ListByItem(ctx context.Context, itemID string) ([]domain.EngagementEvent, error)
}

// TaskStore holds follow-up tasks.
type TaskStore interface {
	// Save upserts a task by id.
	Save(ctx context.Context, task *domain.FollowUpTask) error
	// Pending returns the single pending task for an item, or
	// ErrNotFound.
	Pending(ctx context.Context, itemID string) (*domain.FollowUpTask, error)
	// Due returns pending tasks scheduled at or before now, oldest
	// first.
	Due(ctx context.Context, now time.Time, limit int) ([]*domain.FollowUpTask, error)
}

// SendHistory records confirmed sends by idempotency key, backing the
// duplicate-send guard for transports without native idempotency.
type SendHistory interface {
	// Lookup returns the record for key, or ErrNotFound.
	Lookup(ctx context.Context, key string) (*domain.DispatchRecord, error)
	// Record stores a confirmation. A second record under the same key
	// returns ErrDuplicate.
	Record(ctx context.Context, itemID string, rec domain.DispatchRecord) error
}

// Bundle groups one backend's stores for wiring.
type Bundle struct {
	Profiles  ProfileStore
	Items     ItemStore
	Campaigns CampaignStore
	Events    EventStore
	Tasks     TaskStore
	Sends     SendHistory
}
