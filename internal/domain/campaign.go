package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	// CampaignActive accepts new items and runs pipeline work.
	CampaignActive CampaignStatus = "active"
	// CampaignSuspended refuses new items; in-flight items keep moving.
	CampaignSuspended CampaignStatus = "suspended"
	// CampaignCancelled stops all work. In-flight items fail out.
	CampaignCancelled CampaignStatus = "cancelled"
	// CampaignCompleted is set when every item reached a terminal state.
	CampaignCompleted CampaignStatus = "completed"
)

// IsTerminal returns true if the campaign is in a final state.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCancelled || s == CampaignCompleted
}

// CampaignConfig holds the per-campaign knobs. Zero values fall back to
// server defaults when the campaign is created.
type CampaignConfig struct {
	// ReplySLAHours is how long after a send we wait for a reply before
	// scheduling a follow-up.
	ReplySLAHours int `json:"reply_sla_hours"`
	// MaxStageAttempts caps attempts per external stage before the item
	// fails out.
	MaxStageAttempts int `json:"max_stage_attempts"`
	// MaxFollowUps caps how many follow-up cycles an item may go through.
	MaxFollowUps int `json:"max_follow_ups"`
	// SendRatePerMinute adds a campaign-scoped send budget on top of the
	// global dispatch limit. Zero means no extra cap.
	SendRatePerMinute int `json:"send_rate_per_minute,omitempty"`
}

// ReplySLA returns the reply window as a duration.
func (c CampaignConfig) ReplySLA() time.Duration {
	return time.Duration(c.ReplySLAHours) * time.Hour
}

// CampaignCounters is the incrementally maintained funnel for a campaign.
//
// Update rule: a state counter increments exactly once per transition edge
// that enters the counted state, so re-entries count again (Sent counts
// every confirmed send, follow-ups included). Engagement counters count
// deduplicated provider events, not unique items, so Opened can exceed
// Sent. Recount rebuilds the same numbers from item histories.
type CampaignCounters struct {
	Items     int `json:"items"`
	Enriched  int `json:"enriched"`
	Scored    int `json:"scored"`
	Awaiting  int `json:"awaiting_approval"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Sent      int `json:"sent"`
	FollowUps int `json:"follow_ups_scheduled"`
	Closed    int `json:"closed"`
	Failed    int `json:"failed"`

	Opened  int `json:"opened"`
	Clicked int `json:"clicked"`
	Replied int `json:"replied"`
	Bounced int `json:"bounced"`
}

// Campaign groups outreach items around one fundraising company.
type Campaign struct {
	ID       string           `json:"id" db:"id"`
	Name     string           `json:"name" db:"name"`
	Company  CompanyProfile   `json:"company"`
	Config   CampaignConfig   `json:"config"`
	Status   CampaignStatus   `json:"status" db:"status"`
	Counters CampaignCounters `json:"counters"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AcceptsItems reports whether new investors may be submitted.
func (c *Campaign) AcceptsItems() bool {
	return c.Status == CampaignActive
}
