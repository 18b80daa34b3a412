package domain

import "time"

// FollowUpReason records why a follow-up task was scheduled.
type FollowUpReason string

const (
	// FollowUpNoResponse fires when the reply SLA elapsed with no reply.
	FollowUpNoResponse FollowUpReason = "no_response_sla"
	// FollowUpPositiveEngagement fires after a reply classified as
	// interested but not yet converted.
	FollowUpPositiveEngagement FollowUpReason = "positive_engagement"
	// FollowUpExplicitRequest fires when an operator asks for a follow-up.
	FollowUpExplicitRequest FollowUpReason = "explicit_request"
	// FollowUpManualTriage fires when a reply arrived but no classifier is
	// configured to interpret it.
	FollowUpManualTriage FollowUpReason = "manual_triage"
)

// FollowUpStatus is the lifecycle of a scheduled task.
type FollowUpStatus string

const (
	FollowUpPending   FollowUpStatus = "pending"
	FollowUpFired     FollowUpStatus = "fired"
	FollowUpCancelled FollowUpStatus = "cancelled"
)

// FollowUpTask schedules the next touch for an item. An item has at most
// one pending task at a time; scheduling a new one cancels the previous.
type FollowUpTask struct {
	ID          string         `json:"id"`
	ItemID      string         `json:"item_id"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Reason      FollowUpReason `json:"reason"`
	Status      FollowUpStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}
