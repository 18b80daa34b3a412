package domain

import (
	"fmt"
	"time"
)

// ItemState represents where an outreach item sits in the pipeline.
type ItemState string

const (
	StateIngested          ItemState = "ingested"
	StateEnriching         ItemState = "enriching"
	StateEnriched          ItemState = "enriched"
	StateScoring           ItemState = "scoring"
	StateScored            ItemState = "scored"
	StateDrafting          ItemState = "drafting"
	StateAwaitingApproval  ItemState = "awaiting_approval"
	StateApproved          ItemState = "approved"
	StateRejected          ItemState = "rejected"
	StateDispatching       ItemState = "dispatching"
	StateSent              ItemState = "sent"
	StateTracking          ItemState = "tracking"
	StateFollowUpScheduled ItemState = "follow_up_scheduled"
	StateClosed            ItemState = "closed"
	StateFailed            ItemState = "failed"
)

// Stage identifies a unit of pipeline work for attempt counting and
// rate-limit scoping. Only stages that call external collaborators have
// worker pools.
type Stage string

const (
	StageEnrich   Stage = "enrich"
	StageScore    Stage = "score"
	StageDraft    Stage = "draft"
	StageDispatch Stage = "dispatch"
)

// validNext maps each state to the states an item may legally move to.
// The Ingested/Scored/Approved entries appearing as targets of their
// in-flight states (Enriching, Drafting, Dispatching) are the retry
// returns: a failed attempt puts the item back where it was picked up.
var validNext = map[ItemState][]ItemState{
	StateIngested:          {StateEnriching, StateFailed},
	StateEnriching:         {StateEnriched, StateIngested, StateFailed},
	StateEnriched:          {StateScoring, StateFailed},
	StateScoring:           {StateScored, StateEnriched, StateFailed},
	StateScored:            {StateDrafting, StateFailed},
	StateDrafting:          {StateAwaitingApproval, StateScored, StateFailed},
	StateAwaitingApproval:  {StateApproved, StateRejected, StateFailed},
	StateApproved:          {StateDispatching, StateFailed},
	StateDispatching:       {StateSent, StateApproved, StateFailed},
	StateSent:              {StateTracking, StateFailed},
	StateTracking:          {StateFollowUpScheduled, StateClosed, StateFailed},
	StateFollowUpScheduled: {StateDrafting, StateScoring, StateClosed, StateFailed},
	StateRejected:          {},
	StateClosed:            {},
	StateFailed:            {},
}

// IsTerminal reports whether no further transitions are possible.
func (s ItemState) IsTerminal() bool {
	return s == StateRejected || s == StateClosed || s == StateFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s ItemState) CanTransition(next ItemState) bool {
	for _, n := range validNext[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Transition is one entry in an item's append-only state history.
type Transition struct {
	From   ItemState `json:"from"`
	To     ItemState `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// DraftInputs records what a draft was generated from, so staleness can be
// detected by version comparison alone.
type DraftInputs struct {
	InvestorVersion int `json:"investor_version"`
	CompanyVersion  int `json:"company_version"`
	Score           int `json:"score"`
	PriorVersion    int `json:"prior_version,omitempty"`
}

// Draft is one version of the outreach email for an item. Versions are
// append-only; operator edits create a new version rather than overwrite.
type Draft struct {
	Version       int         `json:"version"`
	Subject       string      `json:"subject"`
	Body          string      `json:"body"`
	TalkingPoints []string    `json:"talking_points"`
	Author        string      `json:"author"` // "generator" or the approver's email
	FollowUp      bool        `json:"follow_up"`
	Inputs        DraftInputs `json:"inputs"`
	CreatedAt     time.Time   `json:"created_at"`
}

// DraftAuthorGenerator marks drafts produced by the generation stage.
const DraftAuthorGenerator = "generator"

// DispatchRecord is the confirmation of one successful send.
type DispatchRecord struct {
	DraftVersion   int       `json:"draft_version"`
	IdempotencyKey string    `json:"idempotency_key"`
	MessageID      string    `json:"message_id"`
	SentAt         time.Time `json:"sent_at"`
}

// OutreachItem tracks a single investor through the pipeline for one
// campaign. All state mutation goes through the orchestrator.
type OutreachItem struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	InvestorID string `json:"investor_id"`

	State      ItemState `json:"state"`
	FailReason string    `json:"fail_reason,omitempty"`

	// InvestorVersion is the profile snapshot the item last worked from.
	InvestorVersion int         `json:"investor_version"`
	Score           *MatchScore `json:"score,omitempty"`

	Drafts     []Draft           `json:"drafts,omitempty"`
	Dispatches []DispatchRecord  `json:"dispatches,omitempty"`
	Engagement []EngagementEvent `json:"engagement,omitempty"`
	FollowUps  int               `json:"follow_ups"`

	Transitions   []Transition  `json:"transitions"`
	StageAttempts map[Stage]int `json:"stage_attempts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOutreachItem creates an item in the Ingested state.
func NewOutreachItem(id, campaignID, investorID string, now time.Time) *OutreachItem {
	return &OutreachItem{
		ID:            id,
		CampaignID:    campaignID,
		InvestorID:    investorID,
		State:         StateIngested,
		StageAttempts: make(map[Stage]int),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Advance validates and applies a state transition, appending it to the
// item's history. Callers persist the item afterwards.
func (i *OutreachItem) Advance(to ItemState, reason string, at time.Time) error {
	if i.State.IsTerminal() {
		return fmt.Errorf("item %s is terminal in state %s", i.ID, i.State)
	}
	if !i.State.CanTransition(to) {
		return fmt.Errorf("invalid transition %s -> %s for item %s", i.State, to, i.ID)
	}
	i.Transitions = append(i.Transitions, Transition{From: i.State, To: to, Reason: reason, At: at})
	i.State = to
	i.UpdatedAt = at
	if to == StateFailed {
		i.FailReason = reason
	}
	return nil
}

// CurrentDraft returns the latest draft version, or nil if none exists.
func (i *OutreachItem) CurrentDraft() *Draft {
	if len(i.Drafts) == 0 {
		return nil
	}
	return &i.Drafts[len(i.Drafts)-1]
}

// AddDraft appends the next draft version and returns it.
func (i *OutreachItem) AddDraft(d Draft) *Draft {
	d.Version = len(i.Drafts) + 1
	i.Drafts = append(i.Drafts, d)
	return &i.Drafts[len(i.Drafts)-1]
}

// LastDispatch returns the most recent confirmed send, or nil.
func (i *OutreachItem) LastDispatch() *DispatchRecord {
	if len(i.Dispatches) == 0 {
		return nil
	}
	return &i.Dispatches[len(i.Dispatches)-1]
}

// HasReplySince reports whether a reply event arrived after t.
func (i *OutreachItem) HasReplySince(t time.Time) bool {
	for _, ev := range i.Engagement {
		if ev.Kind == EngagementReply && ev.Timestamp.After(t) {
			return true
		}
	}
	return false
}

// BumpAttempt increments and returns the attempt count for a stage.
func (i *OutreachItem) BumpAttempt(stage Stage) int {
	if i.StageAttempts == nil {
		i.StageAttempts = make(map[Stage]int)
	}
	i.StageAttempts[stage]++
	return i.StageAttempts[stage]
}

// ResetAttempts clears the attempt counter for a stage. Used when an item
// re-enters a stage for a new unit of work, e.g. a follow-up draft.
func (i *OutreachItem) ResetAttempts(stage Stage) {
	if i.StageAttempts != nil {
		delete(i.StageAttempts, stage)
	}
}
