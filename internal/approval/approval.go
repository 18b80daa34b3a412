// Package approval implements the human review gate between drafting and
// dispatch. Nothing is ever sent without an explicit operator decision; an
// item with no decision waits indefinitely.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/pkg/logger"
	"github.com/fundline/outreach/internal/store"
)

var (
	// ErrNotPending is returned when the item never reached the gate.
	ErrNotPending = errors.New("item is not awaiting approval")
	// ErrAlreadyDecided is returned when a decision for the current
	// draft was already recorded, e.g. a double submit.
	ErrAlreadyDecided = errors.New("item already decided")
)

// Decision is an operator verdict on a pending draft.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// EditedDraft carries operator changes submitted with an approval. The
// edit becomes a new draft version attributed to the approver; human
// drafts are not fact-checked.
type EditedDraft struct {
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	TalkingPoints []string `json:"talking_points,omitempty"`
}

// Pipeline is the slice of the orchestrator the gate needs: pushing an
// approved item toward dispatch.
type Pipeline interface {
	ResumeApproved(itemID string)
}

// CounterSink receives state transition edges for campaign funnel
// accounting.
type CounterSink interface {
	OnTransition(ctx context.Context, campaignID string, from, to domain.ItemState)
}

// Gate queues drafted items for review and applies operator decisions.
type Gate struct {
	items    store.ItemStore
	pipeline Pipeline
	counters CounterSink
	log      *logger.Logger
	now      func() time.Time
}

// NewGate builds the approval gate. pipeline and counters may be nil in
// tests or headless tools.
func NewGate(items store.ItemStore, pipeline Pipeline, counters CounterSink) *Gate {
	return &Gate{
		items:    items,
		pipeline: pipeline,
		counters: counters,
		log:      logger.Component("approval"),
		now:      time.Now,
	}
}

// Enqueue moves a freshly drafted item into the review queue. Called by
// the pipeline after a draft version is appended.
func (g *Gate) Enqueue(ctx context.Context, item *domain.OutreachItem) error {
	current := item.CurrentDraft()
	if current == nil {
		return fmt.Errorf("item %s has no draft to review", item.ID)
	}
	reason := fmt.Sprintf("draft v%d ready for review", current.Version)
	if err := item.Advance(domain.StateAwaitingApproval, reason, g.now().UTC()); err != nil {
		return err
	}
	if err := g.items.Update(ctx, item); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	g.notifyTransition(ctx, item)
	return nil
}

// Pending lists items waiting for a decision, oldest first. campaignID
// narrows the listing when non-empty.
func (g *Gate) Pending(ctx context.Context, campaignID string) ([]*domain.OutreachItem, error) {
	return g.items.List(ctx, store.ItemFilter{
		CampaignID: campaignID,
		States:     []domain.ItemState{domain.StateAwaitingApproval},
	})
}

// Decide records an operator verdict. Approvals may carry an edited
// draft, stored as a new version authored by the approver. Approved
// items are handed back to the pipeline for dispatch; rejected items are
// terminal.
func (g *Gate) Decide(ctx context.Context, itemID string, decision Decision, edited *EditedDraft, approver string) (*domain.OutreachItem, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, fmt.Errorf("unknown decision %q", decision)
	}
	if strings.TrimSpace(approver) == "" {
		return nil, errors.New("approver identity required")
	}

	item, err := g.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.State != domain.StateAwaitingApproval {
		for _, tr := range item.Transitions {
			if tr.From == domain.StateAwaitingApproval {
				return nil, fmt.Errorf("item %s: %w", itemID, ErrAlreadyDecided)
			}
		}
		return nil, fmt.Errorf("item %s in state %s: %w", itemID, item.State, ErrNotPending)
	}
	base := item.CurrentDraft()
	if base == nil {
		return nil, fmt.Errorf("item %s is awaiting approval without a draft", itemID)
	}

	to := domain.StateRejected
	reason := "rejected by " + approver
	if decision == DecisionApprove {
		to = domain.StateApproved
		reason = "approved by " + approver
		if edited != nil {
			if strings.TrimSpace(edited.Subject) == "" || strings.TrimSpace(edited.Body) == "" {
				return nil, errors.New("edited draft needs a subject and a body")
			}
			item.AddDraft(domain.Draft{
				Subject:       strings.TrimSpace(edited.Subject),
				Body:          edited.Body,
				TalkingPoints: edited.TalkingPoints,
				Author:        approver,
				FollowUp:      base.FollowUp,
				Inputs:        base.Inputs,
				CreatedAt:     g.now().UTC(),
			})
			reason += " with edits"
		}
	}

	if err := item.Advance(to, reason, g.now().UTC()); err != nil {
		return nil, err
	}
	if err := g.items.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	g.notifyTransition(ctx, item)

	g.log.Info("decision recorded",
		"item_id", item.ID,
		"campaign_id", item.CampaignID,
		"decision", string(decision),
		"approver", approver,
		"draft_version", item.CurrentDraft().Version)

	if to == domain.StateApproved && g.pipeline != nil {
		g.pipeline.ResumeApproved(item.ID)
	}
	return item, nil
}

func (g *Gate) notifyTransition(ctx context.Context, item *domain.OutreachItem) {
	if g.counters == nil || len(item.Transitions) == 0 {
		return
	}
	last := item.Transitions[len(item.Transitions)-1]
	g.counters.OnTransition(ctx, item.CampaignID, last.From, last.To)
}
