// Package campaign manages campaign lifecycle and the incrementally
// maintained funnel counters. The service is the single writer for
// counter updates: the orchestrator, approval gate, and engagement
// tracker report edges here instead of touching the campaign row.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/pkg/distlock"
	"github.com/fundline/outreach/internal/pkg/logger"
	"github.com/fundline/outreach/internal/store"
)

// countPage bounds one List call while walking a campaign's items.
const countPage = 200

// ErrStatusConflict is returned when a lifecycle operation does not
// apply to the campaign's current status.
var ErrStatusConflict = errors.New("campaign status conflict")

// Defaults fill campaign config fields left zero at creation.
type Defaults struct {
	ReplySLAHours    int
	MaxStageAttempts int
	MaxFollowUps     int
}

// CreateParams is the operator input for a new campaign. Config fields
// left zero take the server defaults.
type CreateParams struct {
	Name    string                `json:"name"`
	Company domain.CompanyProfile `json:"company"`
	Config  domain.CampaignConfig `json:"config"`
}

// Service owns campaign rows. Counter writes serialize through its
// mutex, so one service instance must own a deployment's counters;
// Recount rebuilds from item histories when drift slips in anyway.
type Service struct {
	campaigns store.CampaignStore
	items     store.ItemStore
	defaults  Defaults
	lock      distlock.Lock
	log       *logger.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewService builds the campaign service. lock may be nil when a
// single instance runs recounts.
func NewService(campaigns store.CampaignStore, items store.ItemStore, defaults Defaults, lock distlock.Lock) *Service {
	return &Service{
		campaigns: campaigns,
		items:     items,
		defaults:  defaults,
		lock:      lock,
		log:       logger.Component("campaign"),
		now:       time.Now,
	}
}

// Create validates operator input, fills config defaults, and stores
// the campaign in the active status.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Campaign, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, errors.New("campaign name required")
	}
	if strings.TrimSpace(p.Company.Name) == "" {
		return nil, errors.New("company name required")
	}

	cfg := p.Config
	if cfg.ReplySLAHours <= 0 {
		cfg.ReplySLAHours = s.defaults.ReplySLAHours
	}
	if cfg.MaxStageAttempts <= 0 {
		cfg.MaxStageAttempts = s.defaults.MaxStageAttempts
	}
	if cfg.MaxFollowUps <= 0 {
		cfg.MaxFollowUps = s.defaults.MaxFollowUps
	}
	company := p.Company
	if company.Version <= 0 {
		company.Version = 1
	}

	now := s.now().UTC()
	camp := &domain.Campaign{
		ID:        uuid.NewString(),
		Name:      name,
		Company:   company,
		Config:    cfg,
		Status:    domain.CampaignActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.campaigns.Create(ctx, camp); err != nil {
		return nil, err
	}

	s.log.Info("campaign created",
		"campaign_id", camp.ID,
		"name", camp.Name,
		"company", camp.Company.Name,
		"reply_sla_hours", cfg.ReplySLAHours,
		"max_follow_ups", cfg.MaxFollowUps)
	return camp, nil
}

// Get returns one campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.campaigns.Get(ctx, id)
}

// List returns all campaigns.
func (s *Service) List(ctx context.Context) ([]*domain.Campaign, error) {
	return s.campaigns.List(ctx)
}

// Suspend stops intake for an active campaign. In-flight items keep
// moving.
func (s *Service) Suspend(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.setStatus(ctx, id, domain.CampaignActive, domain.CampaignSuspended, "campaign suspended")
}

// Resume reopens intake for a suspended campaign.
func (s *Service) Resume(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.setStatus(ctx, id, domain.CampaignSuspended, domain.CampaignActive, "campaign resumed")
}

func (s *Service) setStatus(ctx context.Context, id string, from, to domain.CampaignStatus, msg string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	camp, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if camp.Status != from {
		return nil, fmt.Errorf("campaign %s is %s: %w", id, camp.Status, ErrStatusConflict)
	}
	camp.Status = to
	camp.UpdatedAt = s.now().UTC()
	if err := s.campaigns.Update(ctx, camp); err != nil {
		return nil, err
	}
	s.log.Info(msg, "campaign_id", id)
	return camp, nil
}

// Cancel stops all work on a campaign. Every item not yet in a
// terminal state fails out with reason "cancelled"; workers holding an
// item mid-call reach the same answer through their own status checks.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	camp, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if camp.Status.IsTerminal() {
		return nil, fmt.Errorf("campaign %s is already %s: %w", id, camp.Status, ErrStatusConflict)
	}

	camp.Status = domain.CampaignCancelled
	camp.UpdatedAt = s.now().UTC()
	if err := s.campaigns.Update(ctx, camp); err != nil {
		return nil, err
	}

	ids, err := s.campaignItemIDs(ctx, id, false)
	if err != nil {
		return nil, err
	}
	failed := 0
	for _, itemID := range ids {
		item, err := s.items.Get(ctx, itemID)
		if err != nil {
			s.log.Error("load item", "item_id", itemID, "error", err.Error())
			continue
		}
		if item.State.IsTerminal() {
			continue
		}
		if err := item.Advance(domain.StateFailed, "cancelled", s.now().UTC()); err != nil {
			s.log.Error("advance item", "item_id", itemID, "error", err.Error())
			continue
		}
		if err := s.items.Update(ctx, item); err != nil {
			s.log.Error("update item", "item_id", itemID, "error", err.Error())
			continue
		}
		camp.Counters.Failed++
		failed++
	}
	if failed > 0 {
		camp.UpdatedAt = s.now().UTC()
		if err := s.campaigns.Update(ctx, camp); err != nil {
			return nil, err
		}
	}

	s.log.Info("campaign cancelled", "campaign_id", id, "items_failed", failed)
	return camp, nil
}

// Complete closes a campaign whose items have all finished. The check
// runs against live items, not counters, so drift cannot complete a
// campaign early.
func (s *Service) Complete(ctx context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	camp, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if camp.Status.IsTerminal() {
		return nil, fmt.Errorf("campaign %s is already %s: %w", id, camp.Status, ErrStatusConflict)
	}

	open, err := s.items.List(ctx, store.ItemFilter{
		CampaignID: id,
		States:     nonTerminalStates(),
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return nil, fmt.Errorf("campaign %s has items still in flight: %w", id, ErrStatusConflict)
	}

	camp.Status = domain.CampaignCompleted
	camp.UpdatedAt = s.now().UTC()
	if err := s.campaigns.Update(ctx, camp); err != nil {
		return nil, err
	}
	s.log.Info("campaign completed", "campaign_id", id)
	return camp, nil
}

// OnTransition records one item state edge in the campaign funnel.
// Item creation arrives as an edge with an empty From state.
func (s *Service) OnTransition(ctx context.Context, campaignID string, from, to domain.ItemState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	camp, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		s.log.Error("load campaign for counter", "campaign_id", campaignID, "error", err.Error())
		return
	}
	applyEdge(&camp.Counters, from, to)
	camp.UpdatedAt = s.now().UTC()
	if err := s.campaigns.Update(ctx, camp); err != nil {
		s.log.Error("update campaign counters", "campaign_id", campaignID, "error", err.Error())
	}
}

// OnEngagement records one deduplicated engagement event in the
// campaign funnel.
func (s *Service) OnEngagement(ctx context.Context, campaignID string, kind domain.EngagementKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	camp, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		s.log.Error("load campaign for counter", "campaign_id", campaignID, "error", err.Error())
		return
	}
	applyEngagement(&camp.Counters, kind)
	camp.UpdatedAt = s.now().UTC()
	if err := s.campaigns.Update(ctx, camp); err != nil {
		s.log.Error("update campaign counters", "campaign_id", campaignID, "error", err.Error())
	}
}

// Recount rebuilds the funnel from item histories and replaces the
// stored counters when they drifted. Returns the rebuilt counters and
// whether a drift was found.
func (s *Service) Recount(ctx context.Context, campaignID string) (*domain.CampaignCounters, bool, error) {
	if s.lock != nil {
		got, err := s.lock.Acquire(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("acquire recount lock: %w", err)
		}
		if !got {
			return nil, false, errors.New("recount already running elsewhere")
		}
		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				s.log.Warn("release recount lock", "error", err.Error())
			}
		}()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	camp, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, false, err
	}

	ids, err := s.campaignItemIDs(ctx, campaignID, true)
	if err != nil {
		return nil, false, err
	}
	var rebuilt domain.CampaignCounters
	for _, itemID := range ids {
		item, err := s.items.Get(ctx, itemID)
		if err != nil {
			return nil, false, fmt.Errorf("load item %s: %w", itemID, err)
		}
		rebuilt.Items++
		for _, tr := range item.Transitions {
			applyEdge(&rebuilt, tr.From, tr.To)
		}
		for _, ev := range item.Engagement {
			applyEngagement(&rebuilt, ev.Kind)
		}
	}

	drifted := rebuilt != camp.Counters
	if drifted {
		s.log.Warn("counter drift repaired",
			"campaign_id", campaignID,
			"stored_items", camp.Counters.Items,
			"rebuilt_items", rebuilt.Items,
			"stored_sent", camp.Counters.Sent,
			"rebuilt_sent", rebuilt.Sent)
		camp.Counters = rebuilt
		camp.UpdatedAt = s.now().UTC()
		if err := s.campaigns.Update(ctx, camp); err != nil {
			return nil, true, err
		}
	}
	out := rebuilt
	return &out, drifted, nil
}

// campaignItemIDs snapshots item ids before any mutation so offset
// paging cannot skip over shifting results.
func (s *Service) campaignItemIDs(ctx context.Context, campaignID string, includeTerminal bool) ([]string, error) {
	f := store.ItemFilter{CampaignID: campaignID, Limit: countPage}
	if !includeTerminal {
		f.States = nonTerminalStates()
	}
	var ids []string
	for offset := 0; ; offset += countPage {
		f.Offset = offset
		page, err := s.items.List(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		for _, it := range page {
			ids = append(ids, it.ID)
		}
		if len(page) < countPage {
			return ids, nil
		}
	}
}

func nonTerminalStates() []domain.ItemState {
	return []domain.ItemState{
		domain.StateIngested,
		domain.StateEnriching,
		domain.StateEnriched,
		domain.StateScoring,
		domain.StateScored,
		domain.StateDrafting,
		domain.StateAwaitingApproval,
		domain.StateApproved,
		domain.StateDispatching,
		domain.StateSent,
		domain.StateTracking,
		domain.StateFollowUpScheduled,
	}
}

// applyEdge increments the counter for the state an edge enters.
// Re-entries count again; Ingested only counts through the synthetic
// creation edge so retry rewinds do not inflate Items.
func applyEdge(c *domain.CampaignCounters, from, to domain.ItemState) {
	if from == "" && to == domain.StateIngested {
		c.Items++
		return
	}
	switch to {
	case domain.StateEnriched:
		c.Enriched++
	case domain.StateScored:
		c.Scored++
	case domain.StateAwaitingApproval:
		c.Awaiting++
	case domain.StateApproved:
		c.Approved++
	case domain.StateRejected:
		c.Rejected++
	case domain.StateSent:
		c.Sent++
	case domain.StateFollowUpScheduled:
		c.FollowUps++
	case domain.StateClosed:
		c.Closed++
	case domain.StateFailed:
		c.Failed++
	}
}

func applyEngagement(c *domain.CampaignCounters, kind domain.EngagementKind) {
	switch kind {
	case domain.EngagementOpen:
		c.Opened++
	case domain.EngagementClick:
		c.Clicked++
	case domain.EngagementReply:
		c.Replied++
	case domain.EngagementBounce:
		c.Bounced++
	}
}
