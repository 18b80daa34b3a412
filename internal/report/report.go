// Package report builds campaign report snapshots from the stores and
// persists them to local disk, S3, or DynamoDB. A snapshot is a
// self-contained JSON document so it stays readable after the campaign
// rows move on.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/scoring"
	"github.com/fundline/outreach/internal/store"
)

// reportPage bounds one List call while walking a campaign's items.
const reportPage = 200

// topMatchLimit caps the ranked match list in a snapshot.
const topMatchLimit = 10

// CampaignReport is one point-in-time snapshot of a campaign.
type CampaignReport struct {
	CampaignID   string                  `json:"campaign_id"`
	CampaignName string                  `json:"campaign_name"`
	Company      string                  `json:"company"`
	Status       domain.CampaignStatus   `json:"status"`
	GeneratedAt  time.Time               `json:"generated_at"`
	Funnel       domain.CampaignCounters `json:"funnel"`
	Rates        EngagementRates         `json:"rates"`
	TopMatches   []MatchEntry            `json:"top_matches,omitempty"`
	Pending      []PendingApproval       `json:"pending_approvals,omitempty"`
}

// EngagementRates are derived from the funnel counters. All rates are
// fractions in [0,1]; rates with a zero denominator stay zero.
type EngagementRates struct {
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
	ReplyRate    float64 `json:"reply_rate"`
	BounceRate   float64 `json:"bounce_rate"`
	ApprovalRate float64 `json:"approval_rate"`
}

// MatchEntry is one ranked investor match.
type MatchEntry struct {
	ItemID     string           `json:"item_id"`
	InvestorID string           `json:"investor_id"`
	Name       string           `json:"name,omitempty"`
	Firm       string           `json:"firm,omitempty"`
	Score      int              `json:"score"`
	State      domain.ItemState `json:"state"`
}

// PendingApproval is one item waiting on an operator decision.
type PendingApproval struct {
	ItemID       string    `json:"item_id"`
	InvestorID   string    `json:"investor_id"`
	Subject      string    `json:"subject"`
	DraftVersion int       `json:"draft_version"`
	WaitingSince time.Time `json:"waiting_since"`
}

// Generator assembles campaign reports from the stores.
type Generator struct {
	campaigns store.CampaignStore
	items     store.ItemStore
	profiles  store.ProfileStore
	now       func() time.Time
}

// NewGenerator creates a report generator over the given stores.
func NewGenerator(campaigns store.CampaignStore, items store.ItemStore, profiles store.ProfileStore) *Generator {
	return &Generator{
		campaigns: campaigns,
		items:     items,
		profiles:  profiles,
		now:       time.Now,
	}
}

// Generate builds a snapshot for the campaign. The funnel comes from the
// campaign's live counters; matches and pending approvals come from a
// walk over the campaign's items.
func (g *Generator) Generate(ctx context.Context, campaignID string) (*CampaignReport, error) {
	camp, err := g.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("loading campaign %s: %w", campaignID, err)
	}

	rep := &CampaignReport{
		CampaignID:   camp.ID,
		CampaignName: camp.Name,
		Company:      camp.Company.Name,
		Status:       camp.Status,
		GeneratedAt:  g.now().UTC(),
		Funnel:       camp.Counters,
		Rates:        deriveRates(camp.Counters),
	}

	items, err := g.campaignItems(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	rep.TopMatches = g.topMatches(ctx, items)
	rep.Pending = pendingApprovals(items)

	return rep, nil
}

func (g *Generator) campaignItems(ctx context.Context, campaignID string) ([]*domain.OutreachItem, error) {
	var all []*domain.OutreachItem
	offset := 0
	for {
		page, err := g.items.List(ctx, store.ItemFilter{
			CampaignID: campaignID,
			Limit:      reportPage,
			Offset:     offset,
		})
		if err != nil {
			return nil, fmt.Errorf("listing campaign items: %w", err)
		}
		all = append(all, page...)
		if len(page) < reportPage {
			return all, nil
		}
		offset += len(page)
	}
}

// topMatches ranks every scored item and returns the best few, decorated
// with the investor identity from the profile version the score used.
func (g *Generator) topMatches(ctx context.Context, items []*domain.OutreachItem) []MatchEntry {
	var cands []scoring.Candidate
	profiles := make(map[string]*domain.InvestorProfile)

	for _, item := range items {
		if item.Score == nil {
			continue
		}
		cand := scoring.Candidate{
			ItemID:     item.ID,
			InvestorID: item.InvestorID,
			Score:      item.Score.Score,
		}
		if p := g.profileFor(ctx, profiles, item); p != nil {
			cand.Firm = p.Firm
			cand.LastActivityAt = p.LastActivityAt()
		}
		cands = append(cands, cand)
	}

	scoring.Rank(cands)
	if len(cands) > topMatchLimit {
		cands = cands[:topMatchLimit]
	}

	entries := make([]MatchEntry, 0, len(cands))
	for _, c := range cands {
		entry := MatchEntry{
			ItemID:     c.ItemID,
			InvestorID: c.InvestorID,
			Firm:       c.Firm,
			Score:      c.Score,
		}
		if p, ok := profiles[c.ItemID]; ok && p != nil {
			entry.Name = p.Name
		}
		for _, item := range items {
			if item.ID == c.ItemID {
				entry.State = item.State
				break
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// profileFor loads the profile version the item was scored against,
// falling back to the latest snapshot. A missing profile only costs the
// entry its name and firm.
func (g *Generator) profileFor(ctx context.Context, cache map[string]*domain.InvestorProfile, item *domain.OutreachItem) *domain.InvestorProfile {
	if p, ok := cache[item.ID]; ok {
		return p
	}
	var p *domain.InvestorProfile
	var err error
	if item.InvestorVersion > 0 {
		p, err = g.profiles.Version(ctx, item.InvestorID, item.InvestorVersion)
	} else {
		p, err = g.profiles.Latest(ctx, item.InvestorID)
	}
	if err != nil {
		p = nil
	}
	cache[item.ID] = p
	return p
}

func pendingApprovals(items []*domain.OutreachItem) []PendingApproval {
	var pending []PendingApproval
	for _, item := range items {
		if item.State != domain.StateAwaitingApproval {
			continue
		}
		draft := item.CurrentDraft()
		if draft == nil {
			continue
		}
		entry := PendingApproval{
			ItemID:       item.ID,
			InvestorID:   item.InvestorID,
			Subject:      draft.Subject,
			DraftVersion: draft.Version,
			WaitingSince: item.UpdatedAt,
		}
		if n := len(item.Transitions); n > 0 {
			entry.WaitingSince = item.Transitions[n-1].At
		}
		pending = append(pending, entry)
	}
	return pending
}

func deriveRates(c domain.CampaignCounters) EngagementRates {
	var r EngagementRates
	if c.Sent > 0 {
		r.OpenRate = float64(c.Opened) / float64(c.Sent)
		r.ClickRate = float64(c.Clicked) / float64(c.Sent)
		r.ReplyRate = float64(c.Replied) / float64(c.Sent)
		r.BounceRate = float64(c.Bounced) / float64(c.Sent)
	}
	if decided := c.Approved + c.Rejected; decided > 0 {
		r.ApprovalRate = float64(c.Approved) / float64(decided)
	}
	return r
}
