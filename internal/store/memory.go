package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fundline/outreach/internal/domain"
)

// Memory is an in-process store backend. Reads hand out deep copies so
// a caller mutating an item cannot bypass the orchestrator's write path.
type Memory struct {
	mu        sync.RWMutex
	profiles  map[string][]*domain.InvestorProfile // investor id → snapshots by version
	items     map[string]*domain.OutreachItem
	itemByKey map[string]string // campaign id + investor id → item id
	campaigns map[string]*domain.Campaign
	events    map[string]domain.EngagementEvent // source event id → event
	eventIDs  []string                          // insertion order
	tasks     map[string]*domain.FollowUpTask
	sends     map[string]domain.DispatchRecord // idempotency key → record
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		profiles:  make(map[string][]*domain.InvestorProfile),
		items:     make(map[string]*domain.OutreachItem),
		itemByKey: make(map[string]string),
		campaigns: make(map[string]*domain.Campaign),
		events:    make(map[string]domain.EngagementEvent),
		tasks:     make(map[string]*domain.FollowUpTask),
		sends:     make(map[string]domain.DispatchRecord),
	}
}

// Bundle exposes the backend as the standard store set.
func (m *Memory) Bundle() Bundle {
	return Bundle{
		Profiles:  &memProfiles{m},
		Items:     &memItems{m},
		Campaigns: &memCampaigns{m},
		Events:    &memEvents{m},
		Tasks:     &memTasks{m},
		Sends:     &memSends{m},
	}
}

func itemKey(campaignID, investorID string) string {
	return campaignID + "\x00" + investorID
}

// ----- ProfileStore -----

type memProfiles struct{ m *Memory }

func (s *memProfiles) Latest(ctx context.Context, investorID string) (*domain.InvestorProfile, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	snaps := s.m.profiles[investorID]
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	return cloneProfile(snaps[len(snaps)-1]), nil
}

func (s *memProfiles) Version(ctx context.Context, investorID string, version int) (*domain.InvestorProfile, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	snaps := s.m.profiles[investorID]
	if version < 1 || version > len(snaps) {
		return nil, ErrNotFound
	}
	return cloneProfile(snaps[version-1]), nil
}

func (s *memProfiles) Append(ctx context.Context, p *domain.InvestorProfile) (*domain.InvestorProfile, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	stored := cloneProfile(p)
	stored.Version = len(s.m.profiles[p.InvestorID]) + 1
	s.m.profiles[p.InvestorID] = append(s.m.profiles[p.InvestorID], stored)
	return cloneProfile(stored), nil
}

// ----- ItemStore -----

type memItems struct{ m *Memory }

func (s *memItems) Create(ctx context.Context, item *domain.OutreachItem) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, exists := s.m.items[item.ID]; exists {
		return ErrDuplicate
	}
	key := itemKey(item.CampaignID, item.InvestorID)
	if _, exists := s.m.itemByKey[key]; exists {
		return ErrDuplicate
	}
	s.m.items[item.ID] = cloneItem(item)
	s.m.itemByKey[key] = item.ID
	return nil
}

func (s *memItems) Get(ctx context.Context, id string) (*domain.OutreachItem, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	item, ok := s.m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *memItems) Update(ctx context.Context, item *domain.OutreachItem) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.items[item.ID]; !ok {
		return ErrNotFound
	}
	s.m.items[item.ID] = cloneItem(item)
	return nil
}

func (s *memItems) List(ctx context.Context, f ItemFilter) ([]*domain.OutreachItem, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	var out []*domain.OutreachItem
	for _, item := range s.m.items {
		if f.CampaignID != "" && item.CampaignID != f.CampaignID {
			continue
		}
		if f.InvestorID != "" && item.InvestorID != f.InvestorID {
			continue
		}
		if len(f.States) > 0 && !stateIn(item.State, f.States) {
			continue
		}
		out = append(out, cloneItem(item))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func stateIn(s domain.ItemState, states []domain.ItemState) bool {
	for _, st := range states {
		if s == st {
			return true
		}
	}
	return false
}

// ----- CampaignStore -----

type memCampaigns struct{ m *Memory }

func (s *memCampaigns) Create(ctx context.Context, c *domain.Campaign) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, exists := s.m.campaigns[c.ID]; exists {
		return ErrDuplicate
	}
	s.m.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (s *memCampaigns) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	c, ok := s.m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCampaign(c), nil
}

func (s *memCampaigns) Update(ctx context.Context, c *domain.Campaign) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.campaigns[c.ID]; !ok {
		return ErrNotFound
	}
	s.m.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (s *memCampaigns) List(ctx context.Context) ([]*domain.Campaign, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]*domain.Campaign, 0, len(s.m.campaigns))
	for _, c := range s.m.campaigns {
		out = append(out, cloneCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ----- EventStore -----

type memEvents struct{ m *Memory }

func (s *memEvents) Append(ctx context.Context, ev domain.EngagementEvent) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, seen := s.m.events[ev.SourceEventID]; seen {
		return false, nil
	}
	s.m.events[ev.SourceEventID] = cloneEvent(ev)
	s.m.eventIDs = append(s.m.eventIDs, ev.SourceEventID)
	return true, nil
}

func (s *memEvents) ListByItem(ctx context.Context, itemID string) ([]domain.EngagementEvent, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []domain.EngagementEvent
	for _, id := range s.m.eventIDs {
		if ev := s.m.events[id]; ev.ItemID == itemID {
			out = append(out, cloneEvent(ev))
		}
	}
	return out, nil
}

// ----- TaskStore -----

type memTasks struct{ m *Memory }

func (s *memTasks) Save(ctx context.Context, task *domain.FollowUpTask) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if task.Status == domain.FollowUpPending {
		for _, t := range s.m.tasks {
			if t.ItemID == task.ItemID && t.Status == domain.FollowUpPending && t.ID != task.ID {
				return ErrDuplicate
			}
		}
	}
	t := *task
	s.m.tasks[task.ID] = &t
	return nil
}

func (s *memTasks) Pending(ctx context.Context, itemID string) (*domain.FollowUpTask, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, t := range s.m.tasks {
		if t.ItemID == itemID && t.Status == domain.FollowUpPending {
			out := *t
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memTasks) Due(ctx context.Context, now time.Time, limit int) ([]*domain.FollowUpTask, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*domain.FollowUpTask
	for _, t := range s.m.tasks {
		if t.Status == domain.FollowUpPending && !t.ScheduledAt.After(now) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ----- SendHistory -----

type memSends struct{ m *Memory }

func (s *memSends) Lookup(ctx context.Context, key string) (*domain.DispatchRecord, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	rec, ok := s.m.sends[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

func (s *memSends) Record(ctx context.Context, itemID string, rec domain.DispatchRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, exists := s.m.sends[rec.IdempotencyKey]; exists {
		return ErrDuplicate
	}
	s.m.sends[rec.IdempotencyKey] = rec
	return nil
}

// ----- clone helpers -----

func cloneProfile(p *domain.InvestorProfile) *domain.InvestorProfile {
	c := *p
	c.Stages = append([]string(nil), p.Stages...)
	c.Sectors = append([]string(nil), p.Sectors...)
	c.Geographies = append([]string(nil), p.Geographies...)
	c.Portfolio = append([]domain.PortfolioCompany(nil), p.Portfolio...)
	c.RecentActivity = append([]domain.ActivityItem(nil), p.RecentActivity...)
	c.WarmConnections = append([]string(nil), p.WarmConnections...)
	c.Sources = append([]string(nil), p.Sources...)
	return &c
}

func cloneItem(i *domain.OutreachItem) *domain.OutreachItem {
	c := *i
	if i.Score != nil {
		s := *i.Score
		s.Rationale = append([]domain.ScoreFactor(nil), i.Score.Rationale...)
		c.Score = &s
	}
	c.Drafts = make([]domain.Draft, len(i.Drafts))
	for n, d := range i.Drafts {
		d.TalkingPoints = append([]string(nil), d.TalkingPoints...)
		c.Drafts[n] = d
	}
	c.Dispatches = append([]domain.DispatchRecord(nil), i.Dispatches...)
	c.Engagement = make([]domain.EngagementEvent, len(i.Engagement))
	for n, ev := range i.Engagement {
		c.Engagement[n] = cloneEvent(ev)
	}
	c.Transitions = append([]domain.Transition(nil), i.Transitions...)
	if i.StageAttempts != nil {
		c.StageAttempts = make(map[domain.Stage]int, len(i.StageAttempts))
		for k, v := range i.StageAttempts {
			c.StageAttempts[k] = v
		}
	}
	return &c
}

func cloneCampaign(c *domain.Campaign) *domain.Campaign {
	out := *c
	if c.Company.Metrics != nil {
		out.Company.Metrics = make(map[string]string, len(c.Company.Metrics))
		for k, v := range c.Company.Metrics {
			out.Company.Metrics[k] = v
		}
	}
	out.Company.Achievements = append([]string(nil), c.Company.Achievements...)
	return &out
}

func cloneEvent(ev domain.EngagementEvent) domain.EngagementEvent {
	if ev.Metadata != nil {
		md := make(map[string]string, len(ev.Metadata))
		for k, v := range ev.Metadata {
			md[k] = v
		}
		ev.Metadata = md
	}
	return ev
}
