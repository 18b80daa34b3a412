// Package followup decides what happens to an item after its email went
// out: schedule the next touch when the reply window lapses, cancel it
// when a reply lands, close the conversation when the reply says so.
package followup

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fundline/outreach/internal/config"
	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/pkg/distlock"
	"github.com/fundline/outreach/internal/pkg/logger"
	"github.com/fundline/outreach/internal/store"
)

// sweepPage bounds one List call during the sweep.
const sweepPage = 200

// ReasonTriagePark is the transition reason recorded when a reply is
// parked for an operator instead of resuming the pipeline. Recovery
// scans use it to tell parked items from ones whose resume was lost.
const ReasonTriagePark = "reply held for manual triage"

// ReplyVerdict is the classifier's reading of a reply.
type ReplyVerdict string

const (
	VerdictInterested ReplyVerdict = "interested"
	VerdictDeclined   ReplyVerdict = "declined"
	VerdictConverted  ReplyVerdict = "converted"
	VerdictUnclear    ReplyVerdict = "unclear"
)

// ReplyClassifier reads a reply and decides where the conversation
// stands. Without one, every reply routes to manual triage.
type ReplyClassifier interface {
	Classify(ctx context.Context, item *domain.OutreachItem, reply domain.EngagementEvent) (ReplyVerdict, error)
}

// Pipeline resumes orchestrated work for an item the scheduler moved
// into the follow-up state.
type Pipeline interface {
	ResumeFollowUp(itemID string)
}

// Options are the optional scheduler collaborators.
type Options struct {
	Classifier ReplyClassifier // nil routes replies to manual triage
	Pipeline   Pipeline        // nil skips resume callbacks
	Lock       distlock.Lock   // nil when a single instance runs the sweep
}

// Scheduler owns the post-send life of an item. It keeps at most one
// pending task per item: the sweep only schedules when none is pending,
// and replaces a task only after cancelling it.
type Scheduler struct {
	items     store.ItemStore
	campaigns store.CampaignStore
	tasks     store.TaskStore
	cfg       config.FollowUpConfig
	opts      Options
	log       *logger.Logger
	now       func() time.Time

	running bool
	stopCh  chan struct{}
	nudgeCh chan string

	sweeps    int64
	scheduled int64
	cancelled int64
	fired     int64
	closed    int64
}

func NewScheduler(items store.ItemStore, campaigns store.CampaignStore, tasks store.TaskStore, cfg config.FollowUpConfig, opts Options) *Scheduler {
	return &Scheduler{
		items:     items,
		campaigns: campaigns,
		tasks:     tasks,
		cfg:       cfg,
		opts:      opts,
		log:       logger.Component("followup"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
		nudgeCh:   make(chan string, 64),
	}
}

// Run sweeps on a ticker until the context is cancelled or Stop is
// called. It blocks; run it in a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.running = true
	s.log.Info("starting", "tick", s.cfg.Tick().String())

	ticker := time.NewTicker(s.cfg.Tick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.running = false
			return
		case <-s.stopCh:
			s.running = false
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", "error", err.Error())
			}
		case itemID := <-s.nudgeCh:
			s.sweepOne(ctx, itemID)
		}
	}
}

// Stop ends the run loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// Nudge asks for an early look at one item, typically right after an
// engagement event. It never blocks; a full buffer is fine because the
// next tick covers everything anyway.
func (s *Scheduler) Nudge(itemID string) {
	select {
	case s.nudgeCh <- itemID:
	default:
	}
}

// Sweep reviews every tracked item and fires due tasks. With a lock
// configured, only one instance sweeps at a time.
func (s *Scheduler) Sweep(ctx context.Context) error {
	if s.opts.Lock != nil {
		ok, err := s.opts.Lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			s.log.Debug("sweep lock held elsewhere, skipping")
			return nil
		}
		defer s.opts.Lock.Release(ctx)
	}
	atomic.AddInt64(&s.sweeps, 1)

	ids, err := s.trackedItemIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.sweepOne(ctx, id)
	}
	return s.fireDue(ctx)
}

// trackedItemIDs snapshots the Tracking population before any item is
// mutated, so offset paging cannot skip over shifting results.
func (s *Scheduler) trackedItemIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for offset := 0; ; offset += sweepPage {
		batch, err := s.items.List(ctx, store.ItemFilter{
			States: []domain.ItemState{domain.StateTracking},
			Limit:  sweepPage,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("list tracking items: %w", err)
		}
		for _, item := range batch {
			ids = append(ids, item.ID)
		}
		if len(batch) < sweepPage {
			return ids, nil
		}
	}
}

func (s *Scheduler) sweepOne(ctx context.Context, itemID string) {
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		s.log.Warn("sweep skipped item", "item_id", itemID, "error", err.Error())
		return
	}
	if item.State != domain.StateTracking {
		return
	}
	campaign, err := s.campaigns.Get(ctx, item.CampaignID)
	if err != nil {
		s.log.Warn("sweep skipped item, campaign unavailable",
			"item_id", itemID, "campaign_id", item.CampaignID, "error", err.Error())
		return
	}
	if err := s.review(ctx, item, campaign); err != nil {
		s.log.Error("review failed", "item_id", itemID, "error", err.Error())
	}
}

// review applies the follow-up policy to one item in Tracking.
func (s *Scheduler) review(ctx context.Context, item *domain.OutreachItem, campaign *domain.Campaign) error {
	last := item.LastDispatch()
	if last == nil {
		return fmt.Errorf("item %s is tracking without a dispatch record", item.ID)
	}

	pending, err := s.tasks.Pending(ctx, item.ID)
	if errors.Is(err, store.ErrNotFound) {
		pending = nil
	} else if err != nil {
		return fmt.Errorf("load pending task: %w", err)
	}

	if item.HasReplySince(last.SentAt) {
		return s.handleReply(ctx, item, campaign, last, pending)
	}

	if pending != nil {
		return nil
	}

	due := last.SentAt.Add(s.replySLA(campaign))
	if item.FollowUps >= s.maxFollowUps(campaign) {
		if s.now().After(due) {
			return s.close(ctx, item, "no reply after final follow-up")
		}
		return nil
	}
	return s.schedule(ctx, item.ID, domain.FollowUpNoResponse, due)
}

func (s *Scheduler) handleReply(ctx context.Context, item *domain.OutreachItem, campaign *domain.Campaign, last *domain.DispatchRecord, pending *domain.FollowUpTask) error {
	if pending != nil {
		if pending.Reason != domain.FollowUpNoResponse {
			// The reply is already queued for triage or a response
			// follow-up.
			return nil
		}
		if err := s.cancel(ctx, pending, item.ID); err != nil {
			return err
		}
	}

	reply := latestReply(item, last.SentAt)
	if s.opts.Classifier == nil {
		return s.schedule(ctx, item.ID, domain.FollowUpManualTriage, s.now().UTC())
	}

	verdict, err := s.opts.Classifier.Classify(ctx, item, reply)
	if err != nil {
		// Leave the item as is; the next sweep retries.
		return fmt.Errorf("classify reply: %w", err)
	}
	switch verdict {
	case VerdictDeclined, VerdictConverted:
		return s.close(ctx, item, fmt.Sprintf("reply classified %s", verdict))
	case VerdictInterested:
		if item.FollowUps >= s.maxFollowUps(campaign) {
			return s.schedule(ctx, item.ID, domain.FollowUpManualTriage, s.now().UTC())
		}
		return s.schedule(ctx, item.ID, domain.FollowUpPositiveEngagement, s.now().UTC())
	default:
		return s.schedule(ctx, item.ID, domain.FollowUpManualTriage, s.now().UTC())
	}
}

// fireDue advances items whose scheduled time arrived.
func (s *Scheduler) fireDue(ctx context.Context) error {
	due, err := s.tasks.Due(ctx, s.now(), sweepPage)
	if err != nil {
		return fmt.Errorf("list due tasks: %w", err)
	}
	for _, task := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.fire(ctx, task); err != nil {
			s.log.Error("fire failed", "task_id", task.ID, "item_id", task.ItemID, "error", err.Error())
		}
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, task *domain.FollowUpTask) error {
	item, err := s.items.Get(ctx, task.ItemID)
	if errors.Is(err, store.ErrNotFound) {
		task.Status = domain.FollowUpCancelled
		return s.tasks.Save(ctx, task)
	}
	if err != nil {
		return err
	}
	if item.State != domain.StateTracking {
		// The item left Tracking through another path; the task is moot.
		task.Status = domain.FollowUpCancelled
		if err := s.tasks.Save(ctx, task); err != nil {
			return err
		}
		atomic.AddInt64(&s.cancelled, 1)
		return nil
	}

	now := s.now().UTC()
	if err := item.Advance(domain.StateFollowUpScheduled, transitionReason(task.Reason), now); err != nil {
		return err
	}

	resume := task.Reason != domain.FollowUpManualTriage
	if resume {
		item.FollowUps++
		item.ResetAttempts(domain.StageDraft)
	}
	if err := s.items.Update(ctx, item); err != nil {
		return err
	}

	task.Status = domain.FollowUpFired
	if err := s.tasks.Save(ctx, task); err != nil {
		return err
	}
	atomic.AddInt64(&s.fired, 1)
	s.log.Info("follow-up task fired",
		"task_id", task.ID,
		"item_id", item.ID,
		"reason", string(task.Reason),
		"follow_ups", item.FollowUps)

	if resume && s.opts.Pipeline != nil {
		s.opts.Pipeline.ResumeFollowUp(item.ID)
	}
	return nil
}

// RequestFollowUp is the operator path: queue a follow-up draft now,
// from Tracking or from an item parked for manual triage. The campaign
// follow-up cap still applies.
func (s *Scheduler) RequestFollowUp(ctx context.Context, itemID string) error {
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item.State != domain.StateTracking && item.State != domain.StateFollowUpScheduled {
		return fmt.Errorf("item %s cannot take a follow-up in state %s", item.ID, item.State)
	}
	campaign, err := s.campaigns.Get(ctx, item.CampaignID)
	if err != nil {
		return err
	}
	if item.FollowUps >= s.maxFollowUps(campaign) {
		return fmt.Errorf("item %s reached the campaign follow-up cap (%d)", item.ID, s.maxFollowUps(campaign))
	}

	if pending, err := s.tasks.Pending(ctx, itemID); err == nil {
		if err := s.cancel(ctx, pending, itemID); err != nil {
			return err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	now := s.now().UTC()
	if item.State == domain.StateTracking {
		if err := item.Advance(domain.StateFollowUpScheduled, transitionReason(domain.FollowUpExplicitRequest), now); err != nil {
			return err
		}
	}
	item.FollowUps++
	item.ResetAttempts(domain.StageDraft)
	if err := s.items.Update(ctx, item); err != nil {
		return err
	}

	task := &domain.FollowUpTask{
		ID:          uuid.NewString(),
		ItemID:      itemID,
		ScheduledAt: now,
		Reason:      domain.FollowUpExplicitRequest,
		Status:      domain.FollowUpFired,
		CreatedAt:   now,
	}
	if err := s.tasks.Save(ctx, task); err != nil {
		return err
	}
	atomic.AddInt64(&s.fired, 1)
	s.log.Info("follow-up requested", "item_id", itemID, "follow_ups", item.FollowUps)

	if s.opts.Pipeline != nil {
		s.opts.Pipeline.ResumeFollowUp(itemID)
	}
	return nil
}

// Close is the operator path for ending a conversation, typically after
// manual triage of a reply.
func (s *Scheduler) Close(ctx context.Context, itemID, reason string) error {
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item.State != domain.StateTracking && item.State != domain.StateFollowUpScheduled {
		return fmt.Errorf("item %s cannot close from state %s", item.ID, item.State)
	}
	if pending, err := s.tasks.Pending(ctx, itemID); err == nil {
		if err := s.cancel(ctx, pending, itemID); err != nil {
			return err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return s.close(ctx, item, reason)
}

func (s *Scheduler) close(ctx context.Context, item *domain.OutreachItem, reason string) error {
	if err := item.Advance(domain.StateClosed, reason, s.now().UTC()); err != nil {
		return err
	}
	if err := s.items.Update(ctx, item); err != nil {
		return err
	}
	atomic.AddInt64(&s.closed, 1)
	s.log.Info("item closed", "item_id", item.ID, "reason", reason)
	return nil
}

func (s *Scheduler) schedule(ctx context.Context, itemID string, reason domain.FollowUpReason, at time.Time) error {
	task := &domain.FollowUpTask{
		ID:          uuid.NewString(),
		ItemID:      itemID,
		ScheduledAt: at.UTC(),
		Reason:      reason,
		Status:      domain.FollowUpPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.tasks.Save(ctx, task); err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	atomic.AddInt64(&s.scheduled, 1)
	s.log.Info("follow-up scheduled",
		"task_id", task.ID,
		"item_id", itemID,
		"reason", string(reason),
		"scheduled_at", task.ScheduledAt.Format(time.RFC3339))
	return nil
}

func (s *Scheduler) cancel(ctx context.Context, task *domain.FollowUpTask, itemID string) error {
	task.Status = domain.FollowUpCancelled
	if err := s.tasks.Save(ctx, task); err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	atomic.AddInt64(&s.cancelled, 1)
	s.log.Info("follow-up cancelled", "task_id", task.ID, "item_id", itemID)
	return nil
}

func (s *Scheduler) replySLA(c *domain.Campaign) time.Duration {
	if c.Config.ReplySLAHours > 0 {
		return c.Config.ReplySLA()
	}
	return time.Duration(s.cfg.DefaultReplySLAHours) * time.Hour
}

func (s *Scheduler) maxFollowUps(c *domain.Campaign) int {
	if c.Config.MaxFollowUps > 0 {
		return c.Config.MaxFollowUps
	}
	return s.cfg.DefaultMaxFollowUps
}

// Stats reports scheduler counters since process start.
func (s *Scheduler) Stats() map[string]int64 {
	return map[string]int64{
		"sweeps":    atomic.LoadInt64(&s.sweeps),
		"scheduled": atomic.LoadInt64(&s.scheduled),
		"cancelled": atomic.LoadInt64(&s.cancelled),
		"fired":     atomic.LoadInt64(&s.fired),
		"closed":    atomic.LoadInt64(&s.closed),
	}
}

func transitionReason(r domain.FollowUpReason) string {
	switch r {
	case domain.FollowUpNoResponse:
		return "no reply within the reply window"
	case domain.FollowUpPositiveEngagement:
		return "follow-up after interested reply"
	case domain.FollowUpExplicitRequest:
		return "follow-up requested by operator"
	case domain.FollowUpManualTriage:
		return ReasonTriagePark
	}
	return string(r)
}

func latestReply(item *domain.OutreachItem, since time.Time) domain.EngagementEvent {
	var reply domain.EngagementEvent
	for _, ev := range item.Engagement {
		if ev.Kind == domain.EngagementReply && ev.Timestamp.After(since) {
			reply = ev
		}
	}
	return reply
}
