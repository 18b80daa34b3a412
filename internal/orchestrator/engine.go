// Package orchestrator drives outreach items through the pipeline. An
// Engine runs a bounded worker pool per external stage, connected by
// in-memory queues of item ids. Exactly one worker holds an item at a
// time; every state change is persisted before the next external call
// so a crash never loses more than the call in flight.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fundline/outreach/internal/config"
	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/followup"
	"github.com/fundline/outreach/internal/pkg/httpretry"
	"github.com/fundline/outreach/internal/pkg/logger"
	"github.com/fundline/outreach/internal/pkg/ratelimit"
	"github.com/fundline/outreach/internal/store"
)

// recoverPage bounds one List call during a recovery scan.
const recoverPage = 200

// ErrIntakeClosed reports a submission against a campaign that is not
// accepting new items.
var ErrIntakeClosed = errors.New("not accepting new items")

// Collaborator names used for rate-limit budgets.
const (
	limitEnrichment = "enrichment"
	limitGeneration = "generation"
	limitDispatch   = "dispatch"
)

// Enricher produces a fresh investor profile snapshot.
type Enricher interface {
	Enrich(ctx context.Context, investorID string) (*domain.InvestorProfile, error)
}

// Scorer computes an investor/company match. Scoring is pure and never
// fails; missing data lowers sub-scores instead.
type Scorer interface {
	Score(inv *domain.InvestorProfile, com *domain.CompanyProfile) *domain.MatchScore
}

// Composer generates the next draft for an item.
type Composer interface {
	Compose(ctx context.Context, item *domain.OutreachItem, inv *domain.InvestorProfile, com *domain.CompanyProfile) (domain.Draft, error)
}

// Dispatcher sends the approved draft and returns the confirmation.
type Dispatcher interface {
	Dispatch(ctx context.Context, item *domain.OutreachItem, inv *domain.InvestorProfile) (*domain.DispatchRecord, error)
}

// Gate hands a drafted item to human review. The approval package's
// Gate satisfies this; it advances the item and persists it.
type Gate interface {
	Enqueue(ctx context.Context, item *domain.OutreachItem) error
}

// CounterSink receives state transition edges for campaign funnel
// accounting. The creation of an item is reported as an edge with an
// empty From state.
type CounterSink interface {
	OnTransition(ctx context.Context, campaignID string, from, to domain.ItemState)
}

// Deps are the engine's collaborators. Counters and Limits may be nil;
// the Gate is attached separately because it is constructed with a
// reference back to the engine.
type Deps struct {
	Items      store.ItemStore
	Campaigns  store.CampaignStore
	Profiles   store.ProfileStore
	Enricher   Enricher
	Scorer     Scorer
	Composer   Composer
	Dispatcher Dispatcher
	Counters   CounterSink
	Limits     *ratelimit.Registry
}

// Engine owns all pipeline state mutation between ingestion and the
// tracking stage. The approval gate and follow-up scheduler hand items
// back through ResumeApproved and ResumeFollowUp.
type Engine struct {
	items      store.ItemStore
	campaigns  store.CampaignStore
	profiles   store.ProfileStore
	enricher   Enricher
	scorer     Scorer
	composer   Composer
	dispatcher Dispatcher
	gate       Gate
	counters   CounterSink
	limits     *ratelimit.Registry

	cfg config.PipelineConfig
	log *logger.Logger
	now func() time.Time

	enrichQ   chan string
	draftQ    chan string
	dispatchQ chan string
	inflight  sync.Map

	submitted  int64
	enriched   int64
	scored     int64
	drafted    int64
	dispatched int64
	retried    int64
	failed     int64
	recovered  int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	done    chan struct{}
	stopped sync.Once
}

// New builds an engine. Call SetGate before Start.
func New(deps Deps, cfg config.PipelineConfig) *Engine {
	return &Engine{
		items:      deps.Items,
		campaigns:  deps.Campaigns,
		profiles:   deps.Profiles,
		enricher:   deps.Enricher,
		scorer:     deps.Scorer,
		composer:   deps.Composer,
		dispatcher: deps.Dispatcher,
		counters:   deps.Counters,
		limits:     deps.Limits,
		cfg:        cfg,
		log:        logger.Component("orchestrator"),
		now:        time.Now,
		enrichQ:    make(chan string, cfg.QueueSize),
		draftQ:     make(chan string, cfg.QueueSize),
		dispatchQ:  make(chan string, cfg.QueueSize),
		done:       make(chan struct{}),
	}
}

// SetGate attaches the approval gate. The gate is built after the
// engine because it resumes approved items through it.
func (e *Engine) SetGate(g Gate) {
	e.gate = g
}

// Start launches the stage worker pools.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.New("engine already running")
	}
	if e.gate == nil {
		return errors.New("approval gate not attached")
	}
	select {
	case <-e.done:
		return errors.New("engine cannot restart after stop")
	default:
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.running = true

	pools := []struct {
		stage string
		n     int
		queue chan string
		run   func(context.Context, *domain.OutreachItem)
	}{
		{"enrich", e.cfg.EnrichWorkers, e.enrichQ, e.runEnrich},
		{"draft", e.cfg.DraftWorkers, e.draftQ, e.runDraft},
		{"dispatch", e.cfg.DispatchWorkers, e.dispatchQ, e.runDispatch},
	}
	for _, p := range pools {
		for i := 0; i < p.n; i++ {
			e.wg.Add(1)
			go e.worker(p.stage, i, p.queue, p.run)
		}
	}

	e.log.Info("engine started",
		"enrich_workers", e.cfg.EnrichWorkers,
		"draft_workers", e.cfg.DraftWorkers,
		"dispatch_workers", e.cfg.DispatchWorkers,
		"queue_size", e.cfg.QueueSize)
	return nil
}

// Stop cancels all workers and waits for in-flight stages to unwind.
// Items caught mid-stage stay in their in-flight state until Recover
// rewinds them on the next start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	e.mu.Unlock()

	e.stopped.Do(func() { close(e.done) })
	e.wg.Wait()

	e.log.Info("engine stopped",
		"submitted", atomic.LoadInt64(&e.submitted),
		"dispatched", atomic.LoadInt64(&e.dispatched),
		"retried", atomic.LoadInt64(&e.retried),
		"failed", atomic.LoadInt64(&e.failed))
}

// Running reports whether the worker pools are up.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Submit creates an outreach item for an investor and queues it for
// enrichment. The campaign must be active; a second submission of the
// same investor surfaces the store's ErrDuplicate.
func (e *Engine) Submit(ctx context.Context, campaignID, investorID string) (*domain.OutreachItem, error) {
	investorID = strings.TrimSpace(investorID)
	if investorID == "" {
		return nil, errors.New("investor id required")
	}

	camp, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !camp.AcceptsItems() {
		return nil, fmt.Errorf("campaign %s is %s and %w", campaignID, camp.Status, ErrIntakeClosed)
	}

	item := domain.NewOutreachItem(uuid.NewString(), campaignID, investorID, e.now().UTC())
	if err := e.items.Create(ctx, item); err != nil {
		return nil, err
	}
	if e.counters != nil {
		e.counters.OnTransition(ctx, campaignID, "", domain.StateIngested)
	}
	atomic.AddInt64(&e.submitted, 1)

	e.log.Info("item submitted",
		"item_id", item.ID,
		"campaign_id", campaignID,
		"investor_id", investorID)

	if !e.enqueue(ctx, e.enrichQ, item.ID) {
		e.log.Warn("enrich queue unavailable, item waits for recovery", "item_id", item.ID)
	}
	return item, nil
}

// ResumeApproved queues an approved item for dispatch. Called by the
// approval gate after an approve decision.
func (e *Engine) ResumeApproved(itemID string) {
	e.requeue(e.dispatchQ, itemID)
}

// ResumeFollowUp queues a follow-up item for its next draft. Called by
// the follow-up scheduler after it fires a task.
func (e *Engine) ResumeFollowUp(itemID string) {
	e.requeue(e.draftQ, itemID)
}

// Stats returns engine counters for health reporting.
func (e *Engine) Stats() map[string]int64 {
	return map[string]int64{
		"submitted":  atomic.LoadInt64(&e.submitted),
		"enriched":   atomic.LoadInt64(&e.enriched),
		"scored":     atomic.LoadInt64(&e.scored),
		"drafted":    atomic.LoadInt64(&e.drafted),
		"dispatched": atomic.LoadInt64(&e.dispatched),
		"retried":    atomic.LoadInt64(&e.retried),
		"failed":     atomic.LoadInt64(&e.failed),
		"recovered":  atomic.LoadInt64(&e.recovered),
	}
}

func (e *Engine) worker(stage string, id int, queue chan string, run func(context.Context, *domain.OutreachItem)) {
	defer e.wg.Done()

	e.log.Debug("worker started", "stage", stage, "worker", id)
	for {
		select {
		case <-e.ctx.Done():
			e.log.Debug("worker stopped", "stage", stage, "worker", id)
			return
		case itemID := <-queue:
			e.execute(e.ctx, itemID, run)
		}
	}
}

// execute loads an item and runs one stage pass under the in-flight
// guard. A duplicate signal for an item already being worked is
// dropped; stage progression happens only through explicit handoffs,
// so the holder's pass covers whatever the duplicate asked for.
func (e *Engine) execute(ctx context.Context, itemID string, run func(context.Context, *domain.OutreachItem)) {
	if _, loaded := e.inflight.LoadOrStore(itemID, struct{}{}); loaded {
		e.log.Debug("duplicate signal dropped", "item_id", itemID)
		return
	}
	defer e.inflight.Delete(itemID)

	item, err := e.items.Get(ctx, itemID)
	if err != nil {
		e.log.Error("load item", "item_id", itemID, "error", err.Error())
		return
	}
	if item.State.IsTerminal() {
		return
	}
	run(ctx, item)
}

// runEnrich handles the Ingested entry: enrich the investor profile,
// then score the match inline and hand the item to the draft queue.
// An item found already Enriched lost its scoring pass to a restart
// and skips straight to scoring.
func (e *Engine) runEnrich(ctx context.Context, item *domain.OutreachItem) {
	camp, ok := e.campaignFor(ctx, item)
	if !ok {
		return
	}

	switch item.State {
	case domain.StateIngested:
	case domain.StateEnriched:
		e.scoreAndHandoff(ctx, item, camp, nil)
		return
	default:
		e.log.Warn("enrich pass skipped", "item_id", item.ID, "state", string(item.State))
		return
	}

	mark := len(item.Transitions)
	if err := item.Advance(domain.StateEnriching, "enrichment started", e.now().UTC()); err != nil {
		e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
		return
	}
	attempt := item.BumpAttempt(domain.StageEnrich)
	if err := e.items.Update(ctx, item); err != nil {
		e.log.Error("update item", "item_id", item.ID, "error", err.Error())
		return
	}
	e.notify(ctx, item, mark)

	if err := e.acquire(ctx, limitEnrichment); err != nil {
		e.stageFailure(ctx, item, domain.StageEnrich, domain.StateIngested, e.enrichQ, attempt, camp, err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout())
	profile, err := e.enricher.Enrich(callCtx, item.InvestorID)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			e.log.Info("enrich interrupted by shutdown", "item_id", item.ID)
			return
		}
		e.stageFailure(ctx, item, domain.StageEnrich, domain.StateIngested, e.enrichQ, attempt, camp, err)
		return
	}
	if e.campaignCancelled(ctx, item.CampaignID) {
		e.failItem(ctx, item, "cancelled")
		return
	}

	item.InvestorVersion = profile.Version
	if err := item.Advance(domain.StateEnriched, fmt.Sprintf("profile enriched to v%d", profile.Version), e.now().UTC()); err != nil {
		e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
		return
	}
	atomic.AddInt64(&e.enriched, 1)
	e.scoreAndHandoff(ctx, item, camp, profile)
}

// scoreAndHandoff runs the scoring pass and pushes the item to the
// draft queue. Scoring is local and cannot fail, so the Enriched and
// Scoring states are persisted together with the result.
func (e *Engine) scoreAndHandoff(ctx context.Context, item *domain.OutreachItem, camp *domain.Campaign, profile *domain.InvestorProfile) {
	if profile == nil {
		var err error
		profile, err = e.profiles.Version(ctx, item.InvestorID, item.InvestorVersion)
		if err != nil {
			e.log.Error("load profile", "item_id", item.ID, "version", item.InvestorVersion, "error", err.Error())
			return
		}
	}

	mark := len(item.Transitions)
	if err := item.Advance(domain.StateScoring, "scoring started", e.now().UTC()); err != nil {
		e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
		return
	}
	item.Score = e.scorer.Score(profile, &camp.Company)
	if err := item.Advance(domain.StateScored, fmt.Sprintf("scored %d/100", item.Score.Score), e.now().UTC()); err != nil {
		e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
		return
	}
	if err := e.items.Update(ctx, item); err != nil {
		e.log.Error("update item", "item_id", item.ID, "error", err.Error())
		return
	}
	e.notify(ctx, item, mark)
	atomic.AddInt64(&e.scored, 1)

	e.log.Info("item scored",
		"item_id", item.ID,
		"campaign_id", item.CampaignID,
		"score", item.Score.Score,
		"investor_version", item.InvestorVersion)

	if !e.enqueue(ctx, e.draftQ, item.ID) {
		e.log.Warn("draft queue unavailable, item waits for recovery", "item_id", item.ID)
	}
}

// runDraft handles the Scored and FollowUpScheduled entries. A
// follow-up whose score no longer matches the latest profile versions
// is re-scored first; drafting then proceeds against the pinned
// snapshot so generation inputs stay reproducible.
func (e *Engine) runDraft(ctx context.Context, item *domain.OutreachItem) {
	camp, ok := e.campaignFor(ctx, item)
	if !ok {
		return
	}

	if item.State == domain.StateFollowUpScheduled {
		latest, err := e.profiles.Latest(ctx, item.InvestorID)
		if err != nil {
			e.log.Error("load latest profile", "item_id", item.ID, "error", err.Error())
			return
		}
		if item.Score == nil || item.Score.StaleFor(latest.Version, camp.Company.Version) {
			mark := len(item.Transitions)
			if err := item.Advance(domain.StateScoring, "re-scoring against updated profiles", e.now().UTC()); err != nil {
				e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
				return
			}
			item.Score = e.scorer.Score(latest, &camp.Company)
			item.InvestorVersion = latest.Version
			if err := item.Advance(domain.StateScored, fmt.Sprintf("re-scored %d/100", item.Score.Score), e.now().UTC()); err != nil {
				e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
				return
			}
			if err := e.items.Update(ctx, item); err != nil {
				e.log.Error("update item", "item_id", item.ID, "error", err.Error())
				return
			}
			e.notify(ctx, item, mark)
			atomic.AddInt64(&e.scored, 1)
		}
	}

	if item.State != domain.StateScored && item.State != domain.StateFollowUpScheduled {
		e.log.Warn("draft pass skipped", "item_id", item.ID, "state", string(item.State))
		return
	}

	mark := len(item.Transitions)
	if err := item.Advance(domain.StateDrafting, "draft generation started", e.now().UTC()); err != nil {
		e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
		return
	}
	attempt := item.BumpAttempt(domain.StageDraft)
	if err := e.items.Update(ctx, item); err != nil {
		e.log.Error("update item", "item_id", item.ID, "error", err.Error())
		return
	}
	e.notify(ctx, item, mark)

	if err := e.acquire(ctx, limitGeneration); err != nil {
		e.stageFailure(ctx, item, domain.StageDraft, domain.StateScored, e.draftQ, attempt, camp, err)
		return
	}

	profile, err := e.profiles.Version(ctx, item.InvestorID, item.InvestorVersion)
	if err != nil {
		e.stageFailure(ctx, item, domain.StageDraft, domain.StateScored, e.draftQ, attempt, camp, domain.TransientErr("load profile", err))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.DraftTimeout())
	d, err := e.composer.Compose(callCtx, item, profile, &camp.Company)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			e.log.Info("draft interrupted by shutdown", "item_id", item.ID)
			return
		}
		e.stageFailure(ctx, item, domain.StageDraft, domain.StateScored, e.draftQ, attempt, camp, err)
		return
	}
	if e.campaignCancelled(ctx, item.CampaignID) {
		e.failItem(ctx, item, "cancelled")
		return
	}

	item.AddDraft(d)
	atomic.AddInt64(&e.drafted, 1)

	if err := e.gate.Enqueue(ctx, item); err != nil {
		// The gate persists the item itself; reload so the retry
		// works from the state that actually landed.
		fresh, gerr := e.items.Get(ctx, item.ID)
		if gerr != nil {
			e.log.Error("reload item after gate failure", "item_id", item.ID, "error", gerr.Error())
			return
		}
		e.stageFailure(ctx, fresh, domain.StageDraft, domain.StateScored, e.draftQ, attempt, camp, domain.TransientErr("approval enqueue", err))
		return
	}

	e.log.Info("draft ready for review",
		"item_id", item.ID,
		"campaign_id", item.CampaignID,
		"draft_version", item.CurrentDraft().Version,
		"follow_up", item.CurrentDraft().FollowUp)
}

// runDispatch handles the Approved entry: send the approved draft and
// move the item through Sent into Tracking.
func (e *Engine) runDispatch(ctx context.Context, item *domain.OutreachItem) {
	camp, ok := e.campaignFor(ctx, item)
	if !ok {
		return
	}
	if item.State != domain.StateApproved {
		e.log.Warn("dispatch pass skipped", "item_id", item.ID, "state", string(item.State))
		return
	}

	mark := len(item.Transitions)
	if err := item.Advance(domain.StateDispatching, "dispatch started", e.now().UTC()); err != nil {
		e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
		return
	}
	attempt := item.BumpAttempt(domain.StageDispatch)
	if err := e.items.Update(ctx, item); err != nil {
		e.log.Error("update item", "item_id", item.ID, "error", err.Error())
		return
	}
	e.notify(ctx, item, mark)

	if err := e.acquire(ctx, limitDispatch); err != nil {
		e.stageFailure(ctx, item, domain.StageDispatch, domain.StateApproved, e.dispatchQ, attempt, camp, err)
		return
	}
	if e.limits != nil && camp.Config.SendRatePerMinute > 0 {
		lim := ratelimit.Limit{PerMinute: camp.Config.SendRatePerMinute}
		if err := e.limits.AcquireScoped(ctx, limitDispatch, camp.ID, lim); err != nil {
			e.stageFailure(ctx, item, domain.StageDispatch, domain.StateApproved, e.dispatchQ, attempt, camp, err)
			return
		}
	}

	profile, err := e.profiles.Version(ctx, item.InvestorID, item.InvestorVersion)
	if err != nil {
		e.stageFailure(ctx, item, domain.StageDispatch, domain.StateApproved, e.dispatchQ, attempt, camp, domain.TransientErr("load profile", err))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout())
	rec, err := e.dispatcher.Dispatch(callCtx, item, profile)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			e.log.Info("dispatch interrupted by shutdown", "item_id", item.ID)
			return
		}
		e.stageFailure(ctx, item, domain.StageDispatch, domain.StateApproved, e.dispatchQ, attempt, camp, err)
		return
	}
	if e.campaignCancelled(ctx, item.CampaignID) {
		e.failItem(ctx, item, "cancelled")
		return
	}

	mark = len(item.Transitions)
	item.Dispatches = append(item.Dispatches, *rec)
	if err := item.Advance(domain.StateSent, fmt.Sprintf("sent as message %s", rec.MessageID), e.now().UTC()); err != nil {
		e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
		return
	}
	if err := item.Advance(domain.StateTracking, "tracking engagement", e.now().UTC()); err != nil {
		e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
		return
	}
	if err := e.items.Update(ctx, item); err != nil {
		e.log.Error("update item", "item_id", item.ID, "error", err.Error())
		return
	}
	e.notify(ctx, item, mark)
	atomic.AddInt64(&e.dispatched, 1)

	e.log.Info("item dispatched",
		"item_id", item.ID,
		"campaign_id", item.CampaignID,
		"message_id", rec.MessageID,
		"draft_version", rec.DraftVersion)
}

// stageFailure applies the retry policy after a failed stage attempt.
// Terminal errors and exhausted budgets fail the item; anything else
// rewinds it to its pickup state and requeues it after a backoff.
func (e *Engine) stageFailure(ctx context.Context, item *domain.OutreachItem, stage domain.Stage, back domain.ItemState, queue chan string, attempt int, camp *domain.Campaign, cause error) {
	kind := domain.KindOf(cause)
	max := e.maxAttempts(camp)

	switch {
	case kind == domain.FailureTerminal:
		e.failItem(ctx, item, cause.Error())
	case attempt >= max:
		e.failItem(ctx, item, fmt.Sprintf("retries exhausted after %d attempts: %v", attempt, cause))
	default:
		mark := len(item.Transitions)
		reason := fmt.Sprintf("retry scheduled (attempt %d/%d): %v", attempt, max, cause)
		if err := item.Advance(back, reason, e.now().UTC()); err != nil {
			e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
			return
		}
		if err := e.items.Update(ctx, item); err != nil {
			e.log.Error("update item", "item_id", item.ID, "error", err.Error())
			return
		}
		e.notify(ctx, item, mark)
		atomic.AddInt64(&e.retried, 1)

		delay := httpretry.Backoff(attempt, e.cfg.BackoffBase(), e.cfg.BackoffMax())
		e.log.Warn("stage failed, retry scheduled",
			"item_id", item.ID,
			"stage", string(stage),
			"attempt", attempt,
			"max_attempts", max,
			"kind", string(kind),
			"delay", delay.String(),
			"error", cause.Error())

		itemID := item.ID
		time.AfterFunc(delay, func() { e.requeue(queue, itemID) })
	}
}

// failItem moves an item to the Failed state and records why.
func (e *Engine) failItem(ctx context.Context, item *domain.OutreachItem, reason string) {
	mark := len(item.Transitions)
	if err := item.Advance(domain.StateFailed, reason, e.now().UTC()); err != nil {
		e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
		return
	}
	if err := e.items.Update(ctx, item); err != nil {
		e.log.Error("update item", "item_id", item.ID, "error", err.Error())
		return
	}
	e.notify(ctx, item, mark)
	atomic.AddInt64(&e.failed, 1)

	e.log.Error("item failed",
		"item_id", item.ID,
		"campaign_id", item.CampaignID,
		"reason", reason)
}

// Recover re-enqueues items stranded by a restart: in-flight states
// rewind to their pickup state, queue-entry states are queued again.
// Stage attempt counters survive the rewind, so a crash loop still
// runs out of retry budget. Items parked for manual triage and items
// currently being worked are left alone. Call after Start so the
// pools drain what the scan finds.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	rewinds := map[domain.ItemState]domain.ItemState{
		domain.StateEnriching:   domain.StateIngested,
		domain.StateScoring:     domain.StateEnriched,
		domain.StateDrafting:    domain.StateScored,
		domain.StateDispatching: domain.StateApproved,
	}
	states := []domain.ItemState{
		domain.StateIngested,
		domain.StateEnriching,
		domain.StateEnriched,
		domain.StateScoring,
		domain.StateScored,
		domain.StateDrafting,
		domain.StateApproved,
		domain.StateDispatching,
		domain.StateFollowUpScheduled,
	}

	ids, err := e.scanItemIDs(ctx, states)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		if _, busy := e.inflight.Load(id); busy {
			continue
		}
		item, err := e.items.Get(ctx, id)
		if err != nil {
			e.log.Error("load item", "item_id", id, "error", err.Error())
			continue
		}
		if item.State == domain.StateFollowUpScheduled && lastReason(item) == followup.ReasonTriagePark {
			continue
		}

		if back, ok := rewinds[item.State]; ok {
			mark := len(item.Transitions)
			if err := item.Advance(back, "recovered after restart", e.now().UTC()); err != nil {
				e.log.Error("advance item", "item_id", item.ID, "error", err.Error())
				continue
			}
			if err := e.items.Update(ctx, item); err != nil {
				e.log.Error("update item", "item_id", item.ID, "error", err.Error())
				continue
			}
			e.notify(ctx, item, mark)
		}

		var queue chan string
		switch item.State {
		case domain.StateIngested, domain.StateEnriched:
			queue = e.enrichQ
		case domain.StateScored, domain.StateFollowUpScheduled:
			queue = e.draftQ
		case domain.StateApproved:
			queue = e.dispatchQ
		default:
			continue
		}
		if !e.enqueue(ctx, queue, item.ID) {
			return count, ctx.Err()
		}
		atomic.AddInt64(&e.recovered, 1)
		count++
	}

	if count > 0 {
		e.log.Info("recovery scan complete", "requeued", count)
	}
	return count, nil
}

func (e *Engine) scanItemIDs(ctx context.Context, states []domain.ItemState) ([]string, error) {
	var ids []string
	for offset := 0; ; offset += recoverPage {
		page, err := e.items.List(ctx, store.ItemFilter{
			States: states,
			Limit:  recoverPage,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		for _, it := range page {
			ids = append(ids, it.ID)
		}
		if len(page) < recoverPage {
			return ids, nil
		}
	}
}

// campaignFor loads the item's campaign and fails the item out when
// the campaign was cancelled.
func (e *Engine) campaignFor(ctx context.Context, item *domain.OutreachItem) (*domain.Campaign, bool) {
	camp, err := e.campaigns.Get(ctx, item.CampaignID)
	if err != nil {
		e.log.Error("load campaign", "item_id", item.ID, "campaign_id", item.CampaignID, "error", err.Error())
		return nil, false
	}
	if camp.Status == domain.CampaignCancelled {
		e.failItem(ctx, item, "cancelled")
		return nil, false
	}
	return camp, true
}

// campaignCancelled re-checks the campaign after an external call so a
// cancellation that landed mid-flight discards the result.
func (e *Engine) campaignCancelled(ctx context.Context, campaignID string) bool {
	camp, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		e.log.Warn("campaign recheck failed", "campaign_id", campaignID, "error", err.Error())
		return false
	}
	return camp.Status == domain.CampaignCancelled
}

func (e *Engine) acquire(ctx context.Context, collaborator string) error {
	if e.limits == nil {
		return nil
	}
	return e.limits.Acquire(ctx, collaborator)
}

func (e *Engine) maxAttempts(camp *domain.Campaign) int {
	if camp != nil && camp.Config.MaxStageAttempts > 0 {
		return camp.Config.MaxStageAttempts
	}
	return e.cfg.MaxStageAttempts
}

// notify reports every transition edge appended since mark. Edges are
// reported only after the item persisted, so counters never run ahead
// of stored state.
func (e *Engine) notify(ctx context.Context, item *domain.OutreachItem, mark int) {
	if e.counters == nil {
		return
	}
	for _, tr := range item.Transitions[mark:] {
		e.counters.OnTransition(ctx, item.CampaignID, tr.From, tr.To)
	}
}

// enqueue pushes an item id, blocking when the queue is full until
// space opens, the caller gives up, or the engine stops.
func (e *Engine) enqueue(ctx context.Context, queue chan string, itemID string) bool {
	select {
	case queue <- itemID:
		return true
	default:
	}
	select {
	case queue <- itemID:
		return true
	case <-ctx.Done():
		return false
	case <-e.done:
		return false
	}
}

// requeue pushes an item id without blocking the caller: resume
// callbacks arrive from API handlers and the scheduler loop, which
// must not stall on a full queue. The overflow goroutine is released
// by engine shutdown; a signal lost that way is restored by Recover.
func (e *Engine) requeue(queue chan string, itemID string) {
	select {
	case queue <- itemID:
	default:
		go func() {
			select {
			case queue <- itemID:
			case <-e.done:
			}
		}()
	}
}

func lastReason(item *domain.OutreachItem) string {
	if len(item.Transitions) == 0 {
		return ""
	}
	return item.Transitions[len(item.Transitions)-1].Reason
}
