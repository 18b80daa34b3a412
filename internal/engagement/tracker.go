// Package engagement ingests recipient interaction events from email
// providers, via webhook push or source polling. The event store is
// authoritative and deduplicates on the provider event id; the copy on
// each item is a projection for reads.
package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/pkg/logger"
	"github.com/fundline/outreach/internal/store"
)

// CounterSink receives deduplicated events for campaign counter
// accounting. Redelivered events never reach the sink.
type CounterSink interface {
	OnEngagement(ctx context.Context, campaignID string, kind domain.EngagementKind)
}

// Nudger wakes the follow-up scheduler after an item's engagement
// changes, so a reply cancels its pending follow-up without waiting for
// the next tick.
type Nudger interface {
	Nudge(itemID string)
}

// Tracker validates, deduplicates, and records engagement events.
type Tracker struct {
	items    store.ItemStore
	events   store.EventStore
	counters CounterSink
	nudger   Nudger
	log      *logger.Logger
	now      func() time.Time
}

// NewTracker builds a tracker. counters and nudger may be nil.
func NewTracker(items store.ItemStore, events store.EventStore, counters CounterSink, nudger Nudger) *Tracker {
	return &Tracker{
		items:    items,
		events:   events,
		counters: counters,
		nudger:   nudger,
		log:      logger.Component("engagement"),
		now:      time.Now,
	}
}

// Ingest records one provider event. It reports whether the event was
// new; a redelivery returns false with no error and has no further
// effect. Events are append-only and never reordered.
func (t *Tracker) Ingest(ctx context.Context, ev domain.EngagementEvent) (bool, error) {
	if ev.SourceEventID == "" {
		return false, fmt.Errorf("source event id required")
	}
	if ev.ItemID == "" {
		return false, fmt.Errorf("item id required")
	}
	if !ev.Kind.Valid() {
		return false, fmt.Errorf("unknown engagement kind %q", ev.Kind)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = t.now().UTC()
	}

	item, err := t.items.Get(ctx, ev.ItemID)
	if err != nil {
		return false, err
	}

	fresh, err := t.events.Append(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	if !fresh {
		t.log.Debug("event redelivered, dropped",
			"source_event_id", ev.SourceEventID, "item_id", ev.ItemID)
		return false, nil
	}

	item.Engagement = append(item.Engagement, ev)
	item.UpdatedAt = t.now().UTC()
	if err := t.items.Update(ctx, item); err != nil {
		return false, fmt.Errorf("update item: %w", err)
	}

	if t.counters != nil {
		t.counters.OnEngagement(ctx, item.CampaignID, ev.Kind)
	}
	if t.nudger != nil {
		t.nudger.Nudge(item.ID)
	}

	t.log.Info("engagement recorded",
		"item_id", item.ID,
		"campaign_id", item.CampaignID,
		"kind", string(ev.Kind),
		"source_event_id", ev.SourceEventID)
	return true, nil
}

// History returns the full deduplicated event list for an item in
// arrival order.
func (t *Tracker) History(ctx context.Context, itemID string) ([]domain.EngagementEvent, error) {
	return t.events.ListByItem(ctx, itemID)
}
