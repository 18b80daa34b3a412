package engagement

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/pkg/logger"
	"github.com/fundline/outreach/internal/store"
)

// EventSource is a pollable provider event feed, the fallback channel
// for deployments where webhooks cannot be terminated.
type EventSource interface {
	Name() string
	// Poll returns events with timestamps at or after since. Returning
	// already-seen events is fine; the tracker deduplicates.
	Poll(ctx context.Context, since time.Time) ([]domain.EngagementEvent, error)
}

// Poller periodically drains an event source into the tracker.
type Poller struct {
	tracker  *Tracker
	source   EventSource
	interval time.Duration
	since    time.Time
	running  bool
	stopCh   chan struct{}
	log      *logger.Logger

	polls      int64
	recorded   int64
	duplicates int64
	failures   int64
}

func NewPoller(tracker *Tracker, source EventSource, interval time.Duration) *Poller {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		tracker:  tracker,
		source:   source,
		interval: interval,
		since:    time.Now().UTC(),
		stopCh:   make(chan struct{}),
		log:      logger.Component("engagement-poller"),
	}
}

// Start runs the polling loop until the context is cancelled or Stop is
// called. It blocks; run it in a goroutine.
func (p *Poller) Start(ctx context.Context) {
	p.running = true
	p.log.Info("starting", "source", p.source.Name(), "interval", p.interval.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.running = false
			return
		case <-p.stopCh:
			p.running = false
			return
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				p.log.Error("poll failed", "source", p.source.Name(), "error", err.Error())
			}
		}
	}
}

// Stop ends the polling loop.
func (p *Poller) Stop() {
	close(p.stopCh)
}

// poll drains one batch. The watermark advances to the newest event
// timestamp seen, never past it, so late-arriving events are retried on
// the next pass. Re-fetching an overlap is safe: the event store
// deduplicates on the source event id.
func (p *Poller) poll(ctx context.Context) error {
	atomic.AddInt64(&p.polls, 1)

	events, err := p.source.Poll(ctx, p.since)
	if err != nil {
		atomic.AddInt64(&p.failures, 1)
		return err
	}

	for _, ev := range events {
		fresh, err := p.tracker.Ingest(ctx, ev)
		switch {
		case errors.Is(err, store.ErrNotFound):
			p.log.Warn("polled event for unknown item",
				"item_id", ev.ItemID, "source_event_id", ev.SourceEventID)
		case err != nil:
			atomic.AddInt64(&p.failures, 1)
			p.log.Error("polled event rejected",
				"source_event_id", ev.SourceEventID, "error", err.Error())
		case fresh:
			atomic.AddInt64(&p.recorded, 1)
		default:
			atomic.AddInt64(&p.duplicates, 1)
		}
		if ev.Timestamp.After(p.since) {
			p.since = ev.Timestamp
		}
	}
	return nil
}

// Stats reports poller counters since process start.
func (p *Poller) Stats() map[string]int64 {
	return map[string]int64{
		"polls":      atomic.LoadInt64(&p.polls),
		"recorded":   atomic.LoadInt64(&p.recorded),
		"duplicates": atomic.LoadInt64(&p.duplicates),
		"failures":   atomic.LoadInt64(&p.failures),
	}
}
