package engagement

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/pkg/httputil"
	"github.com/fundline/outreach/internal/pkg/logger"
	"github.com/fundline/outreach/internal/store"
)

// snsEnvelope is the Amazon SNS delivery wrapper around SES event
// notifications.
type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageId    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// sesEvent is the SES event publishing payload carried inside the SNS
// envelope. Tags round-trip from the send call and route the event back
// to its item.
type sesEvent struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string              `json:"messageId"`
		Tags      map[string][]string `json:"tags"`
	} `json:"mail"`
	Open struct {
		Timestamp string `json:"timestamp"`
		UserAgent string `json:"userAgent"`
	} `json:"open"`
	Click struct {
		Timestamp string `json:"timestamp"`
		Link      string `json:"link"`
	} `json:"click"`
	Bounce struct {
		Timestamp  string `json:"timestamp"`
		BounceType string `json:"bounceType"`
	} `json:"bounce"`
}

// genericEvent is the provider-neutral webhook payload for transports
// without SNS plumbing, and for inbound reply detectors.
type genericEvent struct {
	SourceEventID string            `json:"source_event_id"`
	ItemID        string            `json:"item_id"`
	Kind          string            `json:"kind"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// WebhookHandler terminates provider event callbacks and feeds them into
// the tracker.
type WebhookHandler struct {
	tracker *Tracker
	log     *logger.Logger

	received   int64
	confirmed  int64
	recorded   int64
	duplicates int64
	ignored    int64
	failures   int64
}

func NewWebhookHandler(tracker *Tracker) *WebhookHandler {
	return &WebhookHandler{
		tracker: tracker,
		log:     logger.Component("engagement-webhook"),
	}
}

// HandleSES receives SES event notifications delivered through SNS.
// Provider-side retries are driven by the status code, so anything
// other than a transport failure answers 200: a malformed or unroutable
// event will not get better on redelivery.
func (h *WebhookHandler) HandleSES(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.received, 1)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		atomic.AddInt64(&h.failures, 1)
		httputil.BadRequest(w, "unreadable body")
		return
	}

	var envelope snsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		atomic.AddInt64(&h.failures, 1)
		h.log.Warn("sns envelope parse failed", "error", err.Error())
		httputil.OK(w, map[string]string{"status": "ignored"})
		return
	}

	if envelope.Type == "SubscriptionConfirmation" {
		h.confirmSubscription(envelope.SubscribeURL)
		httputil.OK(w, map[string]string{"status": "confirmed"})
		return
	}

	var event sesEvent
	if err := json.Unmarshal([]byte(envelope.Message), &event); err != nil {
		atomic.AddInt64(&h.failures, 1)
		h.log.Warn("ses event parse failed", "error", err.Error(), "sns_message_id", envelope.MessageId)
		httputil.OK(w, map[string]string{"status": "ignored"})
		return
	}

	ev, ok := h.normalize(event)
	if !ok {
		atomic.AddInt64(&h.ignored, 1)
		httputil.OK(w, map[string]string{"status": "ignored"})
		return
	}

	fresh, err := h.tracker.Ingest(r.Context(), ev)
	switch {
	case errors.Is(err, store.ErrNotFound):
		atomic.AddInt64(&h.ignored, 1)
		h.log.Warn("ses event for unknown item", "item_id", ev.ItemID, "source_event_id", ev.SourceEventID)
		httputil.OK(w, map[string]string{"status": "ignored"})
	case err != nil:
		atomic.AddInt64(&h.failures, 1)
		httputil.InternalError(w, err)
	case fresh:
		atomic.AddInt64(&h.recorded, 1)
		httputil.OK(w, map[string]string{"status": "recorded"})
	default:
		atomic.AddInt64(&h.duplicates, 1)
		httputil.OK(w, map[string]string{"status": "duplicate"})
	}
}

// HandleGeneric receives normalized events from non-SNS sources. Unlike
// the SES endpoint it is strict: these callers are ours, so a bad
// payload is a bug worth surfacing.
func (h *WebhookHandler) HandleGeneric(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.received, 1)

	var payload genericEvent
	if !httputil.Decode(w, r, &payload) {
		atomic.AddInt64(&h.failures, 1)
		return
	}

	kind := domain.EngagementKind(payload.Kind)
	if !kind.Valid() {
		atomic.AddInt64(&h.failures, 1)
		httputil.BadRequest(w, fmt.Sprintf("unknown engagement kind %q", payload.Kind))
		return
	}

	fresh, err := h.tracker.Ingest(r.Context(), domain.EngagementEvent{
		SourceEventID: payload.SourceEventID,
		ItemID:        payload.ItemID,
		Kind:          kind,
		Timestamp:     payload.Timestamp,
		Metadata:      payload.Metadata,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		atomic.AddInt64(&h.ignored, 1)
		httputil.NotFound(w, "unknown item")
	case err != nil:
		atomic.AddInt64(&h.failures, 1)
		httputil.BadRequest(w, err.Error())
	default:
		if fresh {
			atomic.AddInt64(&h.recorded, 1)
		} else {
			atomic.AddInt64(&h.duplicates, 1)
		}
		httputil.OK(w, map[string]bool{"accepted": fresh})
	}
}

// normalize maps an SES event to a domain event. The second return is
// false for event types we do not track (Delivery, Send, Complaint).
func (h *WebhookHandler) normalize(event sesEvent) (domain.EngagementEvent, bool) {
	eventType := event.EventType
	if eventType == "" {
		eventType = event.NotificationType
	}

	var kind domain.EngagementKind
	var stamp string
	meta := map[string]string{}
	switch eventType {
	case "Open":
		kind = domain.EngagementOpen
		stamp = event.Open.Timestamp
		if event.Open.UserAgent != "" {
			meta["user_agent"] = event.Open.UserAgent
		}
	case "Click":
		kind = domain.EngagementClick
		stamp = event.Click.Timestamp
		if event.Click.Link != "" {
			meta["link"] = event.Click.Link
		}
	case "Bounce":
		kind = domain.EngagementBounce
		stamp = event.Bounce.Timestamp
		if event.Bounce.BounceType != "" {
			meta["bounce_type"] = event.Bounce.BounceType
		}
	default:
		return domain.EngagementEvent{}, false
	}

	ids := event.Mail.Tags["item_id"]
	if len(ids) == 0 || ids[0] == "" {
		return domain.EngagementEvent{}, false
	}

	ts := time.Now().UTC()
	if stamp != "" {
		if parsed, err := time.Parse(time.RFC3339, stamp); err == nil {
			ts = parsed.UTC()
		}
	}
	if len(meta) == 0 {
		meta = nil
	}

	// SES has no per-event id, so derive one from fields stable across
	// redeliveries.
	return domain.EngagementEvent{
		SourceEventID: fmt.Sprintf("ses:%s:%s:%d", event.Mail.MessageID, kind, ts.Unix()),
		ItemID:        ids[0],
		Kind:          kind,
		Timestamp:     ts,
		Metadata:      meta,
	}, true
}

func (h *WebhookHandler) confirmSubscription(url string) {
	if url == "" {
		return
	}
	resp, err := http.Get(url)
	if err != nil {
		h.log.Error("sns subscription confirmation failed", "error", err.Error())
		return
	}
	resp.Body.Close()
	atomic.AddInt64(&h.confirmed, 1)
	h.log.Info("sns subscription confirmed")
}

// Stats reports webhook counters since process start.
func (h *WebhookHandler) Stats() map[string]int64 {
	return map[string]int64{
		"received":   atomic.LoadInt64(&h.received),
		"confirmed":  atomic.LoadInt64(&h.confirmed),
		"recorded":   atomic.LoadInt64(&h.recorded),
		"duplicates": atomic.LoadInt64(&h.duplicates),
		"ignored":    atomic.LoadInt64(&h.ignored),
		"failures":   atomic.LoadInt64(&h.failures),
	}
}
