package engagement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/store"
)

func setupWebhook(t *testing.T) (*WebhookHandler, store.Bundle) {
	t.Helper()
	bundle := store.NewMemory().Bundle()
	tracker := NewTracker(bundle.Items, bundle.Events, nil, nil)
	return NewWebhookHandler(tracker), bundle
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/engagement", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func sesEnvelope(t *testing.T, inner string) string {
	t.Helper()
	raw, err := json.Marshal(snsEnvelope{
		Type:      "Notification",
		MessageId: "sns-1",
		TopicArn:  "arn:aws:sns:us-east-1:123456789012:ses-events",
		Message:   inner,
	})
	require.NoError(t, err)
	return string(raw)
}

func TestGenericWebhookRecordsEvent(t *testing.T) {
	handler, bundle := setupWebhook(t)
	trackedItem(t, bundle.Items, "itm-1")

	rec := postJSON(t, handler.HandleGeneric, `{
		"source_event_id": "mailgun:ev-1",
		"item_id": "itm-1",
		"kind": "reply",
		"timestamp": "2026-06-11T08:30:00Z",
		"metadata": {"subject": "Re: Fundline x Harbor Ventures"}
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accepted": true}`, rec.Body.String())

	item, err := bundle.Items.Get(context.Background(), "itm-1")
	require.NoError(t, err)
	require.Len(t, item.Engagement, 1)
	assert.Equal(t, domain.EngagementReply, item.Engagement[0].Kind)
	assert.Equal(t, "Re: Fundline x Harbor Ventures", item.Engagement[0].Metadata["subject"])
}

func TestGenericWebhookReportsDuplicate(t *testing.T) {
	handler, bundle := setupWebhook(t)
	trackedItem(t, bundle.Items, "itm-1")

	body := `{"source_event_id": "ev-1", "item_id": "itm-1", "kind": "open"}`
	rec := postJSON(t, handler.HandleGeneric, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accepted": true}`, rec.Body.String())

	rec = postJSON(t, handler.HandleGeneric, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accepted": false}`, rec.Body.String())
}

func TestGenericWebhookRejectsUnknownKind(t *testing.T) {
	handler, bundle := setupWebhook(t)
	trackedItem(t, bundle.Items, "itm-1")

	rec := postJSON(t, handler.HandleGeneric, `{"source_event_id": "ev-1", "item_id": "itm-1", "kind": "forwarded"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenericWebhookUnknownItem(t *testing.T) {
	handler, _ := setupWebhook(t)

	rec := postJSON(t, handler.HandleGeneric, `{"source_event_id": "ev-1", "item_id": "itm-missing", "kind": "open"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenericWebhookMalformedBody(t *testing.T) {
	handler, _ := setupWebhook(t)

	rec := postJSON(t, handler.HandleGeneric, `{"source_event_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSESWebhookRecordsOpen(t *testing.T) {
	handler, bundle := setupWebhook(t)
	trackedItem(t, bundle.Items, "itm-1")

	inner := `{
		"eventType": "Open",
		"mail": {
			"messageId": "msg-1",
			"tags": {"item_id": ["itm-1"], "campaign_id": ["cmp-1"]}
		},
		"open": {"timestamp": "2026-06-10T14:00:00.000Z", "userAgent": "Mozilla/5.0"}
	}`
	rec := postJSON(t, handler.HandleSES, sesEnvelope(t, inner))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "recorded"}`, rec.Body.String())

	item, err := bundle.Items.Get(context.Background(), "itm-1")
	require.NoError(t, err)
	require.Len(t, item.Engagement, 1)
	ev := item.Engagement[0]
	assert.Equal(t, domain.EngagementOpen, ev.Kind)
	assert.True(t, strings.HasPrefix(ev.SourceEventID, "ses:msg-1:open:"))
	assert.Equal(t, time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, "Mozilla/5.0", ev.Metadata["user_agent"])
}

func TestSESWebhookDeduplicatesRedelivery(t *testing.T) {
	handler, bundle := setupWebhook(t)
	trackedItem(t, bundle.Items, "itm-1")

	inner := `{
		"eventType": "Click",
		"mail": {"messageId": "msg-1", "tags": {"item_id": ["itm-1"]}},
		"click": {"timestamp": "2026-06-10T14:05:00.000Z", "link": "https://fundline.io/deck"}
	}`
	body := sesEnvelope(t, inner)

	rec := postJSON(t, handler.HandleSES, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "recorded"}`, rec.Body.String())

	rec = postJSON(t, handler.HandleSES, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "duplicate"}`, rec.Body.String())

	item, err := bundle.Items.Get(context.Background(), "itm-1")
	require.NoError(t, err)
	assert.Len(t, item.Engagement, 1)
}

func TestSESWebhookIgnoresUntrackedEventTypes(t *testing.T) {
	handler, bundle := setupWebhook(t)
	trackedItem(t, bundle.Items, "itm-1")

	inner := `{"eventType": "Delivery", "mail": {"messageId": "msg-1", "tags": {"item_id": ["itm-1"]}}}`
	rec := postJSON(t, handler.HandleSES, sesEnvelope(t, inner))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ignored"}`, rec.Body.String())

	item, err := bundle.Items.Get(context.Background(), "itm-1")
	require.NoError(t, err)
	assert.Empty(t, item.Engagement)
}

func TestSESWebhookIgnoresUnknownItem(t *testing.T) {
	handler, _ := setupWebhook(t)

	inner := `{
		"eventType": "Open",
		"mail": {"messageId": "msg-1", "tags": {"item_id": ["itm-missing"]}},
		"open": {"timestamp": "2026-06-10T14:00:00.000Z"}
	}`
	rec := postJSON(t, handler.HandleSES, sesEnvelope(t, inner))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ignored"}`, rec.Body.String())
}

func TestSESWebhookToleratesGarbage(t *testing.T) {
	handler, _ := setupWebhook(t)

	rec := postJSON(t, handler.HandleSES, "not json at all")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, handler.HandleSES, sesEnvelope(t, "also not json"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSESWebhookConfirmsSubscription(t *testing.T) {
	handler, _ := setupWebhook(t)

	var hits int64
	confirm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer confirm.Close()

	raw, err := json.Marshal(snsEnvelope{
		Type:         "SubscriptionConfirmation",
		SubscribeURL: confirm.URL,
	})
	require.NoError(t, err)

	rec := postJSON(t, handler.HandleSES, string(raw))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "confirmed"}`, rec.Body.String())
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestWebhookStats(t *testing.T) {
	handler, bundle := setupWebhook(t)
	trackedItem(t, bundle.Items, "itm-1")

	body := `{"source_event_id": "ev-1", "item_id": "itm-1", "kind": "open"}`
	postJSON(t, handler.HandleGeneric, body)
	postJSON(t, handler.HandleGeneric, body)

	stats := handler.Stats()
	assert.Equal(t, int64(2), stats["received"])
	assert.Equal(t, int64(1), stats["recorded"])
	assert.Equal(t, int64(1), stats["duplicates"])
}
