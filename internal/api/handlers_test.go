package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundline/outreach/internal/approval"
	"github.com/fundline/outreach/internal/auth"
	"github.com/fundline/outreach/internal/campaign"
	"github.com/fundline/outreach/internal/config"
	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/engagement"
	"github.com/fundline/outreach/internal/followup"
	"github.com/fundline/outreach/internal/orchestrator"
	"github.com/fundline/outreach/internal/report"
	"github.com/fundline/outreach/internal/store"
)

// testEnv wires the full pipeline over memory stores. The engine is
// never started; handlers only need Submit and the resume hooks, which
// park work on the buffered queues.
type testEnv struct {
	handlers  *Handlers
	campaigns *campaign.Service
	gate      *approval.Gate
	bundle    store.Bundle
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	bundle := store.NewMemory().Bundle()

	svc := campaign.NewService(bundle.Campaigns, bundle.Items, campaign.Defaults{
		ReplySLAHours:    72,
		MaxStageAttempts: 3,
		MaxFollowUps:     2,
	}, nil)

	engine := orchestrator.New(orchestrator.Deps{
		Items:     bundle.Items,
		Campaigns: bundle.Campaigns,
		Profiles:  bundle.Profiles,
		Counters:  svc,
	}, config.PipelineConfig{QueueSize: 16})

	gate := approval.NewGate(bundle.Items, engine, svc)

	scheduler := followup.NewScheduler(bundle.Items, bundle.Campaigns, bundle.Tasks,
		config.FollowUpConfig{TickSeconds: 60, DefaultReplySLAHours: 72, DefaultMaxFollowUps: 2},
		followup.Options{Pipeline: engine})

	tracker := engagement.NewTracker(bundle.Items, bundle.Events, svc, scheduler)

	h := NewHandlers(engine, svc, gate, bundle.Items)
	h.SetScheduler(scheduler)
	h.SetTracker(tracker)
	h.SetWebhookHandler(engagement.NewWebhookHandler(tracker))
	h.SetReports(report.NewGenerator(bundle.Campaigns, bundle.Items, bundle.Profiles))

	return &testEnv{handlers: h, campaigns: svc, gate: gate, bundle: bundle}
}

// router builds the routes after all collaborators are attached.
func (env *testEnv) router() *chi.Mux {
	r, _ := SetupRoutes(env.handlers, nil, false)
	return r
}

func (env *testEnv) seedCampaign(t *testing.T) *domain.Campaign {
	t.Helper()
	camp, err := env.campaigns.Create(context.Background(), campaign.CreateParams{
		Name:    "Seed round outreach",
		Company: domain.CompanyProfile{Name: "Fundline", Sector: "fintech", Stage: "seed"},
	})
	require.NoError(t, err)
	return camp
}

var seedPath = []domain.ItemState{
	domain.StateEnriching, domain.StateEnriched,
	domain.StateScoring, domain.StateScored,
	domain.StateDrafting, domain.StateAwaitingApproval,
	domain.StateApproved, domain.StateDispatching,
	domain.StateSent, domain.StateTracking,
}

// seedItem creates an item advanced along the happy path to target.
func (env *testEnv) seedItem(t *testing.T, campaignID string, target domain.ItemState) *domain.OutreachItem {
	t.Helper()

	at := time.Now().UTC().Add(-time.Hour)
	item := domain.NewOutreachItem(uuid.NewString(), campaignID, "inv-"+uuid.NewString()[:8], at)
	for _, next := range seedPath {
		if item.State == target {
			break
		}
		if next == domain.StateAwaitingApproval {
			item.AddDraft(domain.Draft{
				Subject:   "Fundline x Nexus Capital",
				Body:      "Hi Dana, Fundline just crossed $1M ARR.",
				Author:    "generator",
				CreatedAt: at,
			})
		}
		at = at.Add(time.Minute)
		require.NoError(t, item.Advance(next, "seeded", at))
	}
	require.NoError(t, env.bundle.Items.Create(context.Background(), item))
	return item
}

func doJSON(t *testing.T, router http.Handler, method, path string, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), "body: %s", rec.Body.String())
	}
	return rec, decoded
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "uptime_seconds")
	assert.Contains(t, body, "pipeline")
	assert.Contains(t, body, "follow_up")
	assert.Contains(t, body, "webhooks")
}

func TestHealthProbes(t *testing.T) {
	env := newTestEnv(t)
	env.handlers.SetHealthChecker(NewHealthChecker(nil, nil, nil, env.handlers.engine))
	router := env.router()

	// The engine is wired but never started, so the pipeline check is
	// down and overall status degrades. The database check reads "not
	// configured" and does not force unhealthy.
	rec, body := doJSON(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Contains(t, body, "version")
	assert.Contains(t, body, "uptime")
	assert.Contains(t, body, "checks")

	rec, body = doJSON(t, router, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", body["status"])

	rec, body = doJSON(t, router, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ready"])
	assert.Contains(t, body, "checks")
}

func TestCreateCampaign(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodPost, "/api/campaigns",
		`{"name": "Series A outreach", "company": {"name": "Fundline", "sector": "fintech"}}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "active", body["status"])

	cfg, ok := body["config"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(72), cfg["reply_sla_hours"])
	assert.Equal(t, float64(2), cfg["max_follow_ups"])
}

func TestCreateCampaignValidation(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodPost, "/api/campaigns",
		`{"company": {"name": "Fundline"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "campaign name required")

	rec, _ = doJSON(t, router, http.MethodPost, "/api/campaigns", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCampaigns(t *testing.T) {
	env := newTestEnv(t)
	env.seedCampaign(t)
	env.seedCampaign(t)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodGet, "/api/campaigns", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])
	assert.Len(t, body["campaigns"], 2)
}

func TestGetCampaignNotFound(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodGet, "/api/campaigns/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body, "error")
}

func TestCampaignLifecycle(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	router := env.router()
	base := "/api/campaigns/" + camp.ID

	rec, body := doJSON(t, router, http.MethodPost, base+"/suspend", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "suspended", body["status"])

	// Suspending a suspended campaign is a conflict.
	rec, _ = doJSON(t, router, http.MethodPost, base+"/suspend", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = doJSON(t, router, http.MethodPost, base+"/resume", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", body["status"])

	rec, body = doJSON(t, router, http.MethodPost, base+"/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", body["status"])

	// Terminal campaigns stay put.
	rec, _ = doJSON(t, router, http.MethodPost, base+"/resume", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCompleteCampaign(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	env.seedItem(t, camp.ID, domain.StateTracking)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodPost, "/api/campaigns/"+camp.ID+"/complete", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "in flight")

	empty := env.seedCampaign(t)
	rec, body = doJSON(t, router, http.MethodPost, "/api/campaigns/"+empty.ID+"/complete", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
}

func TestRecountCampaign(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	// Seeding writes straight to the store, so the stored counters lag
	// behind until a recount.
	env.seedItem(t, camp.ID, domain.StateTracking)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodPost, "/api/campaigns/"+camp.ID+"/recount", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["drifted"])
	counters, ok := body["counters"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), counters["items"])
	assert.Equal(t, float64(1), counters["sent"])
}

func TestSubmitItem(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodPost, "/api/campaigns/"+camp.ID+"/items",
		`{"investor_id": "inv-nexus-1"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ingested", body["state"])
	assert.Equal(t, "inv-nexus-1", body["investor_id"])
	assert.Equal(t, camp.ID, body["campaign_id"])

	// Intake bumps the campaign funnel.
	rec, body = doJSON(t, router, http.MethodGet, "/api/campaigns/"+camp.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	counters := body["counters"].(map[string]interface{})
	assert.Equal(t, float64(1), counters["items"])
}

func TestSubmitItemValidation(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodPost, "/api/campaigns/"+camp.ID+"/items", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "investor id required")

	rec, _ = doJSON(t, router, http.MethodPost, "/api/campaigns/missing/items",
		`{"investor_id": "inv-1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := env.campaigns.Suspend(context.Background(), camp.ID)
	require.NoError(t, err)
	rec, body = doJSON(t, router, http.MethodPost, "/api/campaigns/"+camp.ID+"/items",
		`{"investor_id": "inv-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "not accepting new items")
}

func TestListItems(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	env.seedItem(t, camp.ID, domain.StateTracking)
	env.seedItem(t, camp.ID, domain.StateTracking)
	env.seedItem(t, camp.ID, domain.StateAwaitingApproval)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodGet, "/api/campaigns/"+camp.ID+"/items", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 3)
	meta := body["pagination"].(map[string]interface{})
	assert.Equal(t, float64(1), meta["page"])
	assert.Equal(t, false, meta["has_more"])

	rec, body = doJSON(t, router, http.MethodGet,
		"/api/campaigns/"+camp.ID+"/items?state=tracking", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 2)

	rec, body = doJSON(t, router, http.MethodGet,
		"/api/campaigns/"+camp.ID+"/items?limit=2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 2)
	meta = body["pagination"].(map[string]interface{})
	assert.Equal(t, true, meta["has_more"])
}

func TestGetItem(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	item := env.seedItem(t, camp.ID, domain.StateTracking)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodGet, "/api/items/"+item.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, item.ID, body["id"])
	assert.Equal(t, "tracking", body["state"])
	assert.NotEmpty(t, body["transitions"])

	rec, _ = doJSON(t, router, http.MethodGet, "/api/items/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestItemEngagement(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	item := env.seedItem(t, camp.ID, domain.StateTracking)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodGet, "/api/items/"+item.ID+"/engagement", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])

	payload := fmt.Sprintf(`{"source_event_id": "ev-1", "item_id": %q, "kind": "open"}`, item.ID)
	rec, body = doJSON(t, router, http.MethodPost, "/webhooks/engagement", payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["accepted"])

	// Redelivery of the same provider event is dropped.
	rec, body = doJSON(t, router, http.MethodPost, "/webhooks/engagement", payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["accepted"])

	rec, body = doJSON(t, router, http.MethodGet, "/api/items/"+item.ID+"/engagement", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])
}

func TestWebhookUnknownItem(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	rec, _ := doJSON(t, router, http.MethodPost, "/webhooks/engagement",
		`{"source_event_id": "ev-9", "item_id": "missing", "kind": "open"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/webhooks/engagement",
		`{"source_event_id": "ev-10", "item_id": "missing", "kind": "teleported"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestFollowUp(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	item := env.seedItem(t, camp.ID, domain.StateTracking)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodPost, "/api/items/"+item.ID+"/follow-up", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "follow_up_scheduled", body["state"])
	assert.Equal(t, float64(1), body["follow_ups"])

	rec, _ = doJSON(t, router, http.MethodPost, "/api/items/missing/follow-up", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	parked := env.seedItem(t, camp.ID, domain.StateScored)
	rec, body = doJSON(t, router, http.MethodPost, "/api/items/"+parked.ID+"/follow-up", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "cannot take a follow-up")
}

func TestCloseItem(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	item := env.seedItem(t, camp.ID, domain.StateTracking)
	router := env.router()

	rec, _ := doJSON(t, router, http.MethodPost, "/api/items/"+item.ID+"/close", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := doJSON(t, router, http.MethodPost, "/api/items/"+item.ID+"/close",
		`{"reason": "investor declined"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", body["state"])

	rec, _ = doJSON(t, router, http.MethodPost, "/api/items/missing/close",
		`{"reason": "investor declined"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListApprovals(t *testing.T) {
	env := newTestEnv(t)
	campA := env.seedCampaign(t)
	campB := env.seedCampaign(t)
	env.seedItem(t, campA.ID, domain.StateAwaitingApproval)
	env.seedItem(t, campB.ID, domain.StateAwaitingApproval)
	env.seedItem(t, campA.ID, domain.StateTracking)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodGet, "/api/approvals", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])

	rec, body = doJSON(t, router, http.MethodGet, "/api/approvals?campaign="+campA.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])
}

func TestDecideApproval(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	item := env.seedItem(t, camp.ID, domain.StateAwaitingApproval)
	router := env.router()
	path := "/api/approvals/" + item.ID + "/decide"

	rec, body := doJSON(t, router, http.MethodPost, path, `{"decision": "approve"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "approver identity required")

	rec, body = doJSON(t, router, http.MethodPost, path,
		`{"decision": "approve", "approver": "ops@fundline.io"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", body["state"])

	// A second verdict on the same item is rejected.
	rec, _ = doJSON(t, router, http.MethodPost, path,
		`{"decision": "reject", "approver": "ops@fundline.io"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/api/approvals/missing/decide",
		`{"decision": "approve", "approver": "ops@fundline.io"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	tracking := env.seedItem(t, camp.ID, domain.StateTracking)
	rec, _ = doJSON(t, router, http.MethodPost, "/api/approvals/"+tracking.ID+"/decide",
		`{"decision": "approve", "approver": "ops@fundline.io"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDecideApprovalWithEdits(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	item := env.seedItem(t, camp.ID, domain.StateAwaitingApproval)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodPost, "/api/approvals/"+item.ID+"/decide",
		`{"decision": "approve", "approver": "ops@fundline.io",
		  "edited": {"subject": "Fundline intro, revised", "body": "Hi Dana, short version."}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", body["state"])
	drafts, ok := body["drafts"].([]interface{})
	require.True(t, ok)
	require.Len(t, drafts, 2)
	final := drafts[1].(map[string]interface{})
	assert.Equal(t, "Fundline intro, revised", final["subject"])
	assert.Equal(t, "ops@fundline.io", final["author"])
}

func TestRejectApproval(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	item := env.seedItem(t, camp.ID, domain.StateAwaitingApproval)
	router := env.router()

	rec, body := doJSON(t, router, http.MethodPost, "/api/approvals/"+item.ID+"/decide",
		`{"decision": "reject", "approver": "ops@fundline.io"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rejected", body["state"])
}

func TestCampaignReportEndpoints(t *testing.T) {
	env := newTestEnv(t)
	camp := env.seedCampaign(t)
	env.seedItem(t, camp.ID, domain.StateTracking)
	router := env.router()
	base := "/api/campaigns/" + camp.ID

	rec, body := doJSON(t, router, http.MethodGet, base+"/report", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, camp.ID, body["campaign_id"])
	assert.Contains(t, body, "funnel")
	assert.Contains(t, body, "rates")

	// Snapshot persistence is optional wiring.
	rec, _ = doJSON(t, router, http.MethodPost, base+"/report/snapshots", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	rec, _ = doJSON(t, router, http.MethodGet, base+"/report/latest", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	storage, err := report.NewStorage(context.Background(), config.ReportConfig{
		StorageType: "local",
		LocalPath:   t.TempDir(),
	})
	require.NoError(t, err)
	env.handlers.SetReportStore(storage)
	router = env.router()

	rec, _ = doJSON(t, router, http.MethodPost, base+"/report/snapshots", "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, body = doJSON(t, router, http.MethodGet, base+"/report/latest", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, camp.ID, body["campaign_id"])

	rec, _ = doJSON(t, router, http.MethodGet, "/api/campaigns/missing/report", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)
	env.seedCampaign(t)
	authManager := auth.NewAuthManager(&config.AuthConfig{
		Enabled:            true,
		GoogleClientID:     "test-client",
		GoogleClientSecret: "test-secret",
		AllowedDomain:      "fundline.io",
		CookieName:         "outreach_session",
		CookieMaxAge:       3600,
	}, "http://localhost:8080")

	router, _ := SetupRoutes(env.handlers, authManager, false)

	// API routes demand a session.
	rec, body := doJSON(t, router, http.MethodGet, "/api/campaigns", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", body["error"])

	// Health stays open.
	rec, _ = doJSON(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Dev mode skips the check.
	devRouter, _ := SetupRoutes(env.handlers, authManager, true)
	rec, _ = doJSON(t, devRouter, http.MethodGet, "/api/campaigns", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
