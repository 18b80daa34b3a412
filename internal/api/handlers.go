package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fundline/outreach/internal/approval"
	"github.com/fundline/outreach/internal/auth"
	"github.com/fundline/outreach/internal/campaign"
	"github.com/fundline/outreach/internal/domain"
	"github.com/fundline/outreach/internal/engagement"
	"github.com/fundline/outreach/internal/followup"
	"github.com/fundline/outreach/internal/orchestrator"
	"github.com/fundline/outreach/internal/report"
	"github.com/fundline/outreach/internal/store"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	engine      *orchestrator.Engine
	campaigns   *campaign.Service
	gate        *approval.Gate
	items       store.ItemStore
	scheduler   *followup.Scheduler
	tracker     *engagement.Tracker
	webhooks    *engagement.WebhookHandler
	reports     *report.Generator
	reportStore *report.Storage
	authManager *auth.AuthManager
	health      *HealthChecker
	started     time.Time
}

// NewHandlers creates a Handlers instance over the core pipeline
// services. Optional collaborators attach through setters.
func NewHandlers(engine *orchestrator.Engine, campaigns *campaign.Service, gate *approval.Gate, items store.ItemStore) *Handlers {
	return &Handlers{
		engine:    engine,
		campaigns: campaigns,
		gate:      gate,
		items:     items,
		started:   time.Now(),
	}
}

// SetScheduler attaches the follow-up scheduler.
func (h *Handlers) SetScheduler(s *followup.Scheduler) {
	h.scheduler = s
}

// SetTracker attaches the engagement tracker.
func (h *Handlers) SetTracker(t *engagement.Tracker) {
	h.tracker = t
}

// SetWebhookHandler attaches the provider webhook handler.
func (h *Handlers) SetWebhookHandler(wh *engagement.WebhookHandler) {
	h.webhooks = wh
}

// SetReports attaches the report generator.
func (h *Handlers) SetReports(g *report.Generator) {
	h.reports = g
}

// SetReportStore attaches report snapshot persistence.
func (h *Handlers) SetReportStore(s *report.Storage) {
	h.reportStore = s
}

// SetAuthManager attaches the auth manager so decisions can be
// attributed to the signed-in operator.
func (h *Handlers) SetAuthManager(am *auth.AuthManager) {
	h.authManager = am
}

// SetHealthChecker attaches the dependency prober. When set it takes
// over /health and adds the liveness and readiness probes.
func (h *Handlers) SetHealthChecker(hc *HealthChecker) {
	h.health = hc
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service errors onto HTTP statuses. Domain
// conflicts keep their message; everything else goes through the
// sanitizer so internals never reach the client.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, campaign.ErrStatusConflict),
		errors.Is(err, orchestrator.ErrIntakeClosed),
		errors.Is(err, approval.ErrNotPending),
		errors.Is(err, approval.ErrAlreadyDecided):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondSafeError(w, http.StatusInternalServerError, err, "an internal error occurred")
	}
}

// Health check

// HealthCheck reports process liveness plus pipeline throughput stats.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	}
	if h.engine != nil {
		body["pipeline"] = h.engine.Stats()
	}
	if h.scheduler != nil {
		body["follow_up"] = h.scheduler.Stats()
	}
	if h.webhooks != nil {
		body["webhooks"] = h.webhooks.Stats()
	}
	respondJSON(w, http.StatusOK, body)
}

// Campaign handlers

// CreateCampaign registers a new campaign from the posted company
// profile and config.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var params campaign.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	camp, err := h.campaigns.Create(r.Context(), params)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, camp)
}

// ListCampaigns returns all campaigns with their counters.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.campaigns.List(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"count":     len(campaigns),
	})
}

// GetCampaign returns one campaign including its live funnel counters.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	camp, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, camp)
}

// SuspendCampaign pauses intake for a campaign.
func (h *Handlers) SuspendCampaign(w http.ResponseWriter, r *http.Request) {
	camp, err := h.campaigns.Suspend(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, camp)
}

// ResumeCampaign reopens intake for a suspended campaign.
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	camp, err := h.campaigns.Resume(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, camp)
}

// CancelCampaign stops all work on a campaign and fails out its
// non-terminal items.
func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	camp, err := h.campaigns.Cancel(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, camp)
}

// CompleteCampaign closes a campaign once every item has finished.
func (h *Handlers) CompleteCampaign(w http.ResponseWriter, r *http.Request) {
	camp, err := h.campaigns.Complete(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, camp)
}

// RecountCampaign rebuilds the campaign counters from item history and
// reports whether the stored counters had drifted.
func (h *Handlers) RecountCampaign(w http.ResponseWriter, r *http.Request) {
	counters, drifted, err := h.campaigns.Recount(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"counters": counters,
		"drifted":  drifted,
	})
}

// CampaignReport generates a fresh report snapshot for a campaign.
func (h *Handlers) CampaignReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		respondError(w, http.StatusNotImplemented, "reporting not configured")
		return
	}
	rep, err := h.reports.Generate(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// SaveCampaignReport generates a snapshot and persists it to the
// configured report storage.
func (h *Handlers) SaveCampaignReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil || h.reportStore == nil {
		respondError(w, http.StatusNotImplemented, "report storage not configured")
		return
	}
	rep, err := h.reports.Generate(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if err := h.reportStore.Save(r.Context(), rep); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "saving report failed")
		return
	}
	respondJSON(w, http.StatusCreated, rep)
}

// LatestCampaignReport returns the last persisted snapshot.
func (h *Handlers) LatestCampaignReport(w http.ResponseWriter, r *http.Request) {
	if h.reportStore == nil {
		respondError(w, http.StatusNotImplemented, "report storage not configured")
		return
	}
	rep, err := h.reportStore.Latest(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "no saved report for campaign")
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// Item handlers

type submitItemRequest struct {
	InvestorID string `json:"investor_id"`
}

// SubmitItem adds an investor to a campaign and starts the pipeline.
func (h *Handlers) SubmitItem(w http.ResponseWriter, r *http.Request) {
	var req submitItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.engine.Submit(r.Context(), chi.URLParam(r, "campaignID"), req.InvestorID)
	if err != nil {
		if strings.Contains(err.Error(), "investor id required") {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

// ListItems returns a page of a campaign's items, optionally filtered
// by state.
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	params := ParsePagination(r, 50, 200)

	filter := store.ItemFilter{
		CampaignID: chi.URLParam(r, "campaignID"),
		Limit:      params.Limit,
		Offset:     params.Offset,
	}
	if state := r.URL.Query().Get("state"); state != "" {
		filter.States = []domain.ItemState{domain.ItemState(state)}
	}

	items, err := h.items.List(r.Context(), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, NewPaginatedResponse(items, params, len(items)))
}

// GetItem returns one outreach item with its full history.
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.items.Get(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// ItemEngagement returns the deduplicated engagement history for an
// item.
func (h *Handlers) ItemEngagement(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		respondError(w, http.StatusNotImplemented, "engagement tracking not configured")
		return
	}
	events, err := h.tracker.History(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// RequestFollowUp queues an operator-requested follow-up draft.
func (h *Handlers) RequestFollowUp(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		respondError(w, http.StatusNotImplemented, "follow-up scheduling not configured")
		return
	}
	itemID := chi.URLParam(r, "itemID")
	if err := h.scheduler.RequestFollowUp(r.Context(), itemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	item, err := h.items.Get(r.Context(), itemID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, item)
}

type closeItemRequest struct {
	Reason string `json:"reason"`
}

// CloseItem ends a conversation, typically after manual triage of a
// reply.
func (h *Handlers) CloseItem(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		respondError(w, http.StatusNotImplemented, "follow-up scheduling not configured")
		return
	}
	var req closeItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		respondError(w, http.StatusBadRequest, "close reason required")
		return
	}

	itemID := chi.URLParam(r, "itemID")
	if err := h.scheduler.Close(r.Context(), itemID, reason); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	item, err := h.items.Get(r.Context(), itemID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// Approval handlers

// ListApprovals returns items awaiting an operator decision, optionally
// narrowed to one campaign via ?campaign=.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := h.gate.Pending(r.Context(), r.URL.Query().Get("campaign"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"approvals": pending,
		"count":     len(pending),
	})
}

type decideRequest struct {
	Decision string                `json:"decision"`
	Approver string                `json:"approver,omitempty"`
	Edited   *approval.EditedDraft `json:"edited,omitempty"`
}

// DecideApproval records an approve or reject verdict. The approver
// identity comes from the session when auth is enabled, otherwise from
// the request body.
func (h *Handlers) DecideApproval(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	approver := req.Approver
	if h.authManager != nil {
		if email := h.authManager.ApproverEmail(r); email != "" {
			approver = email
		}
	}
	if strings.TrimSpace(approver) == "" {
		respondError(w, http.StatusBadRequest, "approver identity required")
		return
	}

	item, err := h.gate.Decide(r.Context(), chi.URLParam(r, "itemID"),
		approval.Decision(req.Decision), req.Edited, approver)
	if err != nil {
		if errors.Is(err, approval.ErrNotPending) || errors.Is(err, approval.ErrAlreadyDecided) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, item)
}
