package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fundline/outreach/internal/auth"
)

// SetupRoutes configures all API routes.
// Returns the top-level mux AND the /api sub-router so that late-registered
// route groups can be mounted inside /api and inherit its auth middleware.
func SetupRoutes(h *Handlers, authManager *auth.AuthManager, devMode bool) (*chi.Mux, chi.Router) {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// CORS - allow credentials for auth cookies; origins stay explicit
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://outreach.fundline.io", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required). With a checker attached, /health
	// reports per-dependency status and the probe endpoints come along;
	// otherwise the lightweight stats handler serves it.
	if h.health != nil {
		r.Get("/health", h.health.HandleHealth)
		r.Get("/health/live", h.health.HandleLiveness)
		r.Get("/health/ready", h.health.HandleReadiness)
	} else {
		r.Get("/health", h.HealthCheck)
	}

	// Auth routes (no auth required)
	if authManager != nil {
		r.Get("/auth/login", authManager.HandleLogin)
		r.Get("/auth/callback", authManager.HandleCallback)
		r.Get("/auth/logout", authManager.HandleLogout)
		r.Get("/auth/user", authManager.HandleUserInfo)
	}

	// Provider webhooks authenticate by payload shape and event dedupe,
	// not by operator session, so they sit outside /api.
	if h.webhooks != nil {
		r.Post("/webhooks/engagement", h.webhooks.HandleGeneric)
		r.Post("/webhooks/ses", h.webhooks.HandleSES)
	}

	// API routes (protected by auth middleware)
	var apiRouter chi.Router

	r.Route("/api", func(r chi.Router) {
		apiRouter = r // capture so late-registered groups can use it
		// Apply auth middleware to all API routes (skip in dev mode)
		if authManager != nil && !devMode {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					if !authManager.IsAuthenticated(req) {
						w.Header().Set("Content-Type", "application/json")
						w.WriteHeader(http.StatusUnauthorized)
						w.Write([]byte(`{"error":"unauthorized"}`))
						return
					}
					next.ServeHTTP(w, req)
				})
			})
		}

		// Campaign management
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)

			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Post("/suspend", h.SuspendCampaign)
				r.Post("/resume", h.ResumeCampaign)
				r.Post("/cancel", h.CancelCampaign)
				r.Post("/complete", h.CompleteCampaign)
				r.Post("/recount", h.RecountCampaign)

				// Reports
				r.Get("/report", h.CampaignReport)
				r.Post("/report/snapshots", h.SaveCampaignReport)
				r.Get("/report/latest", h.LatestCampaignReport)

				// Intake and listing
				r.Get("/items", h.ListItems)
				r.Post("/items", h.SubmitItem)
			})
		})

		// Item operations
		r.Route("/items/{itemID}", func(r chi.Router) {
			r.Get("/", h.GetItem)
			r.Get("/engagement", h.ItemEngagement)
			r.Post("/follow-up", h.RequestFollowUp)
			r.Post("/close", h.CloseItem)
		})

		// Approval queue
		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", h.ListApprovals)
			r.Post("/{itemID}/decide", h.DecideApproval)
		})
	})

	return r, apiRouter
}
