package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/darasahq/darasa-sync/internal/ability"
	"github.com/darasahq/darasa-sync/internal/tenant"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler, manager *tenant.Manager) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	// Rate limiter for history purges: burst of 10, then sustained 1/second.
	purgeRateLimiter := NewDeleteRateLimiter(10, time.Second)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (gateway API key + principal headers)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Use(PrincipalMiddleware)

			// Sync routes operate on the principal's school store.
			r.Group(func(r chi.Router) {
				r.Use(SchoolStoreMiddleware(manager))
				r.With(RequireAbility(h.abilities, ability.SyncPush)).Post("/sync/push", h.SyncPush)
				r.With(RequireAbility(h.abilities, ability.SyncPull)).Post("/sync/pull", h.SyncPull)
				r.With(RequireAbility(h.abilities, ability.SyncStatus)).Get("/sync/status", h.SyncStatus)
				r.With(RequireAbility(h.abilities, ability.ConflictView)).Get("/sync/conflicts", h.ListConflicts)
				r.With(RequireAbility(h.abilities, ability.ConflictResolve)).Patch("/sync/conflicts/resolve", h.ResolveConflict)
				r.With(RequireAbility(h.abilities, ability.ConflictResolve)).Patch("/sync/conflicts/resolve-bulk", h.ResolveConflictsBulk)
				// DELETE has additional rate limiting to prevent abuse
				r.With(RequireAbility(h.abilities, ability.HistoryPurge), purgeRateLimiter.Middleware).Delete("/sync/history", h.PurgeHistory)
			})

			// School provisioning, for platform administrators.
			r.Group(func(r chi.Router) {
				r.Use(RequireAbility(h.abilities, ability.SchoolManage))
				r.Get("/schools", h.ListSchools)
				r.Post("/schools", h.CreateSchool)
				r.Get("/schools/{school_id}", h.GetSchoolInfo)
				r.Get("/schools/{school_id}/backup", h.DownloadBackup)
				r.Delete("/schools/{school_id}", h.DeleteSchool)
			})
		})
	})

	return r
}
