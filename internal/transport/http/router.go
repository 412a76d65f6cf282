// Package httptransport is the thin HTTP layer over the directory service
// and the replication admin tables. Handlers delegate to services and never
// embed business logic.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	adminmw "chaindir/pkg/platform/middleware/admin"
)

// NewRouter wires the public read/mutation endpoints, the token-guarded
// admin endpoints, and the ops endpoints.
func NewRouter(h *Handler, a *AdminHandler, guard *adminmw.TokenGuard, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/identities", h.HandleCreateIdentity)
		r.Get("/owner", h.HandleLookupOwner)
		r.Get("/peers/{domain}", h.HandlePeer)

		r.Route("/identities/{id}", func(r chi.Router) {
			r.Get("/addresses", h.HandleAddresses)
			r.Get("/creator", h.HandleCreator)
			r.Get("/approved", h.HandleIsApproved)
			r.Post("/links", h.HandleLink)
			r.Delete("/links", h.HandleUnlink)
			r.Post("/links/delegated", h.HandleDelegatedLink)
			r.Post("/approvals", h.HandleApprove)
			r.Delete("/approvals", h.HandleRevoke)
		})

		r.Route("/communities/{id}/members", func(r chi.Router) {
			r.Get("/", h.HandleMembers)
			r.Post("/", h.HandleAddMember)
			r.Delete("/", h.HandleRemoveMember)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(guard, logger))
		r.Put("/peers/{domain}", a.HandleSetPeer)
		r.Delete("/peers/{domain}", a.HandleRemovePeer)
		r.Get("/targets", a.HandleTargets)
		r.Put("/targets/{domain}", a.HandleAddTarget)
		r.Delete("/targets/{domain}", a.HandleRemoveTarget)
		r.Put("/dispatch/{fn}", a.HandleBindFunction)
		r.Delete("/dispatch/{fn}", a.HandleUnbindFunction)
		r.Post("/transfer", a.HandleTransfer)
	})

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
