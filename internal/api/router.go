package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/guildsync/internal/assetservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *assetservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/characters", h.ListCharacters)
	r.Route("/characters/{ns}/{name}", func(r chi.Router) {
		r.Get("/assets", h.ListAssets)
		r.Get("/runs", h.ListRuns)
		r.Post("/sync", h.Sync)
		r.Post("/renumber", h.Renumber)
	})

	// Intake upload (auth-protected).
	r.Post("/intake", h.UploadIntake)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// NewAssetRouter serves character files read-only at /{ns}/{name}/{file},
// matching the site's public /assets/img layout.
func NewAssetRouter(svc *assetservice.Service) chi.Router {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Get("/{ns}/{name}/{file}", h.ServeAsset)
	return r
}
