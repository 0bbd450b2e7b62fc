// Package api wires the HTTP routes for the query service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "querydock/internal/api/middleware"
	"querydock/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth *mw.Auth

	HealthHandler http.HandlerFunc

	RegisterQuery http.HandlerFunc
	ListQueries   http.HandlerFunc
	GetQuery      http.HandlerFunc
	QueryResults  http.HandlerFunc

	JobCallback http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public routes
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		response.OK(w, nil)
	})
	r.Get("/health", orNotImplemented(deps.HealthHandler))

	// Query API, authenticated by caller JWT
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.Post("/queries", orNotImplemented(deps.RegisterQuery))
		r.Get("/queries", orNotImplemented(deps.ListQueries))
		r.Get("/queries/{queryID}", orNotImplemented(deps.GetQuery))
		r.Get("/queries/{queryID}/results", orNotImplemented(deps.QueryResults))
	})

	// Internal callback surface for the classification service
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.InternalOnly)

		r.Post("/callbacks/job-result", orNotImplemented(deps.JobCallback))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotImplemented, "endpoint not yet implemented")
	}
}
