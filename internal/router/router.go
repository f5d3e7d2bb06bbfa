package router

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/inaiurai/promptq/internal/auth"
	"github.com/inaiurai/promptq/internal/httpx"
	"github.com/inaiurai/promptq/internal/jobs"
	"github.com/inaiurai/promptq/internal/ledger"
	"github.com/inaiurai/promptq/internal/metrics"
	"github.com/inaiurai/promptq/internal/middleware"
)

type Handlers struct {
	Auth   *auth.Handler
	Ledger *ledger.Handler
	Jobs   *jobs.Handler
}

// New returns an http.Handler that serves the API under /api/v1 plus
// /healthz and /metrics.
func New(h Handlers, tokens middleware.TokenValidator) http.Handler {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	base := r.PathPrefix("/api/v1").Subrouter()
	base.HandleFunc("/auth/register", h.Auth.Register).Methods(http.MethodPost)
	base.HandleFunc("/auth/login", h.Auth.Login).Methods(http.MethodPost)

	authed := base.NewRoute().Subrouter()
	authed.Use(middleware.Authenticate(tokens))
	authed.HandleFunc("/balance", h.Ledger.GetBalance).Methods(http.MethodGet)
	authed.HandleFunc("/balance/adjust", h.Ledger.Adjust).Methods(http.MethodPost)
	authed.HandleFunc("/transactions", h.Ledger.ListTransactions).Methods(http.MethodGet)
	authed.HandleFunc("/jobs", h.Jobs.Submit).Methods(http.MethodPost)
	authed.HandleFunc("/jobs", h.Jobs.List).Methods(http.MethodGet)
	authed.HandleFunc("/jobs/{id}", h.Jobs.Poll).Methods(http.MethodGet)
	authed.Handle("/users", middleware.RequireAdmin(http.HandlerFunc(h.Auth.ListUsers))).Methods(http.MethodGet)

	return r
}
