// Package api provides the HTTP server for the ledger store. Routes
// mirror the store contract: party ledgers, entries, and Monday Final
// settlements, with business errors carried as {code, error} bodies.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hisab-network/hisab/internal/domain"
	"github.com/hisab-network/hisab/internal/infra/sqlite"
)

// Server is the ledger store HTTP API server.
type Server struct {
	db             *sqlite.DB
	metricsEnabled bool
}

// NewServer creates an API server over the given database.
func NewServer(db *sqlite.DB) *Server {
	return &Server{db: db}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/parties", s.handleUpsertParty)
		r.Get("/parties/{name}", s.handleGetParty)
		r.Get("/parties/{name}/ledger", s.handleGetLedger)

		r.Post("/entries", s.handleCreateEntry)
		r.Patch("/entries/{id}", s.handleUpdateEntry)
		r.Delete("/entries/{id}", s.handleDeleteEntry)

		r.Get("/settlements", s.handleListSettlements)
		r.Post("/settlements", s.handleSettle)
		r.Delete("/settlements/{id}", s.handleDeleteSettlement)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Response Helpers ───────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "error": msg})
}

// writeDomainError maps a store error to its HTTP status and business
// code.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, domain.ErrPartyNotFound),
		errors.Is(err, domain.ErrEntryNotFound),
		errors.Is(err, domain.ErrSettlementNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrOldRecordProtected):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrBalanceMismatch):
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, domain.CodeForError(err), err.Error())
}
