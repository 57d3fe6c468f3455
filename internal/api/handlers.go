package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hisab-network/hisab/internal/domain"
)

// ─── Party Handlers ─────────────────────────────────────────────────────────

// handleUpsertParty creates or updates a party.
// POST /v1/parties
func (s *Server) handleUpsertParty(w http.ResponseWriter, r *http.Request) {
	var p domain.Party
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid party payload")
		return
	}
	if err := s.db.UpsertParty(r.Context(), &p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleGetParty resolves one party by name.
// GET /v1/parties/{name}
func (s *Server) handleGetParty(w http.ResponseWriter, r *http.Request) {
	party, err := s.db.GetParty(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, party)
}

// handleGetLedger returns a party's entries in ledger order.
// GET /v1/parties/{name}/ledger
func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.db.GetParty(r.Context(), name); err != nil {
		writeDomainError(w, err)
		return
	}
	entries, err := s.db.GetPartyLedger(r.Context(), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ─── Entry Handlers ─────────────────────────────────────────────────────────

// handleCreateEntry persists one ledger entry.
// POST /v1/entries
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var entry domain.LedgerEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid entry payload")
		return
	}
	created, err := s.db.CreateEntry(r.Context(), &entry)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateEntry applies a partial update to an open entry.
// PATCH /v1/entries/{id}
func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	var patch domain.EntryPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid patch payload")
		return
	}
	updated, err := s.db.UpdateEntry(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteEntry removes an entry with group cascade. A partially
// blocked cascade still reports success for the primary row, carrying
// the cascade code so clients can flag the leftovers.
// DELETE /v1/entries/{id}
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	res, err := s.db.DeleteEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil && res == nil {
		writeDomainError(w, err)
		return
	}

	body := map[string]any{
		"deleted_count":         res.DeletedCount,
		"related_deleted_count": res.RelatedDeletedCount,
		"related_parties":       res.RelatedParties,
	}
	if err != nil {
		body["code"] = domain.CodeForError(err)
	}
	writeJSON(w, http.StatusOK, body)
}

// ─── Settlement Handlers ────────────────────────────────────────────────────

// handleSettle runs Monday Final for a set of parties.
// POST /v1/settlements
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Parties []string `json:"parties"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid settle payload")
		return
	}
	res, err := s.db.Settle(r.Context(), req.Parties)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDeleteSettlement reverses one Monday Final record.
// DELETE /v1/settlements/{id}
func (s *Server) handleDeleteSettlement(w http.ResponseWriter, r *http.Request) {
	res, err := s.db.DeleteSettlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleListSettlements lists settlement records, optionally for one
// party.
// GET /v1/settlements?party=NAME
func (s *Server) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	records, err := s.db.ListSettlements(r.Context(), r.URL.Query().Get("party"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []domain.SettlementRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
