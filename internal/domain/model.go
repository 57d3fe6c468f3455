// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"strings"
	"time"
)

// ─── Party Types ────────────────────────────────────────────────────────────

// PartyStatus marks whether a party can take part in new transactions.
type PartyStatus string

const (
	PartyActive   PartyStatus = "ACTIVE"
	PartyInactive PartyStatus = "INACTIVE"
)

// CommissionMode selects how commission is derived for a party.
type CommissionMode string

const (
	CommissionNone CommissionMode = "NONE"
	CommissionWith CommissionMode = "WITH_COMMISSION"
)

// CommissionDirection says which way a commission posting moves the
// owning party's balance.
type CommissionDirection string

const (
	CommissionTake CommissionDirection = "TAKE" // outflow for the owner
	CommissionGive CommissionDirection = "GIVE" // inflow for the owner
)

// Party is a named account holder. Parties are created and mutated by
// party management (outside this core); the ledger engine only reads them.
type Party struct {
	Name                string              `json:"name"`
	Status              PartyStatus         `json:"status"`
	CommissionMode      CommissionMode      `json:"commission_mode"`
	CommissionRate      float64             `json:"commission_rate,omitempty"` // percent
	CommissionDirection CommissionDirection `json:"commission_direction,omitempty"`
	BalanceLimit        *float64            `json:"balance_limit,omitempty"`
	MondayFinal         bool                `json:"monday_final"` // advisory flag
}

// Active reports whether the party may be used in new transactions.
func (p *Party) Active() bool { return p.Status != PartyInactive }

// ─── Ledger Entry Types ─────────────────────────────────────────────────────

// TxnType is the accounting side of a ledger entry.
type TxnType string

const (
	TxnCredit           TxnType = "CREDIT"
	TxnDebit            TxnType = "DEBIT"
	TxnSettlementMarker TxnType = "SETTLEMENT"
)

// EntryKind is the business reason an entry exists. It is fixed at
// creation time and never re-derived from remarks text.
type EntryKind string

const (
	KindTransfer       EntryKind = "TRANSFER"
	KindCommission     EntryKind = "COMMISSION"
	KindSettlement     EntryKind = "SETTLEMENT"
	KindCompanyPosting EntryKind = "COMPANY"
)

// LedgerEntry is a single row in the double-entry ledger.
// Exactly one of Credit/Debit is positive for CREDIT/DEBIT entries;
// both are zero for settlement markers. RunningBalance is derived by the
// balance engine and is never authoritative.
type LedgerEntry struct {
	ID           string    `json:"id"`
	GroupTag     string    `json:"group_tag"`
	PartyName    string    `json:"party_name"`
	Date         time.Time `json:"date"`
	Remarks      string    `json:"remarks,omitempty"`
	Txn          TxnType   `json:"txn_type"`
	Kind         EntryKind `json:"kind"`
	Credit       float64   `json:"credit"`
	Debit        float64   `json:"debit"`
	Balance      float64   `json:"balance"` // derived, recomputed client-side
	Settled      bool      `json:"settled"`
	SettlementID string    `json:"settlement_id,omitempty"`
	Seq          int64     `json:"seq"` // server-assigned creation order
	Optimistic   bool      `json:"-"`   // client-only speculative flag
}

// Amount returns the signed economic effect of the entry:
// positive for credits, negative for debits, zero for markers.
func (e *LedgerEntry) Amount() float64 {
	switch e.Txn {
	case TxnCredit:
		return e.Credit
	case TxnDebit:
		return -e.Debit
	}
	return 0
}

// Valid checks the credit/debit exclusivity invariant.
func (e *LedgerEntry) Valid() bool {
	switch e.Txn {
	case TxnSettlementMarker:
		return e.Credit == 0 && e.Debit == 0
	case TxnCredit:
		return e.Credit > 0 && e.Debit == 0
	case TxnDebit:
		return e.Debit > 0 && e.Credit == 0
	}
	return false
}

// Opposite returns the counter side for a credit or debit.
func (t TxnType) Opposite() TxnType {
	switch t {
	case TxnCredit:
		return TxnDebit
	case TxnDebit:
		return TxnCredit
	}
	return t
}

// ─── Transaction Groups ─────────────────────────────────────────────────────

// TransactionGroup is the 1–4 entries produced atomically from one user
// intent: primary, counter-party leg, commission, company posting.
type TransactionGroup struct {
	GroupTag string        `json:"group_tag"`
	Entries  []LedgerEntry `json:"entries"`
}

// Primary returns the first entry of the group (the user's own posting).
func (g *TransactionGroup) Primary() *LedgerEntry {
	if len(g.Entries) == 0 {
		return nil
	}
	return &g.Entries[0]
}

// ─── Settlement Types ───────────────────────────────────────────────────────

// SettlementRecord is a Monday Final freeze: one marker entry plus the
// exact set of entry ids it settled. Deleting the record unsettles that
// set and no others.
type SettlementRecord struct {
	ID            string    `json:"id"`
	PartyName     string    `json:"party_name"`
	Date          time.Time `json:"date"`
	MarkerEntryID string    `json:"marker_entry_id"`
	FrozenIDs     []string  `json:"frozen_ids"`
	FrozenBalance float64   `json:"frozen_balance"`
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// NormalizeName canonicalizes a party name or keyword for comparison:
// trimmed, lower-cased. Display strings keep their original casing.
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Day truncates t to its calendar day in UTC. All entries of one
// transaction group share one Day value.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
