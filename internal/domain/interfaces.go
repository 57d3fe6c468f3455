package domain

import (
	"context"
	"time"
)

// ─── Store Interface ────────────────────────────────────────────────────────

// EntryPatch carries the fields of a partial entry update. Nil pointers
// leave the stored value untouched.
type EntryPatch struct {
	Remarks         *string  `json:"remarks,omitempty"`
	Credit          *float64 `json:"credit,omitempty"`
	Debit           *float64 `json:"debit,omitempty"`
	ExpectedBalance *float64 `json:"expected_balance,omitempty"`
}

// DeleteResult describes the outcome of an entry deletion, including the
// cascade to other members of the same transaction group.
type DeleteResult struct {
	DeletedCount        int      `json:"deleted_count"`
	RelatedDeletedCount int      `json:"related_deleted_count"`
	RelatedParties      []string `json:"related_parties,omitempty"`
}

// SettlementDetail describes one party's Monday Final outcome.
type SettlementDetail struct {
	SettlementID  string    `json:"settlement_id"`
	PartyName     string    `json:"party_name"`
	Date          time.Time `json:"date"`
	FrozenCount   int       `json:"frozen_count"`
	FrozenBalance float64   `json:"frozen_balance"`
}

// SettleResult aggregates a Monday Final run across parties.
type SettleResult struct {
	UpdatedCount      int                `json:"updated_count"`
	SettledEntryIDs   []string           `json:"settled_entry_ids,omitempty"`
	SettlementDetails []SettlementDetail `json:"settlement_details,omitempty"`
}

// UnsettleResult reports how many entries a settlement deletion reopened.
type UnsettleResult struct {
	UnsettledCount int `json:"unsettled_count"`
}

// Store is the ledger persistence collaborator. Implementations: the
// SQLite-backed server store and the HTTP client (which adds retry,
// dedup and caching via the request coordinator).
type Store interface {
	// GetParty resolves a party by name (case-insensitive).
	// Returns ErrPartyNotFound when no such party exists.
	GetParty(ctx context.Context, name string) (*Party, error)

	// GetPartyLedger returns all entries for a party ordered by date,
	// then by creation order.
	GetPartyLedger(ctx context.Context, partyName string) ([]LedgerEntry, error)

	// CreateEntry persists a new entry and returns it with server-assigned
	// ID and Seq.
	CreateEntry(ctx context.Context, entry *LedgerEntry) (*LedgerEntry, error)

	// UpdateEntry applies a partial update. Fails with
	// ErrOldRecordProtected if the entry is settled and with
	// ErrBalanceMismatch if ExpectedBalance diverges from the stored state.
	UpdateEntry(ctx context.Context, id string, patch EntryPatch) (*LedgerEntry, error)

	// DeleteEntry removes an entry and cascades to transfer legs sharing
	// its group tag. A missing id is a success no-op with DeletedCount 0.
	DeleteEntry(ctx context.Context, id string) (*DeleteResult, error)

	// Settle runs Monday Final for the named parties. Idempotent per
	// party per date.
	Settle(ctx context.Context, partyNames []string) (*SettleResult, error)

	// DeleteSettlement reverses one settlement, reopening exactly the
	// entries it had frozen.
	DeleteSettlement(ctx context.Context, settlementID string) (*UnsettleResult, error)
}

// ─── Notifier Interface ─────────────────────────────────────────────────────

// Severity grades a user-facing notice.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeveritySuccess Severity = "SUCCESS"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Notice is a terminal outcome surfaced to the user.
type Notice struct {
	Title       string
	Description string
	Severity    Severity
}

// Notifier receives every terminal outcome — success, validation failure,
// exhausted-retry transport failure. Nothing is silently swallowed except
// the idempotent not-found-on-delete.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}
