package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Validation errors — rejected before any network dispatch.
	ErrMissingParty       = errors.New("party is required")
	ErrInvalidAmount      = errors.New("amount must be a non-zero finite number")
	ErrSelfTransaction    = errors.New("party cannot transact with itself")
	ErrMissingCounterText = errors.New("counter-party name or remarks required")
	ErrPartyInactive      = errors.New("party is inactive")
	ErrNoCommissionBase   = errors.New("no prior transaction to base commission on")

	// Protection errors — settled rows are immutable until unsettled.
	ErrOldRecordProtected = errors.New("entry is settled; delete its settlement first")

	// Consistency errors.
	ErrBalanceMismatch = errors.New("server balance diverged; ledger refresh required")

	// Lookup errors.
	ErrPartyNotFound      = errors.New("party not found")
	ErrEntryNotFound      = errors.New("entry not found")
	ErrSettlementNotFound = errors.New("settlement not found")

	// Cascade errors — the primary row is gone, related rows are not.
	ErrCascadeDeleteFailed = errors.New("related entries could not be deleted")

	// Transport errors (classified by the request coordinator).
	ErrRateLimited      = errors.New("rate limited by ledger store")
	ErrUnauthorized     = errors.New("credentials rejected by ledger store")
	ErrStoreUnavailable = errors.New("ledger store unavailable")
	ErrCallTimeout      = errors.New("ledger store call timed out")
)

// ─── Business Error Codes ───────────────────────────────────────────────────
// Wire-level codes used by the ledger store API. The client maps these
// back to the sentinel errors above at the boundary, once.

const (
	CodeSelfTransaction     = "SELF_TRANSACTION"
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeOldRecordProtected  = "OLD_RECORD_PROTECTED"
	CodeBalanceMismatch     = "BALANCE_MISMATCH"
	CodePartyNotFound       = "PARTY_NOT_FOUND"
	CodeEntryNotFound       = "ENTRY_NOT_FOUND"
	CodeSettlementNotFound  = "SETTLEMENT_NOT_FOUND"
	CodeCascadeDeleteFailed = "CASCADE_DELETE_FAILED"
)

// CodeForError returns the wire code for a domain error, or "" when the
// error has no business code (transport and unknown errors).
func CodeForError(err error) string {
	switch {
	case errors.Is(err, ErrSelfTransaction):
		return CodeSelfTransaction
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, ErrOldRecordProtected):
		return CodeOldRecordProtected
	case errors.Is(err, ErrBalanceMismatch):
		return CodeBalanceMismatch
	case errors.Is(err, ErrPartyNotFound):
		return CodePartyNotFound
	case errors.Is(err, ErrEntryNotFound):
		return CodeEntryNotFound
	case errors.Is(err, ErrSettlementNotFound):
		return CodeSettlementNotFound
	case errors.Is(err, ErrCascadeDeleteFailed):
		return CodeCascadeDeleteFailed
	}
	return ""
}

// ErrorForCode maps a wire code back to its sentinel error. Unknown codes
// return nil so callers can fall back to a generic error.
func ErrorForCode(code string) error {
	switch code {
	case CodeSelfTransaction:
		return ErrSelfTransaction
	case CodeInvalidAmount:
		return ErrInvalidAmount
	case CodeOldRecordProtected:
		return ErrOldRecordProtected
	case CodeBalanceMismatch:
		return ErrBalanceMismatch
	case CodePartyNotFound:
		return ErrPartyNotFound
	case CodeEntryNotFound:
		return ErrEntryNotFound
	case CodeSettlementNotFound:
		return ErrSettlementNotFound
	case CodeCascadeDeleteFailed:
		return ErrCascadeDeleteFailed
	}
	return nil
}
