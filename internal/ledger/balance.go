// Package ledger implements the transaction engine: running balance
// derivation, commission calculation, and expansion of a single user
// intent into its full set of double-entry postings.
//
// Everything here is synchronous and deterministic — the only I/O is
// party/ledger lookups through the domain.Store handed to the Composer.
package ledger

import (
	"sort"

	"github.com/hisab-network/hisab/internal/domain"
)

// ─── Balance Engine ─────────────────────────────────────────────────────────

// Checkpoint is the balance frozen at a settlement marker.
type Checkpoint struct {
	EntryID string
	Balance float64
}

// Summary is the aggregate result of a balance pass.
type Summary struct {
	TotalCredit    float64
	TotalDebit     float64
	ClosingBalance float64
	Checkpoints    []Checkpoint
}

// SortEntries orders entries by date, then by creation order. This is the
// canonical ledger order; balance derivation assumes it.
func SortEntries(entries []domain.LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].Seq < entries[j].Seq
	})
}

// Annotate recomputes running balances over an ordered entry sequence.
// The balance starts at zero; credits add, debits subtract, settlement
// markers leave it unchanged and record a checkpoint. The input slice is
// annotated in place and summarized. Annotate is a pure function of the
// entry sequence: recomputation always yields identical balances.
func Annotate(entries []domain.LedgerEntry) Summary {
	var s Summary
	balance := 0.0
	for i := range entries {
		e := &entries[i]
		switch e.Txn {
		case domain.TxnCredit:
			balance += e.Credit
			s.TotalCredit += e.Credit
		case domain.TxnDebit:
			balance -= e.Debit
			s.TotalDebit += e.Debit
		case domain.TxnSettlementMarker:
			s.Checkpoints = append(s.Checkpoints, Checkpoint{EntryID: e.ID, Balance: balance})
		}
		e.Balance = balance
	}
	s.ClosingBalance = balance
	return s
}

// ClosingAfter returns the closing balance for a view that hides entries
// after the last settlement marker: the marker's frozen balance when one
// exists, otherwise the full closing balance.
func ClosingAfter(s Summary) float64 {
	if n := len(s.Checkpoints); n > 0 {
		return s.Checkpoints[n-1].Balance
	}
	return s.ClosingBalance
}
