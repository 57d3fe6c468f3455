package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hisab-network/hisab/internal/domain"
	"github.com/hisab-network/hisab/internal/ledger"
	"github.com/hisab-network/hisab/internal/settle"
)

// ─── Optimistic Ledger View ─────────────────────────────────────────────────

// LedgerView keeps two layers per party: the authoritative entries last
// loaded from the store, and a speculative overlay of entries that have
// been submitted (or hidden) but not yet confirmed. Reads merge the
// overlay over the authoritative layer and recompute balances as if the
// speculative state were real. Reconciliation replaces or discards
// overlay entries by group tag, never by position.
type LedgerView struct {
	store    domain.Store
	notifier domain.Notifier

	mu            sync.Mutex
	authoritative map[string][]domain.LedgerEntry // party → entries
	overlay       map[string][]domain.LedgerEntry // party → speculative entries
	hidden        map[string]bool                 // entry id → optimistically deleted
}

// NewLedgerView creates a view over the given store.
func NewLedgerView(store domain.Store, notifier domain.Notifier) *LedgerView {
	return &LedgerView{
		store:         store,
		notifier:      notifier,
		authoritative: make(map[string][]domain.LedgerEntry),
		overlay:       make(map[string][]domain.LedgerEntry),
		hidden:        make(map[string]bool),
	}
}

// Refresh reloads a party's authoritative entries from the store. The
// result is keyed by party, so a slow response for a previously viewed
// party can never overwrite a newer party's state.
func (v *LedgerView) Refresh(ctx context.Context, party string) error {
	entries, err := v.store.GetPartyLedger(ctx, party)
	if err != nil {
		return fmt.Errorf("refresh %q: %w", party, err)
	}
	key := domain.NormalizeName(party)
	v.mu.Lock()
	v.authoritative[key] = entries
	v.mu.Unlock()
	return nil
}

// Entries returns the merged, balance-annotated sequence for a party:
// authoritative entries (minus optimistic deletions) with the speculative
// overlay appended, in canonical ledger order.
func (v *LedgerView) Entries(party string) ([]domain.LedgerEntry, ledger.Summary) {
	key := domain.NormalizeName(party)
	v.mu.Lock()
	merged := make([]domain.LedgerEntry, 0, len(v.authoritative[key])+len(v.overlay[key]))
	for _, e := range v.authoritative[key] {
		if !v.hidden[e.ID] {
			merged = append(merged, e)
		}
	}
	merged = append(merged, v.overlay[key]...)
	v.mu.Unlock()

	ledger.SortEntries(merged)
	summary := ledger.Annotate(merged)
	return merged, summary
}

// SubmitGroup renders a composed transaction group speculatively, posts
// it, and reconciles: confirmed entries replace their speculative twins
// by group tag; failed groups are rolled back and the failure surfaced.
// The primary entry follows the partial-failure policy of Composer.Post —
// once written it stays written.
func (v *LedgerView) SubmitGroup(ctx context.Context, composer *ledger.Composer, group *domain.TransactionGroup) (*ledger.PostResult, error) {
	v.applySpeculative(group)

	res, err := composer.Post(ctx, group)
	if err != nil {
		// Primary failed: nothing was written, drop the whole overlay.
		v.discardGroup(group.GroupTag)
		v.notify(ctx, domain.Notice{
			Title:       "Transaction failed",
			Description: err.Error(),
			Severity:    domain.SeverityError,
		})
		return nil, err
	}

	v.confirmGroup(group.GroupTag, res.Posted)

	for _, failure := range res.Failures {
		v.notify(ctx, domain.Notice{
			Title:       "Posting failed for " + failure.Entry.PartyName,
			Description: failure.Err.Error(),
			Severity:    domain.SeverityWarning,
		})
	}
	if len(res.Failures) == 0 {
		v.notify(ctx, domain.Notice{
			Title:       "Transaction recorded",
			Description: fmt.Sprintf("%d entries posted", len(res.Posted)),
			Severity:    domain.SeveritySuccess,
		})
	}
	return res, nil
}

// Delete hides the entry immediately, then issues the delete. On failure
// the entry reappears. A store-side cascade also removes related group
// members; the caller should Refresh affected parties afterwards.
func (v *LedgerView) Delete(ctx context.Context, entry *domain.LedgerEntry) (*domain.DeleteResult, error) {
	if err := settle.GuardMutable(entry); err != nil {
		v.notify(ctx, domain.Notice{
			Title:       "Delete rejected",
			Description: err.Error(),
			Severity:    domain.SeverityWarning,
		})
		return nil, err
	}

	v.mu.Lock()
	v.hidden[entry.ID] = true
	v.mu.Unlock()

	res, err := v.store.DeleteEntry(ctx, entry.ID)
	if err != nil {
		v.mu.Lock()
		delete(v.hidden, entry.ID)
		v.mu.Unlock()
		v.notify(ctx, domain.Notice{
			Title:       "Delete failed",
			Description: err.Error(),
			Severity:    domain.SeverityError,
		})
		return res, err
	}
	return res, nil
}

// ─── Overlay Bookkeeping ────────────────────────────────────────────────────

// applySpeculative flags the group's entries optimistic, assigns
// temporary ids, and installs them in the overlay.
func (v *LedgerView) applySpeculative(group *domain.TransactionGroup) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range group.Entries {
		e := group.Entries[i]
		e.ID = "tmp-" + uuid.NewString()
		e.Optimistic = true
		key := domain.NormalizeName(e.PartyName)
		v.overlay[key] = append(v.overlay[key], e)
	}
}

// confirmGroup swaps speculative entries for their authoritative
// counterparts. Secondary postings that failed keep no overlay ghost.
func (v *LedgerView) confirmGroup(tag string, posted []domain.LedgerEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropTagLocked(tag)
	for _, e := range posted {
		key := domain.NormalizeName(e.PartyName)
		v.authoritative[key] = append(v.authoritative[key], e)
	}
}

// discardGroup removes a failed group's speculative entries.
func (v *LedgerView) discardGroup(tag string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropTagLocked(tag)
}

func (v *LedgerView) dropTagLocked(tag string) {
	for key, entries := range v.overlay {
		kept := entries[:0]
		for _, e := range entries {
			if e.GroupTag != tag {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(v.overlay, key)
		} else {
			v.overlay[key] = kept
		}
	}
}

func (v *LedgerView) notify(ctx context.Context, n domain.Notice) {
	if v.notifier != nil {
		v.notifier.Notify(ctx, n)
	}
}
