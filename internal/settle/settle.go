// Package settle manages Monday Final settlement state: freezing a
// party's open entries behind a settlement record, guarding settled
// entries against mutation, and reversing a settlement by deleting its
// record.
package settle

import (
	"context"
	"fmt"

	"github.com/hisab-network/hisab/internal/domain"
)

// Manager coordinates settlement operations against a ledger store and
// surfaces terminal outcomes through the notifier.
type Manager struct {
	store    domain.Store
	notifier domain.Notifier
}

// NewManager creates a settlement manager.
func NewManager(store domain.Store, notifier domain.Notifier) *Manager {
	return &Manager{store: store, notifier: notifier}
}

// GuardMutable rejects any edit or delete of a settled entry before it
// reaches the network. The entry is left untouched.
func GuardMutable(e *domain.LedgerEntry) error {
	if e == nil {
		return domain.ErrEntryNotFound
	}
	if e.Settled || e.Txn == domain.TxnSettlementMarker {
		return domain.ErrOldRecordProtected
	}
	return nil
}

// Settle runs Monday Final for the named parties. Each party gets one
// settlement marker and all of its currently open entries are frozen.
// Re-running for an already-settled set affects nothing and reports an
// updated count of zero for those parties.
func (m *Manager) Settle(ctx context.Context, partyNames []string) (*domain.SettleResult, error) {
	if len(partyNames) == 0 {
		return nil, domain.ErrMissingParty
	}

	res, err := m.store.Settle(ctx, partyNames)
	if err != nil {
		m.notify(ctx, domain.Notice{
			Title:       "Monday Final failed",
			Description: err.Error(),
			Severity:    domain.SeverityError,
		})
		return nil, fmt.Errorf("settle: %w", err)
	}

	m.notify(ctx, domain.Notice{
		Title:       "Monday Final complete",
		Description: fmt.Sprintf("%d entries settled across %d parties", res.UpdatedCount, len(res.SettlementDetails)),
		Severity:    domain.SeveritySuccess,
	})
	return res, nil
}

// Unsettle deletes a settlement record, reopening exactly the entries it
// had frozen. This is the only path by which a settled entry becomes
// editable again.
func (m *Manager) Unsettle(ctx context.Context, settlementID string) (*domain.UnsettleResult, error) {
	if settlementID == "" {
		return nil, domain.ErrSettlementNotFound
	}

	res, err := m.store.DeleteSettlement(ctx, settlementID)
	if err != nil {
		m.notify(ctx, domain.Notice{
			Title:       "Unsettle failed",
			Description: err.Error(),
			Severity:    domain.SeverityError,
		})
		return nil, fmt.Errorf("unsettle %s: %w", settlementID, err)
	}

	m.notify(ctx, domain.Notice{
		Title:       "Settlement reversed",
		Description: fmt.Sprintf("%d entries reopened", res.UnsettledCount),
		Severity:    domain.SeveritySuccess,
	})
	return res, nil
}

func (m *Manager) notify(ctx context.Context, n domain.Notice) {
	if m.notifier != nil {
		m.notifier.Notify(ctx, n)
	}
}
