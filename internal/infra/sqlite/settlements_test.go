package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/hisab-network/hisab/internal/domain"
)

func TestSettleFreezesOpenEntries(t *testing.T) {
	db := openTestDB(t)
	seedParty(t, db, "Alice")
	a := mustCreate(t, db, credit("Alice", 1000, 1))
	b := mustCreate(t, db, debit("Alice", 300, 2))

	res, err := db.Settle(context.Background(), []string{"Alice"})
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if res.UpdatedCount != 2 {
		t.Errorf("UpdatedCount = %d, want 2", res.UpdatedCount)
	}
	if len(res.SettlementDetails) != 1 {
		t.Fatalf("got %d details, want 1", len(res.SettlementDetails))
	}
	detail := res.SettlementDetails[0]
	if detail.FrozenCount != 2 || detail.FrozenBalance != 700 {
		t.Errorf("detail = %+v, want 2 frozen at balance 700", detail)
	}
	if detail.SettlementID == "" {
		t.Error("detail missing settlement id")
	}

	for _, id := range []string{a.ID, b.ID} {
		e, err := db.GetEntry(context.Background(), id)
		if err != nil {
			t.Fatalf("GetEntry() error = %v", err)
		}
		if !e.Settled || e.SettlementID != detail.SettlementID {
			t.Errorf("entry %s not frozen: %+v", id, e)
		}
	}

	// One marker entry was added to the ledger.
	entries, err := db.GetPartyLedger(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("GetPartyLedger() error = %v", err)
	}
	markers := 0
	for _, e := range entries {
		if e.Txn == domain.TxnSettlementMarker {
			markers++
			if !e.Settled || e.Credit != 0 || e.Debit != 0 {
				t.Errorf("marker = %+v", e)
			}
		}
	}
	if markers != 1 {
		t.Errorf("got %d markers, want 1", markers)
	}
}

func TestSettleIdempotent(t *testing.T) {
	db := openTestDB(t)
	seedParty(t, db, "Alice")
	mustCreate(t, db, credit("Alice", 500, 1))

	first, err := db.Settle(context.Background(), []string{"Alice"})
	if err != nil {
		t.Fatalf("first Settle() error = %v", err)
	}
	if first.UpdatedCount != 1 {
		t.Fatalf("first UpdatedCount = %d, want 1", first.UpdatedCount)
	}

	second, err := db.Settle(context.Background(), []string{"Alice"})
	if err != nil {
		t.Fatalf("second Settle() error = %v", err)
	}
	if second.UpdatedCount != 0 {
		t.Errorf("second UpdatedCount = %d, re-settle must be a no-op", second.UpdatedCount)
	}
	if len(second.SettlementDetails) != 1 || second.SettlementDetails[0].SettlementID != "" {
		t.Errorf("details = %+v, want one zero-count detail without a new record", second.SettlementDetails)
	}

	records, err := db.ListSettlements(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("ListSettlements() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d settlement records, want 1", len(records))
	}
}

func TestSettleMultipleParties(t *testing.T) {
	db := openTestDB(t)
	seedParty(t, db, "Alice")
	seedParty(t, db, "Bob")
	seedParty(t, db, "Empty")
	mustCreate(t, db, credit("Alice", 100, 1))
	mustCreate(t, db, debit("Bob", 40, 1))

	res, err := db.Settle(context.Background(), []string{"Alice", "Bob", "Empty"})
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if res.UpdatedCount != 2 || len(res.SettlementDetails) != 3 {
		t.Errorf("UpdatedCount=%d details=%d, want 2/3", res.UpdatedCount, len(res.SettlementDetails))
	}
	for _, d := range res.SettlementDetails {
		if d.PartyName == "Empty" && d.FrozenCount != 0 {
			t.Errorf("empty party frozen %d entries", d.FrozenCount)
		}
	}
}

func TestSettleUnknownParty(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Settle(context.Background(), []string{"ghost"})
	if !errors.Is(err, domain.ErrPartyNotFound) {
		t.Errorf("Settle() error = %v, want ErrPartyNotFound", err)
	}
	if _, err := db.Settle(context.Background(), nil); !errors.Is(err, domain.ErrMissingParty) {
		t.Errorf("empty Settle() error = %v, want ErrMissingParty", err)
	}
}

func TestDeleteSettlementReopensOwnSetOnly(t *testing.T) {
	db := openTestDB(t)
	seedParty(t, db, "Alice")

	old := mustCreate(t, db, credit("Alice", 100, 1))
	first, err := db.Settle(context.Background(), []string{"Alice"})
	if err != nil {
		t.Fatalf("first Settle() error = %v", err)
	}

	recent := mustCreate(t, db, debit("Alice", 25, 2))
	second, err := db.Settle(context.Background(), []string{"Alice"})
	if err != nil {
		t.Fatalf("second Settle() error = %v", err)
	}

	// Reversing the second settlement reopens only the recent entry.
	res, err := db.DeleteSettlement(context.Background(), second.SettlementDetails[0].SettlementID)
	if err != nil {
		t.Fatalf("DeleteSettlement() error = %v", err)
	}
	if res.UnsettledCount != 1 {
		t.Errorf("UnsettledCount = %d, want 1", res.UnsettledCount)
	}

	reopened, _ := db.GetEntry(context.Background(), recent.ID)
	if reopened.Settled {
		t.Error("recent entry should be open again")
	}
	stillFrozen, _ := db.GetEntry(context.Background(), old.ID)
	if !stillFrozen.Settled || stillFrozen.SettlementID != first.SettlementDetails[0].SettlementID {
		t.Errorf("first settlement's entry must stay frozen: %+v", stillFrozen)
	}

	// The second marker is gone; the first remains.
	entries, _ := db.GetPartyLedger(context.Background(), "Alice")
	markers := 0
	for _, e := range entries {
		if e.Txn == domain.TxnSettlementMarker {
			markers++
		}
	}
	if markers != 1 {
		t.Errorf("got %d markers after reversal, want 1", markers)
	}
}

func TestDeleteSettlementNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.DeleteSettlement(context.Background(), "missing")
	if !errors.Is(err, domain.ErrSettlementNotFound) {
		t.Errorf("DeleteSettlement() error = %v, want ErrSettlementNotFound", err)
	}
}

func TestListSettlementsFrozenIDs(t *testing.T) {
	db := openTestDB(t)
	seedParty(t, db, "Alice")
	a := mustCreate(t, db, credit("Alice", 100, 1))
	b := mustCreate(t, db, debit("Alice", 20, 2))

	if _, err := db.Settle(context.Background(), []string{"Alice"}); err != nil {
		t.Fatalf("Settle() error = %v", err)
	}

	records, err := db.ListSettlements(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("ListSettlements() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if len(rec.FrozenIDs) != 2 {
		t.Errorf("FrozenIDs = %v, want both entries", rec.FrozenIDs)
	}
	got := map[string]bool{}
	for _, id := range rec.FrozenIDs {
		got[id] = true
	}
	if !got[a.ID] || !got[b.ID] {
		t.Errorf("FrozenIDs = %v, missing %s or %s", rec.FrozenIDs, a.ID, b.ID)
	}
	if rec.FrozenBalance != 80 {
		t.Errorf("FrozenBalance = %v, want 80", rec.FrozenBalance)
	}
	if rec.MarkerEntryID == "" {
		t.Error("record missing marker entry id")
	}
}
