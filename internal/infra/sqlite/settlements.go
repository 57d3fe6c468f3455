package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hisab-network/hisab/internal/domain"
)

// ─── Monday Final Settlement ────────────────────────────────────────────────

// Settle freezes every open entry for each named party behind a fresh
// settlement record with its own marker entry. Idempotent per party per
// date: parties with nothing open contribute a zero-count detail and no
// new record.
func (d *DB) Settle(ctx context.Context, partyNames []string) (*domain.SettleResult, error) {
	if len(partyNames) == 0 {
		return nil, domain.ErrMissingParty
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin settle: %w", err)
	}
	defer tx.Rollback()

	day := domain.Day(d.now())
	result := &domain.SettleResult{}

	for _, name := range partyNames {
		party, err := d.GetParty(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("settle %q: %w", name, err)
		}

		openIDs, err := openEntryIDs(ctx, tx, party.Name)
		if err != nil {
			return nil, err
		}
		detail := domain.SettlementDetail{PartyName: party.Name, Date: day}
		if len(openIDs) == 0 {
			// Already settled (or empty): nothing to double-mark.
			result.SettlementDetails = append(result.SettlementDetails, detail)
			continue
		}

		var balance float64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(credit - debit), 0) FROM entries WHERE party_name = ?`,
			party.Name,
		).Scan(&balance); err != nil {
			return nil, fmt.Errorf("settle balance: %w", err)
		}

		settlementID := uuid.NewString()
		markerID := uuid.NewString()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO entries (id, group_tag, party_name, date, remarks, txn, kind, credit, debit, settled, settlement_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 1, ?)`,
			markerID, settlementID, party.Name, day.Format(dateFormat),
			fmt.Sprintf("Monday Final Settlement %s", day.Format(dateFormat)),
			domain.TxnSettlementMarker, domain.KindSettlement, settlementID,
		)
		if err != nil {
			return nil, fmt.Errorf("insert settlement marker: %w", err)
		}

		for _, id := range openIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE entries SET settled = 1, settlement_id = ? WHERE id = ?`,
				settlementID, id,
			); err != nil {
				return nil, fmt.Errorf("freeze entry: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO settlements (id, party_name, date, marker_entry_id, frozen_balance)
			 VALUES (?, ?, ?, ?, ?)`,
			settlementID, party.Name, day.Format(dateFormat), markerID, balance,
		)
		if err != nil {
			return nil, fmt.Errorf("insert settlement: %w", err)
		}

		detail.SettlementID = settlementID
		detail.FrozenCount = len(openIDs)
		detail.FrozenBalance = balance
		result.UpdatedCount += len(openIDs)
		result.SettledEntryIDs = append(result.SettledEntryIDs, openIDs...)
		result.SettlementDetails = append(result.SettlementDetails, detail)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settle: %w", err)
	}
	return result, nil
}

// DeleteSettlement reverses one settlement: the marker entry goes away
// and exactly the entries that record had frozen reopen. Entries frozen
// by other settlements are untouched.
func (d *DB) DeleteSettlement(ctx context.Context, settlementID string) (*domain.UnsettleResult, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin unsettle: %w", err)
	}
	defer tx.Rollback()

	var markerID string
	err = tx.QueryRowContext(ctx,
		`SELECT marker_entry_id FROM settlements WHERE id = ?`, settlementID,
	).Scan(&markerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSettlementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, markerID); err != nil {
		return nil, fmt.Errorf("delete marker: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE entries SET settled = 0, settlement_id = NULL WHERE settlement_id = ?`,
		settlementID,
	)
	if err != nil {
		return nil, fmt.Errorf("reopen entries: %w", err)
	}
	reopened, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("count reopened: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM settlements WHERE id = ?`, settlementID); err != nil {
		return nil, fmt.Errorf("delete settlement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit unsettle: %w", err)
	}
	return &domain.UnsettleResult{UnsettledCount: int(reopened)}, nil
}

// ListSettlements returns settlement records, newest first, optionally
// filtered by party.
func (d *DB) ListSettlements(ctx context.Context, partyName string) ([]domain.SettlementRecord, error) {
	query := `SELECT id, party_name, date, marker_entry_id, frozen_balance FROM settlements`
	args := []any{}
	if partyName != "" {
		query += ` WHERE party_name = ?`
		args = append(args, partyName)
	}
	query += ` ORDER BY date DESC, rowid DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	defer rows.Close()

	var records []domain.SettlementRecord
	for rows.Next() {
		var rec domain.SettlementRecord
		var date string
		if err := rows.Scan(&rec.ID, &rec.PartyName, &date, &rec.MarkerEntryID, &rec.FrozenBalance); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		t, err := time.Parse(dateFormat, date)
		if err != nil {
			return nil, fmt.Errorf("parse settlement date: %w", err)
		}
		rec.Date = t
		if err := d.frozenIDs(ctx, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	return records, nil
}

func (d *DB) frozenIDs(ctx context.Context, rec *domain.SettlementRecord) error {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id FROM entries WHERE settlement_id = ? AND id != ? ORDER BY rowid`,
		rec.ID, rec.MarkerEntryID,
	)
	if err != nil {
		return fmt.Errorf("frozen ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan frozen id: %w", err)
		}
		rec.FrozenIDs = append(rec.FrozenIDs, id)
	}
	return rows.Err()
}

// openEntryIDs lists a party's unsettled, non-marker entries in ledger
// order.
func openEntryIDs(ctx context.Context, tx *sql.Tx, party string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM entries WHERE party_name = ? AND settled = 0 AND txn != ? ORDER BY date, rowid`,
		party, domain.TxnSettlementMarker,
	)
	if err != nil {
		return nil, fmt.Errorf("query open entries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan open entry: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
