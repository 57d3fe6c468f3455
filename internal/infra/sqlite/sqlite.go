// Package sqlite is the SQLite-backed ledger store. It implements
// domain.Store with full server-side semantics: old-record protection,
// balance mismatch detection, cascade deletes, and Monday Final
// settlement bookkeeping.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/hisab-network/hisab/internal/domain"
)

var _ domain.Store = (*DB)(nil)

// balanceEpsilon absorbs float noise when comparing expected balances.
const balanceEpsilon = 0.01

const dateFormat = "2006-01-02"

// DB wraps the SQLite connection.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// migrations is the ordered schema setup. Each string is a single SQL
// statement (SQLite executes one at a time).
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS parties (
		name                 TEXT PRIMARY KEY COLLATE NOCASE,
		status               TEXT NOT NULL DEFAULT 'ACTIVE',
		commission_mode      TEXT NOT NULL DEFAULT 'NONE',
		commission_rate      REAL NOT NULL DEFAULT 0,
		commission_direction TEXT NOT NULL DEFAULT '',
		balance_limit        REAL,
		monday_final         INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS entries (
		id            TEXT PRIMARY KEY,
		group_tag     TEXT NOT NULL,
		party_name    TEXT NOT NULL COLLATE NOCASE,
		date          TEXT NOT NULL,
		remarks       TEXT NOT NULL DEFAULT '',
		txn           TEXT NOT NULL,
		kind          TEXT NOT NULL,
		credit        REAL NOT NULL DEFAULT 0,
		debit         REAL NOT NULL DEFAULT 0,
		settled       INTEGER NOT NULL DEFAULT 0,
		settlement_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_party ON entries(party_name, date)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_group ON entries(group_tag)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_settlement ON entries(settlement_id)`,

	`CREATE TABLE IF NOT EXISTS settlements (
		id              TEXT PRIMARY KEY,
		party_name      TEXT NOT NULL COLLATE NOCASE,
		date            TEXT NOT NULL,
		marker_entry_id TEXT NOT NULL,
		frozen_balance  REAL NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_settlements_party ON settlements(party_name)`,
}

// Open creates or opens the ledger database inside dir and runs
// migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &DB{db: db, now: time.Now}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.db.Close() }

// ─── Parties ────────────────────────────────────────────────────────────────

// UpsertParty creates or replaces a party. Party management lives outside
// the ledger core; this exists so the server and tests can seed parties.
func (d *DB) UpsertParty(ctx context.Context, p *domain.Party) error {
	if p.Name == "" {
		return domain.ErrMissingParty
	}
	if p.Status == "" {
		p.Status = domain.PartyActive
	}
	if p.CommissionMode == "" {
		p.CommissionMode = domain.CommissionNone
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO parties (name, status, commission_mode, commission_rate, commission_direction, balance_limit, monday_final)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   status = excluded.status,
		   commission_mode = excluded.commission_mode,
		   commission_rate = excluded.commission_rate,
		   commission_direction = excluded.commission_direction,
		   balance_limit = excluded.balance_limit,
		   monday_final = excluded.monday_final`,
		p.Name, p.Status, p.CommissionMode, p.CommissionRate, p.CommissionDirection,
		p.BalanceLimit, boolInt(p.MondayFinal),
	)
	if err != nil {
		return fmt.Errorf("upsert party: %w", err)
	}
	return nil
}

// GetParty resolves a party by name, case-insensitively.
func (d *DB) GetParty(ctx context.Context, name string) (*domain.Party, error) {
	var p domain.Party
	var limit sql.NullFloat64
	var mondayFinal int
	err := d.db.QueryRowContext(ctx,
		`SELECT name, status, commission_mode, commission_rate, commission_direction, balance_limit, monday_final
		 FROM parties WHERE name = ?`, name,
	).Scan(&p.Name, &p.Status, &p.CommissionMode, &p.CommissionRate,
		&p.CommissionDirection, &limit, &mondayFinal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPartyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get party: %w", err)
	}
	if limit.Valid {
		p.BalanceLimit = &limit.Float64
	}
	p.MondayFinal = mondayFinal != 0
	return &p, nil
}

// ─── Entries ────────────────────────────────────────────────────────────────

const entryColumns = `id, group_tag, party_name, date, remarks, txn, kind,
	credit, debit, settled, COALESCE(settlement_id, ''), rowid`

func scanEntry(row interface{ Scan(...any) error }) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var date string
	var settled int
	if err := row.Scan(&e.ID, &e.GroupTag, &e.PartyName, &date, &e.Remarks,
		&e.Txn, &e.Kind, &e.Credit, &e.Debit, &settled, &e.SettlementID, &e.Seq); err != nil {
		return nil, err
	}
	t, err := time.Parse(dateFormat, date)
	if err != nil {
		return nil, fmt.Errorf("parse entry date %q: %w", date, err)
	}
	e.Date = t
	e.Settled = settled != 0
	return &e, nil
}

// GetPartyLedger returns a party's entries in canonical order: by date,
// then creation order.
func (d *DB) GetPartyLedger(ctx context.Context, partyName string) ([]domain.LedgerEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE party_name = ? ORDER BY date, rowid`,
		partyName,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// GetEntry loads one entry by id.
func (d *DB) GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	e, err := scanEntry(d.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// CreateEntry persists an entry. The party must exist; the entry must
// satisfy credit/debit exclusivity. Missing id and date are filled in.
func (d *DB) CreateEntry(ctx context.Context, entry *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if _, err := d.GetParty(ctx, entry.PartyName); err != nil {
		return nil, err
	}
	e := *entry
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.GroupTag == "" {
		e.GroupTag = uuid.NewString()
	}
	if e.Date.IsZero() {
		e.Date = domain.Day(d.now())
	}
	if e.Kind == "" {
		e.Kind = domain.KindTransfer
	}
	if !e.Valid() {
		return nil, domain.ErrInvalidAmount
	}

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO entries (id, group_tag, party_name, date, remarks, txn, kind, credit, debit, settled, settlement_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.GroupTag, e.PartyName, e.Date.Format(dateFormat), e.Remarks,
		e.Txn, e.Kind, e.Credit, e.Debit, boolInt(e.Settled), nullable(e.SettlementID),
	)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	e.Seq, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("entry seq: %w", err)
	}
	return &e, nil
}

// UpdateEntry applies a partial update. Settled entries and settlement
// markers are immutable; a stale ExpectedBalance fails the update so the
// caller resyncs from the server.
func (d *DB) UpdateEntry(ctx context.Context, id string, patch domain.EntryPatch) (*domain.LedgerEntry, error) {
	existing, err := d.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Settled || existing.Txn == domain.TxnSettlementMarker {
		return nil, domain.ErrOldRecordProtected
	}

	if patch.ExpectedBalance != nil {
		balance, err := d.closingBalance(ctx, existing.PartyName)
		if err != nil {
			return nil, err
		}
		if math.Abs(balance-*patch.ExpectedBalance) > balanceEpsilon {
			return nil, domain.ErrBalanceMismatch
		}
	}

	updated := *existing
	if patch.Remarks != nil {
		updated.Remarks = *patch.Remarks
	}
	if patch.Credit != nil {
		updated.Credit = *patch.Credit
	}
	if patch.Debit != nil {
		updated.Debit = *patch.Debit
	}
	if !updated.Valid() {
		return nil, domain.ErrInvalidAmount
	}

	_, err = d.db.ExecContext(ctx,
		`UPDATE entries SET remarks = ?, credit = ?, debit = ? WHERE id = ?`,
		updated.Remarks, updated.Credit, updated.Debit, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}
	return &updated, nil
}

// DeleteEntry removes an entry and cascades to the other members of its
// transaction group. Settled related entries cannot be removed; when any
// remain, the result reports what was deleted alongside
// ErrCascadeDeleteFailed.
func (d *DB) DeleteEntry(ctx context.Context, id string) (*domain.DeleteResult, error) {
	existing, err := d.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Settled || existing.Txn == domain.TxnSettlementMarker {
		return nil, domain.ErrOldRecordProtected
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete entry: %w", err)
	}
	res := &domain.DeleteResult{DeletedCount: 1}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, party_name, settled FROM entries WHERE group_tag = ? AND id != ?`,
		existing.GroupTag, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	var deletable []string
	var blocked int
	seen := map[string]bool{}
	for rows.Next() {
		var relID, party string
		var settled int
		if err := rows.Scan(&relID, &party, &settled); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		if settled != 0 {
			blocked++
			continue
		}
		deletable = append(deletable, relID)
		if !seen[party] {
			seen[party] = true
			res.RelatedParties = append(res.RelatedParties, party)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}

	for _, relID := range deletable {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, relID); err != nil {
			return nil, fmt.Errorf("cascade delete: %w", err)
		}
		res.RelatedDeletedCount++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	if blocked > 0 {
		return res, domain.ErrCascadeDeleteFailed
	}
	return res, nil
}

// closingBalance sums a party's entries: credits minus debits.
func (d *DB) closingBalance(ctx context.Context, party string) (float64, error) {
	var balance float64
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(credit - debit), 0) FROM entries WHERE party_name = ?`,
		party,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("closing balance: %w", err)
	}
	return balance, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
