package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/sheikh-saqib/credit-ledger/pkg/logger"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	_ interfaces.CreditStore     = (*Store)(nil)
	_ interfaces.TenantDirectory = (*Store)(nil)
	_ interfaces.UnresolvedStore = (*Store)(nil)
)

// Store keeps the credit ledger in SQLite. Amounts are stored as decimal text.
type Store struct {
	db  *DB
	now func() time.Time
}

func NewStore(db *DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// classify maps driver errors onto the ledger's sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	code := sqliteErr.Code()
	switch code & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		// the plain code shows up when extended result codes are off
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT {
			return fmt.Errorf("%w: %w", models.ErrAlreadyProcessed, err)
		}
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", models.ErrContention, err)
	}
	return err
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Log.Error("rollback credit transaction", logger.Error(err))
	}
}

func (s *Store) RunInTx(ctx context.Context, tenantID string, fn func(tx interfaces.CreditTx) error) error {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer rollback(tx)

	if err := fn(&creditTx{tx: tx, tenantID: tenantID, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

const selectEntryColumns = `SELECT id, tenant_id, source, amount, description, COALESCE(external_reference, ''), created_at FROM credit_ledger_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (models.LedgerEntry, error) {
	var (
		e         models.LedgerEntry
		source    string
		createdAt string
	)
	if err := row.Scan(&e.ID, &e.TenantID, &source, &e.Amount, &e.Description, &e.ExternalReference, &createdAt); err != nil {
		return models.LedgerEntry{}, err
	}
	e.Source = models.Source(source)

	t, err := parseTime(createdAt)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	e.CreatedAt = t
	return e, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findByExternalReference(ctx context.Context, q queryRower, source models.Source, ref string) (*models.LedgerEntry, error) {
	row := q.QueryRowContext(ctx, selectEntryColumns+` WHERE source = ? AND external_reference = ?`, string(source), ref)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find entry by reference %q: %w", ref, err)
	}
	return &e, nil
}

func (s *Store) FindByExternalReference(ctx context.Context, source models.Source, ref string) (*models.LedgerEntry, error) {
	return findByExternalReference(ctx, s.db.Reader, source, ref)
}

func (s *Store) Balance(ctx context.Context, tenantID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.Reader.QueryRowContext(ctx, `SELECT balance FROM credit_accounts WHERE tenant_id = ?`, tenantID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance %q: %w", tenantID, err)
	}
	return balance, nil
}

// GetEntriesByTenant returns the tenant's entries, newest first.
func (s *Store) GetEntriesByTenant(ctx context.Context, tenantID string) ([]models.LedgerEntry, error) {
	rows, err := s.db.Reader.QueryContext(ctx, selectEntryColumns+` WHERE tenant_id = ? ORDER BY created_at DESC, rowid DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list entries %q: %w", tenantID, err)
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// AddTenant registers a tenant; existing ids are left untouched.
func (s *Store) AddTenant(ctx context.Context, t models.Tenant) error {
	const query = `INSERT INTO tenants (id, name, email) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`
	if _, err := s.db.Writer.ExecContext(ctx, query, t.ID, t.Name, t.Email); err != nil {
		return fmt.Errorf("add tenant %q: %w", t.ID, err)
	}
	return nil
}

func (s *Store) Tenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.Reader.QueryRowContext(ctx, `SELECT id, name, email FROM tenants WHERE id = ?`, tenantID).
		Scan(&t.ID, &t.Name, &t.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %q: %w", tenantID, err)
	}
	return &t, nil
}

func (s *Store) RecordUnresolved(ctx context.Context, u models.UnresolvedPayment) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}

	const query = `INSERT INTO unresolved_payments
		(id, event_id, session_id, transaction_id, tenant_ref, amount, reason, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Writer.ExecContext(ctx, query,
		u.ID, u.EventID, u.SessionID, u.TransactionID, u.TenantRef, u.Amount.StringFixed(2), string(u.Reason), u.Detail, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("record unresolved payment %q: %w", u.SessionID, err)
	}
	return nil
}

// ListUnresolved returns up to limit records, newest first. A non-positive
// limit returns everything.
func (s *Store) ListUnresolved(ctx context.Context, limit int) ([]models.UnresolvedPayment, error) {
	if limit <= 0 {
		limit = -1
	}

	const query = `SELECT id, event_id, session_id, transaction_id, tenant_ref, amount, reason, detail, created_at
		FROM unresolved_payments ORDER BY created_at DESC, rowid DESC LIMIT ?`
	rows, err := s.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unresolved payments: %w", err)
	}
	defer rows.Close()

	result := make([]models.UnresolvedPayment, 0)
	for rows.Next() {
		var (
			u         models.UnresolvedPayment
			reason    string
			createdAt string
		)
		if err := rows.Scan(&u.ID, &u.EventID, &u.SessionID, &u.TransactionID, &u.TenantRef, &u.Amount, &reason, &u.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan unresolved payment: %w", err)
		}
		u.Reason = models.UnresolvedReason(reason)
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unresolved payments: %w", err)
	}
	return result, nil
}

// creditTx runs on the single writer connection, so nothing else writes
// between its reads and its writes.
type creditTx struct {
	tx       *sql.Tx
	tenantID string
	now      func() time.Time
}

func (c *creditTx) checkTenant(tenantID string) error {
	if tenantID != c.tenantID {
		return fmt.Errorf("transaction for tenant %s cannot touch tenant %s", c.tenantID, tenantID)
	}
	return nil
}

func (c *creditTx) EnsureAccount(ctx context.Context, tenantID string) (models.CreditAccount, error) {
	if err := c.checkTenant(tenantID); err != nil {
		return models.CreditAccount{}, err
	}

	now := formatTime(c.now())
	const insert = `INSERT INTO credit_accounts (tenant_id, balance, created_at, updated_at) VALUES (?, '0', ?, ?)
		ON CONFLICT (tenant_id) DO NOTHING`
	if _, err := c.tx.ExecContext(ctx, insert, tenantID, now, now); err != nil {
		return models.CreditAccount{}, classify(fmt.Errorf("ensure account %q: %w", tenantID, err))
	}

	var (
		acc                  models.CreditAccount
		createdAt, updatedAt string
	)
	err := c.tx.QueryRowContext(ctx, `SELECT tenant_id, balance, created_at, updated_at FROM credit_accounts WHERE tenant_id = ?`, tenantID).
		Scan(&acc.TenantID, &acc.Balance, &createdAt, &updatedAt)
	if err != nil {
		return models.CreditAccount{}, classify(fmt.Errorf("load account %q: %w", tenantID, err))
	}
	if acc.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.CreditAccount{}, err
	}
	if acc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.CreditAccount{}, err
	}
	return acc, nil
}

func (c *creditTx) FindByExternalReference(ctx context.Context, source models.Source, ref string) (*models.LedgerEntry, error) {
	return findByExternalReference(ctx, c.tx, source, ref)
}

func (c *creditTx) Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	if err := c.checkTenant(entry.TenantID); err != nil {
		return models.LedgerEntry{}, err
	}

	entry.ID = uuid.NewString()
	entry.CreatedAt = c.now()

	var ref sql.NullString
	if entry.ExternalReference != "" {
		ref = sql.NullString{String: entry.ExternalReference, Valid: true}
	}

	const query = `INSERT INTO credit_ledger_entries
		(id, tenant_id, source, amount, description, external_reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := c.tx.ExecContext(ctx, query,
		entry.ID, entry.TenantID, string(entry.Source), entry.Amount.StringFixed(2), entry.Description, ref, formatTime(entry.CreatedAt))
	if err != nil {
		return models.LedgerEntry{}, classify(fmt.Errorf("append entry for %q: %w", entry.TenantID, err))
	}
	return entry, nil
}

func (c *creditTx) Apply(ctx context.Context, tenantID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := c.checkTenant(tenantID); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := c.tx.QueryRowContext(ctx, `SELECT balance FROM credit_accounts WHERE tenant_id = ?`, tenantID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("apply: no account for tenant %s", tenantID)
	}
	if err != nil {
		return decimal.Zero, classify(fmt.Errorf("read balance %q: %w", tenantID, err))
	}

	balance = balance.Add(delta)
	const update = `UPDATE credit_accounts SET balance = ?, updated_at = ? WHERE tenant_id = ?`
	if _, err := c.tx.ExecContext(ctx, update, balance.StringFixed(2), formatTime(c.now()), tenantID); err != nil {
		return decimal.Zero, classify(fmt.Errorf("update balance %q: %w", tenantID, err))
	}
	return balance, nil
}
