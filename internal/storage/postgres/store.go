package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sheikh-saqib/credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/sheikh-saqib/credit-ledger/pkg/logger"
	"github.com/shopspring/decimal"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

type PostgresLedgerStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// classify maps driver errors onto the ledger's sentinels.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %w", models.ErrAlreadyProcessed, err)
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %w", models.ErrContention, err)
	}
	return err
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Log.Error("rollback credit transaction", logger.Error(err))
	}
}

// RunInTx opens a transaction; EnsureAccount takes the row lock that
// serializes writers of the same tenant.
func (p *PostgresLedgerStore) RunInTx(ctx context.Context, tenantID string, fn func(tx interfaces.CreditTx) error) error {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer rollback(dbTx)

	if err := fn(&creditTx{tx: dbTx, tenantID: tenantID, now: p.now}); err != nil {
		return err
	}

	if err := dbTx.Commit(); err != nil {
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
		entry  models.LedgerEntry
		source string
	)
	err := row.Scan(
		&entry.ID,
		&entry.TenantID,
		&source,
		&entry.Amount,
		&entry.Description,
		&entry.ExternalReference,
		&entry.CreatedAt,
	)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	entry.Source = models.Source(source)
	return entry, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findByExternalReference(ctx context.Context, q queryRower, source models.Source, ref string) (*models.LedgerEntry, error) {
	entry, err := scanEntry(q.QueryRowContext(ctx, selectEntryColumns+` WHERE source = $1 AND external_reference = $2`, string(source), ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find entry by reference %q: %w", ref, err)
	}
	return &entry, nil
}

func (p *PostgresLedgerStore) FindByExternalReference(ctx context.Context, source models.Source, ref string) (*models.LedgerEntry, error) {
	return findByExternalReference(ctx, p.db, source, ref)
}

func (p *PostgresLedgerStore) Balance(ctx context.Context, tenantID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := p.db.QueryRowContext(ctx, `SELECT balance FROM credit_accounts WHERE tenant_id = $1`, tenantID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance %q: %w", tenantID, err)
	}
	return balance, nil
}

// GetEntriesByTenant returns the tenant's entries, newest first.
func (p *PostgresLedgerStore) GetEntriesByTenant(ctx context.Context, tenantID string) ([]models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, selectEntryColumns+` WHERE tenant_id = $1 ORDER BY created_at DESC, id DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list entries %q: %w", tenantID, err)
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (p *PostgresLedgerStore) AddTenant(ctx context.Context, t models.Tenant) error {
	const query = `INSERT INTO tenants (id, name, email) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`
	if _, err := p.db.ExecContext(ctx, query, t.ID, t.Name, t.Email); err != nil {
		return fmt.Errorf("add tenant %q: %w", t.ID, err)
	}
	return nil
}

func (p *PostgresLedgerStore) Tenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	var t models.Tenant
	err := p.db.QueryRowContext(ctx, `SELECT id, name, email FROM tenants WHERE id = $1`, tenantID).
		Scan(&t.ID, &t.Name, &t.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %q: %w", tenantID, err)
	}
	return &t, nil
}

func (p *PostgresLedgerStore) RecordUnresolved(ctx context.Context, u models.UnresolvedPayment) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = p.now()
	}

	const query = `INSERT INTO unresolved_payments
		(id, event_id, session_id, transaction_id, tenant_ref, amount, reason, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := p.db.ExecContext(ctx, query,
		u.ID, u.EventID, u.SessionID, u.TransactionID, u.TenantRef, u.Amount, string(u.Reason), u.Detail, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("record unresolved payment %q: %w", u.SessionID, err)
	}
	return nil
}

// ListUnresolved returns up to limit records, newest first. A non-positive
// limit returns everything.
func (p *PostgresLedgerStore) ListUnresolved(ctx context.Context, limit int) ([]models.UnresolvedPayment, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	const query = `SELECT id, event_id, session_id, transaction_id, tenant_ref, amount, reason, detail, created_at
		FROM unresolved_payments ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := p.db.QueryContext(ctx, query, lim)
	if err != nil {
		return nil, fmt.Errorf("list unresolved payments: %w", err)
	}
	defer rows.Close()

	result := make([]models.UnresolvedPayment, 0)
	for rows.Next() {
		var (
			u      models.UnresolvedPayment
			reason string
		)
		if err := rows.Scan(&u.ID, &u.EventID, &u.SessionID, &u.TransactionID, &u.TenantRef, &u.Amount, &reason, &u.Detail, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan unresolved payment: %w", err)
		}
		u.Reason = models.UnresolvedReason(reason)
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unresolved payments: %w", err)
	}
	return result, nil
}

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

// EnsureAccount creates the account if needed and locks its row until the
// transaction ends.
func (c *creditTx) EnsureAccount(ctx context.Context, tenantID string) (models.CreditAccount, error) {
	if err := c.checkTenant(tenantID); err != nil {
		return models.CreditAccount{}, err
	}

	const insert = `INSERT INTO credit_accounts (tenant_id, balance) VALUES ($1, 0) ON CONFLICT (tenant_id) DO NOTHING`
	if _, err := c.tx.ExecContext(ctx, insert, tenantID); err != nil {
		return models.CreditAccount{}, classify(fmt.Errorf("ensure account %q: %w", tenantID, err))
	}

	var acc models.CreditAccount
	const lock = `SELECT tenant_id, balance, created_at, updated_at FROM credit_accounts WHERE tenant_id = $1 FOR UPDATE`
	err := c.tx.QueryRowContext(ctx, lock, tenantID).Scan(&acc.TenantID, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return models.CreditAccount{}, classify(fmt.Errorf("lock account %q: %w", tenantID, err))
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

	const query = `INSERT INTO credit_ledger_entries (id, tenant_id, source, amount, description, external_reference, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := c.tx.ExecContext(ctx, query,
		entry.ID, entry.TenantID, string(entry.Source), entry.Amount, entry.Description, ref, entry.CreatedAt)
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
	const update = `UPDATE credit_accounts SET balance = balance + $2, updated_at = now()
	WHERE tenant_id = $1 RETURNING balance`
	err := c.tx.QueryRowContext(ctx, update, tenantID, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("apply: no account for tenant %s", tenantID)
	}
	if err != nil {
		return decimal.Zero, classify(fmt.Errorf("apply delta %q: %w", tenantID, err))
	}
	return balance, nil
}

var (
	_ interfaces.CreditStore     = (*PostgresLedgerStore)(nil)
	_ interfaces.TenantDirectory = (*PostgresLedgerStore)(nil)
	_ interfaces.UnresolvedStore = (*PostgresLedgerStore)(nil)
)
