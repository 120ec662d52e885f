package interfaces

import (
	"context"

	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerWriter is the append-only side of the ledger. Entries are write-once.
type LedgerWriter interface {
	// Append persists the entry, filling in ID and CreatedAt. It returns
	// models.ErrAlreadyProcessed when an idempotent entry with the same
	// (source, external reference) already exists.
	Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error)
	FindByExternalReference(ctx context.Context, source models.Source, ref string) (*models.LedgerEntry, error)
}

// BalanceAccumulator maintains the materialized balance of a tenant.
type BalanceAccumulator interface {
	// EnsureAccount creates a zero-balance account if absent and returns it,
	// holding whatever lock the store uses to serialize the tenant.
	EnsureAccount(ctx context.Context, tenantID string) (models.CreditAccount, error)
	Apply(ctx context.Context, tenantID string, delta decimal.Decimal) (decimal.Decimal, error)
}

// CreditTx is one atomic unit spanning ledger and balance writes.
type CreditTx interface {
	LedgerWriter
	BalanceAccumulator
}

type CreditStore interface {
	// RunInTx runs fn in a transaction scoped to tenantID. The transaction
	// commits only if fn returns nil; otherwise every write is rolled back.
	RunInTx(ctx context.Context, tenantID string, fn func(tx CreditTx) error) error

	FindByExternalReference(ctx context.Context, source models.Source, ref string) (*models.LedgerEntry, error)
	// Balance returns zero for tenants without an account.
	Balance(ctx context.Context, tenantID string) (decimal.Decimal, error)
	GetEntriesByTenant(ctx context.Context, tenantID string) ([]models.LedgerEntry, error)
}

type TenantDirectory interface {
	// Tenant returns models.ErrTenantNotFound for unknown ids.
	Tenant(ctx context.Context, tenantID string) (*models.Tenant, error)
}

type UnresolvedStore interface {
	RecordUnresolved(ctx context.Context, u models.UnresolvedPayment) error
	ListUnresolved(ctx context.Context, limit int) ([]models.UnresolvedPayment, error)
}
