package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/sheikh-saqib/credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grantTx(ctx context.Context, tx interfaces.CreditTx, e models.LedgerEntry) error {
	if _, err := tx.EnsureAccount(ctx, e.TenantID); err != nil {
		return err
	}
	saved, err := tx.Append(ctx, e)
	if err != nil {
		return err
	}
	_, err = tx.Apply(ctx, e.TenantID, saved.Amount)
	return err
}

func TestMemoryStore_CommitAndRead(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()

	err := store.RunInTx(ctx, "t1", func(tx interfaces.CreditTx) error {
		return grantTx(ctx, tx, models.LedgerEntry{TenantID: "t1", Source: models.SourceCourtesy, Amount: decimal.NewFromInt(10)})
	})
	require.NoError(t, err)

	err = store.RunInTx(ctx, "t1", func(tx interfaces.CreditTx) error {
		return grantTx(ctx, tx, models.LedgerEntry{TenantID: "t1", Source: models.SourceExternalPayment, Amount: decimal.RequireFromString("2.50"), ExternalReference: "pi_1"})
	})
	require.NoError(t, err)

	balance, err := store.Balance(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "12.5", balance.String())

	entries, err := store.GetEntriesByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "pi_1", entries[0].ExternalReference, "newest first")
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].CreatedAt.IsZero())

	found, err := store.FindByExternalReference(ctx, models.SourceExternalPayment, "pi_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, entries[0].ID, found.ID)
}

func TestMemoryStore_RollbackDiscardsStagedWrites(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, "t1", func(tx interfaces.CreditTx) error {
		if err := grantTx(ctx, tx, models.LedgerEntry{TenantID: "t1", Source: models.SourceCourtesy, Amount: decimal.NewFromInt(10)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	balance, err := store.Balance(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	entries, err := store.GetEntriesByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStore_DuplicateReference(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()
	entry := models.LedgerEntry{TenantID: "t1", Source: models.SourceExternalPayment, Amount: decimal.NewFromInt(5), ExternalReference: "pi_x"}

	require.NoError(t, store.RunInTx(ctx, "t1", func(tx interfaces.CreditTx) error { return grantTx(ctx, tx, entry) }))

	err := store.RunInTx(ctx, "t1", func(tx interfaces.CreditTx) error { return grantTx(ctx, tx, entry) })
	assert.ErrorIs(t, err, models.ErrAlreadyProcessed)

	// courtesy entries carry no reference and never conflict
	courtesy := models.LedgerEntry{TenantID: "t1", Source: models.SourceCourtesy, Amount: decimal.NewFromInt(1)}
	require.NoError(t, store.RunInTx(ctx, "t1", func(tx interfaces.CreditTx) error { return grantTx(ctx, tx, courtesy) }))
	require.NoError(t, store.RunInTx(ctx, "t1", func(tx interfaces.CreditTx) error { return grantTx(ctx, tx, courtesy) }))

	balance, err := store.Balance(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "7", balance.String())
}

func TestMemoryStore_TxIsTenantScoped(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()

	err := store.RunInTx(ctx, "t1", func(tx interfaces.CreditTx) error {
		_, err := tx.EnsureAccount(ctx, "t2")
		return err
	})
	assert.Error(t, err)
}

func TestMemoryStore_ApplyRequiresAccount(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()

	err := store.RunInTx(ctx, "t1", func(tx interfaces.CreditTx) error {
		_, err := tx.Apply(ctx, "t1", decimal.NewFromInt(1))
		return err
	})
	assert.Error(t, err)
}

func TestMemoryStore_TenantsAndUnresolved(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()

	_, err := store.Tenant(ctx, "t1")
	assert.ErrorIs(t, err, models.ErrTenantNotFound)

	require.NoError(t, store.AddTenant(ctx, models.Tenant{ID: "t1", Name: "Acme"}))
	tenant, err := store.Tenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", tenant.Name)

	for _, ref := range []string{"a", "b", "c"} {
		require.NoError(t, store.RecordUnresolved(ctx, models.UnresolvedPayment{SessionID: ref, Reason: models.ReasonMissingTenant}))
	}

	list, err := store.ListUnresolved(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].SessionID)
	assert.Equal(t, "b", list[1].SessionID)
	assert.NotEmpty(t, list[0].ID)
}
