package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.CreditStore.
// Transactions are serialized per tenant; their writes are staged and only
// become visible when the whole transaction commits.
type MemoryLedgerStore struct {
	mu         sync.RWMutex                    // protects everything below
	entries    []models.LedgerEntry            // append-only ledger
	accounts   map[string]models.CreditAccount // materialized balances by tenant
	refs       map[string]int                  // idempotency key -> index into entries
	unresolved []models.UnresolvedPayment
	tenants    map[string]models.Tenant

	locksMu sync.Mutex             // protects locks
	locks   map[string]*sync.Mutex // one lock per tenant

	now func() time.Time
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		entries:  make([]models.LedgerEntry, 0),
		accounts: make(map[string]models.CreditAccount),
		refs:     make(map[string]int),
		tenants:  make(map[string]models.Tenant),
		locks:    make(map[string]*sync.Mutex),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func refKey(source models.Source, ref string) string {
	return string(source) + "\x00" + ref
}

func (m *MemoryLedgerStore) tenantLock(tenantID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if _, exists := m.locks[tenantID]; !exists {
		m.locks[tenantID] = &sync.Mutex{}
	}
	return m.locks[tenantID]
}

func (m *MemoryLedgerStore) RunInTx(ctx context.Context, tenantID string, fn func(tx interfaces.CreditTx) error) error {
	lock := m.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{store: m, tenantID: tenantID, delta: decimal.Zero}
	if err := fn(tx); err != nil {
		// staged writes are simply dropped
		return err
	}

	return m.commit(tx)
}

func (m *MemoryLedgerStore) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range tx.entries {
		if !e.Idempotent() {
			continue
		}
		if _, exists := m.refs[refKey(e.Source, e.ExternalReference)]; exists {
			return models.ErrAlreadyProcessed
		}
	}

	acc, exists := m.accounts[tx.tenantID]
	if !exists {
		if tx.newAccount == nil {
			if len(tx.entries) == 0 && tx.delta.IsZero() {
				return nil
			}
			return fmt.Errorf("commit: no account for tenant %s", tx.tenantID)
		}
		acc = *tx.newAccount
	}

	for _, e := range tx.entries {
		m.entries = append(m.entries, e)
		if e.Idempotent() {
			m.refs[refKey(e.Source, e.ExternalReference)] = len(m.entries) - 1
		}
	}

	if !tx.delta.IsZero() {
		acc.Balance = acc.Balance.Add(tx.delta)
		acc.UpdatedAt = m.now()
	}
	m.accounts[tx.tenantID] = acc
	return nil
}

func (m *MemoryLedgerStore) FindByExternalReference(_ context.Context, source models.Source, ref string) (*models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.findLocked(source, ref), nil
}

func (m *MemoryLedgerStore) findLocked(source models.Source, ref string) *models.LedgerEntry {
	idx, exists := m.refs[refKey(source, ref)]
	if !exists {
		return nil
	}
	e := m.entries[idx]
	return &e
}

func (m *MemoryLedgerStore) Balance(_ context.Context, tenantID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, exists := m.accounts[tenantID]
	if !exists {
		return decimal.Zero, nil
	}
	return acc.Balance, nil
}

// GetEntriesByTenant returns the tenant's entries, newest first.
func (m *MemoryLedgerStore) GetEntriesByTenant(_ context.Context, tenantID string) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.LedgerEntry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].TenantID == tenantID {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}

func (m *MemoryLedgerStore) AddTenant(_ context.Context, t models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenants[t.ID]; !exists {
		m.tenants[t.ID] = t
	}
	return nil
}

func (m *MemoryLedgerStore) Tenant(_ context.Context, tenantID string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, exists := m.tenants[tenantID]
	if !exists {
		return nil, models.ErrTenantNotFound
	}
	return &t, nil
}

func (m *MemoryLedgerStore) RecordUnresolved(_ context.Context, u models.UnresolvedPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	m.unresolved = append(m.unresolved, u)
	return nil
}

// ListUnresolved returns up to limit records, newest first.
func (m *MemoryLedgerStore) ListUnresolved(_ context.Context, limit int) ([]models.UnresolvedPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.UnresolvedPayment, 0)
	for i := len(m.unresolved) - 1; i >= 0 && (limit <= 0 || len(result) < limit); i-- {
		result = append(result, m.unresolved[i])
	}
	return result, nil
}

// memoryTx stages writes for a single tenant until commit.
type memoryTx struct {
	store      *MemoryLedgerStore
	tenantID   string
	newAccount *models.CreditAccount
	entries    []models.LedgerEntry
	delta      decimal.Decimal
}

func (tx *memoryTx) checkTenant(tenantID string) error {
	if tenantID != tx.tenantID {
		return fmt.Errorf("transaction for tenant %s cannot touch tenant %s", tx.tenantID, tenantID)
	}
	return nil
}

// committedAccount returns the committed account, or the staged one.
func (tx *memoryTx) committedAccount() (models.CreditAccount, bool) {
	tx.store.mu.RLock()
	acc, exists := tx.store.accounts[tx.tenantID]
	tx.store.mu.RUnlock()

	if exists {
		return acc, true
	}
	if tx.newAccount != nil {
		return *tx.newAccount, true
	}
	return models.CreditAccount{}, false
}

func (tx *memoryTx) EnsureAccount(_ context.Context, tenantID string) (models.CreditAccount, error) {
	if err := tx.checkTenant(tenantID); err != nil {
		return models.CreditAccount{}, err
	}

	acc, exists := tx.committedAccount()
	if !exists {
		now := tx.store.now()
		tx.newAccount = &models.CreditAccount{
			TenantID:  tenantID,
			Balance:   decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}
		acc = *tx.newAccount
	}

	acc.Balance = acc.Balance.Add(tx.delta)
	return acc, nil
}

func (tx *memoryTx) FindByExternalReference(_ context.Context, source models.Source, ref string) (*models.LedgerEntry, error) {
	for _, e := range tx.entries {
		if e.Source == source && e.ExternalReference == ref {
			found := e
			return &found, nil
		}
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.findLocked(source, ref), nil
}

func (tx *memoryTx) Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	if err := tx.checkTenant(entry.TenantID); err != nil {
		return models.LedgerEntry{}, err
	}

	if entry.Idempotent() {
		existing, _ := tx.FindByExternalReference(ctx, entry.Source, entry.ExternalReference)
		if existing != nil {
			return models.LedgerEntry{}, models.ErrAlreadyProcessed
		}
	}

	entry.ID = uuid.NewString()
	entry.CreatedAt = tx.store.now()
	tx.entries = append(tx.entries, entry)
	return entry, nil
}

func (tx *memoryTx) Apply(_ context.Context, tenantID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := tx.checkTenant(tenantID); err != nil {
		return decimal.Zero, err
	}

	acc, exists := tx.committedAccount()
	if !exists {
		return decimal.Zero, fmt.Errorf("apply: no account for tenant %s", tenantID)
	}

	tx.delta = tx.delta.Add(delta)
	return acc.Balance.Add(tx.delta), nil
}

// Compile-time checks
var (
	_ interfaces.CreditStore     = (*MemoryLedgerStore)(nil)
	_ interfaces.TenantDirectory = (*MemoryLedgerStore)(nil)
	_ interfaces.UnresolvedStore = (*MemoryLedgerStore)(nil)
)
