package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sheikh-saqib/credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/sheikh-saqib/credit-ledger/internal/models/events"
	"github.com/sheikh-saqib/credit-ledger/pkg/logger"
	"github.com/shopspring/decimal"
)

// RetryPolicy bounds how often a failed storage transaction is re-run.
type RetryPolicy struct {
	MaxRetries uint64
	Interval   time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, Interval: 50 * time.Millisecond}

// Ledger is the credit issuance service. It composes the ledger store and the
// balance accumulator into one transaction per grant.
type Ledger struct {
	store     interfaces.CreditStore     // ledger entries and materialized balances
	tenants   interfaces.TenantDirectory // used to reject grants for unknown tenants
	publisher interfaces.EventPublisher  // notified after every committed grant
	retry     RetryPolicy

	muMap map[string]*sync.Mutex // one mutex per tenant
	mapMu sync.Mutex             // protects the muMap itself
}

func NewLedger(store interfaces.CreditStore, tenants interfaces.TenantDirectory, publisher interfaces.EventPublisher, retry RetryPolicy) *Ledger {
	return &Ledger{
		store:     store,
		tenants:   tenants,
		publisher: publisher,
		retry:     retry,
		muMap:     make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) getTenantLock(tenantID string) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[tenantID]; !exists {
		l.muMap[tenantID] = &sync.Mutex{}
	}
	return l.muMap[tenantID]
}

// GrantCredit appends a credit entry and applies it to the tenant balance in a
// single transaction. For external payments with a reference, a second grant
// with the same reference returns the original entry with Replayed set.
func (l *Ledger) GrantCredit(ctx context.Context, req models.GrantRequest) (models.Grant, error) {
	if req.TenantID == "" {
		return models.Grant{}, models.ValidationError{Field: "tenant_id", Message: "is required"}
	}
	if !req.Source.Valid() {
		return models.Grant{}, models.ValidationError{Field: "source", Message: fmt.Sprintf("unknown source %q", req.Source)}
	}

	amount := Quantize(req.Amount)
	if !amount.IsPositive() {
		return models.Grant{}, models.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	entry := models.LedgerEntry{
		TenantID:          req.TenantID,
		Source:            req.Source,
		Amount:            amount,
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
	}

	// Serialize grants for the same tenant inside this process; the store
	// serializes across processes.
	mu := l.getTenantLock(req.TenantID)
	mu.Lock()
	defer mu.Unlock()

	var grant models.Grant
	op := func() error {
		g, err := l.issue(ctx, entry)
		if err == nil {
			grant = g
			return nil
		}
		if errors.Is(err, models.ErrAlreadyProcessed) || errors.Is(err, models.ErrReferenceConflict) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(l.retry.Interval), l.retry.MaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		logger.Log.Warn("retrying credit transaction",
			logger.String("tenant_id", entry.TenantID),
			logger.String("external_reference", entry.ExternalReference),
			logger.Duration("wait", wait),
			logger.Error(err))
	}

	err := backoff.RetryNotify(op, b, notify)
	switch {
	case errors.Is(err, models.ErrAlreadyProcessed):
		// lost the race on the uniqueness constraint to a concurrent delivery
		return l.replay(ctx, entry)
	case errors.Is(err, models.ErrReferenceConflict):
		logger.Log.Warn("external reference credited to another tenant",
			logger.String("tenant_id", entry.TenantID),
			logger.String("external_reference", entry.ExternalReference))
		return models.Grant{}, err
	case err != nil && ctx.Err() != nil:
		return models.Grant{}, err
	case err != nil:
		return models.Grant{}, fmt.Errorf("%w: %w", models.ErrStorage, err)
	}

	if !grant.Replayed {
		l.publishGranted(ctx, grant)
	}
	return grant, nil
}

func (l *Ledger) issue(ctx context.Context, entry models.LedgerEntry) (models.Grant, error) {
	var grant models.Grant

	err := l.store.RunInTx(ctx, entry.TenantID, func(tx interfaces.CreditTx) error {
		account, err := tx.EnsureAccount(ctx, entry.TenantID)
		if err != nil {
			return err
		}

		// Idempotency check, under the same lock as the write
		if entry.Idempotent() {
			existing, err := tx.FindByExternalReference(ctx, entry.Source, entry.ExternalReference)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := checkOwner(*existing, entry); err != nil {
					return err
				}
				grant = models.Grant{Entry: *existing, Balance: account.Balance, Replayed: true}
				return nil
			}
		}

		saved, err := tx.Append(ctx, entry)
		if err != nil {
			return err
		}

		balance, err := tx.Apply(ctx, entry.TenantID, saved.Amount)
		if err != nil {
			return err
		}

		grant = models.Grant{Entry: saved, Balance: balance}
		return nil
	})
	if err != nil {
		return models.Grant{}, err
	}
	return grant, nil
}

func (l *Ledger) replay(ctx context.Context, entry models.LedgerEntry) (models.Grant, error) {
	existing, err := l.store.FindByExternalReference(ctx, entry.Source, entry.ExternalReference)
	if err != nil {
		return models.Grant{}, fmt.Errorf("%w: %w", models.ErrStorage, err)
	}
	if existing == nil {
		return models.Grant{}, fmt.Errorf("%w: reference %s reported as processed but not found", models.ErrStorage, entry.ExternalReference)
	}
	if err := checkOwner(*existing, entry); err != nil {
		logger.Log.Warn("external reference credited to another tenant",
			logger.String("tenant_id", entry.TenantID),
			logger.String("external_reference", entry.ExternalReference))
		return models.Grant{}, err
	}

	balance, err := l.store.Balance(ctx, entry.TenantID)
	if err != nil {
		return models.Grant{}, fmt.Errorf("%w: %w", models.ErrStorage, err)
	}
	return models.Grant{Entry: *existing, Balance: balance, Replayed: true}, nil
}

// checkOwner rejects a replay whose stored entry was credited to a different
// tenant than the one asking.
func checkOwner(existing, entry models.LedgerEntry) error {
	if existing.TenantID != entry.TenantID {
		return fmt.Errorf("%w: reference %s is held by tenant %s", models.ErrReferenceConflict, entry.ExternalReference, existing.TenantID)
	}
	return nil
}

func (l *Ledger) publishGranted(ctx context.Context, grant models.Grant) {
	if l.publisher == nil {
		return
	}

	event := events.CreditGranted{
		EntryID:           grant.Entry.ID,
		TenantID:          grant.Entry.TenantID,
		Source:            string(grant.Entry.Source),
		Amount:            grant.Entry.Amount,
		Balance:           grant.Balance,
		ExternalReference: grant.Entry.ExternalReference,
		OccurredAt:        grant.Entry.CreatedAt,
	}
	if err := l.publisher.Publish(ctx, events.TopicCreditGranted, grant.Entry.TenantID, event); err != nil {
		// the credit is committed; a lost notification is not rolled back
		logger.Log.Error("publish credit granted",
			logger.String("entry_id", grant.Entry.ID),
			logger.String("tenant_id", grant.Entry.TenantID),
			logger.Error(err))
	}
}

// GetBalance returns zero for tenants that were never credited.
func (l *Ledger) GetBalance(ctx context.Context, tenantID string) (decimal.Decimal, error) {
	balance, err := l.store.Balance(ctx, tenantID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", models.ErrStorage, err)
	}
	return balance, nil
}

func (l *Ledger) GetLedgerEntries(ctx context.Context, tenantID string) ([]models.LedgerEntry, error) {
	ledgerEntries, err := l.store.GetEntriesByTenant(ctx, tenantID)
	if err != nil {
		return []models.LedgerEntry{}, fmt.Errorf("%w: %w", models.ErrStorage, err)
	}
	return ledgerEntries, nil
}

// GrantCourtesy issues an administrator credit to an existing tenant. The
// caller has already substituted any default amount.
func (l *Ledger) GrantCourtesy(ctx context.Context, caller models.Caller, tenantID string, amount decimal.Decimal, description string) (models.Grant, error) {
	if err := AuthorizeCourtesy(caller); err != nil {
		return models.Grant{}, err
	}
	if tenantID == "" {
		return models.Grant{}, models.ValidationError{Field: "tenant_id", Message: "is required"}
	}
	if err := l.requireTenant(ctx, tenantID); err != nil {
		return models.Grant{}, err
	}

	return l.GrantCredit(ctx, models.GrantRequest{
		TenantID:    tenantID,
		Amount:      amount,
		Source:      models.SourceCourtesy,
		Description: description,
	})
}

func (l *Ledger) BalanceFor(ctx context.Context, caller models.Caller, tenantID string) (decimal.Decimal, error) {
	if err := AuthorizeTenantAccess(caller, tenantID); err != nil {
		return decimal.Zero, err
	}
	return l.GetBalance(ctx, tenantID)
}

func (l *Ledger) EntriesFor(ctx context.Context, caller models.Caller, tenantID string) ([]models.LedgerEntry, error) {
	if err := AuthorizeTenantAccess(caller, tenantID); err != nil {
		return nil, err
	}
	return l.GetLedgerEntries(ctx, tenantID)
}

func (l *Ledger) requireTenant(ctx context.Context, tenantID string) error {
	if l.tenants == nil {
		return nil
	}
	if _, err := l.tenants.Tenant(ctx, tenantID); err != nil {
		if errors.Is(err, models.ErrTenantNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", models.ErrStorage, err)
	}
	return nil
}
