package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/credit-ledger/internal/ledger"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/sheikh-saqib/credit-ledger/internal/models/events"
	"github.com/sheikh-saqib/credit-ledger/pkg/logger"
)

type Status string

const (
	StatusCredited   Status = "credited"
	StatusDuplicate  Status = "duplicate"
	StatusUnresolved Status = "unresolved"
)

// Granter is the slice of the credit issuance service the reconciler drives.
type Granter interface {
	GrantCredit(ctx context.Context, req models.GrantRequest) (models.Grant, error)
}

type Outcome struct {
	Status Status
	Reason models.UnresolvedReason // set for StatusUnresolved
	Grant  models.Grant            // set for StatusCredited and StatusDuplicate
}

// Reconciler turns verified payment completions into external_payment credits,
// keyed on the processor transaction id. Anything it cannot credit is recorded
// for operator follow-up instead of failing the delivery.
type Reconciler struct {
	settlements interfaces.SettlementSource
	tenants     interfaces.TenantDirectory
	granter     Granter
	unresolved  interfaces.UnresolvedStore
	publisher   interfaces.EventPublisher
}

func NewReconciler(
	settlements interfaces.SettlementSource,
	tenants interfaces.TenantDirectory,
	granter Granter,
	unresolved interfaces.UnresolvedStore,
	publisher interfaces.EventPublisher,
) *Reconciler {
	return &Reconciler{
		settlements: settlements,
		tenants:     tenants,
		granter:     granter,
		unresolved:  unresolved,
		publisher:   publisher,
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, ev models.PaymentCompleted) Outcome {
	base := models.UnresolvedPayment{EventID: ev.EventID, SessionID: ev.SessionID}

	if ev.SessionID == "" {
		return r.record(ctx, base, models.ReasonMalformedEvent, "event carries no session id")
	}

	settlement, err := r.settlements.FetchSettlement(ctx, ev.SessionID)
	if err != nil {
		return r.record(ctx, base, models.ReasonFetchFailed, err.Error())
	}

	base.TransactionID = settlement.TransactionID
	base.TenantRef = settlement.TenantRef
	base.Amount = settlement.Amount

	if !settlement.Paid {
		return r.record(ctx, base, models.ReasonNotSettled, "")
	}
	if settlement.TenantRef == "" {
		return r.record(ctx, base, models.ReasonMissingTenant, "")
	}

	tenantID, err := uuid.Parse(settlement.TenantRef)
	if err != nil {
		return r.record(ctx, base, models.ReasonMalformedTenant, err.Error())
	}

	if _, err := r.tenants.Tenant(ctx, tenantID.String()); err != nil {
		if errors.Is(err, models.ErrTenantNotFound) {
			return r.record(ctx, base, models.ReasonUnknownTenant, "")
		}
		return r.record(ctx, base, models.ReasonStorageFailed, err.Error())
	}

	if !ledger.Quantize(settlement.Amount).IsPositive() {
		return r.record(ctx, base, models.ReasonNonPositiveAmount, "")
	}

	grant, err := r.granter.GrantCredit(ctx, models.GrantRequest{
		TenantID:          tenantID.String(),
		Amount:            settlement.Amount,
		Source:            models.SourceExternalPayment,
		Description:       "Stripe checkout " + settlement.SessionID,
		ExternalReference: settlement.TransactionID,
	})
	if err != nil {
		if errors.Is(err, models.ErrReferenceConflict) {
			return r.record(ctx, base, models.ReasonReferenceConflict, err.Error())
		}
		if errors.Is(err, models.ErrValidation) {
			return r.record(ctx, base, models.ReasonNonPositiveAmount, err.Error())
		}
		return r.record(ctx, base, models.ReasonStorageFailed, err.Error())
	}

	if grant.Replayed {
		logger.Log.Info("payment already credited",
			logger.String("event_id", ev.EventID),
			logger.String("transaction_id", settlement.TransactionID),
			logger.String("entry_id", grant.Entry.ID))
		return Outcome{Status: StatusDuplicate, Grant: grant}
	}

	logger.Log.Info("payment credited",
		logger.String("event_id", ev.EventID),
		logger.String("tenant_id", grant.Entry.TenantID),
		logger.String("transaction_id", settlement.TransactionID),
		logger.Stringer("amount", grant.Entry.Amount),
		logger.Stringer("balance", grant.Balance))
	return Outcome{Status: StatusCredited, Grant: grant}
}

// Malformed records an event whose signature was valid but whose body could
// not be parsed.
func (r *Reconciler) Malformed(ctx context.Context, ev *models.PaymentCompleted, cause error) Outcome {
	var base models.UnresolvedPayment
	if ev != nil {
		base.EventID = ev.EventID
		base.SessionID = ev.SessionID
	}
	return r.record(ctx, base, models.ReasonMalformedEvent, cause.Error())
}

func (r *Reconciler) record(ctx context.Context, u models.UnresolvedPayment, reason models.UnresolvedReason, detail string) Outcome {
	u.Reason = reason
	u.Detail = detail

	logger.Log.Warn("unresolved payment reconciliation",
		logger.String("reason", string(reason)),
		logger.String("event_id", u.EventID),
		logger.String("session_id", u.SessionID),
		logger.String("transaction_id", u.TransactionID),
		logger.String("tenant_ref", u.TenantRef),
		logger.Stringer("amount", u.Amount),
		logger.String("detail", detail))

	if err := r.unresolved.RecordUnresolved(ctx, u); err != nil {
		logger.Log.Error("record unresolved payment", logger.String("session_id", u.SessionID), logger.Error(err))
	}

	if r.publisher != nil {
		event := events.PaymentUnresolved{
			EventID:       u.EventID,
			SessionID:     u.SessionID,
			TransactionID: u.TransactionID,
			TenantRef:     u.TenantRef,
			Amount:        u.Amount,
			Reason:        string(reason),
			OccurredAt:    time.Now().UTC(),
		}
		if err := r.publisher.Publish(ctx, events.TopicPaymentUnresolved, u.SessionID, event); err != nil {
			logger.Log.Error("publish unresolved payment", logger.String("session_id", u.SessionID), logger.Error(err))
		}
	}

	return Outcome{Status: StatusUnresolved, Reason: reason}
}
