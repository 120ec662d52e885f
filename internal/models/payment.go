package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentCompleted is a verified processor notification, reduced to the fields
// the reconciler is allowed to trust. Amounts and metadata are never taken from
// the notification itself; they are re-fetched as a Settlement.
type PaymentCompleted struct {
	EventID   string
	EventType string
	SessionID string
}

// Settlement is the authoritative state of a checkout session as reported by
// the processor at reconciliation time.
type Settlement struct {
	SessionID     string
	TransactionID string          // payment intent id, or the session id when none is attached
	TenantRef     string          // raw tenant id from session metadata, unvalidated
	Amount        decimal.Decimal // settled total in major units
	Paid          bool
}

// UnresolvedReason explains why a payment event did not produce a credit.
type UnresolvedReason string

const (
	ReasonMissingTenant     UnresolvedReason = "missing_tenant"
	ReasonMalformedTenant   UnresolvedReason = "malformed_tenant"
	ReasonUnknownTenant     UnresolvedReason = "unknown_tenant"
	ReasonNonPositiveAmount UnresolvedReason = "non_positive_amount"
	ReasonNotSettled        UnresolvedReason = "payment_not_settled"
	ReasonMalformedEvent    UnresolvedReason = "malformed_event"
	ReasonFetchFailed       UnresolvedReason = "fetch_failed"
	ReasonStorageFailed     UnresolvedReason = "storage_failed"
	ReasonReferenceConflict UnresolvedReason = "reference_conflict"
)

// UnresolvedPayment is kept for operator follow-up.
type UnresolvedPayment struct {
	ID            string
	EventID       string
	SessionID     string
	TransactionID string
	TenantRef     string
	Amount        decimal.Decimal
	Reason        UnresolvedReason
	Detail        string
	CreatedAt     time.Time
}
