package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicCreditGranted     = "credit.granted"
	TopicPaymentUnresolved = "payment.unresolved"
)

type CreditGranted struct {
	EntryID           string          `json:"entry_id"`
	TenantID          string          `json:"tenant_id"`
	Source            string          `json:"source"`
	Amount            decimal.Decimal `json:"amount"`
	Balance           decimal.Decimal `json:"balance"`
	ExternalReference string          `json:"external_reference,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

type PaymentUnresolved struct {
	EventID       string          `json:"event_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	TenantRef     string          `json:"tenant_ref,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
