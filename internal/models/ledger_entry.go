package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies where a credit came from.
type Source string

const (
	SourceCourtesy        Source = "courtesy"
	SourceExternalPayment Source = "external_payment"
)

func (s Source) Valid() bool {
	return s == SourceCourtesy || s == SourceExternalPayment
}

// LedgerEntry represents a single immutable credit event for a tenant
type LedgerEntry struct {
	ID                string          // generated by the store on append
	TenantID          string          // which tenant this entry belongs to
	Source            Source          // courtesy or external_payment
	Amount            decimal.Decimal // always positive, 2 fraction digits
	Description       string          // optional
	ExternalReference string          // processor transaction id, empty for courtesy credits
	CreatedAt         time.Time       // set by the store on append
}

// Idempotent reports whether the entry is keyed on its external reference.
func (e LedgerEntry) Idempotent() bool {
	return e.Source == SourceExternalPayment && e.ExternalReference != ""
}
