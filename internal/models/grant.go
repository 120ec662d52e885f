package models

import "github.com/shopspring/decimal"

// GrantRequest is an intent to credit a tenant
type GrantRequest struct {
	TenantID          string
	Amount            decimal.Decimal
	Source            Source
	Description       string
	ExternalReference string
}

// Grant is the outcome of an issuance call.
type Grant struct {
	Entry   LedgerEntry
	Balance decimal.Decimal
	// Replayed is set when the external reference had already been credited.
	// Entry is then the original entry and Balance the current balance.
	Replayed bool
}
