package dto

import "github.com/shopspring/decimal"

// CourtesyGrant is the body of an administrator credit grant. A missing or
// non-positive amount is replaced by the configured default.
type CourtesyGrant struct {
	TenantID    string           `json:"tenant_id"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Description string           `json:"description,omitempty"`
}

type GrantResult struct {
	Status     string `json:"status"`
	EntryID    string `json:"entry_id"`
	Amount     string `json:"amount"`
	NewBalance string `json:"new_balance"`
}

type Balance struct {
	TenantID string `json:"tenant_id"`
	Balance  string `json:"balance"`
}

type LedgerEntry struct {
	ID                string `json:"id"`
	Source            string `json:"source"`
	Amount            string `json:"amount"`
	Description       string `json:"description,omitempty"`
	ExternalReference string `json:"external_reference,omitempty"`
	CreatedAt         string `json:"created_at"`
}

type UnresolvedPayment struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	TenantRef     string `json:"tenant_ref,omitempty"`
	Amount        string `json:"amount"`
	Reason        string `json:"reason"`
	Detail        string `json:"detail,omitempty"`
	CreatedAt     string `json:"created_at"`
}
