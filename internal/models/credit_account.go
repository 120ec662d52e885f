package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreditAccount is the materialized balance of a tenant. Balance always equals
// the sum of the tenant's ledger entries once a transaction has committed.
type CreditAccount struct {
	TenantID  string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}
