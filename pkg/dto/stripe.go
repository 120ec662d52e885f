package dto

import "github.com/shopspring/decimal"

type Checkout struct {
	TenantID string          `json:"tenant_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type CheckoutSession struct {
	CheckoutURL string `json:"checkout_url"`
}

type Status struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}
