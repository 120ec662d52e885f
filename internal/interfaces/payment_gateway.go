package interfaces

import (
	"context"

	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// SettlementSource re-fetches the authoritative state of a checkout session.
type SettlementSource interface {
	FetchSettlement(ctx context.Context, sessionID string) (models.Settlement, error)
}

type CheckoutRequest struct {
	Tenant     models.Tenant
	Amount     decimal.Decimal
	SuccessURL string
	CancelURL  string
}

type PaymentGateway interface {
	SettlementSource
	// ParseEvent verifies the signature and reduces the payload to a
	// PaymentCompleted. It returns (nil, nil) for event types that carry no
	// payment completion.
	ParseEvent(payload []byte, signature string) (*models.PaymentCompleted, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error)
}
