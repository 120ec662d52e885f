// Package stripegw adapts Stripe Checkout to the ledger's payment gateway port.
package stripegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sheikh-saqib/credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/sheikh-saqib/credit-ledger/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// MetadataTenantID is the checkout session metadata key that carries the tenant.
const MetadataTenantID = "tenant_id"

var _ interfaces.PaymentGateway = (*Gateway)(nil)

// sessionAPI is the part of the checkout session client the gateway uses.
type sessionAPI interface {
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type Config struct {
	SecretKey     string
	WebhookSecret string
	Tolerance     time.Duration
	Currency      string
	ProductName   string
}

type Gateway struct {
	sessions      sessionAPI
	webhookSecret string
	tolerance     time.Duration
	currency      string
	productName   string
}

func New(cfg Config) *Gateway {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)
	return newGateway(cfg, sc.CheckoutSessions)
}

func newGateway(cfg Config, sessions sessionAPI) *Gateway {
	return &Gateway{
		sessions:      sessions,
		webhookSecret: cfg.WebhookSecret,
		tolerance:     cfg.Tolerance,
		currency:      cfg.Currency,
		productName:   cfg.ProductName,
	}
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// ParseEvent verifies the Stripe-Signature header and extracts the checkout
// session id from completion events. Only the id is taken from the payload.
// Without a webhook secret nothing is verified and every event is refused.
func (g *Gateway) ParseEvent(payload []byte, signature string) (*models.PaymentCompleted, error) {
	if g.webhookSecret == "" {
		return nil, models.ErrWebhookNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %w", models.ErrSignatureInvalid, err)
		}
		return nil, fmt.Errorf("%w: %w", models.ErrMalformedEvent, err)
	}

	if event.APIVersion != "" && event.APIVersion != stripe.APIVersion {
		logger.Log.Warn("stripe event api version differs from client",
			logger.String("event_id", event.ID),
			logger.String("event_version", event.APIVersion),
			logger.String("client_version", stripe.APIVersion))
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		return nil, nil
	}

	completed := &models.PaymentCompleted{EventID: event.ID, EventType: string(event.Type)}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return completed, fmt.Errorf("%w: event %s has no data object", models.ErrMalformedEvent, event.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return completed, fmt.Errorf("%w: decode checkout session: %w", models.ErrMalformedEvent, err)
	}
	if session.ID == "" {
		return completed, fmt.Errorf("%w: event %s carries no session id", models.ErrMalformedEvent, event.ID)
	}

	completed.SessionID = session.ID
	return completed, nil
}

// FetchSettlement re-reads the session from Stripe with its payment intent
// expanded. Amount and tenant come from this read, never from the event.
func (g *Gateway) FetchSettlement(ctx context.Context, sessionID string) (models.Settlement, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	session, err := g.sessions.Get(sessionID, params)
	if err != nil {
		return models.Settlement{}, fmt.Errorf("get checkout session %q: %w", sessionID, err)
	}

	settlement := models.Settlement{
		SessionID:     session.ID,
		TransactionID: session.ID,
		TenantRef:     session.Metadata[MetadataTenantID],
		Amount:        decimal.New(session.AmountTotal, -2),
		Paid:          session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		settlement.TransactionID = session.PaymentIntent.ID
	}
	return settlement, nil
}

// CreateCheckout opens a one-item payment session and returns its URL.
func (g *Gateway) CreateCheckout(ctx context.Context, req interfaces.CheckoutRequest) (string, error) {
	cents := req.Amount.Shift(2).Round(0).IntPart()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency),
					UnitAmount: stripe.Int64(cents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(g.productName),
						Description: stripe.String(fmt.Sprintf("Credits for %s", req.Tenant.Name)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	if req.Tenant.Email != "" {
		params.CustomerEmail = stripe.String(req.Tenant.Email)
	}
	params.AddMetadata(MetadataTenantID, req.Tenant.ID)
	params.AddMetadata("amount", req.Amount.StringFixed(2))

	session, err := g.sessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session for %q: %w", req.Tenant.ID, err)
	}
	return session.URL, nil
}
