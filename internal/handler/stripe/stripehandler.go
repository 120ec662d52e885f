package stripehandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sheikh-saqib/credit-ledger/internal/handler/middleware"
	"github.com/sheikh-saqib/credit-ledger/internal/handler/respond"
	"github.com/sheikh-saqib/credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/credit-ledger/internal/ledger"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/sheikh-saqib/credit-ledger/internal/reconcile"
	"github.com/sheikh-saqib/credit-ledger/pkg/dto"
	"github.com/sheikh-saqib/credit-ledger/pkg/logger"
	"github.com/shopspring/decimal"
)

const (
	maxWebhookBody  = 65536
	signatureHeader = "Stripe-Signature"
)

type paymentGateway interface {
	ParseEvent(payload []byte, signature string) (*models.PaymentCompleted, error)
	CreateCheckout(ctx context.Context, req interfaces.CheckoutRequest) (string, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, ev models.PaymentCompleted) reconcile.Outcome
	Malformed(ctx context.Context, ev *models.PaymentCompleted, cause error) reconcile.Outcome
}

type StripeHandler struct {
	gateway    paymentGateway
	reconciler reconciler
	tenants    interfaces.TenantDirectory
	minAmount  decimal.Decimal
	publicURL  string
}

func New(gateway paymentGateway, r reconciler, tenants interfaces.TenantDirectory, minAmount decimal.Decimal, publicURL string) *StripeHandler {
	return &StripeHandler{
		gateway:    gateway,
		reconciler: r,
		tenants:    tenants,
		minAmount:  minAmount,
		publicURL:  publicURL,
	}
}

// Webhook receives processor notifications. Once the signature checks out the
// delivery is always acknowledged; anything that cannot be credited is kept
// as an unresolved payment instead of being retried by the processor.
func (h StripeHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		logger.Log.Warn("error while reading webhook body", logger.Error(err))
		respond.Error(w, http.StatusBadRequest, "invalid body")
		return
	}

	completed, err := h.gateway.ParseEvent(payload, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, models.ErrWebhookNotConfigured) {
			logger.Log.Error("webhook received without a signing secret configured")
			respond.Error(w, http.StatusInternalServerError, "stripe_webhook_secret_missing")
			return
		}
		if errors.Is(err, models.ErrSignatureInvalid) {
			logger.Log.Warn("webhook signature rejected", logger.Error(err))
			respond.FromError(w, err)
			return
		}

		// detached: a client hang-up must not cut the record short
		out := h.reconciler.Malformed(context.WithoutCancel(r.Context()), completed, err)
		respond.JSON(w, http.StatusOK, dto.Status{Status: string(out.Status), Reason: string(out.Reason)})
		return
	}

	if completed == nil {
		respond.JSON(w, http.StatusOK, dto.Status{Status: "ignored"})
		return
	}

	out := h.reconciler.Reconcile(context.WithoutCancel(r.Context()), *completed)
	respond.JSON(w, http.StatusOK, dto.Status{
		Status:    string(out.Status),
		Reason:    string(out.Reason),
		SessionID: completed.SessionID,
	})
}

// Checkout opens a hosted checkout session crediting the given tenant.
func (h StripeHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req dto.Checkout
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.Warn("error while decoding a checkout request", logger.Error(err))
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := ledger.AuthorizeTenantAccess(middleware.CallerFrom(r.Context()), req.TenantID); err != nil {
		logger.Log.Warn("checkout access denied", logger.String("tenant_id", req.TenantID))
		respond.FromError(w, err)
		return
	}

	amount := ledger.Quantize(req.Amount)
	if amount.LessThan(h.minAmount) {
		logger.Log.Warn("checkout amount below minimum", logger.Stringer("amount", amount), logger.Stringer("minimum", h.minAmount))
		respond.Error(w, http.StatusBadRequest, "invalid_minimum_amount")
		return
	}

	tenant, err := h.tenants.Tenant(r.Context(), req.TenantID)
	if err != nil {
		if errors.Is(err, models.ErrTenantNotFound) {
			logger.Log.Warn("checkout for unknown tenant", logger.String("tenant_id", req.TenantID))
		} else {
			logger.Log.Error("error while looking up tenant", logger.String("tenant_id", req.TenantID), logger.Error(err))
		}
		respond.FromError(w, err)
		return
	}

	url, err := h.gateway.CreateCheckout(r.Context(), interfaces.CheckoutRequest{
		Tenant:     *tenant,
		Amount:     amount,
		SuccessURL: h.publicURL + "/api/stripe/success?sid={CHECKOUT_SESSION_ID}",
		CancelURL:  h.publicURL + "/api/stripe/cancel",
	})
	if err != nil {
		logger.Log.Error("error while creating checkout session", logger.String("tenant_id", req.TenantID), logger.Error(err))
		respond.Error(w, http.StatusBadGateway, "checkout unavailable")
		return
	}

	respond.JSON(w, http.StatusOK, dto.CheckoutSession{CheckoutURL: url})
}

// Success is the checkout landing page. Crediting happens through the webhook
// only; this endpoint just echoes the session id.
func (h StripeHandler) Success(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, dto.Status{Status: "success", SessionID: r.URL.Query().Get("sid")})
}

func (h StripeHandler) Cancel(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, dto.Status{Status: "canceled"})
}
