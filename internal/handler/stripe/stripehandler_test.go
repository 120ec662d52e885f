package stripehandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sheikh-saqib/credit-ledger/internal/handler/middleware"
	stripehandler "github.com/sheikh-saqib/credit-ledger/internal/handler/stripe"
	"github.com/sheikh-saqib/credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/sheikh-saqib/credit-ledger/internal/reconcile"
	"github.com/sheikh-saqib/credit-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/credit-ledger/pkg/dto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantID = "4b9c1f4e-8a53-4a57-9d0e-6f1f0f6f2a01"

type mockGateway struct {
	completed *models.PaymentCompleted
	parseErr  error
	url       string
	createErr error

	gotPayload   string
	gotSignature string
	gotCheckout  interfaces.CheckoutRequest
}

func (m *mockGateway) ParseEvent(payload []byte, signature string) (*models.PaymentCompleted, error) {
	m.gotPayload = string(payload)
	m.gotSignature = signature
	return m.completed, m.parseErr
}

func (m *mockGateway) CreateCheckout(_ context.Context, req interfaces.CheckoutRequest) (string, error) {
	m.gotCheckout = req
	return m.url, m.createErr
}

type mockReconciler struct {
	outcome      reconcile.Outcome
	reconciled   []models.PaymentCompleted
	malformed    int
	malformedErr error
	ctxErr       error
}

func (m *mockReconciler) Reconcile(ctx context.Context, ev models.PaymentCompleted) reconcile.Outcome {
	m.ctxErr = ctx.Err()
	m.reconciled = append(m.reconciled, ev)
	return m.outcome
}

func (m *mockReconciler) Malformed(_ context.Context, _ *models.PaymentCompleted, cause error) reconcile.Outcome {
	m.malformed++
	m.malformedErr = cause
	return reconcile.Outcome{Status: reconcile.StatusUnresolved, Reason: models.ReasonMalformedEvent}
}

func newHandler(t *testing.T, gw *mockGateway, rec *mockReconciler) *stripehandler.StripeHandler {
	t.Helper()
	tenants := memory.NewMemoryLedgerStore()
	require.NoError(t, tenants.AddTenant(context.Background(), models.Tenant{ID: tenantID, Name: "Acme", Email: "billing@acme.test"}))
	return stripehandler.New(gw, rec, tenants, decimal.RequireFromString("50.00"), "https://credits.test")
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) dto.Status {
	t.Helper()
	var got dto.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	return got
}

func TestWebhook_Reconciles(t *testing.T) {
	gw := &mockGateway{completed: &models.PaymentCompleted{EventID: "evt_1", SessionID: "cs_1"}}
	r := &mockReconciler{outcome: reconcile.Outcome{Status: reconcile.StatusCredited}}
	h := newHandler(t, gw, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(`{"id":"evt_1"}`)).WithContext(ctx)
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.Status{Status: "credited", SessionID: "cs_1"}, decodeStatus(t, rec))
	assert.Equal(t, `{"id":"evt_1"}`, gw.gotPayload)
	assert.Equal(t, "t=1,v1=abc", gw.gotSignature)
	require.Len(t, r.reconciled, 1)
	assert.NoError(t, r.ctxErr)
}

func TestWebhook_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		outcome reconcile.Outcome
		want    dto.Status
	}{
		{"duplicate", reconcile.Outcome{Status: reconcile.StatusDuplicate}, dto.Status{Status: "duplicate", SessionID: "cs_1"}},
		{"unresolved", reconcile.Outcome{Status: reconcile.StatusUnresolved, Reason: models.ReasonUnknownTenant}, dto.Status{Status: "unresolved", Reason: "unknown_tenant", SessionID: "cs_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &mockGateway{completed: &models.PaymentCompleted{EventID: "evt_1", SessionID: "cs_1"}}
			h := newHandler(t, gw, &mockReconciler{outcome: tt.outcome})

			rec := httptest.NewRecorder()
			h.Webhook(rec, httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader("{}")))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, decodeStatus(t, rec))
		})
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	gw := &mockGateway{parseErr: fmt.Errorf("%w: no valid signature", models.ErrSignatureInvalid)}
	r := &mockReconciler{}
	h := newHandler(t, gw, r)

	rec := httptest.NewRecorder()
	h.Webhook(rec, httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader("{}")))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, r.reconciled)
	assert.Zero(t, r.malformed)
}

func TestWebhook_SecretMissing(t *testing.T) {
	r := &mockReconciler{}
	h := newHandler(t, &mockGateway{parseErr: models.ErrWebhookNotConfigured}, r)

	rec := httptest.NewRecorder()
	h.Webhook(rec, httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader("{}")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"stripe_webhook_secret_missing"}`, rec.Body.String())
	assert.Empty(t, r.reconciled)
	assert.Zero(t, r.malformed)
}

func TestWebhook_MalformedIsAcknowledged(t *testing.T) {
	cause := fmt.Errorf("%w: no session id", models.ErrMalformedEvent)
	gw := &mockGateway{parseErr: cause}
	r := &mockReconciler{}
	h := newHandler(t, gw, r)

	rec := httptest.NewRecorder()
	h.Webhook(rec, httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader("{}")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.Status{Status: "unresolved", Reason: "malformed_event"}, decodeStatus(t, rec))
	assert.Equal(t, 1, r.malformed)
	assert.ErrorIs(t, r.malformedErr, models.ErrMalformedEvent)
	assert.Empty(t, r.reconciled)
}

func TestWebhook_IgnoredEvent(t *testing.T) {
	r := &mockReconciler{}
	h := newHandler(t, &mockGateway{}, r)

	rec := httptest.NewRecorder()
	h.Webhook(rec, httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader("{}")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.Status{Status: "ignored"}, decodeStatus(t, rec))
	assert.Empty(t, r.reconciled)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	gw := &mockGateway{}
	h := newHandler(t, gw, &mockReconciler{})

	rec := httptest.NewRecorder()
	h.Webhook(rec, httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(strings.Repeat("x", 70000))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, gw.gotPayload)
}

func checkoutRequest(caller models.Caller, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/checkout", strings.NewReader(body))
	return req.WithContext(middleware.WithCaller(req.Context(), caller))
}

func TestCheckout(t *testing.T) {
	gw := &mockGateway{url: "https://checkout.stripe.test/cs_new"}
	h := newHandler(t, gw, &mockReconciler{})

	rec := httptest.NewRecorder()
	h.Checkout(rec, checkoutRequest(models.TenantScoped(tenantID), `{"tenant_id":"`+tenantID+`","amount":"75.005"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	var got dto.CheckoutSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "https://checkout.stripe.test/cs_new", got.CheckoutURL)

	assert.Equal(t, "billing@acme.test", gw.gotCheckout.Tenant.Email)
	assert.Equal(t, "75.01", gw.gotCheckout.Amount.StringFixed(2))
	assert.Equal(t, "https://credits.test/api/stripe/success?sid={CHECKOUT_SESSION_ID}", gw.gotCheckout.SuccessURL)
	assert.Equal(t, "https://credits.test/api/stripe/cancel", gw.gotCheckout.CancelURL)
}

func TestCheckout_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		caller     models.Caller
		body       string
		createErr  error
		wantStatus int
	}{
		{"bad body", models.Admin(), `{`, nil, http.StatusBadRequest},
		{"below minimum", models.Admin(), `{"tenant_id":"` + tenantID + `","amount":"49.99"}`, nil, http.StatusBadRequest},
		{"other tenant", models.TenantScoped("someone-else"), `{"tenant_id":"` + tenantID + `","amount":"50"}`, nil, http.StatusForbidden},
		{"other tenant below minimum", models.TenantScoped("someone-else"), `{"tenant_id":"` + tenantID + `","amount":"1"}`, nil, http.StatusForbidden},
		{"unknown tenant", models.Admin(), `{"tenant_id":"0d8f3c2b-1f44-4a3e-b2a9-7d2c5e9b8c02","amount":"50"}`, nil, http.StatusNotFound},
		{"processor failure", models.Admin(), `{"tenant_id":"` + tenantID + `","amount":"50"}`, errors.New("stripe down"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &mockGateway{createErr: tt.createErr}
			h := newHandler(t, gw, &mockReconciler{})

			rec := httptest.NewRecorder()
			h.Checkout(rec, checkoutRequest(tt.caller, tt.body))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestSuccessAndCancel(t *testing.T) {
	h := newHandler(t, &mockGateway{}, &mockReconciler{})

	rec := httptest.NewRecorder()
	h.Success(rec, httptest.NewRequest(http.MethodGet, "/api/stripe/success?sid=cs_9", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.Status{Status: "success", SessionID: "cs_9"}, decodeStatus(t, rec))

	rec = httptest.NewRecorder()
	h.Cancel(rec, httptest.NewRequest(http.MethodGet, "/api/stripe/cancel", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.Status{Status: "canceled"}, decodeStatus(t, rec))
}
