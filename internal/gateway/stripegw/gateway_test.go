package stripegw

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sheikh-saqib/credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testSecret = "whsec_test_secret"

type fakeSessions struct {
	session   *stripe.CheckoutSession
	err       error
	gotID     string
	gotParams *stripe.CheckoutSessionParams
}

func (f *fakeSessions) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.gotID = id
	f.gotParams = params
	return f.session, f.err
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.gotParams = params
	return f.session, f.err
}

func newTestGateway(sessions sessionAPI) *Gateway {
	return newGateway(Config{
		WebhookSecret: testSecret,
		Tolerance:     5 * time.Minute,
		Currency:      "brl",
		ProductName:   "Credits",
	}, sessions)
}

func eventPayload(eventType, sessionID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_123",
		"object": "event",
		"api_version": %q,
		"type": %q,
		"data": {"object": {"id": %q, "object": "checkout.session", "amount_total": 999999}}
	}`, stripe.APIVersion, eventType, sessionID))
}

func sign(payload []byte, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: at,
	}).Header
}

func TestParseEvent_CheckoutCompleted(t *testing.T) {
	g := newTestGateway(&fakeSessions{})
	payload := eventPayload("checkout.session.completed", "cs_test_1")

	completed, err := g.ParseEvent(payload, sign(payload, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, completed)
	assert.Equal(t, "evt_123", completed.EventID)
	assert.Equal(t, "cs_test_1", completed.SessionID)
	assert.Equal(t, "checkout.session.completed", completed.EventType)
}

func TestParseEvent_AsyncPaymentSucceeded(t *testing.T) {
	g := newTestGateway(&fakeSessions{})
	payload := eventPayload("checkout.session.async_payment_succeeded", "cs_test_2")

	completed, err := g.ParseEvent(payload, sign(payload, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, completed)
	assert.Equal(t, "cs_test_2", completed.SessionID)
}

func TestParseEvent_IgnoredType(t *testing.T) {
	g := newTestGateway(&fakeSessions{})
	payload := eventPayload("customer.created", "cus_1")

	completed, err := g.ParseEvent(payload, sign(payload, time.Now()))
	require.NoError(t, err)
	assert.Nil(t, completed)
}

func TestParseEvent_SignatureFailures(t *testing.T) {
	g := newTestGateway(&fakeSessions{})
	payload := eventPayload("checkout.session.completed", "cs_test_1")

	tests := []struct {
		name      string
		payload   []byte
		signature string
	}{
		{"missing header", payload, ""},
		{"garbage header", payload, "not-a-signature"},
		{"wrong secret", payload, webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"}).Header},
		{"tampered body", append([]byte(" "), payload...), sign(payload, time.Now())},
		{"too old", payload, sign(payload, time.Now().Add(-10*time.Minute))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.ParseEvent(tt.payload, tt.signature)
			assert.ErrorIs(t, err, models.ErrSignatureInvalid)
		})
	}
}

func TestParseEvent_RefusesWithoutWebhookSecret(t *testing.T) {
	g := newGateway(Config{Tolerance: 5 * time.Minute}, &fakeSessions{})
	payload := eventPayload("checkout.session.completed", "cs_forged")
	header := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "",
		Timestamp: time.Now(),
	}).Header

	completed, err := g.ParseEvent(payload, header)
	assert.ErrorIs(t, err, models.ErrWebhookNotConfigured)
	assert.Nil(t, completed)
}

func TestParseEvent_Malformed(t *testing.T) {
	g := newTestGateway(&fakeSessions{})

	tests := []struct {
		name    string
		payload []byte
	}{
		{"not json", []byte(`{"id":`)},
		{"no session id", []byte(`{"id":"evt_9","type":"checkout.session.completed","data":{"object":{"object":"checkout.session"}}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.ParseEvent(tt.payload, sign(tt.payload, time.Now()))
			assert.ErrorIs(t, err, models.ErrMalformedEvent)
			assert.NotErrorIs(t, err, models.ErrSignatureInvalid)
		})
	}
}

func TestParseEvent_IgnoresAPIVersionMismatch(t *testing.T) {
	g := newTestGateway(&fakeSessions{})
	payload := []byte(`{"id":"evt_old","api_version":"2019-02-19","type":"checkout.session.completed","data":{"object":{"id":"cs_old"}}}`)

	completed, err := g.ParseEvent(payload, sign(payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "cs_old", completed.SessionID)
}

func TestFetchSettlement(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{
		ID:            "cs_test_1",
		AmountTotal:   2550,
		Metadata:      map[string]string{MetadataTenantID: "4b9c1f4e-8a53-4a57-9d0e-6f1f0f6f2a01"},
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_abc"},
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
	}}
	g := newTestGateway(sessions)

	s, err := g.FetchSettlement(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sessions.gotID)
	require.Len(t, sessions.gotParams.Expand, 1)
	assert.Equal(t, "payment_intent", *sessions.gotParams.Expand[0])

	assert.Equal(t, "pi_abc", s.TransactionID)
	assert.Equal(t, "4b9c1f4e-8a53-4a57-9d0e-6f1f0f6f2a01", s.TenantRef)
	assert.Equal(t, "25.50", s.Amount.StringFixed(2))
	assert.True(t, s.Paid)
}

func TestFetchSettlement_NoPaymentIntentFallsBackToSession(t *testing.T) {
	g := newTestGateway(&fakeSessions{session: &stripe.CheckoutSession{
		ID:            "cs_test_3",
		AmountTotal:   5000,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
	}})

	s, err := g.FetchSettlement(context.Background(), "cs_test_3")
	require.NoError(t, err)
	assert.Equal(t, "cs_test_3", s.TransactionID)
	assert.Empty(t, s.TenantRef)
	assert.False(t, s.Paid)
}

func TestFetchSettlement_Error(t *testing.T) {
	g := newTestGateway(&fakeSessions{err: errors.New("stripe unavailable")})

	_, err := g.FetchSettlement(context.Background(), "cs_x")
	assert.Error(t, err)
}

func TestCreateCheckout(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_new", URL: "https://checkout.stripe.test/cs_new"}}
	g := newTestGateway(sessions)

	url, err := g.CreateCheckout(context.Background(), interfaces.CheckoutRequest{
		Tenant:     models.Tenant{ID: "t1", Name: "Acme", Email: "billing@acme.test"},
		Amount:     decimal.RequireFromString("50.00"),
		SuccessURL: "https://app.test/api/stripe/success?sid={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://app.test/api/stripe/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_new", url)

	p := sessions.gotParams
	require.NotNil(t, p)
	assert.Equal(t, "payment", *p.Mode)
	assert.Equal(t, "t1", p.Metadata[MetadataTenantID])
	assert.Equal(t, "billing@acme.test", *p.CustomerEmail)
	require.Len(t, p.LineItems, 1)
	assert.Equal(t, int64(5000), *p.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "brl", *p.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(1), *p.LineItems[0].Quantity)
}
