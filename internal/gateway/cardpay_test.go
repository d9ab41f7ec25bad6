package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"fulfillment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cardpayTestSecret = "cp-test-secret"

func signCardpay(t *testing.T, payload []byte) http.Header {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(cardpayTestSecret))
	mac.Write(payload)

	headers := http.Header{}
	headers.Set("X-Cardpay-Signature", hex.EncodeToString(mac.Sum(nil)))
	return headers
}

func TestCardpayVerifyWebhookAcceptsSignedPayload(t *testing.T) {
	adapter := NewCardpayAdapter(cardpayTestSecret)
	payload := []byte(`{
		"event_id": "evt_123",
		"type": "payment.captured",
		"reference": "cp_tx_9",
		"order_number": "ORD-1700000000-AB12C",
		"status": "captured",
		"amount": "23.52",
		"currency": "USD"
	}`)

	outcome, err := adapter.VerifyWebhook(payload, signCardpay(t, payload))
	require.NoError(t, err)

	assert.Equal(t, "cardpay", outcome.Provider)
	assert.Equal(t, OutcomeSucceeded, outcome.Outcome)
	assert.Equal(t, "ORD-1700000000-AB12C", outcome.OrderReference)
	assert.Equal(t, "cp_tx_9", outcome.ProviderRef)
	assert.Equal(t, "evt_123", outcome.RawEventID)
	assert.True(t, outcome.Amount.Equal(decimal.RequireFromString("23.52")))
}

func TestCardpayVerifyWebhookRejectsTamperedBody(t *testing.T) {
	adapter := NewCardpayAdapter(cardpayTestSecret)
	payload := []byte(`{"event_id":"evt_1","order_number":"ORD-1-AAAAA","status":"captured","amount":"10.00"}`)
	headers := signCardpay(t, payload)

	tampered := []byte(`{"event_id":"evt_1","order_number":"ORD-1-AAAAA","status":"captured","amount":"9999.00"}`)

	_, err := adapter.VerifyWebhook(tampered, headers)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestCardpayVerifyWebhookRejectsMissingSignature(t *testing.T) {
	adapter := NewCardpayAdapter(cardpayTestSecret)

	_, err := adapter.VerifyWebhook([]byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestCardpayVerifyWebhookStatusMapping(t *testing.T) {
	adapter := NewCardpayAdapter(cardpayTestSecret)

	cases := map[string]string{
		"captured":   OutcomeSucceeded,
		"paid":       OutcomeSucceeded,
		"declined":   OutcomeFailed,
		"expired":    OutcomeFailed,
		"refunded":   OutcomeRefunded,
		"authorized": OutcomePending,
		"processing": OutcomePending,
	}

	for status, want := range cases {
		payload := []byte(`{"event_id":"evt_1","order_number":"ORD-1-AAAAA","status":"` + status + `","amount":"10.00"}`)
		outcome, err := adapter.VerifyWebhook(payload, signCardpay(t, payload))
		require.NoError(t, err, "status %q", status)
		assert.Equal(t, want, outcome.Outcome, "status %q", status)
	}
}

func TestCardpayVerifyWebhookRejectsUnknownStatus(t *testing.T) {
	adapter := NewCardpayAdapter(cardpayTestSecret)
	payload := []byte(`{"event_id":"evt_1","order_number":"ORD-1-AAAAA","status":"teleported","amount":"10.00"}`)

	_, err := adapter.VerifyWebhook(payload, signCardpay(t, payload))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestCardpayVerifyWebhookRejectsMissingFields(t *testing.T) {
	adapter := NewCardpayAdapter(cardpayTestSecret)
	payload := []byte(`{"status":"captured","amount":"10.00"}`)

	_, err := adapter.VerifyWebhook(payload, signCardpay(t, payload))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestCardpayCreateCharge(t *testing.T) {
	adapter := NewCardpayAdapter(cardpayTestSecret)
	order := &models.Order{
		OrderNumber: "ORD-1700000000-AB12C",
		Total:       decimal.RequireFromString("23.52"),
	}

	handle, err := adapter.CreateCharge(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, "cardpay", handle.Provider)
	assert.NotEmpty(t, handle.Reference)
	assert.Contains(t, handle.RedirectURL, "order=ORD-1700000000-AB12C")
	assert.Contains(t, handle.RedirectURL, "sig=")
}
