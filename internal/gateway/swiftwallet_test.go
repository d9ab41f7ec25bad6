package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const walletTestSecret = "sw-test-secret"

func walletHeaders(payload []byte) http.Header {
	sum := sha256.Sum256(payload)

	headers := http.Header{}
	headers.Set("X-Wallet-Token", walletTestSecret)
	headers.Set("X-Wallet-Digest", hex.EncodeToString(sum[:]))
	return headers
}

func walletPayload(state string) []byte {
	return []byte(`{
		"notification_id": "ntf_42",
		"transaction": {
			"id": "sw_tx_7",
			"order_ref": "ORD-1700000000-AB12C",
			"state": "` + state + `",
			"amount": {"value": "23.52", "currency": "USD"}
		}
	}`)
}

func TestSwiftWalletVerifyWebhookAcceptsValidDelivery(t *testing.T) {
	adapter := NewSwiftWalletAdapter(walletTestSecret)
	payload := walletPayload("COMPLETED")

	outcome, err := adapter.VerifyWebhook(payload, walletHeaders(payload))
	require.NoError(t, err)

	assert.Equal(t, "swiftwallet", outcome.Provider)
	assert.Equal(t, OutcomeSucceeded, outcome.Outcome)
	assert.Equal(t, "ORD-1700000000-AB12C", outcome.OrderReference)
	assert.Equal(t, "sw_tx_7", outcome.ProviderRef)
	assert.Equal(t, "ntf_42", outcome.RawEventID)
	assert.True(t, outcome.Amount.Equal(decimal.RequireFromString("23.52")))
}

func TestSwiftWalletVerifyWebhookRejectsBadToken(t *testing.T) {
	adapter := NewSwiftWalletAdapter(walletTestSecret)
	payload := walletPayload("COMPLETED")

	headers := walletHeaders(payload)
	headers.Set("X-Wallet-Token", "not-the-secret")

	_, err := adapter.VerifyWebhook(payload, headers)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestSwiftWalletVerifyWebhookRejectsDigestMismatch(t *testing.T) {
	adapter := NewSwiftWalletAdapter(walletTestSecret)
	payload := walletPayload("COMPLETED")

	headers := walletHeaders([]byte("different body"))
	headers.Set("X-Wallet-Token", walletTestSecret)

	_, err := adapter.VerifyWebhook(payload, headers)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestSwiftWalletVerifyWebhookStateMapping(t *testing.T) {
	adapter := NewSwiftWalletAdapter(walletTestSecret)

	cases := map[string]string{
		"COMPLETED": OutcomeSucceeded,
		"REJECTED":  OutcomeFailed,
		"TIMEOUT":   OutcomeFailed,
		"REVERSED":  OutcomeRefunded,
		"WAITING":   OutcomePending,
	}

	for state, want := range cases {
		payload := walletPayload(state)
		outcome, err := adapter.VerifyWebhook(payload, walletHeaders(payload))
		require.NoError(t, err, "state %q", state)
		assert.Equal(t, want, outcome.Outcome, "state %q", state)
	}
}

func TestSwiftWalletVerifyWebhookRejectsUnknownState(t *testing.T) {
	adapter := NewSwiftWalletAdapter(walletTestSecret)
	payload := walletPayload("EXPLODED")

	_, err := adapter.VerifyWebhook(payload, walletHeaders(payload))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
