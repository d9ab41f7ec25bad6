package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"fulfillment-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const swiftWalletName = "swiftwallet"

// SwiftWalletAdapter handles the regional wallet provider. Deliveries carry
// a shared-secret token in X-Wallet-Token plus a SHA-256 digest of the body
// in X-Wallet-Digest.
type SwiftWalletAdapter struct {
	secret string
}

// NewSwiftWalletAdapter creates a swiftwallet adapter with the shared secret.
func NewSwiftWalletAdapter(secret string) *SwiftWalletAdapter {
	return &SwiftWalletAdapter{secret: secret}
}

func (a *SwiftWalletAdapter) Name() string {
	return swiftWalletName
}

type swiftWalletWebhook struct {
	NotificationID string `json:"notification_id"`
	Transaction    struct {
		ID       string `json:"id"`
		OrderRef string `json:"order_ref"`
		State    string `json:"state"`
		Amount   struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"amount"`
	} `json:"transaction"`
}

// VerifyWebhook authenticates and normalizes a swiftwallet notification.
func (a *SwiftWalletAdapter) VerifyWebhook(payload []byte, headers http.Header) (*PaymentOutcome, error) {
	token := headers.Get("X-Wallet-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) != 1 {
		return nil, fmt.Errorf("%w: bad wallet token", ErrVerificationFailed)
	}

	sum := sha256.Sum256(payload)
	digest := headers.Get("X-Wallet-Digest")
	if !strings.EqualFold(digest, hex.EncodeToString(sum[:])) {
		return nil, fmt.Errorf("%w: body digest mismatch", ErrVerificationFailed)
	}

	var evt swiftWalletWebhook
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if evt.NotificationID == "" || evt.Transaction.OrderRef == "" {
		return nil, fmt.Errorf("%w: missing notification_id or order_ref", ErrMalformedPayload)
	}

	amount, err := decimal.NewFromString(evt.Transaction.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount %q", ErrMalformedPayload, evt.Transaction.Amount.Value)
	}

	var outcome string
	switch evt.Transaction.State {
	case "COMPLETED":
		outcome = OutcomeSucceeded
	case "REJECTED", "TIMEOUT":
		outcome = OutcomeFailed
	case "REVERSED":
		outcome = OutcomeRefunded
	case "WAITING":
		outcome = OutcomePending
	default:
		return nil, fmt.Errorf("%w: unknown state %q", ErrMalformedPayload, evt.Transaction.State)
	}

	return &PaymentOutcome{
		Provider:       swiftWalletName,
		ProviderRef:    evt.Transaction.ID,
		OrderReference: evt.Transaction.OrderRef,
		Outcome:        outcome,
		Amount:         amount,
		Currency:       evt.Transaction.Amount.Currency,
		RawEventID:     evt.NotificationID,
	}, nil
}

// CreateCharge issues a wallet pay-code the customer enters in their wallet
// app to approve the payment.
func (a *SwiftWalletAdapter) CreateCharge(ctx context.Context, order *models.Order) (*ChargeHandle, error) {
	ref := fmt.Sprintf("sw_%s", uuid.New().String())
	payCode := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10])

	return &ChargeHandle{
		Provider:  swiftWalletName,
		Reference: ref,
		Instructions: fmt.Sprintf(
			"Open your SwiftWallet app and approve payment %s for order %s (%s %s)",
			payCode, order.OrderNumber, order.Total.StringFixed(2), "USD"),
	}, nil
}
