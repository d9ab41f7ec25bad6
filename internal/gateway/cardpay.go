package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"fulfillment-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const cardpayName = "cardpay"

// CardpayAdapter handles the card processor. Webhooks are authenticated with
// an HMAC-SHA256 signature over the raw body, sent hex-encoded in
// X-Cardpay-Signature.
type CardpayAdapter struct {
	secret      []byte
	checkoutURL string
}

// NewCardpayAdapter creates a cardpay adapter with the shared webhook secret.
func NewCardpayAdapter(secret string) *CardpayAdapter {
	return &CardpayAdapter{
		secret:      []byte(secret),
		checkoutURL: "https://checkout.cardpay.example.com/session",
	}
}

func (a *CardpayAdapter) Name() string {
	return cardpayName
}

type cardpayWebhook struct {
	EventID     string `json:"event_id"`
	Type        string `json:"type"`
	Reference   string `json:"reference"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

// VerifyWebhook authenticates and normalizes a cardpay webhook delivery.
func (a *CardpayAdapter) VerifyWebhook(payload []byte, headers http.Header) (*PaymentOutcome, error) {
	sig := headers.Get("X-Cardpay-Signature")
	if sig == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrVerificationFailed)
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrVerificationFailed)
	}

	var evt cardpayWebhook
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if evt.EventID == "" || evt.OrderNumber == "" {
		return nil, fmt.Errorf("%w: missing event_id or order_number", ErrMalformedPayload)
	}

	amount, err := decimal.NewFromString(evt.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount %q", ErrMalformedPayload, evt.Amount)
	}

	var outcome string
	switch evt.Status {
	case "captured", "paid":
		outcome = OutcomeSucceeded
	case "declined", "expired":
		outcome = OutcomeFailed
	case "refunded":
		outcome = OutcomeRefunded
	case "authorized", "processing":
		outcome = OutcomePending
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedPayload, evt.Status)
	}

	return &PaymentOutcome{
		Provider:       cardpayName,
		ProviderRef:    evt.Reference,
		OrderReference: evt.OrderNumber,
		Outcome:        outcome,
		Amount:         amount,
		Currency:       evt.Currency,
		RawEventID:     evt.EventID,
	}, nil
}

// CreateCharge builds a signed hosted-checkout redirect for the order.
func (a *CardpayAdapter) CreateCharge(ctx context.Context, order *models.Order) (*ChargeHandle, error) {
	ref := fmt.Sprintf("cp_%s", uuid.New().String())

	q := url.Values{}
	q.Set("ref", ref)
	q.Set("order", order.OrderNumber)
	q.Set("amount", order.Total.StringFixed(2))

	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(q.Encode()))
	q.Set("sig", hex.EncodeToString(mac.Sum(nil)))

	return &ChargeHandle{
		Provider:    cardpayName,
		Reference:   ref,
		RedirectURL: fmt.Sprintf("%s?%s", a.checkoutURL, q.Encode()),
	}, nil
}
