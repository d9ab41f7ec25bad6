// Package gateway isolates payment provider transport, signature, and
// payload shape differences behind one adapter contract. Adapters normalize
// inbound webhooks into PaymentOutcome values and never touch order state
// themselves.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fulfillment-service/internal/models"

	"github.com/shopspring/decimal"
)

// Normalized payment outcomes shared across providers.
const (
	OutcomeSucceeded = "SUCCEEDED"
	OutcomeFailed    = "FAILED"
	OutcomePending   = "PENDING"
	OutcomeRefunded  = "REFUNDED"
)

var (
	// ErrVerificationFailed is returned when a webhook payload does not
	// authenticate as coming from the named provider.
	ErrVerificationFailed = errors.New("webhook verification failed")
	// ErrUnknownProvider is returned when no adapter is registered under the
	// requested name.
	ErrUnknownProvider = errors.New("unknown payment provider")
	// ErrMalformedPayload is returned when an authenticated payload cannot
	// be decoded into an outcome.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// PaymentOutcome is the canonical, provider-independent result of a payment
// event. RawEventID is stable per upstream delivery so duplicate webhooks
// can be deduplicated before they reach the state machine.
type PaymentOutcome struct {
	Provider       string
	ProviderRef    string
	OrderReference string
	Outcome        string
	Amount         decimal.Decimal
	Currency       string
	RawEventID     string
}

// ChargeHandle is returned from charge creation and carries whatever the
// customer needs to complete payment.
type ChargeHandle struct {
	Provider     string `json:"provider"`
	Reference    string `json:"reference"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Adapter is implemented once per payment provider.
type Adapter interface {
	Name() string
	VerifyWebhook(payload []byte, headers http.Header) (*PaymentOutcome, error)
	CreateCharge(ctx context.Context, order *models.Order) (*ChargeHandle, error)
}

// Registry holds the configured adapters keyed by provider name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry over the supplied adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return a, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// TransitionEvent converts the outcome into the canonical event consumed by
// the state machine. The second return is false for outcomes that carry no
// transition (PENDING).
func (o *PaymentOutcome) TransitionEvent() (*models.TransitionEvent, bool) {
	var kind string
	switch o.Outcome {
	case OutcomeSucceeded:
		kind = models.EventPaymentSucceeded
	case OutcomeFailed:
		kind = models.EventPaymentFailed
	case OutcomeRefunded:
		kind = models.EventPaymentRefunded
	default:
		// PENDING carries no transition; the order stays as-is.
		return nil, false
	}

	return &models.TransitionEvent{
		Kind:       kind,
		DedupKey:   models.PaymentDedupKey(o.Provider, o.RawEventID),
		Source:     o.Provider,
		PaymentRef: o.ProviderRef,
		OccurredAt: time.Now(),
	}, true
}
