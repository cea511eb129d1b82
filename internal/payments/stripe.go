package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/example/care-match/internal/models"
)

// ErrSignatureMismatch marks a webhook whose signature did not verify.
// Never treated as a soft failure; the payload is rejected outright.
var ErrSignatureMismatch = errors.New("webhook signature mismatch")

// StripeGateway holds customer charges in escrow using manual-capture
// PaymentIntents: the hold is the escrow, capture is the payout release,
// cancel is the refund.
type StripeGateway struct{}

// NewStripeGateway initializes the stripe client with the given API key.
func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

func (s *StripeGateway) InitiateCharge(ctx context.Context, amount models.Money, metadata map[string]string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount.Amount),
		Currency: stripe.String(strings.ToLower(amount.Currency)),
	}
	params.Context = ctx
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeGateway) Capture(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(intentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeGateway) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(intentID, params)
	return err
}

// Confirmation is the distilled outcome of a verified payment webhook.
type Confirmation struct {
	OrderRef  string
	Succeeded bool
}

// WebhookVerifier authenticates an inbound gateway notification and
// extracts the payment outcome. A nil confirmation with nil error means
// the event type is not one the ledger cares about.
type WebhookVerifier interface {
	Verify(payload []byte, sigHeader string) (*Confirmation, error)
}

// StripeWebhook verifies Stripe's Stripe-Signature header. Any payload
// whose recomputed signature does not match is rejected.
type StripeWebhook struct {
	Secret string
}

func (w *StripeWebhook) Verify(payload []byte, sigHeader string) (*Confirmation, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, w.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
	default:
		return nil, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	ref := pi.Metadata["order_ref"]
	if ref == "" {
		return nil, fmt.Errorf("payment intent %s has no order_ref", pi.ID)
	}
	return &Confirmation{
		OrderRef:  ref,
		Succeeded: event.Type == "payment_intent.succeeded",
	}, nil
}
