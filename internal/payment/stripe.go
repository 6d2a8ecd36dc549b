package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/pricing"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

// IntentClient is the slice of the Stripe API the gateway calls.
type IntentClient interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripeIntents struct{}

func (stripeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.New(params)
}

func (stripeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Get(id, params)
}

func (stripeIntents) Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Cancel(id, params)
}

type StripeGateway struct {
	Intents       IntentClient
	WebhookSecret string
	Logger        *logger.Logger
}

func NewStripeGateway(secretKey, webhookSecret string, log *logger.Logger) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{Intents: stripeIntents{}, WebhookSecret: webhookSecret, Logger: log}
}

func (g *StripeGateway) Method() models.PaymentMethod { return models.PaymentMethodStripe }

// CreateSession creates a payment intent for the booking total. The
// booking id travels in metadata so webhooks can find the booking.
func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	amount := pricing.ToMinor(req.Amount, req.Currency)
	if amount <= 0 {
		return nil, fmt.Errorf("stripe amount must be positive, got %d", amount)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.BuyerEmail != "" {
		params.ReceiptEmail = stripe.String(req.BuyerEmail)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.AddMetadata("booking_id", req.BookingID)
	params.AddMetadata("event_id", req.EventID)
	params.SetIdempotencyKey("booking-" + req.BookingID)

	intent, err := g.Intents.New(params)
	if err != nil {
		g.Logger.Error("STRIPE", fmt.Sprintf("Failed to create payment intent for booking %s: %v", req.BookingID, err))
		return nil, err
	}

	g.Logger.Info("STRIPE", fmt.Sprintf("Created payment intent %s for booking %s (%d %s)", intent.ID, req.BookingID, amount, req.Currency))
	return &Session{Ref: intent.ID, ClientToken: intent.ClientSecret}, nil
}

func (g *StripeGateway) PollStatus(ctx context.Context, ref string) (models.PaymentOutcome, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.Intents.Get(ref, params)
	if err != nil {
		return "", err
	}
	return OutcomeForIntent(intent.Status), nil
}

func (g *StripeGateway) Verify(ctx context.Context, ref string) (models.PaymentOutcome, error) {
	return g.PollStatus(ctx, ref)
}

// CancelSession cancels an open payment intent so it can no longer be paid.
// Intents that already reached a final state are left alone.
func (g *StripeGateway) CancelSession(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.Intents.Get(ref, params)
	if err != nil {
		return err
	}
	if intent.Status == stripe.PaymentIntentStatusSucceeded || intent.Status == stripe.PaymentIntentStatusCanceled {
		return nil
	}

	cancel := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	cancel.Context = ctx
	if _, err := g.Intents.Cancel(ref, cancel); err != nil {
		g.Logger.Error("STRIPE", fmt.Sprintf("Failed to cancel payment intent %s: %v", ref, err))
		return err
	}
	g.Logger.Info("STRIPE", fmt.Sprintf("Cancelled payment intent %s", ref))
	return nil
}

// OutcomeForIntent maps a payment intent status onto a payment outcome.
func OutcomeForIntent(status stripe.PaymentIntentStatus) models.PaymentOutcome {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return models.PaymentSuccess
	case stripe.PaymentIntentStatusCanceled:
		return models.PaymentFailure
	default:
		return models.PaymentPending
	}
}

// WebhookError classifies a rejected webhook for the HTTP layer.
type WebhookError struct {
	Category    string
	StatusCode  int
	PublicError string
	OriginalErr error
}

func (e *WebhookError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s: %v", e.PublicError, e.OriginalErr)
	}
	return e.PublicError
}

func (e *WebhookError) Unwrap() error { return e.OriginalErr }

// WebhookResult is a verified webhook reduced to what the booking engine
// needs. Ignored is set for event types that carry no outcome.
type WebhookResult struct {
	EventType string
	BookingID string
	IntentID  string
	Outcome   models.PaymentOutcome
	Ignored   bool
}

// ParseWebhook verifies the Stripe-Signature header and extracts the
// booking outcome.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookResult, error) {
	opts := webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.WebhookSecret, opts)
	if err != nil {
		return nil, &WebhookError{
			Category:    "validation",
			StatusCode:  http.StatusBadRequest,
			PublicError: "Webhook signature verification failed",
			OriginalErr: err,
		}
	}

	result := &WebhookResult{EventType: string(event.Type)}
	switch event.Type {
	case "payment_intent.succeeded":
		result.Outcome = models.PaymentSuccess
	case "payment_intent.payment_failed":
		// a declined attempt; the intent stays open for another try
		result.Outcome = models.PaymentPending
	case "payment_intent.canceled":
		result.Outcome = models.PaymentFailure
	default:
		result.Ignored = true
		return result, nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, &WebhookError{
			Category:    "processing",
			StatusCode:  http.StatusBadRequest,
			PublicError: "Invalid event data",
			OriginalErr: err,
		}
	}

	bookingID := intent.Metadata["booking_id"]
	if bookingID == "" {
		return nil, &WebhookError{
			Category:    "processing",
			StatusCode:  http.StatusBadRequest,
			PublicError: "Payment intent has no booking_id in metadata",
			OriginalErr: errors.New("missing booking_id metadata"),
		}
	}

	result.BookingID = bookingID
	result.IntentID = intent.ID
	g.Logger.Info("WEBHOOK", fmt.Sprintf("Stripe %s for booking %s", event.Type, bookingID))
	return result, nil
}
