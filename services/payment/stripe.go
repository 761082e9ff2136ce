package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"lensbook/models"
	"lensbook/services/booking"
)

const (
	metadataReservationID = "reservationId"
	metadataLeg           = "leg"
)

// ErrIgnoredEvent marks webhook events that carry nothing for the booking core.
var ErrIgnoredEvent = errors.New("webhook event ignored")

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// StripeProcessor implements Processor against Stripe Checkout and Refunds.
// It owns its API client; nothing is configured through the stripe package globals.
type StripeProcessor struct {
	api *client.API
	cfg StripeConfig
	now func() time.Time
}

// NewStripeProcessor builds an adapter with a private Stripe client.
func NewStripeProcessor(cfg StripeConfig) *StripeProcessor {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeProcessor{api: api, cfg: cfg, now: time.Now}
}

func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutHandle, error) {
	metadata := map[string]string{
		metadataReservationID: req.ReservationID,
		metadataLeg:           string(req.Leg),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.cfg.SuccessURL),
		CancelURL:  stripe.String(p.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(int64(req.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Reservation %s (%s)", req.ReservationID, req.Leg)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyStripeError("create checkout session", err)
	}
	return &CheckoutHandle{
		SessionID:     s.ID,
		RedirectURL:   s.URL,
		ReservationID: req.ReservationID,
		Leg:           req.Leg,
		Amount:        req.Amount,
		CreatedAt:     p.now().UTC(),
	}, nil
}

func (p *StripeProcessor) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ChargeID),
		Amount:        stripe.Int64(int64(req.Amount)),
	}
	params.AddMetadata(metadataReservationID, req.ReservationID)
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := p.api.Refunds.New(params)
	if err != nil {
		return nil, classifyStripeError("refund", err)
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return nil, booking.NewPermanentProcessorError("refund", fmt.Errorf("refund %s ended %s", r.ID, r.Status))
	}
	return &RefundResult{RefundID: r.ID, Status: string(r.Status)}, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps the event to a
// PaymentEvent. Events the core does not consume return ErrIgnoredEvent.
func (p *StripeProcessor) ParseWebhook(payload []byte, signature string) (PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return PaymentEvent{}, booking.NewValidationError("invalid webhook signature: %v", err)
	}
	return stripeEventToPaymentEvent(event)
}

func stripeEventToPaymentEvent(event stripe.Event) (PaymentEvent, error) {
	switch event.Type {
	case "checkout.session.completed":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return PaymentEvent{}, booking.NewValidationError("decode checkout session: %v", err)
		}
		if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return PaymentEvent{}, ErrIgnoredEvent
		}
		pe := PaymentEvent{
			EventID:       event.ID,
			Type:          EventPaymentSucceeded,
			ReservationID: s.Metadata[metadataReservationID],
			Leg:           Leg(s.Metadata[metadataLeg]),
			Amount:        models.Money(s.AmountTotal),
		}
		if s.PaymentIntent != nil {
			pe.ChargeID = s.PaymentIntent.ID
		}
		return pe, nil

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return PaymentEvent{}, booking.NewValidationError("decode charge: %v", err)
		}
		pe := PaymentEvent{
			EventID:       event.ID,
			Type:          EventRefundSucceeded,
			ReservationID: ch.Metadata[metadataReservationID],
			Leg:           Leg(ch.Metadata[metadataLeg]),
			Amount:        models.Money(ch.AmountRefunded),
		}
		if ch.PaymentIntent != nil {
			pe.ChargeID = ch.PaymentIntent.ID
		}
		return pe, nil
	}
	return PaymentEvent{}, ErrIgnoredEvent
}

// classifyStripeError maps Stripe failures onto the transient/permanent split:
// network errors, 5xx and 429 are retryable; other API errors are business
// rejections.
func classifyStripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return booking.NewTransientProcessorError(op, err)
	}
	if se.HTTPStatusCode >= http.StatusInternalServerError ||
		se.HTTPStatusCode == http.StatusTooManyRequests ||
		se.Type == stripe.ErrorTypeAPI {
		return booking.NewTransientProcessorError(op, err)
	}
	return booking.NewPermanentProcessorError(op, err)
}
