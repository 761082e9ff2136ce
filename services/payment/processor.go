package payment

import (
	"context"
	"fmt"
	"time"

	"lensbook/models"
)

// Leg is one of the two installments of a reservation.
type Leg string

const (
	LegDeposit Leg = "deposit"
	LegBalance Leg = "balance"
)

// EventType is the outcome an inbound processor webhook reports.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventRefundSucceeded  EventType = "refund_succeeded"
)

// CheckoutRequest asks the processor for a hosted payment page.
type CheckoutRequest struct {
	ReservationID  string
	Leg            Leg
	Amount         models.Money
	Currency       string
	IdempotencyKey string
}

// CheckoutHandle is where the client is sent to pay.
type CheckoutHandle struct {
	SessionID     string       `json:"sessionId"`
	RedirectURL   string       `json:"redirectUrl"`
	ReservationID string       `json:"reservationId"`
	Leg           Leg          `json:"leg"`
	Amount        models.Money `json:"amount"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// RefundRequest returns money captured by a single charge.
type RefundRequest struct {
	ReservationID  string
	ChargeID       string
	Amount         models.Money
	IdempotencyKey string
}

// RefundResult is the processor's acknowledgement of a refund.
type RefundResult struct {
	RefundID string
	Status   string
}

// Processor is the external payment processor. Implementations classify
// failures as booking.ProcessorError so callers can decide whether to retry.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutHandle, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// PaymentEvent is a processor-neutral webhook notification.
type PaymentEvent struct {
	EventID       string       `json:"eventId"`
	Type          EventType    `json:"type"`
	ReservationID string       `json:"reservationId"`
	Amount        models.Money `json:"amount"`
	Leg           Leg          `json:"leg"`
	ChargeID      string       `json:"chargeId,omitempty"`
}

// Validate checks the fields every event must carry.
func (e PaymentEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("eventId is required")
	}
	if e.ReservationID == "" {
		return fmt.Errorf("reservationId is required")
	}
	if e.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	switch e.Type {
	case EventPaymentSucceeded:
		if e.Leg != LegDeposit && e.Leg != LegBalance {
			return fmt.Errorf("unknown leg %q", e.Leg)
		}
	case EventRefundSucceeded:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

func checkoutIdempotencyKey(reservationID string, leg Leg) string {
	return fmt.Sprintf("checkout:%s:%s", reservationID, leg)
}

func refundIdempotencyKey(reservationID, chargeID string) string {
	return fmt.Sprintf("refund:%s:%s", reservationID, chargeID)
}
