package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"lensbook/models"
)

const (
	EventReservationCreated   = "ReservationCreated"
	EventDepositCaptured      = "DepositCaptured"
	EventServiceDelivered     = "ServiceDelivered"
	EventBalanceCaptured      = "BalanceCaptured"
	EventReservationCancelled = "ReservationCancelled"
	EventReservationRefunded  = "ReservationRefunded"
)

const producerName = "lensbook"

// Envelope wraps every reservation event published to the bus.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// ReservationPayload is the body carried by every reservation event.
type ReservationPayload struct {
	ReservationID string                   `json:"reservation_id"`
	QuoteID       string                   `json:"quote_id"`
	ProviderID    string                   `json:"provider_id"`
	ClientID      string                   `json:"client_id"`
	Status        models.ReservationStatus `json:"status"`
	Amount        models.Money             `json:"amount,omitempty"`
	Currency      string                   `json:"currency"`
	Reason        string                   `json:"reason,omitempty"`
}

// NewReservationEvent builds an envelope keyed by the reservation id. amount is
// the money moved by the event, zero when none was.
func NewReservationEvent(eventType string, r *models.Reservation, amount models.Money, at time.Time) (Envelope, error) {
	payload, err := json.Marshal(ReservationPayload{
		ReservationID: r.ID,
		QuoteID:       r.QuoteID,
		ProviderID:    r.ProviderID,
		ClientID:      r.ClientID,
		Status:        r.Status,
		Amount:        amount,
		Currency:      r.Currency,
		Reason:        r.CancellationReason,
	})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producerName,
		CorrelationID: r.ID,
		Payload:       payload,
	}, nil
}
