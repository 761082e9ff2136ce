package quote

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	bookingRepo "lensbook/database/repository/booking"
	"lensbook/models"
	"lensbook/services/booking"
	"lensbook/services/events"
	"lensbook/services/metrics"
	"lensbook/services/payment"
)

// QuoteService manages provider quotes and converts accepted ones into reservations.
type QuoteService interface {
	CreateQuote(ctx context.Context, in CreateQuoteInput) (*models.Quote, error)
	ReviseQuote(ctx context.Context, id string, in ReviseQuoteInput) (*models.Quote, error)
	GetQuote(ctx context.Context, id string) (*models.Quote, error)
	ListQuotes(ctx context.Context, f bookingRepo.QuoteFilter) ([]models.Quote, error)
	RejectQuote(ctx context.Context, id string) (*models.Quote, error)
	CancelQuote(ctx context.Context, id string) (*models.Quote, error)
	AcceptQuote(ctx context.Context, id string) (*models.Reservation, error)
}

// CreateQuoteInput is a provider's offer before it is stored.
type CreateQuoteInput struct {
	DemandID         string            `json:"demandId"`
	ProviderID       string            `json:"providerId"`
	ClientID         string            `json:"clientId"`
	LineItems        models.LineItems  `json:"lineItems"`
	Currency         string            `json:"currency"`
	ServiceDateTime  time.Time         `json:"serviceDateTime"`
	SlotWindow       int               `json:"slotWindow"`
	CancellationTier models.PolicyTier `json:"cancellationTier"`
	ValidUntil       time.Time         `json:"validUntil"`
}

// ReviseQuoteInput changes a pending quote. Nil fields are left as they are.
type ReviseQuoteInput struct {
	LineItems        models.LineItems   `json:"lineItems,omitempty"`
	ServiceDateTime  *time.Time         `json:"serviceDateTime,omitempty"`
	SlotWindow       *int               `json:"slotWindow,omitempty"`
	CancellationTier *models.PolicyTier `json:"cancellationTier,omitempty"`
	ValidUntil       *time.Time         `json:"validUntil,omitempty"`
}

// DefaultQuoteService implements QuoteService on a booking repository.
type DefaultQuoteService struct {
	Repo     bookingRepo.Repository
	Splitter Splitter
	Guard    booking.AvailabilityGuard
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Currency string

	// DefaultValidity applies when a quote is created without validUntil.
	DefaultValidity time.Duration
	Now             func() time.Time
}

// Splitter computes the payment schedule of a quote total.
type Splitter interface {
	ComputeSplit(total models.Money) (payment.Split, error)
}

func NewDefaultQuoteService(repo bookingRepo.Repository, splitter Splitter, publisher events.Publisher, m *metrics.Metrics, logger *zap.Logger, currency string) (*DefaultQuoteService, error) {
	if repo == nil || splitter == nil {
		return nil, fmt.Errorf("quote service initialization error: repository and splitter are required")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if currency == "" {
		currency = "usd"
	}
	return &DefaultQuoteService{
		Repo:            repo,
		Splitter:        splitter,
		Events:          publisher,
		Metrics:         m,
		Logger:          logger,
		Currency:        currency,
		DefaultValidity: 72 * time.Hour,
		Now:             time.Now,
	}, nil
}

func (s *DefaultQuoteService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}
