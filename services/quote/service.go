package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bookingRepo "lensbook/database/repository/booking"
	"lensbook/models"
	"lensbook/services/booking"
)

func (s *DefaultQuoteService) CreateQuote(ctx context.Context, in CreateQuoteInput) (*models.Quote, error) {
	now := s.now()
	if strings.TrimSpace(in.ProviderID) == "" || strings.TrimSpace(in.ClientID) == "" {
		return nil, booking.NewValidationError("providerId and clientId are required")
	}
	if in.ValidUntil.IsZero() {
		in.ValidUntil = now.Add(s.DefaultValidity)
	}
	currency := strings.ToLower(in.Currency)
	if currency == "" {
		currency = s.Currency
	}

	q := &models.Quote{
		ID:               uuid.NewString(),
		DemandID:         in.DemandID,
		ProviderID:       in.ProviderID,
		ClientID:         in.ClientID,
		LineItems:        in.LineItems,
		Currency:         currency,
		ServiceDateTime:  models.NormalizeSlotTime(in.ServiceDateTime),
		SlotWindow:       in.SlotWindow,
		CancellationTier: in.CancellationTier,
		ValidUntil:       in.ValidUntil.UTC(),
		Status:           models.QuotePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := validateTerms(q, now); err != nil {
		return nil, err
	}
	q.Total = q.LineItems.Total()

	if err := s.Repo.CreateQuote(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to store quote: %w", err)
	}
	s.Logger.Info("quote created",
		zap.String("quoteId", q.ID),
		zap.String("providerId", q.ProviderID),
		zap.Stringer("total", q.Total))
	return q, nil
}

// ReviseQuote changes the terms of a pending quote and recomputes its total.
func (s *DefaultQuoteService) ReviseQuote(ctx context.Context, id string, in ReviseQuoteInput) (*models.Quote, error) {
	q, err := s.pendingQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if in.LineItems != nil {
		q.LineItems = in.LineItems
	}
	if in.ServiceDateTime != nil {
		q.ServiceDateTime = models.NormalizeSlotTime(*in.ServiceDateTime)
	}
	if in.SlotWindow != nil {
		q.SlotWindow = *in.SlotWindow
	}
	if in.CancellationTier != nil {
		q.CancellationTier = *in.CancellationTier
	}
	if in.ValidUntil != nil {
		q.ValidUntil = in.ValidUntil.UTC()
	}
	if err := validateTerms(q, now); err != nil {
		return nil, err
	}
	q.Total = q.LineItems.Total()
	q.UpdatedAt = now

	if err := s.updateQuote(ctx, s.Repo, q, models.QuotePending); err != nil {
		return nil, err
	}
	s.Logger.Info("quote revised", zap.String("quoteId", q.ID), zap.Stringer("total", q.Total))
	return q, nil
}

// GetQuote returns a quote, marking it expired first if its validity has lapsed.
func (s *DefaultQuoteService) GetQuote(ctx context.Context, id string) (*models.Quote, error) {
	q, err := s.loadQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.expireIfDue(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *DefaultQuoteService) ListQuotes(ctx context.Context, f bookingRepo.QuoteFilter) ([]models.Quote, error) {
	// Pending quotes past validUntil are only marked expired below, so an
	// expired filter cannot be answered by the store alone.
	stored := f
	if f.Status == models.QuoteExpired {
		stored.Status = ""
	}
	quotes, err := s.Repo.ListQuotes(ctx, stored)
	if err != nil {
		return nil, fmt.Errorf("failed to list quotes: %w", err)
	}
	for i := range quotes {
		if err := s.expireIfDue(ctx, &quotes[i]); err != nil {
			return nil, err
		}
	}
	if f.Status != "" {
		kept := quotes[:0]
		for _, q := range quotes {
			if q.Status == f.Status {
				kept = append(kept, q)
			}
		}
		quotes = kept
	}
	return quotes, nil
}

func (s *DefaultQuoteService) RejectQuote(ctx context.Context, id string) (*models.Quote, error) {
	return s.close(ctx, id, models.QuoteRejected)
}

func (s *DefaultQuoteService) CancelQuote(ctx context.Context, id string) (*models.Quote, error) {
	return s.close(ctx, id, models.QuoteCancelled)
}

func (s *DefaultQuoteService) close(ctx context.Context, id string, to models.QuoteStatus) (*models.Quote, error) {
	q, err := s.pendingQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	q.Status = to
	q.UpdatedAt = s.now()
	if err := s.updateQuote(ctx, s.Repo, q, models.QuotePending); err != nil {
		return nil, err
	}
	s.Logger.Info("quote closed", zap.String("quoteId", q.ID), zap.String("status", string(to)))
	return q, nil
}

// pendingQuote loads id and fails unless it is still pending and valid.
func (s *DefaultQuoteService) pendingQuote(ctx context.Context, id string) (*models.Quote, error) {
	q, err := s.GetQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Status != models.QuotePending {
		return nil, booking.NewQuoteStateError(q.ID, q.Status)
	}
	return q, nil
}

// expireIfDue persists the expired status of a lapsed pending quote. It runs
// outside any acceptance transaction so the expiry survives a rollback.
func (s *DefaultQuoteService) expireIfDue(ctx context.Context, q *models.Quote) error {
	if q.Status != models.QuotePending || !q.IsExpired(s.now()) {
		return nil
	}
	q.Status = models.QuoteExpired
	q.UpdatedAt = s.now()
	err := s.Repo.UpdateQuote(ctx, q, models.QuotePending)
	if errors.Is(err, bookingRepo.ErrStaleStatus) {
		// Someone else moved it first; report what is stored now.
		fresh, ferr := s.loadQuote(ctx, q.ID)
		if ferr != nil {
			return ferr
		}
		*q = *fresh
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to expire quote %s: %w", q.ID, err)
	}
	s.Logger.Info("quote expired", zap.String("quoteId", q.ID))
	return nil
}

func (s *DefaultQuoteService) loadQuote(ctx context.Context, id string) (*models.Quote, error) {
	q, err := s.Repo.GetQuote(ctx, id)
	if errors.Is(err, bookingRepo.ErrNotFound) {
		return nil, booking.NewNotFound("quote", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quote %s: %w", id, err)
	}
	return q, nil
}

func (s *DefaultQuoteService) updateQuote(ctx context.Context, store bookingRepo.Store, q *models.Quote, expected models.QuoteStatus) error {
	err := store.UpdateQuote(ctx, q, expected)
	switch {
	case errors.Is(err, bookingRepo.ErrNotFound):
		return booking.NewNotFound("quote", q.ID)
	case errors.Is(err, bookingRepo.ErrStaleStatus):
		current, lerr := store.GetQuote(ctx, q.ID)
		if lerr != nil {
			return booking.NewQuoteStateError(q.ID, q.Status)
		}
		return booking.NewQuoteStateError(q.ID, current.Status)
	case err != nil:
		return fmt.Errorf("failed to update quote %s: %w", q.ID, err)
	}
	return nil
}

func validateTerms(q *models.Quote, now time.Time) error {
	if len(q.LineItems) == 0 {
		return booking.NewValidationError("a quote needs at least one line item")
	}
	hasBase := false
	for i, li := range q.LineItems {
		switch li.Kind {
		case models.LineItemBaseRate:
			hasBase = true
		case models.LineItemOption, models.LineItemTravelFee:
		default:
			return booking.NewValidationError("line item %d has unknown kind %q", i, li.Kind)
		}
		if li.UnitAmount < 0 {
			return booking.NewValidationError("line item %d has a negative amount", i)
		}
		if li.Quantity <= 0 {
			return booking.NewValidationError("line item %d needs a positive quantity", i)
		}
	}
	if !hasBase {
		return booking.NewValidationError("a quote needs a base_rate line item")
	}
	total, ok := q.LineItems.CheckedTotal()
	if !ok {
		return booking.NewValidationError("quote total exceeds %s", models.MaxQuoteAmount)
	}
	if total <= 0 {
		return booking.NewValidationError("quote total must be positive")
	}
	if q.ServiceDateTime.IsZero() {
		return booking.NewValidationError("serviceDateTime is required")
	}
	if q.SlotWindow <= 0 {
		return booking.NewValidationError("slotWindow must be a positive number of minutes")
	}
	if !q.CancellationTier.IsKnown() {
		return booking.NewValidationError("unknown cancellation tier %q", q.CancellationTier)
	}
	if !q.ValidUntil.After(now) {
		return booking.NewValidationError("validUntil must be in the future")
	}
	return nil
}
