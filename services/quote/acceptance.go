package quote

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bookingRepo "lensbook/database/repository/booking"
	"lensbook/models"
	"lensbook/services/booking"
	"lensbook/services/events"
)

// AcceptQuote turns a pending, unexpired quote into a reservation awaiting its
// deposit. Accepting the quote, computing the split and claiming the slot share
// one transaction: on SlotConflict nothing is written and the quote stays pending.
// Other pending quotes for the same demand are left untouched.
func (s *DefaultQuoteService) AcceptQuote(ctx context.Context, id string) (*models.Reservation, error) {
	// Step 1: lazy expiry, committed on its own.
	q, err := s.GetQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	switch q.Status {
	case models.QuotePending:
	case models.QuoteExpired:
		return nil, booking.NewValidationError("quote %s expired at %s", q.ID, q.ValidUntil.Format(time.RFC3339))
	default:
		return nil, booking.NewQuoteStateError(q.ID, q.Status)
	}

	var reservation *models.Reservation
	err = s.Repo.WithTransaction(ctx, func(ctx context.Context, tx bookingRepo.Store) error {
		now := s.now()

		// Step 2: pending -> accepted, guarded by the stored status.
		q.Status = models.QuoteAccepted
		q.UpdatedAt = now
		if err := s.updateQuote(ctx, tx, q, models.QuotePending); err != nil {
			return err
		}

		// Step 3: payment schedule from the immutable total.
		split, err := s.Splitter.ComputeSplit(q.Total)
		if err != nil {
			return booking.NewValidationError("cannot split quote total: %v", err)
		}

		// Step 4: claim the slot by inserting the reservation.
		r := &models.Reservation{
			ID:               uuid.NewString(),
			QuoteID:          q.ID,
			ProviderID:       q.ProviderID,
			ClientID:         q.ClientID,
			ServiceDateTime:  q.ServiceDateTime,
			SlotWindow:       q.SlotWindow,
			Total:            q.Total,
			DepositAmount:    split.Deposit,
			BalanceAmount:    split.Balance,
			Currency:         q.Currency,
			CancellationTier: q.CancellationTier,
			Status:           models.ReservationAwaitingPayment,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if _, err := s.Guard.ClaimSlot(ctx, tx, r); err != nil {
			return err
		}
		reservation = r
		return nil
	})
	if err != nil {
		q.Status = models.QuotePending
		if errors.Is(err, booking.ErrSlotConflict) {
			s.Metrics.SlotConflict()
			s.Logger.Warn("slot conflict, quote left pending",
				zap.String("quoteId", id),
				zap.String("providerId", q.ProviderID),
				zap.Time("serviceDateTime", q.ServiceDateTime))
		}
		return nil, err
	}

	s.Metrics.QuoteAccepted()
	s.publishCreated(ctx, reservation)
	s.Logger.Info("quote accepted",
		zap.String("quoteId", q.ID),
		zap.String("reservationId", reservation.ID),
		zap.Stringer("deposit", reservation.DepositAmount),
		zap.Stringer("balance", reservation.BalanceAmount))
	return reservation, nil
}

func (s *DefaultQuoteService) publishCreated(ctx context.Context, r *models.Reservation) {
	env, err := events.NewReservationEvent(events.EventReservationCreated, r, r.Total, s.now())
	if err == nil {
		err = s.Events.Publish(ctx, env)
	}
	if err != nil {
		s.Logger.Warn("reservation event not published", zap.String("reservationId", r.ID), zap.Error(err))
	}
}
