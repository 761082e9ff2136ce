package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	bookingRepo "lensbook/database/repository/booking"
	"lensbook/models"
	"lensbook/services/booking"
	"lensbook/services/events"
	"lensbook/services/metrics"
	"lensbook/services/payment"
	"lensbook/services/tasks"
)

// Settlement is the part of the payment orchestrator reservations depend on.
type Settlement interface {
	InitiateRefund(ctx context.Context, reservationID string, amount models.Money, reason string) (*payment.RefundOutcome, error)
	Publish(ctx context.Context, eventType string, r *models.Reservation, amount models.Money)
}

// ReservationService is the downstream surface of the booking core: read-only
// history plus the provider and client entry points that move a reservation.
type ReservationService interface {
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ListReservations(ctx context.Context, f bookingRepo.ReservationFilter) ([]models.Reservation, error)
	ListTransactions(ctx context.Context, id string) ([]models.Transaction, error)
	RefundPreview(ctx context.Context, id string) (*booking.RefundQuote, error)
	MarkServiceDelivered(ctx context.Context, id string) (*models.Reservation, error)
	RequestCancellation(ctx context.Context, id, reason string) (*CancellationResult, error)
	RetryRefund(ctx context.Context, p tasks.RefundRetryPayload) (*payment.RefundOutcome, error)
}

// CancellationResult reports what a cancellation request did.
type CancellationResult struct {
	Reservation *models.Reservation `json:"reservation"`
	Policy      booking.RefundQuote `json:"policy"`
	Refunded    models.Money        `json:"refunded"`

	// RetryScheduled is set when the refund failed transiently and was queued;
	// the reservation keeps its status until the retry succeeds.
	RetryScheduled bool `json:"retryScheduled"`
}

// DefaultReservationService implements ReservationService.
type DefaultReservationService struct {
	Repo       bookingRepo.Repository
	Settlement Settlement
	Policy     *booking.PolicyEngine
	Tasks      tasks.Enqueuer
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

func NewDefaultReservationService(repo bookingRepo.Repository, settlement Settlement, policy *booking.PolicyEngine, enqueuer tasks.Enqueuer, m *metrics.Metrics, logger *zap.Logger) (*DefaultReservationService, error) {
	if repo == nil || settlement == nil {
		return nil, fmt.Errorf("reservation service initialization error: repository and settlement are required")
	}
	if policy == nil {
		policy = booking.DefaultPolicyEngine()
	}
	if enqueuer == nil {
		enqueuer = tasks.NopEnqueuer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultReservationService{
		Repo:       repo,
		Settlement: settlement,
		Policy:     policy,
		Tasks:      enqueuer,
		Metrics:    m,
		Logger:     logger,
		Now:        time.Now,
	}, nil
}

func (s *DefaultReservationService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// --- Queries ---

func (s *DefaultReservationService) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return s.load(ctx, s.Repo, id)
}

func (s *DefaultReservationService) ListReservations(ctx context.Context, f bookingRepo.ReservationFilter) ([]models.Reservation, error) {
	out, err := s.Repo.ListReservations(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return out, nil
}

func (s *DefaultReservationService) ListTransactions(ctx context.Context, id string) ([]models.Transaction, error) {
	if _, err := s.load(ctx, s.Repo, id); err != nil {
		return nil, err
	}
	out, err := s.Repo.ListTransactions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return out, nil
}

// RefundPreview computes what cancelling now would refund, without side effects.
func (s *DefaultReservationService) RefundPreview(ctx context.Context, id string) (*booking.RefundQuote, error) {
	r, err := s.load(ctx, s.Repo, id)
	if err != nil {
		return nil, err
	}
	quote, err := s.policyQuote(ctx, r)
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

// --- Transitions ---

// MarkServiceDelivered moves deposit_paid to confirmed and queues the balance checkout.
func (s *DefaultReservationService) MarkServiceDelivered(ctx context.Context, id string) (*models.Reservation, error) {
	var (
		r    *models.Reservation
		from models.ReservationStatus
	)
	err := s.Repo.WithTransaction(ctx, func(ctx context.Context, tx bookingRepo.Store) error {
		var err error
		r, err = s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := booking.Next(r.Status, booking.TriggerServiceDelivered)
		if err != nil {
			return err
		}
		from = r.Status
		r.Status = next
		r.UpdatedAt = s.now()
		if err := tx.TransitionReservation(ctx, r, from); err != nil {
			if errors.Is(err, bookingRepo.ErrStaleStatus) {
				return booking.NewInvalidTransition(from, next)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.Transition(string(from), string(r.Status))
	s.Settlement.Publish(ctx, events.EventServiceDelivered, r, 0)
	if err := s.Tasks.EnqueueBalanceCheckout(ctx, r.ID); err != nil {
		// The client can still open the balance checkout through the API.
		s.Logger.Error("failed to queue balance checkout", zap.String("reservationId", r.ID), zap.Error(err))
	}
	s.Logger.Info("service marked delivered", zap.String("reservationId", r.ID))
	return r, nil
}

// RequestCancellation applies the reservation's cancellation policy and
// refunds what it allows. With nothing to refund the reservation is cancelled.
func (s *DefaultReservationService) RequestCancellation(ctx context.Context, id, reason string) (*CancellationResult, error) {
	r, err := s.load(ctx, s.Repo, id)
	if err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		return nil, booking.NewInvalidTransition(r.Status, models.ReservationCancelled)
	}

	quote, err := s.policyQuote(ctx, r)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("cancellation requested",
		zap.String("reservationId", r.ID),
		zap.String("tier", string(quote.Tier)),
		zap.Int("daysBefore", quote.DaysBefore),
		zap.Stringer("paid", quote.Paid),
		zap.Stringer("refund", quote.Amount))

	outcome, err := s.Settlement.InitiateRefund(ctx, r.ID, quote.Amount, reason)
	if err != nil {
		if !booking.IsTransient(err) {
			return nil, err
		}
		retry := tasks.RefundRetryPayload{ReservationID: r.ID, Amount: quote.Amount, Reason: reason}
		if qerr := s.Tasks.EnqueueRefundRetry(ctx, retry); qerr != nil {
			s.Logger.Error("failed to queue refund retry", zap.String("reservationId", r.ID), zap.Error(qerr))
			return nil, err
		}
		s.Logger.Warn("refund deferred to retry queue", zap.String("reservationId", r.ID), zap.Error(err))
		return &CancellationResult{Reservation: r, Policy: quote, RetryScheduled: true}, nil
	}
	return &CancellationResult{Reservation: outcome.Reservation, Policy: quote, Refunded: outcome.Refunded}, nil
}

// RetryRefund replays a queued refund. A reservation that reached a terminal
// state in the meantime is left alone.
func (s *DefaultReservationService) RetryRefund(ctx context.Context, p tasks.RefundRetryPayload) (*payment.RefundOutcome, error) {
	r, err := s.load(ctx, s.Repo, p.ReservationID)
	if err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		s.Logger.Info("refund retry skipped, reservation already closed",
			zap.String("reservationId", r.ID), zap.String("status", string(r.Status)))
		return &payment.RefundOutcome{Reservation: r}, nil
	}
	return s.Settlement.InitiateRefund(ctx, r.ID, p.Amount, p.Reason)
}

func (s *DefaultReservationService) policyQuote(ctx context.Context, r *models.Reservation) (booking.RefundQuote, error) {
	paid, err := s.Repo.SumByReservation(ctx, r.ID)
	if err != nil {
		return booking.RefundQuote{}, fmt.Errorf("failed to sum ledger for %s: %w", r.ID, err)
	}
	return s.Policy.Quote(r.CancellationTier, r.ServiceDateTime, s.now(), paid), nil
}

func (s *DefaultReservationService) load(ctx context.Context, store bookingRepo.Store, id string) (*models.Reservation, error) {
	r, err := store.GetReservation(ctx, id)
	if errors.Is(err, bookingRepo.ErrNotFound) {
		return nil, booking.NewNotFound("reservation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation %s: %w", id, err)
	}
	return r, nil
}
