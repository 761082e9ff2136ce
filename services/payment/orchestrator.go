package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bookingRepo "lensbook/database/repository/booking"
	"lensbook/models"
	"lensbook/services/booking"
	"lensbook/services/events"
	"lensbook/services/metrics"
)

// PaymentResult is the outcome of applying a processor event.
type PaymentResult struct {
	Reservation *models.Reservation `json:"reservation"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	// Duplicate is set when the event had already been applied; nothing changed.
	Duplicate bool `json:"duplicate"`
	// Refunded is set when the capture landed on a closed reservation and was returned.
	Refunded models.Money `json:"refunded,omitempty"`
}

// RefundOutcome is the outcome of a refund or a zero-amount cancellation.
type RefundOutcome struct {
	Reservation  *models.Reservation  `json:"reservation"`
	Transactions []models.Transaction `json:"transactions"`
	Refunded     models.Money         `json:"refunded"`
}

// OrchestratorConfig wires an Orchestrator. Only Repo and Processor are required.
type OrchestratorConfig struct {
	Repo      bookingRepo.Repository
	Processor Processor
	Cache     CheckoutCache
	Events    events.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Rates     SplitRates
	Currency  string
	Retry     RetryPolicy
	Now       func() time.Time
}

// Orchestrator drives checkout creation, webhook settlement and refunds. Every
// ledger append shares one transaction with the state transition it causes.
// No transaction is held open while the processor is called.
type Orchestrator struct {
	repo      bookingRepo.Repository
	processor Processor
	cache     CheckoutCache
	events    events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	rates     SplitRates
	currency  string
	retry     RetryPolicy
	now       func() time.Time
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		repo:      cfg.Repo,
		processor: cfg.Processor,
		cache:     cfg.Cache,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		rates:     cfg.Rates,
		currency:  cfg.Currency,
		retry:     cfg.Retry,
		now:       cfg.Now,
	}
	if o.cache == nil {
		o.cache = noopCheckoutCache{}
	}
	if o.events == nil {
		o.events = events.NopPublisher{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.rates.DepositRate.IsZero() && o.rates.PlatformFeeRate.IsZero() {
		o.rates = DefaultSplitRates
	}
	if o.currency == "" {
		o.currency = "usd"
	}
	if o.retry.MaxRetries == 0 && o.retry.InitialInterval == 0 {
		o.retry = DefaultRetryPolicy
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// ComputeSplit splits total with the orchestrator's configured rates.
func (o *Orchestrator) ComputeSplit(total models.Money) (Split, error) {
	return ComputeSplit(total, o.rates)
}

// Rates returns the configured split rates.
func (o *Orchestrator) Rates() SplitRates { return o.rates }

// --- Checkout ---

// InitiateDepositCheckout opens a checkout session for the deposit leg. The
// reservation is not modified; it advances only when the payment webhook lands.
func (o *Orchestrator) InitiateDepositCheckout(ctx context.Context, reservationID string) (*CheckoutHandle, error) {
	r, err := o.loadReservation(ctx, o.repo, reservationID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.ReservationAwaitingPayment {
		return nil, booking.NewInvalidTransition(r.Status, models.ReservationDepositPaid)
	}
	return o.checkout(ctx, r, LegDeposit, r.DepositAmount)
}

// InitiateBalanceCheckout opens a checkout session for the balance leg of a
// reservation whose service has been marked delivered.
func (o *Orchestrator) InitiateBalanceCheckout(ctx context.Context, reservationID string) (*CheckoutHandle, error) {
	r, err := o.loadReservation(ctx, o.repo, reservationID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.ReservationConfirmed {
		return nil, booking.NewInvalidTransition(r.Status, models.ReservationCompleted)
	}
	return o.checkout(ctx, r, LegBalance, r.BalanceAmount)
}

func (o *Orchestrator) checkout(ctx context.Context, r *models.Reservation, leg Leg, amount models.Money) (*CheckoutHandle, error) {
	if amount <= 0 {
		return nil, booking.NewValidationError("reservation %s has nothing to collect on the %s leg", r.ID, leg)
	}

	if cached, ok, err := o.cache.Get(ctx, r.ID, leg); err != nil {
		o.logger.Warn("checkout cache lookup failed", zap.String("reservationId", r.ID), zap.Error(err))
	} else if ok && cached.Amount == amount {
		o.logger.Debug("reusing open checkout session", zap.String("reservationId", r.ID), zap.String("sessionId", cached.SessionID))
		return cached, nil
	}

	currency := r.Currency
	if currency == "" {
		currency = o.currency
	}
	req := CheckoutRequest{
		ReservationID:  r.ID,
		Leg:            leg,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: checkoutIdempotencyKey(r.ID, leg),
	}

	var handle *CheckoutHandle
	err := o.callProcessor(ctx, "create_checkout_session", func() error {
		h, err := o.processor.CreateCheckoutSession(ctx, req)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := o.cache.Put(ctx, handle); err != nil {
		o.logger.Warn("checkout cache store failed", zap.String("reservationId", r.ID), zap.Error(err))
	}
	o.logger.Info("checkout session created",
		zap.String("reservationId", r.ID),
		zap.String("leg", string(leg)),
		zap.String("sessionId", handle.SessionID),
		zap.Stringer("amount", amount))
	return handle, nil
}

// --- Webhook settlement ---

// OnPaymentConfirmed applies a processor event exactly once per EventID.
// Redelivery of an applied event returns the prior result; a replay carrying
// a different amount is rejected with IdempotencyViolation.
func (o *Orchestrator) OnPaymentConfirmed(ctx context.Context, event PaymentEvent) (*PaymentResult, error) {
	if err := event.Validate(); err != nil {
		return nil, booking.NewValidationError("invalid payment event: %v", err)
	}

	if prior, err := o.priorResult(ctx, event); err != nil || prior != nil {
		return prior, err
	}

	if event.Type == EventRefundSucceeded {
		// Refunds are recorded when the refund call returns; the webhook only confirms it.
		r, err := o.loadReservation(ctx, o.repo, event.ReservationID)
		if err != nil {
			return nil, err
		}
		o.logger.Info("refund confirmation acknowledged",
			zap.String("reservationId", r.ID), zap.String("eventId", event.EventID))
		return &PaymentResult{Reservation: r}, nil
	}

	var (
		result *PaymentResult
		from   models.ReservationStatus
		late   bool
	)
	err := o.repo.WithTransaction(ctx, func(ctx context.Context, tx bookingRepo.Store) error {
		seen, err := tx.HasEvent(ctx, event.EventID)
		if err != nil {
			return err
		}
		if seen {
			return bookingRepo.ErrDuplicateEvent
		}

		r, err := o.loadReservation(ctx, tx, event.ReservationID)
		if err != nil {
			return err
		}

		expected, trigger, txType := r.DepositAmount, booking.TriggerDepositCaptured, models.TransactionDeposit
		if event.Leg == LegBalance {
			expected, trigger, txType = r.BalanceAmount, booking.TriggerBalanceCaptured, models.TransactionBalance
		}
		if event.Amount != expected {
			return booking.NewIdempotencyViolation("event %s reports %s for the %s leg of %s, expected %s",
				event.EventID, event.Amount, event.Leg, r.ID, expected)
		}

		next, err := booking.Next(r.Status, trigger)
		if err != nil {
			if !isClosed(r.Status) {
				return err
			}
			// Money captured after the reservation closed, e.g. an abandoned
			// checkout paid later. It is recorded now and refunded below.
			late = true
		}

		fee := PlatformFee(event.Amount, o.rates.PlatformFeeRate)
		if late {
			fee = 0
		}
		now := o.now().UTC()
		t := &models.Transaction{
			ID:               uuid.NewString(),
			ReservationID:    r.ID,
			Type:             txType,
			GrossAmount:      event.Amount,
			PlatformFee:      fee,
			NetAmount:        event.Amount - fee,
			ExternalEventID:  event.EventID,
			ExternalChargeID: event.ChargeID,
			CreatedAt:        now,
		}
		if err := tx.AppendTransaction(ctx, t); err != nil {
			return err
		}
		if late {
			result = &PaymentResult{Reservation: r, Transaction: t}
			return nil
		}

		from = r.Status
		r.Status = next
		r.UpdatedAt = now
		if err := tx.TransitionReservation(ctx, r, from); err != nil {
			if errors.Is(err, bookingRepo.ErrStaleStatus) {
				return booking.NewInvalidTransition(from, next)
			}
			return err
		}
		result = &PaymentResult{Reservation: r, Transaction: t}
		return nil
	})
	if errors.Is(err, bookingRepo.ErrDuplicateEvent) {
		// A concurrent delivery of the same event committed first.
		prior, err := o.priorResult(ctx, event)
		if err == nil && prior == nil {
			err = fmt.Errorf("event %s reported as duplicate but not found", event.EventID)
		}
		return prior, err
	}
	if errors.Is(err, booking.ErrInvalidTransition) {
		o.logger.Error("captured payment cannot be applied, needs manual follow-up",
			zap.String("eventId", event.EventID),
			zap.String("reservationId", event.ReservationID),
			zap.String("leg", string(event.Leg)),
			zap.String("chargeId", event.ChargeID),
			zap.Stringer("amount", event.Amount),
			zap.Error(err))
		return nil, err
	}
	if err != nil {
		o.logger.Warn("payment event rejected",
			zap.String("eventId", event.EventID),
			zap.String("reservationId", event.ReservationID),
			zap.Error(err))
		return nil, err
	}

	if err := o.cache.Drop(ctx, event.ReservationID, event.Leg); err != nil {
		o.logger.Warn("checkout cache drop failed", zap.String("reservationId", event.ReservationID), zap.Error(err))
	}
	o.metrics.PaymentCaptured(string(event.Leg), int64(event.Amount))
	if late {
		result.Refunded = o.refundLateCapture(ctx, result.Reservation, result.Transaction)
		return result, nil
	}
	o.metrics.Transition(string(from), string(result.Reservation.Status))
	eventType := events.EventDepositCaptured
	if event.Leg == LegBalance {
		eventType = events.EventBalanceCaptured
	}
	o.publish(ctx, eventType, result.Reservation, event.Amount)

	o.logger.Info("payment applied",
		zap.String("eventId", event.EventID),
		zap.String("reservationId", event.ReservationID),
		zap.String("leg", string(event.Leg)),
		zap.String("status", string(result.Reservation.Status)))
	return result, nil
}

func isClosed(s models.ReservationStatus) bool {
	return s == models.ReservationCancelled || s == models.ReservationRefunded
}

// refundLateCapture returns a capture recorded against a closed reservation
// and records the refund. Failures are logged for manual follow-up; the
// capture stays on the ledger so the balance owed back is visible.
func (o *Orchestrator) refundLateCapture(ctx context.Context, r *models.Reservation, capture *models.Transaction) models.Money {
	charge := capture.ExternalChargeID
	if charge == "" {
		charge = capture.ExternalEventID
	}
	log := o.logger.With(
		zap.String("reservationId", r.ID),
		zap.String("eventId", capture.ExternalEventID),
		zap.String("chargeId", charge),
		zap.Stringer("amount", capture.GrossAmount))

	req := RefundRequest{
		ReservationID:  r.ID,
		ChargeID:       charge,
		Amount:         capture.GrossAmount,
		IdempotencyKey: refundIdempotencyKey(r.ID, charge),
	}
	var res *RefundResult
	err := o.callProcessor(ctx, "refund", func() error {
		out, err := o.processor.Refund(ctx, req)
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		log.Error("capture on closed reservation not refunded, needs manual follow-up", zap.Error(err))
		return 0
	}

	entry := &models.Transaction{
		ID:               uuid.NewString(),
		ReservationID:    r.ID,
		Type:             models.TransactionRefund,
		GrossAmount:      -capture.GrossAmount,
		NetAmount:        -capture.GrossAmount,
		ExternalEventID:  "refund:" + res.RefundID,
		ExternalChargeID: charge,
		CreatedAt:        o.now().UTC(),
	}
	err = o.repo.WithTransaction(ctx, func(ctx context.Context, tx bookingRepo.Store) error {
		seen, err := tx.HasEvent(ctx, entry.ExternalEventID)
		if err != nil || seen {
			return err
		}
		return tx.AppendTransaction(ctx, entry)
	})
	if err != nil {
		log.Error("capture on closed reservation refunded but not recorded",
			zap.String("refundId", res.RefundID), zap.Error(err))
		return 0
	}
	o.metrics.Refunded(int64(capture.GrossAmount))
	log.Warn("capture on closed reservation refunded", zap.String("refundId", res.RefundID))
	return capture.GrossAmount
}

// priorResult returns the recorded outcome of event, or nil when it has not been applied.
func (o *Orchestrator) priorResult(ctx context.Context, event PaymentEvent) (*PaymentResult, error) {
	prior, err := o.repo.FindTransactionByEvent(ctx, event.EventID)
	if errors.Is(err, bookingRepo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup event %s: %w", event.EventID, err)
	}
	if prior.ReservationID != event.ReservationID || prior.GrossAmount != event.Amount {
		return nil, booking.NewIdempotencyViolation("event %s was recorded for %s with amount %s, replay carries %s with %s",
			event.EventID, prior.ReservationID, prior.GrossAmount, event.ReservationID, event.Amount)
	}
	r, err := o.loadReservation(ctx, o.repo, prior.ReservationID)
	if err != nil {
		return nil, err
	}
	o.metrics.DuplicateEvent()
	o.logger.Info("duplicate payment event ignored", zap.String("eventId", event.EventID))
	return &PaymentResult{Reservation: r, Transaction: prior, Duplicate: true}, nil
}

// --- Refunds ---

// InitiateRefund returns amount to the client and closes the reservation.
// A zero amount cancels without calling the processor. If any processor call
// fails the reservation and the ledger are left untouched; a retry reuses the
// same idempotency keys so the processor does not refund twice. Once the
// processor has refunded, the ledger entries are always recorded; if the
// reservation can no longer reach the target state the call reports
// InvalidTransition.
func (o *Orchestrator) InitiateRefund(ctx context.Context, reservationID string, amount models.Money, reason string) (*RefundOutcome, error) {
	if amount < 0 {
		return nil, booking.NewValidationError("refund amount must not be negative")
	}
	r, err := o.loadReservation(ctx, o.repo, reservationID)
	if err != nil {
		return nil, err
	}
	target := models.ReservationRefunded
	if amount == 0 {
		target = models.ReservationCancelled
	}
	if !booking.CanTransition(r.Status, target) {
		return nil, booking.NewInvalidTransition(r.Status, target)
	}

	ledger, err := o.repo.ListTransactions(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("load ledger for %s: %w", r.ID, err)
	}
	paid := netCollected(ledger)
	if amount > paid {
		return nil, booking.NewRefundExceedsPaid(amount, paid)
	}

	var entries []models.Transaction
	for _, part := range allocateRefund(ledger, amount) {
		req := RefundRequest{
			ReservationID:  r.ID,
			ChargeID:       part.chargeID,
			Amount:         part.amount,
			IdempotencyKey: refundIdempotencyKey(r.ID, part.chargeID),
		}
		var res *RefundResult
		err := o.callProcessor(ctx, "refund", func() error {
			out, err := o.processor.Refund(ctx, req)
			if err != nil {
				return err
			}
			res = out
			return nil
		})
		if err != nil {
			o.logger.Error("refund failed, reservation unchanged",
				zap.String("reservationId", r.ID),
				zap.String("chargeId", part.chargeID),
				zap.Error(err))
			return nil, err
		}
		entries = append(entries, models.Transaction{
			ID:               uuid.NewString(),
			ReservationID:    r.ID,
			Type:             models.TransactionRefund,
			GrossAmount:      -part.amount,
			NetAmount:        -part.amount,
			ExternalEventID:  "refund:" + res.RefundID,
			ExternalChargeID: part.chargeID,
		})
	}

	var (
		from  models.ReservationStatus
		moved bool
	)
	err = o.repo.WithTransaction(ctx, func(ctx context.Context, tx bookingRepo.Store) error {
		now := o.now().UTC()
		// The processor has already returned this money, so the entries are
		// committed whatever state the reservation is in now.
		for i := range entries {
			seen, err := tx.HasEvent(ctx, entries[i].ExternalEventID)
			if err != nil {
				return err
			}
			if seen {
				continue
			}
			entries[i].CreatedAt = now
			if err := tx.AppendTransaction(ctx, &entries[i]); err != nil {
				return err
			}
		}

		current, err := o.loadReservation(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		held, err := tx.SumByReservation(ctx, r.ID)
		if err != nil {
			return err
		}
		r = current
		from = current.Status
		// The amount was decided on the ledger read above; if other money
		// moved since, the reservation is left for a fresh decision.
		if held != paid-amount || !booking.CanTransition(from, target) {
			moved = true
			return nil
		}
		r.Status = target
		r.CancellationReason = reason
		r.UpdatedAt = now
		if err := tx.TransitionReservation(ctx, r, from); err != nil {
			if errors.Is(err, bookingRepo.ErrStaleStatus) {
				r.Status = from
				moved = true
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if amount > 0 {
		o.metrics.Refunded(int64(amount))
	}
	if moved {
		o.logger.Error("refund recorded but reservation changed during the refund call",
			zap.String("reservationId", r.ID),
			zap.String("status", string(from)),
			zap.Stringer("refunded", amount))
		return nil, booking.NewInvalidTransition(from, target)
	}

	o.metrics.Transition(string(from), string(target))
	eventType := events.EventReservationCancelled
	if amount > 0 {
		eventType = events.EventReservationRefunded
	}
	o.publish(ctx, eventType, r, amount)

	o.logger.Info("reservation closed",
		zap.String("reservationId", r.ID),
		zap.String("status", string(target)),
		zap.Stringer("refunded", amount))
	return &RefundOutcome{Reservation: r, Transactions: entries, Refunded: amount}, nil
}

type refundPart struct {
	chargeID string
	amount   models.Money
}

// allocateRefund spreads amount over the captured charges, newest first, never
// taking more from a charge than remains unrefunded on it.
func allocateRefund(ledger []models.Transaction, amount models.Money) []refundPart {
	refunded := map[string]models.Money{}
	var captures []models.Transaction
	for _, t := range ledger {
		if t.IsCapture() {
			captures = append(captures, t)
		} else if t.Type == models.TransactionRefund {
			refunded[t.ExternalChargeID] += -t.GrossAmount
		}
	}
	sort.SliceStable(captures, func(i, j int) bool {
		if captures[i].Type != captures[j].Type {
			return captures[i].Type == models.TransactionBalance
		}
		return captures[i].CreatedAt.After(captures[j].CreatedAt)
	})

	var parts []refundPart
	remaining := amount
	for _, c := range captures {
		if remaining == 0 {
			break
		}
		charge := c.ExternalChargeID
		if charge == "" {
			charge = c.ExternalEventID
		}
		available := c.GrossAmount - refunded[charge]
		if available <= 0 {
			continue
		}
		take := models.MinMoney(available, remaining)
		parts = append(parts, refundPart{chargeID: charge, amount: take})
		refunded[charge] += take
		remaining -= take
	}
	return parts
}

// netCollected is captures minus refunds over a reservation's ledger.
func netCollected(ledger []models.Transaction) models.Money {
	var sum models.Money
	for _, t := range ledger {
		sum += t.GrossAmount
	}
	return sum
}

// AmountPaid is the net amount currently held for a reservation.
func (o *Orchestrator) AmountPaid(ctx context.Context, reservationID string) (models.Money, error) {
	return o.repo.SumByReservation(ctx, reservationID)
}

// --- helpers ---

func (o *Orchestrator) callProcessor(ctx context.Context, op string, fn func() error) error {
	// Unclassified failures (network, decoding) count as transient, both for
	// the retry loop here and for callers that queue their own retries.
	classified := func() error {
		err := fn()
		var pe *booking.ProcessorError
		if err != nil && !errors.As(err, &pe) {
			return booking.NewTransientProcessorError(op, err)
		}
		return err
	}
	err := withRetry(ctx, o.retry, o.logger, op, func() { o.metrics.ProcessorRetry(op) }, classified)
	if err == nil {
		return nil
	}
	var pe *booking.ProcessorError
	if !errors.As(err, &pe) {
		// Only a cancelled or expired ctx ends the loop without a processor error.
		err = booking.NewTransientProcessorError(op, err)
		errors.As(err, &pe)
	}
	o.metrics.ProcessorFailure(op, string(pe.Kind))
	return err
}

func (o *Orchestrator) loadReservation(ctx context.Context, store bookingRepo.Store, id string) (*models.Reservation, error) {
	r, err := store.GetReservation(ctx, id)
	if errors.Is(err, bookingRepo.ErrNotFound) {
		return nil, booking.NewNotFound("reservation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load reservation %s: %w", id, err)
	}
	return r, nil
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, r *models.Reservation, amount models.Money) {
	env, err := events.NewReservationEvent(eventType, r, amount, o.now())
	if err == nil {
		err = o.events.Publish(ctx, env)
	}
	if err != nil {
		o.logger.Warn("reservation event not published",
			zap.String("event", eventType), zap.String("reservationId", r.ID), zap.Error(err))
	}
}

// Publish emits a reservation event on behalf of other services sharing this orchestrator's bus.
func (o *Orchestrator) Publish(ctx context.Context, eventType string, r *models.Reservation, amount models.Money) {
	o.publish(ctx, eventType, r, amount)
}
