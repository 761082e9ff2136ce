package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookingRepo "lensbook/database/repository/booking"
	"lensbook/database/repository/booking/repotest"
	"lensbook/models"
	"lensbook/services/booking"
	"lensbook/services/events"
)

type harness struct {
	orch      *Orchestrator
	repo      *bookingRepo.GormRepo
	processor *fakeProcessor
	cache     *memoryCache
	bus       *events.MemoryPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:      repotest.New(t),
		processor: newFakeProcessor(),
		cache:     newMemoryCache(),
		bus:       &events.MemoryPublisher{},
	}
	h.orch = NewOrchestrator(OrchestratorConfig{
		Repo:      h.repo,
		Processor: h.processor,
		Cache:     h.cache,
		Events:    h.bus,
		Retry:     RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	})
	return h
}

// seed stores a 1000.00 reservation split 300.00 / 700.00.
func (h *harness) seed(t *testing.T, status models.ReservationStatus) *models.Reservation {
	t.Helper()
	now := time.Now().UTC()
	r := &models.Reservation{
		ID:               uuid.NewString(),
		QuoteID:          uuid.NewString(),
		ProviderID:       "prov-1",
		ClientID:         "client-1",
		ServiceDateTime:  models.NormalizeSlotTime(now.Add(30 * 24 * time.Hour)),
		SlotWindow:       120,
		Total:            100000,
		DepositAmount:    30000,
		BalanceAmount:    70000,
		Currency:         "usd",
		CancellationTier: models.PolicyModerate,
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, h.repo.InsertReservation(context.Background(), r))
	return r
}

func (h *harness) status(t *testing.T, id string) models.ReservationStatus {
	t.Helper()
	r, err := h.repo.GetReservation(context.Background(), id)
	require.NoError(t, err)
	return r.Status
}

func (h *harness) payDeposit(t *testing.T, r *models.Reservation) {
	t.Helper()
	_, err := h.orch.OnPaymentConfirmed(context.Background(), depositEvent(r, "evt_dep_"+r.ID))
	require.NoError(t, err)
}

func (h *harness) confirm(t *testing.T, r *models.Reservation) {
	t.Helper()
	r.Status = models.ReservationConfirmed
	require.NoError(t, h.repo.TransitionReservation(context.Background(), r, models.ReservationDepositPaid))
}

func depositEvent(r *models.Reservation, eventID string) PaymentEvent {
	return PaymentEvent{
		EventID:       eventID,
		Type:          EventPaymentSucceeded,
		ReservationID: r.ID,
		Amount:        r.DepositAmount,
		Leg:           LegDeposit,
		ChargeID:      "ch_deposit",
	}
}

func TestOnPaymentConfirmed_Deposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)

	res, err := h.orch.OnPaymentConfirmed(ctx, depositEvent(r, "evt_1"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, models.ReservationDepositPaid, res.Reservation.Status)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, models.TransactionDeposit, res.Transaction.Type)
	assert.Equal(t, models.Money(30000), res.Transaction.GrossAmount)
	assert.Equal(t, models.Money(4500), res.Transaction.PlatformFee)
	assert.Equal(t, models.Money(25500), res.Transaction.NetAmount)
	assert.Equal(t, "ch_deposit", res.Transaction.ExternalChargeID)

	assert.Equal(t, models.ReservationDepositPaid, h.status(t, r.ID))
	paid, err := h.orch.AmountPaid(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(30000), paid)
	assert.Equal(t, []string{events.EventDepositCaptured}, h.bus.Types())
}

func TestOnPaymentConfirmed_RedeliveryIsRecordedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	event := depositEvent(r, "E1")

	first, err := h.orch.OnPaymentConfirmed(ctx, event)
	require.NoError(t, err)
	second, err := h.orch.OnPaymentConfirmed(ctx, event)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, models.ReservationDepositPaid, second.Reservation.Status)

	ledger, err := h.repo.ListTransactions(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)
	assert.Len(t, h.bus.Events(), 1)
}

func TestOnPaymentConfirmed_ConcurrentRedelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	event := depositEvent(r, "E1")

	const deliveries = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		errs    []error
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.OnPaymentConfirmed(ctx, event)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if !res.Duplicate {
				applied++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, applied)
	ledger, err := h.repo.ListTransactions(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)
}

func TestOnPaymentConfirmed_AmountMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)

	event := depositEvent(r, "evt_short")
	event.Amount = 29999
	_, err := h.orch.OnPaymentConfirmed(ctx, event)
	assert.ErrorIs(t, err, booking.ErrIdempotency)

	assert.Equal(t, models.ReservationAwaitingPayment, h.status(t, r.ID))
	ledger, err := h.repo.ListTransactions(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, ledger)
	assert.Empty(t, h.bus.Events())
}

func TestOnPaymentConfirmed_ReplayWithDifferentAmount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)

	replay := depositEvent(r, "evt_dep_"+r.ID)
	replay.Amount = 100
	_, err := h.orch.OnPaymentConfirmed(ctx, replay)
	assert.ErrorIs(t, err, booking.ErrIdempotency)

	paid, err := h.orch.AmountPaid(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(30000), paid)
}

func TestOnPaymentConfirmed_BalanceBeforeDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)

	_, err := h.orch.OnPaymentConfirmed(ctx, PaymentEvent{
		EventID:       "evt_bal",
		Type:          EventPaymentSucceeded,
		ReservationID: r.ID,
		Amount:        r.BalanceAmount,
		Leg:           LegBalance,
	})
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)

	assert.Equal(t, models.ReservationDepositPaid, h.status(t, r.ID))
	_, err = h.repo.FindTransactionByEvent(ctx, "evt_bal")
	assert.ErrorIs(t, err, bookingRepo.ErrNotFound)
}

func TestOnPaymentConfirmed_BalanceCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)
	h.confirm(t, r)

	res, err := h.orch.OnPaymentConfirmed(ctx, PaymentEvent{
		EventID:       "evt_bal",
		Type:          EventPaymentSucceeded,
		ReservationID: r.ID,
		Amount:        r.BalanceAmount,
		Leg:           LegBalance,
		ChargeID:      "ch_balance",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCompleted, res.Reservation.Status)
	assert.Equal(t, models.Money(10500), res.Transaction.PlatformFee)

	paid, err := h.orch.AmountPaid(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Total, paid)
	assert.Equal(t, []string{events.EventDepositCaptured, events.EventBalanceCaptured}, h.bus.Types())
}

func TestOnPaymentConfirmed_InvalidEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.OnPaymentConfirmed(ctx, PaymentEvent{Type: EventPaymentSucceeded, ReservationID: "r", Amount: 1, Leg: LegDeposit})
	assert.ErrorIs(t, err, booking.ErrValidation)

	_, err = h.orch.OnPaymentConfirmed(ctx, PaymentEvent{EventID: "e", Type: EventPaymentSucceeded, ReservationID: "missing", Amount: 1, Leg: LegDeposit})
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestOnPaymentConfirmed_RefundConfirmationIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)

	res, err := h.orch.OnPaymentConfirmed(ctx, PaymentEvent{
		EventID:       "evt_refund",
		Type:          EventRefundSucceeded,
		ReservationID: r.ID,
		Amount:        100,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Transaction)
	ledger, err := h.repo.ListTransactions(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)
}

func TestInitiateRefund_ExceedsPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)

	_, err := h.orch.InitiateRefund(ctx, r.ID, 30001, "client request")
	assert.ErrorIs(t, err, booking.ErrRefundExceedsPaid)

	assert.Empty(t, h.processor.refundCalls())
	assert.Equal(t, models.ReservationDepositPaid, h.status(t, r.ID))
	ledger, err := h.repo.ListTransactions(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)
}

func TestInitiateRefund_Partial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)

	out, err := h.orch.InitiateRefund(ctx, r.ID, 15000, "weather")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationRefunded, out.Reservation.Status)
	assert.Equal(t, models.Money(15000), out.Refunded)
	require.Len(t, out.Transactions, 1)
	entry := out.Transactions[0]
	assert.Equal(t, models.TransactionRefund, entry.Type)
	assert.Equal(t, models.Money(-15000), entry.GrossAmount)
	assert.Equal(t, models.Money(0), entry.PlatformFee)
	assert.Equal(t, "refund:re_1", entry.ExternalEventID)
	assert.Equal(t, "ch_deposit", entry.ExternalChargeID)

	calls := h.processor.refundCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ch_deposit", calls[0].ChargeID)
	assert.Equal(t, "refund:"+r.ID+":ch_deposit", calls[0].IdempotencyKey)

	stored, err := h.repo.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationRefunded, stored.Status)
	assert.Equal(t, "weather", stored.CancellationReason)

	paid, err := h.orch.AmountPaid(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(15000), paid)
	assert.Equal(t, events.EventReservationRefunded, h.bus.Types()[len(h.bus.Types())-1])
}

func TestInitiateRefund_ZeroCancels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)

	out, err := h.orch.InitiateRefund(ctx, r.ID, 0, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, out.Reservation.Status)
	assert.Empty(t, out.Transactions)
	assert.Empty(t, h.processor.refundCalls())

	// The slot is free again.
	again := *r
	again.ID = uuid.NewString()
	again.QuoteID = uuid.NewString()
	again.Status = models.ReservationAwaitingPayment
	assert.NoError(t, h.repo.InsertReservation(ctx, &again))
}

func TestInitiateRefund_TerminalReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	_, err := h.orch.InitiateRefund(ctx, r.ID, 0, "")
	require.NoError(t, err)

	_, err = h.orch.InitiateRefund(ctx, r.ID, 0, "")
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)

	_, err = h.orch.InitiateRefund(ctx, r.ID, -1, "")
	assert.ErrorIs(t, err, booking.ErrValidation)
}

func TestInitiateRefund_TransientFailureRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)
	h.processor.failNext("refund", errUpstream503)

	out, err := h.orch.InitiateRefund(ctx, r.ID, 30000, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationRefunded, out.Reservation.Status)

	calls := h.processor.refundCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)
}

func TestInitiateRefund_PermanentFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)
	h.processor.failNext("refund", errDeclined)

	_, err := h.orch.InitiateRefund(ctx, r.ID, 30000, "")
	require.Error(t, err)
	assert.False(t, booking.IsTransient(err))
	assert.Equal(t, booking.CodeProcessor, booking.Code(err))

	assert.Len(t, h.processor.refundCalls(), 1)
	assert.Equal(t, models.ReservationDepositPaid, h.status(t, r.ID))
	paid, err := h.orch.AmountPaid(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(30000), paid)
}

func TestInitiateRefund_RetriesExhausted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)
	h.processor.failNext("refund", errUpstream503, errUpstream503, errUpstream503, errUpstream503)

	_, err := h.orch.InitiateRefund(ctx, r.ID, 30000, "")
	require.Error(t, err)
	assert.True(t, booking.IsTransient(err))
	assert.Len(t, h.processor.refundCalls(), 4)
	assert.Equal(t, models.ReservationDepositPaid, h.status(t, r.ID))
}

func TestAllocateRefund(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ledger := []models.Transaction{
		{Type: models.TransactionDeposit, GrossAmount: 30000, ExternalChargeID: "ch_dep", CreatedAt: base},
		{Type: models.TransactionBalance, GrossAmount: 70000, ExternalChargeID: "ch_bal", CreatedAt: base.Add(time.Hour)},
		{Type: models.TransactionRefund, GrossAmount: -10000, ExternalChargeID: "ch_bal", CreatedAt: base.Add(2 * time.Hour)},
	}

	parts := allocateRefund(ledger, 75000)
	assert.Equal(t, []refundPart{
		{chargeID: "ch_bal", amount: 60000},
		{chargeID: "ch_dep", amount: 15000},
	}, parts)

	assert.Empty(t, allocateRefund(ledger, 0))

	// Without a charge id the event id stands in.
	parts = allocateRefund([]models.Transaction{
		{Type: models.TransactionDeposit, GrossAmount: 500, ExternalEventID: "evt_1"},
	}, 200)
	assert.Equal(t, []refundPart{{chargeID: "evt_1", amount: 200}}, parts)
}

func TestInitiateDepositCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)

	first, err := h.orch.InitiateDepositCheckout(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(30000), first.Amount)
	assert.Equal(t, LegDeposit, first.Leg)

	second, err := h.orch.InitiateDepositCheckout(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	calls := h.processor.checkoutCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "checkout:"+r.ID+":deposit", calls[0].IdempotencyKey)
	assert.Equal(t, "usd", calls[0].Currency)
	assert.Equal(t, models.ReservationAwaitingPayment, h.status(t, r.ID))

	// Settlement clears the cached session.
	h.payDeposit(t, r)
	_, ok, err := h.cache.Get(ctx, r.ID, LegDeposit)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.orch.InitiateDepositCheckout(ctx, r.ID)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestInitiateBalanceCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)

	_, err := h.orch.InitiateBalanceCheckout(ctx, r.ID)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)

	h.confirm(t, r)
	handle, err := h.orch.InitiateBalanceCheckout(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(70000), handle.Amount)
	assert.Equal(t, LegBalance, handle.Leg)

	_, err = h.orch.InitiateBalanceCheckout(ctx, "missing")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestCheckout_TransientFailureRetried(t *testing.T) {
	h := newHarness(t)
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.processor.failNext("checkout", errUpstream503, errUpstream503)

	handle, err := h.orch.InitiateDepositCheckout(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, "cs_3", handle.SessionID)
	assert.Len(t, h.processor.checkoutCalls(), 3)
}

func balanceEvent(r *models.Reservation) PaymentEvent {
	return PaymentEvent{
		EventID:       "evt_bal_" + r.ID,
		Type:          EventPaymentSucceeded,
		ReservationID: r.ID,
		Amount:        r.BalanceAmount,
		Leg:           LegBalance,
		ChargeID:      "ch_balance",
	}
}

func TestInitiateRefund_ReservationCompletesDuringRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)
	h.confirm(t, r)

	var balanceErr error
	h.processor.onRefund = func() {
		_, balanceErr = h.orch.OnPaymentConfirmed(ctx, balanceEvent(r))
	}

	_, err := h.orch.InitiateRefund(ctx, r.ID, 15000, "weather")
	require.NoError(t, balanceErr)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
	assert.Len(t, h.processor.refundCalls(), 1)
	assert.Equal(t, models.ReservationCompleted, h.status(t, r.ID))

	// The refund left the processor, so it is on the ledger.
	paid, err := h.orch.AmountPaid(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(85000), paid)
	refund, err := h.repo.FindTransactionByEvent(ctx, "refund:re_1")
	require.NoError(t, err)
	assert.Equal(t, models.Money(-15000), refund.GrossAmount)
}

func TestInitiateRefund_ReservationAdvancesDuringRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)

	h.processor.onRefund = func() {
		delivered := *r
		delivered.Status = models.ReservationConfirmed
		require.NoError(t, h.repo.TransitionReservation(ctx, &delivered, models.ReservationDepositPaid))
	}

	out, err := h.orch.InitiateRefund(ctx, r.ID, 30000, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationRefunded, out.Reservation.Status)
	assert.Equal(t, models.ReservationRefunded, h.status(t, r.ID))
	paid, err := h.orch.AmountPaid(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(0), paid)
}

func TestOnPaymentConfirmed_CaptureAfterCancellationIsRefunded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	_, err := h.orch.InitiateRefund(ctx, r.ID, 0, "changed plans")
	require.NoError(t, err)

	event := depositEvent(r, "evt_late")
	res, err := h.orch.OnPaymentConfirmed(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, res.Reservation.Status)
	assert.Equal(t, models.Money(30000), res.Refunded)
	assert.Equal(t, models.Money(0), res.Transaction.PlatformFee)

	calls := h.processor.refundCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ch_deposit", calls[0].ChargeID)
	assert.Equal(t, models.Money(30000), calls[0].Amount)

	paid, err := h.orch.AmountPaid(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(0), paid)
	assert.Equal(t, models.ReservationCancelled, h.status(t, r.ID))

	again, err := h.orch.OnPaymentConfirmed(ctx, event)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Len(t, h.processor.refundCalls(), 1)
}

func TestOnPaymentConfirmed_CaptureAfterCancellationRefundFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	_, err := h.orch.InitiateRefund(ctx, r.ID, 0, "")
	require.NoError(t, err)
	h.processor.failNext("refund", errDeclined)

	res, err := h.orch.OnPaymentConfirmed(ctx, depositEvent(r, "evt_late"))
	require.NoError(t, err)
	assert.Equal(t, models.Money(0), res.Refunded)

	// The capture stays recorded for manual follow-up.
	paid, err := h.orch.AmountPaid(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(30000), paid)
}

func TestCallProcessor_UnclassifiedErrorsAreRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)
	reset := errors.New("connection reset by peer")
	h.processor.failNext("refund", reset, reset)

	out, err := h.orch.InitiateRefund(ctx, r.ID, 30000, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationRefunded, out.Reservation.Status)
	assert.Len(t, h.processor.refundCalls(), 3)
}

func TestCallProcessor_UnclassifiedErrorsExhaustAsTransient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.seed(t, models.ReservationAwaitingPayment)
	h.payDeposit(t, r)
	reset := errors.New("connection reset by peer")
	h.processor.failNext("refund", reset, reset, reset, reset)

	_, err := h.orch.InitiateRefund(ctx, r.ID, 30000, "")
	require.Error(t, err)
	assert.True(t, booking.IsTransient(err))
	assert.ErrorIs(t, err, reset)
	assert.Len(t, h.processor.refundCalls(), 4)
}
