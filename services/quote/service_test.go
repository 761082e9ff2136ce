package quote_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookingRepo "lensbook/database/repository/booking"
	"lensbook/database/repository/booking/repotest"
	"lensbook/models"
	"lensbook/services/booking"
	"lensbook/services/events"
	"lensbook/services/payment"
	"lensbook/services/quote"
)

type defaultSplitter struct{}

func (defaultSplitter) ComputeSplit(total models.Money) (payment.Split, error) {
	return payment.ComputeSplit(total, payment.DefaultSplitRates)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   *quote.DefaultQuoteService
	repo  *bookingRepo.GormRepo
	bus   *events.MemoryPublisher
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  repotest.New(t),
		bus:   &events.MemoryPublisher{},
		clock: &clock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
	svc, err := quote.NewDefaultQuoteService(f.repo, defaultSplitter{}, f.bus, nil, nil, "usd")
	require.NoError(t, err)
	svc.Now = f.clock.Now
	f.svc = svc
	return f
}

func (f *fixture) input(provider string, at time.Time) quote.CreateQuoteInput {
	return quote.CreateQuoteInput{
		DemandID:   "demand-1",
		ProviderID: provider,
		ClientID:   "client-1",
		LineItems: models.LineItems{
			{Kind: models.LineItemBaseRate, Label: "Wedding coverage", UnitAmount: 80000, Quantity: 1},
			{Kind: models.LineItemOption, Label: "Second shooter", UnitAmount: 15000, Quantity: 1},
			{Kind: models.LineItemTravelFee, Label: "Travel", UnitAmount: 2500, Quantity: 2},
		},
		ServiceDateTime:  at,
		SlotWindow:       240,
		CancellationTier: models.PolicyModerate,
	}
}

func (f *fixture) serviceAt() time.Time {
	return f.clock.Now().Add(45 * 24 * time.Hour)
}

func TestCreateQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.svc.CreateQuote(ctx, f.input("prov-1", f.serviceAt().Add(30*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, models.QuotePending, q.Status)
	assert.Equal(t, models.Money(100000), q.Total)
	assert.Equal(t, "usd", q.Currency)
	assert.Equal(t, f.clock.Now().Add(72*time.Hour), q.ValidUntil)
	assert.Zero(t, q.ServiceDateTime.Second())

	stored, err := f.svc.GetQuote(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.Total, stored.Total)
	assert.Len(t, stored.LineItems, 3)
}

func TestCreateQuote_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(in *quote.CreateQuoteInput)
	}{
		{"no provider", func(in *quote.CreateQuoteInput) { in.ProviderID = "" }},
		{"no line items", func(in *quote.CreateQuoteInput) { in.LineItems = nil }},
		{"no base rate", func(in *quote.CreateQuoteInput) { in.LineItems = in.LineItems[1:] }},
		{"unknown kind", func(in *quote.CreateQuoteInput) { in.LineItems[0].Kind = "discount" }},
		{"negative amount", func(in *quote.CreateQuoteInput) { in.LineItems[1].UnitAmount = -1 }},
		{"zero quantity", func(in *quote.CreateQuoteInput) { in.LineItems[0].Quantity = 0 }},
		{"zero total", func(in *quote.CreateQuoteInput) {
			in.LineItems = models.LineItems{{Kind: models.LineItemBaseRate, UnitAmount: 0, Quantity: 1}}
		}},
		{"total wraps around", func(in *quote.CreateQuoteInput) {
			in.LineItems = models.LineItems{
				{Kind: models.LineItemBaseRate, UnitAmount: 10000, Quantity: 1},
				{Kind: models.LineItemOption, UnitAmount: 1 << 62, Quantity: 4},
			}
		}},
		{"total above the cap", func(in *quote.CreateQuoteInput) {
			in.LineItems[1].UnitAmount = models.MaxQuoteAmount
		}},
		{"no date", func(in *quote.CreateQuoteInput) { in.ServiceDateTime = time.Time{} }},
		{"no window", func(in *quote.CreateQuoteInput) { in.SlotWindow = 0 }},
		{"unknown tier", func(in *quote.CreateQuoteInput) { in.CancellationTier = "lenient" }},
		{"validity in the past", func(in *quote.CreateQuoteInput) { in.ValidUntil = f.clock.Now().Add(-time.Minute) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := f.input("prov-1", f.serviceAt())
			tc.mutate(&in)
			_, err := f.svc.CreateQuote(ctx, in)
			assert.ErrorIs(t, err, booking.ErrValidation)
		})
	}
}

func TestReviseQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.svc.CreateQuote(ctx, f.input("prov-1", f.serviceAt()))
	require.NoError(t, err)

	window := 180
	revised, err := f.svc.ReviseQuote(ctx, q.ID, quote.ReviseQuoteInput{
		LineItems:  models.LineItems{{Kind: models.LineItemBaseRate, UnitAmount: 60000, Quantity: 1}},
		SlotWindow: &window,
	})
	require.NoError(t, err)
	assert.Equal(t, models.Money(60000), revised.Total)
	assert.Equal(t, 180, revised.SlotWindow)

	bad := models.LineItems{{Kind: models.LineItemOption, UnitAmount: 100, Quantity: 1}}
	_, err = f.svc.ReviseQuote(ctx, q.ID, quote.ReviseQuoteInput{LineItems: bad})
	assert.ErrorIs(t, err, booking.ErrValidation)

	_, err = f.svc.RejectQuote(ctx, q.ID)
	require.NoError(t, err)
	_, err = f.svc.ReviseQuote(ctx, q.ID, quote.ReviseQuoteInput{SlotWindow: &window})
	assert.ErrorIs(t, err, booking.ErrQuoteState)
}

func TestRejectAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateQuote(ctx, f.input("prov-1", f.serviceAt()))
	require.NoError(t, err)
	b, err := f.svc.CreateQuote(ctx, f.input("prov-2", f.serviceAt()))
	require.NoError(t, err)

	rejected, err := f.svc.RejectQuote(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteRejected, rejected.Status)

	cancelled, err := f.svc.CancelQuote(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteCancelled, cancelled.Status)

	_, err = f.svc.CancelQuote(ctx, a.ID)
	assert.ErrorIs(t, err, booking.ErrQuoteState)
	_, err = f.svc.AcceptQuote(ctx, a.ID)
	assert.ErrorIs(t, err, booking.ErrQuoteState)

	_, err = f.svc.RejectQuote(ctx, "missing")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestLazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.svc.CreateQuote(ctx, f.input("prov-1", f.serviceAt()))
	require.NoError(t, err)

	f.clock.advance(72 * time.Hour)

	got, err := f.svc.GetQuote(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteExpired, got.Status)

	stored, err := f.repo.GetQuote(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteExpired, stored.Status)

	pending, err := f.svc.ListQuotes(ctx, bookingRepo.QuoteFilter{Status: models.QuotePending})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestListQuotes_ExpiredFilterSeesLapsedPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.svc.CreateQuote(ctx, f.input("prov-1", f.serviceAt()))
	require.NoError(t, err)
	later := f.input("prov-2", f.serviceAt())
	later.ValidUntil = f.clock.Now().Add(10 * 24 * time.Hour)
	_, err = f.svc.CreateQuote(ctx, later)
	require.NoError(t, err)

	f.clock.advance(73 * time.Hour)

	stored, err := f.repo.GetQuote(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, models.QuotePending, stored.Status)

	expired, err := f.svc.ListQuotes(ctx, bookingRepo.QuoteFilter{Status: models.QuoteExpired})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, q.ID, expired[0].ID)
	assert.Equal(t, models.QuoteExpired, expired[0].Status)
}

func TestAcceptQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.svc.CreateQuote(ctx, f.input("prov-1", f.serviceAt()))
	require.NoError(t, err)

	r, err := f.svc.AcceptQuote(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationAwaitingPayment, r.Status)
	assert.Equal(t, q.ID, r.QuoteID)
	assert.Equal(t, models.Money(100000), r.Total)
	assert.Equal(t, models.Money(30000), r.DepositAmount)
	assert.Equal(t, models.Money(70000), r.BalanceAmount)
	assert.Equal(t, r.Total, r.DepositAmount+r.BalanceAmount)
	assert.Equal(t, models.PolicyModerate, r.CancellationTier)

	accepted, err := f.svc.GetQuote(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteAccepted, accepted.Status)
	assert.Equal(t, []string{events.EventReservationCreated}, f.bus.Types())

	_, err = f.svc.AcceptQuote(ctx, q.ID)
	assert.ErrorIs(t, err, booking.ErrQuoteState)
}

func TestAcceptQuote_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.svc.CreateQuote(ctx, f.input("prov-1", f.serviceAt()))
	require.NoError(t, err)

	f.clock.advance(73 * time.Hour)
	_, err = f.svc.AcceptQuote(ctx, q.ID)
	assert.ErrorIs(t, err, booking.ErrValidation)

	stored, err := f.repo.GetQuote(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuoteExpired, stored.Status)
	reservations, err := f.repo.ListReservations(ctx, bookingRepo.ReservationFilter{})
	require.NoError(t, err)
	assert.Empty(t, reservations)
}

func TestAcceptQuote_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := f.serviceAt()

	first, err := f.svc.CreateQuote(ctx, f.input("prov-1", at))
	require.NoError(t, err)
	secondIn := f.input("prov-1", at)
	secondIn.ClientID = "client-2"
	secondIn.DemandID = "demand-2"
	second, err := f.svc.CreateQuote(ctx, secondIn)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     []string
		lost    []string
		unknown []error
	)
	for _, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.AcceptQuote(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won = append(won, id)
			case booking.Code(err) == booking.CodeSlotConflict:
				lost = append(lost, id)
			default:
				unknown = append(unknown, err)
			}
		}(id)
	}
	wg.Wait()

	require.Empty(t, unknown)
	require.Len(t, won, 1)
	require.Len(t, lost, 1)

	reservations, err := f.repo.ListReservations(ctx, bookingRepo.ReservationFilter{ProviderID: "prov-1"})
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, won[0], reservations[0].QuoteID)

	loser, err := f.repo.GetQuote(ctx, lost[0])
	require.NoError(t, err)
	assert.Equal(t, models.QuotePending, loser.Status)
}

func TestAcceptQuote_SiblingQuotesStayPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateQuote(ctx, f.input("prov-1", f.serviceAt()))
	require.NoError(t, err)
	b, err := f.svc.CreateQuote(ctx, f.input("prov-2", f.serviceAt()))
	require.NoError(t, err)

	_, err = f.svc.AcceptQuote(ctx, a.ID)
	require.NoError(t, err)

	sibling, err := f.svc.GetQuote(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuotePending, sibling.Status)
}

func TestAcceptQuote_SlotFreedByCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := f.serviceAt()

	a, err := f.svc.CreateQuote(ctx, f.input("prov-1", at))
	require.NoError(t, err)
	r, err := f.svc.AcceptQuote(ctx, a.ID)
	require.NoError(t, err)

	b, err := f.svc.CreateQuote(ctx, f.input("prov-1", at))
	require.NoError(t, err)
	_, err = f.svc.AcceptQuote(ctx, b.ID)
	require.ErrorIs(t, err, booking.ErrSlotConflict)

	r.Status = models.ReservationCancelled
	require.NoError(t, f.repo.TransitionReservation(ctx, r, models.ReservationAwaitingPayment))

	_, err = f.svc.AcceptQuote(ctx, b.ID)
	assert.NoError(t, err)
}
