package bookingRepo

import (
	"context"
	"errors"

	"lensbook/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateSlot is returned when an insert collides with another active
	// reservation on the same (provider, date-time, window) tuple.
	ErrDuplicateSlot = errors.New("slot already claimed by an active reservation")
	// ErrDuplicateReservation is returned when a quote already owns a reservation.
	ErrDuplicateReservation = errors.New("quote already has a reservation")
	// ErrDuplicateEvent is returned when a ledger entry with the same external event id exists.
	ErrDuplicateEvent = errors.New("external event already recorded")
	// ErrStaleStatus is returned by compare-and-set updates whose expected status no longer holds.
	ErrStaleStatus = errors.New("status changed concurrently")
)

// QuoteFilter narrows ListQuotes. Empty fields are ignored.
type QuoteFilter struct {
	ProviderID string
	ClientID   string
	DemandID   string
	Status     models.QuoteStatus
}

// ReservationFilter narrows ListReservations. Empty fields are ignored.
type ReservationFilter struct {
	ProviderID string
	ClientID   string
	Status     models.ReservationStatus
}

// Store holds every data operation of the booking core. The same methods are
// available inside WithTransaction, where they share one atomic write.
type Store interface {
	CreateQuote(ctx context.Context, q *models.Quote) error
	GetQuote(ctx context.Context, id string) (*models.Quote, error)
	ListQuotes(ctx context.Context, f QuoteFilter) ([]models.Quote, error)
	// UpdateQuote replaces q only while the stored status still equals expected.
	UpdateQuote(ctx context.Context, q *models.Quote, expected models.QuoteStatus) error

	// InsertReservation relies on the storage-level partial unique index over
	// active reservations; a collision yields ErrDuplicateSlot.
	InsertReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]models.Reservation, error)
	// TransitionReservation persists r.Status, r.CancellationReason and
	// r.UpdatedAt only while the stored status still equals from.
	TransitionReservation(ctx context.Context, r *models.Reservation, from models.ReservationStatus) error

	AppendTransaction(ctx context.Context, t *models.Transaction) error
	FindTransactionByEvent(ctx context.Context, externalEventID string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, reservationID string) ([]models.Transaction, error)
	SumByReservation(ctx context.Context, reservationID string) (models.Money, error)
	HasEvent(ctx context.Context, externalEventID string) (bool, error)
}

// Repository is a Store that can open transactions and prepare its schema.
type Repository interface {
	Store
	// WithTransaction runs fn inside a single atomic write. Any error returned
	// by fn aborts every write fn made through tx.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	EnsureIndexes(ctx context.Context) error
}
