package booking

import (
	"context"
	"errors"

	bookingRepo "lensbook/database/repository/booking"
	"lensbook/models"
)

// AvailabilityGuard claims provider slots. The storage-level partial unique
// index is the only source of truth: the guard never reads availability first,
// it inserts and interprets the constraint outcome.
type AvailabilityGuard struct{}

// ClaimSlot inserts res through store, normally inside the caller's
// transaction. A slot already held by an active reservation yields SlotConflict.
func (AvailabilityGuard) ClaimSlot(ctx context.Context, store bookingRepo.Store, res *models.Reservation) (models.SlotClaim, error) {
	slot := res.Slot()
	res.ServiceDateTime = slot.DateTime

	if err := store.InsertReservation(ctx, res); err != nil {
		switch {
		case errors.Is(err, bookingRepo.ErrDuplicateSlot):
			return models.SlotClaim{}, NewSlotConflict(slot)
		case errors.Is(err, bookingRepo.ErrDuplicateReservation):
			return models.SlotClaim{}, NewQuoteStateError(res.QuoteID, models.QuoteAccepted)
		}
		return models.SlotClaim{}, err
	}
	return models.SlotClaim{Slot: slot, ReservationID: res.ID}, nil
}
