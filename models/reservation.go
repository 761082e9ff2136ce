package models

import (
	"fmt"
	"time"
)

// ReservationStatus is a state of the booking state machine.
type ReservationStatus string

const (
	ReservationAwaitingPayment ReservationStatus = "awaiting_payment"
	ReservationDepositPaid     ReservationStatus = "deposit_paid"
	ReservationConfirmed       ReservationStatus = "confirmed"
	ReservationCompleted       ReservationStatus = "completed"
	ReservationCancelled       ReservationStatus = "cancelled"
	ReservationRefunded        ReservationStatus = "refunded"
)

// ActiveReservationStatuses are the states in which a reservation holds its slot.
var ActiveReservationStatuses = []ReservationStatus{
	ReservationAwaitingPayment,
	ReservationDepositPaid,
	ReservationConfirmed,
}

// IsActive reports whether a reservation in this state claims its slot.
func (s ReservationStatus) IsActive() bool {
	for _, a := range ActiveReservationStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationCompleted, ReservationCancelled, ReservationRefunded:
		return true
	}
	return false
}

// Reservation is a booked engagement carrying its payment schedule.
type Reservation struct {
	ID                 string            `bson:"id" json:"id" gorm:"primaryKey;size:64"`
	QuoteID            string            `bson:"quoteId,omitempty" json:"quoteId,omitempty" gorm:"size:64"`
	ProviderID         string            `bson:"providerId" json:"providerId" gorm:"size:64;index;not null"`
	ClientID           string            `bson:"clientId" json:"clientId" gorm:"size:64;index;not null"`
	ServiceDateTime    time.Time         `bson:"serviceDateTime" json:"serviceDateTime" gorm:"not null"`
	SlotWindow         int               `bson:"slotWindow" json:"slotWindow" gorm:"not null"`
	Total              Money             `bson:"total" json:"total" gorm:"not null"`
	DepositAmount      Money             `bson:"depositAmount" json:"depositAmount" gorm:"not null"`
	BalanceAmount      Money             `bson:"balanceAmount" json:"balanceAmount" gorm:"not null"`
	Currency           string            `bson:"currency" json:"currency" gorm:"size:8"`
	CancellationTier   PolicyTier        `bson:"cancellationTier" json:"cancellationTier" gorm:"size:16"`
	Status             ReservationStatus `bson:"status" json:"status" gorm:"size:24;index;not null"`
	CancellationReason string            `bson:"cancellationReason,omitempty" json:"cancellationReason,omitempty" gorm:"size:512"`
	CreatedAt          time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time         `bson:"updatedAt" json:"updatedAt"`
}

// Slot returns the (provider, date-time, window) tuple this reservation claims.
func (r *Reservation) Slot() Slot {
	return NewSlot(r.ProviderID, r.ServiceDateTime, r.SlotWindow)
}

// Slot is a provider's exclusively claimable unit of time.
type Slot struct {
	ProviderID    string    `json:"providerId"`
	DateTime      time.Time `json:"dateTime"`
	WindowMinutes int       `json:"windowMinutes"`
}

// NewSlot normalises the date-time to UTC minute precision so that equal slots
// compare equal in every storage backend.
func NewSlot(providerID string, at time.Time, windowMinutes int) Slot {
	return Slot{
		ProviderID:    providerID,
		DateTime:      NormalizeSlotTime(at),
		WindowMinutes: windowMinutes,
	}
}

// NormalizeSlotTime truncates t to the minute in UTC.
func NormalizeSlotTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

func (s Slot) String() string {
	return fmt.Sprintf("%s@%s/%dm", s.ProviderID, s.DateTime.Format(time.RFC3339), s.WindowMinutes)
}

// SlotClaim is the outcome of a successful slot claim.
type SlotClaim struct {
	Slot          Slot   `json:"slot"`
	ReservationID string `json:"reservationId"`
}
