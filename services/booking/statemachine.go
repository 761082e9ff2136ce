package booking

import "lensbook/models"

// Trigger is a domain event that advances a reservation.
type Trigger string

const (
	TriggerDepositCaptured  Trigger = "deposit_captured"
	TriggerServiceDelivered Trigger = "service_delivered"
	TriggerBalanceCaptured  Trigger = "balance_captured"
	TriggerCancel           Trigger = "cancel"
	TriggerRefund           Trigger = "refund"
)

var triggerTargets = map[Trigger]models.ReservationStatus{
	TriggerDepositCaptured:  models.ReservationDepositPaid,
	TriggerServiceDelivered: models.ReservationConfirmed,
	TriggerBalanceCaptured:  models.ReservationCompleted,
	TriggerCancel:           models.ReservationCancelled,
	TriggerRefund:           models.ReservationRefunded,
}

var validNext = map[models.ReservationStatus]map[models.ReservationStatus]bool{
	models.ReservationAwaitingPayment: {
		models.ReservationDepositPaid: true,
		models.ReservationCancelled:   true,
		models.ReservationRefunded:    true,
	},
	models.ReservationDepositPaid: {
		models.ReservationConfirmed: true,
		models.ReservationCancelled: true,
		models.ReservationRefunded:  true,
	},
	models.ReservationConfirmed: {
		models.ReservationCompleted: true,
		models.ReservationCancelled: true,
		models.ReservationRefunded:  true,
	},
	models.ReservationCompleted: {},
	models.ReservationCancelled: {},
	models.ReservationRefunded:  {},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to models.ReservationStatus) bool {
	return validNext[from][to]
}

// Transition validates from → to and returns to, or an InvalidTransition error.
func Transition(from, to models.ReservationStatus) (models.ReservationStatus, error) {
	if !CanTransition(from, to) {
		return from, NewInvalidTransition(from, to)
	}
	return to, nil
}

// Next resolves the state a trigger leads to from current.
func Next(current models.ReservationStatus, t Trigger) (models.ReservationStatus, error) {
	to, ok := triggerTargets[t]
	if !ok {
		return current, NewValidationError("unknown trigger %q", t)
	}
	return Transition(current, to)
}
