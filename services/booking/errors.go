package booking

import (
	"errors"
	"fmt"

	"lensbook/models"
)

// ErrorCode is the stable, machine-readable kind of a booking error.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "validation_error"
	CodeNotFound          ErrorCode = "not_found"
	CodeQuoteState        ErrorCode = "quote_state_error"
	CodeSlotConflict      ErrorCode = "slot_conflict"
	CodeInvalidTransition ErrorCode = "invalid_transition"
	CodeIdempotency       ErrorCode = "idempotency_violation"
	CodeRefundExceedsPaid ErrorCode = "refund_exceeds_paid"
	CodeProcessor         ErrorCode = "payment_processor_error"
)

// Error is returned synchronously to callers; none of these kinds is retried.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrValidation        = &Error{Code: CodeValidation}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrQuoteState        = &Error{Code: CodeQuoteState}
	ErrSlotConflict      = &Error{Code: CodeSlotConflict}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition}
	ErrIdempotency       = &Error{Code: CodeIdempotency}
	ErrRefundExceedsPaid = &Error{Code: CodeRefundExceedsPaid}
)

func NewValidationError(format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotFound(kind, id string) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
}

func NewQuoteStateError(quoteID string, status models.QuoteStatus) error {
	return &Error{Code: CodeQuoteState, Message: fmt.Sprintf("quote %s is %s, not pending", quoteID, status)}
}

func NewSlotConflict(slot models.Slot) error {
	return &Error{Code: CodeSlotConflict, Message: fmt.Sprintf("slot %s is already claimed", slot)}
}

func NewInvalidTransition(from, to models.ReservationStatus) error {
	return &Error{Code: CodeInvalidTransition, Message: fmt.Sprintf("cannot move reservation from %s to %s", from, to)}
}

func NewIdempotencyViolation(format string, args ...any) error {
	return &Error{Code: CodeIdempotency, Message: fmt.Sprintf(format, args...)}
}

func NewRefundExceedsPaid(requested, paid models.Money) error {
	return &Error{Code: CodeRefundExceedsPaid, Message: fmt.Sprintf("refund %s exceeds collected %s", requested, paid)}
}

// ProcessorErrorKind separates retryable processor failures from business rejections.
type ProcessorErrorKind string

const (
	ProcessorTransient ProcessorErrorKind = "transient"
	ProcessorPermanent ProcessorErrorKind = "permanent"
)

// ProcessorError wraps a failed call to the external payment processor.
type ProcessorError struct {
	Kind ProcessorErrorKind
	Op   string
	Err  error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("%s: %s %s failed: %v", CodeProcessor, e.Kind, e.Op, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// Transient reports whether retrying the call may succeed.
func (e *ProcessorError) Transient() bool { return e.Kind == ProcessorTransient }

func NewTransientProcessorError(op string, err error) error {
	return &ProcessorError{Kind: ProcessorTransient, Op: op, Err: err}
}

func NewPermanentProcessorError(op string, err error) error {
	return &ProcessorError{Kind: ProcessorPermanent, Op: op, Err: err}
}

// IsTransient reports whether err is a retryable processor failure.
func IsTransient(err error) bool {
	var pe *ProcessorError
	return errors.As(err, &pe) && pe.Transient()
}

// Code extracts the error code of err, or "" when err is not a booking error.
func Code(err error) ErrorCode {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	var pe *ProcessorError
	if errors.As(err, &pe) {
		return CodeProcessor
	}
	return ""
}
