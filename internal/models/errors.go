package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInsufficientInventory     = errors.New("insufficient inventory")
	ErrCurrencyMismatch          = errors.New("currency mismatch")
	ErrInvalidTransition         = errors.New("invalid booking transition")
	ErrHoldNotFound              = errors.New("inventory hold not found")
	ErrTicketNotFound            = errors.New("ticket not found")
	ErrAlreadyCheckedIn          = errors.New("ticket already checked in")
	ErrPaymentAdapterUnavailable = errors.New("payment adapter unavailable")

	ErrBookingNotFound      = errors.New("booking not found")
	ErrTicketTypeNotFound   = errors.New("ticket type not found")
	ErrTicketTypeOffSale    = errors.New("ticket type is not on sale")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrOrderLimitExceeded   = errors.New("order exceeds the per-order ticket limit")
	ErrInvalidDiscount      = errors.New("invalid discount")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	ErrEventNotFound        = errors.New("event not found")
	ErrNoPaymentSession     = errors.New("booking has no payment session")
)

// InsufficientInventoryError tells the buyer how far to reduce a line item.
type InsufficientInventoryError struct {
	TicketTypeID string
	Requested    int
	Available    int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for ticket type %s: requested %d, available %d",
		e.TicketTypeID, e.Requested, e.Available)
}

func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

type CurrencyMismatchError struct {
	Expected string
	Got      string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: order is in %s, line item is in %s", e.Expected, e.Got)
}

func (e *CurrencyMismatchError) Unwrap() error { return ErrCurrencyMismatch }

// AlreadyCheckedInError carries the original admission time so staff can
// settle disputes without another lookup.
type AlreadyCheckedInError struct {
	TicketID    string
	CheckedInAt time.Time
}

func (e *AlreadyCheckedInError) Error() string {
	return fmt.Sprintf("ticket %s already checked in at %s", e.TicketID, e.CheckedInAt.UTC().Format(time.RFC3339))
}

func (e *AlreadyCheckedInError) Unwrap() error { return ErrAlreadyCheckedIn }

type InvalidTransitionError struct {
	BookingID string
	From      BookingStatus
	To        BookingStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("booking %s cannot move from %s to %s", e.BookingID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// DiscountError explains why a code was refused.
type DiscountError struct {
	Code   string
	Reason string
}

func (e *DiscountError) Error() string {
	return fmt.Sprintf("discount %q rejected: %s", e.Code, e.Reason)
}

func (e *DiscountError) Unwrap() error { return ErrInvalidDiscount }
