package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingEvent is the payload published to Kafka on every booking transition.
type BookingEvent struct {
	Type       string          `json:"type"`
	BookingID  string          `json:"booking_id"`
	EventID    string          `json:"event_id"`
	Status     BookingStatus   `json:"status"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
	Quantity   int             `json:"quantity"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func NewBookingEvent(eventType string, b Booking, at time.Time) BookingEvent {
	return BookingEvent{
		Type:       eventType,
		BookingID:  b.ID,
		EventID:    b.EventID,
		Status:     b.Status,
		Total:      b.Total,
		Currency:   b.Currency,
		Quantity:   b.Quantity(),
		Reason:     b.CancelReason,
		OccurredAt: at,
	}
}

type TicketCheckedInEvent struct {
	TicketID     string    `json:"ticket_id"`
	BookingID    string    `json:"booking_id"`
	EventID      string    `json:"event_id"`
	TicketTypeID string    `json:"ticket_type_id"`
	CheckedInAt  time.Time `json:"checked_in_at"`
}
