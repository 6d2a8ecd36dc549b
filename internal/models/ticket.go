package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket is one admission unit. Minted when its booking is confirmed.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID               string     `bun:"id,pk" json:"id"`
	BookingID        string     `bun:"booking_id,notnull" json:"booking_id"`
	EventID          string     `bun:"event_id,notnull" json:"event_id"`
	TicketTypeID     string     `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	AttendeeName     string     `bun:"attendee_name" json:"attendee_name,omitempty"`
	AttendeeEmail    string     `bun:"attendee_email" json:"attendee_email,omitempty"`
	VerificationCode string     `bun:"verification_code,notnull" json:"verification_code"`
	IsCheckedIn      bool       `bun:"is_checked_in,notnull" json:"is_checked_in"`
	CheckInTime      *time.Time `bun:"check_in_time" json:"check_in_time,omitempty"`
	IssuedAt         time.Time  `bun:"issued_at,notnull" json:"issued_at"`
}

type CheckInStats struct {
	EventID   string `json:"event_id"`
	Total     int    `json:"total"`
	CheckedIn int    `json:"checked_in"`
	Remaining int    `json:"remaining"`
}

type VerifyTicketRequest struct {
	EventID string `json:"event_id" validate:"required"`
	Code    string `json:"code" validate:"required"`
}

type VerifyTicketResponse struct {
	Ticket      Ticket     `json:"ticket"`
	IsCheckedIn bool       `json:"is_checked_in"`
	CheckInTime *time.Time `json:"check_in_time,omitempty"`
}
