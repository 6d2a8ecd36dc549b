package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingDraft          BookingStatus = "draft"
	BookingPendingPayment BookingStatus = "pending_payment"
	BookingConfirmed      BookingStatus = "confirmed"
	BookingCancelled      BookingStatus = "cancelled"
	BookingExpired        BookingStatus = "expired"
)

// Terminal reports whether no further transition is permitted.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingConfirmed, BookingCancelled, BookingExpired:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodNone   PaymentMethod = ""
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodUPI    PaymentMethod = "upi"
	PaymentMethodManual PaymentMethod = "manual"
)

type PaymentOutcome string

const (
	PaymentSuccess PaymentOutcome = "success"
	PaymentFailure PaymentOutcome = "failure"
	PaymentPending PaymentOutcome = "pending"
)

func (o PaymentOutcome) Valid() bool {
	return o == PaymentSuccess || o == PaymentFailure || o == PaymentPending
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID                 string          `bun:"id,pk" json:"id"`
	EventID            string          `bun:"event_id,notnull" json:"event_id"`
	BuyerEmail         string          `bun:"buyer_email,notnull" json:"buyer_email"`
	BuyerPhone         string          `bun:"buyer_phone" json:"buyer_phone,omitempty"`
	Status             BookingStatus   `bun:"status,notnull" json:"status"`
	PaymentMethod      PaymentMethod   `bun:"payment_method" json:"payment_method,omitempty"`
	PaymentSessionRef  string          `bun:"payment_session_ref" json:"payment_session_ref,omitempty"`
	PaymentRedirectURL string          `bun:"payment_redirect_url" json:"payment_redirect_url,omitempty"`
	DiscountCode       string          `bun:"discount_code" json:"discount_code,omitempty"`
	DiscountPercent    decimal.Decimal `bun:"discount_percent,type:numeric,notnull" json:"discount_percent"`
	Currency           string          `bun:"currency,notnull" json:"currency"`
	Subtotal           decimal.Decimal `bun:"subtotal,type:numeric,notnull" json:"subtotal"`
	Fees               decimal.Decimal `bun:"fees,type:numeric,notnull" json:"fees"`
	DiscountAmount     decimal.Decimal `bun:"discount_amount,type:numeric,notnull" json:"discount_amount"`
	Total              decimal.Decimal `bun:"total,type:numeric,notnull" json:"total"`
	CancelReason       string          `bun:"cancel_reason" json:"cancel_reason,omitempty"`
	HoldExpiresAt      time.Time       `bun:"hold_expires_at,nullzero" json:"hold_expires_at,omitempty"`
	CreatedAt          time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt          time.Time       `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
	ConfirmedAt        *time.Time      `bun:"confirmed_at" json:"confirmed_at,omitempty"`
	Attendees          []Attendee      `bun:"attendees,type:jsonb" json:"attendees,omitempty"`

	LineItems []LineItem `bun:"rel:has-many,join:id=booking_id" json:"line_items"`
	Tickets   []Ticket   `bun:"rel:has-many,join:id=booking_id" json:"tickets,omitempty"`
}

// Quantity is the number of admission units across all line items.
func (b Booking) Quantity() int {
	n := 0
	for _, li := range b.LineItems {
		n += li.Quantity
	}
	return n
}

type LineItem struct {
	bun.BaseModel `bun:"table:booking_line_items"`

	ID                int64           `bun:"id,pk,autoincrement" json:"-"`
	BookingID         string          `bun:"booking_id,notnull" json:"-"`
	TicketTypeID      string          `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	Quantity          int             `bun:"quantity,notnull" json:"quantity"`
	UnitPriceSnapshot decimal.Decimal `bun:"unit_price_snapshot,type:numeric,notnull" json:"unit_price_snapshot"`
}

type BuyerContact struct {
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty" validate:"omitempty,e164"`
}

type Attendee struct {
	TicketTypeID string `json:"ticket_type_id" validate:"required"`
	Name         string `json:"name"`
	Email        string `json:"email" validate:"omitempty,email"`
}

// CartSelection maps ticket type id to requested quantity for one checkout.
type CartSelection map[string]int

type CreateBookingRequest struct {
	EventID      string        `json:"event_id" validate:"required"`
	Cart         CartSelection `json:"cart" validate:"required,min=1,dive,keys,required,endkeys,min=0"`
	Buyer        BuyerContact  `json:"buyer"`
	DiscountCode string        `json:"discount_code,omitempty"`
	Attendees    []Attendee    `json:"attendees,omitempty" validate:"dive"`
}

type PaymentRequest struct {
	Method PaymentMethod `json:"method" validate:"required,oneof=stripe upi manual"`
}

type PaymentCallbackRequest struct {
	Outcome PaymentOutcome `json:"outcome" validate:"required,oneof=success failure pending"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// PaymentSessionResponse is what a buyer needs to complete payment.
type PaymentSessionResponse struct {
	BookingID   string        `json:"booking_id"`
	Method      PaymentMethod `json:"method"`
	SessionRef  string        `json:"session_ref"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	ClientToken string        `json:"client_token,omitempty"`
}
