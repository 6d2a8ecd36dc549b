package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// TicketType is a purchasable category for an event. Rows are never deleted
// once anything was sold; OnSale=false soft-disables them.
type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID            string          `bun:"id,pk" json:"id"`
	EventID       string          `bun:"event_id,notnull" json:"event_id"`
	Name          string          `bun:"name,notnull" json:"name"`
	Description   string          `bun:"description" json:"description,omitempty"`
	UnitPrice     decimal.Decimal `bun:"unit_price,type:numeric,notnull" json:"unit_price"`
	Currency      string          `bun:"currency,notnull" json:"currency"`
	TotalQuantity *int            `bun:"total_quantity" json:"total_quantity"`
	QuantitySold  int             `bun:"quantity_sold,notnull" json:"quantity_sold"`
	QuantityHeld  int             `bun:"quantity_held,notnull" json:"quantity_held"`
	OnSale        bool            `bun:"on_sale,notnull" json:"on_sale"`
	CreatedAt     time.Time       `bun:"created_at,notnull" json:"created_at"`
}

// Unlimited reports whether the type has no quantity cap.
func (t TicketType) Unlimited() bool {
	return t.TotalQuantity == nil
}

// Remaining returns the unreserved quantity, or nil for unlimited types.
func (t TicketType) Remaining() *int {
	if t.TotalQuantity == nil {
		return nil
	}
	left := *t.TotalQuantity - t.QuantitySold - t.QuantityHeld
	if left < 0 {
		left = 0
	}
	return &left
}

// Availability is a consistent snapshot of a ticket type's counters.
type Availability struct {
	TicketTypeID string `json:"ticket_type_id"`
	Total        *int   `json:"total"`
	Sold         int    `json:"sold"`
	Held         int    `json:"held"`
	Remaining    *int   `json:"remaining"`
	OnSale       bool   `json:"on_sale"`
}

type CreateTicketTypeRequest struct {
	EventID       string          `json:"event_id" validate:"required"`
	Name          string          `json:"name" validate:"required"`
	Description   string          `json:"description"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	TotalQuantity *int            `json:"total_quantity" validate:"omitempty,min=0"`
	OnSale        *bool           `json:"on_sale"`
}
