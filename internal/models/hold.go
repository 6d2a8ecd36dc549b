package models

import (
	"time"

	"github.com/uptrace/bun"
)

// InventoryHold is a time-limited reservation of ticket inventory. The ID is
// the hold token handed back to callers.
type InventoryHold struct {
	bun.BaseModel `bun:"table:inventory_holds"`

	ID           string    `bun:"id,pk" json:"id"`
	TicketTypeID string    `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	BookingID    string    `bun:"booking_id,notnull" json:"booking_id"`
	Quantity     int       `bun:"quantity,notnull" json:"quantity"`
	ExpiresAt    time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
}

func (h InventoryHold) Expired(now time.Time) bool {
	return h.ExpiresAt.Before(now)
}
