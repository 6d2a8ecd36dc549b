package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DiscountCode is a server-side percentage coupon. An empty EventID applies
// to every event.
type DiscountCode struct {
	bun.BaseModel `bun:"table:discount_codes"`

	Code         string          `bun:"code,pk" json:"code"`
	EventID      string          `bun:"event_id" json:"event_id,omitempty"`
	Percent      decimal.Decimal `bun:"percent,type:numeric,notnull" json:"percent"`
	Active       bool            `bun:"active,notnull" json:"active"`
	ActiveFrom   time.Time       `bun:"active_from,nullzero" json:"active_from,omitempty"`
	ExpiresAt    time.Time       `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	MaxUsage     int             `bun:"max_usage,notnull" json:"max_usage"`
	CurrentUsage int             `bun:"current_usage,notnull" json:"current_usage"`
	MinSpend     decimal.Decimal `bun:"min_spend,type:numeric,notnull" json:"min_spend"`
}
