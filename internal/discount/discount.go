package discount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
)

type Lookup interface {
	GetCode(ctx context.Context, code string) (*models.DiscountCode, error)
}

// Validator decides whether a buyer-supplied code applies to an order. The
// percentage always comes from the stored code, never from the request.
type Validator struct {
	Codes  Lookup
	Logger *logger.Logger
	now    func() time.Time
}

func NewValidator(codes Lookup, log *logger.Logger) *Validator {
	return &Validator{Codes: codes, Logger: log, now: time.Now}
}

// Resolve returns the discount percent for code on an order of subtotal for
// eventID. An empty code resolves to zero.
func (v *Validator) Resolve(ctx context.Context, code, eventID string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	code = Normalize(code)
	if code == "" {
		return decimal.Zero, nil
	}

	dc, err := v.Codes.GetCode(ctx, code)
	if errors.Is(err, ErrCodeNotFound) {
		return decimal.Zero, reject(code, "unknown code")
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load discount %s: %w", code, err)
	}

	if reason := check(dc, eventID, subtotal, v.now()); reason != "" {
		v.Logger.Info("DISCOUNT", fmt.Sprintf("Rejected %s for event %s: %s", code, eventID, reason))
		return decimal.Zero, reject(code, reason)
	}

	v.Logger.Debug("DISCOUNT", fmt.Sprintf("Applied %s (%s%%) to event %s", code, dc.Percent, eventID))
	return dc.Percent, nil
}

func check(dc *models.DiscountCode, eventID string, subtotal decimal.Decimal, now time.Time) string {
	if !dc.Active {
		return "code is not active"
	}
	if !dc.ActiveFrom.IsZero() && now.Before(dc.ActiveFrom) {
		return "code is not yet active"
	}
	if !dc.ExpiresAt.IsZero() && !now.Before(dc.ExpiresAt) {
		return "code has expired"
	}
	if dc.MaxUsage > 0 && dc.CurrentUsage >= dc.MaxUsage {
		return "usage limit has been reached"
	}
	if dc.EventID != "" && dc.EventID != eventID {
		return "code does not apply to this event"
	}
	if dc.MinSpend.IsPositive() && subtotal.LessThan(dc.MinSpend) {
		return fmt.Sprintf("order does not meet minimum spend of %s", dc.MinSpend.StringFixed(2))
	}
	if dc.Percent.IsNegative() || dc.Percent.GreaterThan(decimal.NewFromInt(100)) {
		return "code is misconfigured"
	}
	return ""
}

func reject(code, reason string) error {
	return &models.DiscountError{Code: code, Reason: reason}
}

// Normalize trims and upper-cases a code as entered by a buyer.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
