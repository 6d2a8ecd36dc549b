package pricing

import (
	"strings"

	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Line is one priced line item of a cart.
type Line struct {
	TicketTypeID string
	UnitPrice    decimal.Decimal
	Currency     string
	Quantity     int
}

// LineTotal is a line item with its extended amount.
type LineTotal struct {
	TicketTypeID string          `json:"ticket_type_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Amount       decimal.Decimal `json:"amount"`
}

// Summary is the computed order summary for a cart.
type Summary struct {
	Currency       string          `json:"currency"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Fees           decimal.Decimal `json:"fees"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	Lines          []LineTotal     `json:"lines"`
}

// Free reports whether the order skips payment.
func (s Summary) Free() bool {
	return s.Total.IsZero()
}

// Engine prices carts. It holds no state beyond its fee policy and is safe
// for concurrent use.
type Engine struct {
	FeeRate    decimal.Decimal
	MinimumFee decimal.Decimal
}

// NewEngine uses feeRate as given; a zero rate charges no percentage fee.
func NewEngine(feeRate, minimumFee decimal.Decimal) *Engine {
	return &Engine{FeeRate: feeRate, MinimumFee: minimumFee}
}

// Quote computes subtotal, fees, discount and total for lines. The result is
// a pure function of its inputs.
func (e *Engine) Quote(lines []Line, discountPercent decimal.Decimal) (Summary, error) {
	if discountPercent.IsNegative() || discountPercent.GreaterThan(hundred) {
		return Summary{}, &models.DiscountError{Reason: "percent must be between 0 and 100"}
	}

	var currency string
	subtotal := decimal.Zero
	totals := make([]LineTotal, 0, len(lines))

	for _, l := range lines {
		cur := strings.ToUpper(l.Currency)
		if currency == "" {
			currency = cur
		} else if cur != currency {
			return Summary{}, &models.CurrencyMismatchError{Expected: currency, Got: cur}
		}

		amount := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		subtotal = subtotal.Add(amount)
		totals = append(totals, LineTotal{
			TicketTypeID: l.TicketTypeID,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			Amount:       amount,
		})
	}

	places := MinorUnits(currency)

	fees := decimal.Zero
	if !subtotal.IsZero() {
		fees = decimal.Max(subtotal.Mul(e.FeeRate), e.MinimumFee).Round(places)
	}

	discount := subtotal.Mul(discountPercent).Div(hundred).Round(places)

	total := subtotal.Add(fees).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Summary{
		Currency:       currency,
		Subtotal:       subtotal,
		Fees:           fees,
		DiscountAmount: discount,
		Total:          total.Round(places),
		Lines:          totals,
	}, nil
}

// MinorUnits returns the number of decimal places of a currency's minor unit.
func MinorUnits(currency string) int32 {
	switch strings.ToUpper(currency) {
	case "JPY", "KRW", "VND", "CLP", "ISK":
		return 0
	case "KWD", "BHD", "OMR", "JOD", "TND":
		return 3
	default:
		return 2
	}
}

// ToMinor converts an amount to integer minor units, as payment providers
// expect.
func ToMinor(amount decimal.Decimal, currency string) int64 {
	places := MinorUnits(currency)
	return amount.Shift(places).Round(0).IntPart()
}
