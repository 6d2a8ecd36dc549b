package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"ms-booking/internal/models"

	"github.com/lithammer/shortuuid/v3"
)

// UPIGateway hands the buyer a UPI deep link. There is no provider callback,
// so the booking stays pending until the buyer confirms "I've paid" and the
// payment callback records the outcome.
type UPIGateway struct {
	PayeeVPA  string
	PayeeName string
}

func NewUPIGateway(vpa, name string) *UPIGateway {
	return &UPIGateway{PayeeVPA: vpa, PayeeName: name}
}

func (g *UPIGateway) Method() models.PaymentMethod { return models.PaymentMethodUPI }

func (g *UPIGateway) CreateSession(_ context.Context, req SessionRequest) (*Session, error) {
	if g.PayeeVPA == "" {
		return nil, errors.New("upi payee vpa is not configured")
	}
	if cur := strings.ToUpper(req.Currency); cur != "INR" {
		return nil, fmt.Errorf("upi only settles INR, booking is in %s", cur)
	}

	ref := "upi_" + shortuuid.New()
	return &Session{Ref: ref, RedirectURL: g.DeepLink(req)}, nil
}

// DeepLink builds upi://pay?pa=..&pn=..&am=..&cu=INR&tr=..
func (g *UPIGateway) DeepLink(req SessionRequest) string {
	var b strings.Builder
	b.WriteString("upi://pay?pa=")
	b.WriteString(url.QueryEscape(g.PayeeVPA))
	b.WriteString("&pn=")
	b.WriteString(url.QueryEscape(g.PayeeName))
	b.WriteString("&am=")
	b.WriteString(req.Amount.StringFixed(2))
	b.WriteString("&cu=INR&tr=")
	b.WriteString(url.QueryEscape(req.BookingID))
	if req.Description != "" {
		b.WriteString("&tn=")
		b.WriteString(url.QueryEscape(req.Description))
	}
	return b.String()
}

// Attested is true: only the buyer knows the transfer went through.
func (g *UPIGateway) Attested() bool { return true }

func (g *UPIGateway) PollStatus(context.Context, string) (models.PaymentOutcome, error) {
	return models.PaymentPending, nil
}

func (g *UPIGateway) Verify(ctx context.Context, ref string) (models.PaymentOutcome, error) {
	return g.PollStatus(ctx, ref)
}
