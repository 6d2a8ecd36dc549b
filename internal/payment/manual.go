package payment

import (
	"context"

	"ms-booking/internal/models"

	"github.com/lithammer/shortuuid/v3"
)

// ManualGateway covers cash and desk payments. Staff settle the booking
// through the payment callback; polling always reports pending.
type ManualGateway struct{}

func (ManualGateway) Method() models.PaymentMethod { return models.PaymentMethodManual }

func (ManualGateway) CreateSession(_ context.Context, req SessionRequest) (*Session, error) {
	return &Session{Ref: "manual_" + req.BookingID + "_" + shortuuid.New()[:8]}, nil
}

func (ManualGateway) Attested() bool { return true }

func (ManualGateway) PollStatus(context.Context, string) (models.PaymentOutcome, error) {
	return models.PaymentPending, nil
}

func (g ManualGateway) Verify(ctx context.Context, ref string) (models.PaymentOutcome, error) {
	return g.PollStatus(ctx, ref)
}
