package payment

import (
	"context"
	"fmt"
	"sort"

	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
)

// SessionRequest is what a gateway needs to start collecting a payment.
type SessionRequest struct {
	BookingID   string
	EventID     string
	BuyerEmail  string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// Session is a provider-side payment attempt. RedirectURL is empty for
// providers that settle out of band.
type Session struct {
	Ref         string
	RedirectURL string
	ClientToken string
}

// Gateway is implemented once per payment provider.
type Gateway interface {
	Method() models.PaymentMethod
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	PollStatus(ctx context.Context, ref string) (models.PaymentOutcome, error)
	Verify(ctx context.Context, ref string) (models.PaymentOutcome, error)
}

// SessionCanceler is implemented by providers whose sessions stay payable
// until they are closed on the provider side.
type SessionCanceler interface {
	CancelSession(ctx context.Context, ref string) error
}

// Attested is implemented by providers that never report back. The buyer or
// desk staff state the outcome and it is taken as given.
type Attested interface {
	Attested() bool
}

// TakesReportedOutcome reports whether a posted outcome for g can be applied
// without asking the provider.
func TakesReportedOutcome(g Gateway) bool {
	a, ok := g.(Attested)
	return ok && a.Attested()
}

// Registry resolves a payment method to its gateway.
type Registry struct {
	gateways map[models.PaymentMethod]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[models.PaymentMethod]Gateway, len(gateways))}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

func (r *Registry) Register(g Gateway) {
	r.gateways[g.Method()] = g
}

func (r *Registry) Get(method models.PaymentMethod) (Gateway, error) {
	g, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownPaymentMethod, method)
	}
	return g, nil
}

// Methods lists the registered methods in a stable order.
func (r *Registry) Methods() []models.PaymentMethod {
	methods := make([]models.PaymentMethod, 0, len(r.gateways))
	for m := range r.gateways {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}
