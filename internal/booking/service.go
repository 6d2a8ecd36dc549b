package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingkafka "ms-booking/internal/booking/kafka"
	"ms-booking/internal/discount"
	"ms-booking/internal/inventory"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"
	"ms-booking/internal/payment"
	"ms-booking/internal/pricing"
	"ms-booking/internal/utils"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity   = errors.New("ticket quantities must not be negative")
	ErrInvalidAttendees  = errors.New("attendees do not match the cart")
	ErrInvalidOutcome    = errors.New("unknown payment outcome")
	ErrPaymentInProgress = errors.New("a payment session for this booking is being created")
)

type DBLayer interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	CreateConfirmedBooking(ctx context.Context, b *models.Booking, tickets []models.Ticket, now time.Time) error
	GetBookingByID(ctx context.Context, id string) (*models.Booking, error)
	SetPaymentSession(ctx context.Context, id string, method models.PaymentMethod, ref, redirectURL string, now time.Time) error
	ConfirmBooking(ctx context.Context, b *models.Booking, tickets []models.Ticket, now time.Time) error
	CloseBooking(ctx context.Context, id string, to models.BookingStatus, reason string, now time.Time) ([]models.InventoryHold, error)
	ListOverduePending(ctx context.Context, now time.Time, limit int) ([]string, error)
	FindBySessionRef(ctx context.Context, ref string) (string, error)
}

type Inventory interface {
	HoldCart(ctx context.Context, cart models.CartSelection, bookingID string, ttl time.Duration) ([]string, error)
	ReleaseForBooking(ctx context.Context, bookingID string) (int, error)
	TicketTypes(ctx context.Context, ids []string) (map[string]models.TicketType, error)
	ExpireStale(ctx context.Context) ([]models.InventoryHold, error)
}

type DiscountResolver interface {
	Resolve(ctx context.Context, code, eventID string, subtotal decimal.Decimal) (decimal.Decimal, error)
}

// RedisLock guards payment-session creation per booking and keeps the
// expiry marker of pending bookings.
type RedisLock interface {
	LockPayment(ctx context.Context, bookingID string) (string, error)
	UnlockPayment(ctx context.Context, bookingID, token string) error
	MarkHold(ctx context.Context, bookingID string, ttl time.Duration) error
	ClearHold(ctx context.Context, bookingID string) error
}

type KafkaPublisher interface {
	PublishBookingEvent(ctx context.Context, ev models.BookingEvent) error
}

type EventCatalog interface {
	Enabled() bool
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
}

type BookingService struct {
	DB        DBLayer
	Inventory Inventory
	Pricing   *pricing.Engine
	Discounts DiscountResolver
	Payments  *payment.Registry
	Redis     RedisLock
	Kafka     KafkaPublisher
	Catalog   EventCatalog
	Logger    *logger.Logger

	HoldTTL            time.Duration
	MaxTicketsPerOrder int

	now func() time.Time
}

type Option func(*BookingService)

func WithClock(now func() time.Time) Option {
	return func(s *BookingService) { s.now = now }
}

func WithHoldTTL(d time.Duration) Option {
	return func(s *BookingService) { s.HoldTTL = d }
}

func WithMaxTicketsPerOrder(n int) Option {
	return func(s *BookingService) { s.MaxTicketsPerOrder = n }
}

func WithCatalog(c EventCatalog) Option {
	return func(s *BookingService) { s.Catalog = c }
}

func NewBookingService(
	db DBLayer,
	inv Inventory,
	engine *pricing.Engine,
	discounts DiscountResolver,
	payments *payment.Registry,
	redis RedisLock,
	kafka KafkaPublisher,
	log *logger.Logger,
	opts ...Option,
) *BookingService {
	s := &BookingService{
		DB:                 db,
		Inventory:          inv,
		Pricing:            engine,
		Discounts:          discounts,
		Payments:           payments,
		Redis:              redis,
		Kafka:              kafka,
		Logger:             log,
		HoldTTL:            10 * time.Minute,
		MaxTicketsPerOrder: 10,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRequest is one checkout attempt.
type StartRequest struct {
	EventID      string
	Cart         models.CartSelection
	Buyer        models.BuyerContact
	DiscountCode string
	Attendees    []models.Attendee
}

// ---------------- START ----------------

// Start holds inventory for the cart, prices it and persists the booking.
// Free orders are confirmed immediately. Nothing is persisted and no hold
// survives when any step fails.
func (s *BookingService) Start(ctx context.Context, req StartRequest) (*models.Booking, error) {
	cart, err := s.validateCart(req.Cart)
	if err != nil {
		return nil, err
	}

	if s.Catalog != nil && s.Catalog.Enabled() {
		if _, err := s.Catalog.GetEvent(ctx, req.EventID); err != nil {
			if errors.Is(err, models.ErrEventNotFound) {
				return nil, err
			}
			s.Logger.Warn("BOOKING", fmt.Sprintf("Event catalog unavailable, accepting event %s: %v", req.EventID, err))
		}
	}

	ids := inventory.SortedIDs(cart)
	types, err := s.Inventory.TicketTypes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if types[id].EventID != req.EventID {
			return nil, fmt.Errorf("%w: %s is not sold for event %s", models.ErrTicketTypeNotFound, id, req.EventID)
		}
	}
	if err := validateAttendees(req.Attendees, cart); err != nil {
		return nil, err
	}

	bookingID := utils.GenerateBookingID()
	if _, err := s.Inventory.HoldCart(ctx, cart, bookingID, s.HoldTTL); err != nil {
		s.Logger.LogBooking("START", bookingID, fmt.Sprintf("hold refused: %v", err))
		return nil, err
	}

	b, err := s.price(ctx, bookingID, req, cart, ids, types)
	if err != nil {
		s.releaseHolds(ctx, bookingID)
		return nil, err
	}

	if b.Total.IsZero() {
		tickets := s.mintTickets(b)
		if err := s.DB.CreateConfirmedBooking(ctx, b, tickets, b.CreatedAt); err != nil {
			s.releaseHolds(ctx, bookingID)
			return nil, fmt.Errorf("confirm free booking: %w", err)
		}
		b.Tickets = tickets
		s.transitioned(ctx, b, "free order confirmed")
		return b, nil
	}

	b.Status = models.BookingPendingPayment
	b.HoldExpiresAt = b.CreatedAt.Add(s.HoldTTL)
	if err := s.DB.CreateBooking(ctx, b); err != nil {
		s.releaseHolds(ctx, bookingID)
		return nil, fmt.Errorf("create booking: %w", err)
	}
	if err := s.Redis.MarkHold(ctx, b.ID, s.HoldTTL); err != nil {
		s.Logger.Warn("REDIS", fmt.Sprintf("Failed to set hold marker for %s, sweeper will expire it: %v", b.ID, err))
	}
	s.transitioned(ctx, b, fmt.Sprintf("awaiting payment of %s %s", b.Total.StringFixed(2), b.Currency))
	return b, nil
}

// validateCart drops zero entries and enforces the per-order limit.
func (s *BookingService) validateCart(cart models.CartSelection) (models.CartSelection, error) {
	cleaned := make(models.CartSelection, len(cart))
	total := 0
	for id, qty := range cart {
		if qty < 0 {
			return nil, fmt.Errorf("%w: %s=%d", ErrInvalidQuantity, id, qty)
		}
		if qty == 0 {
			continue
		}
		cleaned[id] = qty
		total += qty
	}
	if len(cleaned) == 0 {
		return nil, models.ErrEmptyCart
	}
	if total > s.MaxTicketsPerOrder {
		return nil, fmt.Errorf("%w: %d requested, at most %d allowed", models.ErrOrderLimitExceeded, total, s.MaxTicketsPerOrder)
	}
	return cleaned, nil
}

func validateAttendees(attendees []models.Attendee, cart models.CartSelection) error {
	perType := make(map[string]int)
	for _, a := range attendees {
		perType[a.TicketTypeID]++
	}
	for id, n := range perType {
		if n > cart[id] {
			return fmt.Errorf("%w: %d attendees for %d tickets of %s", ErrInvalidAttendees, n, cart[id], id)
		}
	}
	return nil
}

// price prices the held cart and builds the unsaved booking. The discount
// percent is looked up server-side against the undiscounted subtotal.
func (s *BookingService) price(ctx context.Context, bookingID string, req StartRequest, cart models.CartSelection, ids []string, types map[string]models.TicketType) (*models.Booking, error) {
	lines := make([]pricing.Line, 0, len(ids))
	items := make([]models.LineItem, 0, len(ids))
	for _, id := range ids {
		tt := types[id]
		lines = append(lines, pricing.Line{TicketTypeID: id, UnitPrice: tt.UnitPrice, Currency: tt.Currency, Quantity: cart[id]})
		items = append(items, models.LineItem{BookingID: bookingID, TicketTypeID: id, Quantity: cart[id], UnitPriceSnapshot: tt.UnitPrice})
	}

	base, err := s.Pricing.Quote(lines, decimal.Zero)
	if err != nil {
		return nil, err
	}

	pct := decimal.Zero
	code := ""
	if req.DiscountCode != "" && s.Discounts != nil {
		pct, err = s.Discounts.Resolve(ctx, req.DiscountCode, req.EventID, base.Subtotal)
		if err != nil {
			return nil, err
		}
		code = discount.Normalize(req.DiscountCode)
	}

	summary := base
	if !pct.IsZero() {
		if summary, err = s.Pricing.Quote(lines, pct); err != nil {
			return nil, err
		}
	}

	now := s.now()
	return &models.Booking{
		ID:              bookingID,
		EventID:         req.EventID,
		BuyerEmail:      req.Buyer.Email,
		BuyerPhone:      req.Buyer.Phone,
		Status:          models.BookingDraft,
		DiscountCode:    code,
		DiscountPercent: pct,
		Currency:        summary.Currency,
		Subtotal:        summary.Subtotal,
		Fees:            summary.Fees,
		DiscountAmount:  summary.DiscountAmount,
		Total:           summary.Total,
		CreatedAt:       now,
		UpdatedAt:       now,
		LineItems:       items,
		Attendees:       req.Attendees,
	}, nil
}

// mintTickets builds one ticket per purchased unit. Named attendees are
// assigned in order per ticket type; remaining tickets go to the buyer.
func (s *BookingService) mintTickets(b *models.Booking) []models.Ticket {
	byType := make(map[string][]models.Attendee)
	for _, a := range b.Attendees {
		byType[a.TicketTypeID] = append(byType[a.TicketTypeID], a)
	}

	now := s.now()
	tickets := make([]models.Ticket, 0, b.Quantity())
	for _, li := range b.LineItems {
		named := byType[li.TicketTypeID]
		for i := 0; i < li.Quantity; i++ {
			t := models.Ticket{
				ID:               utils.GenerateUUID(),
				BookingID:        b.ID,
				EventID:          b.EventID,
				TicketTypeID:     li.TicketTypeID,
				AttendeeEmail:    b.BuyerEmail,
				VerificationCode: utils.GenerateVerificationCode(),
				IssuedAt:         now,
			}
			if i < len(named) {
				t.AttendeeName = named[i].Name
				if named[i].Email != "" {
					t.AttendeeEmail = named[i].Email
				}
			}
			tickets = append(tickets, t)
		}
	}
	return tickets
}

func (s *BookingService) releaseHolds(ctx context.Context, bookingID string) {
	if _, err := s.Inventory.ReleaseForBooking(ctx, bookingID); err != nil {
		s.Logger.Error("BOOKING", fmt.Sprintf("Failed to release holds of %s, sweeper will reclaim them: %v", bookingID, err))
	}
}

// transitioned records a status change: metric, log line and Kafka event.
// Publish failures never fail the transition.
func (s *BookingService) transitioned(ctx context.Context, b *models.Booking, detail string) {
	metrics.BookingTransitions.WithLabelValues(string(b.Status)).Inc()
	s.Logger.LogBooking(string(b.Status), b.ID, detail)

	ev := models.NewBookingEvent(bookingkafka.EventTypeFor(b.Status), *b, s.now())
	if err := s.Kafka.PublishBookingEvent(ctx, ev); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Kafka publish error (%s %s): %v", ev.Type, b.ID, err))
	}
}

// Get returns a booking with its line items and tickets.
func (s *BookingService) Get(ctx context.Context, id string) (*models.Booking, error) {
	return s.DB.GetBookingByID(ctx, id)
}
