package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"

	"github.com/google/uuid"
)

// Store is the persistence the ledger needs. inventory/db.DB implements it.
type Store interface {
	CreateTicketType(ctx context.Context, tt *models.TicketType) error
	GetTicketType(ctx context.Context, id string) (*models.TicketType, error)
	GetTicketTypes(ctx context.Context, ids []string) ([]models.TicketType, error)
	ListTicketTypesByEvent(ctx context.Context, eventID string) ([]models.TicketType, error)
	SetOnSale(ctx context.Context, id string, onSale bool) error

	ReserveHold(ctx context.Context, hold *models.InventoryHold) error
	HoldsForBooking(ctx context.Context, bookingID string) ([]models.InventoryHold, error)
	CommitHold(ctx context.Context, token string, now time.Time) (*models.InventoryHold, error)
	ReleaseHold(ctx context.Context, token string) (bool, error)
	ExpiredHolds(ctx context.Context, now time.Time, ticketTypeID string) ([]models.InventoryHold, error)
}

type Ledger struct {
	DB     Store
	Logger *logger.Logger
	now    func() time.Time
}

type Option func(*Ledger)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(store Store, log *logger.Logger, opts ...Option) *Ledger {
	l := &Ledger{DB: store, Logger: log, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Hold reserves quantity units of a ticket type for bookingID until now+ttl
// and returns the hold token.
func (l *Ledger) Hold(ctx context.Context, ticketTypeID string, quantity int, bookingID string, ttl time.Duration) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("hold quantity must be positive, got %d", quantity)
	}

	now := l.now()
	hold := &models.InventoryHold{
		ID:           uuid.New().String(),
		TicketTypeID: ticketTypeID,
		BookingID:    bookingID,
		Quantity:     quantity,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}

	err := l.DB.ReserveHold(ctx, hold)
	if errors.Is(err, models.ErrInsufficientInventory) {
		// Lapsed holds still count against quantity_held until swept. Free
		// this type's and try once more before refusing.
		if n := l.sweepType(ctx, ticketTypeID, now); n > 0 {
			err = l.DB.ReserveHold(ctx, hold)
		}
	}

	switch {
	case err == nil:
		metrics.InventoryHolds.WithLabelValues("granted").Inc()
		l.Logger.Debug("INVENTORY", fmt.Sprintf("Hold %s: %d x %s for booking %s until %s",
			hold.ID, quantity, ticketTypeID, bookingID, hold.ExpiresAt.Format(time.RFC3339)))
		return hold.ID, nil
	case errors.Is(err, models.ErrInsufficientInventory):
		metrics.InventoryHolds.WithLabelValues("insufficient").Inc()
	case errors.Is(err, models.ErrTicketTypeNotFound), errors.Is(err, models.ErrTicketTypeOffSale):
		metrics.InventoryHolds.WithLabelValues("rejected").Inc()
	default:
		metrics.InventoryHolds.WithLabelValues("error").Inc()
		l.Logger.Error("INVENTORY", fmt.Sprintf("Hold on %s failed: %v", ticketTypeID, err))
	}
	return "", err
}

// HoldCart takes one hold per non-zero cart entry, in ticket type id order.
// It is all-or-nothing: on any failure the holds already taken are released
// before the error is returned.
func (l *Ledger) HoldCart(ctx context.Context, cart models.CartSelection, bookingID string, ttl time.Duration) ([]string, error) {
	tokens := make([]string, 0, len(cart))
	for _, id := range SortedIDs(cart) {
		qty := cart[id]
		if qty == 0 {
			continue
		}
		token, err := l.Hold(ctx, id, qty, bookingID, ttl)
		if err != nil {
			l.releaseAll(ctx, tokens)
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func (l *Ledger) releaseAll(ctx context.Context, tokens []string) {
	for _, token := range tokens {
		if err := l.Release(ctx, token); err != nil {
			l.Logger.Error("INVENTORY", fmt.Sprintf("Rollback release of hold %s failed: %v", token, err))
		}
	}
}

// Commit turns a hold into a permanent sale. Missing and lapsed holds fail
// with ErrHoldNotFound.
func (l *Ledger) Commit(ctx context.Context, token string) error {
	hold, err := l.DB.CommitHold(ctx, token, l.now())
	if err != nil {
		return err
	}
	l.Logger.Debug("INVENTORY", fmt.Sprintf("Committed hold %s: %d x %s", hold.ID, hold.Quantity, hold.TicketTypeID))
	return nil
}

// Release returns a hold to the pool. Releasing an unknown hold is a no-op.
func (l *Ledger) Release(ctx context.Context, token string) error {
	released, err := l.DB.ReleaseHold(ctx, token)
	if err != nil {
		return err
	}
	if released {
		l.Logger.Debug("INVENTORY", fmt.Sprintf("Released hold %s", token))
	}
	return nil
}

// ReleaseForBooking releases every hold belonging to a booking and reports
// how many were released.
func (l *Ledger) ReleaseForBooking(ctx context.Context, bookingID string) (int, error) {
	holds, err := l.DB.HoldsForBooking(ctx, bookingID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, h := range holds {
		released, err := l.DB.ReleaseHold(ctx, h.ID)
		if err != nil {
			return n, err
		}
		if released {
			n++
		}
	}
	return n, nil
}

// ExpireStale releases every hold whose expiry has passed and returns them.
func (l *Ledger) ExpireStale(ctx context.Context) ([]models.InventoryHold, error) {
	now := l.now()
	holds, err := l.DB.ExpiredHolds(ctx, now, "")
	if err != nil {
		return nil, err
	}

	released := make([]models.InventoryHold, 0, len(holds))
	for _, h := range holds {
		ok, err := l.DB.ReleaseHold(ctx, h.ID)
		if err != nil {
			return released, err
		}
		if ok {
			released = append(released, h)
		}
	}

	if len(released) > 0 {
		metrics.HoldsExpired.Add(float64(len(released)))
		l.Logger.Info("INVENTORY", fmt.Sprintf("Expired %d stale holds", len(released)))
	}
	return released, nil
}

func (l *Ledger) sweepType(ctx context.Context, ticketTypeID string, now time.Time) int {
	holds, err := l.DB.ExpiredHolds(ctx, now, ticketTypeID)
	if err != nil {
		l.Logger.Warn("INVENTORY", fmt.Sprintf("Could not list lapsed holds for %s: %v", ticketTypeID, err))
		return 0
	}
	n := 0
	for _, h := range holds {
		if ok, err := l.DB.ReleaseHold(ctx, h.ID); err == nil && ok {
			n++
		}
	}
	if n > 0 {
		metrics.HoldsExpired.Add(float64(n))
	}
	return n
}

// Available returns a snapshot of a ticket type's counters.
func (l *Ledger) Available(ctx context.Context, ticketTypeID string) (models.Availability, error) {
	tt, err := l.DB.GetTicketType(ctx, ticketTypeID)
	if err != nil {
		return models.Availability{}, err
	}
	return models.Availability{
		TicketTypeID: tt.ID,
		Total:        tt.TotalQuantity,
		Sold:         tt.QuantitySold,
		Held:         tt.QuantityHeld,
		Remaining:    tt.Remaining(),
		OnSale:       tt.OnSale,
	}, nil
}

// TicketTypes loads the given types keyed by id. Any unknown id fails with
// ErrTicketTypeNotFound.
func (l *Ledger) TicketTypes(ctx context.Context, ids []string) (map[string]models.TicketType, error) {
	types, err := l.DB.GetTicketTypes(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.TicketType, len(types))
	for _, tt := range types {
		byID[tt.ID] = tt
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrTicketTypeNotFound, id)
		}
	}
	return byID, nil
}

func (l *Ledger) EventTicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error) {
	return l.DB.ListTicketTypesByEvent(ctx, eventID)
}

func (l *Ledger) CreateTicketType(ctx context.Context, req models.CreateTicketTypeRequest) (*models.TicketType, error) {
	if req.UnitPrice.IsNegative() {
		return nil, errors.New("unit price must not be negative")
	}
	onSale := true
	if req.OnSale != nil {
		onSale = *req.OnSale
	}
	tt := &models.TicketType{
		ID:            uuid.New().String(),
		EventID:       req.EventID,
		Name:          req.Name,
		Description:   req.Description,
		UnitPrice:     req.UnitPrice.Round(4),
		Currency:      strings.ToUpper(req.Currency),
		TotalQuantity: req.TotalQuantity,
		OnSale:        onSale,
		CreatedAt:     l.now(),
	}
	if err := l.DB.CreateTicketType(ctx, tt); err != nil {
		return nil, err
	}
	l.Logger.Info("INVENTORY", fmt.Sprintf("Created ticket type %s (%s) for event %s", tt.ID, tt.Name, tt.EventID))
	return tt, nil
}

// SetOnSale soft-enables or soft-disables a ticket type. Types are never
// deleted.
func (l *Ledger) SetOnSale(ctx context.Context, ticketTypeID string, onSale bool) error {
	if err := l.DB.SetOnSale(ctx, ticketTypeID, onSale); err != nil {
		return err
	}
	l.Logger.Info("INVENTORY", fmt.Sprintf("Ticket type %s on_sale=%t", ticketTypeID, onSale))
	return nil
}

// SortedIDs returns the cart's ticket type ids in lock order.
func SortedIDs(cart models.CartSelection) []string {
	ids := make([]string, 0, len(cart))
	for id := range cart {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
