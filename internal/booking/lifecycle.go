package booking

import (
	"context"
	"errors"
	"fmt"

	"ms-booking/internal/models"
	"ms-booking/internal/payment"
)

const overdueBatch = 100

// Cancel closes a draft or pending booking and returns its inventory.
func (s *BookingService) Cancel(ctx context.Context, bookingID, reason string) (*models.Booking, error) {
	if reason == "" {
		reason = "cancelled by buyer"
	}
	b, err := s.close(ctx, bookingID, models.BookingCancelled, reason)
	if err != nil {
		return nil, err
	}
	s.closeSession(ctx, b)
	return b, nil
}

// Expire closes a pending booking whose hold lapsed.
func (s *BookingService) Expire(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.close(ctx, bookingID, models.BookingExpired, "hold expired")
	if err != nil {
		return nil, err
	}
	s.closeSession(ctx, b)
	return b, nil
}

// closeSession stops an open provider session of a closed booking from
// taking money.
func (s *BookingService) closeSession(ctx context.Context, b *models.Booking) {
	if b.PaymentSessionRef == "" {
		return
	}
	gateway, err := s.Payments.Get(b.PaymentMethod)
	if err != nil {
		return
	}
	canceler, ok := gateway.(payment.SessionCanceler)
	if !ok {
		return
	}
	if err := canceler.CancelSession(ctx, b.PaymentSessionRef); err != nil {
		s.Logger.Warn("PAYMENT", fmt.Sprintf("Failed to close %s session %s of booking %s: %v", b.PaymentMethod, b.PaymentSessionRef, b.ID, err))
	}
}

func (s *BookingService) close(ctx context.Context, bookingID string, to models.BookingStatus, reason string) (*models.Booking, error) {
	released, err := s.DB.CloseBooking(ctx, bookingID, to, reason, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.Redis.ClearHold(ctx, bookingID); err != nil {
		s.Logger.Warn("REDIS", fmt.Sprintf("Failed to clear hold marker for %s: %v", bookingID, err))
	}

	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	units := 0
	for _, h := range released {
		units += h.Quantity
	}
	s.transitioned(ctx, b, fmt.Sprintf("%s, %d units returned", reason, units))
	return b, nil
}

// OnHoldMarkerExpired is the Redis expiry callback. Bookings that already
// left PendingPayment are ignored.
func (s *BookingService) OnHoldMarkerExpired(ctx context.Context, bookingID string) {
	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		if !errors.Is(err, models.ErrBookingNotFound) {
			s.Logger.Error("BOOKING", fmt.Sprintf("Failed to load expiring booking %s: %v", bookingID, err))
		}
		return
	}
	if b.Status != models.BookingPendingPayment {
		return
	}
	if _, err := s.Expire(ctx, bookingID); err != nil && !errors.Is(err, models.ErrInvalidTransition) {
		s.Logger.Error("BOOKING", fmt.Sprintf("Failed to expire booking %s: %v", bookingID, err))
	}
}

// ExpireOverdue expires every pending booking past its hold deadline and
// returns how many it closed.
func (s *BookingService) ExpireOverdue(ctx context.Context) (int, error) {
	expired := 0
	for {
		ids, err := s.DB.ListOverduePending(ctx, s.now(), overdueBatch)
		if err != nil {
			return expired, fmt.Errorf("list overdue bookings: %w", err)
		}
		progressed := false
		for _, id := range ids {
			if _, err := s.Expire(ctx, id); err != nil {
				if errors.Is(err, models.ErrInvalidTransition) {
					continue
				}
				return expired, err
			}
			expired++
			progressed = true
		}
		if len(ids) < overdueBatch || !progressed {
			return expired, nil
		}
	}
}
