package booking

import (
	"context"
	"errors"
	"fmt"

	bookingredis "ms-booking/internal/booking/redis"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"
	"ms-booking/internal/payment"
)

// ---------------- PAYMENT ----------------

// RequestPayment opens a payment session for a pending booking. Repeated
// calls with the same method return the stored session.
func (s *BookingService) RequestPayment(ctx context.Context, bookingID string, method models.PaymentMethod) (*models.PaymentSessionResponse, error) {
	gateway, err := s.Payments.Get(method)
	if err != nil {
		return nil, err
	}

	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingPendingPayment {
		return nil, &models.InvalidTransitionError{BookingID: b.ID, From: b.Status, To: models.BookingPendingPayment}
	}
	if reused := sessionFor(b, method); reused != nil {
		metrics.PaymentSessions.WithLabelValues(string(method), "reused").Inc()
		return reused, nil
	}

	token, err := s.Redis.LockPayment(ctx, bookingID)
	switch {
	case errors.Is(err, bookingredis.ErrLockHeld):
		return nil, ErrPaymentInProgress
	case err != nil:
		s.Logger.Warn("REDIS", fmt.Sprintf("Payment lock unavailable for %s, continuing unlocked: %v", bookingID, err))
	default:
		defer func() {
			if err := s.Redis.UnlockPayment(context.WithoutCancel(ctx), bookingID, token); err != nil {
				s.Logger.Warn("REDIS", fmt.Sprintf("Failed to release payment lock for %s: %v", bookingID, err))
			}
		}()
	}

	// a concurrent request may have stored a session before we got the lock
	if b, err = s.DB.GetBookingByID(ctx, bookingID); err != nil {
		return nil, err
	}
	if b.Status != models.BookingPendingPayment {
		return nil, &models.InvalidTransitionError{BookingID: b.ID, From: b.Status, To: models.BookingPendingPayment}
	}
	if reused := sessionFor(b, method); reused != nil {
		metrics.PaymentSessions.WithLabelValues(string(method), "reused").Inc()
		return reused, nil
	}
	if s.now().After(b.HoldExpiresAt) {
		if _, err := s.Expire(ctx, b.ID); err != nil && !errors.Is(err, models.ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: hold of booking %s lapsed before payment", models.ErrHoldNotFound, b.ID)
	}

	sess, err := gateway.CreateSession(ctx, payment.SessionRequest{
		BookingID:   b.ID,
		EventID:     b.EventID,
		BuyerEmail:  b.BuyerEmail,
		Amount:      b.Total,
		Currency:    b.Currency,
		Description: fmt.Sprintf("Booking %s (%d tickets)", b.ID, b.Quantity()),
	})
	if err != nil {
		metrics.PaymentSessions.WithLabelValues(string(method), "failed").Inc()
		s.Logger.Error("PAYMENT", fmt.Sprintf("Failed to create %s session for %s: %v", method, b.ID, err))
		return nil, fmt.Errorf("%w: %v", models.ErrPaymentAdapterUnavailable, err)
	}

	if err := s.DB.SetPaymentSession(ctx, b.ID, method, sess.Ref, sess.RedirectURL, s.now()); err != nil {
		return nil, err
	}
	metrics.PaymentSessions.WithLabelValues(string(method), "created").Inc()
	s.Logger.LogBooking("PAYMENT", b.ID, fmt.Sprintf("%s session %s created", method, sess.Ref))

	return &models.PaymentSessionResponse{
		BookingID:   b.ID,
		Method:      method,
		SessionRef:  sess.Ref,
		RedirectURL: sess.RedirectURL,
		ClientToken: sess.ClientToken,
	}, nil
}

func sessionFor(b *models.Booking, method models.PaymentMethod) *models.PaymentSessionResponse {
	if b.PaymentSessionRef == "" || b.PaymentMethod != method {
		return nil
	}
	return &models.PaymentSessionResponse{
		BookingID:   b.ID,
		Method:      b.PaymentMethod,
		SessionRef:  b.PaymentSessionRef,
		RedirectURL: b.PaymentRedirectURL,
	}
}

// PollPayment asks the provider for the status of the stored session and
// applies it.
func (s *BookingService) PollPayment(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return b, nil
	}
	if b.PaymentSessionRef == "" {
		return nil, models.ErrNoPaymentSession
	}

	gateway, err := s.Payments.Get(b.PaymentMethod)
	if err != nil {
		return nil, err
	}
	outcome, err := gateway.PollStatus(ctx, b.PaymentSessionRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPaymentAdapterUnavailable, err)
	}
	return s.OnPaymentResult(ctx, bookingID, outcome)
}

// OnSessionResult applies a provider notification. The booking is found by
// session ref when the notification does not name it.
func (s *BookingService) OnSessionResult(ctx context.Context, bookingID, sessionRef string, outcome models.PaymentOutcome) (*models.Booking, error) {
	if bookingID == "" {
		id, err := s.DB.FindBySessionRef(ctx, sessionRef)
		if err != nil {
			return nil, err
		}
		bookingID = id
	}
	return s.OnPaymentResult(ctx, bookingID, outcome)
}

// ReportPayment applies an outcome posted by the buyer or desk staff. For
// providers that keep their own record a reported Success is checked with
// the provider first, and the provider's answer is applied instead.
func (s *BookingService) ReportPayment(ctx context.Context, bookingID string, outcome models.PaymentOutcome) (*models.Booking, error) {
	if outcome == models.PaymentFailure {
		// the provider never saw this failure, so its session is still open
		b, err := s.OnPaymentResult(ctx, bookingID, outcome)
		if err != nil {
			return nil, err
		}
		s.closeSession(ctx, b)
		return b, nil
	}
	if outcome != models.PaymentSuccess {
		return s.OnPaymentResult(ctx, bookingID, outcome)
	}

	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return s.OnPaymentResult(ctx, bookingID, outcome)
	}
	if b.PaymentSessionRef == "" {
		return nil, models.ErrNoPaymentSession
	}

	gateway, err := s.Payments.Get(b.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if payment.TakesReportedOutcome(gateway) {
		return s.OnPaymentResult(ctx, bookingID, outcome)
	}

	verified, err := gateway.Verify(ctx, b.PaymentSessionRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPaymentAdapterUnavailable, err)
	}
	if verified != models.PaymentSuccess {
		s.Logger.Warn("PAYMENT", fmt.Sprintf("Reported success for %s, %s says %s", bookingID, b.PaymentMethod, verified))
	}
	return s.OnPaymentResult(ctx, bookingID, verified)
}

// OnPaymentResult applies a payment outcome. Terminal bookings are never
// mutated; a duplicate Success or Failure returns InvalidTransition.
func (s *BookingService) OnPaymentResult(ctx context.Context, bookingID string, outcome models.PaymentOutcome) (*models.Booking, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	b, err := s.DB.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case models.PaymentPending:
		s.Logger.Debug("BOOKING", fmt.Sprintf("Payment for %s still pending", bookingID))
		return b, nil
	case models.PaymentFailure:
		return s.close(ctx, bookingID, models.BookingCancelled, "payment failed")
	}

	return s.confirm(ctx, b)
}

func (s *BookingService) confirm(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	if b.Status != models.BookingPendingPayment {
		return nil, &models.InvalidTransitionError{BookingID: b.ID, From: b.Status, To: models.BookingConfirmed}
	}

	now := s.now()
	tickets := s.mintTickets(b)
	err := s.DB.ConfirmBooking(ctx, b, tickets, now)
	if errors.Is(err, models.ErrHoldNotFound) {
		s.Logger.Warn("BOOKING", fmt.Sprintf("Payment for %s arrived after its holds lapsed", b.ID))
		if _, cerr := s.close(ctx, b.ID, models.BookingExpired, "payment arrived after hold expired"); cerr != nil && !errors.Is(cerr, models.ErrInvalidTransition) {
			s.Logger.Error("BOOKING", fmt.Sprintf("Failed to expire %s: %v", b.ID, cerr))
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	b.Status = models.BookingConfirmed
	b.ConfirmedAt = &now
	b.UpdatedAt = now
	b.Tickets = tickets
	if err := s.Redis.ClearHold(ctx, b.ID); err != nil {
		s.Logger.Warn("REDIS", fmt.Sprintf("Failed to clear hold marker for %s: %v", b.ID, err))
	}
	s.transitioned(ctx, b, fmt.Sprintf("%d tickets issued", len(tickets)))
	return b, nil
}
