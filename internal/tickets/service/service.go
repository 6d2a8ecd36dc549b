package tickets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"
	"ms-booking/internal/tickets/db"
	"ms-booking/internal/tickets/qr"
)

const recentPageSize = 50

type TicketDBLayer interface {
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketByCode(ctx context.Context, eventID, code string) (*models.Ticket, error)
	ListTicketsByBooking(ctx context.Context, bookingID string) ([]models.Ticket, error)
	CheckIn(ctx context.Context, id string, now time.Time) (*models.Ticket, error)
	CountTickets(ctx context.Context, eventID string) (total int, checkedIn int, err error)
	RecentCheckIns(ctx context.Context, eventID string, after *db.Cursor, limit int) ([]models.Ticket, error)
}

// CheckInPublisher announces admissions: to Kafka when a broker is
// configured, otherwise straight to the local SSE emitter.
type CheckInPublisher interface {
	PublishCheckIn(ctx context.Context, ev models.TicketCheckedInEvent) error
}

type TicketService struct {
	DB        TicketDBLayer
	QR        *qr.QRGenerator
	Publisher CheckInPublisher
	Logger    *logger.Logger

	now func() time.Time
}

type Option func(*TicketService)

func WithClock(now func() time.Time) Option {
	return func(s *TicketService) { s.now = now }
}

func NewTicketService(db TicketDBLayer, qrGen *qr.QRGenerator, pub CheckInPublisher, log *logger.Logger, opts ...Option) *TicketService {
	s := &TicketService{DB: db, QR: qrGen, Publisher: pub, Logger: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// scannedPayload is the JSON form a scanner may hand over instead of a bare
// code.
type scannedPayload struct {
	EventID  string `json:"event_id"`
	TicketID string `json:"ticket_id"`
	Code     string `json:"code"`
}

// Verify resolves a scanned value for eventID to its ticket. The value may be
// a bare verification code, a JSON payload or an encrypted QR payload.
func (s *TicketService) Verify(ctx context.Context, eventID, scanned string) (*models.VerifyTicketResponse, error) {
	code, err := s.resolveCode(eventID, strings.TrimSpace(scanned))
	if err != nil {
		return nil, err
	}

	ticket, err := s.DB.GetTicketByCode(ctx, eventID, code)
	if upper := strings.ToUpper(code); errors.Is(err, models.ErrTicketNotFound) && upper != code {
		// issued codes are upper-case; staff may type them in any case
		ticket, err = s.DB.GetTicketByCode(ctx, eventID, upper)
	}
	if errors.Is(err, models.ErrTicketNotFound) && s.QR != nil {
		// not a known code; it may be an encrypted payload
		if p, qerr := s.QR.Decode(code); qerr == nil && p.EventID == eventID {
			ticket, err = s.DB.GetTicketByCode(ctx, eventID, p.Code)
		}
	}
	if err != nil {
		if errors.Is(err, models.ErrTicketNotFound) {
			s.Logger.LogCheckIn("VERIFY", "-", fmt.Sprintf("unknown code for event %s", eventID))
		}
		return nil, err
	}

	return &models.VerifyTicketResponse{
		Ticket:      *ticket,
		IsCheckedIn: ticket.IsCheckedIn,
		CheckInTime: ticket.CheckInTime,
	}, nil
}

func (s *TicketService) resolveCode(eventID, scanned string) (string, error) {
	if scanned == "" {
		return "", models.ErrTicketNotFound
	}
	if !strings.HasPrefix(scanned, "{") {
		return scanned, nil
	}

	var p scannedPayload
	if err := json.Unmarshal([]byte(scanned), &p); err != nil || p.Code == "" {
		return "", fmt.Errorf("%w: unreadable payload", models.ErrTicketNotFound)
	}
	if p.EventID != "" && p.EventID != eventID {
		return "", fmt.Errorf("%w: ticket belongs to another event", models.ErrTicketNotFound)
	}
	return strings.TrimSpace(p.Code), nil
}

// CheckIn admits a ticket. A second scan fails with AlreadyCheckedInError
// carrying the first admission time.
func (s *TicketService) CheckIn(ctx context.Context, ticketID string) (*models.Ticket, error) {
	ticket, err := s.DB.CheckIn(ctx, ticketID, s.now())
	if err != nil {
		var already *models.AlreadyCheckedInError
		switch {
		case errors.As(err, &already):
			metrics.CheckIns.WithLabelValues("duplicate").Inc()
			s.Logger.LogCheckIn("DUPLICATE", ticketID, fmt.Sprintf("already admitted at %s", already.CheckedInAt.UTC().Format(time.RFC3339)))
		case errors.Is(err, models.ErrTicketNotFound):
			metrics.CheckIns.WithLabelValues("not_found").Inc()
		default:
			metrics.CheckIns.WithLabelValues("error").Inc()
			s.Logger.Error("CHECKIN", fmt.Sprintf("Check-in of %s failed: %v", ticketID, err))
		}
		return nil, err
	}

	metrics.CheckIns.WithLabelValues("admitted").Inc()
	s.Logger.LogCheckIn("ADMITTED", ticket.ID, fmt.Sprintf("event %s", ticket.EventID))

	if s.Publisher != nil {
		ev := models.TicketCheckedInEvent{
			TicketID:     ticket.ID,
			BookingID:    ticket.BookingID,
			EventID:      ticket.EventID,
			TicketTypeID: ticket.TicketTypeID,
			CheckedInAt:  *ticket.CheckInTime,
		}
		if err := s.Publisher.PublishCheckIn(ctx, ev); err != nil {
			s.Logger.Error("CHECKIN", fmt.Sprintf("Failed to announce check-in of %s: %v", ticket.ID, err))
		}
	}
	return ticket, nil
}

// Admit verifies a scanned value and checks the ticket in.
func (s *TicketService) Admit(ctx context.Context, eventID, scanned string) (*models.Ticket, error) {
	v, err := s.Verify(ctx, eventID, scanned)
	if err != nil {
		return nil, err
	}
	return s.CheckIn(ctx, v.Ticket.ID)
}

// RecentCheckIns yields up to limit checked-in tickets of eventID, newest
// first. Pages are fetched lazily and every range starts from the top.
func (s *TicketService) RecentCheckIns(ctx context.Context, eventID string, limit int) iter.Seq2[models.Ticket, error] {
	return func(yield func(models.Ticket, error) bool) {
		var cursor *db.Cursor
		remaining := limit
		for remaining > 0 {
			size := min(remaining, recentPageSize)
			page, err := s.DB.RecentCheckIns(ctx, eventID, cursor, size)
			if err != nil {
				yield(models.Ticket{}, err)
				return
			}
			for _, t := range page {
				if !yield(t, nil) {
					return
				}
			}
			if len(page) < size {
				return
			}
			remaining -= len(page)
			last := page[len(page)-1]
			cursor = &db.Cursor{CheckInTime: *last.CheckInTime, TicketID: last.ID}
		}
	}
}

// Stats counts admissions for an event from the ticket rows themselves.
func (s *TicketService) Stats(ctx context.Context, eventID string) (models.CheckInStats, error) {
	total, checkedIn, err := s.DB.CountTickets(ctx, eventID)
	if err != nil {
		return models.CheckInStats{}, fmt.Errorf("count tickets for %s: %w", eventID, err)
	}
	return models.CheckInStats{
		EventID:   eventID,
		Total:     total,
		CheckedIn: checkedIn,
		Remaining: total - checkedIn,
	}, nil
}

func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.DB.GetTicketByID(ctx, ticketID)
}

func (s *TicketService) TicketsForBooking(ctx context.Context, bookingID string) ([]models.Ticket, error) {
	tickets, err := s.DB.ListTicketsByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets for booking %s: %w", bookingID, err)
	}
	return tickets, nil
}

// QRCode renders the ticket's encrypted payload as a PNG.
func (s *TicketService) QRCode(ctx context.Context, ticketID string) ([]byte, error) {
	ticket, err := s.DB.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	png, err := s.QR.PNG(*ticket)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR: %w", err)
	}
	return png, nil
}
