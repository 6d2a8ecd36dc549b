package ticket_api

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

type TicketService interface {
	Verify(ctx context.Context, eventID, scanned string) (*models.VerifyTicketResponse, error)
	CheckIn(ctx context.Context, ticketID string) (*models.Ticket, error)
	Admit(ctx context.Context, eventID, scanned string) (*models.Ticket, error)
	Stats(ctx context.Context, eventID string) (models.CheckInStats, error)
	RecentCheckIns(ctx context.Context, eventID string, limit int) iter.Seq2[models.Ticket, error]
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
	TicketsForBooking(ctx context.Context, bookingID string) ([]models.Ticket, error)
	QRCode(ctx context.Context, ticketID string) ([]byte, error)
}

// CheckInSubscriber hands out live check-in feeds per event.
type CheckInSubscriber interface {
	Subscribe(ctx context.Context, eventID string) <-chan models.TicketCheckedInEvent
}

type Handler struct {
	TicketService TicketService
	CheckIns      CheckInSubscriber
	Logger        *logger.Logger
}

func NewHandler(ticketService TicketService, checkIns CheckInSubscriber, log *logger.Logger) *Handler {
	return &Handler{
		TicketService: ticketService,
		CheckIns:      checkIns,
		Logger:        log,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/tickets", func(r chi.Router) {
		r.Get("/", h.ListTicketsByBooking)
		r.Post("/verify", h.VerifyTicket)
		r.Get("/{ticketID}", h.ViewTicket)
		r.Get("/{ticketID}/qr", h.TicketQR)
		r.Post("/{ticketID}/check-in", h.CheckinTicket)
	})
	r.Get("/events/{eventID}/check-in-stats", h.CheckInStats)
	r.Get("/events/{eventID}/check-ins", h.RecentCheckIns)
	r.Get("/events/{eventID}/check-ins/stream", h.StreamCheckIns)
	r.Post("/events/{eventID}/admit", h.AdmitTicket)
}

// alreadyCheckedIn answers 409 with the first admission time so door staff
// can see when the ticket was used.
func alreadyCheckedIn(w http.ResponseWriter, err *models.AlreadyCheckedInError) {
	resp := utils.ErrorResponse("Ticket already checked in", err.Error())
	resp.Data = map[string]interface{}{
		"ticket_id":     err.TicketID,
		"checked_in_at": err.CheckedInAt,
	}
	utils.WriteJSON(w, http.StatusConflict, resp)
}

func (h *Handler) fail(w http.ResponseWriter, op, message string, err error) {
	var already *models.AlreadyCheckedInError
	if errors.As(err, &already) {
		alreadyCheckedIn(w, already)
		return
	}
	status := utils.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteError(w, status, message, err)
}

func (h *Handler) VerifyTicket(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyTicketRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid verify request", err)
		return
	}

	res, err := h.TicketService.Verify(r.Context(), req.EventID, req.Code)
	if err != nil {
		h.fail(w, "VerifyTicket", "Ticket not valid for this event", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket verified", res)
}

func (h *Handler) CheckinTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.TicketService.CheckIn(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.fail(w, "CheckinTicket", "Check-in refused", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket checked in", ticket)
}

// AdmitTicket verifies a scanned code at the door and checks it in.
func (h *Handler) AdmitTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code" validate:"required"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid admit request", err)
		return
	}

	ticket, err := h.TicketService.Admit(r.Context(), chi.URLParam(r, "eventID"), req.Code)
	if err != nil {
		h.fail(w, "AdmitTicket", "Admission refused", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket checked in", ticket)
}

func (h *Handler) ViewTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.TicketService.GetTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.fail(w, "ViewTicket", "Could not fetch ticket", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket fetched", ticket)
}

func (h *Handler) ListTicketsByBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := r.URL.Query().Get("booking_id")
	if bookingID == "" {
		utils.WriteError(w, http.StatusBadRequest, "booking_id is required", errors.New("missing booking_id"))
		return
	}

	tickets, err := h.TicketService.TicketsForBooking(r.Context(), bookingID)
	if err != nil {
		h.fail(w, "ListTicketsByBooking", "Could not list tickets", err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	utils.WriteSuccess(w, http.StatusOK, "Tickets fetched", tickets)
}

func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.TicketService.QRCode(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.fail(w, "TicketQR", "Could not render QR code", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) CheckInStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.TicketService.Stats(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		h.fail(w, "CheckInStats", "Could not count check-ins", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Check-in stats", stats)
}

func (h *Handler) RecentCheckIns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.WriteError(w, http.StatusBadRequest, "Invalid limit", fmt.Errorf("limit must be a positive integer, got %q", raw))
			return
		}
		limit = min(n, maxRecentLimit)
	}

	recent := make([]models.Ticket, 0, limit)
	for t, err := range h.TicketService.RecentCheckIns(r.Context(), chi.URLParam(r, "eventID"), limit) {
		if err != nil {
			h.fail(w, "RecentCheckIns", "Could not list check-ins", err)
			return
		}
		recent = append(recent, t)
	}
	utils.WriteSuccess(w, http.StatusOK, "Recent check-ins", recent)
}
